// Package measure defines the closed set of quantities a profile graph can
// carry, and a compact container for the subset defined on any one object.
package measure

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a measured quantity. It is used as a typed key into Values.
type Kind int

const (
	// Calls is the number of times an edge was traversed.
	Calls Kind = iota
	// Samples is the exclusive sample count of a function.
	Samples
	// Samples2 is the sample count attributed to an edge.
	Samples2
	// TotalSamples counts samples where a function was anywhere on the stack.
	// Only populated when totals are derived from call stacks.
	TotalSamples
	// Time is exclusive (self) time.
	Time
	// TimeRatio is exclusive time as a fraction of the profile.
	TimeRatio
	// TotalTime is inclusive time.
	TotalTime
	// TotalTimeRatio is inclusive time as a fraction of the profile.
	TotalTimeRatio

	numKinds
)

// ErrNotAggregatable is returned when aggregating a kind whose values cannot
// be summed, such as inclusive totals that would double count.
var ErrNotAggregatable = errors.New("measure: kind cannot be aggregated")

type aggregator int

const (
	aggAdd aggregator = iota
	aggFail
)

type formatStyle int

const (
	styleTimes formatStyle = iota
	styleTime
	styleTimeParen
	stylePercent
	stylePercentParen
)

type kindInfo struct {
	key   string
	name  string
	null  float64
	agg   aggregator
	style formatStyle
}

var kinds = [numKinds]kindInfo{
	Calls:          {key: "calls", name: "Calls", agg: aggAdd, style: styleTimes},
	Samples:        {key: "samples", name: "Samples", agg: aggAdd, style: styleTimes},
	Samples2:       {key: "call_samples", name: "Samples", agg: aggAdd, style: styleTimes},
	TotalSamples:   {key: "total_samples", name: "Samples", agg: aggAdd, style: styleTimes},
	Time:           {key: "time", name: "Time", agg: aggAdd, style: styleTimeParen},
	TimeRatio:      {key: "time_ratio", name: "Time ratio", agg: aggAdd, style: stylePercentParen},
	TotalTime:      {key: "total_time", name: "Total time", agg: aggFail, style: styleTime},
	TotalTimeRatio: {key: "total_time_ratio", name: "Total time ratio", agg: aggFail, style: stylePercent},
}

// All returns every defined kind in declaration order.
func All() []Kind {
	all := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		all = append(all, k)
	}
	return all
}

func (k Kind) Valid() bool {
	return k >= 0 && k < numKinds
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kinds[k].name
}

// Key is a unique snake_case identifier, suitable for structured output.
// Several kinds share a display name, never a key.
func (k Kind) Key() string {
	return kinds[k].key
}

// Null is the identity value used when aggregating.
func (k Kind) Null() float64 {
	return kinds[k].null
}

// Aggregate combines two values of this kind.
func (k Kind) Aggregate(a, b float64) (float64, error) {
	if kinds[k].agg == aggFail {
		return 0, fmt.Errorf("%w: %s", ErrNotAggregatable, k)
	}
	return a + b, nil
}

// Format renders a value with the default formatter.
func (k Kind) Format(v float64) string {
	return DefaultFormatter.Format(k, v)
}

// UndefinedError is returned when reading a kind that is absent on an object.
type UndefinedError struct {
	Kind Kind
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("unspecified event %s", e.Kind)
}

// Formatter renders measurement values for display.
type Formatter struct {
	// TimeFormat is a printf verb applied to time values.
	TimeFormat string
}

var DefaultFormatter = Formatter{TimeFormat: "%.7g"}

const multiplicationSign = "×"

func (f Formatter) Format(k Kind, v float64) string {
	timeFormat := f.TimeFormat
	if timeFormat == "" {
		timeFormat = DefaultFormatter.TimeFormat
	}
	switch kinds[k].style {
	case styleTimes:
		if v < 0 {
			v = 0
		}
		return fmt.Sprintf("%d%s", uint64(v), multiplicationSign)
	case styleTime:
		return fmt.Sprintf(timeFormat, v)
	case styleTimeParen:
		return "(" + fmt.Sprintf(timeFormat, v) + ")"
	case stylePercent:
		return percentage(v)
	case stylePercentParen:
		return "(" + percentage(v) + ")"
	}
	return fmt.Sprint(v)
}

func percentage(p float64) string {
	return fmt.Sprintf("%.02f%%", p*100.0)
}

// Labels maps the user facing measurement names to kinds.
var Labels = map[string]Kind{
	"self-time":             Time,
	"self-time-percentage":  TimeRatio,
	"total-time":            TotalTime,
	"total-time-percentage": TotalTimeRatio,
}

// DefaultLabels are shown on graph nodes when nothing else is chosen.
var DefaultLabels = []string{"total-time-percentage", "self-time-percentage"}

// LabelNames returns the sorted label names.
func LabelNames() []string {
	names := make([]string, 0, len(Labels))
	for name := range Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseLabels resolves label names into kinds, preserving order.
func ParseLabels(names []string) ([]Kind, error) {
	out := make([]Kind, 0, len(names))
	for _, name := range names {
		k, ok := Labels[name]
		if !ok {
			return nil, fmt.Errorf("unknown measurement %q, expected one of %s", name, strings.Join(LabelNames(), ", "))
		}
		out = append(out, k)
	}
	return out, nil
}
