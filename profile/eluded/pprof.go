package eluded

import (
	"time"

	"github.com/google/pprof/profile"
)

// PprofConverter turns eluded dumps into pprof profiles, so they can be read
// by the regular pprof tooling.
type PprofConverter struct {
	// MinSelf drops call samples whose self cost is below it. The tick
	// root is always kept.
	MinSelf time.Duration

	fid       uint64
	functions map[string]*profile.Function
	locations map[string]*profile.Location

	protobuf *profile.Profile
}

func NewPprofConverter() *PprofConverter {
	return &PprofConverter{
		functions: make(map[string]*profile.Function),
		locations: make(map[string]*profile.Location),
		protobuf: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "cpu", Unit: "nanoseconds"},
				{Type: "samples", Unit: "count"},
			},
			DefaultSampleType: "cpu",
			PeriodType:        &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		},
	}
}

// Convert adds every tick of the dump and returns the accumulated profile.
// The profile spans from the earliest to the latest tick timestamp.
func (c *PprofConverter) Convert(ticks []Tick) *profile.Profile {
	var start, end int64
	for _, tick := range ticks {
		unixNano := tick.UnixMilli * int64(time.Millisecond)
		if unixNano > 0 && (start == 0 || unixNano < start) {
			start = unixNano
		}
		if unixNano > end {
			end = unixNano
		}
		tick.Key = TickKey
		c.add(tick, nil)
	}
	c.protobuf.TimeNanos = start
	if end > 0 {
		c.protobuf.DurationNanos = end - start
	}
	return c.protobuf
}

// add records one sample per node, its location stack leaf first.
func (c *PprofConverter) add(node Tick, stack []*profile.Location) {
	stack = prepend(c.location(node.Key), stack)
	self := node.SelfCostNano()
	if len(stack) == 1 || self >= c.MinSelf.Nanoseconds() {
		c.protobuf.Sample = append(c.protobuf.Sample, &profile.Sample{
			Location: stack,
			Value:    []int64{self, 1},
		})
	}
	for _, child := range node.Children {
		c.add(child, stack)
	}
}

func (c *PprofConverter) location(name string) *profile.Location {
	if loc, found := c.locations[name]; found {
		return loc
	}

	c.fid++
	fn := &profile.Function{
		ID:         c.fid,
		Name:       name,
		SystemName: name,
		Filename:   "main.js",
		StartLine:  1,
	}
	c.functions[name] = fn
	c.protobuf.Function = append(c.protobuf.Function, fn)

	loc := &profile.Location{
		ID:   c.fid,
		Line: []profile.Line{{Function: fn, Line: fn.StartLine}},
	}
	c.locations[name] = loc
	c.protobuf.Location = append(c.protobuf.Location, loc)
	return loc
}

func prepend[T any](x T, s []T) []T {
	return append([]T{x}, s...)
}
