package profile

import (
	"fmt"

	"github.com/Emyrk/profgraph/profile/measure"
)

// TotalMethod selects how inclusive time ratios are computed.
type TotalMethod string

const (
	// CallRatios integrates self time along call ratios. It works for any
	// format but is a heuristic on sampled data.
	CallRatios TotalMethod = "callratios"
	// CallStacks uses the fraction of samples each function appeared in, then
	// attributes it to calls by ratio. It needs formats that record stacks.
	CallStacks TotalMethod = "callstacks"
)

var TotalMethods = []string{string(CallRatios), string(CallStacks)}

func ParseTotalMethod(s string) (TotalMethod, error) {
	switch TotalMethod(s) {
	case CallRatios, CallStacks:
		return TotalMethod(s), nil
	case "":
		return CallRatios, nil
	}
	return "", fmt.Errorf("unknown total method %q", s)
}

// Derive runs the standard pipeline on a freshly ingested profile whose
// functions carry Samples and whose calls carry Samples2. CallStacks also
// needs TotalSamples on every function.
func Derive(p *Profile, method TotalMethod) error {
	p.Validate()
	p.FindCycles()
	if err := p.Normalize(measure.TimeRatio, measure.Samples); err != nil {
		return fmt.Errorf("self time ratio: %w", err)
	}
	if err := p.CallRatios(measure.Samples2); err != nil {
		return fmt.Errorf("call ratios: %w", err)
	}

	switch method {
	case CallRatios, "":
		if err := p.Integrate(measure.TotalTimeRatio, measure.TimeRatio); err != nil {
			return fmt.Errorf("integrate: %w", err)
		}
	case CallStacks:
		samples, err := p.Must(measure.Samples)
		if err != nil {
			return fmt.Errorf("%w: profile: %w", ErrPrecondition, err)
		}
		p.Set(measure.TotalSamples, samples)
		if err := p.Normalize(measure.TotalTimeRatio, measure.TotalSamples); err != nil {
			return fmt.Errorf("total time ratio: %w", err)
		}
		p.propagateTotals()
	default:
		return fmt.Errorf("unknown total method %q", method)
	}
	return nil
}

// propagateTotals attributes each callee's TotalTimeRatio to its calls.
func (p *Profile) propagateTotals() {
	for _, f := range p.Functions() {
		for _, call := range f.Calls() {
			r, ok := call.Ratio()
			if !ok {
				continue
			}
			callee := p.functions[call.CalleeID]
			total, _ := callee.Get(measure.TotalTimeRatio)
			call.Set(measure.TotalTimeRatio, r*total)
		}
	}
}
