package profile

import (
	"fmt"

	"github.com/Emyrk/profgraph/profile/measure"
)

// Tolerance is how far outside [0,1] a ratio may drift from rounding before
// it is reported.
const Tolerance = 1.0 / (1 << 23)

// Ratio divides numerator by denominator as a probability. A zero denominator
// yields 1.0: an edge with no competing weight is fully attributed. Results
// are clamped to [0,1]; inRange is false when the raw quotient fell outside
// [-Tolerance, 1+Tolerance].
func Ratio(numerator, denominator float64) (ratio float64, inRange bool) {
	if denominator == 0 {
		return 1.0, true
	}
	ratio = numerator / denominator
	switch {
	case ratio < 0.0:
		return 0.0, ratio >= -Tolerance
	case ratio > 1.0:
		return 1.0, ratio <= 1.0+Tolerance
	}
	return ratio, true
}

// ratio is Ratio with out of range results logged.
func (p *Profile) ratio(numerator, denominator float64) float64 {
	r, ok := Ratio(numerator, denominator)
	if !ok {
		msg := "ratio greater than one"
		if numerator/denominator < 0 {
			msg = "negative ratio"
		}
		p.logger.Warn().
			Float64("numerator", numerator).
			Float64("denominator", denominator).
			Msg(msg)
	}
	return r
}

// CallRatios computes, for every call except self recursion, the fraction of
// the callee's inbound weight that call accounts for. Weight entering a cycle
// from outside is measured against the cycle's total inbound weight rather
// than the callee's.
//
// Ratios must not have been computed yet.
func (p *Profile) CallRatios(weight measure.Kind) error {
	functions := p.Functions()
	for _, f := range functions {
		for _, call := range f.Calls() {
			if call.hasRatio {
				return fmt.Errorf("%w: call ratio from %q to %q already computed", ErrPrecondition, f.ID, call.CalleeID)
			}
		}
	}

	functionTotals := make(map[FunctionID]float64, len(functions))
	cycleTotals := make(map[CycleID]float64, len(p.cycles))

	// Every incoming total must be complete before any ratio is taken.
	for _, f := range functions {
		for _, call := range f.Calls() {
			if call.CalleeID == f.ID {
				continue
			}
			callee, ok := p.functions[call.CalleeID]
			if !ok {
				return fmt.Errorf("%w: call from %q to unknown function %q, run Validate first", ErrPrecondition, f.ID, call.CalleeID)
			}
			w, ok := call.Get(weight)
			if !ok {
				p.logger.Warn().
					Str("function", f.Name).
					Str("callee", callee.Name).
					Stringer("kind", weight).
					Msg("call ratios: no data for call")
				continue
			}
			functionTotals[callee.ID] += w
			if callee.cycle != NoCycle && callee.cycle != f.cycle {
				cycleTotals[callee.cycle] += w
			}
		}
	}

	for _, f := range functions {
		for _, call := range f.Calls() {
			if call.CalleeID == f.ID {
				continue
			}
			callee := p.functions[call.CalleeID]
			w, ok := call.Get(weight)
			if !ok {
				call.SetRatio(0.0)
				continue
			}
			total := functionTotals[callee.ID]
			if callee.cycle != NoCycle && callee.cycle != f.cycle {
				total = cycleTotals[callee.cycle]
			}
			call.SetRatio(p.ratio(w, total))
		}
	}
	return nil
}

// Normalize sets out to in as a fraction of the profile wide value of in, on
// every function and on every call that defines in. The profile's own out is
// set to exactly 1.0.
func (p *Profile) Normalize(out, in measure.Kind) error {
	if p.Has(out) {
		return fmt.Errorf("%w: profile already defines %s", ErrPrecondition, out)
	}
	total, err := p.Must(in)
	if err != nil {
		return fmt.Errorf("%w: profile: %w", ErrPrecondition, err)
	}

	functions := p.Functions()
	for _, f := range functions {
		if f.Has(out) {
			return fmt.Errorf("%w: function %q already defines %s", ErrPrecondition, f.ID, out)
		}
		if !f.Has(in) {
			return fmt.Errorf("%w: function %q: %w", ErrPrecondition, f.ID, &measure.UndefinedError{Kind: in})
		}
		for _, call := range f.Calls() {
			if call.Has(out) {
				return fmt.Errorf("%w: call from %q to %q already defines %s", ErrPrecondition, f.ID, call.CalleeID, out)
			}
		}
	}

	for _, f := range functions {
		v, _ := f.Get(in)
		f.Set(out, p.ratio(v, total))
		for _, call := range f.Calls() {
			if v, ok := call.Get(in); ok {
				call.Set(out, p.ratio(v, total))
			}
		}
	}
	p.Set(out, 1.0)
	return nil
}

// Aggregate sets the profile's value of k to the aggregate over all
// functions. Nothing is set if any function lacks k.
func (p *Profile) Aggregate(k measure.Kind) error {
	total := k.Null()
	for _, f := range p.Functions() {
		v, ok := f.Get(k)
		if !ok {
			return nil
		}
		var err error
		total, err = k.Aggregate(total, v)
		if err != nil {
			return err
		}
	}
	p.Set(k, total)
	return nil
}
