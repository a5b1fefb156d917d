package profile

import "github.com/Emyrk/profgraph/profile/measure"

// Intern returns the function registered under id, creating it with zero
// Samples and TotalSamples when it does not exist yet.
func (p *Profile) Intern(id FunctionID, name string) (f *Function, created bool) {
	if f, ok := p.functions[id]; ok {
		return f, false
	}
	f = NewFunction(id, name)
	f.Set(measure.Samples, 0)
	f.Set(measure.TotalSamples, 0)
	p.AddFunction(f)
	return f, true
}

// AddStack records value for one observed call stack, given leaf first. The
// leaf gains Samples, every caller to callee step gains Samples2, and each
// distinct function on the stack gains TotalSamples once, so recursion is
// not counted twice.
func (p *Profile) AddStack(stack []*Function, value float64) {
	if len(stack) == 0 {
		return
	}
	p.Add(measure.Samples, value)
	stack[0].Add(measure.Samples, value)

	callee := stack[0]
	for _, caller := range stack[1:] {
		caller.GetOrAddCall(callee.ID).Add(measure.Samples2, value)
		callee = caller
	}

	seen := make(map[FunctionID]struct{}, len(stack))
	for _, f := range stack {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		f.Add(measure.TotalSamples, value)
	}
}
