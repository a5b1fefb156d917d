package profile

import (
	"fmt"
	"math"
	"sort"

	"github.com/Emyrk/profgraph/profile/measure"
)

// Integrate derives the inclusive kind out from the exclusive kind in on every
// function, call and cycle, following call ratios down the graph:
//
//	out(F) = in(F) + Σ ratio(call) × out(callee)
//
// Cycles are integrated as a unit and the result is then shared among the
// members, see integrateCycle. The profile's out is the sum of in over every
// function.
//
// Preconditions: FindCycles and CallRatios have run, out is defined nowhere,
// and in is defined on every function.
func (p *Profile) Integrate(out, in measure.Kind) error {
	if err := p.checkIntegrate(out, in); err != nil {
		return err
	}

	g := &integrator{
		p:        p,
		out:      out,
		in:       in,
		partials: make(map[entryMember]float64),
	}
	if err := g.run(); err != nil {
		return err
	}

	total := in.Null()
	for _, f := range p.Functions() {
		v, _ := f.Get(in)
		var err error
		total, err = in.Aggregate(total, v)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPrecondition, err)
		}
	}
	p.Set(out, total)
	return nil
}

func (p *Profile) checkIntegrate(out, in measure.Kind) error {
	if p.Has(out) {
		return fmt.Errorf("%w: profile already defines %s", ErrPrecondition, out)
	}
	for _, c := range p.cycles {
		if c.Has(out) {
			return fmt.Errorf("%w: cycle %d already defines %s", ErrPrecondition, c.ID, out)
		}
	}
	for _, f := range p.Functions() {
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
			if call.CalleeID == f.ID {
				continue
			}
			if _, ok := p.functions[call.CalleeID]; !ok {
				return fmt.Errorf("%w: call from %q to unknown function %q", ErrPrecondition, f.ID, call.CalleeID)
			}
			if !call.hasRatio {
				return fmt.Errorf("%w: call from %q to %q has no ratio", ErrPrecondition, f.ID, call.CalleeID)
			}
		}
	}
	return nil
}

// node is a vertex of the condensed graph: either a function outside any
// cycle, or a whole cycle.
type node struct {
	fn    FunctionID
	cycle CycleID
}

type entryMember struct {
	entry  FunctionID
	member FunctionID
}

type integrator struct {
	p       *Profile
	out, in measure.Kind

	// partials memoizes each member's share for one cycle entry. Every pair
	// is computed exactly once.
	partials map[entryMember]float64
}

func (g *integrator) nodeOf(f *Function) node {
	if f.cycle != NoCycle {
		return node{cycle: f.cycle}
	}
	return node{fn: f.ID, cycle: NoCycle}
}

// successors lists the nodes reachable in one step, skipping self recursion
// and calls that stay inside the cycle.
func (g *integrator) successors(n node) []node {
	var out []node
	add := func(f *Function) {
		for _, call := range f.Calls() {
			if call.CalleeID == f.ID {
				continue
			}
			callee := g.p.functions[call.CalleeID]
			if n.cycle != NoCycle && callee.cycle == n.cycle {
				continue
			}
			out = append(out, g.nodeOf(callee))
		}
	}
	if n.cycle != NoCycle {
		for _, id := range g.p.cycles[n.cycle].members {
			add(g.p.functions[id])
		}
		return out
	}
	add(g.p.functions[n.fn])
	return out
}

type integrateFrame struct {
	n    node
	succ []node
	next int
}

// run evaluates every node after all of its successors, using an explicit
// stack so deep call chains cannot exhaust the goroutine stack.
func (g *integrator) run() error {
	visited := make(map[node]bool)
	for _, f := range g.p.Functions() {
		root := g.nodeOf(f)
		if visited[root] {
			continue
		}
		visited[root] = true

		stack := []integrateFrame{{n: root, succ: g.successors(root)}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(top.succ) {
				s := top.succ[top.next]
				top.next++
				if !visited[s] {
					visited[s] = true
					stack = append(stack, integrateFrame{n: s, succ: g.successors(s)})
				}
				continue
			}

			var err error
			if top.n.cycle != NoCycle {
				err = g.integrateCycle(g.p.cycles[top.n.cycle])
			} else {
				err = g.integrateFunction(g.p.functions[top.n.fn])
			}
			if err != nil {
				return err
			}
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// inclusive returns the already integrated value a call into f sees: the
// function's own value, or the whole cycle's when f is part of one.
func (g *integrator) inclusive(f *Function) (float64, error) {
	if c := g.p.CycleOf(f); c != nil {
		if v, ok := c.Get(g.out); ok {
			return v, nil
		}
	} else if v, ok := f.Get(g.out); ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: %q reached before its callees were integrated, run FindCycles first", ErrPrecondition, f.ID)
}

func (g *integrator) integrateCall(call *Call) (float64, error) {
	callee := g.p.functions[call.CalleeID]
	v, err := g.inclusive(callee)
	if err != nil {
		return 0, err
	}
	subtotal := call.ratio * v
	call.Set(g.out, subtotal)
	return subtotal, nil
}

func (g *integrator) integrateFunction(f *Function) error {
	total, _ := f.Get(g.in)
	for _, call := range f.Calls() {
		if call.CalleeID == f.ID {
			continue
		}
		sub, err := g.integrateCall(call)
		if err != nil {
			return err
		}
		total += sub
	}
	f.Set(g.out, total)
	return nil
}

// integrateCycle computes the cycle's inclusive cost, then distributes it
// over the members once per distinct entry point.
//
// Within a cycle the callees also call back into their callers, so members
// are ranked by their hop distance from the entry and cost only flows from a
// member to callers of strictly lower rank. That turns the cycle into a DAG
// for the purpose of one entry and prevents unbounded mutual propagation.
func (g *integrator) integrateCycle(c *Cycle) error {
	total := g.in.Null()
	for _, id := range c.members {
		member := g.p.functions[id]
		subtotal, _ := member.Get(g.in)
		for _, call := range member.Calls() {
			if c.Contains(call.CalleeID) {
				continue
			}
			sub, err := g.integrateCall(call)
			if err != nil {
				return err
			}
			subtotal += sub
		}
		total += subtotal
	}
	c.Set(g.out, total)

	type entry struct {
		fn    *Function
		ratio float64
	}
	var entries []*entry
	byCallee := make(map[FunctionID]*entry)
	for _, f := range g.p.Functions() {
		if f.cycle == c.ID {
			continue
		}
		for _, call := range f.Calls() {
			if !c.Contains(call.CalleeID) {
				continue
			}
			e, ok := byCallee[call.CalleeID]
			if !ok {
				e = &entry{fn: g.p.functions[call.CalleeID]}
				byCallee[call.CalleeID] = e
				entries = append(entries, e)
			}
			e.ratio += call.ratio
		}
	}

	for _, id := range c.members {
		g.p.functions[id].Set(g.out, g.out.Null())
	}

	for _, e := range entries {
		if err := g.distribute(c, e.fn, e.ratio, total); err != nil {
			return err
		}
	}
	return nil
}

// rank returns the shortest intra-cycle hop distance of every member from
// entry. All edges weigh one, so a breadth first search is exact.
func (g *integrator) rank(c *Cycle, entry *Function) map[FunctionID]int {
	ranks := map[FunctionID]int{entry.ID: 0}
	queue := []*Function{entry}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		for _, call := range f.Calls() {
			if call.CalleeID == f.ID || !c.Contains(call.CalleeID) {
				continue
			}
			if _, ok := ranks[call.CalleeID]; ok {
				continue
			}
			ranks[call.CalleeID] = ranks[f.ID] + 1
			queue = append(queue, g.p.functions[call.CalleeID])
		}
	}
	return ranks
}

// forward reports whether a call inside the cycle moves to a higher rank.
func forward(ranks map[FunctionID]int, from, to FunctionID) bool {
	rf, ok := ranks[from]
	if !ok {
		return false
	}
	rt, ok := ranks[to]
	return ok && rt > rf
}

// distribute shares entryRatio × total over the members, as seen from entry.
func (g *integrator) distribute(c *Cycle, entry *Function, entryRatio, total float64) error {
	ranks := g.rank(c, entry)

	// Sum of forward call ratios into each member, so that a member's
	// partial splits among its lower ranked callers in proportion.
	callRatios := make(map[FunctionID]float64)
	for _, id := range c.members {
		member := g.p.functions[id]
		for _, call := range member.Calls() {
			if call.CalleeID == member.ID || !c.Contains(call.CalleeID) {
				continue
			}
			if forward(ranks, member.ID, call.CalleeID) {
				callRatios[call.CalleeID] += call.ratio
			}
		}
	}

	ordered := make([]*Function, 0, len(ranks))
	for _, id := range c.members {
		if _, ok := ranks[id]; ok {
			ordered = append(ordered, g.p.functions[id])
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ranks[ordered[i].ID] > ranks[ordered[j].ID]
	})

	maxPartial := 0.0
	for _, member := range ordered {
		key := entryMember{entry: entry.ID, member: member.ID}
		if _, done := g.partials[key]; done {
			return fmt.Errorf("%w: partial for entry %q member %q computed twice", ErrInconsistent, entry.ID, member.ID)
		}

		self, _ := member.Get(g.in)
		partial := entryRatio * self
		for _, call := range member.Calls() {
			if call.CalleeID == member.ID {
				continue
			}
			if !c.Contains(call.CalleeID) {
				v, ok := call.Get(g.out)
				if !ok {
					return fmt.Errorf("%w: call from %q to %q left the cycle unintegrated", ErrInconsistent, member.ID, call.CalleeID)
				}
				partial += entryRatio * v
				continue
			}
			if !forward(ranks, member.ID, call.CalleeID) {
				continue
			}
			calleePartial, ok := g.partials[entryMember{entry: entry.ID, member: call.CalleeID}]
			if !ok {
				return fmt.Errorf("%w: member %q needed before it was ranked", ErrInconsistent, call.CalleeID)
			}
			callPartial := g.p.ratio(call.ratio, callRatios[call.CalleeID]) * calleePartial
			call.Add(g.out, callPartial)
			partial += callPartial
		}

		g.partials[key] = partial
		member.Add(g.out, partial)
		maxPartial = math.Max(maxPartial, partial)
	}

	partial := g.partials[entryMember{entry: entry.ID, member: entry.ID}]
	if math.Abs(partial-maxPartial) > 1e-7*maxPartial {
		return fmt.Errorf("%w: entry %q partial %g differs from maximum partial %g", ErrInconsistent, entry.ID, partial, maxPartial)
	}
	expected := entryRatio * total
	if math.Abs(expected-partial) > 0.001*expected {
		return fmt.Errorf("%w: entry %q propagated %g, expected %g", ErrInconsistent, entry.ID, partial, expected)
	}
	return nil
}
