package profile

type tarjanData struct {
	order   int
	lowlink int
	onStack bool
}

type tarjanFrame struct {
	fn    *Function
	calls []*Call
	next  int
	pos   int
}

// FindCycles groups mutually recursive functions into cycles using Tarjan's
// strongly connected components algorithm. Components of a single function
// stay ungrouped; self recursion is not a cycle.
//
// Running it again yields the same partition.
func (p *Profile) FindCycles() {
	var (
		data  = make(map[FunctionID]*tarjanData, len(p.order))
		stack []*Function
		order int
	)

	visit := func(f *Function) tarjanFrame {
		data[f.ID] = &tarjanData{order: order, lowlink: order, onStack: true}
		order++
		pos := len(stack)
		stack = append(stack, f)
		return tarjanFrame{fn: f, calls: f.Calls(), pos: pos}
	}

	for _, root := range p.Functions() {
		if _, seen := data[root.ID]; seen {
			continue
		}

		frames := []tarjanFrame{visit(root)}
		for len(frames) > 0 {
			top := &frames[len(frames)-1]
			fd := data[top.fn.ID]

			if top.next < len(top.calls) {
				call := top.calls[top.next]
				top.next++
				if call.CalleeID == top.fn.ID {
					continue
				}
				if cd, ok := data[call.CalleeID]; ok {
					if cd.onStack {
						fd.lowlink = min(fd.lowlink, cd.order)
					}
					continue
				}
				callee, ok := p.functions[call.CalleeID]
				if !ok {
					continue
				}
				frames = append(frames, visit(callee))
				continue
			}

			if fd.lowlink == fd.order {
				members := append([]*Function(nil), stack[top.pos:]...)
				stack = stack[:top.pos]
				for _, m := range members {
					data[m.ID].onStack = false
				}
				if len(members) > 1 {
					c := newCycle(CycleID(len(p.cycles)))
					p.cycles = append(p.cycles, c)
					for _, m := range members {
						p.joinCycle(c, m)
					}
				}
			}

			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := data[frames[len(frames)-1].fn.ID]
				parent.lowlink = min(parent.lowlink, fd.lowlink)
			}
		}
	}

	p.compactCycles()
}

// joinCycle makes f a member of c. If f already belongs to another cycle, that
// cycle's members are folded into c as well.
func (p *Profile) joinCycle(c *Cycle, f *Function) {
	pending := []*Function{f}
	for len(pending) > 0 {
		fn := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if c.Contains(fn.ID) {
			continue
		}
		c.add(fn.ID)
		if old := p.Cycle(fn.cycle); old != nil && old != c {
			for _, id := range old.members {
				if other, ok := p.functions[id]; ok && !c.Contains(id) {
					pending = append(pending, other)
				}
			}
		}
		fn.cycle = c.ID
	}
}

// compactCycles drops cycles that no function refers to any more and
// renumbers the survivors in function order.
func (p *Profile) compactCycles() {
	remap := make(map[CycleID]CycleID)
	var cycles []*Cycle
	for _, f := range p.Functions() {
		if f.cycle == NoCycle {
			continue
		}
		if _, ok := remap[f.cycle]; ok {
			continue
		}
		c := p.cycles[f.cycle]
		remap[f.cycle] = CycleID(len(cycles))
		cycles = append(cycles, c)
	}

	for _, f := range p.Functions() {
		if f.cycle != NoCycle {
			f.cycle = remap[f.cycle]
		}
	}
	for i, c := range cycles {
		c.ID = CycleID(i)
		members := c.members[:0]
		for _, id := range c.members {
			if _, ok := p.functions[id]; ok {
				members = append(members, id)
				continue
			}
			delete(c.memberSet, id)
		}
		c.members = members
	}
	p.cycles = cycles
}
