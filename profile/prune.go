package profile

import (
	"strings"

	"github.com/Emyrk/profgraph/profile/measure"
)

// PruneOptions controls Prune. Thresholds are fractions, not percentages.
type PruneOptions struct {
	NodeThreshold float64
	EdgeThreshold float64
	// Paths keeps only functions whose filename starts with, or whose module
	// contains, one of the entries. Empty keeps everything.
	Paths []string
	// ColorNodesBySelfTime rescales function weights by self time relative to
	// the busiest surviving function.
	ColorNodesBySelfTime bool
}

// Prune assigns display weights from TotalTimeRatio and drops functions and
// calls below the thresholds. It is destructive and runs last.
func (p *Profile) Prune(opts PruneOptions) {
	for _, f := range p.Functions() {
		total, hasTotal := f.Get(measure.TotalTimeRatio)
		if hasTotal {
			f.setWeight(total)
		}

		for _, call := range f.Calls() {
			if w, ok := call.Get(measure.TotalTimeRatio); ok {
				call.setWeight(w)
				continue
			}
			callee, ok := p.functions[call.CalleeID]
			if !ok || !hasTotal {
				continue
			}
			if calleeTotal, ok := callee.Get(measure.TotalTimeRatio); ok {
				call.setWeight(min(total, calleeTotal))
			}
		}
	}

	p.retain(func(f *Function) bool {
		w, ok := f.Weight()
		return !ok || w >= opts.NodeThreshold
	})

	if len(opts.Paths) > 0 {
		p.retain(func(f *Function) bool {
			switch {
			case f.Filename != "":
				return matchAny(opts.Paths, func(path string) bool { return strings.HasPrefix(f.Filename, path) })
			case f.Module != "":
				return matchAny(opts.Paths, func(path string) bool { return strings.Contains(f.Module, path) })
			}
			return true
		})
	}

	for _, f := range p.Functions() {
		f.retainCalls(func(c *Call) bool {
			if _, ok := p.functions[c.CalleeID]; !ok {
				return false
			}
			w, ok := c.Weight()
			return !ok || w >= opts.EdgeThreshold
		})
	}

	if opts.ColorNodesBySelfTime {
		maxRatio := 0.0
		found := false
		for _, f := range p.Functions() {
			if v, ok := f.Get(measure.TimeRatio); ok {
				if !found || v > maxRatio {
					maxRatio = v
				}
				found = true
			}
		}
		if !found {
			maxRatio = 1
		}
		for _, f := range p.Functions() {
			v, ok := f.Get(measure.TimeRatio)
			if !ok || maxRatio == 0 {
				continue
			}
			f.setWeight(v / maxRatio)
		}
	}
	p.compactCycles()
}

func matchAny(paths []string, match func(path string) bool) bool {
	for _, path := range paths {
		if match(path) {
			return true
		}
	}
	return false
}

type frontierItem struct {
	id    FunctionID
	depth int
}

// reach expands outward from start breadth first. A negative depth is
// unbounded; otherwise nodes further than depth hops are not visited.
func reach(start []FunctionID, depth int, next func(id FunctionID) []FunctionID) map[FunctionID]bool {
	visited := make(map[FunctionID]bool)
	queue := make([]frontierItem, 0, len(start))
	for _, id := range start {
		if !visited[id] {
			visited[id] = true
			queue = append(queue, frontierItem{id: id, depth: depth})
		}
	}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if item.depth == 0 {
			continue
		}
		for _, n := range next(item.id) {
			if visited[n] {
				continue
			}
			visited[n] = true
			queue = append(queue, frontierItem{id: n, depth: item.depth - 1})
		}
	}
	return visited
}

// keepOnly retains the functions in keep and the calls between them.
func (p *Profile) keepOnly(keep map[FunctionID]bool) {
	p.retain(func(f *Function) bool { return keep[f.ID] })
	for _, f := range p.Functions() {
		f.retainCalls(func(c *Call) bool { return keep[c.CalleeID] })
	}
	p.compactCycles()
}

// PruneToRoots keeps only the functions reachable from roots by following
// calls, at most depth hops away. A negative depth is unbounded.
func (p *Profile) PruneToRoots(roots []FunctionID, depth int) {
	known := make([]FunctionID, 0, len(roots))
	for _, id := range roots {
		if _, ok := p.functions[id]; !ok {
			p.logger.Warn().Str("id", string(id)).Msg("root function not in profile")
			continue
		}
		known = append(known, id)
	}

	visited := reach(known, depth, func(id FunctionID) []FunctionID {
		return p.functions[id].callOrder
	})
	p.keepOnly(visited)
}

// PruneToLeaves keeps only the functions from which one of leaves can be
// reached, at most depth hops away. It narrows whatever earlier pruning left.
func (p *Profile) PruneToLeaves(leaves []FunctionID, depth int) {
	callers := make(map[FunctionID][]FunctionID)
	for _, f := range p.Functions() {
		for _, id := range f.callOrder {
			callers[id] = append(callers[id], f.ID)
		}
	}

	visited := reach(leaves, depth, func(id FunctionID) []FunctionID {
		return callers[id]
	})

	path := make(map[FunctionID]bool, len(visited))
	for id := range visited {
		if _, ok := p.functions[id]; ok {
			path[id] = true
		}
	}
	p.keepOnly(path)
}
