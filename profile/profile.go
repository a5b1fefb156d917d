// Package profile is the call graph model built from profiler output, and the
// engine that derives inclusive costs, ratios and display weights from it.
//
// A Profile is filled by an ingestion adapter and then transformed in a fixed
// order: Validate, FindCycles, CallRatios, Integrate, Normalize, Prune. Derive
// runs the standard sequence. None of the operations are safe for concurrent
// use; each stage assumes exclusive access to the graph.
package profile

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/Emyrk/profgraph/profile/measure"
)

var (
	// ErrPrecondition means a stage ran out of order, or on data an earlier
	// stage should have produced. It is a pipeline defect, not bad input.
	ErrPrecondition = errors.New("profile: precondition violated")
	// ErrInconsistent means cycle integration lost track of its own
	// bookkeeping. It should never happen on a validated graph.
	ErrInconsistent = errors.New("profile: internal consistency check failed")
)

// FunctionID uniquely identifies a function within a profile.
type FunctionID string

// CycleID indexes Profile.Cycles.
type CycleID int

// NoCycle marks a function that is not part of any recursive cycle.
const NoCycle CycleID = -1

// Call is a directed edge from the function that owns it to CalleeID.
// There is at most one Call per (caller, callee) pair.
type Call struct {
	measure.Values
	CalleeID FunctionID

	ratio     float64
	hasRatio  bool
	weight    float64
	hasWeight bool
}

func NewCall(callee FunctionID) *Call {
	return &Call{CalleeID: callee}
}

// Ratio is the fraction of the callee's inbound cost attributed to this call.
func (c *Call) Ratio() (float64, bool) {
	return c.ratio, c.hasRatio
}

func (c *Call) SetRatio(r float64) {
	c.ratio = r
	c.hasRatio = true
}

// Weight is the display weight assigned by Prune.
func (c *Call) Weight() (float64, bool) {
	return c.weight, c.hasWeight
}

func (c *Call) setWeight(w float64) {
	c.weight = w
	c.hasWeight = true
}

// Function is a node of the call graph.
type Function struct {
	measure.Values
	ID   FunctionID
	Name string
	// Module, Process and Filename are optional and empty when unknown.
	Module   string
	Process  string
	Filename string

	calls     map[FunctionID]*Call
	callOrder []FunctionID
	cycle     CycleID

	called    uint64
	hasCalled bool
	weight    float64
	hasWeight bool
}

func NewFunction(id FunctionID, name string) *Function {
	return &Function{
		ID:    id,
		Name:  name,
		calls: make(map[FunctionID]*Call),
		cycle: NoCycle,
	}
}

// AddCall registers c, replacing any call to the same callee. It reports
// whether an existing call was replaced.
func (f *Function) AddCall(c *Call) bool {
	_, exists := f.calls[c.CalleeID]
	if !exists {
		f.callOrder = append(f.callOrder, c.CalleeID)
	}
	f.calls[c.CalleeID] = c
	return exists
}

func (f *Function) Call(callee FunctionID) (*Call, bool) {
	c, ok := f.calls[callee]
	return c, ok
}

// GetOrAddCall returns the call to callee, creating an empty one if needed.
func (f *Function) GetOrAddCall(callee FunctionID) *Call {
	if c, ok := f.calls[callee]; ok {
		return c
	}
	c := NewCall(callee)
	f.AddCall(c)
	return c
}

// Calls returns the outgoing calls in insertion order.
func (f *Function) Calls() []*Call {
	out := make([]*Call, 0, len(f.callOrder))
	for _, id := range f.callOrder {
		out = append(out, f.calls[id])
	}
	return out
}

func (f *Function) NumCalls() int {
	return len(f.callOrder)
}

func (f *Function) RemoveCall(callee FunctionID) {
	if _, ok := f.calls[callee]; !ok {
		return
	}
	f.retainCalls(func(c *Call) bool { return c.CalleeID != callee })
}

func (f *Function) retainCalls(keep func(c *Call) bool) {
	order := f.callOrder[:0]
	for _, id := range f.callOrder {
		if keep(f.calls[id]) {
			order = append(order, id)
			continue
		}
		delete(f.calls, id)
	}
	f.callOrder = order
}

// CycleID is the cycle the function belongs to, or NoCycle.
func (f *Function) CycleID() CycleID {
	return f.cycle
}

// Called is the observed invocation count, when the format records one.
func (f *Function) Called() (uint64, bool) {
	return f.called, f.hasCalled
}

func (f *Function) SetCalled(n uint64) {
	f.called = n
	f.hasCalled = true
}

func (f *Function) AddCalled(n uint64) {
	f.called += n
	f.hasCalled = true
}

// Weight is the display weight in [0,1] assigned by Prune.
func (f *Function) Weight() (float64, bool) {
	return f.weight, f.hasWeight
}

func (f *Function) setWeight(w float64) {
	f.weight = w
	f.hasWeight = true
}

// Cycle is a set of mutually recursive functions.
type Cycle struct {
	measure.Values
	ID CycleID

	members   []FunctionID
	memberSet map[FunctionID]struct{}
}

func newCycle(id CycleID) *Cycle {
	return &Cycle{
		ID:        id,
		memberSet: make(map[FunctionID]struct{}),
	}
}

func (c *Cycle) Members() []FunctionID {
	return append([]FunctionID(nil), c.members...)
}

func (c *Cycle) Contains(id FunctionID) bool {
	_, ok := c.memberSet[id]
	return ok
}

func (c *Cycle) Len() int {
	return len(c.members)
}

func (c *Cycle) add(id FunctionID) {
	c.memberSet[id] = struct{}{}
	c.members = append(c.members, id)
}

// Profile owns every function and cycle of a call graph, plus profile wide
// aggregates.
type Profile struct {
	measure.Values

	logger    zerolog.Logger
	functions map[FunctionID]*Function
	order     []FunctionID
	cycles    []*Cycle
}

func New(logger zerolog.Logger) *Profile {
	return &Profile{
		logger:    logger,
		functions: make(map[FunctionID]*Function),
	}
}

func (p *Profile) Logger() zerolog.Logger {
	return p.logger
}

// AddFunction registers f by id. A colliding id replaces the earlier function.
func (p *Profile) AddFunction(f *Function) {
	if old, exists := p.functions[f.ID]; exists {
		p.logger.Warn().
			Str("function", f.Name).
			Str("previous", old.Name).
			Str("id", string(f.ID)).
			Msg("overwriting function")
	} else {
		p.order = append(p.order, f.ID)
	}
	p.functions[f.ID] = f
}

func (p *Profile) Function(id FunctionID) (*Function, bool) {
	f, ok := p.functions[id]
	return f, ok
}

// Functions returns every function in insertion order.
func (p *Profile) Functions() []*Function {
	out := make([]*Function, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.functions[id])
	}
	return out
}

func (p *Profile) Len() int {
	return len(p.order)
}

// Cycles returns the cycles found by FindCycles.
func (p *Profile) Cycles() []*Cycle {
	return append([]*Cycle(nil), p.cycles...)
}

// Cycle resolves a cycle id; NoCycle and stale ids resolve to nil.
func (p *Profile) Cycle(id CycleID) *Cycle {
	if id < 0 || int(id) >= len(p.cycles) {
		return nil
	}
	return p.cycles[id]
}

// CycleOf returns the cycle f belongs to, or nil.
func (p *Profile) CycleOf(f *Function) *Cycle {
	return p.Cycle(f.cycle)
}

func (p *Profile) sameCycle(a, b *Function) bool {
	return a.cycle != NoCycle && a.cycle == b.cycle
}

// retain drops every function for which keep returns false. Calls pointing at
// dropped functions are left for the caller to clean up.
func (p *Profile) retain(keep func(f *Function) bool) {
	order := p.order[:0]
	for _, id := range p.order {
		if keep(p.functions[id]) {
			order = append(order, id)
			continue
		}
		delete(p.functions, id)
	}
	p.order = order
}

// Validate drops calls to functions that were never registered. It runs once,
// right after ingestion.
func (p *Profile) Validate() {
	for _, f := range p.Functions() {
		f.retainCalls(func(c *Call) bool {
			if _, ok := p.functions[c.CalleeID]; ok {
				return true
			}
			p.logger.Warn().
				Str("function", f.Name).
				Str("callee_id", string(c.CalleeID)).
				Msg("call to undefined function")
			return false
		})
	}
}
