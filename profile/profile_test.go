package profile_test

import (
	"bytes"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
)

func TestValidate(t *testing.T) {
	var buf bytes.Buffer
	p := profile.New(zerolog.New(&buf))
	a := profile.NewFunction("a", "main")
	a.GetOrAddCall("b")
	a.GetOrAddCall("ghost")
	p.AddFunction(a)
	p.AddFunction(profile.NewFunction("b", "work"))

	p.Validate()

	require.Equal(t, 1, a.NumCalls())
	_, ok := a.Call("ghost")
	require.False(t, ok)
	require.Contains(t, buf.String(), "call to undefined function")
}

func TestAddFunctionOverwrites(t *testing.T) {
	var buf bytes.Buffer
	p := profile.New(zerolog.New(&buf))
	p.AddFunction(profile.NewFunction("1", "first"))
	p.AddFunction(profile.NewFunction("1", "second"))

	require.Equal(t, 1, p.Len())
	f, ok := p.Function("1")
	require.True(t, ok)
	require.Equal(t, "second", f.Name)
	require.Contains(t, buf.String(), "overwriting function")
}

func TestCallOrder(t *testing.T) {
	f := profile.NewFunction("a", "a")
	f.GetOrAddCall("c")
	f.GetOrAddCall("b")
	f.GetOrAddCall("c")
	require.False(t, f.AddCall(profile.NewCall("d")))
	require.True(t, f.AddCall(profile.NewCall("b")))

	var ids []profile.FunctionID
	for _, c := range f.Calls() {
		ids = append(ids, c.CalleeID)
	}
	require.Equal(t, []profile.FunctionID{"c", "b", "d"}, ids)

	f.RemoveCall("b")
	require.Equal(t, 2, f.NumCalls())
}

func cyclePartition(p *profile.Profile) [][]string {
	var out [][]string
	for _, c := range p.Cycles() {
		var names []string
		for _, id := range c.Members() {
			names = append(names, string(id))
		}
		sort.Strings(names)
		out = append(out, names)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func TestFindCycles(t *testing.T) {
	p := build(t,
		[]node{{"main", 1}, {"x", 1}, {"y", 1}, {"a", 1}, {"b", 1}, {"c", 1}, {"self", 1}, {"lone", 1}},
		[]edge{
			{"main", "x", 1}, {"x", "y", 1}, {"y", "x", 1},
			{"main", "a", 1}, {"a", "b", 1}, {"b", "c", 1}, {"c", "a", 1}, {"c", "x", 1},
			{"main", "self", 1}, {"self", "self", 1},
		},
	)
	p.Validate()
	p.FindCycles()

	expected := [][]string{{"a", "b", "c"}, {"x", "y"}}
	require.Equal(t, expected, cyclePartition(p))

	for _, name := range []string{"main", "self", "lone"} {
		require.Equal(t, profile.NoCycle, fn(t, p, name).CycleID(), name)
	}

	// Membership is symmetric: every member points at the cycle holding it.
	for _, c := range p.Cycles() {
		for _, id := range c.Members() {
			f := fn(t, p, string(id))
			require.Same(t, c, p.CycleOf(f))
		}
	}

	t.Run("Idempotent", func(t *testing.T) {
		p.FindCycles()
		require.Equal(t, expected, cyclePartition(p))
		require.Len(t, p.Cycles(), 2)
		for _, c := range p.Cycles() {
			for _, id := range c.Members() {
				require.Same(t, c, p.CycleOf(fn(t, p, string(id))))
			}
		}
	})
}

func TestFindCyclesDisconnected(t *testing.T) {
	p := build(t,
		[]node{{"a", 1}, {"b", 1}, {"c", 1}, {"d", 1}},
		[]edge{{"a", "b", 1}, {"b", "a", 1}, {"c", "d", 1}, {"d", "c", 1}},
	)
	p.FindCycles()
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, cyclePartition(p))
}

func TestRatio(t *testing.T) {
	testCases := []struct {
		Name        string
		Num, Den    float64
		Expect      float64
		ExpectRange bool
	}{
		{Name: "ZeroOverZero", Num: 0, Den: 0, Expect: 1, ExpectRange: true},
		{Name: "Half", Num: 1, Den: 2, Expect: 0.5, ExpectRange: true},
		{Name: "RoundOffAboveOne", Num: 1 + profile.Tolerance/2, Den: 1, Expect: 1, ExpectRange: true},
		{Name: "AboveOne", Num: 3, Den: 2, Expect: 1, ExpectRange: false},
		{Name: "Negative", Num: -1, Den: 2, Expect: 0, ExpectRange: false},
		{Name: "TinyNegative", Num: -profile.Tolerance / 2, Den: 1, Expect: 0, ExpectRange: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			got, inRange := profile.Ratio(tc.Num, tc.Den)
			require.Equal(t, tc.Expect, got)
			require.Equal(t, tc.ExpectRange, inRange)
		})
	}
}

func TestCallRatios(t *testing.T) {
	var buf bytes.Buffer
	p := build(t,
		[]node{{"e1", 0}, {"e2", 0}, {"a", 1}, {"b", 1}, {"leaf", 1}, {"orphan", 1}},
		[]edge{
			{"e1", "a", 3}, {"e2", "b", 1},
			{"a", "b", 4}, {"b", "a", 4},
			{"a", "leaf", 1}, {"b", "leaf", 3},
			{"a", "a", 10},
		},
	)
	// A call carrying no weight at all.
	fn(t, p, "e1").GetOrAddCall("orphan")
	p = withLogger(p, &buf)

	p.FindCycles()
	require.NoError(t, p.CallRatios(measure.Samples2))

	ratio := func(from, to string) float64 {
		r, ok := call(t, p, from, to).Ratio()
		require.True(t, ok)
		return r
	}

	// Weight entering the cycle is split by the cycle's inbound total.
	require.InDelta(t, 0.75, ratio("e1", "a"), 1e-12)
	require.InDelta(t, 0.25, ratio("e2", "b"), 1e-12)
	// Weight circulating inside it uses the callee's own inbound total.
	require.InDelta(t, 4.0/5.0, ratio("a", "b"), 1e-12)
	require.InDelta(t, 4.0/7.0, ratio("b", "a"), 1e-12)
	require.InDelta(t, 0.25, ratio("a", "leaf"), 1e-12)
	require.InDelta(t, 0.75, ratio("b", "leaf"), 1e-12)
	require.Equal(t, 0.0, ratio("e1", "orphan"))

	_, ok := call(t, p, "a", "a").Ratio()
	require.False(t, ok, "self recursion gets no ratio")
	require.Contains(t, buf.String(), "no data for call")

	for _, f := range p.Functions() {
		for _, c := range f.Calls() {
			if r, ok := c.Ratio(); ok {
				require.GreaterOrEqual(t, r, 0.0)
				require.LessOrEqual(t, r, 1.0)
			}
		}
	}

	err := p.CallRatios(measure.Samples2)
	require.ErrorIs(t, err, profile.ErrPrecondition)
}

// withLogger rebuilds p with a logger writing to buf.
func withLogger(p *profile.Profile, buf *bytes.Buffer) *profile.Profile {
	out := profile.New(zerolog.New(buf))
	for _, f := range p.Functions() {
		out.AddFunction(f)
	}
	for _, k := range p.Defined() {
		v, _ := p.Get(k)
		out.Set(k, v)
	}
	return out
}

func TestNormalize(t *testing.T) {
	p := build(t, []node{{"a", 1}, {"b", 3}}, []edge{{"a", "b", 2}})

	require.NoError(t, p.Normalize(measure.TimeRatio, measure.Samples))
	require.Equal(t, 1.0, value(t, p, measure.TimeRatio))
	require.Equal(t, 0.25, value(t, fn(t, p, "a"), measure.TimeRatio))
	require.Equal(t, 0.75, value(t, fn(t, p, "b"), measure.TimeRatio))

	// Calls are normalized only where they define the input kind.
	require.False(t, call(t, p, "a", "b").Has(measure.TimeRatio))

	err := p.Normalize(measure.TimeRatio, measure.Samples)
	require.ErrorIs(t, err, profile.ErrPrecondition)

	err = p.Normalize(measure.TotalTimeRatio, measure.Time)
	require.ErrorIs(t, err, profile.ErrPrecondition)
}

func TestAggregate(t *testing.T) {
	p := build(t, []node{{"a", 1}, {"b", 3}}, nil)
	p.Unset(measure.Samples)
	require.NoError(t, p.Aggregate(measure.Samples))
	require.Equal(t, 4.0, value(t, p, measure.Samples))

	// Undefined anywhere means nothing is set.
	fn(t, p, "a").Set(measure.Time, 2)
	require.NoError(t, p.Aggregate(measure.Time))
	require.False(t, p.Has(measure.Time))

	fn(t, p, "a").Set(measure.TotalTime, 2)
	fn(t, p, "b").Set(measure.TotalTime, 2)
	require.ErrorIs(t, p.Aggregate(measure.TotalTime), measure.ErrNotAggregatable)
}

func TestStripName(t *testing.T) {
	testCases := []struct {
		Name   string
		Input  string
		Expect string
	}{
		{Name: "Plain", Input: "main", Expect: "main"},
		{Name: "Params", Input: "foo(int, char*)", Expect: "foo"},
		{Name: "NestedParams", Input: "foo(bar(int), void (*)(int))", Expect: "foo"},
		{Name: "Templates", Input: "std::vector<std::pair<int, int> >::push_back(std::pair<int, int> const&)", Expect: "std::vector::push_back"},
		{Name: "Const", Input: "Foo::size() const", Expect: "Foo::size"},
		{Name: "OnlyOneConst", Input: "a const const", Expect: "a const"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			require.Equal(t, tc.Expect, profile.StripName(tc.Input))
		})
	}
}

func TestSelect(t *testing.T) {
	p := build(t, []node{
		{"github.com/foo/bar.Run", 1},
		{"github.com/foo/bar.walk", 1},
		{"runtime.mallocgc", 1},
		{"main", 1},
	}, nil)

	testCases := []struct {
		Pattern string
		Expect  []profile.FunctionID
	}{
		{Pattern: "*bar.*", Expect: []profile.FunctionID{"github.com/foo/bar.Run", "github.com/foo/bar.walk"}},
		{Pattern: "main", Expect: []profile.FunctionID{"main"}},
		{Pattern: "runtime.?allocgc", Expect: []profile.FunctionID{"runtime.mallocgc"}},
		{Pattern: "*bar.[!R]*", Expect: []profile.FunctionID{"github.com/foo/bar.walk"}},
		{Pattern: "*bar.[R]un", Expect: []profile.FunctionID{"github.com/foo/bar.Run"}},
		{Pattern: "nothing", Expect: nil},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.Pattern, func(t *testing.T) {
			ids, err := p.Select(tc.Pattern)
			require.NoError(t, err)
			require.Equal(t, tc.Expect, ids)
		})
	}
}

func TestListFunctions(t *testing.T) {
	p := build(t, []node{{"main", 1}, {"work", 2}}, nil)

	var buf bytes.Buffer
	require.NoError(t, p.ListFunctions(&buf, "+"))
	require.Equal(t, "main:\tmain,\nwork:\twork\n", buf.String())

	buf.Reset()
	require.NoError(t, p.ListFunctions(&buf, "%wo*"))
	require.Contains(t, buf.String(), "work\t(work)::")
	require.Contains(t, buf.String(), "samples:=2×")
}
