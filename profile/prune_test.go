package profile_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
)

func names(p *profile.Profile) []string {
	var out []string
	for _, f := range p.Functions() {
		out = append(out, f.Name)
	}
	return out
}

func callees(t *testing.T, p *profile.Profile, from string) []string {
	var out []string
	for _, c := range fn(t, p, from).Calls() {
		out = append(out, string(c.CalleeID))
	}
	return out
}

func TestPrune(t *testing.T) {
	p := build(t,
		[]node{{"a", 1}, {"b", 1}, {"c", 1}, {"d", 1}},
		[]edge{{"a", "b", 1}, {"a", "c", 1}, {"b", "d", 1}, {"a", "d", 1}},
	)
	for name, ttr := range map[string]float64{"a": 1.0, "b": 0.3, "c": 0.004, "d": 0.5} {
		fn(t, p, name).Set(measure.TotalTimeRatio, ttr)
	}
	call(t, p, "a", "b").Set(measure.TotalTimeRatio, 0.3)
	call(t, p, "a", "c").Set(measure.TotalTimeRatio, 0.004)
	call(t, p, "a", "d").Set(measure.TotalTimeRatio, 0.0005)

	p.Prune(profile.PruneOptions{NodeThreshold: 0.005, EdgeThreshold: 0.001})

	require.Equal(t, []string{"a", "b", "d"}, names(p))
	require.Equal(t, []string{"b"}, callees(t, p, "a"))
	require.Equal(t, []string{"d"}, callees(t, p, "b"))

	w, ok := fn(t, p, "b").Weight()
	require.True(t, ok)
	require.Equal(t, 0.3, w)

	// Calls without their own total are estimated from both ends.
	w, ok = call(t, p, "b", "d").Weight()
	require.True(t, ok)
	require.Equal(t, 0.3, w)
}

func TestPrunePaths(t *testing.T) {
	p := build(t, []node{{"main", 1}, {"lib", 1}, {"other", 1}, {"unknown", 1}}, nil)
	fn(t, p, "main").Filename = "/src/app/main.go"
	fn(t, p, "lib").Module = "github.com/app/lib"
	fn(t, p, "other").Filename = "/usr/lib/other.go"

	p.Prune(profile.PruneOptions{Paths: []string{"/src/app", "app/lib"}})
	require.Equal(t, []string{"main", "lib", "unknown"}, names(p))
}

func TestPruneColorBySelfTime(t *testing.T) {
	p := build(t, []node{{"a", 1}, {"b", 4}}, []edge{{"a", "b", 1}})
	require.NoError(t, profile.Derive(p, profile.CallRatios))

	p.Prune(profile.PruneOptions{ColorNodesBySelfTime: true})

	w, _ := fn(t, p, "b").Weight()
	require.Equal(t, 1.0, w)
	w, _ = fn(t, p, "a").Weight()
	require.InDelta(t, 0.25, w, 1e-12)
}

// rootsGraph is a -> b -> c -> d, plus a -> e.
func rootsGraph(t *testing.T) *profile.Profile {
	return build(t,
		[]node{{"a", 1}, {"b", 1}, {"c", 1}, {"d", 1}, {"e", 1}},
		[]edge{{"a", "b", 1}, {"b", "c", 1}, {"c", "d", 1}, {"a", "e", 1}},
	)
}

func TestPruneToRoots(t *testing.T) {
	t.Run("Depth", func(t *testing.T) {
		p := rootsGraph(t)
		p.PruneToRoots([]profile.FunctionID{"a"}, 1)
		require.Equal(t, []string{"a", "b", "e"}, names(p))
		require.Empty(t, callees(t, p, "b"))
	})

	t.Run("Unbounded", func(t *testing.T) {
		p := rootsGraph(t)
		p.PruneToRoots([]profile.FunctionID{"b"}, -1)
		require.Equal(t, []string{"b", "c", "d"}, names(p))
	})

	t.Run("UnknownRoot", func(t *testing.T) {
		var buf bytes.Buffer
		p := withLogger(rootsGraph(t), &buf)
		p.PruneToRoots([]profile.FunctionID{"missing", "c"}, -1)
		require.Equal(t, []string{"c", "d"}, names(p))
		require.Contains(t, buf.String(), "root function not in profile")
	})
}

func TestPruneToLeaves(t *testing.T) {
	t.Run("Unbounded", func(t *testing.T) {
		p := rootsGraph(t)
		p.PruneToLeaves([]profile.FunctionID{"d"}, -1)
		require.Equal(t, []string{"a", "b", "c", "d"}, names(p))
		require.Equal(t, []string{"b"}, callees(t, p, "a"))
	})

	t.Run("Depth", func(t *testing.T) {
		p := rootsGraph(t)
		p.PruneToLeaves([]profile.FunctionID{"d"}, 1)
		require.Equal(t, []string{"c", "d"}, names(p))
	})

	t.Run("AfterRoots", func(t *testing.T) {
		p := rootsGraph(t)
		p.PruneToRoots([]profile.FunctionID{"b"}, -1)
		p.PruneToLeaves([]profile.FunctionID{"c"}, -1)
		require.Equal(t, []string{"b", "c"}, names(p))
	})

	t.Run("UnknownLeaf", func(t *testing.T) {
		p := rootsGraph(t)
		p.PruneToLeaves([]profile.FunctionID{"missing"}, -1)
		require.Zero(t, p.Len())
	})
}

func TestDerive(t *testing.T) {
	// Stacks a;b x3 and a x1.
	stacks := func(t *testing.T) *profile.Profile {
		p := build(t, []node{{"a", 1}, {"b", 3}}, []edge{{"a", "b", 3}})
		fn(t, p, "a").Set(measure.TotalSamples, 4)
		fn(t, p, "b").Set(measure.TotalSamples, 3)
		return p
	}

	for _, method := range []profile.TotalMethod{profile.CallRatios, profile.CallStacks} {
		method := method
		t.Run(string(method), func(t *testing.T) {
			p := stacks(t)
			require.NoError(t, profile.Derive(p, method))

			require.InDelta(t, 1.0, value(t, fn(t, p, "a"), measure.TotalTimeRatio), 1e-12)
			require.InDelta(t, 0.75, value(t, fn(t, p, "b"), measure.TotalTimeRatio), 1e-12)
			require.InDelta(t, 0.75, value(t, call(t, p, "a", "b"), measure.TotalTimeRatio), 1e-12)
			require.InDelta(t, 0.25, value(t, fn(t, p, "a"), measure.TimeRatio), 1e-12)
			require.Equal(t, 1.0, value(t, p, measure.TotalTimeRatio))
		})
	}

	t.Run("Unknown", func(t *testing.T) {
		_, err := profile.ParseTotalMethod("guess")
		require.Error(t, err)
		m, err := profile.ParseTotalMethod("")
		require.NoError(t, err)
		require.Equal(t, profile.CallRatios, m)
	})
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	p := withLogger(build(t, []node{{"x", 1}, {"y", 1}}, []edge{{"x", "y", 1}, {"y", "x", 1}}), &buf)
	p.FindCycles()
	p.Dump()
	require.Contains(t, buf.String(), `"call_samples":"1×"`)
	require.Contains(t, buf.String(), `"message":"cycle"`)

	buf.Reset()
	quiet := profile.New(zerolog.New(&buf).Level(zerolog.InfoLevel))
	quiet.AddFunction(profile.NewFunction("x", "x"))
	quiet.Dump()
	require.Empty(t, buf.String())
}

func TestPruneDropsCycles(t *testing.T) {
	nodes := []node{{"main", 100}, {"x", 0}, {"y", 0}}
	edges := []edge{{"main", "x", 0}, {"x", "y", 0}, {"y", "x", 0}}

	t.Run("Thresholds", func(t *testing.T) {
		var buf bytes.Buffer
		p := withLogger(build(t, nodes, edges), &buf)
		require.NoError(t, profile.Derive(p, profile.CallRatios))
		require.Len(t, p.Cycles(), 1)

		p.Prune(profile.PruneOptions{NodeThreshold: 0.005, EdgeThreshold: 0.001})
		require.Equal(t, []string{"main"}, names(p))
		require.Empty(t, p.Cycles())

		p.Dump()
		require.Contains(t, buf.String(), `"function":"main"`)
		require.NotContains(t, buf.String(), `"message":"cycle"`)
	})

	t.Run("Roots", func(t *testing.T) {
		p := build(t, nodes, edges)
		require.NoError(t, profile.Derive(p, profile.CallRatios))
		p.PruneToRoots([]profile.FunctionID{"y"}, 0)
		require.Equal(t, []string{"y"}, names(p))

		cycles := p.Cycles()
		require.Len(t, cycles, 1)
		require.Equal(t, []profile.FunctionID{"y"}, cycles[0].Members())
		require.Equal(t, profile.CycleID(0), fn(t, p, "y").CycleID())
	})

	t.Run("Leaves", func(t *testing.T) {
		p := build(t, nodes, edges)
		require.NoError(t, profile.Derive(p, profile.CallRatios))
		p.PruneToLeaves([]profile.FunctionID{"main"}, -1)
		require.Equal(t, []string{"main"}, names(p))
		require.Empty(t, p.Cycles())
	})
}
