package profile_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
)

type node struct {
	Name string
	Self float64
}

type edge struct {
	From, To string
	Weight   float64
}

func testLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t))
}

// build creates a profile with Samples on every function and Samples2 on
// every call, and the profile wide Samples total.
func build(t *testing.T, nodes []node, edges []edge) *profile.Profile {
	t.Helper()
	p := profile.New(testLogger(t))
	total := 0.0
	for _, n := range nodes {
		f := profile.NewFunction(profile.FunctionID(n.Name), n.Name)
		f.Set(measure.Samples, n.Self)
		p.AddFunction(f)
		total += n.Self
	}
	for _, e := range edges {
		f, ok := p.Function(profile.FunctionID(e.From))
		require.True(t, ok, "unknown caller %q", e.From)
		call := f.GetOrAddCall(profile.FunctionID(e.To))
		call.Add(measure.Samples2, e.Weight)
	}
	p.Set(measure.Samples, total)
	return p
}

func fn(t *testing.T, p *profile.Profile, name string) *profile.Function {
	t.Helper()
	f, ok := p.Function(profile.FunctionID(name))
	require.True(t, ok, "function %q missing", name)
	return f
}

func call(t *testing.T, p *profile.Profile, from, to string) *profile.Call {
	t.Helper()
	c, ok := fn(t, p, from).Call(profile.FunctionID(to))
	require.True(t, ok, "call %s -> %s missing", from, to)
	return c
}

func value(t *testing.T, v interface {
	Get(measure.Kind) (float64, bool)
}, k measure.Kind) float64 {
	t.Helper()
	got, ok := v.Get(k)
	require.True(t, ok, "%s undefined", k)
	return got
}

// integrated runs the pipeline up to integration of Samples into TotalTime.
func integrated(t *testing.T, nodes []node, edges []edge) *profile.Profile {
	t.Helper()
	p := build(t, nodes, edges)
	p.Validate()
	p.FindCycles()
	require.NoError(t, p.CallRatios(measure.Samples2))
	require.NoError(t, p.Integrate(measure.TotalTime, measure.Samples))
	return p
}
