package pprof_test

import (
	"bytes"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	graph "github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
	"github.com/Emyrk/profgraph/profile/pprof"
)

// fixture returns main -> work -> hash (inlined into work), sampled twice with
// the full stack and once in main alone.
func fixture() *profile.Profile {
	mapping := &profile.Mapping{ID: 1, File: "/usr/bin/server"}
	mainFn := &profile.Function{ID: 1, Name: "main.main", Filename: "main.go"}
	workFn := &profile.Function{ID: 2, Name: "main.work", Filename: "work.go"}
	hashFn := &profile.Function{ID: 3, Name: "main.hash", Filename: "work.go"}

	mainLoc := &profile.Location{ID: 1, Mapping: mapping, Line: []profile.Line{{Function: mainFn, Line: 10}}}
	workLoc := &profile.Location{ID: 2, Mapping: mapping, Line: []profile.Line{
		{Function: hashFn, Line: 30},
		{Function: workFn, Line: 20},
	}}
	rawLoc := &profile.Location{ID: 3, Mapping: mapping, Address: 0xbeef}

	return &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		DefaultSampleType: "cpu",
		Sample: []*profile.Sample{
			{Location: []*profile.Location{workLoc, mainLoc}, Value: []int64{2, 200}},
			{Location: []*profile.Location{mainLoc}, Value: []int64{1, 100}},
			{Location: []*profile.Location{rawLoc, mainLoc}, Value: []int64{1, 50}},
			{Location: []*profile.Location{mainLoc}, Value: []int64{0, 0}},
		},
		Mapping:  []*profile.Mapping{mapping},
		Location: []*profile.Location{mainLoc, workLoc, rawLoc},
		Function: []*profile.Function{mainFn, workFn, hashFn},
	}
}

func get(t *testing.T, p *graph.Profile, id string) *graph.Function {
	t.Helper()
	f, ok := p.Function(graph.FunctionID(id))
	require.True(t, ok, "missing %s", id)
	return f
}

func TestParse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, fixture().Write(&buf))

	p, err := pprof.Parse(&buf, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 4, p.Len())

	total, _ := p.Get(measure.Samples)
	require.Equal(t, 350.0, total)

	hash := get(t, p, "main.hash:work.go")
	samples, _ := hash.Get(measure.Samples)
	require.Equal(t, 200.0, samples)
	require.Equal(t, "server", hash.Module)
	require.Equal(t, "work.go", hash.Filename)

	work := get(t, p, "main.work:work.go")
	c, ok := work.Call("main.hash:work.go")
	require.True(t, ok, "inlined frame becomes a call")
	w, _ := c.Get(measure.Samples2)
	require.Equal(t, 200.0, w)

	main := get(t, p, "main.main:main.go")
	samples, _ = main.Get(measure.Samples)
	require.Equal(t, 100.0, samples)
	totalSamples, _ := main.Get(measure.TotalSamples)
	require.Equal(t, 350.0, totalSamples)

	raw := get(t, p, "0xbeef@/usr/bin/server")
	require.Equal(t, "0xbeef", raw.Name)

	require.NoError(t, graph.Derive(p, graph.CallStacks))
	ttr, _ := main.Get(measure.TotalTimeRatio)
	require.Equal(t, 1.0, ttr)
}

func TestSampleIndex(t *testing.T) {
	prof := fixture()

	idx, err := pprof.SampleIndex(prof, "")
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	idx, err = pprof.SampleIndex(prof, "samples")
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	_, err = pprof.SampleIndex(prof, "alloc_space")
	require.Error(t, err)

	prof.DefaultSampleType = ""
	idx, err = pprof.SampleIndex(prof, "")
	require.NoError(t, err)
	require.Equal(t, 0, idx)
}

func TestConvertSampleType(t *testing.T) {
	p, err := pprof.Convert(fixture(), "samples", zerolog.Nop())
	require.NoError(t, err)
	total, _ := p.Get(measure.Samples)
	require.Equal(t, 4.0, total)
}

func TestParseGarbage(t *testing.T) {
	_, err := pprof.Parse(bytes.NewReader([]byte("not a profile")), zerolog.Nop())
	require.Error(t, err)
}
