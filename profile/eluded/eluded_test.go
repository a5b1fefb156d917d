package eluded_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/eluded"
	"github.com/Emyrk/profgraph/profile/measure"
	"github.com/Emyrk/profgraph/profile/pprof"
)

const dump = `[
  {"key": "loop", "cpu": 10, "um": 1700000000000, "children": [
    {"key": "creeps", "cpu": 6, "children": [
      {"key": "move", "cpu": 4, "children": [
        {"key": "move", "cpu": 1, "children": []}
      ]}
    ]},
    {"key": "towers", "cpu": 2, "children": []}
  ]},
  {"key": "loop", "cpu": 4, "um": 1700000003000, "children": [
    {"key": "towers", "cpu": 4, "children": []}
  ]}
]`

func TestParse(t *testing.T) {
	p, err := eluded.Parse(strings.NewReader(dump), zerolog.Nop())
	require.NoError(t, err)

	get := func(key string) *profile.Function {
		f, ok := p.Function(profile.FunctionID(key))
		require.True(t, ok, key)
		return f
	}

	// Every dump entry is rooted at the tick function.
	tick := get(eluded.TickKey)
	called, _ := tick.Called()
	require.Equal(t, uint64(2), called)
	self, _ := tick.Get(measure.Time)
	require.Equal(t, 2.0, self)

	move := get("move")
	self, _ = move.Get(measure.Samples)
	require.Equal(t, 4.0, self)
	stacks, _ := move.Get(measure.TotalSamples)
	require.Equal(t, 4.0, stacks, "recursion counts once")

	towers := get("towers")
	c, ok := tick.Call("towers")
	require.True(t, ok)
	w, _ := c.Get(measure.Samples2)
	require.Equal(t, 6.0, w)
	calls, _ := c.Get(measure.Calls)
	require.Equal(t, 2.0, calls)

	total, _ := p.Get(measure.Samples)
	require.Equal(t, 14.0, total)

	require.NoError(t, profile.Derive(p, profile.CallStacks))
	ttr, _ := towers.Get(measure.TotalTimeRatio)
	require.InDelta(t, 6.0/14.0, ttr, 1e-12)
}

func TestSelfCPU(t *testing.T) {
	tick := eluded.Tick{CPU: 1, Children: []eluded.Tick{{CPU: 0.6}, {CPU: 0.5}}}
	require.Equal(t, 0.0, tick.SelfCPU())
	require.Equal(t, int64(1e6), tick.CPUNano())
}

func TestPprofConverter(t *testing.T) {
	ticks, err := eluded.Decode(strings.NewReader(dump))
	require.NoError(t, err)

	conv := eluded.NewPprofConverter()
	conv.MinSelf = time.Millisecond
	prof := conv.Convert(ticks)
	require.Equal(t, int64(1700000000000)*int64(time.Millisecond), prof.TimeNanos)
	require.Equal(t, int64(3*time.Second), prof.DurationNanos)
	require.NoError(t, prof.CheckValid())

	var buf bytes.Buffer
	require.NoError(t, prof.Write(&buf))

	// The written profile ingests like any other pprof file.
	p, err := pprof.Parse(&buf, zerolog.Nop())
	require.NoError(t, err)
	move, ok := p.Function("move:main.js")
	require.True(t, ok)
	self, _ := move.Get(measure.Samples)
	require.Equal(t, float64(4*time.Millisecond), self)
}
