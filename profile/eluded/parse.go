package eluded

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
)

// TickKey names the synthetic function every tick's tree is rooted at.
const TickKey = "tick"

// Parse reads a dump and builds a call graph. Self milliseconds are recorded
// as both Time and Samples; a call's weight is the callee node's inclusive
// cpu.
func Parse(r io.Reader, logger zerolog.Logger) (*profile.Profile, error) {
	ticks, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return Convert(ticks, logger), nil
}

func Convert(ticks []Tick, logger zerolog.Logger) *profile.Profile {
	b := &builder{
		p:      profile.New(logger),
		onPath: make(map[profile.FunctionID]int),
	}
	b.p.Set(measure.Samples, 0)
	b.p.Set(measure.Time, 0)
	for _, tick := range ticks {
		tick.Key = TickKey
		b.walk(tick, nil)
	}
	logger.Debug().Int("ticks", len(ticks)).Int("functions", b.p.Len()).Msg("converted eluded dump")
	return b.p
}

type builder struct {
	p *profile.Profile
	// onPath counts how often a function is on the current path, so that a
	// recursive subtree only adds to TotalSamples once.
	onPath map[profile.FunctionID]int
}

func (b *builder) function(key string) *profile.Function {
	f, created := b.p.Intern(profile.FunctionID(key), key)
	if created {
		f.Set(measure.Time, 0)
		f.SetCalled(0)
	}
	return f
}

func (b *builder) walk(node Tick, caller *profile.Function) {
	f := b.function(node.Key)
	f.AddCalled(1)

	self := node.SelfCPU()
	f.Add(measure.Time, self)
	f.Add(measure.Samples, self)
	b.p.Add(measure.Time, self)
	b.p.Add(measure.Samples, self)

	if caller != nil {
		call := caller.GetOrAddCall(f.ID)
		call.Add(measure.Samples2, node.CPU)
		call.Add(measure.Calls, 1)
	}

	if b.onPath[f.ID] == 0 {
		f.Add(measure.TotalSamples, node.CPU)
	}
	b.onPath[f.ID]++
	for _, child := range node.Children {
		b.walk(child, f)
	}
	b.onPath[f.ID]--
}
