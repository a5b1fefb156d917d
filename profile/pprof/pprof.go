// Package pprof ingests profiles in the pprof protocol buffer format.
package pprof

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/pprof/profile"
	"github.com/rs/zerolog"

	graph "github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
)

// Parse reads a pprof profile, compressed or not, and builds a call graph
// from the default sample type.
func Parse(r io.Reader, logger zerolog.Logger) (*graph.Profile, error) {
	prof, err := profile.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("decode pprof: %w", err)
	}
	return Convert(prof, "", logger)
}

// SampleIndex returns the index of sampleType in prof's sample values. An
// empty sampleType selects the profile's default type, or the first one.
func SampleIndex(prof *profile.Profile, sampleType string) (int, error) {
	if len(prof.SampleType) == 0 {
		return 0, fmt.Errorf("profile has no sample types")
	}
	if sampleType == "" {
		sampleType = prof.DefaultSampleType
		if sampleType == "" {
			return 0, nil
		}
	}
	for i, st := range prof.SampleType {
		if st.Type == sampleType {
			return i, nil
		}
	}
	return 0, fmt.Errorf("sample type %q not found", sampleType)
}

// Convert builds a call graph from an already decoded profile.
func Convert(prof *profile.Profile, sampleType string, logger zerolog.Logger) (*graph.Profile, error) {
	idx, err := SampleIndex(prof, sampleType)
	if err != nil {
		return nil, err
	}
	st := prof.SampleType[idx]
	logger.Debug().
		Str("type", st.Type).
		Str("unit", st.Unit).
		Int("samples", len(prof.Sample)).
		Msg("converting pprof profile")

	c := &converter{p: graph.New(logger)}
	c.p.Set(measure.Samples, 0)

	var stack []*graph.Function
	for _, sample := range prof.Sample {
		if idx >= len(sample.Value) {
			logger.Warn().Int("values", len(sample.Value)).Msg("sample has too few values")
			continue
		}
		value := sample.Value[idx]
		if value == 0 {
			continue
		}

		// Locations are leaf first, and within a location the inlined
		// callee comes before the function it was inlined into.
		stack = stack[:0]
		for _, loc := range sample.Location {
			if len(loc.Line) == 0 {
				stack = append(stack, c.address(loc))
				continue
			}
			for _, line := range loc.Line {
				stack = append(stack, c.function(loc, line.Function))
			}
		}
		c.p.AddStack(stack, float64(value))
	}
	return c.p, nil
}

type converter struct {
	p *graph.Profile
}

func (c *converter) function(loc *profile.Location, fn *profile.Function) *graph.Function {
	name := fn.Name
	if name == "" {
		name = fn.SystemName
	}
	f, created := c.p.Intern(graph.FunctionID(name+":"+fn.Filename), name)
	if created {
		f.Filename = fn.Filename
		f.Module = module(loc)
	}
	return f
}

// address stands in for a location that was never symbolized.
func (c *converter) address(loc *profile.Location) *graph.Function {
	name := fmt.Sprintf("0x%x", loc.Address)
	id := name
	if loc.Mapping != nil {
		id += "@" + loc.Mapping.File
	}
	f, created := c.p.Intern(graph.FunctionID(id), name)
	if created {
		f.Module = module(loc)
	}
	return f
}

func module(loc *profile.Location) string {
	if loc.Mapping == nil || loc.Mapping.File == "" {
		return ""
	}
	return filepath.Base(loc.Mapping.File)
}
