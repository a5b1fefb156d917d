// Package formats maps profiler output formats to the adapters that ingest
// them, and runs the derivation pipeline over the result.
package formats

import (
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/callgrind"
	"github.com/Emyrk/profgraph/profile/collapse"
	"github.com/Emyrk/profgraph/profile/eluded"
	"github.com/Emyrk/profgraph/profile/jsonprof"
	"github.com/Emyrk/profgraph/profile/perf"
	"github.com/Emyrk/profgraph/profile/pprof"
)

// Options configure a single Load.
type Options struct {
	// Total selects how inclusive ratios are derived. Formats that do not
	// record call stacks always use profile.CallRatios.
	Total  profile.TotalMethod
	Logger zerolog.Logger
}

// ParseFunc ingests one profile. The result carries Samples on every
// function and Samples2 on every call, and has not been derived yet.
type ParseFunc func(r io.Reader, logger zerolog.Logger) (*profile.Profile, error)

// Format describes one supported input format.
type Format struct {
	Name  string
	Parse ParseFunc
	// Stacks is set when the format records whole call stacks, which
	// allows profile.CallStacks totals.
	Stacks bool
	// Binary formats skip text decoding.
	Binary bool
}

var registry = map[string]Format{
	"pprof":     {Name: "pprof", Parse: pprof.Parse, Stacks: true, Binary: true},
	"collapse":  {Name: "collapse", Parse: collapse.Parse, Stacks: true},
	"perf":      {Name: "perf", Parse: perf.Parse, Stacks: true},
	"json":      {Name: "json", Parse: jsonprof.Parse},
	"callgrind": {Name: "callgrind", Parse: callgrind.Parse},
	"eluded":    {Name: "eluded", Parse: eluded.Parse, Stacks: true},
}

// Default is used when no format is given.
const Default = "pprof"

// Names lists the supported formats, sorted.
func Names() []string {
	names := maps.Keys(registry)
	sort.Strings(names)
	return names
}

func Lookup(name string) (Format, error) {
	if name == "" {
		name = Default
	}
	f, ok := registry[name]
	if !ok {
		return Format{}, fmt.Errorf("unknown format %q, expected one of %v", name, Names())
	}
	return f, nil
}

// Ingest decodes r and parses it as format without deriving anything.
func Ingest(format string, r io.Reader, logger zerolog.Logger) (*profile.Profile, error) {
	f, err := Lookup(format)
	if err != nil {
		return nil, err
	}

	dec, closeDec, err := Decompress(r)
	if err != nil {
		return nil, err
	}
	defer closeDec()
	if !f.Binary {
		dec = Text(dec)
	}

	p, err := f.Parse(dec, logger.With().Str("format", f.Name).Logger())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Name, err)
	}
	return p, nil
}

// Load ingests r and runs profile.Derive on it.
func Load(format string, r io.Reader, opts Options) (*profile.Profile, error) {
	f, err := Lookup(format)
	if err != nil {
		return nil, err
	}
	p, err := Ingest(f.Name, r, opts.Logger)
	if err != nil {
		return nil, err
	}

	method := opts.Total
	if method == "" || !f.Stacks {
		if method == profile.CallStacks {
			opts.Logger.Warn().
				Str("format", f.Name).
				Msg("format does not record call stacks, using call ratios for totals")
		}
		method = profile.CallRatios
	}
	if err := profile.Derive(p, method); err != nil {
		return nil, fmt.Errorf("derive %s: %w", f.Name, err)
	}
	return p, nil
}
