// Package jsonprof ingests the generic JSON profile representation: a table
// of functions and a list of events, each with a leaf first callchain of
// function indexes and a cost.
package jsonprof

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
)

// Version is the only schema version understood.
const Version = 0

var ErrInvalid = errors.New("jsonprof: invalid document")

type Document struct {
	Version   int        `json:"version"`
	Functions []Function `json:"functions"`
	Events    []Event    `json:"events"`
}

type Function struct {
	Name    string `json:"name"`
	Module  string `json:"module,omitempty"`
	Process string `json:"process,omitempty"`
}

type Event struct {
	Callchain []int     `json:"callchain"`
	Cost      []float64 `json:"cost"`
}

func Parse(r io.Reader, logger zerolog.Logger) (*profile.Profile, error) {
	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode json profile: %w", err)
	}
	return Convert(doc, logger)
}

// Convert builds a call graph from a decoded document. The first function of
// every callchain has its call count incremented.
func Convert(doc Document, logger zerolog.Logger) (*profile.Profile, error) {
	if doc.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalid, doc.Version)
	}

	p := profile.New(logger)
	p.Set(measure.Samples, 0)
	functions := make([]*profile.Function, len(doc.Functions))
	for i, fn := range doc.Functions {
		f := profile.NewFunction(profile.FunctionID(strconv.Itoa(i)), fn.Name)
		f.Module = fn.Module
		f.Process = fn.Process
		f.Set(measure.Samples, 0)
		f.SetCalled(0)
		p.AddFunction(f)
		functions[i] = f
	}

	for n, event := range doc.Events {
		if len(event.Callchain) == 0 || len(event.Cost) == 0 {
			return nil, fmt.Errorf("%w: event %d needs a callchain and a cost", ErrInvalid, n)
		}
		for _, idx := range event.Callchain {
			if idx < 0 || idx >= len(functions) {
				return nil, fmt.Errorf("%w: event %d references function %d", ErrInvalid, n, idx)
			}
		}

		cost := event.Cost[0]
		callee := functions[event.Callchain[0]]
		callee.AddCalled(1)
		callee.Add(measure.Samples, cost)
		p.Add(measure.Samples, cost)

		for _, idx := range event.Callchain[1:] {
			caller := functions[idx]
			caller.GetOrAddCall(callee.ID).Add(measure.Samples2, cost)
			callee = caller
		}
	}
	return p, nil
}
