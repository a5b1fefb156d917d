// Package collapse ingests folded stacks as produced by stackcollapse
// scripts: one "frame;frame;leaf count" line per unique stack, root first.
package collapse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
)

// ErrMalformed is returned for lines that are not a stack and a count.
var ErrMalformed = errors.New("collapse: malformed input")

// frameRe matches frames annotated with their source position.
var frameRe = regexp.MustCompile(`^(?P<func>[^ ]+) \((?P<file>.*):(?P<line>[0-9]+)\)$`)

func Parse(r io.Reader, logger zerolog.Logger) (*profile.Profile, error) {
	p := profile.New(logger)
	p.Set(measure.Samples, 0)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	var stack []*profile.Function
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		idx := strings.LastIndexByte(line, ' ')
		if idx == -1 {
			return nil, fmt.Errorf("%w: line %d: missing count", ErrMalformed, lineNo)
		}
		count, err := strconv.ParseInt(line[idx+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformed, lineNo, err)
		}

		frames := strings.Split(line[:idx], ";")
		stack = stack[:0]
		for i := len(frames) - 1; i >= 0; i-- {
			stack = append(stack, function(p, frames[i]))
		}
		p.AddStack(stack, float64(count))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read collapsed stacks: %w", err)
	}
	return p, nil
}

func function(p *profile.Profile, frame string) *profile.Function {
	name, id, file := frame, frame, ""
	if m := frameRe.FindStringSubmatch(frame); m != nil {
		name, file = m[1], m[2]
		id = file + ":" + name
	}
	f, created := p.Intern(profile.FunctionID(id), name)
	if created {
		f.Module = file
	}
	return f
}
