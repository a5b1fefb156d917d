// Package perf ingests the callchain output of "perf script" for samples
// recorded with "perf record -g".
package perf

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
)

var (
	frameRe  = regexp.MustCompile(`^\s+(?P<address>[0-9a-fA-F]+)\s+(?P<symbol>.*)\s+\((?P<module>.*)\)$`)
	offsetRe = regexp.MustCompile(`\+0x[0-9a-fA-F]+$`)
)

// Parse reads blank line separated events. Each event is a header line
// followed by its callchain, leaf first. Every event counts as one sample.
func Parse(r io.Reader, logger zerolog.Logger) (*profile.Profile, error) {
	ps := &parser{
		p:      profile.New(logger),
		logger: logger,
	}
	ps.p.Set(measure.Samples, 0)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	inEvent := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case line == "":
			ps.flush()
			inEvent = false
		case !inEvent:
			inEvent = true
		default:
			ps.frame(line, lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read perf script: %w", err)
	}
	ps.flush()
	return ps.p, nil
}

type parser struct {
	p      *profile.Profile
	logger zerolog.Logger
	stack  []*profile.Function
}

func (ps *parser) flush() {
	ps.p.AddStack(ps.stack, 1)
	ps.stack = ps.stack[:0]
}

func (ps *parser) frame(line string, lineNo int) {
	m := frameRe.FindStringSubmatch(line)
	if m == nil {
		ps.logger.Warn().Int("line", lineNo).Str("text", line).Msg("unrecognized callchain frame")
		return
	}
	address, symbol, module := m[1], m[2], m[3]

	name := offsetRe.ReplaceAllString(symbol, "")
	if name == "" || name == "[unknown]" {
		name = address
	}

	f, created := ps.p.Intern(profile.FunctionID(name+":"+module), name)
	if created {
		f.Module = filepath.Base(module)
	}
	ps.stack = append(ps.stack, f)
}
