// Package callgrind ingests the profile data format written by valgrind's
// callgrind tool. The first event column drives sample counts.
package callgrind

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
)

var ErrMalformed = errors.New("callgrind: malformed input")

var (
	keyRe      = regexp.MustCompile(`^(\w+):`)
	subPos     = `(0x[0-9a-fA-F]+|\d+|\+\d+|-\d+|\*)`
	costRe     = regexp.MustCompile(`^` + subPos + `( +` + subPos + `)*( +\d+)*$`)
	positionRe = regexp.MustCompile(`^(?P<position>[cj]?(?:ob|fl|fi|fe|fn))=\s*(?:\((?P<id>\d+)\))?(?:\s*(?P<name>.+))?`)
)

// Name compression tables are shared between a position and its call
// variant: "(3)" under cfn refers to the same name as "(3)" under fn.
var positionTable = map[string]string{
	"ob": "ob", "fl": "fl", "fi": "fl", "fe": "fl", "fn": "fn",
	"cob": "ob", "cfl": "fl", "cfi": "fl", "cfe": "fl", "cfn": "fn",
	"jfi": "fl",
}

// positionSlot is where the current value of a position spec is kept.
var positionSlot = map[string]string{
	"ob": "ob", "fl": "fl", "fi": "fl", "fe": "fl", "fn": "fn",
	"cob": "cob", "cfl": "cfl", "cfi": "cfl", "cfe": "cfl", "cfn": "cfn",
	"jfi": "jfi",
}

var (
	headerKeys  = map[string]bool{"cmd": true, "pid": true, "thread": true, "part": true, "desc": true, "event": true, "summary": true, "totals": true}
	costDefKeys = map[string]bool{"events": true, "positions": true}
)

type tableKey struct {
	table string
	id    string
}

type parser struct {
	scanner *bufio.Scanner
	line    string
	eof     bool
	lineNo  int

	p      *profile.Profile
	logger zerolog.Logger

	names     map[tableKey]string
	positions map[string]string

	numPositions  int
	lastPositions []int64
	events        []string
}

func Parse(r io.Reader, logger zerolog.Logger) (*profile.Profile, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	ps := &parser{
		scanner:       scanner,
		p:             profile.New(logger),
		logger:        logger,
		names:         make(map[tableKey]string),
		positions:     make(map[string]string),
		numPositions:  1,
		lastPositions: []int64{0},
	}
	ps.p.Set(measure.Samples, 0)
	if err := ps.parse(); err != nil {
		return nil, err
	}
	return ps.p, nil
}

// readline advances to the next line that is not a comment.
func (ps *parser) readline() {
	for {
		if !ps.scanner.Scan() {
			ps.line = ""
			ps.eof = true
			return
		}
		ps.lineNo++
		ps.line = strings.TrimRight(ps.scanner.Text(), "\r\n")
		if !strings.HasPrefix(ps.line, "#") {
			return
		}
	}
}

func (ps *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformed, ps.lineNo, fmt.Sprintf(format, args...))
}

func (ps *parser) parse() error {
	ps.readline()
	ps.key(map[string]bool{"version": true})
	ps.key(map[string]bool{"creator": true})

	for {
		ok, err := ps.part()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	if err := ps.scanner.Err(); err != nil {
		return fmt.Errorf("read callgrind: %w", err)
	}
	if !ps.eof {
		ps.logger.Warn().Int("line", ps.lineNo).Str("text", ps.line).Msg("unexpected line")
	}
	return nil
}

func (ps *parser) part() (bool, error) {
	if !ps.header() {
		return false, nil
	}
	for ps.header() {
	}

	ok, err := ps.body()
	if err != nil || !ok {
		return false, err
	}
	for {
		ok, err := ps.body()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
	}
}

func (ps *parser) header() bool {
	if ps.empty() {
		return true
	}
	if _, _, ok := ps.key(headerKeys); ok {
		return true
	}
	key, value, ok := ps.key(costDefKeys)
	if !ok {
		return false
	}
	items := strings.Fields(value)
	switch key {
	case "events":
		ps.events = items
	case "positions":
		ps.numPositions = len(items)
		ps.lastPositions = make([]int64, len(items))
	}
	return true
}

func (ps *parser) body() (bool, error) {
	if ps.empty() {
		return true, nil
	}
	if ok, err := ps.costLine(nil); ok || err != nil {
		return ok, err
	}
	if ps.positionSpec() {
		return true, nil
	}
	return ps.association()
}

func (ps *parser) empty() bool {
	if ps.eof || strings.TrimSpace(ps.line) != "" {
		return false
	}
	ps.readline()
	return true
}

// key consumes a "key: value" line whose key is in keys.
func (ps *parser) key(keys map[string]bool) (string, string, bool) {
	if ps.eof || !keyRe.MatchString(ps.line) {
		return "", "", false
	}
	key, value, _ := strings.Cut(ps.line, ":")
	if !keys[key] {
		return "", "", false
	}
	ps.readline()
	return key, strings.TrimSpace(value), true
}

// costLine consumes a line of positions followed by event costs. With calls
// set it is the cost of the call announced by the preceding calls= line.
func (ps *parser) costLine(calls *uint64) (bool, error) {
	line := strings.TrimRight(ps.line, " \t")
	if ps.eof || !costRe.MatchString(line) {
		return false, nil
	}
	if len(ps.events) == 0 {
		return false, ps.errorf("cost line before events specification")
	}

	fn := ps.function()
	if calls == nil {
		// The call object defaults to the caller's object, not the last
		// call object.
		if ob, ok := ps.positions["ob"]; ok {
			ps.positions["cob"] = ob
		}
	}

	values := strings.Fields(line)
	if len(values) > ps.numPositions+len(ps.events) {
		return false, ps.errorf("%d values for %d positions and %d events", len(values), ps.numPositions, len(ps.events))
	}
	npos := min(ps.numPositions, len(values))
	for i, pos := range values[:npos] {
		v, err := ps.position(i, pos)
		if err != nil {
			return false, ps.errorf("position %q: %v", pos, err)
		}
		ps.lastPositions[i] = v
	}

	cost := 0.0
	if costs := values[npos:]; len(costs) > 0 {
		var err error
		cost, err = strconv.ParseFloat(costs[0], 64)
		if err != nil {
			return false, ps.errorf("cost %q: %v", costs[0], err)
		}
	}

	if calls == nil {
		fn.Add(measure.Samples, cost)
		ps.p.Add(measure.Samples, cost)
	} else {
		callee := ps.callee()
		callee.AddCalled(*calls)
		call := fn.GetOrAddCall(callee.ID)
		call.Add(measure.Calls, float64(*calls))
		call.Add(measure.Samples2, cost)
	}

	ps.readline()
	return true, nil
}

func (ps *parser) position(i int, pos string) (int64, error) {
	switch {
	case pos == "*":
		return ps.lastPositions[i], nil
	case pos[0] == '+' || pos[0] == '-':
		delta, err := strconv.ParseInt(pos, 10, 64)
		return ps.lastPositions[i] + delta, err
	case strings.HasPrefix(pos, "0x"):
		return strconv.ParseInt(pos[2:], 16, 64)
	}
	return strconv.ParseInt(pos, 10, 64)
}

// association consumes a calls= line and the cost line that follows it.
func (ps *parser) association() (bool, error) {
	value, ok := strings.CutPrefix(ps.line, "calls=")
	if ps.eof || !ok {
		return false, nil
	}
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return false, ps.errorf("calls without a count")
	}
	calls, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return false, ps.errorf("calls %q: %v", fields[0], err)
	}
	ps.readline()

	if _, err := ps.costLine(&calls); err != nil {
		return false, err
	}
	return true, nil
}

func (ps *parser) positionSpec() bool {
	if ps.eof {
		return false
	}
	if strings.HasPrefix(ps.line, "jump=") || strings.HasPrefix(ps.line, "jcnd=") {
		ps.readline()
		return true
	}
	m := positionRe.FindStringSubmatch(ps.line)
	if m == nil {
		return false
	}
	position, id, name := m[1], m[2], m[3]
	slot, known := positionSlot[position]
	if !known {
		ps.readline()
		return true
	}
	if id != "" {
		key := tableKey{table: positionTable[position], id: id}
		if name != "" {
			ps.names[key] = name
		} else {
			name = ps.names[key]
		}
	}
	ps.positions[slot] = name
	ps.readline()
	return true
}

func (ps *parser) function() *profile.Function {
	return ps.intern(ps.positions["ob"], ps.positions["fl"], ps.positions["fn"])
}

func (ps *parser) callee() *profile.Function {
	return ps.intern(ps.positions["cob"], ps.positions["cfl"], ps.positions["cfn"])
}

// intern keys functions by name alone; objects and files are not tracked
// reliably enough across name compression to disambiguate.
func (ps *parser) intern(object, file, name string) *profile.Function {
	id := profile.FunctionID(name)
	if f, ok := ps.p.Function(id); ok {
		return f
	}
	f := profile.NewFunction(id, name)
	if object != "" {
		f.Module = filepath.Base(object)
	}
	f.Filename = file
	f.Set(measure.Samples, 0)
	f.SetCalled(0)
	ps.p.AddFunction(f)
	return f
}
