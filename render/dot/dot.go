// Package dot renders a derived, pruned profile as a Graphviz DOT graph.
package dot

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/Emyrk/profgraph/profile"
	"github.com/Emyrk/profgraph/profile/measure"
)

const (
	// maxNameLen keeps quoted strings within dot's lexer buffer.
	maxNameLen = 4096
	// maxIDLen is the longest node id written verbatim; longer ids are hashed.
	maxIDLen = 1024
)

// Options control what a Writer puts in the graph.
type Options struct {
	Theme Theme
	// Strip removes parameter and template lists from C++ names.
	Strip bool
	// Wrap breaks long names over several lines.
	Wrap bool
	// NodeKinds are the measurements shown on each node, in order.
	NodeKinds []measure.Kind
	// EdgeKinds are the measurements shown on each edge, in order.
	EdgeKinds []measure.Kind
	Formatter measure.Formatter
}

// DefaultOptions shows inclusive and self time ratios on the color theme.
func DefaultOptions() Options {
	kinds, _ := measure.ParseLabels(measure.DefaultLabels)
	return Options{
		Theme:     themes[DefaultTheme],
		NodeKinds: kinds,
		EdgeKinds: []measure.Kind{measure.TotalTimeRatio, measure.Calls},
		Formatter: measure.DefaultFormatter,
	}
}

type Writer struct {
	opts   Options
	logger zerolog.Logger
}

func NewWriter(opts Options, logger zerolog.Logger) *Writer {
	return &Writer{opts: opts, logger: logger}
}

type attr struct {
	Name  string
	Value string
}

type dotNode struct {
	ID    string
	Attrs []attr
}

type dotEdge struct {
	From, To string
	Attrs    []attr
}

type dotGraph struct {
	GraphAttrs []attr
	NodeAttrs  []attr
	EdgeAttrs  []attr
	Nodes      []dotNode
	Edges      []dotEdge
}

var graphTemplate = template.Must(template.New("dot").Funcs(template.FuncMap{
	"attrs": attrList,
}).Parse(`digraph {
	tooltip=" "
	graph{{attrs .GraphAttrs}};
	node{{attrs .NodeAttrs}};
	edge{{attrs .EdgeAttrs}};
{{- range .Nodes}}
	{{.ID}}{{attrs .Attrs}};
{{- end}}
{{- range .Edges}}
	{{.From}} -> {{.To}}{{attrs .Attrs}};
{{- end}}
}
`))

// Write renders p. Functions and calls are emitted sorted by id so output is
// reproducible.
func (w *Writer) Write(out io.Writer, p *profile.Profile) error {
	t := w.opts.Theme
	g := dotGraph{
		GraphAttrs: sortedAttrs(
			attr{"fontname", t.FontName},
			attr{"ranksep", "0.25"},
			attr{"nodesep", "0.125"},
			attr{"bgcolor", t.BackgroundColor().Hex()},
		),
		NodeAttrs: sortedAttrs(
			attr{"fontname", t.FontName},
			attr{"shape", "box"},
			attr{"style", t.NodeStyle},
			attr{"fontcolor", t.FontColor},
			attr{"width", "0"},
			attr{"height", "0"},
		),
		EdgeAttrs: sortedAttrs(attr{"fontname", t.FontName}),
	}

	functions := p.Functions()
	sort.Slice(functions, func(i, j int) bool { return functions[i].ID < functions[j].ID })
	for _, f := range functions {
		weight, _ := f.Weight()
		attrs := []attr{
			{"label", w.nodeLabel(f)},
			{"color", t.NodeColor(weight).Hex()},
			{"fontcolor", t.NodeFontColor(weight).Hex()},
			{"fontsize", fmt.Sprintf("%.2f", t.FontSize(weight))},
		}
		if f.Filename != "" {
			attrs = append(attrs, attr{"tooltip", f.Filename})
		}
		g.Nodes = append(g.Nodes, dotNode{ID: nodeID(string(f.ID)), Attrs: sortedAttrs(attrs...)})

		calls := f.Calls()
		sort.Slice(calls, func(i, j int) bool { return calls[i].CalleeID < calls[j].CalleeID })
		for _, call := range calls {
			callee, ok := p.Function(call.CalleeID)
			if !ok {
				continue
			}
			weight, ok := call.Weight()
			if !ok {
				weight, _ = callee.Weight()
			}
			color := t.Color(weight).Hex()
			penWidth := fmt.Sprintf("%.2f", t.PenWidth(weight))
			g.Edges = append(g.Edges, dotEdge{
				From: nodeID(string(f.ID)),
				To:   nodeID(string(call.CalleeID)),
				Attrs: sortedAttrs(
					attr{"label", w.labels(&call.Values, w.opts.EdgeKinds)},
					attr{"color", color},
					attr{"fontcolor", color},
					attr{"fontsize", fmt.Sprintf("%.2f", t.FontSize(weight))},
					attr{"penwidth", penWidth},
					attr{"labeldistance", penWidth},
					attr{"arrowsize", fmt.Sprintf("%.2f", t.ArrowSize(weight))},
				),
			})
		}
	}

	if err := graphTemplate.Execute(out, g); err != nil {
		return fmt.Errorf("render dot: %w", err)
	}
	return nil
}

func (w *Writer) nodeLabel(f *profile.Function) string {
	var lines []string
	if f.Process != "" {
		lines = append(lines, f.Process)
	}
	if f.Module != "" {
		lines = append(lines, f.Module)
	}

	name := f.Name
	if w.opts.Strip {
		name = f.StrippedName()
	}
	if runes := []rune(name); len(runes) >= maxNameLen {
		w.logger.Warn().
			Int("length", len(runes)).
			Str("prefix", string(runes[:32])).
			Msg("truncating function name")
		name = string(runes[:maxNameLen-1]) + "…"
	}
	if w.opts.Wrap {
		name = wrapName(name)
	}
	lines = append(lines, name)

	if s := w.labels(&f.Values, w.opts.NodeKinds); s != "" {
		lines = append(lines, s)
	}
	if n, ok := f.Called(); ok {
		lines = append(lines, fmt.Sprintf("%d×", n))
	}
	return strings.Join(lines, "\n")
}

func (w *Writer) labels(v *measure.Values, kinds []measure.Kind) string {
	var lines []string
	for _, k := range kinds {
		if val, ok := v.Get(k); ok {
			lines = append(lines, w.opts.Formatter.Format(k, val))
		}
	}
	return strings.Join(lines, "\n")
}

// wrapWidth is the widest line wrapName produces, unless a single word is
// wider.
const wrapWidth = 32

// wrapName breaks long names at spaces, then squeezes separator spaces.
func wrapName(name string) string {
	if len([]rune(name)) > wrapWidth {
		name = fill(name, wrapWidth)
	}
	name = strings.ReplaceAll(name, ", ", ",")
	name = strings.ReplaceAll(name, "> >", ">>")
	name = strings.ReplaceAll(name, "> >", ">>")
	return name
}

// fill greedily packs space separated words into lines of at most width
// runes. Words longer than width are never broken.
func fill(s string, width int) string {
	words := strings.Fields(s)
	var b strings.Builder
	lineLen := 0
	for i, word := range words {
		wl := len([]rune(word))
		switch {
		case i == 0:
		case lineLen+1+wl > width:
			b.WriteByte('\n')
			lineLen = 0
		default:
			b.WriteByte(' ')
			lineLen++
		}
		b.WriteString(word)
		lineLen += wl
	}
	return b.String()
}

func sortedAttrs(attrs ...attr) []attr {
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	return attrs
}

func attrList(attrs []attr) string {
	if len(attrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		parts = append(parts, a.Name+"="+quote(a.Value))
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

// nodeID quotes id, hashing ids too long for dot to accept.
func nodeID(id string) string {
	if len(id) > maxIDLen {
		sum := sha1.Sum([]byte(id))
		id = "_" + hex.EncodeToString(sum[:])
	}
	return quote(id)
}

// quote leaves plain alphanumeric identifiers bare and escapes the rest.
func quote(s string) string {
	if s != "" && !strings.HasPrefix(s, "0x") && isAlnum(s) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\t", `\t`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
