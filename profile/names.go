package profile

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/Emyrk/profgraph/profile/measure"
)

var (
	parenthesisRe = regexp.MustCompile(`\([^()]*\)`)
	anglesRe      = regexp.MustCompile(`<[^<>]*>`)
	constRe       = regexp.MustCompile(`\s+const$`)
)

// StripName removes parameter lists, template arguments and a trailing const
// qualifier from a demangled C++ name.
func StripName(name string) string {
	name = removeNested(parenthesisRe, name)
	name = removeNested(anglesRe, name)
	return constRe.ReplaceAllString(name, "")
}

// removeNested deletes innermost groups until none are left.
func removeNested(re *regexp.Regexp, s string) string {
	for re.MatchString(s) {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

func (f *Function) StrippedName() string {
	return StripName(f.Name)
}

// globToRegexp translates a shell style pattern (*, ?, [...], [!...]) into an
// anchored regular expression. Unlike path.Match, * also matches '/', which
// appears in most qualified function names.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i + 1
			if j < len(pattern) && pattern[j] == '!' {
				j++
			}
			if j < len(pattern) && pattern[j] == ']' {
				j++
			}
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j >= len(pattern) {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : j]
			class = strings.ReplaceAll(class, `\`, `\\`)
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			} else if strings.HasPrefix(class, "^") {
				class = `\` + class
			}
			b.WriteString("[" + class + "]")
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	b.WriteString(`$`)
	return regexp.Compile(b.String())
}

// Select returns the ids of functions whose name matches the glob pattern.
func (p *Profile) Select(pattern string) ([]FunctionID, error) {
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	var ids []FunctionID
	for _, f := range p.Functions() {
		if re.MatchString(f.Name) {
			ids = append(ids, f.ID)
		}
	}
	return ids, nil
}

// ListFunctions writes the functions matched by selector. An empty selector,
// "+" or "*" lists everything as "id:\tname". A selector starting with "%"
// dumps every defined measurement of the matched functions instead.
func (p *Profile) ListFunctions(w io.Writer, selector string) error {
	detailed := strings.HasPrefix(selector, "%")
	selector = strings.TrimPrefix(selector, "%")
	if selector == "" || selector == "+" {
		selector = "*"
	}

	ids, err := p.Select(selector)
	if err != nil {
		return err
	}

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		f := p.functions[id]
		switch {
		case detailed:
			lines = append(lines, describeFunction(f))
		case selector == "*":
			lines = append(lines, fmt.Sprintf("%s:\t%s", f.ID, f.Name))
		default:
			lines = append(lines, f.Name)
		}
	}
	_, err = fmt.Fprintln(w, strings.Join(lines, ",\n"))
	return err
}

func describeFunction(f *Function) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t(%s)::", f.Name, f.ID)
	fields := []string{
		"module:=" + f.Module,
		"process:=" + f.Process,
		"filename:=" + f.Filename,
	}
	if n, ok := f.Called(); ok {
		fields = append(fields, fmt.Sprintf("called:=%d", n))
	}
	for _, k := range f.Defined() {
		v, _ := f.Get(k)
		fields = append(fields, fmt.Sprintf("%s:=%s", k.Key(), measure.DefaultFormatter.Format(k, v)))
	}
	fields = append(fields, fmt.Sprintf("calls:=%d", f.NumCalls()))
	b.WriteString("\n\t")
	b.WriteString(strings.Join(fields, ",\n\t"))
	return b.String()
}
