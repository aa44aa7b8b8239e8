package sqlfile

import (
	"fmt"
	"strings"

	"github.com/fernandezvara/querykit"
)

type paramKind int

const (
	paramValue paramKind = iota
	paramValueList
	paramIdent
	paramIdentList
	paramSQL
	paramSnippet
)

// typePrefixes maps ":<prefix>:name" placeholder prefixes to param kinds
var typePrefixes = map[string]paramKind{
	"v":    paramValue,
	"v*":   paramValueList,
	"i":    paramIdent,
	"i*":   paramIdentList,
	"sql":  paramSQL,
	"snip": paramSnippet,
}

type segment struct {
	text  string // literal SQL when param is empty
	param string
	kind  paramKind
}

// statement is the compiled form stored in QueryDefinition.Compiled
type statement struct {
	segments []segment
	quoting  querykit.Quoting
}

type block struct {
	name    string
	line    int
	snippet bool
	command string
	result  string
	doc     []string
	sql     []string
}

// Parse reads query definitions from src. ref names the source in errors.
func Parse(ref string, src []byte, quoting querykit.Quoting) ([]querykit.QueryDefinition, error) {
	var (
		defs []querykit.QueryDefinition
		cur  *block
	)

	finish := func() error {
		if cur == nil {
			return nil
		}
		def, err := cur.definition(ref, quoting)
		if err != nil {
			return err
		}
		defs = append(defs, def)
		return nil
	}

	for i, line := range strings.Split(string(src), "\n") {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "--") {
			directive := strings.TrimSpace(strings.TrimPrefix(trimmed, "--"))
			fields := strings.Fields(directive)
			if len(fields) == 0 {
				continue
			}
			switch fields[0] {
			case ":name", ":snip":
				if err := finish(); err != nil {
					return nil, err
				}
				if len(fields) < 2 {
					return nil, loadError(ref, lineNo, "%s without a name", fields[0])
				}
				cur = &block{name: fields[1], line: lineNo, snippet: fields[0] == ":snip"}
				if err := cur.tags(fields[2:]); err != nil {
					return nil, loadError(ref, lineNo, "%v", err)
				}
			case ":doc":
				if cur != nil {
					cur.doc = append(cur.doc, strings.TrimSpace(strings.TrimPrefix(directive, ":doc")))
				}
			case ":command", ":result":
				if cur == nil {
					return nil, loadError(ref, lineNo, "%s outside of a named block", fields[0])
				}
				if err := cur.tags(fields[1:]); err != nil {
					return nil, loadError(ref, lineNo, "%v", err)
				}
			}
			continue
		}

		if trimmed == "" {
			if cur != nil {
				cur.sql = append(cur.sql, "")
			}
			continue
		}
		if cur == nil {
			return nil, loadError(ref, lineNo, "SQL outside of a named block")
		}
		cur.sql = append(cur.sql, line)
	}

	if err := finish(); err != nil {
		return nil, err
	}
	return defs, nil
}

func (b *block) tags(tags []string) error {
	for _, t := range tags {
		switch t {
		case ":?", ":query", ":!", ":execute", ":<!", ":returning-execute", ":i!", ":insert":
			b.command = t
		case ":1", ":one", ":*", ":many", ":n", ":affected", ":raw":
			b.result = t
		default:
			return fmt.Errorf("unknown tag %s on %s", t, b.name)
		}
	}
	return nil
}

func (b *block) kind() querykit.Kind {
	if b.snippet {
		return querykit.KindSnippet
	}
	switch b.result {
	case ":1", ":one":
		return querykit.KindOne
	case ":*", ":many", ":raw":
		return querykit.KindMany
	case ":n", ":affected":
		return querykit.KindExecute
	}
	switch b.command {
	case ":!", ":execute", ":i!", ":insert":
		return querykit.KindExecute
	case ":?", ":query", ":<!", ":returning-execute":
		return querykit.KindMany
	}
	if strings.HasSuffix(b.name, "!") && !strings.HasSuffix(b.name, "<!") {
		return querykit.KindExecute
	}
	return querykit.KindMany
}

func (b *block) definition(ref string, quoting querykit.Quoting) (querykit.QueryDefinition, error) {
	sql := strings.TrimSpace(strings.Join(b.sql, "\n"))
	if sql == "" {
		return querykit.QueryDefinition{}, loadError(ref, b.line, "%s has no SQL", b.name)
	}
	segments, params, err := compile(sql)
	if err != nil {
		return querykit.QueryDefinition{}, loadError(ref, b.line, "%s: %v", b.name, err)
	}
	return querykit.QueryDefinition{
		Name:     b.name,
		Doc:      strings.Join(b.doc, "\n"),
		Kind:     b.kind(),
		Params:   params,
		File:     ref,
		Compiled: &statement{segments: segments, quoting: quoting},
	}, nil
}

// compile splits sql into literal text and placeholders. Quoted strings,
// quoted identifiers, comments and "::" casts are kept as literal text.
func compile(sql string) ([]segment, []string, error) {
	var (
		segments []segment
		params   []string
		seen     = make(map[string]bool)
		lit      strings.Builder
	)

	flush := func() {
		if lit.Len() > 0 {
			segments = append(segments, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end, err := closingQuote(sql, i)
			if err != nil {
				return nil, nil, err
			}
			lit.WriteString(sql[i : end+1])
			i = end + 1

		case c == '-' && strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				end = len(sql) - i
			}
			lit.WriteString(sql[i : i+end])
			i += end

		case c == '/' && strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return nil, nil, fmt.Errorf("unterminated block comment")
			}
			lit.WriteString(sql[i : i+2+end+2])
			i += 2 + end + 2

		case c == ':' && strings.HasPrefix(sql[i:], "::"):
			lit.WriteString("::")
			i += 2

		case c == ':' && i+1 < len(sql) && isIdentStart(sql[i+1]):
			seg, next := placeholder(sql, i)
			flush()
			segments = append(segments, seg)
			if !seen[seg.param] {
				seen[seg.param] = true
				params = append(params, seg.param)
			}
			i = next

		default:
			lit.WriteByte(c)
			i++
		}
	}
	flush()
	return segments, params, nil
}

// placeholder parses ":name" or ":<prefix>:name" starting at sql[i]
func placeholder(sql string, i int) (segment, int) {
	j := i + 1
	first := identAt(sql, j)
	j += len(first)

	prefix := first
	if j < len(sql) && sql[j] == '*' {
		prefix += "*"
	}
	if kind, ok := typePrefixes[prefix]; ok {
		k := i + 1 + len(prefix)
		if k+1 < len(sql) && sql[k] == ':' && isIdentStart(sql[k+1]) {
			name := identAt(sql, k+1)
			return segment{param: name, kind: kind}, k + 1 + len(name)
		}
	}
	return segment{param: first, kind: paramValue}, j
}

func identAt(s string, i int) string {
	j := i
	for j < len(s) {
		c := s[j]
		switch {
		case isIdentStart(c) || (c >= '0' && c <= '9'):
			j++
		case c == '-' && j+1 < len(s) && s[j+1] != '-' && (isIdentStart(s[j+1]) || (s[j+1] >= '0' && s[j+1] <= '9')):
			j++
		default:
			return s[i:j]
		}
	}
	return s[i:j]
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// closingQuote returns the index of the quote closing the one at sql[i].
// A doubled quote is an escaped quote.
func closingQuote(sql string, i int) (int, error) {
	q := sql[i]
	for j := i + 1; j < len(sql); j++ {
		if sql[j] != q {
			continue
		}
		if j+1 < len(sql) && sql[j+1] == q {
			j++
			continue
		}
		return j, nil
	}
	return 0, fmt.Errorf("unterminated %c quote", q)
}

func loadError(ref string, line int, format string, args ...any) error {
	return &querykit.Error{
		Code:    querykit.CodeQueryLoad,
		Op:      "Load",
		Message: fmt.Sprintf("%s:%d: %s", ref, line, fmt.Sprintf(format, args...)),
	}
}
