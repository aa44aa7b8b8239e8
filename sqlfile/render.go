package sqlfile

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun"

	"github.com/fernandezvara/querykit"
)

// ErrParameterMismatch is returned when params do not satisfy a statement
var ErrParameterMismatch = errors.New("sqlfile: parameter mismatch")

func mismatch(query, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrParameterMismatch, query, fmt.Sprintf(format, args...))
}

func render(q querykit.QueryDefinition, params querykit.Params, opts querykit.ExecOptions) (querykit.Fragment, error) {
	stmt, ok := q.Compiled.(*statement)
	if !ok {
		return querykit.Fragment{}, fmt.Errorf("sqlfile: %s was not compiled by sqlfile", q.Name)
	}
	quoting := stmt.quoting
	if opts.Quoting != querykit.QuotingOff {
		quoting = opts.Quoting
	}

	var (
		b    strings.Builder
		args []any
	)
	for _, seg := range stmt.segments {
		if seg.param == "" {
			b.WriteString(escapeText(seg.text))
			continue
		}
		v, ok := params[seg.param]
		if !ok {
			return querykit.Fragment{}, mismatch(q.Name, "missing parameter :%s", seg.param)
		}

		switch seg.kind {
		case paramValue:
			b.WriteByte('?')
			args = append(args, v)

		case paramValueList:
			rv := reflect.ValueOf(v)
			if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
				return querykit.Fragment{}, mismatch(q.Name, ":v*:%s needs a slice, got %T", seg.param, v)
			}
			if rv.Len() == 0 {
				return querykit.Fragment{}, mismatch(q.Name, ":v*:%s is empty", seg.param)
			}
			b.WriteByte('?')
			args = append(args, bun.In(v))

		case paramIdent:
			name, ok := v.(string)
			if !ok {
				return querykit.Fragment{}, mismatch(q.Name, ":i:%s needs a string, got %T", seg.param, v)
			}
			b.WriteString(escapeText(quoteIdent(name, quoting)))

		case paramIdentList:
			names, ok := v.([]string)
			if !ok || len(names) == 0 {
				return querykit.Fragment{}, mismatch(q.Name, ":i*:%s needs a non-empty []string, got %T", seg.param, v)
			}
			for i, name := range names {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(escapeText(quoteIdent(name, quoting)))
			}

		case paramSQL:
			raw, ok := v.(string)
			if !ok {
				return querykit.Fragment{}, mismatch(q.Name, ":sql:%s needs a string, got %T", seg.param, v)
			}
			b.WriteString(escapeText(raw))

		case paramSnippet:
			var frag querykit.Fragment
			switch f := v.(type) {
			case querykit.Fragment:
				frag = f
			case *querykit.Fragment:
				if f != nil {
					frag = *f
				}
			default:
				return querykit.Fragment{}, mismatch(q.Name, ":snip:%s needs a Fragment, got %T", seg.param, v)
			}
			b.WriteString(frag.SQL)
			args = append(args, frag.Args...)
		}
	}
	return querykit.Fragment{SQL: b.String(), Args: args}, nil
}

// escapeText escapes literal question marks so bun's formatter does not
// bind them, e.g. inside string literals or jsonb operators like ?|.
func escapeText(s string) string {
	return strings.ReplaceAll(s, "?", `\?`)
}

// quoteIdent quotes each dot-separated part of name
func quoteIdent(name string, quoting querykit.Quoting) string {
	var lq, rq string
	switch quoting {
	case querykit.QuotingANSI:
		lq, rq = `"`, `"`
	case querykit.QuotingMySQL:
		lq, rq = "`", "`"
	case querykit.QuotingMSSQL:
		lq, rq = "[", "]"
	default:
		return name
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = lq + strings.ReplaceAll(p, rq, rq+rq) + rq
	}
	return strings.Join(parts, ".")
}
