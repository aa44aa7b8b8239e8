package querykit

import (
	"context"
	"io/fs"
	"strings"

	"github.com/uptrace/bun"
)

// Kind is what an operation does and what it returns
type Kind int

const (
	KindMany    Kind = iota // multi-row query, returns rows
	KindOne                 // single-row query, returns the first row or nil
	KindExecute             // statement, returns the affected-row count
	KindSnippet             // SQL fragment for embedding in other queries
)

func (k Kind) String() string {
	switch k {
	case KindMany:
		return "many"
	case KindOne:
		return "one"
	case KindExecute:
		return "execute"
	case KindSnippet:
		return "snippet"
	}
	return "unknown"
}

// MarshalText renders the kind by name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// QueryDefinition is a named statement produced by a Compiler
type QueryDefinition struct {
	Name     string
	Doc      string
	Kind     Kind
	Params   []string // parameter names in order of first appearance
	File     string   // file the definition was loaded from
	Compiled any      // compiler-private representation
}

// Params maps parameter names to values
type Params map[string]any

// Quoting selects how identifier parameters are quoted
type Quoting string

const (
	QuotingOff   Quoting = ""
	QuotingANSI  Quoting = "ansi"  // "name"
	QuotingMySQL Quoting = "mysql" // `name`
	QuotingMSSQL Quoting = "mssql" // [name]
)

// ParseQuoting accepts "ansi", "mysql", "mssql" and "off" in any case.
// The empty string means no quoting.
func ParseQuoting(s string) (Quoting, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "off" {
		return QuotingOff, nil
	}
	switch q := Quoting(norm); q {
	case QuotingOff, QuotingANSI, QuotingMySQL, QuotingMSSQL:
		return q, nil
	}
	return "", newError(CodeConfiguration, "ParseQuoting", "unknown identifier quoting %q", s)
}

// LoadOptions are passed through to Compiler.Load
type LoadOptions struct {
	FS      fs.FS // where query files are read from (default: working directory)
	Quoting Quoting
}

// ExecOptions are per-call execution options
type ExecOptions struct {
	Quoting Quoting // overrides the quoting chosen at load time
	Into    any     // scan rows into this destination instead of maps
}

// Fragment is rendered SQL with its positional arguments. SQL uses bun's
// placeholder syntax: ? binds the next argument and \? is a literal
// question mark.
type Fragment struct {
	SQL  string
	Args []any
}

// Row is a single result row keyed by column name
type Row map[string]any

// Result is what an operation returns
type Result struct {
	Kind         Kind  `json:"kind"`
	RowsAffected int64 `json:"rows_affected"`
	Rows         []Row `json:"rows,omitempty"`
}

// One returns the first row, or nil when there is none
func (r *Result) One() Row {
	if r == nil || len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// Compiler turns query files into definitions and runs them. Errors from
// Execute are propagated to callers unchanged.
type Compiler interface {
	// Load parses one query file. Failures should be QueryLoadErrors.
	Load(ref string, opts LoadOptions) ([]QueryDefinition, error)

	// Render produces SQL and arguments without touching a connection.
	Render(q QueryDefinition, params Params, opts ExecOptions) (Fragment, error)

	// Execute runs q on conn. flags are compiler-specific command overrides.
	Execute(ctx context.Context, conn bun.IDB, q QueryDefinition, params Params, opts ExecOptions, flags ...string) (*Result, error)
}
