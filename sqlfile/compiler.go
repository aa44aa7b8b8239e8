// Package sqlfile is the default querykit compiler. It reads SQL files made
// of named blocks:
//
//	-- :name insert-user! :! :n
//	-- :doc Insert a single user
//	INSERT INTO users (id, name) VALUES (:id, :name)
//
//	-- :name get-user :? :1
//	SELECT * FROM users WHERE id = :id
//
//	-- :snip by-name
//	name = :name
//
// and executes them through bun.
package sqlfile

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/uptrace/bun"

	"github.com/fernandezvara/querykit"
)

// Compiler implements querykit.Compiler
type Compiler struct{}

// Ensure Compiler implements querykit.Compiler
var _ querykit.Compiler = (*Compiler)(nil)

// New returns a compiler
func New() *Compiler {
	return &Compiler{}
}

// Load reads and parses ref from opts.FS, or from the working directory
// when no FS is given.
func (c *Compiler) Load(ref string, opts querykit.LoadOptions) ([]querykit.QueryDefinition, error) {
	var (
		b   []byte
		err error
	)
	switch {
	case opts.FS != nil:
		b, err = fs.ReadFile(opts.FS, ref)
	case filepath.IsAbs(ref):
		b, err = os.ReadFile(ref)
	default:
		b, err = fs.ReadFile(os.DirFS("."), filepath.ToSlash(filepath.Clean(ref)))
	}
	if err != nil {
		return nil, &querykit.Error{
			Code:    querykit.CodeQueryLoad,
			Op:      "Load",
			Message: "cannot read " + ref,
			Cause:   err,
		}
	}
	return Parse(ref, b, opts.Quoting)
}

// Render produces the SQL and positional arguments for params
func (c *Compiler) Render(q querykit.QueryDefinition, params querykit.Params, opts querykit.ExecOptions) (querykit.Fragment, error) {
	return render(q, params, opts)
}

// Execute runs q on conn. flags override the definition's command and
// result tags, e.g. ":1" to fetch a single row from a many-row query.
//
// Rows are scanned into maps unless opts.Into names a destination. A
// single-row query with no rows returns a Result without rows.
func (c *Compiler) Execute(ctx context.Context, conn bun.IDB, q querykit.QueryDefinition, params querykit.Params, opts querykit.ExecOptions, flags ...string) (*querykit.Result, error) {
	kind, err := applyFlags(q.Kind, flags)
	if err != nil {
		return nil, err
	}
	if kind == querykit.KindSnippet {
		return nil, mismatch(q.Name, "snippets cannot be executed")
	}

	frag, err := render(q, params, opts)
	if err != nil {
		return nil, err
	}
	query := conn.NewRaw(frag.SQL, frag.Args...)
	result := &querykit.Result{Kind: kind}

	if kind == querykit.KindExecute {
		res, err := query.Exec(ctx)
		if err != nil {
			return nil, querykit.ClassifyError(err, q.Name)
		}
		if result.RowsAffected, err = res.RowsAffected(); err != nil {
			result.RowsAffected = -1
		}
		return result, nil
	}

	if opts.Into != nil {
		if err := query.Scan(ctx, opts.Into); err != nil {
			return nil, querykit.ClassifyError(err, q.Name)
		}
		return result, nil
	}

	var rows []map[string]any
	if err := query.Scan(ctx, &rows); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, querykit.ClassifyError(err, q.Name)
	}
	if kind == querykit.KindOne && len(rows) > 1 {
		rows = rows[:1]
	}
	result.Rows = make([]querykit.Row, len(rows))
	for i, r := range rows {
		result.Rows[i] = querykit.Row(r)
	}
	return result, nil
}

func applyFlags(kind querykit.Kind, flags []string) (querykit.Kind, error) {
	for _, f := range flags {
		switch f {
		case ":!", ":execute", ":i!", ":insert", ":n", ":affected":
			kind = querykit.KindExecute
		case ":1", ":one":
			kind = querykit.KindOne
		case ":*", ":many", ":raw":
			kind = querykit.KindMany
		case ":?", ":query", ":<!", ":returning-execute":
			if kind == querykit.KindExecute {
				kind = querykit.KindMany
			}
		default:
			return kind, &querykit.Error{
				Code:    querykit.CodeArity,
				Op:      "Execute",
				Message: "unknown command flag " + f,
			}
		}
	}
	return kind, nil
}
