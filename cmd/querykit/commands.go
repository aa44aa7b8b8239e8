package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fernandezvara/querykit"
	"github.com/fernandezvara/querykit/sqlfile"
)

func newPingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect and report pool health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := opts.connect(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer querykit.Disconnect(pool)
			return writeJSON(cmd.OutOrStdout(), pool.Health(cmd.Context()))
		},
	}
}

func newListCmd() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the statements defined in query files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := sqlfile.New()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tPARAMS\tFILE\tDOC")
			for _, f := range files {
				defs, err := c.Load(f, querykit.LoadOptions{})
				if err != nil {
					return err
				}
				for _, d := range defs {
					fmt.Fprintf(tw, "%s\t%s\t%v\t%s\t%s\n", d.Name, d.Kind, d.Params, d.File, d.Doc)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "query file (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

type runOptions struct {
	files     []string
	params    string
	quoting   string
	flags     []string
	tx        bool
	isolation string
	readOnly  bool
	rollback  bool

	quote querykit.Quoting
	iso   querykit.Isolation
}

// validate parses the enumerated flags before anything is opened
func (o *runOptions) validate() error {
	var err error
	if o.quote, err = querykit.ParseQuoting(o.quoting); err != nil {
		return err
	}
	if o.iso, err = querykit.ParseIsolation(o.isolation); err != nil {
		return err
	}
	return nil
}

// inTx reports whether any transaction flag was given. --rollback,
// --read-only and --isolation all imply --tx.
func (o *runOptions) inTx() bool {
	return o.tx || o.rollback || o.readOnly || o.iso != querykit.IsolationDefault
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run NAME",
		Short: "Run a named statement and print its result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			pool, err := root.connect(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer querykit.Disconnect(pool)

			res, err := opts.run(cmd.Context(), pool, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), printable(res))
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.files, "file", "f", nil, "query file (repeatable, later files win)")
	f.StringVarP(&opts.params, "params", "p", "{}", "parameters as a JSON object")
	f.StringVar(&opts.quoting, "quoting", "", "identifier quoting: off, ansi, mysql, mssql")
	f.StringSliceVar(&opts.flags, "flag", nil, "command/result override, e.g. :1 or :n")
	f.BoolVar(&opts.tx, "tx", false, "run inside a transaction")
	f.StringVar(&opts.isolation, "isolation", "", "transaction isolation level (implies --tx)")
	f.BoolVar(&opts.readOnly, "read-only", false, "open the transaction read-only (implies --tx)")
	f.BoolVar(&opts.rollback, "rollback", false, "roll the transaction back instead of committing (implies --tx)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (o *runOptions) run(ctx context.Context, pool *querykit.Pool, name string) (*querykit.Result, error) {
	db := querykit.NewCell("db")
	db.Set(pool)

	q, err := querykit.Bind(db, sqlfile.New(), o.files, querykit.LoadOptions{Quoting: o.quote})
	if err != nil {
		return nil, err
	}
	op, ok := q.Op(name)
	if !ok {
		return nil, fmt.Errorf("no statement named %q in %v", name, o.files)
	}

	var params querykit.Params
	if err := json.Unmarshal([]byte(o.params), &params); err != nil {
		return nil, fmt.Errorf("invalid --params: %w", err)
	}

	call := func(ctx context.Context) (*querykit.Result, error) {
		return op.ExecOn(ctx, db, params, querykit.ExecOptions{}, o.flags...)
	}
	if !o.inTx() {
		return call(ctx)
	}

	var res *querykit.Result
	err = querykit.WithTransaction(ctx, db, querykit.TxOptions{Isolation: o.iso, ReadOnly: o.readOnly},
		func(ctx context.Context, tx *querykit.Tx) error {
			var err error
			res, err = call(ctx)
			if o.rollback {
				tx.SetRollbackOnly()
			}
			return err
		})
	return res, err
}

// printable turns []byte column values into strings so they are not
// base64-encoded in JSON output
func printable(res *querykit.Result) *querykit.Result {
	if res == nil {
		return res
	}
	for _, row := range res.Rows {
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
	}
	return res
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
