package querykit

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/fernandezvara/querykit/hooks"
)

// Shape identifies how an operation was called
type Shape int

const (
	ShapeNone              Shape = iota // ()
	ShapeConn                           // (conn)
	ShapeParams                         // (params)
	ShapeConnParams                     // (conn, params)
	ShapeConnParamsOptions              // (conn, params, options, flags...)
)

func (s Shape) String() string {
	switch s {
	case ShapeNone:
		return "none"
	case ShapeConn:
		return "conn"
	case ShapeParams:
		return "params"
	case ShapeConnParams:
		return "conn+params"
	case ShapeConnParamsOptions:
		return "conn+params+options"
	}
	return "unknown"
}

// Invocation is a classified operation call. Conn is nil when the
// connection comes from the operation's bound source.
type Invocation struct {
	Shape   Shape
	Conn    Source
	Params  Params
	Options ExecOptions
	Flags   []string
}

// Dispatch classifies args into one of the supported call shapes:
//
//	()                               context connection, no params
//	(conn)                           explicit connection, no params
//	(params)                         context connection
//	(conn, params)                   explicit connection
//	(conn, params, options, flags...) explicit connection, options, flags
//
// A conn is a Source or a bun.IDB, params are Params or map[string]any,
// options are ExecOptions or *ExecOptions and flags are strings. Any other
// combination is an ArityError.
func Dispatch(args ...any) (Invocation, error) {
	inv := Invocation{Params: Params{}}

	switch len(args) {
	case 0:
		inv.Shape = ShapeNone
		return inv, nil

	case 1:
		if conn, ok := asConn(args[0]); ok {
			inv.Shape = ShapeConn
			inv.Conn = conn
			return inv, nil
		}
		if params, ok := asParams(args[0]); ok {
			inv.Shape = ShapeParams
			inv.Params = params
			return inv, nil
		}
		return inv, arityError(args)
	}

	conn, ok := asConn(args[0])
	if !ok {
		return inv, arityError(args)
	}
	params, ok := asParams(args[1])
	if !ok {
		return inv, arityError(args)
	}
	inv.Conn = conn
	inv.Params = params

	if len(args) == 2 {
		inv.Shape = ShapeConnParams
		return inv, nil
	}

	opts, ok := asOptions(args[2])
	if !ok {
		return inv, arityError(args)
	}
	inv.Options = opts
	for _, a := range args[3:] {
		flag, ok := a.(string)
		if !ok {
			return inv, arityError(args)
		}
		inv.Flags = append(inv.Flags, flag)
	}
	inv.Shape = ShapeConnParamsOptions
	return inv, nil
}

func asConn(v any) (Source, bool) {
	switch c := v.(type) {
	case Source:
		return c, c != nil
	case bun.IDB:
		return Explicit(c), c != nil
	}
	return nil, false
}

func asParams(v any) (Params, bool) {
	switch p := v.(type) {
	case Params:
		if p == nil {
			p = Params{}
		}
		return p, true
	case map[string]any:
		if p == nil {
			p = Params{}
		}
		return Params(p), true
	}
	return nil, false
}

func asOptions(v any) (ExecOptions, bool) {
	switch o := v.(type) {
	case ExecOptions:
		return o, true
	case *ExecOptions:
		if o == nil {
			return ExecOptions{}, true
		}
		return *o, true
	}
	return ExecOptions{}, false
}

func arityError(args []any) error {
	types := make([]string, len(args))
	for i, a := range args {
		types[i] = fmt.Sprintf("%T", a)
	}
	return newError(CodeArity, "Dispatch", "no call shape matches arguments %v", types)
}

// Operation is a query definition bound to a connection source
type Operation struct {
	def      QueryDefinition
	src      Source
	compiler Compiler
}

// NewOperation binds a single definition. Most callers use Bind instead.
func NewOperation(src Source, c Compiler, def QueryDefinition) *Operation {
	return &Operation{def: def, src: src, compiler: c}
}

// Name returns the query name
func (op *Operation) Name() string { return op.def.Name }

// Doc returns the query documentation
func (op *Operation) Doc() string { return op.def.Doc }

// Kind returns the query kind
func (op *Operation) Kind() Kind { return op.def.Kind }

// Definition returns the bound definition
func (op *Operation) Definition() QueryDefinition { return op.def }

// Run calls the operation with any supported call shape (see Dispatch).
func (op *Operation) Run(ctx context.Context, args ...any) (*Result, error) {
	inv, err := Dispatch(args...)
	if err != nil {
		var qkErr *Error
		if errors.As(err, &qkErr) {
			qkErr.Op = op.def.Name
		}
		return nil, err
	}
	return op.invoke(ctx, inv)
}

// Exec runs the operation with params on the connection resolved from
// the bound source.
func (op *Operation) Exec(ctx context.Context, params Params) (*Result, error) {
	return op.invoke(ctx, Invocation{Shape: ShapeParams, Params: params})
}

// ExecOn runs the operation on conn without consulting the bound source.
func (op *Operation) ExecOn(ctx context.Context, conn Source, params Params, opts ExecOptions, flags ...string) (*Result, error) {
	if conn == nil {
		return nil, newError(CodeArity, op.def.Name, "explicit connection is nil")
	}
	return op.invoke(ctx, Invocation{
		Shape:   ShapeConnParamsOptions,
		Conn:    conn,
		Params:  params,
		Options: opts,
		Flags:   flags,
	})
}

// SQLVec renders the statement and its arguments without executing it
func (op *Operation) SQLVec(params Params, opts ExecOptions) (Fragment, error) {
	return op.compiler.Render(op.def, params, opts)
}

func (op *Operation) invoke(ctx context.Context, inv Invocation) (*Result, error) {
	src := inv.Conn
	if src == nil {
		src = op.src
	}
	conn, err := Current(ctx, src)
	if err != nil {
		return nil, err
	}
	if inv.Params == nil {
		inv.Params = Params{}
	}
	ctx = hooks.WithQueryName(ctx, op.def.Name)
	return op.compiler.Execute(ctx, conn, op.def, inv.Params, inv.Options, inv.Flags...)
}

// Snippet is a bound fragment definition. Rendered fragments are passed to
// other operations as :snip: parameters.
type Snippet struct {
	def      QueryDefinition
	compiler Compiler
}

// Name returns the snippet name
func (s *Snippet) Name() string { return s.def.Name }

// Render produces the fragment for params
func (s *Snippet) Render(params Params, opts ExecOptions) (Fragment, error) {
	if params == nil {
		params = Params{}
	}
	return s.compiler.Render(s.def, params, opts)
}
