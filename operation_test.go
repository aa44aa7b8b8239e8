package querykit

import (
	"context"
	"errors"
	"testing"

	"github.com/uptrace/bun"
)

type execCall struct {
	conn   bun.IDB
	params Params
	opts   ExecOptions
	flags  []string
}

// fakeCompiler serves definitions from memory and records executions
type fakeCompiler struct {
	files map[string][]QueryDefinition
	calls []execCall
}

func (c *fakeCompiler) Load(ref string, _ LoadOptions) ([]QueryDefinition, error) {
	defs, ok := c.files[ref]
	if !ok {
		return nil, errors.New("no such file: " + ref)
	}
	return defs, nil
}

func (c *fakeCompiler) Render(q QueryDefinition, params Params, _ ExecOptions) (Fragment, error) {
	return Fragment{SQL: q.Name, Args: []any{len(params)}}, nil
}

func (c *fakeCompiler) Execute(ctx context.Context, conn bun.IDB, q QueryDefinition, params Params, opts ExecOptions, flags ...string) (*Result, error) {
	c.calls = append(c.calls, execCall{conn: conn, params: params, opts: opts, flags: flags})
	return &Result{Kind: q.Kind}, nil
}

func (c *fakeCompiler) last(t *testing.T) execCall {
	t.Helper()
	if len(c.calls) == 0 {
		t.Fatal("Expected the compiler to be called")
	}
	return c.calls[len(c.calls)-1]
}

func newTestOperation(src Source) (*Operation, *fakeCompiler) {
	c := &fakeCompiler{}
	return NewOperation(src, c, QueryDefinition{Name: "get-user", Kind: KindOne, Doc: "Fetch a user"}), c
}

func TestDispatch_Shapes(t *testing.T) {
	conn := &fakeConn{name: "a"}
	cell := NewCell("db")
	params := Params{"id": 1}
	opts := ExecOptions{Quoting: QuotingANSI}

	tests := []struct {
		name  string
		args  []any
		shape Shape
		flags int
	}{
		{"none", nil, ShapeNone, 0},
		{"conn", []any{conn}, ShapeConn, 0},
		{"source", []any{cell}, ShapeConn, 0},
		{"params", []any{params}, ShapeParams, 0},
		{"plain map", []any{map[string]any{"id": 1}}, ShapeParams, 0},
		{"conn params", []any{conn, params}, ShapeConnParams, 0},
		{"conn params options", []any{conn, params, opts}, ShapeConnParamsOptions, 0},
		{"options pointer", []any{conn, params, &opts}, ShapeConnParamsOptions, 0},
		{"flags", []any{conn, params, opts, ":1", ":raw"}, ShapeConnParamsOptions, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := Dispatch(tt.args...)
			if err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}
			if inv.Shape != tt.shape {
				t.Errorf("Expected shape %s, got %s", tt.shape, inv.Shape)
			}
			if len(inv.Flags) != tt.flags {
				t.Errorf("Expected %d flags, got %v", tt.flags, inv.Flags)
			}
			if inv.Params == nil {
				t.Error("Params should never be nil")
			}
		})
	}
}

func TestDispatch_Arity(t *testing.T) {
	conn := &fakeConn{name: "a"}
	params := Params{}

	tests := map[string][]any{
		"string":            {"get-user"},
		"int":               {42},
		"params then conn":  {params, conn},
		"conn then int":     {conn, 42},
		"bad options":       {conn, params, 42},
		"non-string flag":   {conn, params, ExecOptions{}, 1},
		"conn conn":         {conn, conn},
		"nil":               {nil},
		"options too early": {conn, ExecOptions{}},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Dispatch(args...)
			if !IsArity(err) {
				t.Errorf("Expected arity error, got %v", err)
			}
		})
	}
}

func TestOperation_ContextConnection(t *testing.T) {
	a := &fakeConn{name: "a"}
	db := NewCell("db")
	op, c := newTestOperation(db)

	err := WithScope(context.Background(), db, a, func(ctx context.Context) error {
		_, err := op.Run(ctx, Params{"id": "1"})
		return err
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	call := c.last(t)
	if call.conn != a {
		t.Errorf("Expected context connection a, got %v", call.conn)
	}
	if call.params["id"] != "1" {
		t.Errorf("Expected params to be passed through, got %v", call.params)
	}
}

func TestOperation_ExplicitConnectionBypassesContext(t *testing.T) {
	a, b := &fakeConn{name: "a"}, &fakeConn{name: "b"}
	db := NewCell("db")
	op, c := newTestOperation(db)

	_ = WithScope(context.Background(), db, a, func(ctx context.Context) error {
		if _, err := op.Run(ctx, b, Params{"id": "1"}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if c.last(t).conn != b {
			t.Errorf("Expected explicit connection b, got %v", c.last(t).conn)
		}

		if _, err := op.ExecOn(ctx, Explicit(b), nil, ExecOptions{}); err != nil {
			t.Fatalf("ExecOn failed: %v", err)
		}
		if c.last(t).conn != b {
			t.Errorf("Expected explicit connection b from ExecOn, got %v", c.last(t).conn)
		}
		return nil
	})
}

func TestOperation_ExplicitConnectionWithoutBinding(t *testing.T) {
	b := &fakeConn{name: "b"}
	op, c := newTestOperation(NewCell("db"))

	if _, err := op.Run(context.Background(), b); err != nil {
		t.Fatalf("Run with explicit connection should not need a binding: %v", err)
	}
	if c.last(t).conn != b {
		t.Errorf("Expected b, got %v", c.last(t).conn)
	}
}

func TestOperation_OptionsAndFlags(t *testing.T) {
	a := &fakeConn{name: "a"}
	op, c := newTestOperation(Explicit(a))
	var dest []struct{}

	_, err := op.Run(context.Background(), a, Params{}, ExecOptions{Into: &dest}, ":*")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	call := c.last(t)
	if call.opts.Into != &dest {
		t.Error("Expected options to be passed through")
	}
	if len(call.flags) != 1 || call.flags[0] != ":*" {
		t.Errorf("Expected flags [:*], got %v", call.flags)
	}
}

func TestOperation_Unbound(t *testing.T) {
	op, c := newTestOperation(NewCell("db"))

	_, err := op.Run(context.Background())
	if !IsUnbound(err) {
		t.Errorf("Expected unbound error, got %v", err)
	}
	_, err = op.Exec(context.Background(), Params{"id": "1"})
	if !IsUnbound(err) {
		t.Errorf("Expected unbound error from Exec, got %v", err)
	}
	if len(c.calls) != 0 {
		t.Error("Compiler should not run without a connection")
	}
}

func TestOperation_ArityError(t *testing.T) {
	op, c := newTestOperation(Explicit(&fakeConn{}))

	_, err := op.Run(context.Background(), "id", 1)
	if !IsArity(err) {
		t.Fatalf("Expected arity error, got %v", err)
	}
	var qkErr *Error
	if errors.As(err, &qkErr) && qkErr.Op != "get-user" {
		t.Errorf("Expected Op to name the operation, got %s", qkErr.Op)
	}
	if len(c.calls) != 0 {
		t.Error("Compiler should not run on an arity error")
	}

	if _, err := op.ExecOn(context.Background(), nil, Params{}, ExecOptions{}); !IsArity(err) {
		t.Errorf("Expected arity error for a nil explicit connection, got %v", err)
	}
	var pool *Pool
	if _, err := op.Run(context.Background(), pool, Params{}); !IsConfiguration(err) {
		t.Errorf("Expected configuration error for a nil pool, got %v", err)
	}
}

func TestOperation_Accessors(t *testing.T) {
	op, _ := newTestOperation(NewCell("db"))

	if op.Name() != "get-user" || op.Doc() != "Fetch a user" || op.Kind() != KindOne {
		t.Errorf("Unexpected accessors: %s %q %s", op.Name(), op.Doc(), op.Kind())
	}
	if op.Definition().Name != "get-user" {
		t.Error("Definition should return the bound definition")
	}

	frag, err := op.SQLVec(Params{"id": 1}, ExecOptions{})
	if err != nil {
		t.Fatalf("SQLVec failed: %v", err)
	}
	if frag.SQL != "get-user" {
		t.Errorf("Expected rendered SQL from the compiler, got %q", frag.SQL)
	}
}

func TestShapeAndKindStrings(t *testing.T) {
	if ShapeConnParamsOptions.String() != "conn+params+options" {
		t.Errorf("Unexpected shape string %s", ShapeConnParamsOptions)
	}
	if KindExecute.String() != "execute" {
		t.Errorf("Unexpected kind string %s", KindExecute)
	}
	b, _ := KindOne.MarshalText()
	if string(b) != "one" {
		t.Errorf("Expected kind to marshal as one, got %s", b)
	}
}

func TestResult_One(t *testing.T) {
	var nilResult *Result
	if nilResult.One() != nil {
		t.Error("One on a nil result should be nil")
	}
	if (&Result{}).One() != nil {
		t.Error("One without rows should be nil")
	}
	r := &Result{Rows: []Row{{"id": 1}, {"id": 2}}}
	if r.One()["id"] != 1 {
		t.Errorf("Expected first row, got %v", r.One())
	}
}
