package querykit

import (
	"context"
	"sync/atomic"

	"github.com/uptrace/bun"
)

// Source resolves the connection an operation or transaction runs against.
//
// Pools and transactions resolve to themselves. A Cell resolves to whatever
// the calling context has bound it to.
type Source interface {
	Resolve(ctx context.Context) (bun.IDB, error)
}

// Explicit adapts any bun.IDB (a *bun.DB, bun.Tx or bun.Conn) into a Source
// that always resolves to it.
func Explicit(conn bun.IDB) Source {
	if s, ok := conn.(Source); ok {
		return s
	}
	return explicitSource{conn}
}

type explicitSource struct {
	conn bun.IDB
}

func (s explicitSource) Resolve(context.Context) (bun.IDB, error) {
	return s.conn, nil
}

// Current returns the connection src denotes for ctx. Plain connection
// sources are returned unchanged; a Cell is looked up in ctx.
func Current(ctx context.Context, src Source) (bun.IDB, error) {
	if src == nil {
		return nil, newError(CodeConfiguration, "Current", "connection source is nil")
	}
	return src.Resolve(ctx)
}

// Cell is a rebindable reference to "the current connection".
//
// It has a process-wide root binding, set with Set, and per-context
// bindings pushed with WithScope. Context bindings travel with the
// context.Context they were made on, so they are visible to that call
// chain (and goroutines it hands the context to) and to nothing else.
type Cell struct {
	name string
	root atomic.Pointer[binding]
}

type binding struct {
	conn bun.IDB
}

// cellKey is the context key for a cell's binding
type cellKey struct {
	cell *Cell
}

// Ensure Cell is a Source
var _ Source = (*Cell)(nil)

// NewCell creates an unbound cell. The name is only used in errors and logs.
func NewCell(name string) *Cell {
	return &Cell{name: name}
}

// Name returns the cell name
func (c *Cell) Name() string {
	return c.name
}

// Set replaces the root binding, typically with the application's pool.
func (c *Cell) Set(conn bun.IDB) {
	if conn == nil {
		c.root.Store(nil)
		return
	}
	c.root.Store(&binding{conn: conn})
}

// Unset clears the root binding
func (c *Cell) Unset() {
	c.root.Store(nil)
}

// Resolve returns the innermost binding visible from ctx, falling back to
// the root binding.
func (c *Cell) Resolve(ctx context.Context) (bun.IDB, error) {
	if b, ok := ctx.Value(cellKey{c}).(*binding); ok {
		return c.checked(b.conn)
	}
	if b := c.root.Load(); b != nil {
		return c.checked(b.conn)
	}
	return nil, newError(CodeUnbound, "Current", "cell %q has no binding", c.name)
}

// checked rejects typed-nil pools and transactions stored in a binding
func (c *Cell) checked(conn bun.IDB) (bun.IDB, error) {
	switch v := conn.(type) {
	case *Pool:
		if v == nil {
			return nil, newError(CodeConfiguration, "Current", "cell %q is bound to a nil pool", c.name)
		}
	case *Tx:
		if v == nil {
			return nil, newError(CodeConfiguration, "Current", "cell %q is bound to a nil transaction", c.name)
		}
	}
	return conn, nil
}

// Bound reports whether the cell resolves to a connection in ctx
func (c *Cell) Bound(ctx context.Context) bool {
	_, err := c.Resolve(ctx)
	return err == nil
}

// WithScope runs fn with a context in which cell resolves to conn.
//
// The caller's ctx is never modified: once fn returns, panics or is
// cancelled, the caller observes its previous binding again. Nested scopes
// shadow outer ones.
func WithScope(ctx context.Context, cell *Cell, conn bun.IDB, fn func(ctx context.Context) error) error {
	if cell == nil {
		return newError(CodeConfiguration, "WithScope", "cell is nil")
	}
	if conn == nil {
		return newError(CodeConfiguration, "WithScope", "cannot bind cell %q to a nil connection", cell.name)
	}
	return fn(context.WithValue(ctx, cellKey{cell}, &binding{conn: conn}))
}
