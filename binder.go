package querykit

import (
	"context"
	"errors"
	"sort"
)

// Handle is the value form of a set of bound queries
type Handle struct {
	Operations map[string]*Operation
	Snippets   map[string]*Snippet
}

// BindMap loads every file in refs through c, in order, and binds each
// definition to src. A name defined again in a later file replaces the
// earlier operation.
func BindMap(src Source, c Compiler, refs []string, opts LoadOptions) (Handle, error) {
	h := Handle{
		Operations: make(map[string]*Operation),
		Snippets:   make(map[string]*Snippet),
	}
	if src == nil {
		return h, newError(CodeConfiguration, "Bind", "connection source is nil")
	}
	if c == nil {
		return h, newError(CodeConfiguration, "Bind", "compiler is nil")
	}

	for _, ref := range refs {
		defs, err := c.Load(ref, opts)
		if err != nil {
			return h, asQueryLoadError(err, ref)
		}
		for _, def := range defs {
			if def.Kind == KindSnippet {
				h.Snippets[def.Name] = &Snippet{def: def, compiler: c}
				delete(h.Operations, def.Name)
				continue
			}
			h.Operations[def.Name] = NewOperation(src, c, def)
			delete(h.Snippets, def.Name)
		}
	}
	return h, nil
}

func asQueryLoadError(err error, ref string) error {
	var qkErr *Error
	if errors.As(err, &qkErr) && qkErr.Code == CodeQueryLoad {
		return err
	}
	return &Error{
		Code:    CodeQueryLoad,
		Message: "failed to load " + ref,
		Op:      "Bind",
		Cause:   err,
	}
}

// Queries is a registry of operations addressable by name
type Queries struct {
	handle Handle
}

// Bind is BindMap returning a registry instead of the raw maps
func Bind(src Source, c Compiler, refs []string, opts LoadOptions) (*Queries, error) {
	h, err := BindMap(src, c, refs, opts)
	if err != nil {
		return nil, err
	}
	return &Queries{handle: h}, nil
}

// Op returns the named operation
func (q *Queries) Op(name string) (*Operation, bool) {
	op, ok := q.handle.Operations[name]
	return op, ok
}

// MustOp returns the named operation and panics if it is not bound
func (q *Queries) MustOp(name string) *Operation {
	op, ok := q.Op(name)
	if !ok {
		panic("querykit: no operation named " + name)
	}
	return op
}

// Snippet returns the named snippet
func (q *Queries) Snippet(name string) (*Snippet, bool) {
	s, ok := q.handle.Snippets[name]
	return s, ok
}

// Names returns the sorted operation names
func (q *Queries) Names() []string {
	names := make([]string, 0, len(q.handle.Operations))
	for name := range q.handle.Operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run calls the named operation (see Operation.Run)
func (q *Queries) Run(ctx context.Context, name string, args ...any) (*Result, error) {
	op, ok := q.Op(name)
	if !ok {
		return nil, newError(CodeConfiguration, "Run", "no operation named %q", name)
	}
	return op.Run(ctx, args...)
}

// Handle returns the underlying maps
func (q *Queries) Handle() Handle {
	return q.handle
}
