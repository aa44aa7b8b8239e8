// Package hooks provides bun query hooks that log, measure and trace
// querykit operations by name.
package hooks

import "context"

type queryNameKey struct{}

// WithQueryName tags ctx with the name of the operation being executed
func WithQueryName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, queryNameKey{}, name)
}

// QueryName returns the operation name carried by ctx, or "" for
// statements that were not issued through an operation.
func QueryName(ctx context.Context) string {
	name, _ := ctx.Value(queryNameKey{}).(string)
	return name
}

// queryLabel is QueryName with a placeholder for unnamed statements
func queryLabel(ctx context.Context) string {
	if name := QueryName(ctx); name != "" {
		return name
	}
	return "unnamed"
}
