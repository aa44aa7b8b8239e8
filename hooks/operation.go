package hooks

import "strings"

var operationPrefixes = []struct {
	prefix string
	op     string
}{
	{"SELECT", "select"},
	{"WITH", "select"},
	{"INSERT", "insert"},
	{"UPDATE", "update"},
	{"DELETE", "delete"},
	{"CREATE", "create"},
	{"DROP", "drop"},
	{"ALTER", "alter"},
	{"BEGIN", "begin"},
	{"START TRANSACTION", "begin"},
	{"COMMIT", "commit"},
	{"ROLLBACK", "rollback"},
	{"SAVEPOINT", "savepoint"},
	{"RELEASE", "release"},
	{"SET", "set"},
	{"SHOW", "show"},
}

// OperationType extracts the statement type from a query
func OperationType(query string) string {
	query = strings.TrimSpace(strings.ToUpper(query))
	for _, p := range operationPrefixes {
		if strings.HasPrefix(query, p.prefix) {
			return p.op
		}
	}
	return "other"
}

// truncate shortens long statements for logs and span attributes
func truncate(query string, max int) string {
	if len(query) > max {
		return query[:max] + "..."
	}
	return query
}
