// Command querykit runs statements from query files against a database.
//
//	querykit list -f queries/users.sql
//	querykit run get-user -f queries/users.sql --params '{"id":"1"}'
//	querykit run insert-user! -f queries/users.sql --params '{"id":"2","name":"B"}' --tx --rollback
//	querykit ping
//
// The pool is configured from QUERYKIT_* environment variables or a YAML
// file given with --config.
package main

import (
	"os"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
