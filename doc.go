/*
Package querykit binds SQL statements declared in query files to callable
operations whose database connection is resolved from the calling context.

It provides:
  - Connection pools over bun (postgres, pgx, pgxpool, lib/pq, mysql, sqlite3)
  - A rebindable connection Cell scoped per context.Context
  - Transaction scopes with isolation, read-only and rollback-only control
  - Query binding through a pluggable Compiler (see package sqlfile)
  - Rich error handling and configurable observability (logging, metrics, tracing)

# Basic Usage

	cfg := querykit.DefaultPoolConfig(os.Getenv("DATABASE_URL"))
	cfg.Logger = slog.Default()
	cfg.LogSlowQueries = 100 * time.Millisecond

	pool, err := querykit.Connect(cfg)
	if err != nil {
	    log.Fatal(err)
	}
	defer querykit.Disconnect(pool)

	db := querykit.NewCell("db")
	db.Set(pool)

# Binding queries

Given queries/users.sql:

	-- :name insert-user! :! :n
	INSERT INTO users (id, name) VALUES (:id, :name)

	-- :name get-user :? :1
	SELECT * FROM users WHERE id = :id

bind the file to the cell:

	q, err := querykit.Bind(db, sqlfile.New(), []string{"queries/users.sql"}, querykit.LoadOptions{})

	_, err = q.Run(ctx, "insert-user!", querykit.Params{"id": "1", "name": "A"})
	res, err := q.Run(ctx, "get-user", querykit.Params{"id": "1"})
	user := res.One()

Operations accept these call shapes:

	op.Run(ctx)                                    // context connection
	op.Run(ctx, params)                            // context connection
	op.Run(ctx, conn)                              // explicit connection
	op.Run(ctx, conn, params)                      // explicit connection
	op.Run(ctx, conn, params, opts, ":1")          // explicit connection, options, flags

# Transactions

	err := querykit.WithTransaction(ctx, db, querykit.TxOptions{Isolation: querykit.Serializable},
	    func(ctx context.Context, tx *querykit.Tx) error {
	        // operations bound to db run inside tx when given this ctx
	        if _, err := q.Run(ctx, "insert-user!", params); err != nil {
	            return err // rollback
	        }
	        if dryRun {
	            tx.SetRollbackOnly() // rollback without an error
	        }
	        return nil // commit
	    })

Calling WithTransaction again inside the body reuses the same transaction.

# Error Handling

	if err := querykit.WithTransaction(ctx, db, querykit.TxOptions{}, fn); err != nil {
	    if querykit.IsRetryable(err) {
	        // serialization failure or deadlock
	    }

	    var qkErr *querykit.Error
	    if errors.As(err, &qkErr) {
	        fmt.Println(qkErr.Code) // TRANSACTION
	    }
	}
*/
package querykit
