package querykit

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Isolation is a transaction isolation level
type Isolation string

const (
	IsolationDefault Isolation = "" // use database default
	ReadUncommitted  Isolation = "read-uncommitted"
	ReadCommitted    Isolation = "read-committed"
	RepeatableRead   Isolation = "repeatable-read"
	Serializable     Isolation = "serializable"
)

// ParseIsolation accepts "serializable", "repeatable-read", "READ COMMITTED",
// "read_uncommitted" and similar spellings. The empty string is the default.
func ParseIsolation(s string) (Isolation, error) {
	norm := strings.NewReplacer(" ", "-", "_", "-").Replace(strings.ToLower(strings.TrimSpace(s)))
	switch iso := Isolation(norm); iso {
	case IsolationDefault, ReadUncommitted, ReadCommitted, RepeatableRead, Serializable:
		return iso, nil
	}
	return "", newError(CodeConfiguration, "ParseIsolation", "unknown isolation level %q", s)
}

// Level maps the isolation to its database/sql value
func (i Isolation) Level() (sql.IsolationLevel, error) {
	switch i {
	case IsolationDefault:
		return sql.LevelDefault, nil
	case ReadUncommitted:
		return sql.LevelReadUncommitted, nil
	case ReadCommitted:
		return sql.LevelReadCommitted, nil
	case RepeatableRead:
		return sql.LevelRepeatableRead, nil
	case Serializable:
		return sql.LevelSerializable, nil
	}
	return sql.LevelDefault, newError(CodeConfiguration, "Transaction.Begin", "unknown isolation level %q", string(i))
}

// TxOptions configures transaction behavior
type TxOptions struct {
	Isolation Isolation
	ReadOnly  bool
}

// ReadOnlyTxOptions returns options for read-only transactions
func ReadOnlyTxOptions() TxOptions {
	return TxOptions{ReadOnly: true}
}

// SerializableTxOptions returns options for serializable transactions
func SerializableTxOptions() TxOptions {
	return TxOptions{Isolation: Serializable}
}

// TxState is the lifecycle state of a Tx
type TxState int32

const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled-back"
	}
	return "unknown"
}

// Tx is the transaction handle in use inside a WithTransaction scope.
// It is a connection in its own right: operations run against it join
// the transaction.
type Tx struct {
	bun.IDB
	raw          bun.Tx
	id           string
	opts         TxOptions
	pool         *Pool
	rollbackOnly atomic.Bool
	state        atomic.Int32
}

// Ensure Tx is a connection and a Source
var (
	_ bun.IDB = (*Tx)(nil)
	_ Source  = (*Tx)(nil)
)

// TxFunc is a function executed within a transaction. ctx carries the
// rebound connection context.
type TxFunc func(ctx context.Context, tx *Tx) error

// WithTransaction runs fn inside a transaction on the connection src
// resolves to, committing when fn returns nil and rolling back when it
// returns an error, panics, or marks the transaction rollback-only.
//
// When src is a Cell, fn's ctx rebinds the cell to the transaction, so
// operations bound to the cell join it. When src already resolves to an
// active Tx the call is re-entrant: fn runs on that same Tx, opts are
// ignored and the outer scope decides the outcome.
//
// A body error is returned unchanged after a successful rollback. If the
// rollback itself fails, a TransactionError is returned whose cause joins
// the body error and the rollback error.
func WithTransaction(ctx context.Context, src Source, opts TxOptions, fn TxFunc) error {
	conn, err := Current(ctx, src)
	if err != nil {
		return err
	}

	if outer, ok := conn.(*Tx); ok {
		if !outer.Active() {
			return newError(CodeTransaction, "Transaction.Begin", "transaction %s is %s", outer.id, outer.State())
		}
		if opts != (TxOptions{}) {
			outer.log(ctx, "nested transaction options ignored",
				slog.String("requested_isolation", string(opts.Isolation)),
				slog.Bool("requested_read_only", opts.ReadOnly),
			)
		}
		return fn(ctx, outer)
	}

	level, err := opts.Isolation.Level()
	if err != nil {
		return err
	}

	raw, err := conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: level,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return &Error{
			Code:    CodeTransaction,
			Message: "failed to begin transaction",
			Op:      "Transaction.Begin",
			Cause:   err,
		}
	}

	tx := &Tx{
		IDB:  raw,
		raw:  raw,
		id:   uuid.NewString(),
		opts: opts,
		pool: poolOf(conn),
	}
	tx.log(ctx, "transaction begin",
		slog.String("isolation", string(opts.Isolation)),
		slog.Bool("read_only", opts.ReadOnly),
	)

	return tx.run(ctx, src, fn)
}

func (tx *Tx) run(ctx context.Context, src Source, fn TxFunc) (err error) {
	returned := false
	defer func() {
		// fn panicked or called runtime.Goexit
		if !returned {
			_ = tx.rollback(ctx)
		}
	}()

	if cell, ok := src.(*Cell); ok {
		err = WithScope(ctx, cell, tx, func(ctx context.Context) error {
			return fn(ctx, tx)
		})
	} else {
		err = fn(ctx, tx)
	}
	returned = true

	if err != nil || tx.IsRollbackOnly() {
		if rbErr := tx.rollback(ctx); rbErr != nil {
			return &Error{
				Code:    CodeTransaction,
				Message: "rollback failed: " + rbErr.Error(),
				Op:      "Transaction.Rollback",
				Cause:   errors.Join(err, rbErr),
			}
		}
		return err
	}

	if err := tx.commit(ctx); err != nil {
		return &Error{
			Code:    CodeTransaction,
			Message: "commit failed",
			Op:      "Transaction.Commit",
			Cause:   err,
		}
	}
	return nil
}

func (tx *Tx) commit(ctx context.Context) error {
	err := tx.raw.Commit()
	if err != nil {
		tx.state.Store(int32(TxRolledBack))
		tx.observe("error")
		tx.log(ctx, "transaction commit failed", slog.String("error", err.Error()))
		return err
	}
	tx.state.Store(int32(TxCommitted))
	tx.observe("commit")
	tx.log(ctx, "transaction commit")
	return nil
}

func (tx *Tx) rollback(ctx context.Context) error {
	err := tx.raw.Rollback()
	tx.state.Store(int32(TxRolledBack))
	// Already finished by the driver, e.g. on context cancellation
	if errors.Is(err, sql.ErrTxDone) {
		err = nil
	}
	if err != nil {
		tx.observe("error")
		tx.log(ctx, "transaction rollback failed", slog.String("error", err.Error()))
		return err
	}
	tx.observe("rollback")
	tx.log(ctx, "transaction rollback", slog.Bool("rollback_only", tx.IsRollbackOnly()))
	return nil
}

func (tx *Tx) observe(outcome string) {
	if tx.pool != nil && tx.pool.metrics != nil {
		tx.pool.metrics.ObserveTransaction(outcome)
	}
}

func (tx *Tx) log(ctx context.Context, msg string, attrs ...slog.Attr) {
	if tx.pool == nil || tx.pool.logger == nil {
		return
	}
	attrs = append([]slog.Attr{slog.String("tx", tx.id)}, attrs...)
	tx.pool.logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

// ID returns a unique identifier for log correlation
func (tx *Tx) ID() string {
	return tx.id
}

// Isolation returns the isolation level the transaction was opened with
func (tx *Tx) Isolation() Isolation {
	return tx.opts.Isolation
}

// ReadOnly reports whether the transaction was opened read-only
func (tx *Tx) ReadOnly() bool {
	return tx.opts.ReadOnly
}

// SetRollbackOnly marks the transaction so that it rolls back when its
// scope exits, even if the body returns nil. It does not unwind the scope.
func (tx *Tx) SetRollbackOnly() {
	tx.rollbackOnly.Store(true)
}

// IsRollbackOnly reports whether SetRollbackOnly was called
func (tx *Tx) IsRollbackOnly() bool {
	return tx.rollbackOnly.Load()
}

// State returns the lifecycle state
func (tx *Tx) State() TxState {
	return TxState(tx.state.Load())
}

// Active reports whether the transaction can still be used
func (tx *Tx) Active() bool {
	return tx.State() == TxActive
}

// Resolve returns the transaction while it is active
func (tx *Tx) Resolve(ctx context.Context) (bun.IDB, error) {
	if tx == nil {
		return nil, newError(CodeTransaction, "Resolve", "transaction is nil")
	}
	if !tx.Active() {
		return nil, newError(CodeTransaction, "Resolve", "transaction %s is %s", tx.id, tx.State())
	}
	return tx, nil
}

// Bun returns the underlying bun.Tx
func (tx *Tx) Bun() bun.Tx {
	return tx.raw
}

// SetRollbackOnly marks the active transaction src resolves to as
// rollback-only.
func SetRollbackOnly(ctx context.Context, src Source) error {
	tx, err := ActiveTx(ctx, src)
	if err != nil {
		return err
	}
	tx.SetRollbackOnly()
	return nil
}

// ActiveTx returns the transaction src resolves to in ctx, or a
// TransactionError when there is none.
func ActiveTx(ctx context.Context, src Source) (*Tx, error) {
	conn, err := Current(ctx, src)
	if err != nil {
		return nil, err
	}
	tx, ok := conn.(*Tx)
	if !ok || !tx.Active() {
		return nil, newError(CodeTransaction, "ActiveTx", "no active transaction")
	}
	return tx, nil
}

func poolOf(conn bun.IDB) *Pool {
	switch c := conn.(type) {
	case *Pool:
		return c
	case *Tx:
		return c.pool
	}
	return nil
}
