package querykit

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/uptrace/bun/driver/pgdriver"
)

// ErrorCode represents an error classification
type ErrorCode string

const (
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeUnbound       ErrorCode = "UNBOUND_CONTEXT"
	CodeQueryLoad     ErrorCode = "QUERY_LOAD"
	CodeArity         ErrorCode = "ARITY"
	CodeTransaction   ErrorCode = "TRANSACTION"

	// Execution errors, produced by ClassifyError
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeForeignKey       ErrorCode = "FOREIGN_KEY"
	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeSerialization    ErrorCode = "SERIALIZATION"
	CodeDeadlock         ErrorCode = "DEADLOCK"
	CodeUnknown          ErrorCode = "UNKNOWN"
)

// Sentinel errors for quick checks
var (
	ErrConfiguration  = errors.New("querykit: configuration error")
	ErrUnboundContext = errors.New("querykit: connection context is unbound")
	ErrQueryLoad      = errors.New("querykit: query load error")
	ErrArity          = errors.New("querykit: unsupported call shape")
	ErrTransaction    = errors.New("querykit: transaction error")

	ErrNotFound      = errors.New("querykit: record not found")
	ErrDuplicate     = errors.New("querykit: duplicate key violation")
	ErrForeignKey    = errors.New("querykit: foreign key violation")
	ErrConnection    = errors.New("querykit: connection failed")
	ErrTimeout       = errors.New("querykit: operation timeout")
	ErrSerialization = errors.New("querykit: serialization failure")
	ErrDeadlock      = errors.New("querykit: deadlock detected")
)

var sentinels = map[ErrorCode]error{
	CodeConfiguration:    ErrConfiguration,
	CodeUnbound:          ErrUnboundContext,
	CodeQueryLoad:        ErrQueryLoad,
	CodeArity:            ErrArity,
	CodeTransaction:      ErrTransaction,
	CodeNotFound:         ErrNotFound,
	CodeDuplicate:        ErrDuplicate,
	CodeForeignKey:       ErrForeignKey,
	CodeConnectionFailed: ErrConnection,
	CodeTimeout:          ErrTimeout,
	CodeSerialization:    ErrSerialization,
	CodeDeadlock:         ErrDeadlock,
}

// Error is a rich error with context
type Error struct {
	Code       ErrorCode // Error classification
	Message    string    // Human-readable message
	Op         string    // Operation that failed (e.g., "Connect", "get-user")
	Table      string    // Table name if known
	Constraint string    // Constraint name if applicable
	Detail     string    // Additional detail from the database
	Cause      error     // Underlying error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("querykit: %s", e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("querykit.%s: %s", e.Op, e.Message)
	}
	if e.Table != "" {
		msg += fmt.Sprintf(" (table: %s)", e.Table)
	}
	if e.Constraint != "" {
		msg += fmt.Sprintf(" (constraint: %s)", e.Constraint)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for sentinel error matching
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Code]
	return ok && s == target
}

func newError(code ErrorCode, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// ClassifyError converts a raw driver error into a rich Error.
// Errors that are already classified are returned as-is.
func ClassifyError(err error, op string) error {
	if err == nil {
		return nil
	}

	var qkErr *Error
	if errors.As(err, &qkErr) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return &Error{
			Code:    CodeNotFound,
			Message: "record not found",
			Op:      op,
			Cause:   err,
		}
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return classifySQLState(serverError{
			code:       pgxErr.Code,
			message:    pgxErr.Message,
			table:      pgxErr.TableName,
			constraint: pgxErr.ConstraintName,
			detail:     pgxErr.Detail,
		}, op, err)
	}

	var pgdErr pgdriver.Error
	if errors.As(err, &pgdErr) {
		return classifySQLState(serverError{
			code:       pgdErr.Field('C'),
			message:    pgdErr.Field('M'),
			table:      pgdErr.Field('t'),
			constraint: pgdErr.Field('n'),
			detail:     pgdErr.Field('D'),
		}, op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(serverError{
			code:       string(pqErr.Code),
			message:    pqErr.Message,
			table:      pqErr.Table,
			constraint: pqErr.Constraint,
			detail:     pqErr.Detail,
		}, op, err)
	}

	return &Error{
		Code:    CodeUnknown,
		Message: err.Error(),
		Op:      op,
		Cause:   err,
	}
}

// serverError is the driver-independent part of a PostgreSQL error response
type serverError struct {
	code       string
	message    string
	table      string
	constraint string
	detail     string
}

// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
func classifySQLState(se serverError, op string, cause error) *Error {
	e := &Error{
		Op:         op,
		Table:      se.table,
		Constraint: se.constraint,
		Detail:     se.detail,
		Cause:      cause,
	}

	switch se.code {
	case "23505":
		e.Code = CodeDuplicate
		e.Message = "duplicate key value violates unique constraint"
	case "23503":
		e.Code = CodeForeignKey
		e.Message = "foreign key constraint violation"
	case "40001":
		e.Code = CodeSerialization
		e.Message = "serialization failure, retry transaction"
	case "40P01":
		e.Code = CodeDeadlock
		e.Message = "deadlock detected"
	case "57014":
		e.Code = CodeTimeout
		e.Message = "query was cancelled due to timeout"
	case "08000", "08003", "08006":
		e.Code = CodeConnectionFailed
		e.Message = "database connection failed"
	default:
		e.Code = CodeUnknown
		e.Message = se.message
	}

	return e
}

// IsConfiguration checks if error is a configuration error
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsUnbound checks if error reports a read of an unbound connection context
func IsUnbound(err error) bool {
	return errors.Is(err, ErrUnboundContext)
}

// IsQueryLoad checks if error is a query file load error
func IsQueryLoad(err error) bool {
	return errors.Is(err, ErrQueryLoad)
}

// IsArity checks if error reports an unsupported operation call shape
func IsArity(err error) bool {
	return errors.Is(err, ErrArity)
}

// IsTransaction checks if error is a begin/commit/rollback failure
func IsTransaction(err error) bool {
	return errors.Is(err, ErrTransaction)
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate checks if error is a duplicate key error
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsRetryable checks if the error is retryable (serialization, deadlock)
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerialization) || errors.Is(err, ErrDeadlock)
}

// GetErrorCode extracts the error code if it's a querykit error
func GetErrorCode(err error) (ErrorCode, bool) {
	var qkErr *Error
	if errors.As(err, &qkErr) {
		return qkErr.Code, true
	}
	return "", false
}
