package querykit

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/uptrace/bun/driver/pgdriver"
)

func TestClassifyError_Nil(t *testing.T) {
	if err := ClassifyError(nil, "get-user"); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestClassifyError_NotFound(t *testing.T) {
	err := ClassifyError(fmt.Errorf("scan: %w", sql.ErrNoRows), "get-user")

	if !IsNotFound(err) {
		t.Errorf("Expected not found error, got %v", err)
	}

	var qkErr *Error
	if !errors.As(err, &qkErr) {
		t.Fatal("Expected error to be wrapped as *Error")
	}
	if qkErr.Op != "get-user" {
		t.Errorf("Expected Op to be 'get-user', got %s", qkErr.Op)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		t.Error("Expected the driver error to stay in the chain")
	}
}

func TestClassifyError_Postgres(t *testing.T) {
	tests := []struct {
		code      string
		want      ErrorCode
		retryable bool
	}{
		{"23505", CodeDuplicate, false},
		{"23503", CodeForeignKey, false},
		{"40001", CodeSerialization, true},
		{"40P01", CodeDeadlock, true},
		{"57014", CodeTimeout, false},
		{"08006", CodeConnectionFailed, false},
		{"42P01", CodeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			pgErr := &pgconn.PgError{
				Code:           tt.code,
				Message:        "relation does not exist",
				TableName:      "users",
				ConstraintName: "users_pkey",
				Detail:         "Key (id)=(1) already exists.",
			}
			err := ClassifyError(pgErr, "insert-user!")

			code, ok := GetErrorCode(err)
			if !ok || code != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, code)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("Expected retryable=%v", tt.retryable)
			}

			var qkErr *Error
			errors.As(err, &qkErr)
			if qkErr.Table != "users" || qkErr.Constraint != "users_pkey" || qkErr.Detail == "" {
				t.Errorf("Expected table, constraint and detail to be copied, got %+v", qkErr)
			}
		})
	}
}

func TestClassifyError_LibPQ(t *testing.T) {
	pqErr := &pq.Error{
		Code:       "23505",
		Message:    "duplicate key value",
		Table:      "users",
		Constraint: "users_pkey",
		Detail:     "Key (id)=(1) already exists.",
	}
	err := ClassifyError(fmt.Errorf("exec: %w", pqErr), "insert-user!")

	if !IsDuplicate(err) {
		t.Errorf("Expected duplicate key error, got %v", err)
	}
	var qkErr *Error
	if !errors.As(err, &qkErr) || qkErr.Table != "users" || qkErr.Constraint != "users_pkey" {
		t.Errorf("Expected table and constraint to be copied, got %+v", qkErr)
	}
	if !errors.Is(err, pqErr) {
		t.Error("Expected the driver error to stay in the chain")
	}

	pqErr.Code = "40P01"
	if err := ClassifyError(pqErr, "update"); !IsRetryable(err) {
		t.Errorf("Expected deadlock to be retryable, got %v", err)
	}
}

func TestClassifyError_PGDriver(t *testing.T) {
	// Server errors are only built by the driver; a bare value still
	// takes the SQLSTATE path rather than the generic fallback.
	err := ClassifyError(fmt.Errorf("exec: %w", pgdriver.Error{}), "insert-user!")

	var qkErr *Error
	if !errors.As(err, &qkErr) {
		t.Fatal("Expected error to be wrapped as *Error")
	}
	if qkErr.Code != CodeUnknown || qkErr.Message != "" {
		t.Errorf("Expected an unknown SQLSTATE with the server message, got %+v", qkErr)
	}
	var pgdErr pgdriver.Error
	if !errors.As(err, &pgdErr) {
		t.Error("Expected the driver error to stay in the chain")
	}
}

func TestClassifyError_AlreadyClassified(t *testing.T) {
	orig := newError(CodeArity, "get-user", "bad call")
	if err := ClassifyError(orig, "other"); err != orig {
		t.Errorf("Expected classified error unchanged, got %v", err)
	}
}

func TestClassifyError_Unknown(t *testing.T) {
	err := ClassifyError(errors.New("disk on fire"), "list-users")
	if code, _ := GetErrorCode(err); code != CodeUnknown {
		t.Errorf("Expected CodeUnknown, got %s", code)
	}
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Message: "boom"}, "querykit: boom"},
		{&Error{Op: "Connect", Message: "boom"}, "querykit.Connect: boom"},
		{&Error{Op: "insert-user!", Message: "dup", Table: "users", Constraint: "users_pkey"},
			"querykit.insert-user!: dup (table: users) (constraint: users_pkey)"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestError_Sentinels(t *testing.T) {
	tests := []struct {
		code  ErrorCode
		check func(error) bool
	}{
		{CodeConfiguration, IsConfiguration},
		{CodeUnbound, IsUnbound},
		{CodeQueryLoad, IsQueryLoad},
		{CodeArity, IsArity},
		{CodeTransaction, IsTransaction},
		{CodeNotFound, IsNotFound},
		{CodeDuplicate, IsDuplicate},
	}

	for _, tt := range tests {
		err := fmt.Errorf("wrapped: %w", newError(tt.code, "op", "message"))
		if !tt.check(err) {
			t.Errorf("Expected %s to match its check", tt.code)
		}
		if IsConfiguration(err) && tt.code != CodeConfiguration {
			t.Errorf("%s should not match IsConfiguration", tt.code)
		}
	}

	if errors.Is(newError(CodeUnknown, "op", "x"), ErrNotFound) {
		t.Error("Unknown errors should not match any sentinel")
	}
}

func TestError_TransactionCauseJoinsErrors(t *testing.T) {
	body := errors.New("body failed")
	rb := errors.New("connection reset")
	err := &Error{Code: CodeTransaction, Op: "Transaction.Rollback", Message: "rollback failed", Cause: errors.Join(body, rb)}

	if !IsTransaction(err) {
		t.Error("Expected transaction error")
	}
	if !errors.Is(err, body) || !errors.Is(err, rb) {
		t.Error("Expected both the body and rollback errors in the chain")
	}
}

func TestGetErrorCode_Plain(t *testing.T) {
	if _, ok := GetErrorCode(errors.New("plain")); ok {
		t.Error("Expected no code for a plain error")
	}
}
