package qb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/qb/compiler"
	"github.com/syssam/qb/dialect/sql/sqlerr"
)

// Standard sentinel errors for common operations.
var (
	// ErrNoPendingAction is returned by Make when no write was queued.
	ErrNoPendingAction = errors.New("qb: no pending action")

	// ErrMissingWhereClause is returned by Make for an update, delete,
	// increment or decrement without a WHERE clause.
	ErrMissingWhereClause = errors.New("qb: missing where clause")

	// ErrNoExecutorConfigured is matched by every NoExecutorConfiguredError.
	ErrNoExecutorConfigured = errors.New("qb: no executor configured")

	// ErrUnsupportedPendingAction is matched by every UnsupportedPendingActionError.
	ErrUnsupportedPendingAction = errors.New("qb: unsupported pending action")

	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("qb: record not found")

	// ErrUnsupportedWhereClauseType is matched by every UnsupportedWhereClauseTypeError.
	ErrUnsupportedWhereClauseType = compiler.ErrUnsupportedWhereClauseType
)

// UnsupportedWhereClauseTypeError is returned when a clause of unknown kind
// reaches the compiler.
type UnsupportedWhereClauseTypeError = compiler.UnsupportedWhereClauseTypeError

// IsUnsupportedWhereClauseType returns true if the error is an UnsupportedWhereClauseTypeError.
func IsUnsupportedWhereClauseType(err error) bool {
	if err == nil {
		return false
	}
	var e *UnsupportedWhereClauseTypeError
	return errors.As(err, &e)
}

// NoExecutorConfiguredError is returned when a statement must run against
// a backend and none is configured for it.
type NoExecutorConfiguredError struct {
	Table string
	Bank  string // Set when a named bank is missing
}

// Error returns the error string.
func (e *NoExecutorConfiguredError) Error() string {
	if e.Bank != "" {
		return fmt.Sprintf("qb: no executor configured for bank %q (table %s)", e.Bank, e.Table)
	}
	return fmt.Sprintf("qb: no executor configured for table %s", e.Table)
}

// Is reports whether the target error matches ErrNoExecutorConfigured.
func (e *NoExecutorConfiguredError) Is(err error) bool {
	return err == ErrNoExecutorConfigured
}

// IsNoExecutorConfigured returns true if the error is a NoExecutorConfiguredError.
func IsNoExecutorConfigured(err error) bool {
	return errors.Is(err, ErrNoExecutorConfigured)
}

// UnsupportedPendingActionError is returned by Make when the pending action
// has an unknown type.
type UnsupportedPendingActionError struct {
	Type string
}

// Error returns the error string.
func (e *UnsupportedPendingActionError) Error() string {
	return fmt.Sprintf("qb: unsupported pending action %q", e.Type)
}

// Is reports whether the target error matches ErrUnsupportedPendingAction.
func (e *UnsupportedPendingActionError) Is(err error) bool {
	return err == ErrUnsupportedPendingAction
}

// NotFoundError is returned by First when no row matches.
type NotFoundError struct {
	Table string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("qb: no rows in %s", e.Table)
}

// Is reports whether the target error matches ErrNotFound.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// QueryError wraps a failure of the builder itself while reading, such as
// a statement that does not compile.
type QueryError struct {
	Table string // Table being queried
	Op    string // Operation (e.g., "all", "count", "pluck")
	Err   error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("qb: querying %s (%s): %v", e.Table, e.Op, e.Err)
	}
	return fmt.Sprintf("qb: querying %s: %v", e.Table, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(table, op string, err error) *QueryError {
	return &QueryError{Table: table, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// MutationError wraps a failure of the builder itself while writing.
type MutationError struct {
	Table string // Table being mutated
	Op    string // Action (e.g., "insert", "update")
	Err   error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("qb: %s %s: %v", e.Op, e.Table, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(table, op string, err error) *MutationError {
	return &MutationError{Table: table, Op: op, Err: err}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MutationError
	return errors.As(err, &e)
}

// PrivacyError is returned when a policy denies a statement.
type PrivacyError struct {
	Table  string // Table of the statement
	Action string // READ, INSERT, UPDATE or DELETE
	Err    error  // Decision returned by the policy
}

// Error returns the error string.
func (e *PrivacyError) Error() string {
	return fmt.Sprintf("qb: privacy denied %s on %s: %v", e.Action, e.Table, e.Err)
}

// Unwrap returns the policy decision.
func (e *PrivacyError) Unwrap() error {
	return e.Err
}

// NewPrivacyError returns a new PrivacyError.
func NewPrivacyError(table, action string, err error) *PrivacyError {
	return &PrivacyError{Table: table, Action: action, Err: err}
}

// IsPrivacyError returns true if the error is a PrivacyError.
func IsPrivacyError(err error) bool {
	if err == nil {
		return false
	}
	var e *PrivacyError
	return errors.As(err, &e)
}

// IsConstraintError returns true if the error resulted from a database
// constraint violation.
func IsConstraintError(err error) bool {
	return sqlerr.IsConstraintError(err)
}

// IsUniqueConstraintError returns true if the error resulted from a
// uniqueness violation.
func IsUniqueConstraintError(err error) bool {
	return sqlerr.IsUniqueConstraintError(err)
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "qb: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("qb: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
