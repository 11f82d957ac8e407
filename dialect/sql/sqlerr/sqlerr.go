// Package sqlerr classifies the constraint violations reported by the
// postgres, pgx, mysql and sqlite drivers.
package sqlerr

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Kind is the class of a constraint violation.
type Kind uint8

// Constraint kinds.
const (
	KindNone Kind = iota
	KindUnique
	KindForeignKey
	KindCheck
	KindNotNull
)

var kindNames = [...]string{
	KindNone:       "none",
	KindUnique:     "unique",
	KindForeignKey: "foreign_key",
	KindCheck:      "check",
	KindNotNull:    "not_null",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// sqlStateError is implemented by drivers that expose SQLSTATE codes.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlNotNull                = 1048
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

var stateKinds = map[string]Kind{
	pgNotNullViolation:    KindNotNull,
	pgForeignKeyViolation: KindForeignKey,
	pgUniqueViolation:     KindUnique,
	pgCheckViolation:      KindCheck,
}

var numberKinds = map[uint16]Kind{
	mysqlNotNull:                KindNotNull,
	mysqlDuplicateEntry:         KindUnique,
	mysqlForeignKeyParent:       KindForeignKey,
	mysqlForeignKeyChild:        KindForeignKey,
	mysqlCheckConstraintViolate: KindCheck,
}

// Fallback messages for drivers that expose neither codes nor typed errors.
var messageKinds = []struct {
	kind Kind
	subs []string
}{
	{KindUnique, []string{"Error 1062", "violates unique constraint", "UNIQUE constraint failed"}},
	{KindForeignKey, []string{"Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"}},
	{KindCheck, []string{"Error 3819", "violates check constraint", "CHECK constraint failed"}},
	{KindNotNull, []string{"Error 1048", "violates not-null constraint", "NOT NULL constraint failed"}},
}

// Classify returns the kind of constraint violation err reports, or KindNone.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if code := Code(err); code != "" {
		if k, ok := stateKinds[code]; ok {
			return k
		}
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		if k, ok := numberKinds[me.Number]; ok {
			return k
		}
	}
	msg := err.Error()
	for _, m := range messageKinds {
		if containsAny(msg, m.subs...) {
			return m.kind
		}
	}
	return KindNone
}

// Code returns the SQLSTATE code carried by err, or "".
func Code(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.SQLState != [5]byte{} {
		return string(me.SQLState[:])
	}
	if e, ok := asError[sqlStateError](err); ok {
		return e.SQLState()
	}
	return ""
}

// IsConstraintError reports whether err resulted from a constraint violation.
func IsConstraintError(err error) bool {
	return Classify(err) != KindNone
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	return Classify(err) == KindUnique
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	return Classify(err) == KindForeignKey
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool {
	return Classify(err) == KindCheck
}

// IsNotNullConstraintError reports if the error resulted from writing NULL to a NOT NULL column.
func IsNotNullConstraintError(err error) bool {
	return Classify(err) == KindNotNull
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
