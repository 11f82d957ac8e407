package dialect

import (
	"context"
	"strings"
)

// Dialect names.
const (
	SQLite   = "sqlite"
	MySQL    = "mysql"
	Postgres = "postgres"
	MSSQL    = "mssql"
	Oracle   = "oracle"
)

// Row is a single result row keyed by column name.
type Row = map[string]any

// Executor runs compiled statements against a backend.
type Executor interface {
	ExecuteQuery(ctx context.Context, query string, args []any) (*Result, error)
}

// Runner is implemented by executors that expose a dedicated write path.
// When present it is preferred over ExecuteQuery for mutating statements.
type Runner interface {
	Run(ctx context.Context, query string, args []any) (RunResult, error)
}

// Dialecter is implemented by executors that declare their dialect.
type Dialecter interface {
	Dialect() string
}

// Result is returned by Executor.ExecuteQuery.
//
// Executors differ in what they report. Data carries the rows of a read, or
// whatever payload the driver produced for a write: a sql.Result, a RunResult,
// a map holding affectedRows/changes and lastInsertId/lastInsertRowid/insertId,
// or a two-element []any{rows, info} tuple wrapping any of those.
type Result struct {
	Data any
	// AffectedRows is set by executors that report the count directly.
	AffectedRows *int64
	// LastInsertID is set by executors that report the generated key directly.
	LastInsertID any
}

// Rows returns the rows carried by the result, unwrapping a [rows, info] tuple.
func (r *Result) Rows() []Row {
	if r == nil {
		return nil
	}
	return rowsOf(r.Data)
}

func rowsOf(v any) []Row {
	switch d := v.(type) {
	case []Row:
		return d
	case []any:
		if len(d) == 2 {
			if rows, ok := d[0].([]Row); ok {
				return rows
			}
		}
		rows := make([]Row, 0, len(d))
		for _, e := range d {
			r, ok := e.(Row)
			if !ok {
				return nil
			}
			rows = append(rows, r)
		}
		return rows
	}
	return nil
}

// RunResult is the canonical shape of a write outcome.
type RunResult struct {
	Changes         int64
	LastInsertRowid int64
}

// Of returns the dialect declared by the executor, or "" when it declares none.
func Of(exec any) string {
	if d, ok := exec.(Dialecter); ok {
		return Normalize(d.Dialect())
	}
	return ""
}

// Normalize maps driver names and aliases onto the dialect constants.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case n == "pgx" || n == "postgresql" || strings.HasPrefix(n, Postgres):
		return Postgres
	case strings.HasPrefix(n, MySQL) || n == "mariadb":
		return MySQL
	case strings.HasPrefix(n, SQLite) || n == "sqlite3":
		return SQLite
	case n == MSSQL || n == "sqlserver":
		return MSSQL
	case n == Oracle || n == "godror" || n == "oci8":
		return Oracle
	}
	return n
}
