package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/qb/dialect"
)

// validIdentifierRe validates SQL identifiers (alphanumeric, underscores, dots for schema.name)
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// isValidIdentifier checks if the string is a valid SQL identifier.
func isValidIdentifier(s string) bool {
	return s != "" && len(s) <= 128 && validIdentifierRe.MatchString(s)
}

// escapeStringValue escapes a string value for safe use in SQL.
// It escapes both single quotes (by doubling) and backslashes (for MySQL compatibility).
func escapeStringValue(s string) string {
	if !strings.ContainsAny(s, `'\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return s
}

// Driver is a dialect.Executor backed by a *sql.DB.
type Driver struct {
	Conn
}

// NewDriver creates a new Driver with the given Conn.
func NewDriver(c Conn) *Driver {
	return &Driver{Conn: c}
}

// OpenDB wraps the given database/sql.DB with a Driver speaking the named dialect.
func OpenDB(name string, db *sql.DB) *Driver {
	return NewDriver(NewConn(name, db))
}

// DB returns the underlying *sql.DB instance.
func (d Driver) DB() *sql.DB {
	return d.ExecQuerier.(*sql.DB)
}

// Close closes the underlying connection.
func (d *Driver) Close() error { return d.DB().Close() }

// ctxVarsKey is the key used for attaching and reading the context variables.
type ctxVarsKey struct{}

// sessionVars holds sessions/transactions variables to set before every statement.
type sessionVars struct {
	vars []struct{ k, v string }
}

// WithVar returns a new context that holds the session variable to be executed before every query.
func WithVar(ctx context.Context, name, value string) context.Context {
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	vars := make([]struct{ k, v string }, len(sv.vars), len(sv.vars)+1)
	copy(vars, sv.vars)
	vars = append(vars, struct{ k, v string }{k: name, v: value})
	return context.WithValue(ctx, ctxVarsKey{}, sessionVars{vars: vars})
}

// VarFromContext returns the session variable value from the context.
func VarFromContext(ctx context.Context, name string) (string, bool) {
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	for i := len(sv.vars) - 1; i >= 0; i-- {
		if sv.vars[i].k == name {
			return sv.vars[i].v, true
		}
	}
	return "", false
}

// WithIntVar calls WithVar with the string representation of the value.
func WithIntVar(ctx context.Context, name string, value int) context.Context {
	return WithVar(ctx, name, strconv.Itoa(value))
}

// ExecQuerier wraps the standard Exec and Query methods. It is implemented
// by *sql.DB, *sql.Tx and *sql.Conn.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements dialect.Executor and dialect.Runner given an ExecQuerier.
// Statements arrive with "?" placeholders and are rebound for the dialect.
type Conn struct {
	ExecQuerier
	dialect string
}

// NewConn returns a Conn speaking the named dialect. Driver names such as
// "pgx" or "sqlite3" are accepted.
func NewConn(name string, ex ExecQuerier) Conn {
	return Conn{ExecQuerier: ex, dialect: dialect.Normalize(name)}
}

// Dialect implements dialect.Dialecter.
func (c Conn) Dialect() string {
	return c.dialect
}

// ExecuteQuery implements dialect.Executor. Statements producing rows are
// run as queries and their rows returned in Result.Data; other statements
// return their sql.Result together with the affected row count and, when
// the driver reports one, the last insert id.
func (c Conn) ExecuteQuery(ctx context.Context, query string, args []any) (*dialect.Result, error) {
	if ReturnsRows(query) {
		rows, err := c.QueryRows(ctx, query, args)
		if err != nil {
			return nil, err
		}
		return &dialect.Result{Data: rows}, nil
	}
	res, err := c.Exec(ctx, query, args)
	if err != nil {
		return nil, err
	}
	out := &dialect.Result{Data: res}
	if n, err := res.RowsAffected(); err == nil {
		out.AffectedRows = &n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID = id
	}
	return out, nil
}

// Run implements dialect.Runner.
func (c Conn) Run(ctx context.Context, query string, args []any) (dialect.RunResult, error) {
	res, err := c.Exec(ctx, query, args)
	if err != nil {
		return dialect.RunResult{}, err
	}
	var out dialect.RunResult
	out.Changes, _ = res.RowsAffected()
	// Postgres drivers do not report insert ids; the field stays zero.
	out.LastInsertRowid, _ = res.LastInsertId()
	return out, nil
}

// Exec runs a statement that returns no rows.
func (c Conn) Exec(ctx context.Context, query string, args []any) (res sql.Result, rerr error) {
	ex, cf, err := c.maySetVars(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: exec: set session vars: %w", err)
	}
	if cf != nil {
		defer func() { rerr = errors.Join(rerr, cf()) }()
	}
	res, err = ex.ExecContext(ctx, dialect.Rebind(c.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	return res, nil
}

// Query runs a statement returning rows. The caller must close them.
func (c Conn) Query(ctx context.Context, query string, args []any) (ColumnScanner, error) {
	ex, cf, err := c.maySetVars(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: query: set session vars: %w", err)
	}
	rows, err := ex.QueryContext(ctx, dialect.Rebind(c.dialect, query), args...)
	if err != nil {
		if cf != nil {
			err = errors.Join(err, cf())
		}
		return nil, fmt.Errorf("dialect/sql: query: %w", err)
	}
	if cf != nil {
		return rowsWithCloser{rows, cf}, nil
	}
	return rows, nil
}

// QueryRows runs a statement and scans every row.
func (c Conn) QueryRows(ctx context.Context, query string, args []any) (rows []dialect.Row, rerr error) {
	rs, err := c.Query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer func() { rerr = errors.Join(rerr, rs.Close()) }()
	return ScanRows(rs)
}

// maySetVars sets the session variables before executing a query.
func (c Conn) maySetVars(ctx context.Context) (ExecQuerier, func() error, error) {
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	if len(sv.vars) == 0 {
		return c.ExecQuerier, nil, nil
	}
	var (
		ex    ExecQuerier  // Underlying ExecQuerier.
		cf    func() error // Close function.
		reset []string     // Reset variables.
		seen  = make(map[string]struct{}, len(sv.vars))
	)
	switch e := c.ExecQuerier.(type) {
	case *sql.Tx, *sql.Conn:
		ex = e
	case *sql.DB:
		conn, err := e.Conn(ctx)
		if err != nil {
			return nil, nil, err
		}
		ex, cf = conn, conn.Close
	default:
		return nil, nil, fmt.Errorf("unsupported ExecQuerier type: %T", c.ExecQuerier)
	}
	for _, s := range sv.vars {
		if !isValidIdentifier(s.k) {
			if cf != nil {
				_ = cf()
			}
			return nil, nil, fmt.Errorf("invalid session variable name: %q", s.k)
		}
		if _, ok := seen[s.k]; !ok {
			switch c.dialect {
			case dialect.Postgres:
				reset = append(reset, fmt.Sprintf("RESET %s", s.k))
			case dialect.MySQL:
				reset = append(reset, fmt.Sprintf("SET %s = NULL", s.k))
			}
			seen[s.k] = struct{}{}
		}
		if _, err := ex.ExecContext(ctx, fmt.Sprintf("SET %s = '%s'", s.k, escapeStringValue(s.v))); err != nil {
			if cf != nil {
				err = errors.Join(err, cf())
			}
			return nil, nil, err
		}
	}
	// Variables are reset before the connection returns to the pool, on a
	// context of its own so a canceled statement still cleans up.
	if cls := cf; cf != nil && len(reset) > 0 {
		cf = func() error {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for _, q := range reset {
				if _, err := ex.ExecContext(cleanupCtx, q); err != nil {
					return errors.Join(err, cls())
				}
			}
			return cls()
		}
	}
	return ex, cf, nil
}

// rowKeywords start statements that produce a result set.
var rowKeywords = []string{"SELECT", "WITH", "PRAGMA", "SHOW", "EXPLAIN", "VALUES", "DESCRIBE", "TABLE"}

// ReturnsRows reports whether a statement produces a result set.
func ReturnsRows(query string) bool {
	q := strings.TrimLeft(query, " \t\r\n(")
	for _, kw := range rowKeywords {
		if len(q) >= len(kw) && strings.EqualFold(q[:len(kw)], kw) {
			if len(q) == len(kw) || !isIdentChar(q[len(kw)]) {
				return true
			}
		}
	}
	return strings.Contains(strings.ToUpper(query), " RETURNING ")
}

func isIdentChar(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// ScanRows reads every remaining row of rs. Byte slices are returned as
// strings, since drivers use them for text columns.
func ScanRows(rs ColumnScanner) ([]dialect.Row, error) {
	columns, err := rs.Columns()
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: columns: %w", err)
	}
	out := []dialect.Row{}
	for rs.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rs.Scan(dest...); err != nil {
			return nil, fmt.Errorf("dialect/sql: scan: %w", err)
		}
		row := make(dialect.Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("dialect/sql: rows: %w", err)
	}
	return out, nil
}

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}

// rowsWithCloser wraps the ColumnScanner interface with a custom Close hook.
type rowsWithCloser struct {
	ColumnScanner
	closer func() error
}

// Close closes the underlying ColumnScanner and calls the custom closer.
func (r rowsWithCloser) Close() error {
	err := r.ColumnScanner.Close()
	return errors.Join(err, r.closer())
}

var (
	_ dialect.Executor  = Conn{}
	_ dialect.Runner    = Conn{}
	_ dialect.Dialecter = Conn{}
	_ dialect.Executor  = (*Driver)(nil)
)
