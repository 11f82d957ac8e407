// Package dialect provides the backend abstraction used by the qb builder.
//
// This package defines the executor contract consumed by the builder, the
// result shapes executors may return, and the per-dialect SQL fragments used
// by helpers whose syntax differs between backends.
//
// # Supported Dialects
//
// The following dialect names are recognized:
//
//	dialect.SQLite   = "sqlite"
//	dialect.MySQL    = "mysql"
//	dialect.Postgres = "postgres"
//	dialect.MSSQL    = "mssql"
//	dialect.Oracle   = "oracle"
//
// Any other name (including the empty string) selects the portable fallback.
//
// # Executor Interface
//
// The builder hands compiled statements to an Executor:
//
//	type Executor interface {
//	    ExecuteQuery(ctx context.Context, query string, args []any) (*Result, error)
//	}
//
// Statements always use "?" placeholders. Executors that talk to a backend
// with a different placeholder style rebind them (see Rebind).
//
// Executors may also implement Runner, which the builder prefers for writes,
// and Dialect() string, which selects dialect-specific fragments:
//
//	type Runner interface {
//	    Run(ctx context.Context, query string, args []any) (RunResult, error)
//	}
//
// # Banks
//
// A Registry maps bank names to executors. Builders routed with On(...) resolve
// their executors through the registry instead of the default executor.
//
// # Sub-packages
//
//   - dialect/sql: database/sql backed executor, stats and debug decorators
//   - dialect/sql/sqlerr: constraint-violation classification
package dialect
