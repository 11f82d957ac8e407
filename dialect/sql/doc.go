// Package sql runs compiled statements through database/sql.
//
// Conn and Driver implement dialect.Executor and dialect.Runner on top of
// *sql.DB, *sql.Tx or *sql.Conn. Statements are compiled with "?"
// placeholders and rebound for the connection's dialect before they reach
// the driver:
//
//	drv, err := sql.Open(ctx, "pgx", dsn, sql.Options{Ping: true})
//	if err != nil {
//	    return err
//	}
//	cfg := qb.NewConfig(qb.WithExecutor(drv))
//
// # Session variables
//
// Variables attached with WithVar are set on the connection before the
// statement runs and reset before the connection returns to the pool:
//
//	ctx = sql.WithVar(ctx, "app.tenant_id", "42")
//
// # Statistics
//
// StatsExecutor and DebugExecutor wrap any dialect.Executor, counting
// statements or logging them:
//
//	exec := sql.NewStatsExecutor(drv, sql.WithSlowThreshold(200*time.Millisecond))
//	fmt.Println(exec.QueryStats().Stats())
package sql
