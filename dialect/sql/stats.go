package sql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/qb/dialect"
)

// QueryStats holds query execution statistics.
type QueryStats struct {
	// TotalQueries is the total number of reads executed.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of writes executed.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing statements.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of statements exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of failed statements.
	Errors atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of query statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgQueryDuration returns the average statement duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors,
	)
}

// SlowQueryHook is a function called when a slow statement is detected.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsExecutor wraps a dialect.Executor with statistics collection.
type StatsExecutor struct {
	dialect.Executor
	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
	mu            sync.RWMutex
}

// StatsOption configures the StatsExecutor.
type StatsOption func(*StatsExecutor)

// WithSlowThreshold sets the threshold for slow statement detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsExecutor) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback function for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsExecutor) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements to l, or to the default logger
// when l is nil.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	if l == nil {
		l = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, duration time.Duration) {
		l.WarnContext(ctx, "slow query detected", "duration", duration, "query", query, "args", args)
	})
}

// NewStatsExecutor wraps exec with statistics collection.
//
// Example:
//
//	drv, _ := sql.Open("postgres", dsn)
//	exec := sql.NewStatsExecutor(drv,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(nil),
//	)
//	cfg := qb.NewConfig(qb.WithExecutor(exec))
//
//	// Later, check statistics:
//	fmt.Println(exec.QueryStats().Stats())
func NewStatsExecutor(exec dialect.Executor, opts ...StatsOption) *StatsExecutor {
	s := &StatsExecutor{
		Executor:      exec,
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the underlying QueryStats for reading statistics.
func (d *StatsExecutor) QueryStats() *QueryStats {
	return d.stats
}

// SlowThreshold returns the current slow query threshold.
func (d *StatsExecutor) SlowThreshold() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slowThreshold
}

// SetSlowThreshold updates the slow query threshold.
func (d *StatsExecutor) SetSlowThreshold(threshold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slowThreshold = threshold
}

// Dialect forwards to the wrapped executor.
func (d *StatsExecutor) Dialect() string {
	return dialect.Of(d.Executor)
}

// ExecuteQuery executes a statement and records statistics.
func (d *StatsExecutor) ExecuteQuery(ctx context.Context, query string, args []any) (*dialect.Result, error) {
	start := time.Now()
	res, err := d.Executor.ExecuteQuery(ctx, query, args)
	d.record(ctx, query, args, start, err, ReturnsRows(query))
	return res, err
}

// Run executes a write and records statistics. Executors without a write
// path of their own are driven through ExecuteQuery.
func (d *StatsExecutor) Run(ctx context.Context, query string, args []any) (dialect.RunResult, error) {
	start := time.Now()
	res, err := run(ctx, d.Executor, query, args)
	d.record(ctx, query, args, start, err, false)
	return res, err
}

func (d *StatsExecutor) record(ctx context.Context, query string, args []any, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		d.stats.TotalQueries.Add(1)
	} else {
		d.stats.TotalExecs.Add(1)
	}
	d.stats.TotalDuration.Add(int64(duration))

	if err != nil {
		d.stats.Errors.Add(1)
	}

	d.mu.RLock()
	threshold := d.slowThreshold
	hook := d.slowHook
	d.mu.RUnlock()

	if duration > threshold {
		d.stats.SlowQueries.Add(1)
		if hook != nil {
			hook(ctx, query, args, duration)
		}
	}
}

// DebugExecutor wraps a dialect.Executor with statement logging.
type DebugExecutor struct {
	dialect.Executor
	log func(context.Context, ...any)
}

// DebugOption configures the DebugExecutor.
type DebugOption func(*DebugExecutor)

// DebugWithLog sets a custom log function.
func DebugWithLog(logFunc func(context.Context, ...any)) DebugOption {
	return func(d *DebugExecutor) {
		d.log = logFunc
	}
}

// NewDebugExecutor wraps exec with statement logging.
//
// Example:
//
//	exec := sql.NewDebugExecutor(drv, sql.DebugWithLog(func(ctx context.Context, v ...any) {
//	    log.Println(v...)
//	}))
func NewDebugExecutor(exec dialect.Executor, opts ...DebugOption) *DebugExecutor {
	d := &DebugExecutor{
		Executor: exec,
		log: func(ctx context.Context, v ...any) {
			slog.DebugContext(ctx, fmt.Sprint(v...))
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dialect forwards to the wrapped executor.
func (d *DebugExecutor) Dialect() string {
	return dialect.Of(d.Executor)
}

// ExecuteQuery logs and executes a statement.
func (d *DebugExecutor) ExecuteQuery(ctx context.Context, query string, args []any) (*dialect.Result, error) {
	d.log(ctx, fmt.Sprintf("query: %s args: %v", query, args))
	return d.Executor.ExecuteQuery(ctx, query, args)
}

// Run logs and executes a write.
func (d *DebugExecutor) Run(ctx context.Context, query string, args []any) (dialect.RunResult, error) {
	d.log(ctx, fmt.Sprintf("exec: %s args: %v", query, args))
	return run(ctx, d.Executor, query, args)
}

// run prefers the executor's own write path.
func run(ctx context.Context, exec dialect.Executor, query string, args []any) (dialect.RunResult, error) {
	if r, ok := exec.(dialect.Runner); ok {
		return r.Run(ctx, query, args)
	}
	res, err := exec.ExecuteQuery(ctx, query, args)
	if err != nil {
		return dialect.RunResult{}, err
	}
	var out dialect.RunResult
	if res != nil && res.AffectedRows != nil {
		out.Changes = *res.AffectedRows
	}
	if res != nil {
		if id, ok := res.LastInsertID.(int64); ok {
			out.LastInsertRowid = id
		}
	}
	return out, nil
}

// Ensure interfaces are implemented.
var (
	_ dialect.Executor  = (*StatsExecutor)(nil)
	_ dialect.Runner    = (*StatsExecutor)(nil)
	_ dialect.Dialecter = (*StatsExecutor)(nil)
	_ dialect.Executor  = (*DebugExecutor)(nil)
	_ dialect.Runner    = (*DebugExecutor)(nil)
	_ dialect.Dialecter = (*DebugExecutor)(nil)
)

// OpenWithStats opens a database connection with statistics collection enabled.
//
// Example:
//
//	exec, stats, err := sql.OpenWithStats("postgres", dsn,
//	    sql.WithSlowThreshold(100*time.Millisecond),
//	    sql.WithSlowQueryLog(nil),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go func() {
//	    for range time.Tick(time.Minute) {
//	        log.Printf("query stats: %s", stats.Stats())
//	    }
//	}()
func OpenWithStats(driverName, source string, opts ...StatsOption) (*StatsExecutor, *QueryStats, error) {
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, nil, err
	}
	exec := NewStatsExecutor(OpenDB(driverName, db), opts...)
	return exec, exec.QueryStats(), nil
}
