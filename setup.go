package qb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/syssam/qb/config"
	"github.com/syssam/qb/dialect"
	dsql "github.com/syssam/qb/dialect/sql"
	"github.com/syssam/qb/hook"
	"github.com/syssam/qb/simulation"
)

// SetupOption configures Setup.
type SetupOption func(*setup)

type setup struct {
	logOutput io.Writer
	onReload  func(error)
}

// WithLogOutput sets where the configured logger writes. It defaults to
// standard error.
func WithLogOutput(w io.Writer) SetupOption {
	return func(s *setup) {
		s.logOutput = w
	}
}

// WithFixturesReload registers fn to be called after each reload of watched
// fixtures.
func WithFixturesReload(fn func(error)) SetupOption {
	return func(s *setup) {
		s.onReload = fn
	}
}

// Setup builds a Config from a loaded configuration file: it creates the
// logger and the event dispatcher, opens the executor and the banks, and
// starts the simulation when enabled. The returned function releases every
// resource Setup acquired.
func Setup(ctx context.Context, f *config.File, opts ...SetupOption) (*Config, func() error, error) {
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}
	s := &setup{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(s)
	}
	logger := config.NewLogger(f.Log, s.logOutput)
	bus := hook.NewDispatcher()
	bus.SetLogger(logger)

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return NewAggregateError(errs...)
	}
	fail := func(err error) (*Config, func() error, error) {
		if cerr := closeAll(); cerr != nil {
			logger.Warn("qb: setup cleanup failed", "error", cerr)
		}
		return nil, nil, err
	}

	opt := []Option{
		WithLogger(logger),
		WithBus(bus),
		WithEventPrefix(f.EventPrefix),
		WithDialect(f.Dialect),
	}
	if f.Cache.Enabled {
		opt = append(opt, WithCache(NewMemoryCache()))
	}
	if f.Simulation.Enabled {
		store := simulation.NewStore()
		switch {
		case f.Simulation.Fixtures != "" && f.Simulation.Watch:
			w, err := simulation.WatchFixtures(f.Simulation.Fixtures, store,
				simulation.WatchLogger(logger), simulation.OnReload(s.onReload))
			if err != nil {
				return fail(err)
			}
			closers = append(closers, w.Close)
		case f.Simulation.Fixtures != "":
			state, err := simulation.LoadFixtures(f.Simulation.Fixtures)
			if err != nil {
				return fail(err)
			}
			store.Start(state)
		default:
			store.Start(nil)
		}
		opt = append(opt, WithSimulation(store))
	}
	if f.DSN != "" {
		exec, closer, err := open(ctx, f.DriverName(), f.DSN, f, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, closer)
		opt = append(opt, WithExecutor(exec))
	}
	names := make([]string, 0, len(f.Banks))
	for name := range f.Banks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bank := f.Banks[name]
		exec, closer, err := open(ctx, bank.DriverName(), bank.DSN, f, logger)
		if err != nil {
			return fail(fmt.Errorf("qb: bank %q: %w", name, err))
		}
		closers = append(closers, closer)
		opt = append(opt, WithBank(name, exec))
	}
	logger.Debug("qb: setup complete",
		"dialect", f.Dialect, "simulation", f.Simulation.Enabled, "banks", len(names))
	return NewConfig(opt...), closeAll, nil
}

// open connects one executor and wraps it with statistics and statement
// logging as configured.
func open(ctx context.Context, driver, dsn string, f *config.File, logger *slog.Logger) (dialect.Executor, func() error, error) {
	drv, err := dsql.Open(ctx, driver, dsn, dsql.Options{
		MaxOpenConns:    f.Pool.MaxOpenConns,
		MaxIdleConns:    f.Pool.MaxIdleConns,
		ConnMaxLifetime: f.Pool.ConnMaxLifetime,
		Ping:            f.Pool.Ping,
	})
	if err != nil {
		return nil, nil, err
	}
	var exec dialect.Executor = drv
	if f.Stats.Enabled {
		sopts := []dsql.StatsOption{dsql.WithSlowQueryLog(logger)}
		if f.Stats.SlowThreshold > 0 {
			sopts = append(sopts, dsql.WithSlowThreshold(f.Stats.SlowThreshold))
		}
		exec = dsql.NewStatsExecutor(exec, sopts...)
	}
	if f.Stats.Debug {
		exec = dsql.NewDebugExecutor(exec, dsql.DebugWithLog(func(ctx context.Context, v ...any) {
			logger.DebugContext(ctx, fmt.Sprint(v...))
		}))
	}
	return exec, drv.Close, nil
}
