package qb

import (
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/qb/dialect"
	"github.com/syssam/qb/hook"
	"github.com/syssam/qb/simulation"
)

// Config holds the collaborators builders run against: the executor, the
// bank registry, the event bus, the simulation controller, the cache and
// the logger. A Config is safe for concurrent use once built.
type Config struct {
	executor    dialect.Executor
	registry    *dialect.Registry
	bus         hook.Bus
	simulation  simulation.Controller
	cache       Cache
	logger      *slog.Logger
	eventPrefix string
	dialect     string
	primaryKey  string
	flight      singleflight.Group
}

// Option configures a Config.
type Option func(*Config)

// NewConfig returns a Config with the given options applied.
func NewConfig(opts ...Option) *Config {
	c := &Config{
		registry:    dialect.NewRegistry(),
		logger:      slog.Default(),
		eventPrefix: hook.DefaultPrefix,
		primaryKey:  simulation.DefaultPrimaryKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithExecutor sets the default executor.
func WithExecutor(exec dialect.Executor) Option {
	return func(c *Config) {
		c.executor = exec
	}
}

// WithRegistry sets the bank registry used by Builder.On.
func WithRegistry(r *dialect.Registry) Option {
	return func(c *Config) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithBank registers exec under name in the bank registry.
func WithBank(name string, exec dialect.Executor) Option {
	return func(c *Config) {
		c.registry.Register(name, exec)
	}
}

// WithBus sets the bus receiving BEFORE and AFTER events.
func WithBus(bus hook.Bus) Option {
	return func(c *Config) {
		c.bus = bus
	}
}

// WithSimulation sets the shared simulation controller. While it is active,
// every builder of the config reads and writes its tables instead of the
// executor.
func WithSimulation(ctrl simulation.Controller) Option {
	return func(c *Config) {
		c.simulation = ctrl
	}
}

// WithCache sets the cache used by Builder.Remember.
func WithCache(cache Cache) Option {
	return func(c *Config) {
		c.cache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEventPrefix sets the first segment of event topics.
func WithEventPrefix(prefix string) Option {
	return func(c *Config) {
		if prefix != "" {
			c.eventPrefix = prefix
		}
	}
}

// WithDialect overrides the dialect declared by the executor.
func WithDialect(name string) Option {
	return func(c *Config) {
		c.dialect = dialect.Normalize(name)
	}
}

// WithPrimaryKey sets the column identifying rows in simulation mode.
func WithPrimaryKey(column string) Option {
	return func(c *Config) {
		if column != "" {
			c.primaryKey = column
		}
	}
}

// Executor returns the default executor, or nil.
func (c *Config) Executor() dialect.Executor { return c.executor }

// Registry returns the bank registry.
func (c *Config) Registry() *dialect.Registry { return c.registry }

// Bus returns the event bus, or nil.
func (c *Config) Bus() hook.Bus { return c.bus }

// Simulation returns the shared simulation controller, or nil.
func (c *Config) Simulation() simulation.Controller { return c.simulation }

// Cache returns the cache, or nil.
func (c *Config) Cache() Cache { return c.cache }

// Logger returns the logger.
func (c *Config) Logger() *slog.Logger { return c.logger }

// EventPrefix returns the first segment of event topics.
func (c *Config) EventPrefix() string { return c.eventPrefix }

// Dialect returns the configured dialect, falling back to the one declared
// by the executor. It returns "" when neither is known.
func (c *Config) Dialect() string {
	if c.dialect != "" {
		return c.dialect
	}
	return dialect.Of(c.executor)
}

var (
	defaultConfig atomic.Pointer[Config]
	emptyConfig   = NewConfig()
)

// SetDefault sets the config captured by builders created without
// WithConfig. A nil config restores the empty default.
func SetDefault(c *Config) {
	defaultConfig.Store(c)
}

// Default returns the config set by SetDefault, or an empty config.
func Default() *Config {
	if c := defaultConfig.Load(); c != nil {
		return c
	}
	return emptyConfig
}
