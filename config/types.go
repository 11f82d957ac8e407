// Package config loads qb settings from defaults, a YAML file, QB_
// environment variables and command-line flags, in increasing priority.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/syssam/qb/dialect"
)

// File is the decoded configuration.
type File struct {
	Dialect     string          `koanf:"dialect"`
	Driver      string          `koanf:"driver"`
	DSN         string          `koanf:"dsn"`
	EventPrefix string          `koanf:"event_prefix"`
	Log         Log             `koanf:"log"`
	Stats       Stats           `koanf:"stats"`
	Simulation  Simulation      `koanf:"simulation"`
	Banks       map[string]Bank `koanf:"banks"`
	Cache       Cache           `koanf:"cache"`
	Pool        Pool            `koanf:"pool"`
}

// Log configures the slog logger.
type Log struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text, json
}

// Stats configures statement statistics.
type Stats struct {
	Enabled       bool          `koanf:"enabled"`
	SlowThreshold time.Duration `koanf:"slow_threshold"`
	Debug         bool          `koanf:"debug"`
}

// Simulation configures the in-memory backend.
type Simulation struct {
	Enabled  bool   `koanf:"enabled"`
	Fixtures string `koanf:"fixtures"`
	Watch    bool   `koanf:"watch"`
}

// Bank is a named secondary connection.
type Bank struct {
	Dialect string `koanf:"dialect"`
	Driver  string `koanf:"driver"`
	DSN     string `koanf:"dsn"`
}

// Cache configures the read cache.
type Cache struct {
	Enabled bool `koanf:"enabled"`
}

// Pool configures the database/sql connection pool.
type Pool struct {
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	Ping            bool          `koanf:"ping"`
}

// DriverName returns the database/sql driver, defaulting to the dialect name.
func (f *File) DriverName() string {
	if f.Driver != "" {
		return f.Driver
	}
	return f.Dialect
}

// DriverName returns the database/sql driver, defaulting to the dialect name.
func (b Bank) DriverName() string {
	if b.Driver != "" {
		return b.Driver
	}
	return b.Dialect
}

var knownDialects = []string{dialect.SQLite, dialect.MySQL, dialect.Postgres, dialect.MSSQL, dialect.Oracle}

var (
	knownLevels  = []string{"debug", "info", "warn", "error"}
	knownFormats = []string{"text", "json"}
)

// Validate checks the configuration for inconsistent settings.
func (f *File) Validate() error {
	if f.Dialect != "" && !slices.Contains(knownDialects, dialect.Normalize(f.Dialect)) {
		return fmt.Errorf("config: unknown dialect %q", f.Dialect)
	}
	if !f.Simulation.Enabled && f.DSN == "" && len(f.Banks) == 0 {
		return fmt.Errorf("config: dsn is required unless simulation is enabled")
	}
	if f.Simulation.Watch && f.Simulation.Fixtures == "" {
		return fmt.Errorf("config: simulation.watch requires simulation.fixtures")
	}
	if !slices.Contains(knownLevels, strings.ToLower(f.Log.Level)) {
		return fmt.Errorf("config: unknown log level %q", f.Log.Level)
	}
	if !slices.Contains(knownFormats, strings.ToLower(f.Log.Format)) {
		return fmt.Errorf("config: unknown log format %q", f.Log.Format)
	}
	for name, b := range f.Banks {
		if b.DSN == "" {
			return fmt.Errorf("config: bank %q: dsn is required", name)
		}
		if b.DriverName() == "" {
			return fmt.Errorf("config: bank %q: dialect or driver is required", name)
		}
	}
	return nil
}
