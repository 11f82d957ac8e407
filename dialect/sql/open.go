package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite" // registers "sqlite"

	"github.com/syssam/qb/dialect"
)

// Options configures Open.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Ping verifies the connection before Open returns.
	Ping bool
}

// Open opens a connection pool with the named database/sql driver. The
// drivers "postgres", "pgx", "mysql" and "sqlite" are registered by this
// package. The DSN is validated before the pool is created.
func Open(ctx context.Context, driverName, dsn string, opts Options) (*Driver, error) {
	if err := ValidateDSN(driverName, dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: open %s: %w", driverName, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.Ping {
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("dialect/sql: ping %s: %w", driverName, err)
		}
	}
	return OpenDB(driverName, db), nil
}

// ValidateDSN checks that dsn is well formed for the driver. Formats the
// package cannot check are accepted as is.
func ValidateDSN(driverName, dsn string) error {
	if strings.TrimSpace(dsn) == "" {
		return fmt.Errorf("dialect/sql: empty dsn for driver %q", driverName)
	}
	switch dialect.Normalize(driverName) {
	case dialect.Postgres:
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			if _, err := pq.ParseURL(dsn); err != nil {
				return fmt.Errorf("dialect/sql: invalid postgres dsn: %w", err)
			}
		}
	case dialect.MySQL:
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return fmt.Errorf("dialect/sql: invalid mysql dsn: %w", err)
		}
	}
	return nil
}
