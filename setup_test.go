package qb_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/qb"
	"github.com/syssam/qb/config"
	dsql "github.com/syssam/qb/dialect/sql"
	"github.com/syssam/qb/hook"
)

func loadConfig(t *testing.T, content string) *config.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	f, err := config.Load(path)
	require.NoError(t, err)
	return f
}

func TestSetupSimulationFixtures(t *testing.T) {
	ctx := context.Background()
	fixtures := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(fixtures, []byte("users:\n  - {id: 1, name: ann}\n  - {id: 2, name: bob}\n"), 0o600))

	f := loadConfig(t, "event_prefix: app\nsimulation:\n  enabled: true\n  fixtures: "+fixtures+"\ncache:\n  enabled: true\n")
	cfg, closeFn, err := qb.Setup(ctx, f, qb.WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, closeFn()) })

	assert.Equal(t, "app", cfg.EventPrefix())
	assert.NotNil(t, cfg.Cache())
	assert.Nil(t, cfg.Executor())
	require.NotNil(t, cfg.Simulation())
	assert.True(t, cfg.Simulation().IsActive())

	var topics []string
	bus, ok := cfg.Bus().(*hook.Dispatcher)
	require.True(t, ok)
	bus.Subscribe("app:*", func(_ context.Context, e *hook.Event) error {
		topics = append(topics, e.Topic())
		return nil
	})

	n, err := qb.New("users", qb.WithConfig(cfg)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"app:BEFORE:READ:users", "app:AFTER:READ:users"}, topics)
}

func TestSetupSQLite(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	f := loadConfig(t, `
dialect: sqlite
dsn: ":memory:"
log:
  level: debug
  format: json
stats:
  enabled: true
  debug: true
pool:
  max_open_conns: 1
`)
	cfg, closeFn, err := qb.Setup(ctx, f, qb.WithLogOutput(&logs))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, closeFn()) })

	assert.Equal(t, "sqlite", cfg.Dialect())
	_, err = cfg.Executor().ExecuteQuery(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)", nil)
	require.NoError(t, err)

	res, err := qb.New("users", qb.WithConfig(cfg)).Insert(map[string]any{"name": "ann"}).Make(ctx)
	require.NoError(t, err)
	assert.Equal(t, qb.WriteResult{Changes: 1, LastInsertRowid: 1}, res)

	row, err := qb.New("users", qb.WithConfig(cfg)).First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ann", row["name"])

	assert.Contains(t, logs.String(), "INSERT INTO users")
	assert.Contains(t, logs.String(), `"level":"DEBUG"`)

	debug, ok := cfg.Executor().(*dsql.DebugExecutor)
	require.True(t, ok)
	stats, ok := debug.Executor.(*dsql.StatsExecutor)
	require.True(t, ok)
	snap := stats.QueryStats().Stats()
	assert.Equal(t, int64(1), snap.TotalQueries)
	assert.Equal(t, int64(2), snap.TotalExecs)
}

func TestSetupBanks(t *testing.T) {
	ctx := context.Background()
	f := loadConfig(t, `
banks:
  us:
    dialect: sqlite
    dsn: ":memory:"
  eu:
    dialect: sqlite
    dsn: ":memory:"
pool:
  max_open_conns: 1
`)
	cfg, closeFn, err := qb.Setup(ctx, f, qb.WithLogOutput(&bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, closeFn()) })

	require.NotNil(t, cfg.Registry())
	assert.Equal(t, []string{"eu", "us"}, cfg.Registry().Names())
	for _, name := range cfg.Registry().Names() {
		exec, _ := cfg.Registry().Get(name)
		_, err := exec.ExecuteQuery(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)", nil)
		require.NoError(t, err)
	}

	res, err := qb.New("users", qb.WithConfig(cfg)).On("us", "eu").Insert(map[string]any{"name": "ann"}).Make(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Changes)

	rows, err := qb.New("users", qb.WithConfig(cfg)).On("eu").All(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSetupInvalid(t *testing.T) {
	ctx := context.Background()

	f := loadConfig(t, "dialect: db2\nsimulation:\n  enabled: true\n")
	cfg, closeFn, err := qb.Setup(ctx, f)
	assert.ErrorContains(t, err, "unknown dialect")
	assert.Nil(t, cfg)
	assert.Nil(t, closeFn)

	f = loadConfig(t, "simulation:\n  enabled: true\n  fixtures: "+filepath.Join(t.TempDir(), "missing.yaml")+"\n")
	_, _, err = qb.Setup(ctx, f, qb.WithLogOutput(&bytes.Buffer{}))
	assert.ErrorContains(t, err, "read fixtures")

	f = loadConfig(t, "dialect: mysql\ndsn: \"user:pass@tcp(localhost:3306\"\n")
	_, _, err = qb.Setup(ctx, f, qb.WithLogOutput(&bytes.Buffer{}))
	assert.ErrorContains(t, err, "invalid mysql dsn")
}
