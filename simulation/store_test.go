package simulation_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/dialect"
	"github.com/syssam/qb/simulation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()
	initial := simulation.State{"t": {{"id": 1, "tags": []any{"a"}}}}
	s := simulation.NewStore()
	assert.False(t, s.IsActive())

	s.Start(initial)
	assert.True(t, s.IsActive())
	initial["t"][0]["id"] = 99
	initial["t"][0]["tags"].([]any)[0] = "mutated"

	rows, ok := s.StateFor("t")
	require.True(t, ok)
	assert.Equal(t, []dialect.Row{{"id": 1, "tags": []any{"a"}}}, rows)

	rows[0]["id"] = 2
	again, _ := s.StateFor("t")
	assert.Equal(t, 1, again[0]["id"])

	_, ok = s.StateFor("missing")
	assert.False(t, ok)

	s.UpdateStateFor("u", []dialect.Row{{"id": 5}})
	assert.Equal(t, []string{"t", "u"}, s.Tables())
	assert.Len(t, s.Snapshot(), 2)

	s.Reset()
	assert.Empty(t, s.Tables())
	assert.True(t, s.IsActive())

	s.Stop()
	assert.False(t, s.IsActive())
	_, ok = s.StateFor("t")
	assert.False(t, ok)
}

func TestStoreMutate(t *testing.T) {
	t.Parallel()
	s := simulation.NewActiveStore(simulation.State{"t": {{"n": 0}}})
	boom := errors.New("boom")
	err := s.Mutate("t", func(rows []dialect.Row) ([]dialect.Row, error) {
		rows[0]["n"] = 100
		return rows, boom
	})
	require.ErrorIs(t, err, boom)
	rows, _ := s.StateFor("t")
	assert.Equal(t, 0, rows[0]["n"])

	engine := simulation.NewEngine(s)
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Apply(&clause.Descriptor{Table: "t", Where: []clause.Where{clause.Null("n", true)}}, &clause.Action{Type: clause.ActionIncrement, Column: "n", Amount: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	rows, _ = s.StateFor("t")
	assert.Equal(t, int64(20), rows[0]["n"])
}

func TestParseFixtures(t *testing.T) {
	t.Parallel()
	state, err := simulation.ParseFixtures([]byte("users:\n  - {id: 1, name: ann}\n  - {id: 2, name: bob, admin: true}\nposts: []\n"))
	require.NoError(t, err)
	assert.Equal(t, simulation.State{
		"users": {{"id": 1, "name": "ann"}, {"id": 2, "name": "bob", "admin": true}},
		"posts": {},
	}, state)

	_, err = simulation.ParseFixtures([]byte("users: 3"))
	assert.Error(t, err)

	_, err = simulation.LoadFixtures(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatchFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  - {id: 1}\n"), 0o644))

	s := simulation.NewStore()
	reloads := make(chan error, 1)
	notify := func(err error) {
		select {
		case reloads <- err:
		default:
		}
	}
	w, err := simulation.WatchFixtures(path, s, simulation.OnReload(notify))
	require.NoError(t, err)
	defer w.Close()

	rows, ok := s.StateFor("users")
	require.True(t, ok)
	assert.Len(t, rows, 1)

	require.NoError(t, os.WriteFile(path, []byte("users:\n  - {id: 1}\n  - {id: 2}\n"), 0o644))
	require.Eventually(t, func() bool {
		rows, _ := s.StateFor("users")
		return len(rows) == 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestExportImport(t *testing.T) {
	t.Parallel()
	s := simulation.NewActiveStore(simulation.State{
		"users": {{"id": 1, "name": "ann", "score": 1.5, "admin": true, "note": nil}},
	})
	var buf bytes.Buffer
	require.NoError(t, s.Export(&buf))

	other := simulation.NewStore()
	require.NoError(t, other.Import(&buf))
	assert.True(t, other.IsActive())

	rows, ok := other.StateFor("users")
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["id"])
	assert.Equal(t, "ann", rows[0]["name"])
	assert.Equal(t, 1.5, rows[0]["score"])
	assert.Equal(t, true, rows[0]["admin"])
	assert.Nil(t, rows[0]["note"])

	engine := simulation.NewEngine(other)
	found, err := engine.Select(&clause.Descriptor{Table: "users", Where: []clause.Where{clause.Basic("id", "=", 1)}})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	assert.Error(t, other.Import(bytes.NewReader([]byte{0xc1})))
}
