// Package simulation runs builder statements against in-memory tables.
//
// A Controller owns the snapshot: one slice of rows per table name. The
// Engine interprets clause descriptors against it, so code under test can
// read and write without a database. While a controller is active every
// builder that uses it observes the same tables.
package simulation

import (
	"maps"
	"sort"
	"sync"

	"github.com/mitchellh/copystructure"

	"github.com/syssam/qb/dialect"
)

// State is a snapshot of every simulated table.
type State = map[string][]dialect.Row

// Controller owns the simulated tables.
type Controller interface {
	// IsActive reports whether simulation is running.
	IsActive() bool
	// Start activates simulation with a copy of initial.
	Start(initial State)
	// Stop deactivates simulation and drops the tables.
	Stop()
	// StateFor returns a copy of the rows of table, and whether the table exists.
	StateFor(table string) ([]dialect.Row, bool)
	// UpdateStateFor replaces the rows of table with a copy of rows.
	UpdateStateFor(table string, rows []dialect.Row)
}

// Mutator is implemented by controllers that can apply a read-modify-write
// on one table atomically. The Engine prefers it over StateFor followed by
// UpdateStateFor.
type Mutator interface {
	Mutate(table string, fn func(rows []dialect.Row) ([]dialect.Row, error)) error
}

// Store is the default Controller. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	active bool
	tables State
}

// NewStore returns an inactive store.
func NewStore() *Store {
	return &Store{}
}

// NewActiveStore returns a store started with initial.
func NewActiveStore(initial State) *Store {
	s := NewStore()
	s.Start(initial)
	return s
}

// IsActive implements Controller.
func (s *Store) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Start implements Controller.
func (s *Store) Start(initial State) {
	tables := make(State, len(initial))
	for name, rows := range initial {
		tables[name] = CloneRows(rows)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.tables = tables
}

// Stop implements Controller.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.tables = nil
}

// StateFor implements Controller.
func (s *Store) StateFor(table string) ([]dialect.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, ok := s.tables[table]
	if !ok {
		return nil, false
	}
	return CloneRows(rows), true
}

// UpdateStateFor implements Controller.
func (s *Store) UpdateStateFor(table string, rows []dialect.Row) {
	rows = CloneRows(rows)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables == nil {
		s.tables = make(State)
	}
	s.tables[table] = rows
}

// Mutate implements Mutator. fn receives a private copy of the rows; the
// table is replaced with what it returns unless it fails.
func (s *Store) Mutate(table string, fn func([]dialect.Row) ([]dialect.Row, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := fn(CloneRows(s.tables[table]))
	if err != nil {
		return err
	}
	if s.tables == nil {
		s.tables = make(State)
	}
	s.tables[table] = rows
	return nil
}

// Tables returns the names of the simulated tables, sorted.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of every table.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(State, len(s.tables))
	for name, rows := range s.tables {
		out[name] = CloneRows(rows)
	}
	return out
}

// Reset empties every table without changing the active flag.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = make(State)
}

// CloneRows deep-copies rows so that neither side can observe the other's
// mutations, nested values included.
func CloneRows(rows []dialect.Row) []dialect.Row {
	if rows == nil {
		return nil
	}
	if c, err := copystructure.Copy(rows); err == nil {
		if out, ok := c.([]dialect.Row); ok {
			return out
		}
	}
	out := make([]dialect.Row, len(rows))
	for i, r := range rows {
		out[i] = maps.Clone(r)
	}
	return out
}
