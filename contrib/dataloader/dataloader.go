// Package dataloader batches row lookups by key through the query builder.
//
// A Loader collects the keys requested with Load and fetches them with a
// single WHERE column IN (...) query the first time any of the returned
// thunks is called:
//
//	users := dataloader.NewLoader(qb.New("users", qb.WithConfig(cfg)), "id")
//	a := users.Load(ctx, 1)
//	b := users.Load(ctx, 2)
//	ann, err := a() // one query for both keys
//	bob, err := b()
//
// The package level helpers reorder or group rows fetched some other way:
//
//	rows, _ := qb.New("posts", qb.WithConfig(cfg)).WhereIn("user_id", ids).All(ctx)
//	grouped := dataloader.GroupByKey(rows, dataloader.ColumnKey("user_id"))
//	ordered := dataloader.OrderGroupsByKeys(dataloader.Keys(ids), grouped)
package dataloader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syssam/qb"
	"github.com/syssam/qb/dialect"
)

// ErrNotFound is returned for a key no row matched.
var ErrNotFound = errors.New("dataloader: row not found")

// KeyFunc extracts a key from a value.
type KeyFunc[K comparable, V any] func(V) K

// OrderByKeys reorders values to match the order of keys. A key with no
// value yields the zero value and ErrNotFound at its index.
func OrderByKeys[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) ([]V, []error) {
	lookup := make(map[K]V, len(values))
	for _, v := range values {
		lookup[keyFn(v)] = v
	}
	result := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, key := range keys {
		if v, ok := lookup[key]; ok {
			result[i] = v
		} else {
			errs[i] = ErrNotFound
		}
	}
	return result, errs
}

// OrderByKeysNoError is OrderByKeys for lookups where a missing value is
// acceptable.
func OrderByKeysNoError[K comparable, V any](keys []K, values []V, keyFn KeyFunc[K, V]) []V {
	result, _ := OrderByKeys(keys, values, keyFn)
	return result
}

// GroupByKey groups values sharing a key, for one-to-many lookups.
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) map[K][]V {
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		result[key] = append(result[key], v)
	}
	return result
}

// OrderGroupsByKeys returns groups[keys[i]] at index i.
func OrderGroupsByKeys[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	result := make([][]V, len(keys))
	for i, key := range keys {
		result[i] = groups[key]
	}
	return result
}

// Key normalizes a lookup key so that values of different Go types read
// from different drivers compare equal: integers become int64 and byte
// slices strings. Other values are returned unchanged and must be
// comparable.
func Key(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
	case []byte:
		return string(x)
	}
	return v
}

// Keys normalizes every element of vs with Key.
func Keys[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = Key(v)
	}
	return out
}

// ColumnKey returns a KeyFunc reading column from a row.
func ColumnKey(column string) KeyFunc[any, dialect.Row] {
	return func(r dialect.Row) any {
		return Key(r[column])
	}
}

// LoadRows fetches the rows of b whose column is one of keys and returns
// them in the order of keys. Missing keys get a nil row and ErrNotFound.
// A query failure is returned as err and the slices are nil.
func LoadRows(ctx context.Context, b *qb.Builder, column string, keys []any) (rows []dialect.Row, errs []error, err error) {
	keys = Keys(keys)
	found, err := b.Clone().WhereIn(column, keys).All(ctx)
	if err != nil {
		return nil, nil, err
	}
	rows, errs = OrderByKeys(keys, found, ColumnKey(column))
	return rows, errs, nil
}

// LoadGroups fetches the rows of b whose column is one of keys and groups
// them by key, in the order of keys.
func LoadGroups(ctx context.Context, b *qb.Builder, column string, keys []any) ([][]dialect.Row, error) {
	keys = Keys(keys)
	found, err := b.Clone().WhereIn(column, keys).All(ctx)
	if err != nil {
		return nil, err
	}
	return OrderGroupsByKeys(keys, GroupByKey(found, ColumnKey(column))), nil
}

// Thunk waits for the batch holding its key and returns the row.
type Thunk func() (dialect.Row, error)

type entry struct {
	done chan struct{}
	row  dialect.Row
	err  error
}

func (e *entry) resolve(row dialect.Row, err error) {
	e.row, e.err = row, err
	close(e.done)
}

// Loader batches and memoizes lookups of rows by one column. A Loader is
// meant to live for a single request; it is safe for concurrent use.
type Loader struct {
	base    *qb.Builder
	column  string
	mu      sync.Mutex
	entries map[any]*entry
	pending []any
	batches int
}

// NewLoader returns a loader fetching rows of b by column. Conditions
// already on b scope every batch.
func NewLoader(b *qb.Builder, column string) *Loader {
	return &Loader{
		base:    b.Clone(),
		column:  column,
		entries: make(map[any]*entry),
	}
}

// Load schedules key and returns a thunk resolving it. Keys scheduled
// before any thunk is called are fetched together.
func (l *Loader) Load(ctx context.Context, key any) Thunk {
	key = Key(key)
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{done: make(chan struct{})}
		l.entries[key] = e
		l.pending = append(l.pending, key)
	}
	l.mu.Unlock()
	return func() (dialect.Row, error) {
		l.flush(ctx)
		select {
		case <-e.done:
			return e.row, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// LoadMany loads keys in one batch and returns their rows and errors in
// order.
func (l *Loader) LoadMany(ctx context.Context, keys ...any) ([]dialect.Row, []error) {
	thunks := make([]Thunk, len(keys))
	for i, k := range keys {
		thunks[i] = l.Load(ctx, k)
	}
	rows := make([]dialect.Row, len(keys))
	errs := make([]error, len(keys))
	for i, th := range thunks {
		rows[i], errs[i] = th()
	}
	return rows, errs
}

// Prime stores row for key unless the key is already known.
func (l *Loader) Prime(key any, row dialect.Row) {
	key = Key(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[key]; ok {
		return
	}
	e := &entry{done: make(chan struct{})}
	e.resolve(row, nil)
	l.entries[key] = e
}

// Clear forgets key so that the next Load fetches it again. Typically
// called after a write touching the row.
func (l *Loader) Clear(keys ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		k = Key(k)
		if e, ok := l.entries[k]; ok {
			select {
			case <-e.done:
				delete(l.entries, k)
			default:
				// Still in an unflushed batch.
			}
		}
	}
}

// Batches returns the number of queries run so far.
func (l *Loader) Batches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.batches
}

func (l *Loader) flush(ctx context.Context) {
	l.mu.Lock()
	keys := l.pending
	l.pending = nil
	if len(keys) == 0 {
		l.mu.Unlock()
		return
	}
	l.batches++
	entries := make([]*entry, len(keys))
	for i, k := range keys {
		entries[i] = l.entries[k]
	}
	l.mu.Unlock()

	rows, errs, err := LoadRows(ctx, l.base, l.column, keys)
	for i, e := range entries {
		switch {
		case err != nil:
			e.resolve(nil, fmt.Errorf("dataloader: load %s: %w", l.column, err))
		case errs[i] != nil:
			e.resolve(nil, errs[i])
		default:
			e.resolve(rows[i], nil)
		}
	}
	if err != nil {
		// Failed keys are retried by the next Load.
		l.mu.Lock()
		for _, k := range keys {
			delete(l.entries, k)
		}
		l.mu.Unlock()
	}
}

type ctxKey struct{}

// WithLoaders stores a request's loaders in ctx.
//
//	ctx = dataloader.WithLoaders(r.Context(), &Loaders{
//	    Users: dataloader.NewLoader(qb.New("users", qb.WithConfig(cfg)), "id"),
//	})
func WithLoaders[T any](ctx context.Context, loaders T) context.Context {
	return context.WithValue(ctx, ctxKey{}, loaders)
}

// For returns the loaders stored by WithLoaders, or the zero value.
func For[T any](ctx context.Context) T {
	v, _ := ctx.Value(ctxKey{}).(T)
	return v
}
