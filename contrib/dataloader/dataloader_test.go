package dataloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/qb"
	"github.com/syssam/qb/dialect"
	"github.com/syssam/qb/hook"
	"github.com/syssam/qb/simulation"
)

type item struct {
	ID   int
	Name string
}

func TestOrderByKeys(t *testing.T) {
	t.Parallel()

	keyFn := func(e item) int { return e.ID }

	t.Run("all keys found", func(t *testing.T) {
		t.Parallel()
		result, errs := OrderByKeys([]int{1, 2, 3}, []item{{3, "c"}, {1, "a"}, {2, "b"}}, keyFn)
		require.Len(t, result, 3)
		assert.Equal(t, []item{{1, "a"}, {2, "b"}, {3, "c"}}, result)
		assert.Equal(t, []error{nil, nil, nil}, errs)
	})

	t.Run("some keys missing", func(t *testing.T) {
		t.Parallel()
		result, errs := OrderByKeys([]int{1, 2, 3, 4}, []item{{1, "a"}, {3, "c"}}, keyFn)
		assert.Equal(t, []item{{1, "a"}, {}, {3, "c"}, {}}, result)
		assert.NoError(t, errs[0])
		assert.ErrorIs(t, errs[1], ErrNotFound)
		assert.NoError(t, errs[2])
		assert.ErrorIs(t, errs[3], ErrNotFound)
	})

	t.Run("duplicate keys", func(t *testing.T) {
		t.Parallel()
		result := OrderByKeysNoError([]int{2, 2, 1}, []item{{1, "a"}, {2, "b"}}, keyFn)
		assert.Equal(t, []item{{2, "b"}, {2, "b"}, {1, "a"}}, result)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		result, errs := OrderByKeys(nil, []item{{1, "a"}}, keyFn)
		assert.Empty(t, result)
		assert.Empty(t, errs)
	})
}

func TestGroupByKey(t *testing.T) {
	t.Parallel()

	rows := []dialect.Row{
		{"id": int64(1), "user_id": int64(10)},
		{"id": int64(2), "user_id": int64(20)},
		{"id": int64(3), "user_id": int64(10)},
	}
	grouped := GroupByKey(rows, ColumnKey("user_id"))
	require.Len(t, grouped, 2)
	assert.Len(t, grouped[int64(10)], 2)

	ordered := OrderGroupsByKeys(Keys([]int{20, 30, 10}), grouped)
	require.Len(t, ordered, 3)
	assert.Equal(t, []dialect.Row{rows[1]}, ordered[0])
	assert.Nil(t, ordered[1])
	assert.Equal(t, []dialect.Row{rows[0], rows[2]}, ordered[2])
}

func TestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want any
	}{
		{1, int64(1)},
		{int32(7), int64(7)},
		{uint8(3), int64(3)},
		{int64(9), int64(9)},
		{float64(4), int64(4)},
		{1.5, 1.5},
		{[]byte("ab"), "ab"},
		{"ab", "ab"},
		{nil, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Key(tt.in), "%T(%v)", tt.in, tt.in)
	}
}

// newUsers returns a builder over a simulated users table and a counter of
// the reads it runs.
func newUsers(t *testing.T) (*qb.Builder, *atomic.Int32) {
	t.Helper()
	store := simulation.NewActiveStore(simulation.State{
		"users": {
			{"id": int64(1), "name": "ann", "team": "red"},
			{"id": int64(2), "name": "bob", "team": "blue"},
			{"id": int64(3), "name": "cara", "team": "red"},
		},
	})
	bus := hook.NewDispatcher()
	var reads atomic.Int32
	bus.Subscribe("qb:BEFORE:READ:*", func(context.Context, *hook.Event) error {
		reads.Add(1)
		return nil
	})
	cfg := qb.NewConfig(qb.WithSimulation(store), qb.WithBus(bus))
	return qb.New("users", qb.WithConfig(cfg)), &reads
}

func TestLoadRows(t *testing.T) {
	t.Parallel()

	b, reads := newUsers(t)
	rows, errs, err := LoadRows(context.Background(), b, "id", []any{3, 9, 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, reads.Load())
	require.Len(t, rows, 3)
	assert.Equal(t, "cara", rows[0]["name"])
	assert.Nil(t, rows[1])
	assert.ErrorIs(t, errs[1], ErrNotFound)
	assert.Equal(t, "ann", rows[2]["name"])
	assert.Empty(t, b.Descriptor().Where, "the base builder is not modified")
}

func TestLoadGroups(t *testing.T) {
	t.Parallel()

	b, _ := newUsers(t)
	groups, err := LoadGroups(context.Background(), b.OrderBy("id"), "team", []any{"red", "green", "blue"})
	require.NoError(t, err)
	require.Len(t, groups, 3)
	require.Len(t, groups[0], 2)
	assert.Equal(t, "ann", groups[0][0]["name"])
	assert.Equal(t, "cara", groups[0][1]["name"])
	assert.Empty(t, groups[1])
	assert.Equal(t, "bob", groups[2][0]["name"])
}

func TestLoaderBatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, reads := newUsers(t)
	l := NewLoader(b, "id")

	first := l.Load(ctx, 1)
	second := l.Load(ctx, int64(2))
	missing := l.Load(ctx, 7)
	assert.Zero(t, l.Batches(), "nothing runs before a thunk is called")

	row, err := second()
	require.NoError(t, err)
	assert.Equal(t, "bob", row["name"])
	row, err = first()
	require.NoError(t, err)
	assert.Equal(t, "ann", row["name"])
	_, err = missing()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, l.Batches())
	assert.EqualValues(t, 1, reads.Load())

	// Known keys are memoized.
	row, err = l.Load(ctx, 1)()
	require.NoError(t, err)
	assert.Equal(t, "ann", row["name"])
	assert.Equal(t, 1, l.Batches())

	rows, errs := l.LoadMany(ctx, 3, 1, 2)
	assert.Equal(t, []error{nil, nil, nil}, errs)
	assert.Equal(t, "cara", rows[0]["name"])
	assert.Equal(t, 2, l.Batches(), "only the new key is fetched")
}

func TestLoaderScopedBuilder(t *testing.T) {
	t.Parallel()

	b, _ := newUsers(t)
	l := NewLoader(b.Where("team", "=", "red"), "id")
	_, errs := l.LoadMany(context.Background(), 1, 2)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], ErrNotFound)
}

func TestLoaderPrimeAndClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, _ := newUsers(t)
	l := NewLoader(b, "id")

	l.Prime(1, dialect.Row{"id": int64(1), "name": "primed"})
	row, err := l.Load(ctx, 1)()
	require.NoError(t, err)
	assert.Equal(t, "primed", row["name"])
	assert.Zero(t, l.Batches())

	l.Prime(1, dialect.Row{"name": "ignored"})
	row, _ = l.Load(ctx, 1)()
	assert.Equal(t, "primed", row["name"])

	l.Clear(1)
	row, err = l.Load(ctx, 1)()
	require.NoError(t, err)
	assert.Equal(t, "ann", row["name"])
	assert.Equal(t, 1, l.Batches())
}

func TestLoaderConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, _ := newUsers(t)
	l := NewLoader(b, "id")

	thunks := []Thunk{l.Load(ctx, 1), l.Load(ctx, 2), l.Load(ctx, 3)}
	var wg sync.WaitGroup
	names := make([]string, len(thunks))
	for i, th := range thunks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			row, err := th()
			if assert.NoError(t, err) {
				names[i] = row["name"].(string)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"ann", "bob", "cara"}, names)
	assert.Equal(t, 1, l.Batches())
}

func TestLoaderQueryError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := simulation.NewActiveStore(simulation.State{"users": {{"id": int64(1)}}})
	bus := hook.NewDispatcher()
	deny := errors.New("denied")
	unsubscribe := bus.Subscribe("qb:BEFORE:READ:users", func(context.Context, *hook.Event) error {
		return deny
	})
	b := qb.New("users", qb.WithConfig(qb.NewConfig(qb.WithSimulation(store), qb.WithBus(bus))))
	l := NewLoader(b, "id")

	_, err := l.Load(ctx, 1)()
	assert.ErrorIs(t, err, deny)

	unsubscribe()
	row, err := l.Load(ctx, 1)()
	require.NoError(t, err, "failed keys are fetched again")
	assert.Equal(t, int64(1), row["id"])
	assert.Equal(t, 2, l.Batches())
}

func TestWithLoaders(t *testing.T) {
	t.Parallel()

	type loaders struct{ Users *Loader }
	b, _ := newUsers(t)
	want := &loaders{Users: NewLoader(b, "id")}
	ctx := WithLoaders(context.Background(), want)
	assert.Same(t, want, For[*loaders](ctx))
	assert.Nil(t, For[*loaders](context.Background()))
}
