package simulation_test

import (
	"testing"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/dialect"
	"github.com/syssam/qb/simulation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func users() simulation.State {
	return simulation.State{
		"users": {
			{"id": 1, "name": "Ann", "age": 31, "team": "core", "deleted_at": nil},
			{"id": 2, "name": "bob", "age": 25, "team": "ops", "deleted_at": nil},
			{"id": 3, "name": "Cyd", "age": 42, "team": "core", "deleted_at": "2024-01-01"},
			{"id": 4, "name": "dee", "age": 19, "team": "sales", "deleted_at": nil},
		},
		"admins": {
			{"id": 1, "name": "Ann"},
			{"id": 9, "name": "root"},
		},
	}
}

func ids(rows []dialect.Row) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r["id"]
	}
	return out
}

func TestSelectFilters(t *testing.T) {
	t.Parallel()
	engine := simulation.NewEngine(simulation.NewActiveStore(users()))
	ilike := clause.Basic("name", "ILIKE", "%AN%")
	ilike.Dialect = dialect.Postgres

	tests := []struct {
		name  string
		where []clause.Where
		want  []any
	}{
		{"none", nil, []any{1, 2, 3, 4}},
		{"basic eq", []clause.Where{clause.Basic("team", "=", "core")}, []any{1, 3}},
		{"numeric across types", []clause.Where{clause.Basic("age", ">", int64(30))}, []any{1, 3}},
		{"not equal", []clause.Where{clause.Basic("team", "<>", "core")}, []any{2, 4}},
		{"like is case sensitive", []clause.Where{clause.Basic("name", "LIKE", "%n%")}, []any{1}},
		{"ilike folds case", []clause.Where{ilike}, []any{1}},
		{"in", []clause.Where{clause.In("team", []any{"ops", "sales"}, false)}, []any{2, 4}},
		{"empty in", []clause.Where{clause.In("team", nil, false)}, []any{}},
		{"empty not in", []clause.Where{clause.In("team", nil, true)}, []any{1, 2, 3, 4}},
		{"null", []clause.Where{clause.Null("deleted_at", false)}, []any{1, 2, 4}},
		{"not null", []clause.Where{clause.Null("deleted_at", true)}, []any{3}},
		{"between", []clause.Where{clause.Between("age", 20, 35, false)}, []any{1, 2}},
		{"not between", []clause.Where{clause.Between("age", 20, 35, true)}, []any{3, 4}},
		{"column", []clause.Where{clause.ColumnCompare("users.id", "<", "age")}, []any{1, 2, 3, 4}},
		{"raw matches all", []clause.Where{clause.Raw("age > ?", 100)}, []any{1, 2, 3, 4}},
		{
			"or binds looser than and",
			[]clause.Where{
				clause.Basic("team", "=", "ops"),
				clause.Basic("team", "=", "core").WithLogical(clause.Or),
				clause.Null("deleted_at", true),
			},
			[]any{2, 3},
		},
		{
			"group",
			[]clause.Where{
				clause.Basic("age", ">", 18),
				clause.Group([]clause.Where{
					clause.Basic("team", "=", "sales"),
					clause.Basic("id", "=", 2).WithLogical(clause.Or),
				}),
			},
			[]any{2, 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rows, err := engine.Select(&clause.Descriptor{Table: "users", Where: tt.where, Orders: []clause.Order{{Column: "id"}}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(rows))
		})
	}
}

func TestSelectShape(t *testing.T) {
	t.Parallel()
	engine := simulation.NewEngine(simulation.NewActiveStore(users()))

	rows, err := engine.Select(&clause.Descriptor{
		Table:   "users",
		Columns: []clause.Column{{Name: "users.id"}, {Name: "name AS who"}},
		Orders:  []clause.Order{{Column: "age", Direction: "DESC"}},
		Limit:   intp(2),
		Offset:  intp(1),
	})
	require.NoError(t, err)
	assert.Equal(t, []dialect.Row{{"id": 1, "who": "Ann"}, {"id": 2, "who": "bob"}}, rows)

	rows, err = engine.Select(&clause.Descriptor{Table: "users", Columns: []clause.Column{{Name: "team"}}, Distinct: true, Orders: []clause.Order{{Column: "team"}}})
	require.NoError(t, err)
	assert.Equal(t, []dialect.Row{{"team": "core"}, {"team": "ops"}, {"team": "sales"}}, rows)

	rows, err = engine.Select(&clause.Descriptor{Table: "missing"})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	rows, err = engine.Select(&clause.Descriptor{Table: "users", Offset: intp(10)})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSelectUnion(t *testing.T) {
	t.Parallel()
	engine := simulation.NewEngine(simulation.NewActiveStore(users()))
	cols := []clause.Column{{Name: "id"}, {Name: "name"}}
	d := &clause.Descriptor{
		Table:   "users",
		Columns: cols,
		Where:   []clause.Where{clause.Basic("team", "=", "core")},
		Unions:  []clause.Union{{Query: &clause.Descriptor{Table: "admins", Columns: cols}}},
		Orders:  []clause.Order{{Column: "id", Direction: "desc"}},
	}
	rows, err := engine.Select(d)
	require.NoError(t, err)
	assert.Equal(t, []any{9, 3, 1}, ids(rows))

	d.Unions[0].All = true
	d.Limit = intp(3)
	rows, err = engine.Select(d)
	require.NoError(t, err)
	assert.Equal(t, []any{9, 3, 1}, ids(rows))

	d.Limit = nil
	rows, err = engine.Select(d)
	require.NoError(t, err)
	assert.Equal(t, []any{9, 3, 1, 1}, ids(rows))
}

func TestAggregates(t *testing.T) {
	t.Parallel()
	engine := simulation.NewEngine(simulation.NewActiveStore(users()))
	tests := []struct {
		agg  clause.Aggregate
		want any
	}{
		{clause.Aggregate{Func: "count", Alias: "n"}, int64(4)},
		{clause.Aggregate{Func: "COUNT", Column: "deleted_at", Alias: "n"}, int64(1)},
		{clause.Aggregate{Func: "SUM", Column: "age", Alias: "n"}, int64(117)},
		{clause.Aggregate{Func: "AVG", Column: "age", Alias: "n"}, 29.25},
		{clause.Aggregate{Func: "MIN", Column: "name", Alias: "n"}, "Ann"},
		{clause.Aggregate{Func: "MAX", Column: "age", Alias: "n"}, 42},
		{clause.Aggregate{Func: "MAX", Column: "nope", Alias: "n"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.agg.Func+"/"+tt.agg.Column, func(t *testing.T) {
			rows, err := engine.Select(&clause.Descriptor{Table: "users", Aggregates: []clause.Aggregate{tt.agg, {Func: "SUM", Column: "id", Alias: "ignored"}}})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, dialect.Row{"n": tt.want}, rows[0])
		})
	}

	_, err := engine.Select(&clause.Descriptor{Table: "users", Aggregates: []clause.Aggregate{{Func: "SUM", Column: "name"}}})
	assert.Error(t, err)
	_, err = engine.Select(&clause.Descriptor{Table: "users", Aggregates: []clause.Aggregate{{Func: "MEDIAN", Column: "age"}}})
	assert.Error(t, err)
}

func TestApplyWrites(t *testing.T) {
	t.Parallel()
	store := simulation.NewActiveStore(users())
	engine := simulation.NewEngine(store)
	where := func(ws ...clause.Where) *clause.Descriptor { return &clause.Descriptor{Table: "users", Where: ws} }

	res, err := engine.Apply(where(), &clause.Action{Type: clause.ActionInsert, Rows: []map[string]any{{"name": "eve"}, {"id": 10, "name": "fay"}, {"name": "gus"}}})
	require.NoError(t, err)
	assert.Equal(t, dialect.RunResult{Changes: 3, LastInsertRowid: 11}, res)
	rows, _ := store.StateFor("users")
	assert.Equal(t, []any{1, 2, 3, 4, int64(5), 10, int64(11)}, ids(rows))

	res, err = engine.Apply(where(clause.Basic("team", "=", "core")), &clause.Action{Type: clause.ActionUpdate, Values: map[string]any{"team": "platform"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Changes)

	res, err = engine.Apply(where(clause.Basic("id", "=", 2)), &clause.Action{Type: clause.ActionIncrement, Column: "age", Amount: 5, Values: map[string]any{"seen": true}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Changes)
	res, err = engine.Apply(where(clause.Basic("id", "=", 2)), &clause.Action{Type: clause.ActionDecrement, Column: "age", Amount: 0.5})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Changes)
	rows, _ = store.StateFor("users")
	assert.Equal(t, 29.5, rows[1]["age"])
	assert.Equal(t, true, rows[1]["seen"])

	_, err = engine.Apply(where(clause.Basic("id", "=", 1)), &clause.Action{Type: clause.ActionIncrement, Column: "name", Amount: 1})
	assert.Error(t, err)

	res, err = engine.Apply(where(clause.Basic("team", "=", "platform")), &clause.Action{Type: clause.ActionDelete})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Changes)
	rows, _ = store.StateFor("users")
	assert.Equal(t, []any{2, 4, int64(5), 10, int64(11)}, ids(rows))
}

func TestApplyUpdateOrInsert(t *testing.T) {
	t.Parallel()
	store := simulation.NewActiveStore(users())
	engine := simulation.NewEngine(store)
	d := &clause.Descriptor{Table: "users"}

	res, err := engine.Apply(d, &clause.Action{Type: clause.ActionUpdateOrInsert, Attributes: map[string]any{"id": 1}, Values: map[string]any{"age": 50}})
	require.NoError(t, err)
	assert.Equal(t, dialect.RunResult{Changes: 1}, res)

	res, err = engine.Apply(d, &clause.Action{Type: clause.ActionUpdateOrInsert, Attributes: map[string]any{"id": 7}, Values: map[string]any{"name": "new"}})
	require.NoError(t, err)
	assert.Equal(t, dialect.RunResult{Changes: 1, LastInsertRowid: 7}, res)

	rows, err := engine.Select(&clause.Descriptor{Table: "users", Where: []clause.Where{clause.Basic("id", "=", 7)}})
	require.NoError(t, err)
	assert.Equal(t, []dialect.Row{{"id": 7, "name": "new"}}, rows)
	assert.Empty(t, d.Where)
}

func TestApplyUnsupported(t *testing.T) {
	t.Parallel()
	engine := simulation.NewEngine(simulation.NewActiveStore(nil))
	_, err := engine.Apply(clause.New("t"), &clause.Action{Type: "truncate"})
	var uerr *simulation.UnsupportedActionError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, clause.ActionType("truncate"), uerr.Type)
	_, err = engine.Apply(clause.New("t"), nil)
	require.ErrorAs(t, err, &uerr)
}

// plainController implements Controller without Mutator.
type plainController struct {
	tables simulation.State
}

func (c *plainController) IsActive() bool                 { return true }
func (c *plainController) Start(initial simulation.State) { c.tables = initial }
func (c *plainController) Stop()                          { c.tables = nil }
func (c *plainController) StateFor(table string) ([]dialect.Row, bool) {
	rows, ok := c.tables[table]
	return simulation.CloneRows(rows), ok
}
func (c *plainController) UpdateStateFor(table string, rows []dialect.Row) { c.tables[table] = rows }

func TestApplyPublishesToController(t *testing.T) {
	t.Parallel()
	ctrl := &plainController{tables: simulation.State{}}
	engine := simulation.NewEngine(ctrl, simulation.WithPrimaryKey("key"))
	_, err := engine.Apply(clause.New("kv"), &clause.Action{Type: clause.ActionInsert, Rows: []map[string]any{{"v": "a"}}})
	require.NoError(t, err)
	assert.Equal(t, []dialect.Row{{"key": int64(1), "v": "a"}}, ctrl.tables["kv"])
}
