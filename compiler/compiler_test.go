package compiler_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/compiler"
	"github.com/syssam/qb/dialect"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestSelect(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		d        *clause.Descriptor
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "star",
			d:       clause.New("t"),
			wantSQL: "SELECT * FROM t",
		},
		{
			name: "where order limit",
			d: &clause.Descriptor{
				Table:  "t",
				Where:  []clause.Where{clause.Basic("a", "=", 1)},
				Orders: []clause.Order{{Column: "b", Direction: "desc"}},
				Limit:  intp(10),
			},
			wantSQL:  "SELECT * FROM t WHERE a = ? ORDER BY b DESC LIMIT ?",
			wantArgs: []any{1, 10},
		},
		{
			name: "distinct alias joins",
			d: &clause.Descriptor{
				Table:    "users",
				Alias:    "u",
				Distinct: true,
				Columns:  []clause.Column{{Name: "u.id"}, {Name: "p.title"}},
				Joins: []clause.Join{
					{Type: clause.LeftJoin, Table: "posts p", On: "p.user_id = u.id"},
					{Table: "roles r", On: "r.id = u.role_id"},
				},
			},
			wantSQL: "SELECT DISTINCT u.id, p.title FROM users u LEFT JOIN posts p ON p.user_id = u.id INNER JOIN roles r ON r.id = u.role_id",
		},
		{
			name: "per clause logical",
			d: &clause.Descriptor{
				Table: "t",
				Where: []clause.Where{
					clause.Basic("a", "=", 1),
					clause.Basic("b", ">", 2).WithLogical(clause.Or),
					clause.Null("c", false),
				},
			},
			wantSQL:  "SELECT * FROM t WHERE a = ? OR b > ? AND c IS NULL",
			wantArgs: []any{1, 2},
		},
		{
			name: "empty in",
			d: &clause.Descriptor{
				Table: "t",
				Where: []clause.Where{clause.In("a", nil, false), clause.In("b", []any{}, true)},
			},
			wantSQL: "SELECT * FROM t WHERE 1=0 AND 1=1",
		},
		{
			name:     "offset without limit",
			d:        &clause.Descriptor{Table: "t", Offset: intp(5)},
			wantSQL:  "SELECT * FROM t OFFSET ?",
			wantArgs: []any{5},
		},
		{
			name: "first aggregate wins",
			d: &clause.Descriptor{
				Table:      "t",
				Columns:    []clause.Column{{Name: "a"}},
				Aggregates: []clause.Aggregate{{Func: "count", Alias: "n"}, {Func: "SUM", Column: "a", Alias: "s"}},
			},
			wantSQL: "SELECT COUNT(*) AS n FROM t",
		},
		{
			name: "group by having",
			d: &clause.Descriptor{
				Table:   "orders",
				Columns: []clause.Column{{Name: "user_id"}, {Raw: &clause.RawExpr{SQL: "SUM(total) * ? AS weighted", Bindings: []any{2}}}},
				Where:   []clause.Where{clause.Basic("status", "=", "paid")},
				Groups:  []string{"user_id"},
				Having:  []clause.Where{clause.Raw("SUM(total) > ?", 100), clause.Basic("COUNT(*)", ">=", 3).WithLogical(clause.Or)},
			},
			wantSQL:  "SELECT user_id, SUM(total) * ? AS weighted FROM orders WHERE status = ? GROUP BY user_id HAVING SUM(total) > ? OR COUNT(*) >= ?",
			wantArgs: []any{2, "paid", 100, 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			query, args, err := compiler.Select(tt.d)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, query)
			assert.Equal(t, tt.wantArgs, args)
			assert.Equal(t, dialect.CountPlaceholders(query), len(args))
		})
	}
}

func TestSelectIdempotent(t *testing.T) {
	t.Parallel()
	d := &clause.Descriptor{
		Table:  "t",
		Where:  []clause.Where{clause.In("a", []any{1, 2}, false)},
		Unions: []clause.Union{{Query: &clause.Descriptor{Table: "u", Where: []clause.Where{clause.Basic("b", "=", 3)}}}},
		Limit:  intp(1),
	}
	before := d.Clone()
	q1, a1, err := compiler.Select(d)
	require.NoError(t, err)
	q2, a2, err := compiler.Select(d)
	require.NoError(t, err)
	assert.Equal(t, q1, q2)
	assert.Equal(t, a1, a2)
	assert.Equal(t, before, d)
}

func TestWhereUnsupportedKind(t *testing.T) {
	t.Parallel()
	_, _, err := compiler.Where([]clause.Where{{Kind: clause.Kind(42)}})
	var uerr *compiler.UnsupportedWhereClauseTypeError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, clause.Kind(42), uerr.Kind)

	_, _, err = compiler.Select(&clause.Descriptor{Table: "t", Having: []clause.Where{{Kind: 0}}})
	require.ErrorAs(t, err, &uerr)

	_, _, err = compiler.Where([]clause.Where{{Kind: clause.KindExists}})
	require.ErrorIs(t, err, compiler.ErrMissingSubquery)
}

func TestWhereILike(t *testing.T) {
	t.Parallel()
	tests := []struct {
		dialect string
		op      string
		want    string
	}{
		{dialect.Postgres, "ILIKE", "name ILIKE ?"},
		{dialect.Postgres, "not ilike", "name NOT ILIKE ?"},
		{dialect.MySQL, "ILIKE", "name COLLATE utf8mb4_general_ci LIKE ?"},
		{dialect.Oracle, "ILIKE", "UPPER(name) LIKE UPPER(?)"},
		{"", "ILIKE", "LOWER(name) LIKE LOWER(?)"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect+"/"+tt.op, func(t *testing.T) {
			w := clause.Basic("name", tt.op, "%ann%")
			w.Dialect = tt.dialect
			query, args, err := compiler.Where([]clause.Where{w})
			require.NoError(t, err)
			assert.Equal(t, tt.want, query)
			assert.Equal(t, []any{"%ann%"}, args)
		})
	}
}

func TestInsert(t *testing.T) {
	t.Parallel()
	query, args, err := compiler.Insert("users", map[string]any{"name": "a", "age": 1}, map[string]any{"name": "b", "email": "b@x"})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users (age, email, name) VALUES (?, ?, ?), (?, ?, ?)", query)
	assert.Equal(t, []any{1, nil, "a", nil, "b@x", "b"}, args)

	query, args, err = compiler.Insert("users", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO users DEFAULT VALUES", query)
	assert.Empty(t, args)

	_, _, err = compiler.Insert("users")
	require.ErrorIs(t, err, compiler.ErrEmptyValues)
	_, _, err = compiler.Insert("users", map[string]any{}, map[string]any{})
	require.ErrorIs(t, err, compiler.ErrEmptyValues)
}

func TestUpdateDelete(t *testing.T) {
	t.Parallel()
	d := &clause.Descriptor{Table: "users", Where: []clause.Where{clause.Basic("id", "=", 7)}}

	query, args, err := compiler.Update(d, map[string]any{"name": "x", "age": 3})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET age = ?, name = ? WHERE id = ?", query)
	assert.Equal(t, []any{3, "x", 7}, args)

	_, _, err = compiler.Update(d, nil)
	require.ErrorIs(t, err, compiler.ErrEmptyValues)

	query, args, err = compiler.Increment(d, "visits", 2, map[string]any{"seen": true})
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET visits = visits + ?, seen = ? WHERE id = ?", query)
	assert.Equal(t, []any{2, true, 7}, args)

	query, args, err = compiler.Decrement(d, "stock", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "UPDATE users SET stock = stock - ? WHERE id = ?", query)
	assert.Equal(t, []any{1, 7}, args)

	query, args, err = compiler.Delete(d)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM users WHERE id = ?", query)
	assert.Equal(t, []any{7}, args)

	query, args, err = compiler.Delete(clause.New("users"))
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM users", query)
	assert.Empty(t, args)
}

func TestUpdateUnsupportedClause(t *testing.T) {
	t.Parallel()
	d := &clause.Descriptor{Table: "t", Where: []clause.Where{{Kind: 99}}}
	_, _, err := compiler.Update(d, map[string]any{"a": 1})
	var uerr *compiler.UnsupportedWhereClauseTypeError
	assert.True(t, errors.As(err, &uerr))
	_, _, err = compiler.Delete(d)
	assert.True(t, errors.As(err, &uerr))
}

// render writes a compiled statement in the golden file layout.
func render(query string, args []any) []byte {
	var b strings.Builder
	b.WriteString(query)
	b.WriteString("\n")
	for i, a := range args {
		fmt.Fprintf(&b, "%d: %v\n", i+1, a)
	}
	return []byte(b.String())
}

func TestSelectGolden(t *testing.T) {
	t.Parallel()
	sub := &clause.Descriptor{
		Table:   "orders",
		Columns: []clause.Column{{Name: "1"}},
		Where: []clause.Where{
			clause.ColumnCompare("orders.user_id", "=", "users.id"),
			clause.Basic("orders.total", ">", 50),
		},
	}
	tests := []struct {
		name string
		d    *clause.Descriptor
	}{
		{
			name: "nested_bindings",
			d: &clause.Descriptor{
				Table: "users",
				Where: []clause.Where{
					clause.Basic("active", "=", true),
					clause.Between("age", 18, 65, false),
					clause.Exists(sub, false),
					clause.Group([]clause.Where{
						clause.In("role", []any{"admin", "editor"}, false),
						clause.Null("deleted_at", true).WithLogical(clause.Or),
					}),
					clause.Raw("created_at > ?", "2024-01-01").WithLogical(clause.Or),
				},
				Orders: []clause.Order{{Column: "id"}},
				Limit:  intp(20),
				Offset: intp(40),
			},
		},
		{
			name: "union_pagination",
			d: &clause.Descriptor{
				Table:   "users",
				Columns: []clause.Column{{Name: "id"}, {Name: "email"}},
				Where:   []clause.Where{clause.Basic("plan", "=", "pro")},
				Unions: []clause.Union{
					{Query: &clause.Descriptor{
						Table:   "admins",
						Columns: []clause.Column{{Name: "id"}, {Name: "email"}},
						Where:   []clause.Where{clause.In("team", []any{"core", "ops"}, true)},
					}},
					{All: true, Query: &clause.Descriptor{
						Table:   "guests",
						Columns: []clause.Column{{Name: "id"}, {Name: "email"}},
						Where:   []clause.Where{clause.Between("visits", 1, 9, true)},
					}},
				},
				Orders: []clause.Order{{Column: "email", Direction: "DESC"}},
				Limit:  intp(5),
				Offset: intp(10),
			},
		},
	}
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	for _, tt := range tests {
		query, args, err := compiler.Select(tt.d)
		require.NoError(t, err)
		require.Equal(t, dialect.CountPlaceholders(query), len(args))
		g.Assert(t, tt.name, render(query, args))
	}
}
