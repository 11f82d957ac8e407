package qb

import (
	"reflect"
	"sort"

	"github.com/syssam/qb/clause"
)

// Present reports whether v counts as a supplied value for the conditional
// helpers: nil, a nil pointer and "" are absent; 0 and false are present.
func Present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() != reflect.Pointer || !rv.IsNil()
}

// Args converts a typed slice into the []any taken by WhereIn.
func Args[T any](vs ...T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func (b *Builder) where(w clause.Where) *Builder {
	b.d.Where = append(b.d.Where, w)
	return b
}

// Where adds "column operator ?" joined with AND.
func (b *Builder) Where(column, operator string, value any) *Builder {
	b.record("Where", column, operator, value)
	return b.where(clause.Basic(column, operator, value))
}

// OrWhere adds "column operator ?" joined with OR.
func (b *Builder) OrWhere(column, operator string, value any) *Builder {
	b.record("OrWhere", column, operator, value)
	return b.where(clause.Basic(column, operator, value).WithLogical(clause.Or))
}

// WhereIf adds the predicate only when value is present.
func (b *Builder) WhereIf(column, operator string, value any) *Builder {
	if !Present(value) {
		return b
	}
	return b.Where(column, operator, value)
}

// WhereAll adds one "=" predicate per present entry of m, in key order.
func (b *Builder) WhereAll(m map[string]any) *Builder {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WhereIf(k, "=", m[k])
	}
	return b
}

// WhereColumn compares two columns.
func (b *Builder) WhereColumn(column, operator, other string) *Builder {
	b.record("WhereColumn", column, operator, other)
	return b.where(clause.ColumnCompare(column, operator, other))
}

// OrWhereColumn compares two columns, joined with OR.
func (b *Builder) OrWhereColumn(column, operator, other string) *Builder {
	b.record("OrWhereColumn", column, operator, other)
	return b.where(clause.ColumnCompare(column, operator, other).WithLogical(clause.Or))
}

// WhereRaw adds a verbatim predicate with its bindings.
func (b *Builder) WhereRaw(sql string, bindings ...any) *Builder {
	b.record("WhereRaw", append([]any{sql}, bindings...)...)
	return b.where(clause.Raw(sql, bindings...))
}

// OrWhereRaw adds a verbatim predicate joined with OR.
func (b *Builder) OrWhereRaw(sql string, bindings ...any) *Builder {
	b.record("OrWhereRaw", append([]any{sql}, bindings...)...)
	return b.where(clause.Raw(sql, bindings...).WithLogical(clause.Or))
}

// WhereIn adds "column IN (...)". An empty list matches nothing.
func (b *Builder) WhereIn(column string, values []any) *Builder {
	b.record("WhereIn", column, values)
	return b.where(clause.In(column, values, false))
}

// WhereNotIn adds "column NOT IN (...)". An empty list matches everything.
func (b *Builder) WhereNotIn(column string, values []any) *Builder {
	b.record("WhereNotIn", column, values)
	return b.where(clause.In(column, values, true))
}

// OrWhereIn is WhereIn joined with OR.
func (b *Builder) OrWhereIn(column string, values []any) *Builder {
	b.record("OrWhereIn", column, values)
	return b.where(clause.In(column, values, false).WithLogical(clause.Or))
}

// OrWhereNotIn is WhereNotIn joined with OR.
func (b *Builder) OrWhereNotIn(column string, values []any) *Builder {
	b.record("OrWhereNotIn", column, values)
	return b.where(clause.In(column, values, true).WithLogical(clause.Or))
}

// WhereNull adds "column IS NULL".
func (b *Builder) WhereNull(column string) *Builder {
	b.record("WhereNull", column)
	return b.where(clause.Null(column, false))
}

// WhereNotNull adds "column IS NOT NULL".
func (b *Builder) WhereNotNull(column string) *Builder {
	b.record("WhereNotNull", column)
	return b.where(clause.Null(column, true))
}

// OrWhereNull is WhereNull joined with OR.
func (b *Builder) OrWhereNull(column string) *Builder {
	b.record("OrWhereNull", column)
	return b.where(clause.Null(column, false).WithLogical(clause.Or))
}

// OrWhereNotNull is WhereNotNull joined with OR.
func (b *Builder) OrWhereNotNull(column string) *Builder {
	b.record("OrWhereNotNull", column)
	return b.where(clause.Null(column, true).WithLogical(clause.Or))
}

// WhereBetween adds "column BETWEEN ? AND ?".
func (b *Builder) WhereBetween(column string, low, high any) *Builder {
	b.record("WhereBetween", column, low, high)
	return b.where(clause.Between(column, low, high, false))
}

// WhereNotBetween adds "column NOT BETWEEN ? AND ?".
func (b *Builder) WhereNotBetween(column string, low, high any) *Builder {
	b.record("WhereNotBetween", column, low, high)
	return b.where(clause.Between(column, low, high, true))
}

// OrWhereBetween is WhereBetween joined with OR.
func (b *Builder) OrWhereBetween(column string, low, high any) *Builder {
	b.record("OrWhereBetween", column, low, high)
	return b.where(clause.Between(column, low, high, false).WithLogical(clause.Or))
}

// OrWhereNotBetween is WhereNotBetween joined with OR.
func (b *Builder) OrWhereNotBetween(column string, low, high any) *Builder {
	b.record("OrWhereNotBetween", column, low, high)
	return b.where(clause.Between(column, low, high, true).WithLogical(clause.Or))
}

// WhereExists adds "EXISTS (sub)". The subquery is copied.
func (b *Builder) WhereExists(sub *Builder) *Builder {
	b.record("WhereExists", sub.d.Table)
	return b.where(clause.Exists(sub.d.Clone(), false))
}

// WhereNotExists adds "NOT EXISTS (sub)".
func (b *Builder) WhereNotExists(sub *Builder) *Builder {
	b.record("WhereNotExists", sub.d.Table)
	return b.where(clause.Exists(sub.d.Clone(), true))
}

// OrWhereExists is WhereExists joined with OR.
func (b *Builder) OrWhereExists(sub *Builder) *Builder {
	b.record("OrWhereExists", sub.d.Table)
	return b.where(clause.Exists(sub.d.Clone(), false).WithLogical(clause.Or))
}

// OrWhereNotExists is WhereNotExists joined with OR.
func (b *Builder) OrWhereNotExists(sub *Builder) *Builder {
	b.record("OrWhereNotExists", sub.d.Table)
	return b.where(clause.Exists(sub.d.Clone(), true).WithLogical(clause.Or))
}

// WhereGroup adds the predicates built by fn inside parentheses:
//
//	qb.New("users").Where("active", "=", true).WhereGroup(func(g *qb.Builder) {
//	    g.Where("role", "=", "admin").OrWhere("role", "=", "owner")
//	})
func (b *Builder) WhereGroup(fn func(*Builder)) *Builder {
	return b.group("WhereGroup", clause.And, fn)
}

// OrWhereGroup is WhereGroup joined with OR.
func (b *Builder) OrWhereGroup(fn func(*Builder)) *Builder {
	return b.group("OrWhereGroup", clause.Or, fn)
}

func (b *Builder) group(method string, l clause.Logical, fn func(*Builder)) *Builder {
	b.record(method)
	g := &Builder{d: clause.New(b.d.Table), cfg: b.cfg}
	fn(g)
	return b.where(clause.Group(g.d.Where).WithLogical(l))
}
