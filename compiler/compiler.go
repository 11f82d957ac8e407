// Package compiler translates clause descriptors into parameterized SQL.
//
// Every function is pure: it reads the descriptor, never mutates it, and
// returns the statement text together with its arguments. Placeholders are
// always written as "?"; executors rebind them for their dialect. The
// returned argument slice follows the left-to-right order of the
// placeholders in the returned text.
package compiler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/dialect"
)

// ErrEmptyValues is returned when a write statement has nothing to write.
var ErrEmptyValues = errors.New("compiler: no values to write")

// ErrMissingSubquery is returned for an EXISTS clause without a subquery.
var ErrMissingSubquery = errors.New("compiler: exists clause without subquery")

// ErrUnsupportedWhereClauseType is matched by every UnsupportedWhereClauseTypeError.
var ErrUnsupportedWhereClauseType = errors.New("compiler: unsupported where clause type")

// UnsupportedWhereClauseTypeError is returned when a clause carries a kind
// the compiler does not know how to render.
type UnsupportedWhereClauseTypeError struct {
	Kind clause.Kind
}

func (e *UnsupportedWhereClauseTypeError) Error() string {
	return fmt.Sprintf("compiler: unsupported where clause type: %s (%d)", e.Kind, uint8(e.Kind))
}

// Is reports whether the target error matches ErrUnsupportedWhereClauseType.
func (e *UnsupportedWhereClauseTypeError) Is(err error) bool {
	return err == ErrUnsupportedWhereClauseType
}

// builder accumulates statement text and its arguments.
type builder struct {
	sb   strings.Builder
	args []any
}

func (b *builder) WriteString(s string) *builder {
	b.sb.WriteString(s)
	return b
}

// Arg writes a placeholder and records its value.
func (b *builder) Arg(v any) *builder {
	b.sb.WriteByte('?')
	b.args = append(b.args, v)
	return b
}

// Args writes a comma separated list of placeholders.
func (b *builder) Args(vs ...any) *builder {
	for i, v := range vs {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.Arg(v)
	}
	return b
}

// Join writes a nested fragment and appends its arguments.
func (b *builder) Join(query string, args []any) *builder {
	b.sb.WriteString(query)
	b.args = append(b.args, args...)
	return b
}

func (b *builder) Query() (string, []any) {
	return b.sb.String(), b.args
}

// Select compiles the read statement of d.
func Select(d *clause.Descriptor) (string, []any, error) {
	b := &builder{}
	if err := selectInto(b, d); err != nil {
		return "", nil, err
	}
	query, args := b.Query()
	return query, args, nil
}

func selectInto(b *builder, d *clause.Descriptor) error {
	b.WriteString("SELECT ")
	if d.Distinct {
		b.WriteString("DISTINCT ")
	}
	columns(b, d)
	b.WriteString(" FROM ").WriteString(d.Table)
	if d.Alias != "" {
		b.WriteString(" ").WriteString(d.Alias)
	}
	for _, j := range d.Joins {
		typ := j.Type
		if typ == "" {
			typ = clause.InnerJoin
		}
		b.WriteString(" ").WriteString(string(typ)).WriteString(" JOIN ").WriteString(j.Table).
			WriteString(" ON ").WriteString(j.On)
	}
	if len(d.Where) > 0 {
		b.WriteString(" WHERE ")
		if err := wheres(b, d.Where); err != nil {
			return err
		}
	}
	if len(d.Groups) > 0 {
		b.WriteString(" GROUP BY ").WriteString(strings.Join(d.Groups, ", "))
	}
	if len(d.Having) > 0 {
		b.WriteString(" HAVING ")
		if err := wheres(b, d.Having); err != nil {
			return err
		}
	}
	for _, u := range d.Unions {
		if u.Query == nil {
			continue
		}
		query, args, err := Select(u.Query)
		if err != nil {
			return err
		}
		if u.All {
			b.WriteString(" UNION ALL ")
		} else {
			b.WriteString(" UNION ")
		}
		b.Join(query, args)
	}
	if len(d.Orders) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range d.Orders {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(o.Column).WriteString(" ").WriteString(direction(o.Direction))
		}
	}
	if d.Limit != nil {
		b.WriteString(" LIMIT ").Arg(*d.Limit)
	}
	if d.Offset != nil {
		b.WriteString(" OFFSET ").Arg(*d.Offset)
	}
	return nil
}

// columns writes the select list. A registered aggregate replaces it, and
// only the first aggregate is used.
func columns(b *builder, d *clause.Descriptor) {
	if len(d.Aggregates) > 0 {
		b.WriteString(AggregateExpr(d.Aggregates[0]))
		return
	}
	if len(d.Columns) == 0 {
		b.WriteString("*")
		return
	}
	for i, c := range d.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		if c.Raw != nil {
			b.Join(c.Raw.SQL, c.Raw.Bindings)
			continue
		}
		b.WriteString(c.Name)
	}
}

// AggregateExpr renders "FUNC(column) AS alias".
func AggregateExpr(a clause.Aggregate) string {
	col := a.Column
	if col == "" {
		col = "*"
	}
	alias := a.Alias
	if alias == "" {
		alias = strings.ToLower(a.Func)
	}
	return strings.ToUpper(a.Func) + "(" + col + ") AS " + alias
}

func direction(d string) string {
	if strings.EqualFold(d, "desc") {
		return "DESC"
	}
	return "ASC"
}

// Where compiles a clause list into a predicate without the WHERE keyword.
func Where(ws []clause.Where) (string, []any, error) {
	b := &builder{}
	if err := wheres(b, ws); err != nil {
		return "", nil, err
	}
	query, args := b.Query()
	return query, args, nil
}

func wheres(b *builder, ws []clause.Where) error {
	for i, w := range ws {
		if i > 0 {
			logical := w.Logical
			if logical == "" {
				logical = clause.And
			}
			b.WriteString(" ").WriteString(string(logical)).WriteString(" ")
		}
		if err := where(b, w); err != nil {
			return err
		}
	}
	return nil
}

func where(b *builder, w clause.Where) error {
	switch w.Kind {
	case clause.KindBasic:
		op := strings.TrimSpace(w.Operator)
		if op == "" {
			op = "="
		}
		switch upper := strings.ToUpper(op); upper {
		case "ILIKE", "NOT ILIKE":
			frag := dialect.FragmentsFor(w.Dialect).ILike(w.Column, upper == "NOT ILIKE")
			b.Join(frag, []any{w.Value})
		default:
			b.WriteString(w.Column).WriteString(" ").WriteString(op).WriteString(" ").Arg(w.Value)
		}
	case clause.KindColumn:
		op := w.Operator
		if op == "" {
			op = "="
		}
		b.WriteString(w.Column).WriteString(" ").WriteString(op).WriteString(" ").WriteString(w.Other)
	case clause.KindRaw:
		b.Join(w.SQL, w.Bindings)
	case clause.KindIn:
		switch {
		case len(w.Values) == 0 && w.Not:
			b.WriteString("1=1")
		case len(w.Values) == 0:
			b.WriteString("1=0")
		default:
			b.WriteString(w.Column)
			if w.Not {
				b.WriteString(" NOT")
			}
			b.WriteString(" IN (").Args(w.Values...).WriteString(")")
		}
	case clause.KindNull:
		b.WriteString(w.Column)
		if w.Not {
			b.WriteString(" IS NOT NULL")
		} else {
			b.WriteString(" IS NULL")
		}
	case clause.KindBetween:
		b.WriteString(w.Column)
		if w.Not {
			b.WriteString(" NOT")
		}
		b.WriteString(" BETWEEN ").Arg(w.Low).WriteString(" AND ").Arg(w.High)
	case clause.KindExists:
		if w.Sub == nil {
			return ErrMissingSubquery
		}
		query, args, err := Select(w.Sub)
		if err != nil {
			return err
		}
		if w.Not {
			b.WriteString("NOT ")
		}
		b.WriteString("EXISTS (").Join(query, args).WriteString(")")
	case clause.KindGroup:
		if len(w.Group) == 0 {
			b.WriteString("1=1")
			return nil
		}
		b.WriteString("(")
		if err := wheres(b, w.Group); err != nil {
			return err
		}
		b.WriteString(")")
	default:
		return &UnsupportedWhereClauseTypeError{Kind: w.Kind}
	}
	return nil
}

// Columns returns the union of the keys of rows, sorted.
func Columns(rows ...map[string]any) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Insert compiles a single INSERT of one or more rows. Columns are the sorted
// union of all row keys; a row missing a column binds NULL for it.
func Insert(table string, rows ...map[string]any) (string, []any, error) {
	if len(rows) == 0 {
		return "", nil, ErrEmptyValues
	}
	cols := Columns(rows...)
	b := &builder{}
	b.WriteString("INSERT INTO ").WriteString(table)
	if len(cols) == 0 {
		if len(rows) > 1 {
			return "", nil, ErrEmptyValues
		}
		b.WriteString(" DEFAULT VALUES")
		query, args := b.Query()
		return query, args, nil
	}
	b.WriteString(" (").WriteString(strings.Join(cols, ", ")).WriteString(") VALUES ")
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		vs := make([]any, len(cols))
		for j, c := range cols {
			vs[j] = r[c]
		}
		b.WriteString("(").Args(vs...).WriteString(")")
	}
	query, args := b.Query()
	return query, args, nil
}

// Update compiles an UPDATE of d's table setting values, restricted by d's
// WHERE clauses.
func Update(d *clause.Descriptor, values map[string]any) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, ErrEmptyValues
	}
	b := &builder{}
	b.WriteString("UPDATE ").WriteString(d.Table).WriteString(" SET ")
	set(b, values, false)
	if err := whereSuffix(b, d); err != nil {
		return "", nil, err
	}
	query, args := b.Query()
	return query, args, nil
}

// Increment compiles "SET column = column + ?" with optional extra columns.
func Increment(d *clause.Descriptor, column string, amount any, extra map[string]any) (string, []any, error) {
	return step(d, column, "+", amount, extra)
}

// Decrement compiles "SET column = column - ?" with optional extra columns.
func Decrement(d *clause.Descriptor, column string, amount any, extra map[string]any) (string, []any, error) {
	return step(d, column, "-", amount, extra)
}

func step(d *clause.Descriptor, column, op string, amount any, extra map[string]any) (string, []any, error) {
	if column == "" {
		return "", nil, ErrEmptyValues
	}
	b := &builder{}
	b.WriteString("UPDATE ").WriteString(d.Table).WriteString(" SET ").
		WriteString(column).WriteString(" = ").WriteString(column).
		WriteString(" " + op + " ").Arg(amount)
	set(b, extra, true)
	if err := whereSuffix(b, d); err != nil {
		return "", nil, err
	}
	query, args := b.Query()
	return query, args, nil
}

// Delete compiles a DELETE restricted by d's WHERE clauses.
func Delete(d *clause.Descriptor) (string, []any, error) {
	b := &builder{}
	b.WriteString("DELETE FROM ").WriteString(d.Table)
	if err := whereSuffix(b, d); err != nil {
		return "", nil, err
	}
	query, args := b.Query()
	return query, args, nil
}

func set(b *builder, values map[string]any, leadingComma bool) {
	for i, c := range Columns(values) {
		if i > 0 || leadingComma {
			b.WriteString(", ")
		}
		b.WriteString(c).WriteString(" = ").Arg(values[c])
	}
}

func whereSuffix(b *builder, d *clause.Descriptor) error {
	if len(d.Where) == 0 {
		return nil
	}
	b.WriteString(" WHERE ")
	return wheres(b, d.Where)
}
