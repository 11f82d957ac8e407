package simulation

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/compiler"
	"github.com/syssam/qb/dialect"
)

// DefaultPrimaryKey is the column identifying rows when none is configured.
const DefaultPrimaryKey = "id"

// UnsupportedActionError is returned by Apply for an unknown action type.
type UnsupportedActionError struct {
	Type clause.ActionType
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("simulation: unsupported action %q", e.Type)
}

// Engine interprets descriptors against the tables of a Controller.
type Engine struct {
	ctrl       Controller
	primaryKey string
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrimaryKey sets the column identifying rows.
func WithPrimaryKey(column string) Option {
	return func(e *Engine) {
		if column != "" {
			e.primaryKey = column
		}
	}
}

// WithLogger sets the logger reporting clauses the engine cannot evaluate.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns an engine over ctrl.
func NewEngine(ctrl Controller, opts ...Option) *Engine {
	e := &Engine{ctrl: ctrl, primaryKey: DefaultPrimaryKey, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Controller returns the controller the engine reads and writes.
func (e *Engine) Controller() Controller {
	return e.ctrl
}

func (e *Engine) rows(table string) []dialect.Row {
	rows, _ := e.ctrl.StateFor(table)
	return rows
}

// Select evaluates the read statement of d. A table the controller does not
// hold reads as empty. Joins and GROUP BY are not evaluated.
func (e *Engine) Select(d *clause.Descriptor) ([]dialect.Row, error) {
	e.warnUnevaluated(d)
	rows := Filter(e.rows(d.Table), d.Where)
	if len(d.Aggregates) > 0 {
		row, err := Aggregate(rows, d.Aggregates[0])
		if err != nil {
			return nil, err
		}
		return []dialect.Row{row}, nil
	}
	if len(d.Unions) == 0 {
		sortRows(rows, d.Orders)
		rows = project(rows, d.Columns)
		if d.Distinct {
			rows = distinct(rows)
		}
		return paginate(rows, d.Limit, d.Offset), nil
	}
	rows = project(rows, d.Columns)
	if d.Distinct {
		rows = distinct(rows)
	}
	for _, u := range d.Unions {
		if u.Query == nil {
			continue
		}
		part, err := e.Select(u.Query)
		if err != nil {
			return nil, err
		}
		rows = append(rows, part...)
		if !u.All {
			rows = distinct(rows)
		}
	}
	sortRows(rows, d.Orders)
	return paginate(rows, d.Limit, d.Offset), nil
}

func (e *Engine) warnUnevaluated(d *clause.Descriptor) {
	if len(d.Joins) > 0 {
		e.logger.Debug("simulation: joins are not evaluated", "table", d.Table, "joins", len(d.Joins))
	}
	if len(d.Groups) > 0 || len(d.Having) > 0 {
		e.logger.Debug("simulation: grouping is not evaluated", "table", d.Table)
	}
	for _, w := range d.Where {
		if w.Kind == clause.KindRaw || w.Kind == clause.KindExists {
			e.logger.Debug("simulation: clause matches every row", "table", d.Table, "kind", w.Kind.String())
		}
	}
}

// Aggregate computes a over rows and returns it as a single row keyed by
// the aggregate's alias.
func Aggregate(rows []dialect.Row, a clause.Aggregate) (dialect.Row, error) {
	alias := a.Alias
	if alias == "" {
		alias = strings.ToLower(a.Func)
	}
	fn := strings.ToUpper(a.Func)
	if fn == "COUNT" {
		n := int64(0)
		for _, r := range rows {
			if a.Column == "" || a.Column == "*" {
				n++
				continue
			}
			if v, _ := lookup(r, a.Column); v != nil {
				n++
			}
		}
		return dialect.Row{alias: n}, nil
	}
	var values []any
	for _, r := range rows {
		if v, _ := lookup(r, a.Column); v != nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return dialect.Row{alias: nil}, nil
	}
	switch fn {
	case "MIN":
		return dialect.Row{alias: slices.MinFunc(values, Compare)}, nil
	case "MAX":
		return dialect.Row{alias: slices.MaxFunc(values, Compare)}, nil
	case "SUM", "AVG":
		var sum float64
		whole := true
		for _, v := range values {
			f, ok := number(v)
			if !ok {
				return nil, fmt.Errorf("simulation: %s over non-numeric value %v in column %q", fn, v, a.Column)
			}
			if _, ok := integer(v); !ok {
				whole = false
			}
			sum += f
		}
		if fn == "AVG" {
			return dialect.Row{alias: sum / float64(len(values))}, nil
		}
		if whole {
			return dialect.Row{alias: int64(sum)}, nil
		}
		return dialect.Row{alias: sum}, nil
	}
	return nil, fmt.Errorf("simulation: unsupported aggregate %q", a.Func)
}

func sortRows(rows []dialect.Row, orders []clause.Order) {
	if len(orders) == 0 {
		return
	}
	slices.SortStableFunc(rows, func(a, b dialect.Row) int {
		for _, o := range orders {
			x, _ := lookup(a, o.Column)
			y, _ := lookup(b, o.Column)
			c := Compare(x, y)
			if strings.EqualFold(o.Direction, "desc") {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

// project narrows rows to the named select columns. "table.col" selects
// col, "col AS alias" renames it and raw expressions are skipped.
func project(rows []dialect.Row, cols []clause.Column) []dialect.Row {
	var names [][2]string
	for _, c := range cols {
		if c.Raw != nil {
			continue
		}
		name := strings.TrimSpace(c.Name)
		if name == "*" || strings.HasSuffix(name, ".*") {
			return rows
		}
		alias := name
		if i := strings.Index(strings.ToLower(name), " as "); i >= 0 {
			alias = strings.TrimSpace(name[i+4:])
			name = strings.TrimSpace(name[:i])
		} else if j := strings.LastIndexByte(name, '.'); j >= 0 {
			alias = name[j+1:]
		}
		names = append(names, [2]string{name, alias})
	}
	if len(names) == 0 {
		return rows
	}
	out := make([]dialect.Row, len(rows))
	for i, r := range rows {
		p := make(dialect.Row, len(names))
		for _, n := range names {
			v, _ := lookup(r, n[0])
			p[n[1]] = v
		}
		out[i] = p
	}
	return out
}

func distinct(rows []dialect.Row) []dialect.Row {
	out := make([]dialect.Row, 0, len(rows))
	for _, r := range rows {
		if !slices.ContainsFunc(out, func(o dialect.Row) bool { return sameRow(o, r) }) {
			out = append(out, r)
		}
	}
	return out
}

func sameRow(a, b dialect.Row) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !Equal(v, w) {
			return false
		}
	}
	return true
}

func paginate(rows []dialect.Row, limit, offset *int) []dialect.Row {
	if rows == nil {
		rows = []dialect.Row{}
	}
	if offset != nil && *offset > 0 {
		if *offset >= len(rows) {
			return []dialect.Row{}
		}
		rows = rows[*offset:]
	}
	if limit != nil && *limit >= 0 && *limit < len(rows) {
		rows = rows[:*limit]
	}
	return rows
}

// Apply runs a write action against the table of d and publishes the new
// rows to the controller.
func (e *Engine) Apply(d *clause.Descriptor, a *clause.Action) (dialect.RunResult, error) {
	if a == nil || !a.Type.Valid() {
		var typ clause.ActionType
		if a != nil {
			typ = a.Type
		}
		return dialect.RunResult{}, &UnsupportedActionError{Type: typ}
	}
	var res dialect.RunResult
	err := e.mutate(d.Table, func(rows []dialect.Row) ([]dialect.Row, error) {
		var err error
		rows, res, err = e.apply(rows, d, a)
		return rows, err
	})
	return res, err
}

func (e *Engine) mutate(table string, fn func([]dialect.Row) ([]dialect.Row, error)) error {
	if m, ok := e.ctrl.(Mutator); ok {
		return m.Mutate(table, fn)
	}
	rows, err := fn(e.rows(table))
	if err != nil {
		return err
	}
	e.ctrl.UpdateStateFor(table, rows)
	return nil
}

func (e *Engine) apply(rows []dialect.Row, d *clause.Descriptor, a *clause.Action) ([]dialect.Row, dialect.RunResult, error) {
	switch a.Type {
	case clause.ActionInsert:
		return e.insert(rows, a.Rows)
	case clause.ActionUpdate:
		n := 0
		for _, r := range rows {
			if Match(r, d.Where) {
				maps.Copy(r, a.Values)
				n++
			}
		}
		return rows, dialect.RunResult{Changes: int64(n)}, nil
	case clause.ActionIncrement, clause.ActionDecrement:
		n := 0
		for _, r := range rows {
			if !Match(r, d.Where) {
				continue
			}
			v, err := step(r[a.Column], a.Amount, a.Type == clause.ActionDecrement)
			if err != nil {
				return nil, dialect.RunResult{}, fmt.Errorf("simulation: %s %q: %w", a.Type, a.Column, err)
			}
			r[a.Column] = v
			maps.Copy(r, a.Values)
			n++
		}
		return rows, dialect.RunResult{Changes: int64(n)}, nil
	case clause.ActionDelete:
		return e.delete(rows, d.Where)
	case clause.ActionUpdateOrInsert:
		where := slices.Clone(d.Where)
		for _, k := range compiler.Columns(a.Attributes) {
			where = append(where, clause.Basic(k, "=", a.Attributes[k]))
		}
		n := 0
		for _, r := range rows {
			if Match(r, where) {
				maps.Copy(r, a.Values)
				n++
			}
		}
		if n > 0 {
			return rows, dialect.RunResult{Changes: int64(n)}, nil
		}
		merged := maps.Clone(a.Attributes)
		if merged == nil {
			merged = make(map[string]any)
		}
		maps.Copy(merged, a.Values)
		return e.insert(rows, []map[string]any{merged})
	}
	return nil, dialect.RunResult{}, &UnsupportedActionError{Type: a.Type}
}

// insert appends copies of in, assigning the next integer key to rows that
// carry none.
func (e *Engine) insert(rows []dialect.Row, in []map[string]any) ([]dialect.Row, dialect.RunResult, error) {
	next := int64(0)
	for _, r := range rows {
		if id, ok := integer(r[e.primaryKey]); ok && id > next {
			next = id
		}
	}
	var res dialect.RunResult
	for _, r := range CloneRows(in) {
		if r == nil {
			r = make(dialect.Row)
		}
		if r[e.primaryKey] == nil {
			next++
			r[e.primaryKey] = next
		} else if id, ok := integer(r[e.primaryKey]); ok && id > next {
			next = id
		}
		if id, ok := integer(r[e.primaryKey]); ok {
			res.LastInsertRowid = id
		}
		rows = append(rows, r)
		res.Changes++
	}
	return rows, res, nil
}

// delete removes the rows whose primary key belongs to the matched set.
// Rows without a key are removed when they match themselves.
func (e *Engine) delete(rows []dialect.Row, ws []clause.Where) ([]dialect.Row, dialect.RunResult, error) {
	var keys []any
	matched := make([]bool, len(rows))
	for i, r := range rows {
		if Match(r, ws) {
			matched[i] = true
			if k := r[e.primaryKey]; k != nil {
				keys = append(keys, k)
			}
		}
	}
	out := rows[:0:0]
	var n int64
	for i, r := range rows {
		k := r[e.primaryKey]
		drop := matched[i] && k == nil
		if k != nil {
			drop = slices.ContainsFunc(keys, func(x any) bool { return Equal(x, k) })
		}
		if drop {
			n++
			continue
		}
		out = append(out, r)
	}
	return out, dialect.RunResult{Changes: n}, nil
}

func step(v, amount any, negate bool) (any, error) {
	if v == nil {
		v = int64(0)
	}
	if amount == nil {
		amount = int64(1)
	}
	x, ok := number(v)
	if !ok {
		return nil, fmt.Errorf("non-numeric value %v", v)
	}
	y, ok := number(amount)
	if !ok {
		return nil, fmt.Errorf("non-numeric amount %v", amount)
	}
	if negate {
		y = -y
	}
	xi, xok := integer(v)
	yi, yok := integer(amount)
	if xok && yok {
		if negate {
			yi = -yi
		}
		return xi + yi, nil
	}
	return x + y, nil
}
