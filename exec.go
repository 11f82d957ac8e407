package qb

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/compiler"
	"github.com/syssam/qb/dialect"
	"github.com/syssam/qb/hook"
	"github.com/syssam/qb/simulation"
)

// simulator returns the controller statements run against, or nil when
// they go to the executor. An active shared controller takes precedence
// over the builder's own snapshot.
func (b *Builder) simulator() simulation.Controller {
	if c := b.cfg.simulation; c != nil && c.IsActive() {
		return c
	}
	if b.local != nil && b.local.IsActive() {
		return b.local
	}
	return nil
}

// Simulating reports whether statements run against a simulation.
func (b *Builder) Simulating() bool {
	return b.simulator() != nil
}

func (b *Builder) engine(ctrl simulation.Controller) *simulation.Engine {
	return simulation.NewEngine(ctrl,
		simulation.WithPrimaryKey(b.cfg.primaryKey),
		simulation.WithLogger(b.cfg.logger),
	)
}

func (b *Builder) event(timing hook.Timing, action hook.Action, data any) *hook.Event {
	return &hook.Event{
		ID:     uuid.NewString(),
		Prefix: b.cfg.eventPrefix,
		Table:  b.d.Table,
		Action: action,
		Timing: timing,
		Data:   data,
		Where:  clause.CloneWheres(b.d.Where),
	}
}

// before publishes a BEFORE event. A handler error aborts the statement.
func (b *Builder) before(ctx context.Context, action hook.Action, data any) error {
	if b.cfg.bus == nil {
		return nil
	}
	return b.cfg.bus.Publish(ctx, b.event(hook.Before, action, data))
}

// after publishes an AFTER event. Handler errors are logged.
func (b *Builder) after(ctx context.Context, action hook.Action, data any, rows []dialect.Row, result any) {
	if b.cfg.bus == nil {
		return
	}
	e := b.event(hook.After, action, data)
	e.Rows = rows
	e.Result = result
	if err := b.cfg.bus.Publish(ctx, e); err != nil {
		b.cfg.logger.WarnContext(ctx, "qb: after hook failed", "topic", e.Topic(), "error", err)
	}
}

func (b *Builder) invalidate(ctx context.Context) {
	if b.cfg.cache == nil {
		return
	}
	if err := b.cfg.cache.DeletePrefix(ctx, CachePrefix(b.d.Table)); err != nil {
		b.cfg.logger.WarnContext(ctx, "qb: cache invalidation failed", "table", b.d.Table, "error", err)
	}
}

// All returns the rows matched by the query. The result is never nil.
func (b *Builder) All(ctx context.Context) ([]dialect.Row, error) {
	b.record("All")
	return b.read(ctx, "all")
}

func (b *Builder) read(ctx context.Context, op string) ([]dialect.Row, error) {
	return b.readWith(ctx, func(ctx context.Context) ([]dialect.Row, error) {
		return b.fetch(ctx, op)
	})
}

// readWith runs fetch between the BEFORE and AFTER read events.
func (b *Builder) readWith(ctx context.Context, fetch func(context.Context) ([]dialect.Row, error)) ([]dialect.Row, error) {
	if err := b.before(ctx, hook.Read, nil); err != nil {
		return nil, err
	}
	rows, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	b.after(ctx, hook.Read, nil, rows, nil)
	return rows, nil
}

func (b *Builder) fetch(ctx context.Context, op string) ([]dialect.Row, error) {
	if ctrl := b.simulator(); ctrl != nil {
		rows, err := b.engine(ctrl).Select(b.d)
		if err != nil {
			return nil, NewQueryError(b.d.Table, op, err)
		}
		return rows, nil
	}
	query, args, err := compiler.Select(b.d)
	if err != nil {
		return nil, NewQueryError(b.d.Table, op, err)
	}
	if b.ttl > 0 && b.cfg.cache != nil {
		return b.cached(ctx, query, args)
	}
	return b.query(ctx, query, args)
}

// query runs a read on every resolved executor. Bank reads run
// concurrently and their rows are concatenated in bank order.
func (b *Builder) query(ctx context.Context, query string, args []any) ([]dialect.Row, error) {
	execs, err := b.executors()
	if err != nil {
		return nil, err
	}
	b.cfg.logger.DebugContext(ctx, "qb: query", "table", b.d.Table, "sql", query, "args", args)
	if len(execs) == 1 {
		return queryRows(ctx, execs[0], query, args)
	}
	parts := make([][]dialect.Row, len(execs))
	g, gctx := errgroup.WithContext(ctx)
	for i, exec := range execs {
		g.Go(func() error {
			rows, err := queryRows(gctx, exec, query, args)
			if err != nil {
				return err
			}
			parts[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append([]dialect.Row{}, slices.Concat(parts...)...), nil
}

func queryRows(ctx context.Context, exec dialect.Executor, query string, args []any) ([]dialect.Row, error) {
	res, err := exec.ExecuteQuery(ctx, query, args)
	if err != nil {
		return nil, err
	}
	rows := res.Rows()
	if rows == nil {
		rows = []dialect.Row{}
	}
	return rows, nil
}

// cached serves a read from the cache, loading it once per key on a miss.
func (b *Builder) cached(ctx context.Context, query string, args []any) ([]dialect.Row, error) {
	key := CacheKey{Table: b.d.Table, Query: query, Args: args, Banks: b.d.Banks}.String()
	data, err := b.cfg.cache.Get(ctx, key)
	switch {
	case err != nil:
		b.cfg.logger.WarnContext(ctx, "qb: cache get failed", "key", key, "error", err)
	case data != nil:
		rows, err := decodeRows(data)
		if err == nil {
			return rows, nil
		}
		b.cfg.logger.WarnContext(ctx, "qb: cache decode failed", "key", key, "error", err)
	}
	v, err, _ := b.cfg.flight.Do(key, func() (any, error) {
		rows, err := b.query(ctx, query, args)
		if err != nil {
			return nil, err
		}
		if data, err := encodeRows(rows); err != nil {
			b.cfg.logger.WarnContext(ctx, "qb: cache encode failed", "key", key, "error", err)
		} else if err := b.cfg.cache.Set(ctx, key, data, b.ttl); err != nil {
			b.cfg.logger.WarnContext(ctx, "qb: cache set failed", "key", key, "error", err)
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return simulation.CloneRows(v.([]dialect.Row)), nil
}

// derive returns an untracked copy of the builder for a helper query.
func (b *Builder) derive() *Builder {
	c := b.Clone()
	c.track = nil
	return c
}

// First returns the first matched row, or a NotFoundError.
func (b *Builder) First(ctx context.Context) (dialect.Row, error) {
	b.record("First")
	c := b.derive()
	one := 1
	c.d.Limit = &one
	rows, err := c.read(ctx, "first")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{Table: b.d.Table}
	}
	return rows[0], nil
}

// Exists reports whether the query matches at least one row.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	b.record("Exists")
	c := b.derive()
	one := 1
	c.d.Limit = &one
	rows, err := c.read(ctx, "exists")
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Pluck returns the values of column over the matched rows.
func (b *Builder) Pluck(ctx context.Context, column string) ([]any, error) {
	b.record("Pluck", column)
	c := b.derive()
	c.d.Columns = []clause.Column{{Name: column}}
	rows, err := c.read(ctx, "pluck")
	if err != nil {
		return nil, err
	}
	key := resultKey(column)
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[key]
	}
	return out, nil
}

// resultKey returns the key a selected column is reported under.
func resultKey(column string) string {
	if i := strings.Index(strings.ToLower(column), " as "); i >= 0 {
		return strings.TrimSpace(column[i+4:])
	}
	if j := strings.LastIndexByte(column, '.'); j >= 0 {
		return column[j+1:]
	}
	return column
}

// aggregate runs fn(column) over the matched rows, ignoring orders and
// pagination, and returns the single value. A read fanned out to several
// banks yields one row per bank; they are combined into one value.
func (b *Builder) aggregate(ctx context.Context, fn, column string) (any, error) {
	c := b.derive()
	c.d.Orders = nil
	c.d.Limit = nil
	c.d.Offset = nil
	c.d.Aggregates = nil
	agg := clause.Aggregate{Func: fn, Column: column, Alias: "aggregate"}
	var (
		rows []dialect.Row
		err  error
	)
	if len(c.d.Unions) > 0 {
		rows, err = c.readWith(ctx, func(ctx context.Context) ([]dialect.Row, error) {
			return c.fetchUnionAggregate(ctx, agg)
		})
	} else {
		c.d.Aggregates = []clause.Aggregate{agg}
		rows, err = c.read(ctx, strings.ToLower(fn))
	}
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return combine(fn, rows), nil
}

// fetchUnionAggregate computes agg over every part of a union. The union is
// read as a derived table.
func (b *Builder) fetchUnionAggregate(ctx context.Context, agg clause.Aggregate) ([]dialect.Row, error) {
	op := strings.ToLower(agg.Func)
	if ctrl := b.simulator(); ctrl != nil {
		rows, err := b.engine(ctrl).Select(b.d)
		if err != nil {
			return nil, NewQueryError(b.d.Table, op, err)
		}
		row, err := simulation.Aggregate(rows, agg)
		if err != nil {
			return nil, NewQueryError(b.d.Table, op, err)
		}
		return []dialect.Row{row}, nil
	}
	inner, args, err := compiler.Select(b.d)
	if err != nil {
		return nil, NewQueryError(b.d.Table, op, err)
	}
	query := "SELECT " + compiler.AggregateExpr(agg) + " FROM (" + inner + ") AS union_rows"
	if b.ttl > 0 && b.cfg.cache != nil {
		return b.cached(ctx, query, args)
	}
	return b.query(ctx, query, args)
}

// combine folds per-bank aggregate rows. COUNT and SUM add up, MIN and MAX
// keep the extreme non-nil value.
func combine(fn string, rows []dialect.Row) any {
	if len(rows) == 1 {
		return rows[0]["aggregate"]
	}
	fn = strings.ToUpper(fn)
	var out any
	for _, r := range rows {
		v := r["aggregate"]
		switch {
		case v == nil:
		case out == nil:
			out = v
		case fn == "COUNT" || fn == "SUM":
			out = add(out, v)
		case fn == "MIN" && simulation.Compare(v, out) < 0:
			out = v
		case fn == "MAX" && simulation.Compare(v, out) > 0:
			out = v
		}
	}
	return out
}

func add(a, b any) any {
	if !isFloat(a) && !isFloat(b) {
		x, okx := toInt64(a)
		y, oky := toInt64(b)
		if okx && oky {
			return x + y
		}
	}
	return toFloat64(a) + toFloat64(b)
}

func isFloat(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return false
}

// fansOut reports whether reads go to more than one bank.
func (b *Builder) fansOut() bool {
	if b.simulator() != nil {
		return false
	}
	execs, err := b.executors()
	return err == nil && len(execs) > 1
}

// Count returns the number of matched rows.
func (b *Builder) Count(ctx context.Context) (int64, error) {
	b.record("Count")
	v, err := b.aggregate(ctx, "COUNT", "")
	if err != nil {
		return 0, err
	}
	n, _ := toInt64(v)
	return n, nil
}

// Sum returns the sum of column over the matched rows. It is 0 when no
// row matches.
func (b *Builder) Sum(ctx context.Context, column string) (float64, error) {
	b.record("Sum", column)
	v, err := b.aggregate(ctx, "SUM", column)
	if err != nil {
		return 0, err
	}
	return toFloat64(v), nil
}

// Avg returns the average of column over the matched rows. It is 0 when no
// row matches.
func (b *Builder) Avg(ctx context.Context, column string) (float64, error) {
	b.record("Avg", column)
	if b.fansOut() {
		// Averages of several banks are weighted by their row counts.
		sum, err := b.aggregate(ctx, "SUM", column)
		if err != nil {
			return 0, err
		}
		count, err := b.aggregate(ctx, "COUNT", column)
		if err != nil {
			return 0, err
		}
		n, _ := toInt64(count)
		if n == 0 {
			return 0, nil
		}
		return toFloat64(sum) / float64(n), nil
	}
	v, err := b.aggregate(ctx, "AVG", column)
	if err != nil {
		return 0, err
	}
	return toFloat64(v), nil
}

// Min returns the smallest value of column, or nil when no row matches.
func (b *Builder) Min(ctx context.Context, column string) (any, error) {
	b.record("Min", column)
	return b.aggregate(ctx, "MIN", column)
}

// Max returns the largest value of column, or nil when no row matches.
func (b *Builder) Max(ctx context.Context, column string) (any, error) {
	b.record("Max", column)
	return b.aggregate(ctx, "MAX", column)
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(n), 64)
		return f
	}
	i, _ := toInt64(v)
	return float64(i)
}

// Page is one page of a paginated read.
type Page struct {
	Rows     []dialect.Row
	Total    int64
	Page     int
	PerPage  int
	LastPage int
}

// Paginate returns the rows of a 1-based page together with the total
// number of matched rows.
func (b *Builder) Paginate(ctx context.Context, page, perPage int) (*Page, error) {
	b.record("Paginate", page, perPage)
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	total, err := b.derive().Count(ctx)
	if err != nil {
		return nil, err
	}
	c := b.derive().ForPage(page, perPage)
	rows, err := c.read(ctx, "paginate")
	if err != nil {
		return nil, err
	}
	last := int((total + int64(perPage) - 1) / int64(perPage))
	if last < 1 {
		last = 1
	}
	return &Page{Rows: rows, Total: total, Page: page, PerPage: perPage, LastPage: last}, nil
}
