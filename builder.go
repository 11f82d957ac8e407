package qb

import (
	"strings"
	"time"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/compiler"
	"github.com/syssam/qb/simulation"
)

// Builder accumulates a query on one table. Every mutator changes the
// builder in place and returns it so calls chain.
//
// A Builder must not be used from several goroutines at once; Clone it
// instead.
type Builder struct {
	d     *clause.Descriptor
	cfg   *Config
	local *simulation.Store
	ttl   time.Duration
	track *tracker
}

// BuilderOption configures a Builder at construction.
type BuilderOption func(*Builder)

// WithConfig makes the builder use c instead of the default config.
func WithConfig(c *Config) BuilderOption {
	return func(b *Builder) {
		if c != nil {
			b.cfg = c
		}
	}
}

// New returns a builder for table capturing the default config.
func New(table string, opts ...BuilderOption) *Builder {
	b := &Builder{d: clause.New(table), cfg: Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Table returns the table of the builder.
func (b *Builder) Table() string { return b.d.Table }

// Config returns the config captured by the builder.
func (b *Builder) Config() *Config { return b.cfg }

// Descriptor returns a copy of the accumulated query.
func (b *Builder) Descriptor() *clause.Descriptor { return b.d.Clone() }

// Clone returns a builder with a structurally independent copy of the
// query. The clone shares the config and the local simulation snapshot.
func (b *Builder) Clone() *Builder {
	return &Builder{
		d:     b.d.Clone(),
		cfg:   b.cfg,
		local: b.local,
		ttl:   b.ttl,
		track: b.track.clone(),
	}
}

// ToSQL compiles the read statement of the builder.
func (b *Builder) ToSQL() (string, []any, error) {
	return compiler.Select(b.d)
}

// Select sets the selected columns. Without columns the query selects "*".
func (b *Builder) Select(columns ...string) *Builder {
	b.record("Select", stringsToAny(columns)...)
	for _, c := range columns {
		b.d.Columns = append(b.d.Columns, clause.Column{Name: c})
	}
	return b
}

// SelectRaw adds a verbatim select expression with its bindings.
func (b *Builder) SelectRaw(expr string, bindings ...any) *Builder {
	b.record("SelectRaw", append([]any{expr}, bindings...)...)
	b.d.Columns = append(b.d.Columns, clause.Column{Raw: &clause.RawExpr{SQL: expr, Bindings: bindings}})
	return b
}

// Distinct makes the query return distinct rows.
func (b *Builder) Distinct() *Builder {
	b.record("Distinct")
	b.d.Distinct = true
	return b
}

// As sets the alias of the table.
func (b *Builder) As(alias string) *Builder {
	b.record("As", alias)
	b.d.Alias = alias
	return b
}

// Join adds an INNER JOIN.
func (b *Builder) Join(table, on string) *Builder {
	return b.join("Join", clause.InnerJoin, table, on)
}

// LeftJoin adds a LEFT JOIN.
func (b *Builder) LeftJoin(table, on string) *Builder {
	return b.join("LeftJoin", clause.LeftJoin, table, on)
}

// RightJoin adds a RIGHT JOIN.
func (b *Builder) RightJoin(table, on string) *Builder {
	return b.join("RightJoin", clause.RightJoin, table, on)
}

func (b *Builder) join(method string, typ clause.JoinType, table, on string) *Builder {
	b.record(method, table, on)
	b.d.Joins = append(b.d.Joins, clause.Join{Type: typ, Table: table, On: on})
	return b
}

// GroupBy adds GROUP BY columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.record("GroupBy", stringsToAny(columns)...)
	b.d.Groups = append(b.d.Groups, columns...)
	return b
}

// Having adds a HAVING predicate joined with AND.
func (b *Builder) Having(column, operator string, value any) *Builder {
	b.record("Having", column, operator, value)
	b.d.Having = append(b.d.Having, clause.Basic(column, operator, value))
	return b
}

// OrHaving adds a HAVING predicate joined with OR.
func (b *Builder) OrHaving(column, operator string, value any) *Builder {
	b.record("OrHaving", column, operator, value)
	b.d.Having = append(b.d.Having, clause.Basic(column, operator, value).WithLogical(clause.Or))
	return b
}

// HavingRaw adds a verbatim HAVING predicate.
func (b *Builder) HavingRaw(sql string, bindings ...any) *Builder {
	b.record("HavingRaw", append([]any{sql}, bindings...)...)
	b.d.Having = append(b.d.Having, clause.Raw(sql, bindings...))
	return b
}

// HavingIf adds the HAVING predicate only when value is present.
func (b *Builder) HavingIf(column, operator string, value any) *Builder {
	if !Present(value) {
		return b
	}
	return b.Having(column, operator, value)
}

// OrderBy adds an ORDER BY term. Direction defaults to ASC.
func (b *Builder) OrderBy(column string, direction ...string) *Builder {
	dir := "ASC"
	if len(direction) > 0 && strings.EqualFold(direction[0], "desc") {
		dir = "DESC"
	}
	b.record("OrderBy", column, dir)
	b.d.Orders = append(b.d.Orders, clause.Order{Column: column, Direction: dir})
	return b
}

// OrderByDesc adds a descending ORDER BY term.
func (b *Builder) OrderByDesc(column string) *Builder {
	return b.OrderBy(column, "DESC")
}

// Limit sets the maximum number of rows.
func (b *Builder) Limit(n int) *Builder {
	b.record("Limit", n)
	b.d.Limit = &n
	return b
}

// Offset sets the number of rows skipped.
func (b *Builder) Offset(n int) *Builder {
	b.record("Offset", n)
	b.d.Offset = &n
	return b
}

// ForPage sets limit and offset for a 1-based page.
func (b *Builder) ForPage(page, perPage int) *Builder {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	return b.Offset((page - 1) * perPage).Limit(perPage)
}

// Aggregate registers an aggregate function. Only the first registered
// aggregate is compiled; later ones are dropped.
func (b *Builder) Aggregate(fn, column, alias string) *Builder {
	b.record("Aggregate", fn, column, alias)
	if len(b.d.Aggregates) > 0 {
		b.cfg.logger.Debug("qb: only the first aggregate is compiled",
			"table", b.d.Table, "kept", b.d.Aggregates[0].Func, "dropped", fn)
	}
	b.d.Aggregates = append(b.d.Aggregates, clause.Aggregate{Func: fn, Column: column, Alias: alias})
	return b
}

// Union appends other's query combined with UNION.
func (b *Builder) Union(other *Builder) *Builder {
	b.record("Union", other.d.Table)
	b.d.Unions = append(b.d.Unions, clause.Union{Query: other.d.Clone()})
	return b
}

// UnionAll appends other's query combined with UNION ALL.
func (b *Builder) UnionAll(other *Builder) *Builder {
	b.record("UnionAll", other.d.Table)
	b.d.Unions = append(b.d.Unions, clause.Union{All: true, Query: other.d.Clone()})
	return b
}

// On routes the statements of the builder to the named banks of the
// registry. Reads query every bank and concatenate the rows in bank order;
// writes run on each bank in turn.
func (b *Builder) On(banks ...string) *Builder {
	b.record("On", stringsToAny(banks)...)
	b.d.Banks = append(b.d.Banks[:0:0], banks...)
	return b
}

// Remember caches the rows of reads for ttl in the config's cache. Writes
// through any builder of the same config evict the table's entries.
func (b *Builder) Remember(ttl time.Duration) *Builder {
	b.record("Remember", ttl)
	b.ttl = ttl
	return b
}

// Simulate makes the builder read and write a private copy of state instead
// of the executor. A shared controller set with WithSimulation takes
// precedence while it is active.
func (b *Builder) Simulate(state simulation.State) *Builder {
	b.record("Simulate", len(state))
	b.local = simulation.NewActiveStore(state)
	return b
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
