package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/qb"
	"github.com/syssam/qb/config"
	"github.com/syssam/qb/dialect"
)

type loader func(*cobra.Command) (*config.File, error)

// queryFlags describe a read statement.
type queryFlags struct {
	table   string
	columns []string
	where   []string
	orWhere []string
	order   []string
	limit   int
	offset  int
	format  string
}

func (q *queryFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&q.table, "table", "", "table to query")
	f.StringSliceVar(&q.columns, "select", nil, "columns to select")
	f.StringArrayVar(&q.where, "where", nil, `condition "column<op>value" joined with AND; op is one of = != <> >= <= > < ~ (LIKE), value "null" tests IS NULL`)
	f.StringArrayVar(&q.orWhere, "or-where", nil, "condition joined with OR")
	f.StringArrayVar(&q.order, "order", nil, `ordering "column[:asc|desc]"`)
	f.IntVar(&q.limit, "limit", 0, "maximum number of rows")
	f.IntVar(&q.offset, "offset", 0, "rows to skip")
	f.StringVarP(&q.format, "format", "f", "table", "output format (table|json)")
	_ = cmd.MarkFlagRequired("table")
	_ = cmd.RegisterFlagCompletionFunc("format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
}

// build returns the builder described by the flags.
func (q *queryFlags) build(cfg *qb.Config) (*qb.Builder, error) {
	b := qb.New(q.table, qb.WithConfig(cfg))
	if len(q.columns) > 0 {
		b.Select(q.columns...)
	}
	for _, expr := range q.where {
		c, err := parseCondition(expr)
		if err != nil {
			return nil, err
		}
		c.apply(b, false)
	}
	for _, expr := range q.orWhere {
		c, err := parseCondition(expr)
		if err != nil {
			return nil, err
		}
		c.apply(b, true)
	}
	for _, o := range q.order {
		column, dir, _ := strings.Cut(o, ":")
		if column == "" {
			return nil, fmt.Errorf("invalid --order %q", o)
		}
		switch strings.ToLower(dir) {
		case "", "asc":
			b.OrderBy(column)
		case "desc":
			b.OrderByDesc(column)
		default:
			return nil, fmt.Errorf("invalid --order direction %q", dir)
		}
	}
	if q.limit > 0 {
		b.Limit(q.limit)
	}
	if q.offset > 0 {
		b.Offset(q.offset)
	}
	return b, nil
}

type condition struct {
	column string
	op     string
	value  any
}

// Two character operators are tried first.
var operators = []string{">=", "<=", "!=", "<>", "=", ">", "<", "~"}

func parseCondition(expr string) (condition, error) {
	at, op := -1, ""
	for _, candidate := range operators {
		if i := strings.Index(expr, candidate); i > 0 && (at < 0 || i < at) {
			at, op = i, candidate
		}
	}
	if at < 0 {
		return condition{}, fmt.Errorf("invalid condition %q: missing operator", expr)
	}
	column := strings.TrimSpace(expr[:at])
	raw := strings.TrimSpace(expr[at+len(op):])
	if column == "" {
		return condition{}, errors.New("invalid condition: empty column")
	}
	if op == "~" {
		return condition{column: column, op: "LIKE", value: raw}, nil
	}
	if op == "<>" {
		op = "!="
	}
	if strings.EqualFold(raw, "null") {
		switch op {
		case "=":
			return condition{column: column, op: "IS NULL"}, nil
		case "!=":
			return condition{column: column, op: "IS NOT NULL"}, nil
		}
	}
	return condition{column: column, op: op, value: parseValue(raw)}, nil
}

// parseValue types a command-line value: integers, floats and booleans are
// converted, quoted text is unquoted and anything else stays a string.
func parseValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.EqualFold(s, "true") || strings.EqualFold(s, "false") {
		return strings.EqualFold(s, "true")
	}
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return s
}

func (c condition) apply(b *qb.Builder, or bool) {
	switch {
	case c.op == "IS NULL" && or:
		b.OrWhereNull(c.column)
	case c.op == "IS NULL":
		b.WhereNull(c.column)
	case c.op == "IS NOT NULL" && or:
		b.OrWhereNotNull(c.column)
	case c.op == "IS NOT NULL":
		b.WhereNotNull(c.column)
	case c.op == "LIKE" && or:
		b.OrWhereLike(c.column, c.value.(string))
	case c.op == "LIKE":
		b.WhereLike(c.column, c.value.(string))
	case or:
		b.OrWhere(c.column, c.op, c.value)
	default:
		b.Where(c.column, c.op, c.value)
	}
}

func newSQLCommand(load loader) *cobra.Command {
	var q queryFlags
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Print the SQL of a query",
		Long: `Compile a query and print the statement, with placeholders in the style of
the dialect, followed by its arguments.`,
		Example: `  qb sql --table users --where "age>18" --order name:desc --limit 10 --dialect postgres`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := load(cmd)
			if err != nil {
				return err
			}
			name := dialect.Normalize(f.Dialect)
			b, err := q.build(qb.NewConfig(qb.WithDialect(name)))
			if err != nil {
				return err
			}
			query, args, err := b.ToSQL()
			if err != nil {
				return err
			}
			return renderStatement(cmd.OutOrStdout(), dialect.Rebind(name, query), args, q.format)
		},
	}
	q.register(cmd)
	return cmd
}

func newRunCommand(load loader) *cobra.Command {
	var (
		q        queryFlags
		fixtures string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a query and print its rows",
		Long: `Run a query against the configured database, or against the in-memory
simulation when --fixtures is given or simulation is enabled in the config.`,
		Example: `  qb run --fixtures fixtures.yaml --table users --where "role=admin" --format json
  qb run --dialect postgres --dsn postgres://localhost/app --table orders --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := load(cmd)
			if err != nil {
				return err
			}
			if fixtures != "" {
				f.Simulation.Enabled = true
				f.Simulation.Fixtures = fixtures
				f.Simulation.Watch = false
			}
			ctx := cmd.Context()
			cfg, closeFn, err := qb.Setup(ctx, f, qb.WithLogOutput(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			b, err := q.build(cfg)
			if err != nil {
				return err
			}
			rows, err := b.All(ctx)
			if err != nil {
				return err
			}
			return renderRows(cmd.OutOrStdout(), rows, q.format)
		},
	}
	q.register(cmd)
	cmd.Flags().StringVar(&fixtures, "fixtures", "", "YAML fixtures file to run against instead of a database")
	return cmd
}
