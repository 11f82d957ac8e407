package qb

import (
	"context"
	"database/sql"
	"errors"
	"maps"
	"slices"
	"strconv"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/compiler"
	"github.com/syssam/qb/dialect"
	"github.com/syssam/qb/hook"
)

// WriteResult is the normalized outcome of a write.
type WriteResult struct {
	Changes         int64
	LastInsertRowid int64
}

func (b *Builder) queue(method string, a *clause.Action, args ...any) *Builder {
	b.record(method, args...)
	b.d.Pending = a
	return b
}

// Insert queues an insert of one row.
func (b *Builder) Insert(row map[string]any) *Builder {
	return b.queue("Insert", &clause.Action{
		Type: clause.ActionInsert,
		Rows: []map[string]any{maps.Clone(row)},
	}, row)
}

// InsertMany queues a batch insert compiled into one statement. Columns
// missing from a row are written as NULL.
func (b *Builder) InsertMany(rows ...map[string]any) *Builder {
	cp := make([]map[string]any, len(rows))
	for i, r := range rows {
		cp[i] = maps.Clone(r)
	}
	return b.queue("InsertMany", &clause.Action{Type: clause.ActionInsert, Rows: cp}, len(rows))
}

// Update queues an update of the matched rows.
func (b *Builder) Update(values map[string]any) *Builder {
	return b.queue("Update", &clause.Action{
		Type:   clause.ActionUpdate,
		Values: maps.Clone(values),
	}, values)
}

// Delete queues a delete of the matched rows.
func (b *Builder) Delete() *Builder {
	return b.queue("Delete", &clause.Action{Type: clause.ActionDelete})
}

// Increment queues "column = column + amount" on the matched rows, setting
// the columns of extra alongside.
func (b *Builder) Increment(column string, amount any, extra ...map[string]any) *Builder {
	return b.step("Increment", clause.ActionIncrement, column, amount, extra)
}

// Decrement queues "column = column - amount" on the matched rows.
func (b *Builder) Decrement(column string, amount any, extra ...map[string]any) *Builder {
	return b.step("Decrement", clause.ActionDecrement, column, amount, extra)
}

func (b *Builder) step(method string, typ clause.ActionType, column string, amount any, extra []map[string]any) *Builder {
	values := make(map[string]any)
	for _, e := range extra {
		maps.Copy(values, e)
	}
	return b.queue(method, &clause.Action{
		Type:   typ,
		Column: column,
		Amount: amount,
		Values: values,
	}, column, amount)
}

// UpdateOrInsert queues an update of the rows matching attributes with
// values, falling back to inserting attributes merged with values when
// nothing was updated.
func (b *Builder) UpdateOrInsert(attributes, values map[string]any) *Builder {
	return b.queue("UpdateOrInsert", &clause.Action{
		Type:       clause.ActionUpdateOrInsert,
		Attributes: maps.Clone(attributes),
		Values:     maps.Clone(values),
	}, attributes, values)
}

// Discard drops the pending write, if any.
func (b *Builder) Discard() *Builder {
	b.record("Discard")
	b.d.Pending = nil
	return b
}

// Pending reports whether a write is queued.
func (b *Builder) Pending() bool {
	return b.d.Pending != nil
}

// Make runs the pending write and clears it on success. A failed write
// stays pending and may be retried.
//
// Against a simulation the write mutates the snapshot; otherwise it is
// compiled and run on the executor, or on each bank selected with On.
func (b *Builder) Make(ctx context.Context) (WriteResult, error) {
	b.record("Make")
	a := b.d.Pending
	switch {
	case a == nil:
		return WriteResult{}, ErrNoPendingAction
	case !a.Type.Valid():
		return WriteResult{}, &UnsupportedPendingActionError{Type: string(a.Type)}
	case a.Type.RequiresWhere() && len(b.d.Where) == 0:
		return WriteResult{}, ErrMissingWhereClause
	}
	action := hook.ActionOf(a.Type)
	if err := b.before(ctx, action, payload(a)); err != nil {
		return WriteResult{}, err
	}
	var (
		res WriteResult
		err error
	)
	if ctrl := b.simulator(); ctrl != nil {
		var rr dialect.RunResult
		rr, err = b.engine(ctrl).Apply(b.d, a)
		res = WriteResult{Changes: rr.Changes, LastInsertRowid: rr.LastInsertRowid}
	} else {
		res, err = b.write(ctx, a)
	}
	if err != nil {
		return WriteResult{}, err
	}
	b.d.Pending = nil
	b.invalidate(ctx)
	b.after(ctx, action, payload(a), nil, res)
	return res, nil
}

// StepPayload is the event data of Increment and Decrement.
type StepPayload struct {
	Column string
	Amount any
	Values map[string]any
}

// UpsertPayload is the event data of UpdateOrInsert.
type UpsertPayload struct {
	Attributes map[string]any
	Values     map[string]any
}

// payload returns the event data of a. Its maps are the action's own, so
// BEFORE handlers may add columns to the write.
func payload(a *clause.Action) any {
	switch a.Type {
	case clause.ActionInsert:
		if len(a.Rows) == 1 {
			return a.Rows[0]
		}
		return a.Rows
	case clause.ActionIncrement, clause.ActionDecrement:
		return StepPayload{Column: a.Column, Amount: a.Amount, Values: a.Values}
	case clause.ActionUpdateOrInsert:
		return UpsertPayload{Attributes: a.Attributes, Values: a.Values}
	case clause.ActionDelete:
		return nil
	default:
		return a.Values
	}
}

func (b *Builder) write(ctx context.Context, a *clause.Action) (WriteResult, error) {
	if a.Type == clause.ActionUpdateOrInsert {
		return b.upsert(ctx, a)
	}
	query, args, err := b.compileWrite(a)
	if err != nil {
		return WriteResult{}, NewMutationError(b.d.Table, string(a.Type), err)
	}
	return b.exec(ctx, query, args)
}

func (b *Builder) compileWrite(a *clause.Action) (string, []any, error) {
	switch a.Type {
	case clause.ActionInsert:
		return compiler.Insert(b.d.Table, a.Rows...)
	case clause.ActionUpdate:
		return compiler.Update(b.d, a.Values)
	case clause.ActionIncrement:
		return compiler.Increment(b.d, a.Column, a.Amount, a.Values)
	case clause.ActionDecrement:
		return compiler.Decrement(b.d, a.Column, a.Amount, a.Values)
	case clause.ActionDelete:
		return compiler.Delete(b.d)
	}
	return "", nil, &UnsupportedPendingActionError{Type: string(a.Type)}
}

// upsert updates the rows matching the attributes and inserts the merged
// row when none changed. The WHERE list of the builder is left as it was.
func (b *Builder) upsert(ctx context.Context, a *clause.Action) (WriteResult, error) {
	saved := b.d.Where
	defer func() { b.d.Where = saved }()
	b.d.Where = slices.Clone(saved)
	for _, k := range compiler.Columns(a.Attributes) {
		b.d.Where = append(b.d.Where, clause.Basic(k, "=", a.Attributes[k]))
	}
	query, args, err := compiler.Update(b.d, a.Values)
	if err != nil {
		return WriteResult{}, NewMutationError(b.d.Table, string(a.Type), err)
	}
	res, err := b.exec(ctx, query, args)
	if err != nil || res.Changes > 0 {
		return res, err
	}
	merged := maps.Clone(a.Attributes)
	if merged == nil {
		merged = make(map[string]any, len(a.Values))
	}
	maps.Copy(merged, a.Values)
	query, args, err = compiler.Insert(b.d.Table, merged)
	if err != nil {
		return WriteResult{}, NewMutationError(b.d.Table, string(a.Type), err)
	}
	return b.exec(ctx, query, args)
}

// exec runs a write on every resolved executor. Changes are summed across
// banks and the last reported key wins.
func (b *Builder) exec(ctx context.Context, query string, args []any) (WriteResult, error) {
	execs, err := b.executors()
	if err != nil {
		return WriteResult{}, err
	}
	b.cfg.logger.DebugContext(ctx, "qb: exec", "table", b.d.Table, "sql", query, "args", args)
	var total WriteResult
	for _, exec := range execs {
		res, err := run(ctx, exec, query, args)
		if err != nil {
			return WriteResult{}, err
		}
		total.Changes += res.Changes
		if res.LastInsertRowid != 0 {
			total.LastInsertRowid = res.LastInsertRowid
		}
	}
	return total, nil
}

func run(ctx context.Context, exec dialect.Executor, query string, args []any) (WriteResult, error) {
	if r, ok := exec.(dialect.Runner); ok {
		rr, err := r.Run(ctx, query, args)
		if err != nil {
			return WriteResult{}, err
		}
		return WriteResult{Changes: rr.Changes, LastInsertRowid: rr.LastInsertRowid}, nil
	}
	res, err := exec.ExecuteQuery(ctx, query, args)
	if err != nil {
		return WriteResult{}, err
	}
	return normalize(res), nil
}

// normalize extracts a WriteResult from whatever the executor reported.
// Explicit fields of the result win over its payload.
func normalize(res *dialect.Result) WriteResult {
	if res == nil {
		return WriteResult{}
	}
	out := normalizeData(res.Data)
	if res.AffectedRows != nil {
		out.Changes = *res.AffectedRows
	}
	if res.LastInsertID != nil {
		if id, ok := toInt64(res.LastInsertID); ok {
			out.LastInsertRowid = id
		}
	}
	return out
}

func normalizeData(data any) WriteResult {
	switch d := data.(type) {
	case WriteResult:
		return d
	case *WriteResult:
		if d != nil {
			return *d
		}
	case dialect.RunResult:
		return WriteResult{Changes: d.Changes, LastInsertRowid: d.LastInsertRowid}
	case *dialect.RunResult:
		if d != nil {
			return WriteResult{Changes: d.Changes, LastInsertRowid: d.LastInsertRowid}
		}
	case sql.Result:
		var out WriteResult
		if n, err := d.RowsAffected(); err == nil {
			out.Changes = n
		}
		if id, err := d.LastInsertId(); err == nil {
			out.LastInsertRowid = id
		}
		return out
	case map[string]any:
		var out WriteResult
		if v, ok := firstKey(d, "affectedRows", "changes", "rowsAffected"); ok {
			out.Changes, _ = toInt64(v)
		}
		if v, ok := firstKey(d, "lastInsertId", "lastInsertRowid", "insertId"); ok {
			out.LastInsertRowid, _ = toInt64(v)
		}
		return out
	case []any:
		if len(d) == 2 {
			return normalizeData(d[1])
		}
	}
	return WriteResult{}
}

func firstKey(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// executors resolves the executors a statement runs on: the banks selected
// with On, or the config's default executor.
func (b *Builder) executors() ([]dialect.Executor, error) {
	if len(b.d.Banks) > 0 {
		execs, err := b.cfg.registry.Resolve(b.d.Banks...)
		if err != nil {
			var ub *dialect.UnknownBankError
			if errors.As(err, &ub) {
				return nil, &NoExecutorConfiguredError{Table: b.d.Table, Bank: ub.Name}
			}
			return nil, err
		}
		return execs, nil
	}
	if b.cfg.executor == nil {
		return nil, &NoExecutorConfiguredError{Table: b.d.Table}
	}
	return []dialect.Executor{b.cfg.executor}, nil
}
