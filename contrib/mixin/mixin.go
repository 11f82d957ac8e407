// Package mixin provides common column mixins for tables written through
// the builder.
//
// Mixins are installed on the event dispatcher of a Config and fill in
// columns on the rows of every INSERT and UPDATE before they are compiled:
//
//	d := hook.NewDispatcher()
//	cfg := qb.NewConfig(qb.WithExecutor(drv), qb.WithBus(d))
//	mixin.Install(d, "", "posts", mixin.Time{}, mixin.TenantID{})
//
// Available mixins:
//   - CreateTime: sets created_at on insert
//   - UpdateTime: sets updated_at on insert and update
//   - Time: CreateTime and UpdateTime
//   - ID: sets a UUID id on insert
//   - SoftDelete: deleted_at helpers for soft deletion
//   - TenantID: sets tenant_id from the privacy viewer and keeps it immutable
//   - TimeSoftDelete: Time and SoftDelete
//
// Custom mixins embed Schema and override what they need:
//
//	type Audit struct{ mixin.Schema }
//
//	func (Audit) Insert(ctx context.Context, row map[string]any) error {
//	    row["created_by"] = currentUser(ctx)
//	    return nil
//	}
//
// An UpdateOrInsert falling back to an insert carries the columns added by
// Update only.
package mixin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/qb"
	"github.com/syssam/qb/hook"
	"github.com/syssam/qb/privacy"
)

// Mixin adjusts the rows of writes.
type Mixin interface {
	// Insert adjusts a row about to be inserted.
	Insert(ctx context.Context, row map[string]any) error
	// Update adjusts the SET columns of an update.
	Update(ctx context.Context, values map[string]any) error
}

// Schema is the default implementation of Mixin. It changes nothing.
type Schema struct{}

// Insert implements Mixin.
func (Schema) Insert(context.Context, map[string]any) error { return nil }

// Update implements Mixin.
func (Schema) Update(context.Context, map[string]any) error { return nil }

var _ Mixin = Schema{}

// now is replaced in tests.
var now = time.Now

// Install runs ms, in order, on every INSERT and UPDATE of table published
// under prefix. An empty table matches every table. A mixin error aborts
// the write. The returned function uninstalls the mixins.
func Install(d *hook.Dispatcher, prefix, table string, ms ...Mixin) func() {
	if prefix == "" {
		prefix = hook.DefaultPrefix
	}
	handler := func(ctx context.Context, e *hook.Event) error {
		for _, m := range ms {
			if err := apply(ctx, m, e); err != nil {
				return fmt.Errorf("mixin: %s %s: %w", e.Action, e.Table, err)
			}
		}
		return nil
	}
	offInsert := d.On(prefix, hook.Before, hook.Insert, table, handler)
	offUpdate := d.On(prefix, hook.Before, hook.Update, table, handler)
	return func() {
		offInsert()
		offUpdate()
	}
}

func apply(ctx context.Context, m Mixin, e *hook.Event) error {
	switch data := e.Data.(type) {
	case map[string]any:
		if e.Action == hook.Insert {
			return m.Insert(ctx, data)
		}
		return m.Update(ctx, data)
	case []map[string]any:
		for _, row := range data {
			if err := m.Insert(ctx, row); err != nil {
				return err
			}
		}
	case qb.StepPayload:
		if data.Values != nil {
			return m.Update(ctx, data.Values)
		}
	case qb.UpsertPayload:
		if data.Values != nil {
			return m.Update(ctx, data.Values)
		}
	}
	return nil
}

func setDefault(row map[string]any, column string, value func() any) {
	if v, ok := row[column]; !ok || v == nil {
		row[column] = value()
	}
}

// CreateTime sets created_at on inserted rows that do not carry one.
type CreateTime struct{ Schema }

// Insert implements Mixin.
func (CreateTime) Insert(_ context.Context, row map[string]any) error {
	setDefault(row, "created_at", func() any { return now() })
	return nil
}

// Update rejects changes of created_at.
func (CreateTime) Update(_ context.Context, values map[string]any) error {
	if _, ok := values["created_at"]; ok {
		return errors.New("created_at is immutable")
	}
	return nil
}

// UpdateTime sets updated_at on every insert and update.
type UpdateTime struct{ Schema }

// Insert implements Mixin.
func (UpdateTime) Insert(_ context.Context, row map[string]any) error {
	setDefault(row, "updated_at", func() any { return now() })
	return nil
}

// Update implements Mixin.
func (UpdateTime) Update(_ context.Context, values map[string]any) error {
	values["updated_at"] = now()
	return nil
}

// Time composes CreateTime and UpdateTime.
type Time struct{ Schema }

// Insert implements Mixin.
func (Time) Insert(ctx context.Context, row map[string]any) error {
	if err := (CreateTime{}).Insert(ctx, row); err != nil {
		return err
	}
	return UpdateTime{}.Insert(ctx, row)
}

// Update implements Mixin.
func (Time) Update(ctx context.Context, values map[string]any) error {
	if err := (CreateTime{}).Update(ctx, values); err != nil {
		return err
	}
	return UpdateTime{}.Update(ctx, values)
}

// ID sets a random UUID primary key on inserted rows that do not carry one.
type ID struct {
	Schema
	// Column defaults to "id".
	Column string
}

func (m ID) column() string {
	if m.Column == "" {
		return "id"
	}
	return m.Column
}

// Insert implements Mixin.
func (m ID) Insert(_ context.Context, row map[string]any) error {
	setDefault(row, m.column(), func() any { return uuid.NewString() })
	return nil
}

// Update rejects changes of the primary key.
func (m ID) Update(_ context.Context, values map[string]any) error {
	if _, ok := values[m.column()]; ok {
		return fmt.Errorf("%s is immutable", m.column())
	}
	return nil
}

// SoftDelete marks rows deleted by setting deleted_at instead of removing
// them. It writes nothing by itself; use its helpers on the builder.
type SoftDelete struct{ Schema }

// Trash queues a soft delete of the rows matched by b.
func (SoftDelete) Trash(b *qb.Builder) *qb.Builder {
	return b.WhereNull("deleted_at").Update(map[string]any{"deleted_at": now()})
}

// Restore queues clearing deleted_at on the rows matched by b.
func (SoftDelete) Restore(b *qb.Builder) *qb.Builder {
	return b.WhereNotNull("deleted_at").Update(map[string]any{"deleted_at": nil})
}

// WithoutTrashed restricts b to rows not soft deleted.
func (SoftDelete) WithoutTrashed(b *qb.Builder) *qb.Builder {
	return b.WhereNull("deleted_at")
}

// OnlyTrashed restricts b to soft deleted rows.
func (SoftDelete) OnlyTrashed(b *qb.Builder) *qb.Builder {
	return b.WhereNotNull("deleted_at")
}

// ErrNoTenant is returned when a tenant scoped write has no tenant viewer.
var ErrNoTenant = errors.New("no tenant in context")

// TenantID sets tenant_id on inserted rows from the viewer attached with
// privacy.WithViewer, and rejects updates changing it.
type TenantID struct{ Schema }

func tenant(ctx context.Context) (string, error) {
	v := privacy.ViewerFromContext(ctx)
	if v == nil || v.GetTenantID() == "" {
		return "", ErrNoTenant
	}
	return v.GetTenantID(), nil
}

// Insert implements Mixin.
func (TenantID) Insert(ctx context.Context, row map[string]any) error {
	id, err := tenant(ctx)
	if err != nil {
		return err
	}
	if v, ok := row["tenant_id"]; ok && v != nil && v != id {
		return fmt.Errorf("tenant_id %v does not match viewer tenant %s", v, id)
	}
	row["tenant_id"] = id
	return nil
}

// Update implements Mixin.
func (TenantID) Update(_ context.Context, values map[string]any) error {
	if _, ok := values["tenant_id"]; ok {
		return errors.New("tenant_id is immutable")
	}
	return nil
}

// Scope restricts b to the rows of the viewer's tenant.
func (TenantID) Scope(ctx context.Context, b *qb.Builder) (*qb.Builder, error) {
	id, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	return b.Where("tenant_id", "=", id), nil
}

// TimeSoftDelete composes Time and SoftDelete.
type TimeSoftDelete struct {
	Time
	SoftDelete
}

// Insert implements Mixin.
func (m TimeSoftDelete) Insert(ctx context.Context, row map[string]any) error {
	return m.Time.Insert(ctx, row)
}

// Update implements Mixin.
func (m TimeSoftDelete) Update(ctx context.Context, values map[string]any) error {
	return m.Time.Update(ctx, values)
}

var (
	_ Mixin = CreateTime{}
	_ Mixin = UpdateTime{}
	_ Mixin = Time{}
	_ Mixin = ID{}
	_ Mixin = SoftDelete{}
	_ Mixin = TenantID{}
	_ Mixin = TimeSoftDelete{}
)
