package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/qb/clause"
	"github.com/syssam/qb/hook"
)

// Viewer represents the authenticated user making a request.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant identifier, or "" when not applicable.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context.
// Returns nil if no viewer is present.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string {
	return v.UserID
}

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string {
	return v.Roles
}

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string {
	return v.TenantID
}

// DenyIfNoViewer returns a rule that denies access if no viewer is present
// in the context.
//
//	privacy.Policy{
//	    privacy.DenyIfNoViewer(),
//	    privacy.HasRole("admin"),
//	    privacy.AlwaysDenyRule(),
//	}
func DenyIfNoViewer() Rule {
	return ContextRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("qb/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows access if the viewer has the specified role.
func HasRole(role string) Rule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule that allows access if the viewer has any of the
// specified roles.
func HasAnyRole(roles ...string) Rule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		viewerRoles := viewer.GetRoles()
		for _, role := range roles {
			if slices.Contains(viewerRoles, role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner returns a rule that allows the statement when every value the
// event carries for column equals the viewer's ID. Values come from the
// written rows, or from "=" and IN predicates on column.
func IsOwner(column string) Rule {
	return RuleFunc(func(ctx context.Context, e *hook.Event) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		values, ok := Values(e, column)
		if !ok {
			return Skip
		}
		for _, v := range values {
			if fmt.Sprint(v) != viewer.GetID() {
				return Skip
			}
		}
		return Allow
	})
}

// TenantRule returns a rule that allows the statement when every value the
// event carries for column equals the viewer's tenant, and denies it when
// one of them differs.
func TenantRule(column string) Rule {
	return RuleFunc(func(ctx context.Context, e *hook.Event) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Skip
		}
		values, ok := Values(e, column)
		if !ok {
			return Skip
		}
		for _, v := range values {
			if fmt.Sprint(v) != viewer.GetTenantID() {
				return Denyf("qb/privacy: tenant mismatch")
			}
		}
		return Allow
	})
}

// TenantGuard denies statements when no viewer or tenant is present.
func TenantGuard() Rule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Denyf("qb/privacy: viewer required for tenant-filtered statement")
		}
		if viewer.GetTenantID() == "" {
			return Denyf("qb/privacy: tenant required")
		}
		return Skip
	})
}

// Values returns the values an event carries for column. It reports false
// when the column appears neither in the written data nor in the top-level
// WHERE predicates. Predicates are ignored when the list mixes in OR.
func Values(e *hook.Event, column string) ([]any, bool) {
	var values []any
	switch d := e.Data.(type) {
	case map[string]any:
		if v, ok := d[column]; ok {
			values = append(values, v)
		}
	case []map[string]any:
		for _, r := range d {
			v, ok := r[column]
			if !ok {
				return nil, false
			}
			values = append(values, v)
		}
	}
	for i, w := range e.Where {
		if i > 0 && w.Logical == clause.Or {
			return values, len(values) > 0
		}
	}
	for _, w := range e.Where {
		if w.Column != column {
			continue
		}
		switch {
		case w.Kind == clause.KindBasic && w.Operator == "=":
			values = append(values, w.Value)
		case w.Kind == clause.KindIn && !w.Not:
			values = append(values, w.Values...)
		}
	}
	return values, len(values) > 0
}
