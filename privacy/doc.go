// Package privacy provides rules deciding whether a statement issued through
// the builder may run, evaluated on the BEFORE events the builder publishes.
//
// # Rule Evaluation
//
// A Policy evaluates its rules in order until one returns a final decision:
//
//   - Allow: permits the statement and stops evaluation
//   - Deny: rejects the statement and stops evaluation
//   - Skip: continues to the next rule
//
// A policy whose rules all skip permits the statement, so policies that
// should be closed by default end with AlwaysDenyRule.
//
// # Installing
//
// Install subscribes a rule to a hook.Dispatcher:
//
//	bus := hook.NewDispatcher()
//	privacy.Install(bus, "qb", privacy.Policy{
//	    privacy.DenyIfNoViewer(),
//	    privacy.OnTables(privacy.ReadOnlyRule(), "audit_log"),
//	    privacy.HasRole("admin"),
//	    privacy.TenantRule("tenant_id"),
//	    privacy.AlwaysDenyRule(),
//	})
//	qb.SetDefault(qb.NewConfig(qb.WithExecutor(exec), qb.WithBus(bus)))
//
// A denied statement fails with a *qb.PrivacyError wrapping the decision,
// so errors.Is(err, privacy.Deny) holds.
//
// # Viewer
//
// The viewer is stored in context and read by the built-in rules:
//
//	ctx := privacy.WithViewer(ctx, &privacy.SimpleViewer{
//	    UserID:   "user-123",
//	    Roles:    []string{"user"},
//	    TenantID: "tenant-abc",
//	})
//	rows, err := qb.New("posts").Where("tenant_id", "=", "tenant-abc").All(ctx)
package privacy
