package privacy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/syssam/qb"
	"github.com/syssam/qb/hook"
)

// Policy decision sentinel errors.
//
// These errors are used as return values from rules to indicate how the
// evaluation should proceed. Use errors.Is() to check for these values:
//
//	if errors.Is(err, privacy.Allow) { ... }
//	if errors.Is(err, privacy.Deny) { ... }
//	if errors.Is(err, privacy.Skip) { ... }
var (
	// Allow may be returned by rules to indicate that the policy
	// evaluation should terminate with an allow decision.
	Allow = errors.New("qb/privacy: allow rule")

	// Deny may be returned by rules to indicate that the policy
	// evaluation should terminate with a deny decision.
	Deny = errors.New("qb/privacy: deny rule")

	// Skip may be returned by rules to indicate that the policy
	// evaluation should continue to the next rule in the chain.
	Skip = errors.New("qb/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Rule decides whether the statement described by a BEFORE event may run.
type Rule interface {
	Eval(context.Context, *hook.Event) error
}

// RuleFunc type is an adapter which allows the use of ordinary functions
// as rules.
type RuleFunc func(context.Context, *hook.Event) error

// Eval returns f(ctx, e).
func (f RuleFunc) Eval(ctx context.Context, e *hook.Event) error {
	return f(ctx, e)
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() Rule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() Rule {
	return fixedDecision{Deny}
}

// ContextRule creates a rule from a context evaluation function.
// Returning nil is equivalent to returning Skip.
func ContextRule(eval func(context.Context) error) Rule {
	return RuleFunc(func(ctx context.Context, _ *hook.Event) error {
		return eval(ctx)
	})
}

// OnTables evaluates the given rule only for statements on the given tables.
func OnTables(rule Rule, tables ...string) Rule {
	return RuleFunc(func(ctx context.Context, e *hook.Event) error {
		if slices.Contains(tables, e.Table) {
			return rule.Eval(ctx, e)
		}
		return Skip
	})
}

// OnActions evaluates the given rule only for the given statement kinds.
func OnActions(rule Rule, actions ...hook.Action) Rule {
	return RuleFunc(func(ctx context.Context, e *hook.Event) error {
		if slices.Contains(actions, e.Action) {
			return rule.Eval(ctx, e)
		}
		return Skip
	})
}

// DenyActionRule returns a rule denying the given statement kinds.
func DenyActionRule(actions ...hook.Action) Rule {
	rule := RuleFunc(func(_ context.Context, e *hook.Event) error {
		return Denyf("qb/privacy: %s on %s is not allowed", e.Action, e.Table)
	})
	return OnActions(rule, actions...)
}

// AllowActionRule returns a rule allowing the given statement kinds.
func AllowActionRule(actions ...hook.Action) Rule {
	return OnActions(AlwaysAllowRule(), actions...)
}

// ReadOnlyRule denies every write.
func ReadOnlyRule() Rule {
	return DenyActionRule(hook.Insert, hook.Update, hook.Delete)
}

// Policy evaluates rules in order until one of them returns a decision
// other than Skip. A policy whose rules all skip permits the statement.
type Policy []Rule

// Eval evaluates the policy. Allow ends the evaluation with a nil error.
func (p Policy) Eval(ctx context.Context, e *hook.Event) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, rule := range p {
		switch decision := rule.Eval(ctx, e); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// Install evaluates rule on every BEFORE event published under prefix.
// A denial aborts the statement with a *qb.PrivacyError wrapping the decision.
// The returned function uninstalls the rule.
func Install(d *hook.Dispatcher, prefix string, rule Rule) func() {
	if prefix == "" {
		prefix = hook.DefaultPrefix
	}
	return d.On(prefix, hook.Before, "", "", func(ctx context.Context, e *hook.Event) error {
		decision := rule.Eval(ctx, e)
		if decision == nil || errors.Is(decision, Skip) || errors.Is(decision, Allow) {
			return nil
		}
		return qb.NewPrivacyError(e.Table, string(e.Action), decision)
	})
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attach to it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) Eval(context.Context, *hook.Event) error {
	return f.decision
}
