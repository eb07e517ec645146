package abac

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"gatekeep.org/internal/obs"
)

// PolicySource streams candidate policies for an inquiry. A source may return
// more policies than strictly match; the guard filters them itself.
type PolicySource interface {
	Policies(ctx context.Context) iter.Seq2[Policy, error]
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the decision and rule-failure logger.
func WithLogger(l obs.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

// WithChecker replaces the default RulesChecker.
func WithChecker(c Checker) GuardOption {
	return func(g *Guard) {
		if c != nil {
			g.checker = c
		}
	}
}

// WithDecisionHook registers a callback invoked with every final effect.
func WithDecisionHook(fn func(Effect)) GuardOption {
	return func(g *Guard) { g.onDecision = fn }
}

// Guard evaluates inquiries against the policies of a source.
//
// Decisions are fail-closed: no matching policy, any matching deny policy, a
// failing context rule or a failing source all result in deny.
type Guard struct {
	source     PolicySource
	checker    Checker
	log        obs.Logger
	onDecision func(Effect)
}

func NewGuard(source PolicySource, opts ...GuardOption) *Guard {
	g := &Guard{source: source, log: obs.Nop{}}
	for _, opt := range opts {
		opt(g)
	}
	if g.checker == nil {
		g.checker = NewRulesChecker(g.log)
	}
	return g
}

// IsAllowed reports whether the inquiry is allowed. It never fails: internal
// errors are logged and yield deny.
func (g *Guard) IsAllowed(ctx context.Context, inq *Inquiry) bool {
	allowed, err := g.check(ctx, inq)
	if err != nil {
		g.log.Error("inquiry check failed", "inquiry", inq.String(), "err", err)
		allowed = false
	}
	if allowed {
		g.log.Debug("inquiry allowed", "inquiry", inq.String())
		g.decided(EffectAllow)
	} else {
		g.log.Debug("inquiry rejected", "inquiry", inq.String())
		g.decided(EffectDeny)
	}
	return allowed
}

func (g *Guard) decided(e Effect) {
	if g.onDecision != nil {
		g.onDecision(e)
	}
}

func (g *Guard) check(ctx context.Context, inq *Inquiry) (bool, error) {
	if inq == nil {
		return false, errors.New("abac: nil inquiry")
	}
	var candidates []Policy
	for p, err := range g.source.Policies(ctx) {
		if err != nil {
			return false, fmt.Errorf("load policies: %w", err)
		}
		fits, err := g.fits(&p, inq)
		if err != nil {
			return false, err
		}
		if fits {
			candidates = append(candidates, p)
		}
	}

	if len(candidates) == 0 {
		g.logDecision("No potential policies were found.", EffectDeny, inq, candidates, nil)
		return false, nil
	}
	for i := range candidates {
		if !candidates[i].AllowAccess() {
			g.logDecision("One of matching policies has deny effect.", EffectDeny, inq, candidates, candidates[i:i+1])
			return false, nil
		}
	}
	g.logDecision("All matching policies have allow effect.", EffectAllow, inq, candidates, candidates)
	return true, nil
}

// fits applies the field checks in order actions, subjects, resources, context.
func (g *Guard) fits(p *Policy, inq *Inquiry) (bool, error) {
	if !g.checker.Fits(p, FieldAction, inq.Action, inq) {
		return false, nil
	}
	if !g.checker.Fits(p, FieldSubject, inq.Subject, inq) {
		return false, nil
	}
	if !g.checker.Fits(p, FieldResource, inq.Resource, inq) {
		return false, nil
	}
	return checkContext(p, inq)
}

// checkContext requires every context rule key to be present in the inquiry
// context and satisfied. Rule errors here abort the whole check.
func checkContext(p *Policy, inq *Inquiry) (bool, error) {
	for key, rule := range p.Context {
		v, ok := inq.Context[key]
		if !ok {
			return false, nil
		}
		sat, err := rule.Satisfied(v, inq)
		if err != nil {
			return false, fmt.Errorf("policy %s context %q: %w", p.ID, key, err)
		}
		if !sat {
			return false, nil
		}
	}
	return true, nil
}

func (g *Guard) logDecision(msg string, effect Effect, inq *Inquiry, candidates, deciders []Policy) {
	g.log.Info(msg,
		"effect", string(effect),
		"inquiry", inq.String(),
		"candidates", DescribePolicies(candidates),
		"deciders", DescribePolicies(deciders),
	)
}

// PolicySlice is an in-memory PolicySource.
type PolicySlice []Policy

func (s PolicySlice) Policies(ctx context.Context) iter.Seq2[Policy, error] {
	return func(yield func(Policy, error) bool) {
		for _, p := range s {
			if err := ctx.Err(); err != nil {
				yield(Policy{}, err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}
