package abac

import "gatekeep.org/internal/obs"

// Checker decides whether one field of a policy fits the matching inquiry field.
type Checker interface {
	Fits(p *Policy, field string, what any, inq *Inquiry) bool
}

// RulesChecker matches policy targets rule by rule. A rule that fails with an
// error counts as not satisfied.
type RulesChecker struct {
	log obs.Logger
}

func NewRulesChecker(log obs.Logger) *RulesChecker {
	if log == nil {
		log = obs.Nop{}
	}
	return &RulesChecker{log: log}
}

// Fits reports whether at least one target of the policy field matches what.
// An empty target list never matches.
func (c *RulesChecker) Fits(p *Policy, field string, what any, inq *Inquiry) bool {
	for _, target := range targetsOf(p, field) {
		if c.targetFits(p, target, what, inq) {
			return true
		}
	}
	return false
}

func (c *RulesChecker) targetFits(p *Policy, t Target, what any, inq *Inquiry) bool {
	if t.Rule != nil {
		return c.satisfied(p, t.Rule, what, inq)
	}
	if len(t.Attrs) == 0 {
		return false
	}
	attrs, ok := what.(map[string]any)
	if !ok {
		c.log.Debug("policy target expects attribute map", "policy", p.ID.String(), "value_type", typeName(what))
		return false
	}
	for key, rule := range t.Attrs {
		v, ok := attrs[key]
		if !ok {
			c.log.Debug("inquiry lacks attribute required by policy", "policy", p.ID.String(), "key", key)
			return false
		}
		if !c.satisfied(p, rule, v, inq) {
			return false
		}
	}
	return true
}

func (c *RulesChecker) satisfied(p *Policy, r Rule, what any, inq *Inquiry) bool {
	ok, err := r.Satisfied(what, inq)
	if err != nil {
		c.log.Warn("rule evaluation failed", "policy", p.ID.String(), "rule", r.Type(), "err", err)
		return false
	}
	return ok
}

func targetsOf(p *Policy, field string) []Target {
	switch field {
	case FieldSubject:
		return p.Subjects
	case FieldResource:
		return p.Resources
	case FieldAction:
		return p.Actions
	default:
		return nil
	}
}
