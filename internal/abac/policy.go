package abac

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Effect is the disposition a matching policy applies.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// ErrBadPolicy reports a policy document that fails shape validation.
var ErrBadPolicy = errors.New("abac: bad policy")

// Target is one entry of a policy's subjects, resources or actions: either a
// bare rule applied to the whole inquiry field, or a map of attribute name to
// rule applied to the matching keys of an attribute-map field.
type Target struct {
	Rule  Rule
	Attrs map[string]Rule
}

// RuleTarget wraps a bare rule.
func RuleTarget(r Rule) Target { return Target{Rule: r} }

// AttrTarget wraps an attribute map.
func AttrTarget(attrs map[string]Rule) Target { return Target{Attrs: attrs} }

func (t Target) MarshalJSON() ([]byte, error) {
	if t.Rule != nil {
		return json.Marshal(t.Rule)
	}
	if t.Attrs == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(t.Attrs)
}

func (t *Target) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeTarget(data)
	if err != nil {
		return err
	}
	*t = decoded
	return nil
}

// DecodeTarget decodes a stored target blob. An object carrying rule_type is
// a bare rule; any other object is an attribute map.
func DecodeTarget(raw []byte) (Target, error) {
	_, tagged, err := ruleTag(raw)
	if err != nil {
		return Target{}, err
	}
	if tagged {
		r, err := DecodeRule(raw)
		if err != nil {
			return Target{}, err
		}
		return Target{Rule: r}, nil
	}
	attrs, err := DecodeRuleMap(raw)
	if err != nil {
		return Target{}, err
	}
	return Target{Attrs: attrs}, nil
}

// DecodeRuleMap decodes an object of attribute name to tagged rule.
func DecodeRuleMap(raw []byte) (map[string]Rule, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRule, err)
	}
	out := make(map[string]Rule, len(fields))
	for k, v := range fields {
		r, err := DecodeRule(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}

// Policy regulates access of subjects to resources under context restrictions.
type Policy struct {
	ID          uuid.UUID
	Effect      Effect
	Description string
	Subjects    []Target
	Resources   []Target
	Actions     []Target
	Context     map[string]Rule
}

// AllowAccess reports whether the policy grants access when it matches.
func (p *Policy) AllowAccess() bool { return p.Effect == EffectAllow }

type policyDoc struct {
	ID          *uuid.UUID                 `json:"id"`
	Effect      Effect                     `json:"effect"`
	Description *string                    `json:"description"`
	Subjects    []json.RawMessage          `json:"subjects"`
	Resources   []json.RawMessage          `json:"resources"`
	Actions     []json.RawMessage          `json:"actions"`
	Context     map[string]json.RawMessage `json:"context"`
}

// DecodePolicy parses and validates a policy document. A missing effect
// defaults to deny; a missing description is an error.
func DecodePolicy(data []byte) (Policy, error) {
	var doc policyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrBadPolicy, err)
	}
	var p Policy
	if doc.ID != nil {
		p.ID = *doc.ID
	}
	switch doc.Effect {
	case "":
		p.Effect = EffectDeny
	case EffectAllow, EffectDeny:
		p.Effect = doc.Effect
	default:
		return Policy{}, fmt.Errorf("%w: effect must be allow or deny, got %q", ErrBadPolicy, doc.Effect)
	}
	if doc.Description == nil {
		return Policy{}, fmt.Errorf("%w: description is required", ErrBadPolicy)
	}
	p.Description = *doc.Description

	var err error
	if p.Subjects, err = decodeTargets(doc.Subjects); err != nil {
		return Policy{}, fmt.Errorf("%w: subjects: %v", ErrBadPolicy, err)
	}
	if p.Resources, err = decodeTargets(doc.Resources); err != nil {
		return Policy{}, fmt.Errorf("%w: resources: %v", ErrBadPolicy, err)
	}
	if p.Actions, err = decodeTargets(doc.Actions); err != nil {
		return Policy{}, fmt.Errorf("%w: actions: %v", ErrBadPolicy, err)
	}
	p.Context = make(map[string]Rule, len(doc.Context))
	for k, raw := range doc.Context {
		r, err := DecodeRule(raw)
		if err != nil {
			return Policy{}, fmt.Errorf("%w: context.%s: %v", ErrBadPolicy, k, err)
		}
		p.Context[k] = r
	}
	return p, nil
}

func decodeTargets(raws []json.RawMessage) ([]Target, error) {
	out := make([]Target, 0, len(raws))
	for i, raw := range raws {
		t, err := DecodeTarget(raw)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (p Policy) MarshalJSON() ([]byte, error) {
	var id *uuid.UUID
	if p.ID != uuid.Nil {
		id = &p.ID
	}
	effect := p.Effect
	if effect == "" {
		effect = EffectDeny
	}
	ctx := p.Context
	if ctx == nil {
		ctx = map[string]Rule{}
	}
	return json.Marshal(struct {
		ID          *uuid.UUID      `json:"id"`
		Effect      Effect          `json:"effect"`
		Description string          `json:"description"`
		Subjects    []Target        `json:"subjects"`
		Resources   []Target        `json:"resources"`
		Actions     []Target        `json:"actions"`
		Context     map[string]Rule `json:"context"`
	}{id, effect, p.Description, nonNilTargets(p.Subjects), nonNilTargets(p.Resources), nonNilTargets(p.Actions), ctx})
}

func (p *Policy) UnmarshalJSON(data []byte) error {
	decoded, err := DecodePolicy(data)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

func nonNilTargets(ts []Target) []Target {
	if ts == nil {
		return []Target{}
	}
	return ts
}
