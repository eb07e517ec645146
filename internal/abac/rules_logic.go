package abac

import (
	"encoding/json"
	"errors"
)

// Truthy is satisfied when the value is truthy (non-zero, non-empty, true).
type Truthy struct{}

// Falsy is satisfied when the value is falsy.
type Falsy struct{}

func (*Truthy) Type() string { return TypeTruthy }
func (*Falsy) Type() string  { return TypeFalsy }

func (*Truthy) Satisfied(what any, _ *Inquiry) (bool, error) { return truthy(what), nil }
func (*Falsy) Satisfied(what any, _ *Inquiry) (bool, error)  { return !truthy(what), nil }

func (*Truthy) MarshalJSON() ([]byte, error) { return marshalTagged(TypeTruthy, struct{}{}) }
func (*Falsy) MarshalJSON() ([]byte, error)  { return marshalTagged(TypeFalsy, struct{}{}) }

// Any is always satisfied.
type Any struct{}

// Neither is never satisfied.
type Neither struct{}

func (*Any) Type() string     { return TypeAny }
func (*Neither) Type() string { return TypeNeither }

func (*Any) Satisfied(any, *Inquiry) (bool, error)     { return true, nil }
func (*Neither) Satisfied(any, *Inquiry) (bool, error) { return false, nil }

func (*Any) MarshalJSON() ([]byte, error)     { return marshalTagged(TypeAny, struct{}{}) }
func (*Neither) MarshalJSON() ([]byte, error) { return marshalTagged(TypeNeither, struct{}{}) }

// And is satisfied when it holds at least one rule and every rule is satisfied.
type And struct {
	Rules []Rule
}

// Or is satisfied by the first satisfied rule.
type Or struct {
	Rules []Rule
}

// Not negates a single rule.
type Not struct {
	Rule Rule
}

func NewAnd(rules ...Rule) *And { return &And{Rules: rules} }
func NewOr(rules ...Rule) *Or   { return &Or{Rules: rules} }
func NewNot(rule Rule) *Not     { return &Not{Rule: rule} }

func (*And) Type() string { return TypeAnd }
func (*Or) Type() string  { return TypeOr }
func (*Not) Type() string { return TypeNot }

func (r *And) Satisfied(what any, inq *Inquiry) (bool, error) {
	if len(r.Rules) == 0 {
		return false, nil
	}
	all := true
	for _, rule := range r.Rules {
		ok, err := rule.Satisfied(what, inq)
		if err != nil {
			return false, err
		}
		all = all && ok
	}
	return all, nil
}

func (r *Or) Satisfied(what any, inq *Inquiry) (bool, error) {
	for _, rule := range r.Rules {
		ok, err := rule.Satisfied(what, inq)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (r *Not) Satisfied(what any, inq *Inquiry) (bool, error) {
	ok, err := r.Rule.Satisfied(what, inq)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

type compositeDoc struct {
	Rules []json.RawMessage `json:"rules"`
}

func (r *And) UnmarshalJSON(data []byte) error {
	rules, err := unmarshalComposite(data)
	if err != nil {
		return err
	}
	r.Rules = rules
	return nil
}

func (r *Or) UnmarshalJSON(data []byte) error {
	rules, err := unmarshalComposite(data)
	if err != nil {
		return err
	}
	r.Rules = rules
	return nil
}

func unmarshalComposite(data []byte) ([]Rule, error) {
	var doc compositeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Rules == nil {
		return nil, errors.New("rules is required")
	}
	return decodeRules(doc.Rules)
}

func (r *Not) UnmarshalJSON(data []byte) error {
	var doc struct {
		Rule json.RawMessage `json:"rule"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc.Rule) == 0 || string(doc.Rule) == "null" {
		return errors.New("rule is required")
	}
	rule, err := DecodeRule(doc.Rule)
	if err != nil {
		return err
	}
	r.Rule = rule
	return nil
}

func (r *And) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeAnd, struct {
		Rules []Rule `json:"rules"`
	}{nonNilRules(r.Rules)})
}

func (r *Or) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeOr, struct {
		Rules []Rule `json:"rules"`
	}{nonNilRules(r.Rules)})
}

func (r *Not) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeNot, struct {
		Rule Rule `json:"rule"`
	}{r.Rule})
}

func nonNilRules(rules []Rule) []Rule {
	if rules == nil {
		return []Rule{}
	}
	return rules
}
