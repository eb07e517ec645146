package abac

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Rule tags used in the "rule_type" discriminator of persisted policies.
const (
	TypeSubjectMatch   = "SubjectMatch"
	TypeActionMatch    = "ActionMatch"
	TypeResourceMatch  = "ResourceMatch"
	TypeIn             = "In"
	TypeNotIn          = "NotIn"
	TypeAllIn          = "AllIn"
	TypeAllNotIn       = "AllNotIn"
	TypeAnyIn          = "AnyIn"
	TypeAnyNotIn       = "AnyNotIn"
	TypeTruthy         = "Truthy"
	TypeFalsy          = "Falsy"
	TypeAnd            = "And"
	TypeOr             = "Or"
	TypeNot            = "Not"
	TypeAny            = "RuleAny"
	TypeNeither        = "Neither"
	TypeCIDR           = "CIDR"
	TypeEq             = "Eq"
	TypeNotEq          = "NotEq"
	TypeGreater        = "Greater"
	TypeLess           = "Less"
	TypeGreaterOrEqual = "GreaterOrEqual"
	TypeLessOrEqual    = "LessOrEqual"
	TypeStrEqual       = "StrEqual"
	TypeStrStartsWith  = "StrStartsWith"
	TypeStrEndsWith    = "StrEndsWith"
	TypeStrContains    = "StrContains"
	TypeStrPairsEqual  = "StrPairsEqual"
	TypeRegexMatch     = "RegexMatch"
)

var (
	// ErrBadRule reports a rule document that cannot be turned into a live rule.
	ErrBadRule = errors.New("abac: bad rule")
	// ErrType is returned by rules that received a value of the wrong shape.
	ErrType = errors.New("abac: unexpected value type")
)

// Rule is a predicate over a single value taken from an inquiry.
//
// Implementations are immutable once decoded. Satisfied returns an error only
// when the value has a shape the rule cannot work with; callers treat that as
// "not satisfied".
type Rule interface {
	Type() string
	Satisfied(what any, inq *Inquiry) (bool, error)
}

type ruleValidator interface {
	validate() error
}

var ruleFactories = map[string]func() Rule{
	TypeSubjectMatch:   func() Rule { return &SubjectMatch{} },
	TypeActionMatch:    func() Rule { return &ActionMatch{} },
	TypeResourceMatch:  func() Rule { return &ResourceMatch{} },
	TypeIn:             func() Rule { return &In{} },
	TypeNotIn:          func() Rule { return &NotIn{} },
	TypeAllIn:          func() Rule { return &AllIn{} },
	TypeAllNotIn:       func() Rule { return &AllNotIn{} },
	TypeAnyIn:          func() Rule { return &AnyIn{} },
	TypeAnyNotIn:       func() Rule { return &AnyNotIn{} },
	TypeTruthy:         func() Rule { return &Truthy{} },
	TypeFalsy:          func() Rule { return &Falsy{} },
	TypeAnd:            func() Rule { return &And{} },
	TypeOr:             func() Rule { return &Or{} },
	TypeNot:            func() Rule { return &Not{} },
	TypeAny:            func() Rule { return &Any{} },
	TypeNeither:        func() Rule { return &Neither{} },
	TypeCIDR:           func() Rule { return &CIDR{} },
	TypeEq:             func() Rule { return &Eq{} },
	TypeNotEq:          func() Rule { return &NotEq{} },
	TypeGreater:        func() Rule { return &Greater{} },
	TypeLess:           func() Rule { return &Less{} },
	TypeGreaterOrEqual: func() Rule { return &GreaterOrEqual{} },
	TypeLessOrEqual:    func() Rule { return &LessOrEqual{} },
	TypeStrEqual:       func() Rule { return &StrEqual{} },
	TypeStrStartsWith:  func() Rule { return &StrStartsWith{} },
	TypeStrEndsWith:    func() Rule { return &StrEndsWith{} },
	TypeStrContains:    func() Rule { return &StrContains{} },
	TypeStrPairsEqual:  func() Rule { return &StrPairsEqual{} },
	TypeRegexMatch:     func() Rule { return &RegexMatch{} },
}

// DecodeRule reconstructs a live rule from its tagged JSON form.
func DecodeRule(raw json.RawMessage) (Rule, error) {
	tag, ok, err := ruleTag(raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing rule_type", ErrBadRule)
	}
	factory, found := ruleFactories[tag]
	if !found {
		return nil, fmt.Errorf("%w: unknown rule_type %q", ErrBadRule, tag)
	}
	rule := factory()
	if err := json.Unmarshal(raw, rule); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadRule, tag, err)
	}
	if v, ok := rule.(ruleValidator); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadRule, tag, err)
		}
	}
	return rule, nil
}

// ruleTag peeks at the discriminator without decoding the rest of the document.
func ruleTag(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return "", false, fmt.Errorf("%w: rule must be an object", ErrBadRule)
	}
	var head struct {
		RuleType *string `json:"rule_type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrBadRule, err)
	}
	if head.RuleType == nil {
		return "", false, nil
	}
	return *head.RuleType, true, nil
}

func decodeRules(raws []json.RawMessage) ([]Rule, error) {
	rules := make([]Rule, 0, len(raws))
	for _, raw := range raws {
		r, err := DecodeRule(raw)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// marshalTagged encodes body (an object) with the rule_type discriminator as the first key.
func marshalTagged(tag string, body any) ([]byte, error) {
	fields, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	head := fmt.Sprintf(`{"rule_type":%q`, tag)
	fields = bytes.TrimSpace(fields)
	if len(fields) <= 2 {
		return []byte(head + "}"), nil
	}
	var buf bytes.Buffer
	buf.Grow(len(head) + len(fields))
	buf.WriteString(head)
	buf.WriteByte(',')
	buf.Write(fields[1:])
	return buf.Bytes(), nil
}
