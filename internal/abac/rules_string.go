package abac

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// stringRule compares a string value with Value. CaseSensitive=false folds
// both sides to lower case first.
type stringRule struct {
	Value         string `json:"value"`
	CaseSensitive bool   `json:"case_sensitive"`
}

func (r stringRule) operands(what any) (string, string, bool) {
	s, ok := what.(string)
	if !ok {
		return "", "", false
	}
	if r.CaseSensitive {
		return s, r.Value, true
	}
	return strings.ToLower(s), strings.ToLower(r.Value), true
}

type (
	// StrEqual is satisfied when the string equals Value.
	StrEqual struct{ stringRule }
	// StrStartsWith is satisfied when the string starts with Value.
	StrStartsWith struct{ stringRule }
	// StrEndsWith is satisfied when the string ends with Value.
	StrEndsWith struct{ stringRule }
	// StrContains is satisfied when the string contains Value.
	StrContains struct{ stringRule }
)

func NewStrEqual(v string, caseSensitive bool) *StrEqual {
	return &StrEqual{stringRule{v, caseSensitive}}
}

func NewStrStartsWith(v string, caseSensitive bool) *StrStartsWith {
	return &StrStartsWith{stringRule{v, caseSensitive}}
}

func NewStrEndsWith(v string, caseSensitive bool) *StrEndsWith {
	return &StrEndsWith{stringRule{v, caseSensitive}}
}

func NewStrContains(v string, caseSensitive bool) *StrContains {
	return &StrContains{stringRule{v, caseSensitive}}
}

func (*StrEqual) Type() string      { return TypeStrEqual }
func (*StrStartsWith) Type() string { return TypeStrStartsWith }
func (*StrEndsWith) Type() string   { return TypeStrEndsWith }
func (*StrContains) Type() string   { return TypeStrContains }

func (r *StrEqual) Satisfied(what any, _ *Inquiry) (bool, error) {
	s, v, ok := r.operands(what)
	return ok && s == v, nil
}

func (r *StrStartsWith) Satisfied(what any, _ *Inquiry) (bool, error) {
	s, v, ok := r.operands(what)
	return ok && strings.HasPrefix(s, v), nil
}

func (r *StrEndsWith) Satisfied(what any, _ *Inquiry) (bool, error) {
	s, v, ok := r.operands(what)
	return ok && strings.HasSuffix(s, v), nil
}

func (r *StrContains) Satisfied(what any, _ *Inquiry) (bool, error) {
	s, v, ok := r.operands(what)
	return ok && strings.Contains(s, v), nil
}

func (r *StrEqual) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeStrEqual, r.stringRule)
}

func (r *StrStartsWith) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeStrStartsWith, r.stringRule)
}

func (r *StrEndsWith) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeStrEndsWith, r.stringRule)
}

func (r *StrContains) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeStrContains, r.stringRule)
}

// StrPairsEqual is satisfied when the value is a list of two-element pairs
// whose elements are equal.
type StrPairsEqual struct{}

func (*StrPairsEqual) Type() string { return TypeStrPairsEqual }

func (*StrPairsEqual) Satisfied(what any, _ *Inquiry) (bool, error) {
	pairs, ok := toList(what)
	if !ok {
		return false, nil
	}
	for _, p := range pairs {
		pair, ok := toList(p)
		if !ok || len(pair) != 2 {
			return false, nil
		}
		_, leftStr := pair[0].(string)
		_, rightStr := pair[1].(string)
		if !leftStr && !rightStr {
			return false, nil
		}
		if !valuesEqual(pair[0], pair[1]) {
			return false, nil
		}
	}
	return true, nil
}

func (*StrPairsEqual) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeStrPairsEqual, struct{}{})
}

// RegexMatch is satisfied when the pattern matches at the start of the
// value's string form.
type RegexMatch struct {
	Regex string
	re    *regexp.Regexp
}

// NewRegexMatch compiles pattern or fails.
func NewRegexMatch(pattern string) (*RegexMatch, error) {
	r := &RegexMatch{Regex: pattern}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRule, err)
	}
	return r, nil
}

func (*RegexMatch) Type() string { return TypeRegexMatch }

func (r *RegexMatch) validate() error {
	re, err := regexp.Compile(`^(?:` + r.Regex + `)`)
	if err != nil {
		return fmt.Errorf("pattern should be a valid regexp: %v", err)
	}
	r.re = re
	return nil
}

func (r *RegexMatch) Satisfied(what any, _ *Inquiry) (bool, error) {
	if r.re == nil {
		return false, errors.New("abac: regex rule not compiled")
	}
	return r.re.MatchString(stringify(what)), nil
}

func (r *RegexMatch) UnmarshalJSON(data []byte) error {
	var doc struct {
		Regex *string `json:"regex"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Regex == nil {
		return errors.New("regex is required")
	}
	r.Regex = *doc.Regex
	return nil
}

func (r *RegexMatch) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeRegexMatch, struct {
		Regex string `json:"regex"`
	}{r.Regex})
}
