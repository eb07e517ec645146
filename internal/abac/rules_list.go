package abac

import (
	"errors"
	"fmt"
	"sort"
)

// listRule carries the reference set for membership checks. Data is kept
// sorted and de-duplicated so encoded policies are stable.
type listRule struct {
	Data []string `json:"data"`
}

func newListRule(items []string) listRule {
	l := listRule{Data: append([]string(nil), items...)}
	l.normalize()
	return l
}

func (l *listRule) normalize() {
	if len(l.Data) == 0 {
		return
	}
	sort.Strings(l.Data)
	out := l.Data[:1]
	for _, s := range l.Data[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	l.Data = out
}

func (l *listRule) validate() error {
	if l.Data == nil {
		return errors.New("data is required")
	}
	l.normalize()
	return nil
}

func (l listRule) contains(v any) (bool, error) {
	if !isHashable(v) {
		return false, fmt.Errorf("%w: unhashable %T", ErrType, v)
	}
	s, ok := v.(string)
	if !ok {
		return false, nil
	}
	i := sort.SearchStrings(l.Data, s)
	return i < len(l.Data) && l.Data[i] == s, nil
}

// counts returns how many elements of what are inside and outside the set.
func (l listRule) counts(what any) (in, out int, err error) {
	items, ok := toList(what)
	if !ok {
		return 0, 0, fmt.Errorf("%w: value should be of list type, got %T", ErrType, what)
	}
	for _, item := range items {
		found, err := l.contains(item)
		if err != nil {
			return 0, 0, err
		}
		if found {
			in++
		} else {
			out++
		}
	}
	return in, out, nil
}

// In is satisfied when the value is a member of Data.
type In struct{ listRule }

// NotIn is satisfied when the value is not a member of Data.
type NotIn struct{ listRule }

// AllIn is satisfied when every element of the list value is in Data.
type AllIn struct{ listRule }

// AllNotIn is satisfied when at least one element of the list value is outside Data.
type AllNotIn struct{ listRule }

// AnyIn is satisfied when at least one element of the list value is in Data.
type AnyIn struct{ listRule }

// AnyNotIn is satisfied when at least one element of the list value is outside Data.
type AnyNotIn struct{ listRule }

func NewIn(items ...string) *In             { return &In{newListRule(items)} }
func NewNotIn(items ...string) *NotIn       { return &NotIn{newListRule(items)} }
func NewAllIn(items ...string) *AllIn       { return &AllIn{newListRule(items)} }
func NewAllNotIn(items ...string) *AllNotIn { return &AllNotIn{newListRule(items)} }
func NewAnyIn(items ...string) *AnyIn       { return &AnyIn{newListRule(items)} }
func NewAnyNotIn(items ...string) *AnyNotIn { return &AnyNotIn{newListRule(items)} }

func (*In) Type() string       { return TypeIn }
func (*NotIn) Type() string    { return TypeNotIn }
func (*AllIn) Type() string    { return TypeAllIn }
func (*AllNotIn) Type() string { return TypeAllNotIn }
func (*AnyIn) Type() string    { return TypeAnyIn }
func (*AnyNotIn) Type() string { return TypeAnyNotIn }

func (r *In) Satisfied(what any, _ *Inquiry) (bool, error) {
	return r.contains(what)
}

func (r *NotIn) Satisfied(what any, _ *Inquiry) (bool, error) {
	found, err := r.contains(what)
	if err != nil {
		return false, err
	}
	return !found, nil
}

func (r *AllIn) Satisfied(what any, _ *Inquiry) (bool, error) {
	_, out, err := r.counts(what)
	if err != nil {
		return false, err
	}
	return out == 0, nil
}

func (r *AllNotIn) Satisfied(what any, _ *Inquiry) (bool, error) {
	_, out, err := r.counts(what)
	if err != nil {
		return false, err
	}
	return out > 0, nil
}

func (r *AnyIn) Satisfied(what any, _ *Inquiry) (bool, error) {
	in, _, err := r.counts(what)
	if err != nil {
		return false, err
	}
	return in > 0, nil
}

func (r *AnyNotIn) Satisfied(what any, _ *Inquiry) (bool, error) {
	_, out, err := r.counts(what)
	if err != nil {
		return false, err
	}
	return out > 0, nil
}

func (r *In) MarshalJSON() ([]byte, error)       { return marshalTagged(TypeIn, r.listRule) }
func (r *NotIn) MarshalJSON() ([]byte, error)    { return marshalTagged(TypeNotIn, r.listRule) }
func (r *AllIn) MarshalJSON() ([]byte, error)    { return marshalTagged(TypeAllIn, r.listRule) }
func (r *AllNotIn) MarshalJSON() ([]byte, error) { return marshalTagged(TypeAllNotIn, r.listRule) }
func (r *AnyIn) MarshalJSON() ([]byte, error)    { return marshalTagged(TypeAnyIn, r.listRule) }
func (r *AnyNotIn) MarshalJSON() ([]byte, error) { return marshalTagged(TypeAnyNotIn, r.listRule) }
