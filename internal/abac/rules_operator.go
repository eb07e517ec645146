package abac

// operatorRule compares the value against a constant.
type operatorRule struct {
	Value any `json:"value"`
}

type (
	// Eq is satisfied when the value equals Value.
	Eq struct{ operatorRule }
	// NotEq is satisfied when the value differs from Value.
	NotEq struct{ operatorRule }
	// Greater is satisfied when the value is greater than Value.
	Greater struct{ operatorRule }
	// Less is satisfied when the value is less than Value.
	Less struct{ operatorRule }
	// GreaterOrEqual is satisfied when the value is greater than or equal to Value.
	GreaterOrEqual struct{ operatorRule }
	// LessOrEqual is satisfied when the value is less than or equal to Value.
	LessOrEqual struct{ operatorRule }
)

func NewEq(v any) *Eq                         { return &Eq{operatorRule{v}} }
func NewNotEq(v any) *NotEq                   { return &NotEq{operatorRule{v}} }
func NewGreater(v any) *Greater               { return &Greater{operatorRule{v}} }
func NewLess(v any) *Less                     { return &Less{operatorRule{v}} }
func NewGreaterOrEqual(v any) *GreaterOrEqual { return &GreaterOrEqual{operatorRule{v}} }
func NewLessOrEqual(v any) *LessOrEqual       { return &LessOrEqual{operatorRule{v}} }

func (*Eq) Type() string             { return TypeEq }
func (*NotEq) Type() string          { return TypeNotEq }
func (*Greater) Type() string        { return TypeGreater }
func (*Less) Type() string           { return TypeLess }
func (*GreaterOrEqual) Type() string { return TypeGreaterOrEqual }
func (*LessOrEqual) Type() string    { return TypeLessOrEqual }

func (r *Eq) Satisfied(what any, _ *Inquiry) (bool, error) {
	return valuesEqual(r.Value, what), nil
}

func (r *NotEq) Satisfied(what any, _ *Inquiry) (bool, error) {
	return !valuesEqual(r.Value, what), nil
}

func (r *Greater) Satisfied(what any, _ *Inquiry) (bool, error) {
	c, err := compareValues(what, r.Value)
	return err == nil && c > 0, err
}

func (r *Less) Satisfied(what any, _ *Inquiry) (bool, error) {
	c, err := compareValues(what, r.Value)
	return err == nil && c < 0, err
}

func (r *GreaterOrEqual) Satisfied(what any, _ *Inquiry) (bool, error) {
	c, err := compareValues(what, r.Value)
	return err == nil && c >= 0, err
}

func (r *LessOrEqual) Satisfied(what any, _ *Inquiry) (bool, error) {
	c, err := compareValues(what, r.Value)
	return err == nil && c <= 0, err
}

func (r *Eq) MarshalJSON() ([]byte, error)    { return marshalTagged(TypeEq, r.operatorRule) }
func (r *NotEq) MarshalJSON() ([]byte, error) { return marshalTagged(TypeNotEq, r.operatorRule) }
func (r *Greater) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeGreater, r.operatorRule)
}
func (r *Less) MarshalJSON() ([]byte, error) { return marshalTagged(TypeLess, r.operatorRule) }
func (r *GreaterOrEqual) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeGreaterOrEqual, r.operatorRule)
}
func (r *LessOrEqual) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeLessOrEqual, r.operatorRule)
}
