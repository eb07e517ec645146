package abac

// inquiryMatch compares the evaluated value with a field of the live inquiry,
// or with one attribute of that field when Attribute is set.
type inquiryMatch struct {
	Attribute *string `json:"attribute"`
}

func (m inquiryMatch) match(field string, what any, inq *Inquiry) bool {
	if inq == nil {
		return false
	}
	value := inq.field(field)
	if m.Attribute != nil {
		attrs, ok := value.(map[string]any)
		if !ok {
			return false
		}
		v, ok := attrs[*m.Attribute]
		if !ok {
			return false
		}
		value = v
	}
	return valuesEqual(what, value)
}

// SubjectMatch is satisfied when the value equals the inquiry subject (or one of its attributes).
type SubjectMatch struct{ inquiryMatch }

// ActionMatch is satisfied when the value equals the inquiry action (or one of its attributes).
type ActionMatch struct{ inquiryMatch }

// ResourceMatch is satisfied when the value equals the inquiry resource (or one of its attributes).
type ResourceMatch struct{ inquiryMatch }

func NewSubjectMatch(attribute string) *SubjectMatch {
	return &SubjectMatch{inquiryMatch{Attribute: optional(attribute)}}
}

func NewActionMatch(attribute string) *ActionMatch {
	return &ActionMatch{inquiryMatch{Attribute: optional(attribute)}}
}

func NewResourceMatch(attribute string) *ResourceMatch {
	return &ResourceMatch{inquiryMatch{Attribute: optional(attribute)}}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (*SubjectMatch) Type() string  { return TypeSubjectMatch }
func (*ActionMatch) Type() string   { return TypeActionMatch }
func (*ResourceMatch) Type() string { return TypeResourceMatch }

func (r *SubjectMatch) Satisfied(what any, inq *Inquiry) (bool, error) {
	return r.match(FieldSubject, what, inq), nil
}

func (r *ActionMatch) Satisfied(what any, inq *Inquiry) (bool, error) {
	return r.match(FieldAction, what, inq), nil
}

func (r *ResourceMatch) Satisfied(what any, inq *Inquiry) (bool, error) {
	return r.match(FieldResource, what, inq), nil
}

func (r *SubjectMatch) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeSubjectMatch, r.inquiryMatch)
}

func (r *ActionMatch) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeActionMatch, r.inquiryMatch)
}

func (r *ResourceMatch) MarshalJSON() ([]byte, error) {
	return marshalTagged(TypeResourceMatch, r.inquiryMatch)
}
