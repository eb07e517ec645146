package abac

import "encoding/json"

// Inquiry field names and the well-known attribute keys callers put inside them.
const (
	FieldResource = "resource"
	FieldAction   = "action"
	FieldSubject  = "subject"
	FieldContext  = "context"

	ResourcePath        = "path"
	ResourceService     = "service"
	ResourceQueryParams = "query_params"
	ResourcePathParams  = "path_params"

	SubjectIsUser      = "is_user"
	SubjectIsSuperuser = "is_superuser"

	ContextIP        = "ip"
	ContextUserAgent = "user_agent"
)

// HTTP verbs used as action values by the gateway.
const (
	ActionGet    = "GET"
	ActionPost   = "POST"
	ActionPut    = "PUT"
	ActionDelete = "DELETE"
	ActionPatch  = "PATCH"
)

// Inquiry is a single access-check request. Resource, Action and Subject are
// either strings or attribute maps. Inquiries are never persisted.
type Inquiry struct {
	Resource any            `json:"resource"`
	Action   any            `json:"action"`
	Subject  any            `json:"subject"`
	Context  map[string]any `json:"context"`
}

func (i *Inquiry) field(name string) any {
	switch name {
	case FieldResource:
		return i.Resource
	case FieldAction:
		return i.Action
	case FieldSubject:
		return i.Subject
	default:
		return nil
	}
}

// String renders the inquiry as compact JSON for log lines.
func (i Inquiry) String() string {
	data, err := json.Marshal(i)
	if err != nil {
		return "<unprintable inquiry>"
	}
	return string(data)
}
