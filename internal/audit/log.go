package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Security events.
const (
	EventLogin           = "login"
	EventLogout          = "logout"
	EventLogoutOther     = "logout_other"
	EventPasswordChanged = "password_changed"
	EventEmailChanged    = "email_changed"
	EventUserCreated     = "user_created"
	EventPolicyCreated   = "policy_created"
	EventPolicyUpdated   = "policy_updated"
	EventPolicyDeleted   = "policy_deleted"
	EventOAuthAttached   = "oauth_attached"
	EventOAuthDetached   = "oauth_detached"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes one JSON line per security event.
type Logger struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// New returns a Logger writing to w; nil means stdout.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{w: w, now: time.Now}
}

// Discard returns a Logger that drops every event.
func Discard() *Logger {
	return New(io.Discard)
}

// LogEvent writes an audit entry enriched with the request id from ctx.
// userID may be empty for anonymous events.
func (l *Logger) LogEvent(ctx context.Context, event, userID string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    l.now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if userID != "" {
		entry["user_id"] = userID
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(data)
	return err
}
