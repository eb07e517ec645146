package abac

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
	kv    [][]any
}

func (l *recordingLogger) record(level, msg string, keyvals []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+msg)
	l.kv = append(l.kv, keyvals)
}

func (l *recordingLogger) Debug(msg string, kv ...any) { l.record("debug", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...any)  { l.record("info", msg, kv) }
func (l *recordingLogger) Warn(msg string, kv ...any)  { l.record("warn", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...any) { l.record("error", msg, kv) }

func (l *recordingLogger) has(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func readFilmsPolicy(effect Effect) Policy {
	return Policy{
		ID:          uuid.New(),
		Effect:      effect,
		Description: "films for users",
		Subjects:    []Target{AttrTarget(map[string]Rule{SubjectIsUser: &Truthy{}})},
		Resources:   []Target{AttrTarget(map[string]Rule{ResourcePath: NewStrStartsWith("/api/v1/films", true)})},
		Actions:     []Target{RuleTarget(NewIn(ActionGet))},
	}
}

func userInquiry(ip string) *Inquiry {
	return &Inquiry{
		Subject:  map[string]any{SubjectIsUser: true, SubjectIsSuperuser: false},
		Action:   ActionGet,
		Resource: map[string]any{ResourcePath: "/api/v1/films/42"},
		Context:  map[string]any{ContextIP: ip, ContextUserAgent: "curl/8"},
	}
}

func TestGuardDeniesWithoutPolicies(t *testing.T) {
	log := &recordingLogger{}
	var effects []Effect
	g := NewGuard(PolicySlice(nil), WithLogger(log), WithDecisionHook(func(e Effect) { effects = append(effects, e) }))
	if g.IsAllowed(context.Background(), userInquiry("10.0.0.1")) {
		t.Fatalf("expected deny with empty policy set")
	}
	if !log.has("info No potential policies were found.") {
		t.Fatalf("missing decision log line: %v", log.lines)
	}
	if len(effects) != 1 || effects[0] != EffectDeny {
		t.Fatalf("decision hook got %v", effects)
	}
}

func TestGuardAllowsMatchingPolicy(t *testing.T) {
	log := &recordingLogger{}
	g := NewGuard(PolicySlice{readFilmsPolicy(EffectAllow)}, WithLogger(log))
	if !g.IsAllowed(context.Background(), userInquiry("10.0.0.1")) {
		t.Fatalf("expected allow")
	}
	if !log.has("info All matching policies have allow effect.") {
		t.Fatalf("missing decision log line: %v", log.lines)
	}

	anon := userInquiry("10.0.0.1")
	anon.Subject = map[string]any{SubjectIsUser: false, SubjectIsSuperuser: false}
	if g.IsAllowed(context.Background(), anon) {
		t.Fatalf("anonymous subject must not match is_user policy")
	}

	post := userInquiry("10.0.0.1")
	post.Action = ActionPost
	if g.IsAllowed(context.Background(), post) {
		t.Fatalf("POST must not match GET-only policy")
	}
}

func TestGuardDenyOverridesAllow(t *testing.T) {
	log := &recordingLogger{}
	deny := readFilmsPolicy(EffectDeny)
	deny.Description = "blocked"
	g := NewGuard(PolicySlice{readFilmsPolicy(EffectAllow), deny}, WithLogger(log))
	if g.IsAllowed(context.Background(), userInquiry("10.0.0.1")) {
		t.Fatalf("deny must override allow")
	}
	if !log.has("info One of matching policies has deny effect.") {
		t.Fatalf("missing decision log line: %v", log.lines)
	}
	for i, line := range log.lines {
		if !strings.HasPrefix(line, "info One of") {
			continue
		}
		kv := log.kv[i]
		for j := 0; j+1 < len(kv); j += 2 {
			if kv[j] == "deciders" && !strings.Contains(kv[j+1].(string), "description: blocked") {
				t.Fatalf("deciders should name the deny policy: %v", kv[j+1])
			}
		}
	}
}

func TestGuardContextCIDR(t *testing.T) {
	deny := readFilmsPolicy(EffectDeny)
	deny.Context = map[string]Rule{ContextIP: NewCIDR("10.0.0.0/8")}
	g := NewGuard(PolicySlice{deny})

	// the only policy is a deny restricted to 10/8; outside it nothing matches
	if g.IsAllowed(context.Background(), userInquiry("203.0.113.5")) {
		t.Fatalf("expected deny with no candidates")
	}
	if g.IsAllowed(context.Background(), userInquiry("10.1.1.1")) {
		t.Fatalf("expected deny from matching deny policy")
	}

	allow := readFilmsPolicy(EffectAllow)
	allow.Context = map[string]Rule{ContextIP: NewCIDR("10.0.0.0/8")}
	g = NewGuard(PolicySlice{allow})
	if !g.IsAllowed(context.Background(), userInquiry("10.1.1.1")) {
		t.Fatalf("expected allow inside network")
	}
	noIP := userInquiry("10.1.1.1")
	delete(noIP.Context, ContextIP)
	if g.IsAllowed(context.Background(), noIP) {
		t.Fatalf("missing context key must fail the policy")
	}
}

func TestGuardContextRuleErrorDenies(t *testing.T) {
	allow := readFilmsPolicy(EffectAllow)
	allow.Context = map[string]Rule{"groups": NewAllIn("staff")}
	other := readFilmsPolicy(EffectAllow)
	log := &recordingLogger{}
	g := NewGuard(PolicySlice{other, allow}, WithLogger(log))

	inq := userInquiry("10.0.0.1")
	inq.Context["groups"] = "staff"
	if g.IsAllowed(context.Background(), inq) {
		t.Fatalf("context rule error must deny the whole inquiry")
	}
	if !log.has("error inquiry check failed") {
		t.Fatalf("expected error log: %v", log.lines)
	}
}

func TestGuardTargetRuleErrorIsNotSatisfied(t *testing.T) {
	p := readFilmsPolicy(EffectAllow)
	p.Subjects = []Target{
		AttrTarget(map[string]Rule{"groups": NewAnyIn("staff")}),
		AttrTarget(map[string]Rule{SubjectIsUser: &Truthy{}}),
	}
	log := &recordingLogger{}
	g := NewGuard(PolicySlice{p}, WithLogger(log))

	inq := userInquiry("10.0.0.1")
	inq.Subject = map[string]any{SubjectIsUser: true, "groups": "staff"}
	if !g.IsAllowed(context.Background(), inq) {
		t.Fatalf("second subject target should still match")
	}
	if !log.has("warn rule evaluation failed") {
		t.Fatalf("expected warning for failing rule: %v", log.lines)
	}
}

func TestCheckerEdgeCases(t *testing.T) {
	c := NewRulesChecker(nil)
	p := &Policy{Subjects: []Target{AttrTarget(map[string]Rule{})}}
	if c.Fits(p, FieldSubject, map[string]any{}, nil) {
		t.Fatalf("empty attribute map must not match")
	}
	p = &Policy{}
	if c.Fits(p, FieldAction, "GET", nil) {
		t.Fatalf("empty target list must not match")
	}
	p = &Policy{Subjects: []Target{AttrTarget(map[string]Rule{"name": &Any{}})}}
	if c.Fits(p, FieldSubject, "max", nil) {
		t.Fatalf("attribute target must not match a scalar")
	}
	if !c.Fits(p, FieldSubject, map[string]any{"name": nil}, nil) {
		t.Fatalf("present key with Any should match")
	}
}

type failingSource struct{ after int }

func (s failingSource) Policies(context.Context) iter.Seq2[Policy, error] {
	return func(yield func(Policy, error) bool) {
		for i := 0; i < s.after; i++ {
			if !yield(readFilmsPolicy(EffectAllow), nil) {
				return
			}
		}
		yield(Policy{}, errors.New("connection reset"))
	}
}

func TestGuardSourceErrorDenies(t *testing.T) {
	g := NewGuard(failingSource{after: 2})
	if g.IsAllowed(context.Background(), userInquiry("10.0.0.1")) {
		t.Fatalf("source failure must deny")
	}
}

func TestGuardCancelledContextDenies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGuard(PolicySlice{readFilmsPolicy(EffectAllow)})
	if g.IsAllowed(ctx, userInquiry("10.0.0.1")) {
		t.Fatalf("cancelled context must deny")
	}
}
