package admin_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gatekeep.org/internal/abac"
	"gatekeep.org/internal/admin"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/cache"
	"gatekeep.org/internal/session"
	"gatekeep.org/internal/store/memory"
	"gatekeep.org/internal/token"
)

const ua = "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"

const (
	allowUsersPolicy = `{
		"description": "users read films",
		"effect": "allow",
		"subjects": [{"is_user": {"rule_type": "Eq", "value": true}}],
		"resources": [{"path": {"rule_type": "Eq", "value": "/films"}}],
		"actions": [{"rule_type": "Eq", "value": "GET"}]
	}`
	denyOfficePolicy = `{
		"description": "deny office network",
		"effect": "deny",
		"subjects": [{"rule_type": "RuleAny"}],
		"resources": [{"rule_type": "RuleAny"}],
		"actions": [{"rule_type": "RuleAny"}],
		"context": {"ip": {"rule_type": "CIDR", "cidr": "10.0.0.0/8"}}
	}`
)

type harness struct {
	svc   *admin.Service
	store *memory.Store
	authn *auth.Authenticator
	mr    *miniredis.Miniredis
}

func newHarness(t *testing.T, withCache bool) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens, err := token.NewService("test-secret")
	if err != nil {
		t.Fatalf("token.NewService: %v", err)
	}
	store := memory.New()
	authn, err := auth.NewAuthenticator(tokens, session.NewStore(rdb), store)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	var opts []admin.Option
	if withCache {
		c, err := cache.New(rdb, cache.WithLocalMaxCost(0))
		if err != nil {
			t.Fatalf("cache.New: %v", err)
		}
		t.Cleanup(c.Close)
		opts = append(opts, admin.WithCheckAccessCache(c, 30*time.Second))
	}
	svc, err := admin.NewService(store, store, authn, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &harness{svc: svc, store: store, authn: authn, mr: mr}
}

// user seeds an account and returns an access token for it.
func (h *harness) user(t *testing.T, email string, active, superuser bool) (string, string) {
	t.Helper()
	id := uuid.NewString()
	h.store.Put(auth.User{ID: id, Email: email, IsActive: active, IsSuperuser: superuser, CreatedAt: time.Now()})
	pair, err := h.authn.IssueSession(context.Background(), id, ua)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	return id, pair.AccessToken
}

func TestSuperuserGate(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	c := auth.Client{UserAgent: ua}
	_, plain := h.user(t, "user@b.com", true, false)
	_, disabled := h.user(t, "off@b.com", false, true)

	for name, tok := range map[string]string{"plain": plain, "disabled": disabled} {
		if _, err := h.svc.GetUserList(ctx, tok, c, 1, 10); !errors.Is(err, auth.ErrUserNotSuperuser) {
			t.Fatalf("%s: expected ErrUserNotSuperuser, got %v", name, err)
		}
		if _, err := h.svc.CreatePolicy(ctx, tok, []byte(allowUsersPolicy), c); !errors.Is(err, auth.ErrUserNotSuperuser) {
			t.Fatalf("%s: expected ErrUserNotSuperuser, got %v", name, err)
		}
	}
	if _, err := h.svc.GetUserList(ctx, "garbage", c, 1, 10); !errors.Is(err, token.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestPolicyCRUD(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	c := auth.Client{UserAgent: ua}
	_, root := h.user(t, "root@b.com", true, true)

	id, err := h.svc.CreatePolicy(ctx, root, []byte(`{"description":"test","effect":"allow","actions":[{"rule_type":"Eq","value":"GET"}]}`), c)
	if err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	if _, err := h.svc.CreatePolicy(ctx, root, []byte(`{"description":"test","effect":"allow","actions":[{"rule_type":"Eq","value":"GET"}]}`), c); !errors.Is(err, admin.ErrPolicyAlreadyExists) {
		t.Fatalf("expected ErrPolicyAlreadyExists, got %v", err)
	}
	if _, err := h.svc.CreatePolicy(ctx, root, []byte(`{"effect":"allow"}`), c); !errors.Is(err, admin.ErrPolicyBadFormatted) {
		t.Fatalf("expected ErrPolicyBadFormatted, got %v", err)
	}
	if _, err := h.svc.CreatePolicy(ctx, root, []byte(`{"description":"x","actions":[{"rule_type":"Nope"}]}`), c); !errors.Is(err, admin.ErrPolicyBadFormatted) {
		t.Fatalf("expected ErrPolicyBadFormatted for unknown rule, got %v", err)
	}

	doc, err := h.svc.GetPolicy(ctx, root, id.String(), c)
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	got, err := abac.DecodePolicy([]byte(doc))
	if err != nil {
		t.Fatalf("stored policy does not decode: %v", err)
	}
	if got.ID != id || got.Description != "test" || got.Effect != abac.EffectAllow {
		t.Fatalf("unexpected policy %+v", got)
	}

	if err := h.svc.UpdatePolicy(ctx, root, id.String(), []byte(`{"description":"renamed","effect":"deny"}`), c); err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}
	doc, _ = h.svc.GetPolicy(ctx, root, id.String(), c)
	if !strings.Contains(doc, `"renamed"`) || !strings.Contains(doc, `"deny"`) {
		t.Fatalf("update not visible: %s", doc)
	}
	missing := uuid.NewString()
	if err := h.svc.UpdatePolicy(ctx, root, missing, []byte(`{"description":"y"}`), c); !errors.Is(err, admin.ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
	if _, err := h.svc.GetPolicy(ctx, root, "not-a-uuid", c); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	page, err := h.svc.GetPolicyList(ctx, root, c, 1, 0)
	if err != nil {
		t.Fatalf("GetPolicyList: %v", err)
	}
	if page.TotalCount != 1 || len(page.Items) != 1 || page.TotalPages != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	if _, err := h.svc.GetPolicyList(ctx, root, c, 2, 0); !errors.Is(err, admin.ErrPolicyListPageNotFound) {
		t.Fatalf("expected ErrPolicyListPageNotFound, got %v", err)
	}

	if err := h.svc.DeletePolicy(ctx, root, id.String(), c); err != nil {
		t.Fatalf("DeletePolicy: %v", err)
	}
	if err := h.svc.DeletePolicy(ctx, root, id.String(), c); !errors.Is(err, admin.ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
	if _, err := h.svc.GetPolicy(ctx, root, id.String(), c); !errors.Is(err, admin.ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestGetUserReturnsTargetAccounts(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	c := auth.Client{UserAgent: ua}
	_, root := h.user(t, "root@b.com", true, true)
	target, _ := h.user(t, "target@b.com", true, false)
	if err := h.store.OAuthAccounts(ctx).Attach(ctx, auth.OAuthAccount{UserID: target, Provider: auth.ProviderYandex, AccountID: "ya-1"}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	profile, err := h.svc.GetUser(ctx, root, target, c)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if profile.User.Email != "target@b.com" || len(profile.OAuthAccounts) != 1 || profile.OAuthAccounts[0].AccountID != "ya-1" {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if _, err := h.svc.GetUser(ctx, root, uuid.NewString(), c); !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	page, err := h.svc.GetUserList(ctx, root, c, 1, 1)
	if err != nil {
		t.Fatalf("GetUserList: %v", err)
	}
	if page.TotalCount != 2 || page.TotalPages != 2 || page.NextPage == nil {
		t.Fatalf("unexpected page %+v", page)
	}
	if _, err := h.svc.GetUserList(ctx, root, c, 3, 1); !errors.Is(err, auth.ErrUserListPageNotFound) {
		t.Fatalf("expected ErrUserListPageNotFound, got %v", err)
	}
}

func TestCheckAccess(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	_, root := h.user(t, "root@b.com", true, true)
	_, member := h.user(t, "member@b.com", true, false)
	admins := auth.Client{UserAgent: ua}
	if _, err := h.svc.CreatePolicy(ctx, root, []byte(denyOfficePolicy), admins); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}

	films := map[string]any{
		"resource": map[string]any{"path": "/films"},
		"action":   "GET",
	}
	outside := auth.Client{IP: "203.0.113.5", UserAgent: ua}
	office := auth.Client{IP: "10.1.2.3", UserAgent: ua}

	check := func(tok string, c auth.Client) bool {
		t.Helper()
		ok, err := h.svc.CheckAccess(ctx, tok, films, c)
		if err != nil {
			t.Fatalf("CheckAccess: %v", err)
		}
		return ok
	}

	if check(member, outside) {
		t.Fatalf("deny policy whose context does not match must leave no candidates")
	}
	if !check(root, office) {
		t.Fatalf("superuser must bypass the guard")
	}

	if _, err := h.svc.CreatePolicy(ctx, root, []byte(allowUsersPolicy), admins); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	if !check(member, outside) {
		t.Fatalf("user outside office should be allowed")
	}
	if check(member, office) {
		t.Fatalf("deny must override allow")
	}
	if check("", outside) {
		t.Fatalf("anonymous caller must not match is_user policy")
	}
	if check("expired-or-garbage", outside) {
		t.Fatalf("bad token must be treated as anonymous")
	}
}

func TestCheckAccessIsCached(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, root := h.user(t, "root@b.com", true, true)
	_, member := h.user(t, "member@b.com", true, false)
	c := auth.Client{IP: "203.0.113.5", UserAgent: ua}
	id, err := h.svc.CreatePolicy(ctx, root, []byte(allowUsersPolicy), c)
	if err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	inq := map[string]any{"resource": map[string]any{"path": "/films"}, "action": "GET"}

	if ok, err := h.svc.CheckAccess(ctx, member, inq, c); err != nil || !ok {
		t.Fatalf("CheckAccess=%v,%v", ok, err)
	}
	if err := h.svc.DeletePolicy(ctx, root, id.String(), c); err != nil {
		t.Fatalf("DeletePolicy: %v", err)
	}
	if ok, _ := h.svc.CheckAccess(ctx, member, inq, c); !ok {
		t.Fatalf("answer should be served from cache")
	}
	other := auth.Client{IP: "203.0.113.6", UserAgent: ua}
	if ok, _ := h.svc.CheckAccess(ctx, member, inq, other); ok {
		t.Fatalf("a different context must not share the cached answer")
	}
	h.mr.FastForward(31 * time.Second)
	if ok, _ := h.svc.CheckAccess(ctx, member, inq, c); ok {
		t.Fatalf("cached answer should have expired")
	}
}
