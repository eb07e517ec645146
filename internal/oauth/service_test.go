package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/session"
	"gatekeep.org/internal/store/memory"
	"gatekeep.org/internal/token"
)

const (
	ua       = "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"
	callback = "https://app.example.com/oauth/google/callback"
)

type fakeGoogle struct {
	accounts map[string]Account // code -> identity
}

func (f *fakeGoogle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/token":
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		code := r.Form.Get("code")
		if _, ok := f.accounts[code]; !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-" + code,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	case "/userinfo":
		const prefix = "Bearer at-"
		h := r.Header.Get("Authorization")
		if len(h) <= len(prefix) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		acc, ok := f.accounts[h[len(prefix):]]
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sub": acc.ID, "email": acc.Email})
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	svc   *Service
	store *memory.Store
	authn *auth.Authenticator
	mr    *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	google := &fakeGoogle{accounts: map[string]Account{
		"code-new":      {ID: "g-new", Email: "new@b.com"},
		"code-existing": {ID: "g-existing", Email: "existing@b.com"},
		"code-attach":   {ID: "g-attach", Email: "whatever@b.com"},
		"code-attach-2": {ID: "g-attach-2", Email: "whatever2@b.com"},
	}}
	srv := httptest.NewServer(google)
	t.Cleanup(srv.Close)

	provider, err := NewProvider(auth.ProviderGoogle, ProviderConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      srv.URL + "/auth",
		TokenURL:     srv.URL + "/token",
		UserInfoURL:  srv.URL + "/userinfo",
	}, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	tokens, err := token.NewService("test-secret")
	if err != nil {
		t.Fatalf("token.NewService: %v", err)
	}
	store := memory.New()
	authn, err := auth.NewAuthenticator(tokens, session.NewStore(rdb), store)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	svc, err := NewService(provider, NewStateStore(rdb, 0), store, authn)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &harness{svc: svc, store: store, authn: authn, mr: mr}
}

func (h *harness) state(t *testing.T, accessToken string) string {
	t.Helper()
	res, err := h.svc.GetProviderLoginURL(context.Background(), callback, accessToken, auth.Client{UserAgent: ua})
	if err != nil {
		t.Fatalf("GetProviderLoginURL: %v", err)
	}
	return res.StateToken
}

func TestLoginURL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := auth.Client{UserAgent: ua}

	if _, err := h.svc.GetProviderLoginURL(ctx, "/relative", "", c); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := h.svc.GetProviderLoginURL(ctx, callback, "garbage", c); !errors.Is(err, token.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	res, err := h.svc.GetProviderLoginURL(ctx, callback, "", c)
	if err != nil {
		t.Fatalf("GetProviderLoginURL: %v", err)
	}
	u, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("bad url %q: %v", res.URL, err)
	}
	q := u.Query()
	if q.Get("state") != res.StateToken || q.Get("redirect_uri") != callback || q.Get("client_id") != "client" {
		t.Fatalf("unexpected auth url %s", res.URL)
	}
	key := stateKeyPrefix + res.StateToken
	if !h.mr.Exists(key) {
		t.Fatalf("state not stored under %s", key)
	}
	if ttl := h.mr.TTL(key); ttl != DefaultStateTTL {
		t.Fatalf("state ttl=%v", ttl)
	}
}

func TestLoginCreatesUserAndStateIsOneShot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := auth.Client{IP: "203.0.113.5", UserAgent: ua}
	state := h.state(t, "")

	pair, err := h.svc.Login(ctx, "code-new", state, c)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.TokenType != token.BearerType {
		t.Fatalf("unexpected pair %+v", pair)
	}
	if _, err := h.svc.Login(ctx, "code-new", state, c); !errors.Is(err, ErrStateTokenIncorrect) {
		t.Fatalf("reused state: expected ErrStateTokenIncorrect, got %v", err)
	}

	u, err := h.store.Users(ctx).FindByEmail(ctx, "new@b.com")
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	linked, err := h.store.OAuthAccounts(ctx).FindUserID(ctx, auth.ProviderGoogle, "g-new")
	if err != nil || linked != u.ID {
		t.Fatalf("account not linked: %q %v", linked, err)
	}
	rows, _ := h.store.LoginHistory(ctx).List(ctx, u.ID, 0, 10)
	if len(rows) != 1 || !rows[0].IsActive || rows[0].IPAddress != "203.0.113.5" {
		t.Fatalf("unexpected history %+v", rows)
	}

	// second login resolves through the link, no new user
	if _, err := h.svc.Login(ctx, "code-new", h.state(t, ""), c); err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if n, _ := h.store.Users(ctx).Count(ctx); n != 1 {
		t.Fatalf("users=%d, want 1", n)
	}
}

func TestLoginLinksExistingEmailAndRejectsDisabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := auth.Client{UserAgent: ua}
	h.store.Put(auth.User{ID: "u-existing", Email: "existing@b.com", IsActive: false})

	if _, err := h.svc.Login(ctx, "code-existing", h.state(t, ""), c); !errors.Is(err, auth.ErrUserDisabled) {
		t.Fatalf("expected ErrUserDisabled, got %v", err)
	}
	linked, err := h.store.OAuthAccounts(ctx).FindUserID(ctx, auth.ProviderGoogle, "g-existing")
	if err != nil || linked != "u-existing" {
		t.Fatalf("account should be linked to the existing user: %q %v", linked, err)
	}
}

func TestLoginFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := auth.Client{UserAgent: ua}

	if _, err := h.svc.Login(ctx, "code-new", "no-such-state", c); !errors.Is(err, ErrStateTokenIncorrect) {
		t.Fatalf("expected ErrStateTokenIncorrect, got %v", err)
	}
	if _, err := h.svc.Login(ctx, "unknown-code", h.state(t, ""), c); !errors.Is(err, ErrProviderResponse) {
		t.Fatalf("expected ErrProviderResponse, got %v", err)
	}
	if _, err := h.svc.Login(ctx, "", h.state(t, ""), c); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	state := h.state(t, "")
	h.mr.FastForward(DefaultStateTTL + time.Second)
	if _, err := h.svc.Login(ctx, "code-new", state, c); !errors.Is(err, ErrStateTokenIncorrect) {
		t.Fatalf("expired state: expected ErrStateTokenIncorrect, got %v", err)
	}
}

func TestAttachAndDetach(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := auth.Client{UserAgent: ua}
	h.store.Put(auth.User{ID: "u1", Email: "u1@b.com", IsActive: true})
	pair, err := h.authn.IssueSession(ctx, "u1", ua)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	if err := h.svc.AttachAccountToUser(ctx, "code-attach", h.state(t, ""), pair.AccessToken, c); !errors.Is(err, ErrStateTokenCollision) {
		t.Fatalf("anonymous state: expected ErrStateTokenCollision, got %v", err)
	}
	if err := h.svc.AttachAccountToUser(ctx, "code-attach", h.state(t, pair.AccessToken), pair.AccessToken, c); err != nil {
		t.Fatalf("AttachAccountToUser: %v", err)
	}
	if err := h.svc.AttachAccountToUser(ctx, "code-attach-2", h.state(t, pair.AccessToken), pair.AccessToken, c); !errors.Is(err, ErrProviderAccountCollision) {
		t.Fatalf("second account for same provider: expected ErrProviderAccountCollision, got %v", err)
	}
	accounts, _ := h.store.OAuthAccounts(ctx).ListByUser(ctx, "u1")
	if len(accounts) != 1 || accounts[0].AccountID != "g-attach" {
		t.Fatalf("unexpected accounts %+v", accounts)
	}

	if err := h.svc.DetachAccountFromUser(ctx, pair.AccessToken, c); err != nil {
		t.Fatalf("DetachAccountFromUser: %v", err)
	}
	if err := h.svc.DetachAccountFromUser(ctx, pair.AccessToken, c); !errors.Is(err, ErrProviderAccountNotAttached) {
		t.Fatalf("expected ErrProviderAccountNotAttached, got %v", err)
	}
	if err := h.svc.DetachAccountFromUser(ctx, "garbage", c); !errors.Is(err, token.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	if _, err := NewProvider("github", ProviderConfig{ClientID: "x"}); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if _, err := NewProvider(auth.ProviderYandex, ProviderConfig{}); err == nil {
		t.Fatalf("missing client id accepted")
	}
}
