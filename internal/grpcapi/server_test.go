package grpcapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"gatekeep.org/internal/admin"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/session"
	"gatekeep.org/internal/store/memory"
	"gatekeep.org/internal/token"
)

const (
	bufSize = 1024 * 1024
	ua      = "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"
)

type harness struct {
	client *Client
	conn   *grpc.ClientConn
	store  *memory.Store
}

func startBufGRPC(t *testing.T) *harness {
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
	authSvc, err := auth.NewService(store, authn)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	adminSvc, err := admin.NewService(store, store, authn)
	if err != nil {
		t.Fatalf("admin.NewService: %v", err)
	}
	srv, err := NewServer(Services{Auth: authSvc, Admin: adminSvc})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	listener := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(listener); err != nil {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		_ = listener.Close()
	})
	return &harness{client: NewClient(conn), conn: conn, store: store}
}

func signed(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return auth.ContextWithClient(ctx, auth.Client{IP: "203.0.113.5", UserAgent: ua})
}

func TestSignatureRequired(t *testing.T) {
	h := startBufGRPC(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := h.client.Auth().CheckToken(ctx, &AccessTokenRequest{AccessToken: "x"})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != invalidSignature {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := healthpb.NewHealthClient(h.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected health status: %v", resp.GetStatus())
	}
}

func TestLoginLogoutOverRPC(t *testing.T) {
	h := startBufGRPC(t)
	ctx := signed(t)

	created, err := h.client.User().Create(ctx, &CreateUserRequest{Email: "a@b.com", Password: "Secret123"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.UUID == "" || created.Email != "a@b.com" {
		t.Fatalf("unexpected create response %+v", created)
	}
	if _, err := h.client.User().Create(ctx, &CreateUserRequest{Email: "a@b.com", Password: "x"}); status.Code(err) != codes.AlreadyExists {
		t.Fatalf("duplicate email: expected AlreadyExists, got %v", err)
	}

	_, err = h.client.Auth().Login(ctx, &LoginRequest{Login: "a@b.com", Password: "WrongPass"})
	if status.Code(err) != codes.Unauthenticated || !errors.Is(err, auth.ErrUserPasswordInvalid) {
		t.Fatalf("wrong password: unexpected error %v", err)
	}

	pair, err := h.client.Auth().Login(ctx, &LoginRequest{Login: "a@b.com", Password: "Secret123"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "Bearer" || pair.ExpiresIn <= 0 {
		t.Fatalf("unexpected pair %+v", pair)
	}

	check, err := h.client.Auth().CheckToken(ctx, &AccessTokenRequest{AccessToken: pair.AccessToken})
	if err != nil || !check.Success {
		t.Fatalf("CheckToken: %+v %v", check, err)
	}

	history, err := h.client.User().GetLoginHistory(ctx, &LoginHistoryRequest{
		AccessToken: pair.AccessToken,
		PageRequest: PageRequest{PageNumber: 1},
	})
	if err != nil {
		t.Fatalf("GetLoginHistory: %v", err)
	}
	if len(history.Results) != 1 || history.Results[0].IPAddress != "203.0.113.5" || history.TotalPages != 1 {
		t.Fatalf("unexpected history %+v", history)
	}

	_, err = h.client.Auth().UpdatePassword(ctx, &UpdatePasswordRequest{AccessToken: pair.AccessToken, Password: "Secret123"})
	if status.Code(err) != codes.InvalidArgument || !errors.Is(err, auth.ErrUserPasswordUpdateSame) {
		t.Fatalf("same password: unexpected error %v", err)
	}

	if _, err := h.client.Auth().Logout(ctx, &AccessTokenRequest{AccessToken: pair.AccessToken}); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	check, err = h.client.Auth().CheckToken(ctx, &AccessTokenRequest{AccessToken: pair.AccessToken})
	if err != nil || check.Success {
		t.Fatalf("CheckToken after logout: %+v %v", check, err)
	}
	_, err = h.client.User().GetUserMe(ctx, &AccessTokenRequest{AccessToken: pair.AccessToken})
	if status.Code(err) != codes.Unauthenticated || !errors.Is(err, token.ErrAccessTokenBanned) {
		t.Fatalf("banned token: unexpected error %v", err)
	}
}

func TestAdminOverRPC(t *testing.T) {
	h := startBufGRPC(t)
	ctx := signed(t)

	hash, err := auth.HashPassword("root-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h.store.Put(auth.User{ID: "root", Email: "root@b.com", PasswordHash: hash, IsActive: true, IsSuperuser: true})
	pair, err := h.client.Auth().Login(ctx, &LoginRequest{Login: "root@b.com", Password: "root-pass"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	policy := `{"description":"public films","effect":"allow",` +
		`"subjects":[{"rule_type":"RuleAny"}],` +
		`"resources":[{"rule_type":"Eq","value":"/films"}],` +
		`"actions":[{"rule_type":"Eq","value":"GET"}]}`
	created, err := h.client.AdminRole().CreatePolicy(ctx, &CreatePolicyRequest{AccessToken: pair.AccessToken, Policy: Document(policy)})
	if err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	_, err = h.client.AdminRole().CreatePolicy(ctx, &CreatePolicyRequest{AccessToken: pair.AccessToken, Policy: Document(policy)})
	if status.Code(err) != codes.AlreadyExists || !errors.Is(err, admin.ErrPolicyAlreadyExists) {
		t.Fatalf("duplicate policy: unexpected error %v", err)
	}
	_, err = h.client.AdminRole().CreatePolicy(ctx, &CreatePolicyRequest{AccessToken: pair.AccessToken, Policy: Document(`{"effect":"allow"}`)})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("bad policy: expected InvalidArgument, got %v", err)
	}

	got, err := h.client.AdminRole().GetPolicy(ctx, &PolicyRequest{AccessToken: pair.AccessToken, ID: created.ID})
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if got.Policy == "" {
		t.Fatalf("empty policy")
	}
	list, err := h.client.AdminRole().GetPolicyList(ctx, &GetPolicyListRequest{AccessToken: pair.AccessToken, PageRequest: PageRequest{PageNumber: 1}})
	if err != nil || len(list.Policy) != 1 || list.TotalCount != 1 {
		t.Fatalf("GetPolicyList: %+v %v", list, err)
	}

	anon := func(resource string) bool {
		t.Helper()
		resp, err := h.client.AdminRole().CheckAccess(ctx, &CheckAccessRequest{
			Inquiry: Document(`{"resource":"` + resource + `","action":"GET"}`),
		})
		if err != nil {
			t.Fatalf("CheckAccess: %v", err)
		}
		return resp.HasAccess
	}
	if !anon("/films") {
		t.Fatalf("anonymous GET /films should be allowed")
	}
	if anon("/admin") {
		t.Fatalf("anonymous GET /admin should be denied")
	}

	// a plain user is turned away from admin calls as unauthenticated
	if _, err := h.client.User().Create(ctx, &CreateUserRequest{Email: "u@b.com", Password: "pw"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	userPair, err := h.client.Auth().Login(ctx, &LoginRequest{Login: "u@b.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	_, err = h.client.AdminRole().GetUserList(ctx, &GetUserListRequest{AccessToken: userPair.AccessToken, PageRequest: PageRequest{PageNumber: 1}})
	if status.Code(err) != codes.Unauthenticated || !errors.Is(err, auth.ErrUserNotSuperuser) {
		t.Fatalf("non-superuser: unexpected error %v", err)
	}

	users, err := h.client.AdminRole().GetUserList(ctx, &GetUserListRequest{AccessToken: pair.AccessToken, PageRequest: PageRequest{PageNumber: 1, PageSize: 1}})
	if err != nil {
		t.Fatalf("GetUserList: %v", err)
	}
	if len(users.Results) != 1 || users.TotalPages != 2 || users.NextPage == nil || *users.NextPage != 2 || users.PrevPage != nil {
		t.Fatalf("unexpected user page %+v", users)
	}

	if _, err := h.client.AdminRole().DeletePolicy(ctx, &PolicyRequest{AccessToken: pair.AccessToken, ID: created.ID}); err != nil {
		t.Fatalf("DeletePolicy: %v", err)
	}
	_, err = h.client.AdminRole().GetPolicy(ctx, &PolicyRequest{AccessToken: pair.AccessToken, ID: created.ID})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("deleted policy: expected NotFound, got %v", err)
	}
}
