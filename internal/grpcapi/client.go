package grpcapi

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/token"
)

// Client is a connection to the service speaking the JSON codec.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a new client; without options it uses insecure transport.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client { return &Client{conn: conn} }

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) Auth() *AuthClient           { return &AuthClient{c.conn} }
func (c *Client) User() *UserClient           { return &UserClient{c.conn} }
func (c *Client) AdminRole() *AdminRoleClient { return &AdminRoleClient{c.conn} }
func (c *Client) OAuth(p auth.Provider) *OAuthClient {
	return &OAuthClient{cc: c.conn, service: OAuthServiceName(p)}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(outgoingWithIdentity(ctx), method, in, out, opts...); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// outgoingWithIdentity forwards the auth.Client on ctx as signature metadata.
func outgoingWithIdentity(ctx context.Context) context.Context {
	c, ok := auth.ClientFromContext(ctx)
	if !ok {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, MetadataIP, c.IP, MetadataUserAgent, c.UserAgent)
}

// remoteError keeps both the status and the domain sentinel it stands for,
// so status.Code and errors.Is work on the same value.
type remoteError struct {
	st       *status.Status
	sentinel error
}

func (e *remoteError) Error() string              { return e.st.Message() }
func (e *remoteError) Unwrap() error              { return e.sentinel }
func (e *remoteError) GRPCStatus() *status.Status { return e.st }

// mapError restores the domain sentinel behind a status. Unknown statuses
// pass through.
func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	for _, e := range knownErrors() {
		text := e.Error()
		if msg == text || strings.HasPrefix(msg, text+":") {
			return &remoteError{st: st, sentinel: e}
		}
	}
	return err
}

func knownErrors() []error {
	out := []error{
		token.ErrTokenInvalid, token.ErrTokenExpired, token.ErrTokenInvalidUserAgent,
		token.ErrAccessTokenBanned, token.ErrAccessTokenAsRefresh, token.ErrRefreshTokenAsAccess,
		token.ErrRefreshTokenUnknown,
	}
	for _, class := range errorClasses {
		out = append(out, class.errs...)
	}
	return out
}

type AuthClient struct{ cc grpc.ClientConnInterface }

func (c *AuthClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*TokenPair, error) {
	return invoke[TokenPair](ctx, c.cc, "/"+AuthServiceName+"/Login", in, opts)
}

func (c *AuthClient) RefreshToken(ctx context.Context, in *RefreshTokenRequest, opts ...grpc.CallOption) (*TokenPair, error) {
	return invoke[TokenPair](ctx, c.cc, "/"+AuthServiceName+"/RefreshToken", in, opts)
}

func (c *AuthClient) Logout(ctx context.Context, in *AccessTokenRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "/"+AuthServiceName+"/Logout", in, opts)
}

func (c *AuthClient) LogoutOther(ctx context.Context, in *AccessTokenRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "/"+AuthServiceName+"/LogoutOther", in, opts)
}

func (c *AuthClient) UpdatePassword(ctx context.Context, in *UpdatePasswordRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "/"+AuthServiceName+"/UpdatePassword", in, opts)
}

func (c *AuthClient) UpdateEmail(ctx context.Context, in *UpdateEmailRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "/"+AuthServiceName+"/UpdateEmail", in, opts)
}

func (c *AuthClient) CheckToken(ctx context.Context, in *AccessTokenRequest, opts ...grpc.CallOption) (*CheckTokenResponse, error) {
	return invoke[CheckTokenResponse](ctx, c.cc, "/"+AuthServiceName+"/CheckToken", in, opts)
}

type UserClient struct{ cc grpc.ClientConnInterface }

func (c *UserClient) Create(ctx context.Context, in *CreateUserRequest, opts ...grpc.CallOption) (*CreateUserResponse, error) {
	return invoke[CreateUserResponse](ctx, c.cc, "/"+UserServiceName+"/Create", in, opts)
}

func (c *UserClient) GetLoginHistory(ctx context.Context, in *LoginHistoryRequest, opts ...grpc.CallOption) (*LoginHistoryResponse, error) {
	return invoke[LoginHistoryResponse](ctx, c.cc, "/"+UserServiceName+"/GetLoginHistory", in, opts)
}

func (c *UserClient) GetUserMe(ctx context.Context, in *AccessTokenRequest, opts ...grpc.CallOption) (*UserMeResponse, error) {
	return invoke[UserMeResponse](ctx, c.cc, "/"+UserServiceName+"/GetUserMe", in, opts)
}

type AdminRoleClient struct{ cc grpc.ClientConnInterface }

func (c *AdminRoleClient) GetUser(ctx context.Context, in *GetUserRequest, opts ...grpc.CallOption) (*GetUserResponse, error) {
	return invoke[GetUserResponse](ctx, c.cc, "/"+AdminRoleServiceName+"/GetUser", in, opts)
}

func (c *AdminRoleClient) GetUserList(ctx context.Context, in *GetUserListRequest, opts ...grpc.CallOption) (*GetUserListResponse, error) {
	return invoke[GetUserListResponse](ctx, c.cc, "/"+AdminRoleServiceName+"/GetUserList", in, opts)
}

func (c *AdminRoleClient) CreatePolicy(ctx context.Context, in *CreatePolicyRequest, opts ...grpc.CallOption) (*CreatePolicyResponse, error) {
	return invoke[CreatePolicyResponse](ctx, c.cc, "/"+AdminRoleServiceName+"/CreatePolicy", in, opts)
}

func (c *AdminRoleClient) UpdatePolicy(ctx context.Context, in *UpdatePolicyRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "/"+AdminRoleServiceName+"/UpdatePolicy", in, opts)
}

func (c *AdminRoleClient) DeletePolicy(ctx context.Context, in *PolicyRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "/"+AdminRoleServiceName+"/DeletePolicy", in, opts)
}

func (c *AdminRoleClient) GetPolicy(ctx context.Context, in *PolicyRequest, opts ...grpc.CallOption) (*GetPolicyResponse, error) {
	return invoke[GetPolicyResponse](ctx, c.cc, "/"+AdminRoleServiceName+"/GetPolicy", in, opts)
}

func (c *AdminRoleClient) GetPolicyList(ctx context.Context, in *GetPolicyListRequest, opts ...grpc.CallOption) (*GetPolicyListResponse, error) {
	return invoke[GetPolicyListResponse](ctx, c.cc, "/"+AdminRoleServiceName+"/GetPolicyList", in, opts)
}

func (c *AdminRoleClient) CheckAccess(ctx context.Context, in *CheckAccessRequest, opts ...grpc.CallOption) (*CheckAccessResponse, error) {
	return invoke[CheckAccessResponse](ctx, c.cc, "/"+AdminRoleServiceName+"/CheckAccess", in, opts)
}

type OAuthClient struct {
	cc      grpc.ClientConnInterface
	service string
}

func (c *OAuthClient) GetProviderLoginURL(ctx context.Context, in *ProviderLoginURLRequest, opts ...grpc.CallOption) (*ProviderLoginURLResponse, error) {
	return invoke[ProviderLoginURLResponse](ctx, c.cc, "/"+c.service+"/GetProviderLoginURL", in, opts)
}

func (c *OAuthClient) Login(ctx context.Context, in *OAuthLoginRequest, opts ...grpc.CallOption) (*TokenPair, error) {
	return invoke[TokenPair](ctx, c.cc, "/"+c.service+"/Login", in, opts)
}

func (c *OAuthClient) AttachAccountToUser(ctx context.Context, in *AttachAccountRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "/"+c.service+"/AttachAccountToUser", in, opts)
}

func (c *OAuthClient) DetachAccountFromUser(ctx context.Context, in *AccessTokenRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "/"+c.service+"/DetachAccountFromUser", in, opts)
}

// WithTimeout returns a context with a default timeout for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
