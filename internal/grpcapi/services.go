package grpcapi

import (
	"context"
	"strings"

	"google.golang.org/grpc"

	"gatekeep.org/internal/auth"
)

const (
	AuthServiceName      = "gatekeep.v1.Auth"
	UserServiceName      = "gatekeep.v1.User"
	AdminRoleServiceName = "gatekeep.v1.AdminRole"
)

// OAuthServiceName names the per-provider OAuth service, e.g. gatekeep.v1.OAuthGoogle.
func OAuthServiceName(p auth.Provider) string {
	name := string(p)
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return "gatekeep.v1.OAuth" + name
}

type AuthServer interface {
	Login(context.Context, *LoginRequest) (*TokenPair, error)
	RefreshToken(context.Context, *RefreshTokenRequest) (*TokenPair, error)
	Logout(context.Context, *AccessTokenRequest) (*Empty, error)
	LogoutOther(context.Context, *AccessTokenRequest) (*Empty, error)
	UpdatePassword(context.Context, *UpdatePasswordRequest) (*Empty, error)
	UpdateEmail(context.Context, *UpdateEmailRequest) (*Empty, error)
	CheckToken(context.Context, *AccessTokenRequest) (*CheckTokenResponse, error)
}

type UserServer interface {
	Create(context.Context, *CreateUserRequest) (*CreateUserResponse, error)
	GetLoginHistory(context.Context, *LoginHistoryRequest) (*LoginHistoryResponse, error)
	GetUserMe(context.Context, *AccessTokenRequest) (*UserMeResponse, error)
}

type AdminRoleServer interface {
	GetUser(context.Context, *GetUserRequest) (*GetUserResponse, error)
	GetUserList(context.Context, *GetUserListRequest) (*GetUserListResponse, error)
	CreatePolicy(context.Context, *CreatePolicyRequest) (*CreatePolicyResponse, error)
	UpdatePolicy(context.Context, *UpdatePolicyRequest) (*Empty, error)
	DeletePolicy(context.Context, *PolicyRequest) (*Empty, error)
	GetPolicy(context.Context, *PolicyRequest) (*GetPolicyResponse, error)
	GetPolicyList(context.Context, *GetPolicyListRequest) (*GetPolicyListResponse, error)
	CheckAccess(context.Context, *CheckAccessRequest) (*CheckAccessResponse, error)
}

type OAuthServer interface {
	GetProviderLoginURL(context.Context, *ProviderLoginURLRequest) (*ProviderLoginURLResponse, error)
	Login(context.Context, *OAuthLoginRequest) (*TokenPair, error)
	AttachAccountToUser(context.Context, *AttachAccountRequest) (*Empty, error)
	DetachAccountFromUser(context.Context, *AccessTokenRequest) (*Empty, error)
}

// unary builds a method descriptor the way protoc-gen-go-grpc does, with the
// server interface method expression as the call.
func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func authServiceDesc() *grpc.ServiceDesc {
	const s = AuthServiceName
	return &grpc.ServiceDesc{
		ServiceName: s,
		HandlerType: (*AuthServer)(nil),
		Methods: []grpc.MethodDesc{
			unary(s, "Login", AuthServer.Login),
			unary(s, "RefreshToken", AuthServer.RefreshToken),
			unary(s, "Logout", AuthServer.Logout),
			unary(s, "LogoutOther", AuthServer.LogoutOther),
			unary(s, "UpdatePassword", AuthServer.UpdatePassword),
			unary(s, "UpdateEmail", AuthServer.UpdateEmail),
			unary(s, "CheckToken", AuthServer.CheckToken),
		},
		Metadata: "gatekeep/v1/auth.json",
	}
}

func userServiceDesc() *grpc.ServiceDesc {
	const s = UserServiceName
	return &grpc.ServiceDesc{
		ServiceName: s,
		HandlerType: (*UserServer)(nil),
		Methods: []grpc.MethodDesc{
			unary(s, "Create", UserServer.Create),
			unary(s, "GetLoginHistory", UserServer.GetLoginHistory),
			unary(s, "GetUserMe", UserServer.GetUserMe),
		},
		Metadata: "gatekeep/v1/user.json",
	}
}

func adminRoleServiceDesc() *grpc.ServiceDesc {
	const s = AdminRoleServiceName
	return &grpc.ServiceDesc{
		ServiceName: s,
		HandlerType: (*AdminRoleServer)(nil),
		Methods: []grpc.MethodDesc{
			unary(s, "GetUser", AdminRoleServer.GetUser),
			unary(s, "GetUserList", AdminRoleServer.GetUserList),
			unary(s, "CreatePolicy", AdminRoleServer.CreatePolicy),
			unary(s, "UpdatePolicy", AdminRoleServer.UpdatePolicy),
			unary(s, "DeletePolicy", AdminRoleServer.DeletePolicy),
			unary(s, "GetPolicy", AdminRoleServer.GetPolicy),
			unary(s, "GetPolicyList", AdminRoleServer.GetPolicyList),
			unary(s, "CheckAccess", AdminRoleServer.CheckAccess),
		},
		Metadata: "gatekeep/v1/admin_role.json",
	}
}

func oauthServiceDesc(p auth.Provider) *grpc.ServiceDesc {
	s := OAuthServiceName(p)
	return &grpc.ServiceDesc{
		ServiceName: s,
		HandlerType: (*OAuthServer)(nil),
		Methods: []grpc.MethodDesc{
			unary(s, "GetProviderLoginURL", OAuthServer.GetProviderLoginURL),
			unary(s, "Login", OAuthServer.Login),
			unary(s, "AttachAccountToUser", OAuthServer.AttachAccountToUser),
			unary(s, "DetachAccountFromUser", OAuthServer.DetachAccountFromUser),
		},
		Metadata: "gatekeep/v1/oauth.json",
	}
}

func RegisterAuthServer(s grpc.ServiceRegistrar, srv AuthServer) {
	s.RegisterService(authServiceDesc(), srv)
}

func RegisterUserServer(s grpc.ServiceRegistrar, srv UserServer) {
	s.RegisterService(userServiceDesc(), srv)
}

func RegisterAdminRoleServer(s grpc.ServiceRegistrar, srv AdminRoleServer) {
	s.RegisterService(adminRoleServiceDesc(), srv)
}

func RegisterOAuthServer(s grpc.ServiceRegistrar, p auth.Provider, srv OAuthServer) {
	s.RegisterService(oauthServiceDesc(p), srv)
}
