package grpcapi

import (
	"context"
	"encoding/json"
	"fmt"

	"gatekeep.org/internal/admin"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/oauth"
	"gatekeep.org/internal/token"
)

func client(ctx context.Context) auth.Client {
	c, _ := auth.ClientFromContext(ctx)
	return c
}

func tokenPair(p token.Pair) *TokenPair {
	return &TokenPair{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    p.ExpiresIn,
		TokenType:    p.TokenType,
	}
}

func pageInfo[T any](p auth.Page[T]) PageInfo {
	return PageInfo{
		TotalCount: p.TotalCount,
		TotalPages: p.TotalPages,
		PrevPage:   p.PrevPage,
		NextPage:   p.NextPage,
	}
}

func accounts(in []auth.OAuthAccount) []OAuthAccount {
	out := make([]OAuthAccount, 0, len(in))
	for _, a := range in {
		out = append(out, OAuthAccount{Provider: string(a.Provider), AccountID: a.AccountID})
	}
	return out
}

type authHandler struct{ svc *auth.Service }

func (h authHandler) Login(ctx context.Context, in *LoginRequest) (*TokenPair, error) {
	pair, err := h.svc.Login(ctx, in.Login, in.Password, client(ctx))
	if err != nil {
		return nil, err
	}
	return tokenPair(pair), nil
}

func (h authHandler) RefreshToken(ctx context.Context, in *RefreshTokenRequest) (*TokenPair, error) {
	pair, err := h.svc.Refresh(ctx, in.RefreshToken, client(ctx))
	if err != nil {
		return nil, err
	}
	return tokenPair(pair), nil
}

func (h authHandler) Logout(ctx context.Context, in *AccessTokenRequest) (*Empty, error) {
	if err := h.svc.Logout(ctx, in.AccessToken, client(ctx)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (h authHandler) LogoutOther(ctx context.Context, in *AccessTokenRequest) (*Empty, error) {
	if err := h.svc.LogoutOther(ctx, in.AccessToken, client(ctx)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (h authHandler) UpdatePassword(ctx context.Context, in *UpdatePasswordRequest) (*Empty, error) {
	if err := h.svc.UpdatePassword(ctx, in.AccessToken, in.Password, client(ctx)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (h authHandler) UpdateEmail(ctx context.Context, in *UpdateEmailRequest) (*Empty, error) {
	if err := h.svc.UpdateEmail(ctx, in.AccessToken, in.Email, client(ctx)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (h authHandler) CheckToken(ctx context.Context, in *AccessTokenRequest) (*CheckTokenResponse, error) {
	ok, err := h.svc.CheckToken(ctx, in.AccessToken, client(ctx))
	if err != nil {
		return nil, err
	}
	return &CheckTokenResponse{Success: ok}, nil
}

type userHandler struct{ svc *auth.Service }

func (h userHandler) Create(ctx context.Context, in *CreateUserRequest) (*CreateUserResponse, error) {
	u, err := h.svc.Create(ctx, in.Email, in.Password)
	if err != nil {
		return nil, err
	}
	return &CreateUserResponse{UUID: u.ID, Email: u.Email}, nil
}

func (h userHandler) GetLoginHistory(ctx context.Context, in *LoginHistoryRequest) (*LoginHistoryResponse, error) {
	page, err := h.svc.LoginHistory(ctx, in.AccessToken, client(ctx), in.PageNumber, in.PageSize)
	if err != nil {
		return nil, err
	}
	out := &LoginHistoryResponse{
		Results:  make([]LoginHistoryEntry, 0, len(page.Items)),
		PageInfo: pageInfo(page),
	}
	for _, row := range page.Items {
		out.Results = append(out.Results, LoginHistoryEntry{
			Date:      row.CreatedAt,
			Device:    string(row.Device),
			IPAddress: row.IPAddress,
			UserAgent: row.UserAgent,
		})
	}
	return out, nil
}

func (h userHandler) GetUserMe(ctx context.Context, in *AccessTokenRequest) (*UserMeResponse, error) {
	p, err := h.svc.Me(ctx, in.AccessToken, client(ctx))
	if err != nil {
		return nil, err
	}
	return &UserMeResponse{Email: p.User.Email, OAuthAccounts: accounts(p.OAuthAccounts)}, nil
}

type adminHandler struct{ svc *admin.Service }

func (h adminHandler) GetUser(ctx context.Context, in *GetUserRequest) (*GetUserResponse, error) {
	p, err := h.svc.GetUser(ctx, in.AccessToken, in.ID, client(ctx))
	if err != nil {
		return nil, err
	}
	return &GetUserResponse{
		ID:            p.User.ID,
		Email:         p.User.Email,
		IsActive:      p.User.IsActive,
		IsSuperuser:   p.User.IsSuperuser,
		OAuthAccounts: accounts(p.OAuthAccounts),
	}, nil
}

func (h adminHandler) GetUserList(ctx context.Context, in *GetUserListRequest) (*GetUserListResponse, error) {
	page, err := h.svc.GetUserList(ctx, in.AccessToken, client(ctx), in.PageNumber, in.PageSize)
	if err != nil {
		return nil, err
	}
	out := &GetUserListResponse{
		Results:  make([]UserInList, 0, len(page.Items)),
		PageInfo: pageInfo(page),
	}
	for _, u := range page.Items {
		out.Results = append(out.Results, UserInList{
			ID:          u.ID,
			Email:       u.Email,
			IsActive:    u.IsActive,
			IsSuperuser: u.IsSuperuser,
		})
	}
	return out, nil
}

func (h adminHandler) CreatePolicy(ctx context.Context, in *CreatePolicyRequest) (*CreatePolicyResponse, error) {
	id, err := h.svc.CreatePolicy(ctx, in.AccessToken, in.Policy, client(ctx))
	if err != nil {
		return nil, err
	}
	return &CreatePolicyResponse{ID: id.String()}, nil
}

func (h adminHandler) UpdatePolicy(ctx context.Context, in *UpdatePolicyRequest) (*Empty, error) {
	if err := h.svc.UpdatePolicy(ctx, in.AccessToken, in.ID, in.Policy, client(ctx)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (h adminHandler) DeletePolicy(ctx context.Context, in *PolicyRequest) (*Empty, error) {
	if err := h.svc.DeletePolicy(ctx, in.AccessToken, in.ID, client(ctx)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (h adminHandler) GetPolicy(ctx context.Context, in *PolicyRequest) (*GetPolicyResponse, error) {
	p, err := h.svc.GetPolicy(ctx, in.AccessToken, in.ID, client(ctx))
	if err != nil {
		return nil, err
	}
	return &GetPolicyResponse{Policy: p}, nil
}

func (h adminHandler) GetPolicyList(ctx context.Context, in *GetPolicyListRequest) (*GetPolicyListResponse, error) {
	page, err := h.svc.GetPolicyList(ctx, in.AccessToken, client(ctx), in.PageNumber, in.PageSize)
	if err != nil {
		return nil, err
	}
	return &GetPolicyListResponse{Policy: page.Items, PageInfo: pageInfo(page)}, nil
}

func (h adminHandler) CheckAccess(ctx context.Context, in *CheckAccessRequest) (*CheckAccessResponse, error) {
	var inquiry map[string]any
	if err := json.Unmarshal(in.Inquiry, &inquiry); err != nil || inquiry == nil {
		return nil, fmt.Errorf("%w: inquiry must be a JSON object", auth.ErrInvalidInput)
	}
	allowed, err := h.svc.CheckAccess(ctx, in.AccessToken, inquiry, client(ctx))
	if err != nil {
		return nil, err
	}
	return &CheckAccessResponse{HasAccess: allowed}, nil
}

type oauthHandler struct{ svc *oauth.Service }

func (h oauthHandler) GetProviderLoginURL(ctx context.Context, in *ProviderLoginURLRequest) (*ProviderLoginURLResponse, error) {
	res, err := h.svc.GetProviderLoginURL(ctx, in.CallbackURL, in.AccessToken, client(ctx))
	if err != nil {
		return nil, err
	}
	return &ProviderLoginURLResponse{URL: res.URL, StateToken: res.StateToken}, nil
}

func (h oauthHandler) Login(ctx context.Context, in *OAuthLoginRequest) (*TokenPair, error) {
	pair, err := h.svc.Login(ctx, in.Code, in.StateToken, client(ctx))
	if err != nil {
		return nil, err
	}
	return tokenPair(pair), nil
}

func (h oauthHandler) AttachAccountToUser(ctx context.Context, in *AttachAccountRequest) (*Empty, error) {
	if err := h.svc.AttachAccountToUser(ctx, in.Code, in.StateToken, in.AccessToken, client(ctx)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (h oauthHandler) DetachAccountFromUser(ctx context.Context, in *AccessTokenRequest) (*Empty, error) {
	if err := h.svc.DetachAccountFromUser(ctx, in.AccessToken, client(ctx)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}
