package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/obs"
	"gatekeep.org/internal/token"
)

// LoginURL is the provider page the user should open and the state token
// that identifies the flow.
type LoginURL struct {
	URL        string
	StateToken string
}

// Service runs the login and account-linking flows for one provider.
type Service struct {
	provider *Provider
	states   *StateStore
	store    auth.Store
	authn    *auth.Authenticator
	log      obs.Logger
	audit    *audit.Logger
}

// Option configures Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l obs.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAudit sets the security audit sink.
func WithAudit(a *audit.Logger) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// NewService constructs Service.
func NewService(p *Provider, states *StateStore, store auth.Store, authn *auth.Authenticator, opts ...Option) (*Service, error) {
	if p == nil || states == nil || store == nil || authn == nil {
		return nil, errors.New("oauth: provider, states, store and authenticator are required")
	}
	s := &Service{provider: p, states: states, store: store, authn: authn, log: obs.Nop{}, audit: audit.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Provider returns the provider the service talks to.
func (s *Service) Provider() auth.Provider { return s.provider.Name() }

// GetProviderLoginURL starts a flow. With an access token the flow is bound
// to that user and can only be finished by AttachAccountToUser.
func (s *Service) GetProviderLoginURL(ctx context.Context, callbackURL, accessToken string, c auth.Client) (LoginURL, error) {
	if err := auth.ValidateCallbackURL(callbackURL); err != nil {
		return LoginURL{}, err
	}
	info := StateInfo{RedirectURL: callbackURL}
	if accessToken != "" {
		claims, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
		if err != nil {
			return LoginURL{}, err
		}
		info.UserID = claims.User
	}
	state, err := s.states.Create(ctx, info)
	if err != nil {
		return LoginURL{}, err
	}
	return LoginURL{URL: s.provider.AuthCodeURL(state, callbackURL), StateToken: state}, nil
}

// Login finishes a flow and opens a session for the provider's user,
// creating the local account on first use.
func (s *Service) Login(ctx context.Context, code, stateToken string, c auth.Client) (token.Pair, error) {
	if strings.TrimSpace(code) == "" {
		return token.Pair{}, fmt.Errorf("%w: code is required", auth.ErrInvalidInput)
	}
	info, err := s.states.Pop(ctx, stateToken)
	if err != nil {
		return token.Pair{}, err
	}
	acc, err := s.provider.FetchAccount(ctx, code, info.RedirectURL)
	if err != nil {
		s.log.Warn("oauth provider failed", "provider", string(s.provider.Name()), "err", err)
		return token.Pair{}, err
	}
	userID, err := s.resolveUser(ctx, acc)
	if err != nil {
		return token.Pair{}, err
	}
	u, err := s.authn.ActiveUser(ctx, userID)
	if err != nil {
		return token.Pair{}, err
	}
	pair, err := s.authn.OpenSession(ctx, u.ID, c)
	if err != nil {
		return token.Pair{}, err
	}
	s.event(ctx, audit.EventLogin, u.ID, map[string]any{"provider": string(s.provider.Name()), "ip": c.IP, "user_agent": c.UserAgent})
	return pair, nil
}

// resolveUser finds the local user for a provider account: by link, then by
// email, then by creating one. The account is linked in the latter two cases.
func (s *Service) resolveUser(ctx context.Context, acc Account) (string, error) {
	accounts := s.store.OAuthAccounts(ctx)
	userID, err := accounts.FindUserID(ctx, s.provider.Name(), acc.ID)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return "", err
	}

	users := s.store.Users(ctx)
	u, err := users.FindByEmail(ctx, acc.Email)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		if u, err = s.createUser(ctx, acc.Email); err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	}
	link := auth.OAuthAccount{UserID: u.ID, Provider: s.provider.Name(), AccountID: acc.ID}
	if err := accounts.Attach(ctx, link); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return "", ErrProviderAccountCollision
		}
		return "", err
	}
	s.event(ctx, audit.EventOAuthAttached, u.ID, map[string]any{"provider": string(link.Provider), "account_id": link.AccountID})
	return u.ID, nil
}

func (s *Service) createUser(ctx context.Context, email string) (*auth.User, error) {
	password, err := auth.RandomPassword()
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.authn.Now().UTC()
	u := &auth.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users(ctx).Create(ctx, u); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return nil, auth.ErrUserEmailCollision
		}
		return nil, err
	}
	s.event(ctx, audit.EventUserCreated, u.ID, map[string]any{"provider": string(s.provider.Name())})
	return u, nil
}

// AttachAccountToUser finishes a flow started with an access token and links
// the provider account to that user.
func (s *Service) AttachAccountToUser(ctx context.Context, code, stateToken, accessToken string, c auth.Client) error {
	claims, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
	if err != nil {
		return err
	}
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("%w: code is required", auth.ErrInvalidInput)
	}
	info, err := s.states.Pop(ctx, stateToken)
	if err != nil {
		return err
	}
	if info.UserID != claims.User {
		return ErrStateTokenCollision
	}
	acc, err := s.provider.FetchAccount(ctx, code, info.RedirectURL)
	if err != nil {
		s.log.Warn("oauth provider failed", "provider", string(s.provider.Name()), "err", err)
		return err
	}
	link := auth.OAuthAccount{UserID: claims.User, Provider: s.provider.Name(), AccountID: acc.ID}
	if err := s.store.OAuthAccounts(ctx).Attach(ctx, link); err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return ErrProviderAccountCollision
		}
		return err
	}
	s.event(ctx, audit.EventOAuthAttached, claims.User, map[string]any{"provider": string(link.Provider), "account_id": link.AccountID})
	return nil
}

// DetachAccountFromUser unlinks the caller's account at this provider.
func (s *Service) DetachAccountFromUser(ctx context.Context, accessToken string, c auth.Client) error {
	claims, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
	if err != nil {
		return err
	}
	err = s.store.OAuthAccounts(ctx).Detach(ctx, claims.User, s.provider.Name())
	if errors.Is(err, auth.ErrNotFound) {
		return ErrProviderAccountNotAttached
	}
	if err != nil {
		return err
	}
	s.event(ctx, audit.EventOAuthDetached, claims.User, map[string]any{"provider": string(s.provider.Name())})
	return nil
}

func (s *Service) event(ctx context.Context, name, userID string, fields map[string]any) {
	if err := s.audit.LogEvent(ctx, name, userID, fields); err != nil {
		s.log.Warn("audit write failed", "event", name, "err", err)
	}
}
