package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/obs"
	"gatekeep.org/internal/token"
)

// Service implements the password login lifecycle and the user self-service
// operations.
type Service struct {
	store Store
	authn *Authenticator
	log   obs.Logger
	audit *audit.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithLogger sets the service logger.
func WithLogger(l obs.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithAudit sets the security audit sink.
func WithAudit(a *audit.Logger) ServiceOption {
	return func(s *Service) error {
		if a != nil {
			s.audit = a
		}
		return nil
	}
}

// NewService constructs Service.
func NewService(store Store, authn *Authenticator, opts ...ServiceOption) (*Service, error) {
	if store == nil || authn == nil {
		return nil, errors.New("auth: store and authenticator are required")
	}
	s := &Service{store: store, authn: authn, log: obs.Nop{}, audit: audit.Discard()}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Login verifies email and password and opens a session for the client.
func (s *Service) Login(ctx context.Context, email, password string, c Client) (token.Pair, error) {
	u, err := s.store.Users(ctx).FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNotFound) {
		return token.Pair{}, ErrUserNotFound
	}
	if err != nil {
		return token.Pair{}, err
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return token.Pair{}, err
	}
	if !u.IsActive {
		return token.Pair{}, ErrUserDisabled
	}
	pair, err := s.authn.OpenSession(ctx, u.ID, c)
	if err != nil {
		return token.Pair{}, err
	}
	s.event(ctx, audit.EventLogin, u.ID, map[string]any{"ip": c.IP, "user_agent": c.UserAgent})
	return pair, nil
}

// Refresh exchanges the live refresh token for a new pair. The old refresh
// token stops working; the old access token lives until it expires.
func (s *Service) Refresh(ctx context.Context, refreshToken string, c Client) (token.Pair, error) {
	claims, err := s.authn.ProcessRefresh(ctx, refreshToken, c.UserAgent)
	if err != nil {
		return token.Pair{}, err
	}
	u, err := s.authn.ActiveUser(ctx, claims.User)
	if err != nil {
		return token.Pair{}, err
	}
	return s.authn.IssueSession(ctx, u.ID, c.UserAgent)
}

// Logout ends the session of the calling device.
func (s *Service) Logout(ctx context.Context, accessToken string, c Client) error {
	claims, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
	if err != nil {
		return err
	}
	if err := s.authn.sessions.DeleteSession(ctx, claims.User, claims.UserAgent); err != nil {
		return err
	}
	if err := s.authn.Revoke(ctx, accessToken, claims); err != nil {
		return err
	}
	err = s.store.LoginHistory(ctx).SetLatestActive(ctx, claims.User, claims.UserAgent, false)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	s.event(ctx, audit.EventLogout, claims.User, map[string]any{"user_agent": claims.UserAgent})
	return nil
}

// LogoutOther ends every session of the user except the calling device's.
func (s *Service) LogoutOther(ctx context.Context, accessToken string, c Client) error {
	claims, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
	if err != nil {
		return err
	}
	current, _, err := s.authn.sessions.SessionToken(ctx, claims.User, claims.UserAgent)
	if err != nil {
		return err
	}
	removed, err := s.authn.sessions.DeleteOtherSessions(ctx, claims.User, current)
	if err != nil {
		return err
	}
	history := s.store.LoginHistory(ctx)
	if err := history.DeactivateAll(ctx, claims.User); err != nil {
		return err
	}
	if err := history.SetLatestActive(ctx, claims.User, claims.UserAgent, true); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	s.event(ctx, audit.EventLogoutOther, claims.User, map[string]any{"sessions_removed": removed})
	return nil
}

// UpdatePassword replaces the password and logs the user out everywhere.
func (s *Service) UpdatePassword(ctx context.Context, accessToken, password string, c Client) error {
	claims, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
	if err != nil {
		return err
	}
	u, err := s.findUser(ctx, claims.User)
	if err != nil {
		return err
	}
	switch err := VerifyPassword(u.PasswordHash, password); {
	case err == nil:
		return ErrUserPasswordUpdateSame
	case !errors.Is(err, ErrUserPasswordInvalid):
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, u.ID, hash); err != nil {
		return err
	}
	if err := s.authn.RevokeAll(ctx, accessToken, claims); err != nil {
		return err
	}
	s.event(ctx, audit.EventPasswordChanged, u.ID, nil)
	return nil
}

// UpdateEmail changes the login email and logs the user out everywhere.
func (s *Service) UpdateEmail(ctx context.Context, accessToken, email string, c Client) error {
	claims, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
	if err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return err
	}
	u, err := s.findUser(ctx, claims.User)
	if err != nil {
		return err
	}
	if u.Email == email {
		return ErrUserEmailUpdateSame
	}
	err = s.store.Users(ctx).UpdateEmail(ctx, u.ID, email)
	if errors.Is(err, ErrAlreadyExists) {
		return ErrUserEmailCollision
	}
	if err != nil {
		return err
	}
	if err := s.authn.RevokeAll(ctx, accessToken, claims); err != nil {
		return err
	}
	s.event(ctx, audit.EventEmailChanged, u.ID, map[string]any{"old_email": u.Email, "new_email": email})
	return nil
}

// CheckToken reports whether the access token is currently usable. Token
// problems are a false result, not an error.
func (s *Service) CheckToken(ctx context.Context, accessToken string, c Client) (bool, error) {
	_, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
	switch {
	case err == nil:
		return true, nil
	case token.IsTokenError(err):
		s.log.Debug("token rejected", "reason", err.Error())
		return false, nil
	default:
		return false, err
	}
}

// Create registers a new active user.
func (s *Service) Create(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.authn.Now().UTC()
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.store.Users(ctx).Create(ctx, u)
	if errors.Is(err, ErrAlreadyExists) {
		return nil, ErrUserEmailCollision
	}
	if err != nil {
		return nil, err
	}
	s.event(ctx, audit.EventUserCreated, u.ID, nil)
	return u, nil
}

// LoginHistory pages through the caller's logins, newest first.
func (s *Service) LoginHistory(ctx context.Context, accessToken string, c Client, pageNumber, pageSize int) (Page[*LoginHistory], error) {
	claims, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
	if err != nil {
		return Page[*LoginHistory]{}, err
	}
	req, err := NewPageRequest(pageNumber, pageSize)
	if err != nil {
		return Page[*LoginHistory]{}, err
	}
	history := s.store.LoginHistory(ctx)
	total, err := history.Count(ctx, claims.User)
	if err != nil {
		return Page[*LoginHistory]{}, err
	}
	items, err := history.List(ctx, claims.User, req.Offset(), req.Limit())
	if err != nil {
		return Page[*LoginHistory]{}, err
	}
	if len(items) == 0 {
		return Page[*LoginHistory]{}, ErrUserHistoryPageNotFound
	}
	return NewPage(req, items, total), nil
}

// Profile is a user together with its linked provider accounts.
type Profile struct {
	User          *User
	OAuthAccounts []OAuthAccount
}

// Me returns the caller's profile.
func (s *Service) Me(ctx context.Context, accessToken string, c Client) (Profile, error) {
	claims, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
	if err != nil {
		return Profile{}, err
	}
	return LoadProfile(ctx, s.store, claims.User)
}

// LoadProfile loads a user and the provider accounts linked to it.
func LoadProfile(ctx context.Context, store Store, userID string) (Profile, error) {
	u, err := store.Users(ctx).Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Profile{}, ErrUserNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	accounts, err := store.OAuthAccounts(ctx).ListByUser(ctx, u.ID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: u, OAuthAccounts: accounts}, nil
}

func (s *Service) findUser(ctx context.Context, id string) (*User, error) {
	u, err := s.store.Users(ctx).Find(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *Service) event(ctx context.Context, name, userID string, fields map[string]any) {
	if err := s.audit.LogEvent(ctx, name, userID, fields); err != nil {
		s.log.Warn("audit write failed", "event", name, "err", err)
	}
}
