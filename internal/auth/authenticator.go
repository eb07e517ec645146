package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeep.org/internal/ids"
	"gatekeep.org/internal/token"
)

// Authenticator checks bearer tokens against the session store and opens
// new sessions. It is shared by every service that accepts tokens.
type Authenticator struct {
	tokens   *token.Service
	sessions SessionStore
	store    Store
}

// NewAuthenticator wires token verification to session state.
func NewAuthenticator(tokens *token.Service, sessions SessionStore, store Store) (*Authenticator, error) {
	if tokens == nil || sessions == nil || store == nil {
		return nil, errors.New("auth: tokens, sessions and store are required")
	}
	return &Authenticator{tokens: tokens, sessions: sessions, store: store}, nil
}

// Now is the token clock.
func (a *Authenticator) Now() time.Time { return a.tokens.Now() }

// ProcessAccess validates an access token for the given user agent.
// Banned tokens are rejected before the signature is even checked.
func (a *Authenticator) ProcessAccess(ctx context.Context, raw, userAgent string) (*token.Claims, error) {
	banned, err := a.sessions.IsBanned(ctx, raw)
	if err != nil {
		return nil, err
	}
	if banned {
		return nil, token.ErrAccessTokenBanned
	}
	return a.tokens.Verify(raw, userAgent, token.KindAccess)
}

// ProcessRefresh validates a refresh token and requires it to be the one
// currently recorded for its (user, user agent) session.
func (a *Authenticator) ProcessRefresh(ctx context.Context, raw, userAgent string) (*token.Claims, error) {
	claims, err := a.tokens.Verify(raw, userAgent, token.KindRefresh)
	if err != nil {
		return nil, err
	}
	current, ok, err := a.sessions.SessionToken(ctx, claims.User, claims.UserAgent)
	if err != nil {
		return nil, err
	}
	if !ok || current != raw {
		return nil, token.ErrRefreshTokenUnknown
	}
	return claims, nil
}

// IssueSession issues a pair and records the refresh token as the live one
// for this user agent, replacing any previous token.
func (a *Authenticator) IssueSession(ctx context.Context, userID, userAgent string) (token.Pair, error) {
	pair, err := a.tokens.IssuePair(userID, userAgent)
	if err != nil {
		return token.Pair{}, err
	}
	if err := a.sessions.AddSession(ctx, userID, userAgent, pair.RefreshToken, a.tokens.RefreshTTL()); err != nil {
		return token.Pair{}, err
	}
	return pair, nil
}

// OpenSession is a login: IssueSession plus an active login history row.
func (a *Authenticator) OpenSession(ctx context.Context, userID string, c Client) (token.Pair, error) {
	pair, err := a.IssueSession(ctx, userID, c.UserAgent)
	if err != nil {
		return token.Pair{}, err
	}
	now := a.Now().UTC()
	row := &LoginHistory{
		ID:        ids.NewAt(now),
		UserID:    userID,
		IPAddress: c.IP,
		UserAgent: c.UserAgent,
		Device:    ClassifyDevice(c.UserAgent),
		IsActive:  true,
		CreatedAt: now,
	}
	if err := a.store.LoginHistory(ctx).Insert(ctx, row); err != nil {
		return token.Pair{}, fmt.Errorf("record login: %w", err)
	}
	return pair, nil
}

// Revoke bans one access token until it would have expired anyway.
func (a *Authenticator) Revoke(ctx context.Context, raw string, claims *token.Claims) error {
	return a.sessions.Ban(ctx, raw, claims.Remaining(a.Now()))
}

// RevokeAll drops every session of the user, bans the presented access
// token and marks all login history inactive.
func (a *Authenticator) RevokeAll(ctx context.Context, raw string, claims *token.Claims) error {
	if err := a.sessions.DeleteUser(ctx, claims.User); err != nil {
		return err
	}
	if err := a.Revoke(ctx, raw, claims); err != nil {
		return err
	}
	return a.store.LoginHistory(ctx).DeactivateAll(ctx, claims.User)
}

// ActiveUser loads a user and rejects disabled accounts.
func (a *Authenticator) ActiveUser(ctx context.Context, userID string) (*User, error) {
	u, err := a.store.Users(ctx).Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUserDisabled
	}
	return u, nil
}
