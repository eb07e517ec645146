package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	LoginHistory(ctx context.Context) LoginHistoryStore
	OAuthAccounts(ctx context.Context) OAuthAccountStore
}

// UserStore manages users. Create and UpdateEmail return ErrAlreadyExists on
// an email collision; lookups return ErrNotFound.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateEmail(ctx context.Context, userID, email string) error
	List(ctx context.Context, offset, limit int) ([]*User, error)
	Count(ctx context.Context) (int, error)
}

// LoginHistoryStore appends and toggles login history rows.
type LoginHistoryStore interface {
	Insert(ctx context.Context, h *LoginHistory) error
	List(ctx context.Context, userID string, offset, limit int) ([]*LoginHistory, error)
	Count(ctx context.Context, userID string) (int, error)
	// SetLatestActive flips is_active on the newest row for (user, user agent).
	SetLatestActive(ctx context.Context, userID, userAgent string, active bool) error
	DeactivateAll(ctx context.Context, userID string) error
}

// OAuthAccountStore manages provider links. Attach returns ErrAlreadyExists
// when the external account or the (user, provider) slot is taken.
type OAuthAccountStore interface {
	Attach(ctx context.Context, acc OAuthAccount) error
	Detach(ctx context.Context, userID string, provider Provider) error
	FindUserID(ctx context.Context, provider Provider, accountID string) (string, error)
	ListByUser(ctx context.Context, userID string) ([]OAuthAccount, error)
}

// SessionStore keeps one refresh token per (user, user agent) and a
// blacklist of revoked access tokens.
type SessionStore interface {
	AddSession(ctx context.Context, userID, userAgent, refreshToken string, ttl time.Duration) error
	SessionToken(ctx context.Context, userID, userAgent string) (string, bool, error)
	DeleteSession(ctx context.Context, userID, userAgent string) error
	DeleteUser(ctx context.Context, userID string) error
	DeleteOtherSessions(ctx context.Context, userID, keepToken string) (int64, error)
	Ban(ctx context.Context, accessToken string, ttl time.Duration) error
	IsBanned(ctx context.Context, accessToken string) (bool, error)
}
