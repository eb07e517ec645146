package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "gatekeep"

// Kind tags a token as access or refresh. The two are otherwise identical.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// BearerType is the token_type reported to clients alongside a pair.
const BearerType = "Bearer"

// Claims is the signed payload of every token.
type Claims struct {
	User      string `json:"user"`
	UserAgent string `json:"user_agent"`
	TokenType Kind   `json:"token_type"`
	jwt.RegisteredClaims
}

// Remaining returns how long the token stays valid after now, never negative.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Time.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Pair is the result of a successful login or refresh.
type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TokenType    string
}

// Option customises a Service.
type Option func(*Service) error

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("access ttl must be positive")
		}
		s.accessTTL = ttl
		return nil
	}
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("refresh ttl must be positive")
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return errors.New("clock is nil")
		}
		s.now = now
		return nil
	}
}

// Service issues and decodes HS256 tokens bound to a user and user agent.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewService(secret string, opts ...Option) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("token: secret is not configured")
	}
	s := &Service{
		secret:     []byte(secret),
		accessTTL:  15 * time.Minute,
		refreshTTL: 30 * 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("token: %w", err)
		}
	}
	return s, nil
}

func (s *Service) AccessTTL() time.Duration  { return s.accessTTL }
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }
func (s *Service) Now() time.Time            { return s.now() }

// Issue signs a token of the given kind.
func (s *Service) Issue(userID, userAgent string, kind Kind) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("token: user id is required")
	}
	var ttl time.Duration
	switch kind {
	case KindAccess:
		ttl = s.accessTTL
	case KindRefresh:
		ttl = s.refreshTTL
	default:
		return "", fmt.Errorf("token: unknown kind %q", kind)
	}
	now := s.now().UTC()
	claims := Claims{
		User:      userID,
		UserAgent: userAgent,
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// IssuePair signs a fresh access and refresh token for one device.
func (s *Service) IssuePair(userID, userAgent string) (Pair, error) {
	access, err := s.Issue(userID, userAgent, KindAccess)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.Issue(userID, userAgent, KindRefresh)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL / time.Second),
		TokenType:    BearerType,
	}, nil
}

// Decode verifies signature and expiry. It returns ErrTokenExpired for a
// lapsed token and ErrTokenInvalid for anything else.
func (s *Service) Decode(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !parsed.Valid || claims.User == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Verify decodes the token and checks it was issued to userAgent and has the
// expected kind.
func (s *Service) Verify(raw, userAgent string, want Kind) (*Claims, error) {
	claims, err := s.Decode(raw)
	if err != nil {
		return nil, err
	}
	if claims.UserAgent != userAgent {
		return nil, ErrTokenInvalidUserAgent
	}
	if claims.TokenType != want {
		if want == KindAccess {
			return nil, ErrRefreshTokenAsAccess
		}
		return nil, ErrAccessTokenAsRefresh
	}
	return claims, nil
}
