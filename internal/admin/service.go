package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gatekeep.org/internal/abac"
	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/cache"
	"gatekeep.org/internal/obs"
	"gatekeep.org/internal/token"
)

// DefaultCheckAccessTTL is how long a CheckAccess answer is reused.
const DefaultCheckAccessTTL = 30 * time.Second

// PolicyStore persists policies. Lookups return auth.ErrNotFound, writes
// return auth.ErrAlreadyExists on a description collision.
type PolicyStore interface {
	abac.PolicySource
	CreatePolicy(ctx context.Context, p *abac.Policy) error
	UpdatePolicy(ctx context.Context, p *abac.Policy) error
	DeletePolicy(ctx context.Context, id uuid.UUID) error
	GetPolicy(ctx context.Context, id uuid.UUID) (*abac.Policy, error)
	ListPolicies(ctx context.Context, offset, limit int) ([]abac.Policy, error)
	CountPolicies(ctx context.Context) (int, error)
}

// Service is the superuser-only administration surface plus CheckAccess,
// which any caller may use.
type Service struct {
	users    auth.Store
	policies PolicyStore
	authn    *auth.Authenticator
	guard    *abac.Guard

	cache    *cache.Cache
	cacheTTL time.Duration

	log   obs.Logger
	audit *audit.Logger
}

// Option configures Service.
type Option func(*Service) error

// WithLogger sets the logger used by the service and its guard.
func WithLogger(l obs.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithAudit sets the security audit sink.
func WithAudit(a *audit.Logger) Option {
	return func(s *Service) error {
		if a != nil {
			s.audit = a
		}
		return nil
	}
}

// WithCheckAccessCache caches CheckAccess answers in c for ttl.
func WithCheckAccessCache(c *cache.Cache, ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl < 0 {
			return errors.New("admin: negative check access ttl")
		}
		if ttl == 0 {
			ttl = DefaultCheckAccessTTL
		}
		s.cache, s.cacheTTL = c, ttl
		return nil
	}
}

// NewService constructs Service.
func NewService(users auth.Store, policies PolicyStore, authn *auth.Authenticator, opts ...Option) (*Service, error) {
	if users == nil || policies == nil || authn == nil {
		return nil, errors.New("admin: users, policies and authenticator are required")
	}
	s := &Service{
		users:    users,
		policies: policies,
		authn:    authn,
		cacheTTL: DefaultCheckAccessTTL,
		log:      obs.Nop{},
		audit:    audit.Discard(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.guard = abac.NewGuard(policies,
		abac.WithLogger(s.log),
		abac.WithDecisionHook(func(e abac.Effect) { obs.ObserveDecision(string(e)) }),
	)
	return s, nil
}

// requireSuperuser resolves the caller and rejects anyone but an active
// superuser.
func (s *Service) requireSuperuser(ctx context.Context, accessToken string, c auth.Client) (*token.Claims, error) {
	claims, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
	if err != nil {
		return nil, err
	}
	u, err := s.users.Users(ctx).Find(ctx, claims.User)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, auth.ErrUserNotSuperuser
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive || !u.IsSuperuser {
		return nil, auth.ErrUserNotSuperuser
	}
	return claims, nil
}

// GetUser returns any user with its linked provider accounts.
func (s *Service) GetUser(ctx context.Context, accessToken, userID string, c auth.Client) (auth.Profile, error) {
	if _, err := s.requireSuperuser(ctx, accessToken, c); err != nil {
		return auth.Profile{}, err
	}
	id, err := parseID(userID)
	if err != nil {
		return auth.Profile{}, err
	}
	return auth.LoadProfile(ctx, s.users, id.String())
}

// GetUserList pages through all users.
func (s *Service) GetUserList(ctx context.Context, accessToken string, c auth.Client, pageNumber, pageSize int) (auth.Page[*auth.User], error) {
	if _, err := s.requireSuperuser(ctx, accessToken, c); err != nil {
		return auth.Page[*auth.User]{}, err
	}
	req, err := auth.NewPageRequest(pageNumber, pageSize)
	if err != nil {
		return auth.Page[*auth.User]{}, err
	}
	users := s.users.Users(ctx)
	total, err := users.Count(ctx)
	if err != nil {
		return auth.Page[*auth.User]{}, err
	}
	items, err := users.List(ctx, req.Offset(), req.Limit())
	if err != nil {
		return auth.Page[*auth.User]{}, err
	}
	if len(items) == 0 {
		return auth.Page[*auth.User]{}, auth.ErrUserListPageNotFound
	}
	return auth.NewPage(req, items, total), nil
}

// CreatePolicy stores a new policy from its JSON document and returns its id.
func (s *Service) CreatePolicy(ctx context.Context, accessToken string, raw []byte, c auth.Client) (uuid.UUID, error) {
	claims, err := s.requireSuperuser(ctx, accessToken, c)
	if err != nil {
		return uuid.Nil, err
	}
	p, err := s.decode(raw)
	if err != nil {
		return uuid.Nil, err
	}
	p.ID = uuid.New()
	err = s.policies.CreatePolicy(ctx, &p)
	if errors.Is(err, auth.ErrAlreadyExists) {
		return uuid.Nil, ErrPolicyAlreadyExists
	}
	if err != nil {
		return uuid.Nil, err
	}
	s.event(ctx, audit.EventPolicyCreated, claims.User, p)
	return p.ID, nil
}

// UpdatePolicy replaces the policy stored under id.
func (s *Service) UpdatePolicy(ctx context.Context, accessToken, policyID string, raw []byte, c auth.Client) error {
	claims, err := s.requireSuperuser(ctx, accessToken, c)
	if err != nil {
		return err
	}
	id, err := parseID(policyID)
	if err != nil {
		return err
	}
	p, err := s.decode(raw)
	if err != nil {
		return err
	}
	p.ID = id
	switch err := s.policies.UpdatePolicy(ctx, &p); {
	case errors.Is(err, auth.ErrNotFound):
		return ErrPolicyNotFound
	case errors.Is(err, auth.ErrAlreadyExists):
		return ErrPolicyAlreadyExists
	case err != nil:
		return err
	}
	s.event(ctx, audit.EventPolicyUpdated, claims.User, p)
	return nil
}

// DeletePolicy removes the policy stored under id.
func (s *Service) DeletePolicy(ctx context.Context, accessToken, policyID string, c auth.Client) error {
	claims, err := s.requireSuperuser(ctx, accessToken, c)
	if err != nil {
		return err
	}
	id, err := parseID(policyID)
	if err != nil {
		return err
	}
	p, err := s.policies.GetPolicy(ctx, id)
	if errors.Is(err, auth.ErrNotFound) {
		return ErrPolicyNotFound
	}
	if err != nil {
		return err
	}
	err = s.policies.DeletePolicy(ctx, id)
	if errors.Is(err, auth.ErrNotFound) {
		return ErrPolicyNotFound
	}
	if err != nil {
		return err
	}
	s.event(ctx, audit.EventPolicyDeleted, claims.User, *p)
	return nil
}

// GetPolicy returns the policy stored under id as its JSON document.
func (s *Service) GetPolicy(ctx context.Context, accessToken, policyID string, c auth.Client) (string, error) {
	if _, err := s.requireSuperuser(ctx, accessToken, c); err != nil {
		return "", err
	}
	id, err := parseID(policyID)
	if err != nil {
		return "", err
	}
	p, err := s.policies.GetPolicy(ctx, id)
	if errors.Is(err, auth.ErrNotFound) {
		return "", ErrPolicyNotFound
	}
	if err != nil {
		return "", err
	}
	data, err := p.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetPolicyList pages through policies as JSON documents.
func (s *Service) GetPolicyList(ctx context.Context, accessToken string, c auth.Client, pageNumber, pageSize int) (auth.Page[string], error) {
	if _, err := s.requireSuperuser(ctx, accessToken, c); err != nil {
		return auth.Page[string]{}, err
	}
	req, err := auth.NewPageRequest(pageNumber, pageSize)
	if err != nil {
		return auth.Page[string]{}, err
	}
	total, err := s.policies.CountPolicies(ctx)
	if err != nil {
		return auth.Page[string]{}, err
	}
	items, err := s.policies.ListPolicies(ctx, req.Offset(), req.Limit())
	if err != nil {
		return auth.Page[string]{}, err
	}
	if len(items) == 0 {
		return auth.Page[string]{}, ErrPolicyListPageNotFound
	}
	docs := make([]string, 0, len(items))
	for _, p := range items {
		data, err := p.MarshalJSON()
		if err != nil {
			return auth.Page[string]{}, err
		}
		docs = append(docs, string(data))
	}
	return auth.NewPage(req, docs, total), nil
}

func (s *Service) decode(raw []byte) (abac.Policy, error) {
	p, err := abac.DecodePolicy(raw)
	if err != nil {
		s.log.Debug("policy rejected", "err", err)
		return abac.Policy{}, fmt.Errorf("%w: %v", ErrPolicyBadFormatted, err)
	}
	return p, nil
}

func (s *Service) event(ctx context.Context, name, userID string, p abac.Policy) {
	fields := map[string]any{"policy_id": p.ID.String(), "description": p.Description}
	if err := s.audit.LogEvent(ctx, name, userID, fields); err != nil {
		s.log.Warn("audit write failed", "event", name, "err", err)
	}
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: id must be a uuid", auth.ErrInvalidInput)
	}
	return id, nil
}
