package admin

import (
	"context"
	"errors"

	"gatekeep.org/internal/abac"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/cache"
	"gatekeep.org/internal/obs"
	"gatekeep.org/internal/token"
)

const checkAccessNamespace = "check_access"

// CheckAccess decides whether the caller may perform the inquiry's action on
// its resource. The access token is optional; a missing or unusable token
// makes the caller anonymous rather than failing the call.
func (s *Service) CheckAccess(ctx context.Context, accessToken string, inquiry map[string]any, c auth.Client) (bool, error) {
	resource := inquiryValue(inquiry, abac.FieldResource)
	action := inquiryValue(inquiry, abac.FieldAction)
	reqCtx := map[string]any{
		abac.ContextUserAgent: c.UserAgent,
		abac.ContextIP:        c.IP,
	}

	var userID string
	if accessToken != "" {
		claims, err := s.authn.ProcessAccess(ctx, accessToken, c.UserAgent)
		switch {
		case err == nil:
			userID = claims.User
		case token.IsTokenError(err):
			s.log.Debug("anonymous access check", "reason", err.Error())
		default:
			return false, err
		}
	}

	compute := func(ctx context.Context) (bool, error) {
		return s.checkAccess(ctx, userID, resource, action, reqCtx)
	}
	if s.cache == nil {
		return compute(ctx)
	}
	key, err := cache.Key(checkAccessNamespace, userID, resource, action, reqCtx)
	if err != nil {
		return false, err
	}
	allowed, outcome, err := cache.Remember(ctx, s.cache, key, s.cacheTTL, compute)
	obs.ObserveCacheLookup(outcome)
	if outcome == cache.Failed {
		s.log.Warn("check access cache unavailable", "key", key)
	}
	return allowed, err
}

func (s *Service) checkAccess(ctx context.Context, userID string, resource, action any, reqCtx map[string]any) (bool, error) {
	isUser, isSuperuser, err := s.subject(ctx, userID)
	if err != nil {
		return false, err
	}
	if isSuperuser {
		return true, nil
	}
	inq := &abac.Inquiry{
		Resource: resource,
		Action:   action,
		Subject: map[string]any{
			abac.SubjectIsUser:      isUser,
			abac.SubjectIsSuperuser: isSuperuser,
		},
		Context: reqCtx,
	}
	return s.guard.IsAllowed(ctx, inq), nil
}

// subject resolves the subject attributes of a caller. Unknown and disabled
// users are anonymous.
func (s *Service) subject(ctx context.Context, userID string) (isUser, isSuperuser bool, err error) {
	if userID == "" {
		return false, false, nil
	}
	u, err := s.users.Users(ctx).Find(ctx, userID)
	if errors.Is(err, auth.ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if !u.IsActive {
		return false, false, nil
	}
	return true, u.IsSuperuser, nil
}

func inquiryValue(inquiry map[string]any, field string) any {
	if v, ok := inquiry[field]; ok && v != nil {
		return v
	}
	return ""
}
