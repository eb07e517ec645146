package token

import "errors"

// Token errors. All of them mean the caller is not authenticated.
var (
	ErrTokenInvalid          = errors.New("Invalid token!")
	ErrTokenExpired          = errors.New("Token expired!")
	ErrTokenInvalidUserAgent = errors.New("Invalid user agent for requested token!")
	ErrAccessTokenBanned     = errors.New("Access token banned!")
	ErrAccessTokenAsRefresh  = errors.New("Access token cannot be used as refresh token!")
	ErrRefreshTokenAsAccess  = errors.New("Refresh token cannot be used as access token!")
	ErrRefreshTokenUnknown   = errors.New("Refresh token unknown!")
)

var tokenErrors = []error{
	ErrTokenInvalid,
	ErrTokenExpired,
	ErrTokenInvalidUserAgent,
	ErrAccessTokenBanned,
	ErrAccessTokenAsRefresh,
	ErrRefreshTokenAsAccess,
	ErrRefreshTokenUnknown,
}

// IsTokenError reports whether err belongs to the token error family.
func IsTokenError(err error) bool {
	return Sentinel(err) != nil
}

// Sentinel returns the token error err wraps, or nil.
func Sentinel(err error) error {
	if err == nil {
		return nil
	}
	for _, e := range tokenErrors {
		if errors.Is(err, e) {
			return e
		}
	}
	return nil
}
