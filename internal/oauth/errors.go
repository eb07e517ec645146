package oauth

import "errors"

var (
	ErrStateTokenIncorrect        = errors.New("State token incorrect!")
	ErrStateTokenCollision        = errors.New("State token collision!")
	ErrProviderResponse           = errors.New("Incorrect response from OAuth provider!")
	ErrProviderAccountCollision   = errors.New("Provider account already attached!")
	ErrProviderAccountNotAttached = errors.New("Provider account not attached!")
	ErrUnknownProvider            = errors.New("Unknown OAuth provider!")
)
