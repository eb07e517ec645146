package auth

import "errors"

// Storage contract errors. Stores return these; services translate them into
// the domain errors below.
var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
)

// Domain errors. The message is what the caller sees.
var (
	ErrInvalidInput            = errors.New("Invalid input!")
	ErrUserNotFound            = errors.New("User not found!")
	ErrUserDisabled            = errors.New("User is disabled!")
	ErrUserNotSuperuser        = errors.New("User is not superuser!")
	ErrUserEmailCollision      = errors.New("Email is already in use!")
	ErrUserEmailUpdateSame     = errors.New("Email is same!")
	ErrUserPasswordInvalid     = errors.New("Password not valid!")
	ErrUserPasswordUpdateSame  = errors.New("Password is same!")
	ErrUserHistoryPageNotFound = errors.New("Login history page not found!")
	ErrUserListPageNotFound    = errors.New("Users page not found!")
)
