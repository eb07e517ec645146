package auth

import "time"

// Device classifies the client a login came from.
type Device string

const (
	DeviceWeb     Device = "web"
	DeviceMobile  Device = "mobile"
	DeviceSmartTV Device = "smart_tv"
)

// Provider names an external OAuth identity provider.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderYandex Provider = "yandex"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return p == ProviderGoogle || p == ProviderYandex
}

// User is an account that can log in with a password or a linked provider.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	IsSuperuser  bool
	IsVerified   bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LoginHistory is one login from one device. It stays active until the
// device logs out or the user's sessions are revoked.
type LoginHistory struct {
	ID        string
	UserID    string
	IPAddress string
	UserAgent string
	Device    Device
	IsActive  bool
	CreatedAt time.Time
}

// OAuthAccount links a user to an account at an external provider.
type OAuthAccount struct {
	UserID    string
	Provider  Provider
	AccountID string
}

// Client describes the caller of a request as reported by the gateway.
type Client struct {
	IP        string
	UserAgent string
}
