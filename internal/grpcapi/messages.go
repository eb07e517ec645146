package grpcapi

import (
	"bytes"
	"encoding/json"
	"time"
)

// Document is a JSON object sent either inline or as a JSON-encoded string.
type Document []byte

func (d *Document) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Document(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*d = nil
		return nil
	}
	*d = append((*d)[:0], b...)
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(d) {
		return json.Marshal(string(d))
	}
	return d, nil
}

type Empty struct{}

// PageRequest is embedded by every paged request.
type PageRequest struct {
	PageNumber int `json:"page_number"`
	PageSize   int `json:"page_size"`
}

type PageInfo struct {
	TotalCount int  `json:"total_count"`
	TotalPages int  `json:"total_pages"`
	PrevPage   *int `json:"prev_page"`
	NextPage   *int `json:"next_page"`
}

// Auth

type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type AccessTokenRequest struct {
	AccessToken string `json:"access_token"`
}

type UpdatePasswordRequest struct {
	AccessToken string `json:"access_token"`
	Password    string `json:"password"`
}

type UpdateEmailRequest struct {
	AccessToken string `json:"access_token"`
	Email       string `json:"email"`
}

type CheckTokenResponse struct {
	Success bool `json:"success"`
}

// User

type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateUserResponse struct {
	UUID  string `json:"uuid"`
	Email string `json:"email"`
}

type LoginHistoryRequest struct {
	AccessToken string `json:"access_token"`
	PageRequest
}

type LoginHistoryEntry struct {
	Date      time.Time `json:"date"`
	Device    string    `json:"device"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
}

type LoginHistoryResponse struct {
	Results []LoginHistoryEntry `json:"results"`
	PageInfo
}

type OAuthAccount struct {
	Provider  string `json:"provider"`
	AccountID string `json:"account_id"`
}

type UserMeResponse struct {
	Email         string         `json:"email"`
	OAuthAccounts []OAuthAccount `json:"oauth_accounts"`
}

// Admin

type GetUserRequest struct {
	AccessToken string `json:"access_token"`
	ID          string `json:"id"`
}

type GetUserResponse struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	IsActive      bool           `json:"is_active"`
	IsSuperuser   bool           `json:"is_superuser"`
	OAuthAccounts []OAuthAccount `json:"oauth_accounts"`
}

type GetUserListRequest struct {
	AccessToken string `json:"access_token"`
	PageRequest
}

type UserInList struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	IsActive    bool   `json:"is_active"`
	IsSuperuser bool   `json:"is_superuser"`
}

type GetUserListResponse struct {
	Results []UserInList `json:"results"`
	PageInfo
}

type CreatePolicyRequest struct {
	AccessToken string   `json:"access_token"`
	Policy      Document `json:"policy"`
}

type CreatePolicyResponse struct {
	ID string `json:"id"`
}

type UpdatePolicyRequest struct {
	AccessToken string   `json:"access_token"`
	ID          string   `json:"id"`
	Policy      Document `json:"policy"`
}

type PolicyRequest struct {
	AccessToken string `json:"access_token"`
	ID          string `json:"id"`
}

type GetPolicyResponse struct {
	Policy string `json:"policy"`
}

type GetPolicyListRequest struct {
	AccessToken string `json:"access_token"`
	PageRequest
}

type GetPolicyListResponse struct {
	Policy []string `json:"policy"`
	PageInfo
}

type CheckAccessRequest struct {
	AccessToken string   `json:"access_token"`
	Inquiry     Document `json:"inquiry"`
}

type CheckAccessResponse struct {
	HasAccess bool `json:"has_access"`
}

// OAuth

type ProviderLoginURLRequest struct {
	CallbackURL string `json:"callback_url"`
	AccessToken string `json:"access_token,omitempty"`
}

type ProviderLoginURLResponse struct {
	URL        string `json:"url"`
	StateToken string `json:"state_token"`
}

type OAuthLoginRequest struct {
	Code       string `json:"code"`
	StateToken string `json:"state_token"`
}

type AttachAccountRequest struct {
	Code        string `json:"code"`
	StateToken  string `json:"state_token"`
	AccessToken string `json:"access_token"`
}
