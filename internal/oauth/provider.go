package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"gatekeep.org/internal/auth"
)

// ProviderConfig holds the client registration at a provider. AuthURL and
// TokenURL override the built-in endpoints.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	UserInfoURL  string
	AuthURL      string
	TokenURL     string
}

// Account is the identity a provider reports for the user.
type Account struct {
	ID    string
	Email string
}

// Provider exchanges authorization codes and reads the user's identity.
type Provider struct {
	name        auth.Provider
	conf        oauth2.Config
	userInfoURL string
	idField     string
	emailField  string
	client      *http.Client
}

// ProviderOption customises a Provider.
type ProviderOption func(*Provider)

// WithHTTPClient sets the client used for token exchange and userinfo.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		if c != nil {
			p.client = c
		}
	}
}

// NewProvider builds a provider by name.
func NewProvider(name auth.Provider, cfg ProviderConfig, opts ...ProviderOption) (*Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("oauth: %s client_id is required", name)
	}
	p := &Provider{
		name:   name,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	switch name {
	case auth.ProviderGoogle:
		p.conf.Endpoint = endpoints.Google
		p.conf.Scopes = []string{"openid", "email"}
		p.userInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
		p.idField, p.emailField = "sub", "email"
	case auth.ProviderYandex:
		p.conf.Endpoint = endpoints.Yandex
		p.conf.Scopes = []string{"login:email", "login:info"}
		p.userInfoURL = "https://login.yandex.ru/info?format=json"
		p.idField, p.emailField = "id", "default_email"
	default:
		return nil, ErrUnknownProvider
	}
	p.conf.ClientID = cfg.ClientID
	p.conf.ClientSecret = cfg.ClientSecret
	if len(cfg.Scopes) > 0 {
		p.conf.Scopes = cfg.Scopes
	}
	if cfg.UserInfoURL != "" {
		p.userInfoURL = cfg.UserInfoURL
	}
	if cfg.AuthURL != "" {
		p.conf.Endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		p.conf.Endpoint.TokenURL = cfg.TokenURL
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() auth.Provider { return p.name }

// AuthCodeURL is where the user is sent to grant access.
func (p *Provider) AuthCodeURL(state, redirectURL string) string {
	conf := p.conf
	conf.RedirectURL = redirectURL
	return conf.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// FetchAccount exchanges code and reads the user's identity. Every failure
// is ErrProviderResponse.
func (p *Provider) FetchAccount(ctx context.Context, code, redirectURL string) (Account, error) {
	conf := p.conf
	conf.RedirectURL = redirectURL
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return Account{}, fmt.Errorf("%w: exchange: %v", ErrProviderResponse, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrProviderResponse, err)
	}
	resp, err := conf.Client(ctx, tok).Do(req)
	if err != nil {
		return Account{}, fmt.Errorf("%w: userinfo: %v", ErrProviderResponse, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Account{}, fmt.Errorf("%w: userinfo status %d", ErrProviderResponse, resp.StatusCode)
	}
	var info map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return Account{}, fmt.Errorf("%w: userinfo body: %v", ErrProviderResponse, err)
	}
	acc := Account{ID: field(info, p.idField), Email: field(info, p.emailField)}
	if acc.ID == "" {
		return Account{}, fmt.Errorf("%w: userinfo has no %s", ErrProviderResponse, p.idField)
	}
	if err := auth.ValidateEmail(acc.Email); err != nil {
		return Account{}, fmt.Errorf("%w: userinfo email: %v", ErrProviderResponse, err)
	}
	return acc, nil
}

func field(info map[string]any, key string) string {
	switch v := info[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
