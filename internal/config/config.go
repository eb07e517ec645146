// Package config loads service settings from defaults, an optional YAML
// file and AUTH_GRPC_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix = "AUTH_GRPC_"
	// EnvFile names the variable holding the YAML config path.
	EnvFile = EnvPrefix + "CONFIG_FILE"
)

// Provider is the client registration for one OAuth provider. An empty
// ClientID leaves the provider disabled.
type Provider struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	UserInfoURL  string   `yaml:"userinfo_url"`
}

func (p Provider) Enabled() bool { return strings.TrimSpace(p.ClientID) != "" }

type Config struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	PostgresDSN   string `yaml:"postgres_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	SecretKey       string        `yaml:"secret_key"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`

	DefaultCacheTTL     time.Duration `yaml:"default_cache_ttl"`
	CheckAccessCacheTTL time.Duration `yaml:"check_access_cache_ttl"`
	LocalCacheMaxCost   int64         `yaml:"local_cache_max_cost"`

	LogLevel   string `yaml:"log_level"`
	LogBackend string `yaml:"log_backend"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	OAuthStateTTL time.Duration       `yaml:"oauth_state_ttl"`
	OAuth         map[string]Provider `yaml:"oauth"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		RedisAddr:           "localhost:6379",
		AccessTokenTTL:      15 * time.Minute,
		RefreshTokenTTL:     720 * time.Hour,
		DefaultCacheTTL:     10 * time.Second,
		CheckAccessCacheTTL: 30 * time.Second,
		LocalCacheMaxCost:   32 << 20,
		LogLevel:            "info",
		LogBackend:          "slog",
		RateLimitBurst:      20,
		OAuthStateTTL:       600 * time.Second,
		OAuth:               map[string]Provider{},
	}
}

// Load reads .env (if present), the YAML file named by AUTH_GRPC_CONFIG_FILE
// and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadFrom(os.Getenv(EnvFile), os.LookupEnv)
}

// LoadFrom layers the YAML file at path (optional) and lookup over defaults.
func LoadFrom(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.SecretKey) == "" {
		errs = append(errs, errors.New("secret_key is required"))
	}
	if strings.TrimSpace(c.PostgresDSN) == "" {
		errs = append(errs, errors.New("postgres_dsn is required"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token ttls must be positive"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	for name, p := range c.OAuth {
		if p.Enabled() && p.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("oauth.%s.client_secret is required", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

type envField struct {
	key string
	set func(string) error
}

func (c *Config) fields() []envField {
	return []envField{
		{"GRPC_ADDR", setString(&c.GRPCAddr)},
		{"METRICS_ADDR", setString(&c.MetricsAddr)},
		{"POSTGRES_DSN", setString(&c.PostgresDSN)},
		{"REDIS_ADDR", setString(&c.RedisAddr)},
		{"REDIS_PASSWORD", setString(&c.RedisPassword)},
		{"REDIS_DB", setInt(&c.RedisDB)},
		{"SECRET_KEY", setString(&c.SecretKey)},
		{"ACCESS_TOKEN_TTL", setDuration(&c.AccessTokenTTL)},
		{"REFRESH_TOKEN_TTL", setDuration(&c.RefreshTokenTTL)},
		{"DEFAULT_CACHE_TTL", setDuration(&c.DefaultCacheTTL)},
		{"CHECK_ACCESS_CACHE_TTL", setDuration(&c.CheckAccessCacheTTL)},
		{"LOCAL_CACHE_MAX_COST", func(v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			c.LocalCacheMaxCost = n
			return err
		}},
		{"LOG_LEVEL", setString(&c.LogLevel)},
		{"LOG_BACKEND", setString(&c.LogBackend)},
		{"RATE_LIMIT_RPS", func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			c.RateLimitRPS = f
			return err
		}},
		{"RATE_LIMIT_BURST", setInt(&c.RateLimitBurst)},
		{"OAUTH_STATE_TTL", setDuration(&c.OAuthStateTTL)},
	}
}

// applyEnv overrides fields from AUTH_GRPC_<FIELD>. Providers use
// AUTH_GRPC_OAUTH_<PROVIDER>_{CLIENT_ID,CLIENT_SECRET,SCOPES,USERINFO_URL};
// scopes are comma separated.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, f := range c.fields() {
		v, ok := lookup(EnvPrefix + f.key)
		if !ok {
			continue
		}
		if err := f.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, f.key, err)
		}
	}
	if c.OAuth == nil {
		c.OAuth = map[string]Provider{}
	}
	for _, name := range []string{"google", "yandex"} {
		p := c.OAuth[name]
		prefix := EnvPrefix + "OAUTH_" + strings.ToUpper(name) + "_"
		changed := false
		if v, ok := lookup(prefix + "CLIENT_ID"); ok {
			p.ClientID, changed = v, true
		}
		if v, ok := lookup(prefix + "CLIENT_SECRET"); ok {
			p.ClientSecret, changed = v, true
		}
		if v, ok := lookup(prefix + "USERINFO_URL"); ok {
			p.UserInfoURL, changed = v, true
		}
		if v, ok := lookup(prefix + "SCOPES"); ok {
			p.Scopes, changed = splitList(v), true
		}
		if changed {
			c.OAuth[name] = p
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		*dst = n
		return err
	}
}

// setDuration accepts Go durations ("15m") or plain seconds ("600").
func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = time.Duration(secs) * time.Second
			return nil
		}
		d, err := time.ParseDuration(v)
		*dst = d
		return err
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
