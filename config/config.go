// Package config loads the server configuration from an optional .env file,
// an optional YAML file and COOKIEAUTH_* environment variables, in that
// order of increasing precedence.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/mnehpets/cookieauth/provider"
	"github.com/mnehpets/cookieauth/secret"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "COOKIEAUTH_"

// Provider kinds other than preset names.
const (
	KindOIDC   = "oidc"
	KindOAuth2 = "oauth2"
)

// Config is the server configuration.
type Config struct {
	Debug     bool   `yaml:"debug" env:"DEBUG"`
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	Listen    string `yaml:"listen" env:"LISTEN"`
	PublicURL string `yaml:"public_url" env:"PUBLIC_URL"`
	BasePath  string `yaml:"base_path" env:"BASE_PATH"`

	// Secrets are ordered newest first.
	Secrets       []string      `yaml:"secrets" env:"SECRETS" envSeparator:","`
	SessionMaxAge time.Duration `yaml:"session_max_age" env:"SESSION_MAX_AGE"`

	PostSignInURI  string `yaml:"post_signin_uri" env:"POST_SIGNIN_URI"`
	PostSignOutURI string `yaml:"post_signout_uri" env:"POST_SIGNOUT_URI"`
	ErrorURI       string `yaml:"error_uri" env:"ERROR_URI"`

	TrustProxyHeaders bool          `yaml:"trust_proxy_headers" env:"TRUST_PROXY_HEADERS"`
	CookieDomain      string        `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
	ProviderTimeout   time.Duration `yaml:"provider_timeout" env:"PROVIDER_TIMEOUT"`

	Providers []ProviderConfig `yaml:"providers" env:"-"`
	// ProvidersJSON replaces Providers when set from the environment.
	ProvidersJSON string `yaml:"-" env:"PROVIDERS"`
}

// ProviderConfig describes one identity provider. Kind is a preset name,
// "oidc" or "oauth2".
type ProviderConfig struct {
	ID           string            `yaml:"id" json:"id"`
	Kind         string            `yaml:"kind" json:"kind"`
	ClientID     string            `yaml:"client_id" json:"client_id"`
	ClientSecret string            `yaml:"client_secret" json:"client_secret"`
	Issuer       string            `yaml:"issuer" json:"issuer"`
	AuthURL      string            `yaml:"auth_url" json:"auth_url"`
	TokenURL     string            `yaml:"token_url" json:"token_url"`
	UserInfoURL  string            `yaml:"userinfo_url" json:"userinfo_url"`
	Scopes       []string          `yaml:"scopes" json:"scopes"`
	Extra        map[string]string `yaml:"extra" json:"extra"`
}

// Default returns the configuration used for unset fields.
func Default() Config {
	return Config{
		LogLevel:        "info",
		Listen:          ":8080",
		PublicURL:       "http://localhost:8080",
		BasePath:        "/auth",
		SessionMaxAge:   7 * 24 * time.Hour,
		ProviderTimeout: 30 * time.Second,
	}
}

// Load reads .env (if present), then the YAML file at path (skipped when
// path is empty), then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	if c.ProvidersJSON != "" {
		var ps []ProviderConfig
		if err := json.Unmarshal([]byte(c.ProvidersJSON), &ps); err != nil {
			return fmt.Errorf("config: %sPROVIDERS: %w", EnvPrefix, err)
		}
		c.Providers = ps
	}
	return nil
}

// Validate checks the configuration. Secrets are parsed into a ring so that
// a bad key fails at startup.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Ring(); err != nil {
		errs = append(errs, fmt.Errorf("secrets: %w", err))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("public_url: must be an absolute URL, got %q", c.PublicURL))
	}
	if c.SessionMaxAge < 0 {
		errs = append(errs, errors.New("session_max_age: must not be negative"))
	}

	seen := map[string]bool{}
	for i, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: missing id", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("providers[%d] %s: %w", i, p.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (p ProviderConfig) kind() string {
	if p.Kind == "" {
		return strings.ToLower(p.ID)
	}
	return strings.ToLower(p.Kind)
}

func (p ProviderConfig) validate() error {
	if p.ClientID == "" {
		return errors.New("missing client_id")
	}
	switch k := p.kind(); k {
	case KindOIDC:
		if p.Issuer == "" {
			return errors.New("oidc provider needs issuer")
		}
	case KindOAuth2:
		if p.AuthURL == "" || p.TokenURL == "" || p.UserInfoURL == "" {
			return errors.New("oauth2 provider needs auth_url, token_url and userinfo_url")
		}
	default:
		if _, ok := provider.Presets[k]; !ok {
			return fmt.Errorf("unknown kind %q (presets: %s)", k, strings.Join(provider.PresetNames(), ", "))
		}
	}
	return nil
}

// Ring builds the key ring from Secrets.
func (c *Config) Ring() (*secret.Ring, error) {
	return secret.NewRing(c.Secrets...)
}

// Level returns the parsed log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// Build constructs the provider. OIDC providers perform discovery using ctx.
func (p ProviderConfig) Build(ctx context.Context, redirectURL string, client *http.Client) (provider.Provider, error) {
	if err := p.validate(); err != nil {
		return nil, &provider.ConfigError{ID: p.ID, Reason: err.Error()}
	}
	creds := provider.Credentials{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       p.Scopes,
		Extra:        p.Extra,
		HTTPClient:   client,
	}
	switch k := p.kind(); k {
	case KindOIDC:
		return provider.NewOIDC(ctx, p.ID, p.Issuer, creds)
	case KindOAuth2:
		return provider.NewOAuth2(provider.Config{
			ID:           p.ID,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  redirectURL,
			AuthURL:      p.AuthURL,
			TokenURL:     p.TokenURL,
			UserInfoURL:  p.UserInfoURL,
			Scopes:       p.Scopes,
			Extra:        p.Extra,
			HTTPClient:   client,
		})
	default:
		return provider.NewPreset(k, p.ID, creds)
	}
}
