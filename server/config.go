package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Provider and session defaults
const (
	DefaultProviderName    = "vk"
	DefaultVKAuthURL       = "https://oauth.vk.com/authorize"
	DefaultVKTokenURL      = "https://oauth.vk.com/access_token"
	DefaultVKAPIURL        = "https://api.vk.com/method"
	DefaultVKAPIVersion    = "5.131"
	DefaultProviderTimeout = 10 * time.Second
	DefaultSessionIssuer   = "deckauth"
)

// Response renderings of the exchange endpoint.
const (
	ResponseModeJSON = "json"
	ResponseModeHTML = "html"
)

// Hardcoded CORS defaults for the exchange endpoint
var (
	DefaultCORSAllowedHeaders = []string{"Content-Type", "Authorization"}
	DefaultCORSAllowedMethods = []string{"GET", "POST", "OPTIONS"}
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Deck     DeckConfig     `yaml:"deck"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string          `yaml:"public_url"`
	DevListenAddr   string          `yaml:"dev_listen_addr"`
	HTTPListenAddr  string          `yaml:"http_listen_addr"`
	HTTPSListenAddr string          `yaml:"https_listen_addr"`
	DevMode         bool            `yaml:"dev_mode"`
	SecretsPath     string          `yaml:"secrets_path"`
	TLS             TLSConfig       `yaml:"tls"`
	ResponseMode    string          `yaml:"response_mode"`
	AppOrigin       string          `yaml:"app_origin"`
	CORS            CORSConfig      `yaml:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`

	// TrustProxyHeaders keys rate limiting on X-Forwarded-For.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	MinVersion string   `yaml:"min_version"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// CORSConfig lists the origins allowed on the deck content routes. The
// exchange endpoint itself always answers with a wildcard origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig bounds exchange requests per client IP. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// ProviderConfig holds the upstream identity provider credentials and endpoints.
type ProviderConfig struct {
	Name         string        `yaml:"name"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	RedirectURI  string        `yaml:"redirect_uri"`
	AuthURL      string        `yaml:"auth_url"`
	TokenURL     string        `yaml:"token_url"`
	APIURL       string        `yaml:"api_url"`
	APIVersion   string        `yaml:"api_version"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SessionConfig controls minting of session tokens.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`

	// Signed switches from the plain base64 token to an HS256 JWT.
	Signed     bool   `yaml:"signed"`
	SigningKey string `yaml:"signing_key"`
	Issuer     string `yaml:"issuer"`
}

// DeckConfig points at the agenda database.
type DeckConfig struct {
	Database string `yaml:"database"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		sanitized := stripYAMLComments(b)

		// Use strict unmarshaling to detect unknown fields
		decoder := yaml.NewDecoder(bytes.NewReader(sanitized))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SecretsPath:     ".secrets",
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				MinVersion: "1.2",
				HSTSMaxAge: 31536000,
			},
			ResponseMode: ResponseModeJSON,
			AppOrigin:    "http://127.0.0.1:5173",
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 30,
				Burst:             10,
			},
		},
		Provider: ProviderConfig{
			Name:       DefaultProviderName,
			AuthURL:    DefaultVKAuthURL,
			TokenURL:   DefaultVKTokenURL,
			APIURL:     DefaultVKAPIURL,
			APIVersion: DefaultVKAPIVersion,
			Timeout:    DefaultProviderTimeout,
		},
		Session: SessionConfig{
			TTL:    7 * 24 * time.Hour,
			Issuer: DefaultSessionIssuer,
		},
		Deck: DeckConfig{
			Database: "deck.db",
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func stripYAMLComments(in []byte) []byte {
	lines := bytes.Split(in, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		trim := bytes.TrimLeft(line, " \t")
		if len(trim) > 0 && trim[0] == '#' {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}

// envOverrides holds raw environment values. The VK_* names are the ones the
// hosting platform injects for the provider credentials.
type envOverrides struct {
	ClientID        string   `env:"VK_APP_ID"`
	ClientSecret    string   `env:"VK_APP_SECRET"`
	RedirectURI     string   `env:"VK_REDIRECT_URI"`
	PublicURL       string   `env:"DECKAUTH_SERVER_PUBLIC_URL"`
	DevListenAddr   string   `env:"DECKAUTH_SERVER_DEV_LISTEN_ADDR"`
	HTTPListenAddr  string   `env:"DECKAUTH_SERVER_HTTP_LISTEN_ADDR"`
	HTTPSListenAddr string   `env:"DECKAUTH_SERVER_HTTPS_LISTEN_ADDR"`
	DevMode         *bool    `env:"DECKAUTH_SERVER_DEV_MODE"`
	TLSDomains      []string `env:"DECKAUTH_SERVER_TLS_DOMAINS" envSeparator:","`
	TLSEmail        string   `env:"DECKAUTH_SERVER_TLS_EMAIL"`
	SecretsPath     string   `env:"DECKAUTH_SERVER_SECRETS_PATH"`
	ResponseMode    string   `env:"DECKAUTH_SERVER_RESPONSE_MODE"`
	AppOrigin       string   `env:"DECKAUTH_SERVER_APP_ORIGIN"`
	ProviderName    string   `env:"DECKAUTH_PROVIDER_NAME"`
	SigningKey      string   `env:"DECKAUTH_SESSION_SIGNING_KEY"`
	DeckDatabase    string   `env:"DECKAUTH_DECK_DATABASE"`
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Provider.ClientID, o.ClientID)
	set(&cfg.Provider.ClientSecret, o.ClientSecret)
	set(&cfg.Provider.RedirectURI, o.RedirectURI)
	set(&cfg.Provider.Name, o.ProviderName)
	set(&cfg.Server.PublicURL, o.PublicURL)
	set(&cfg.Server.DevListenAddr, o.DevListenAddr)
	set(&cfg.Server.HTTPListenAddr, o.HTTPListenAddr)
	set(&cfg.Server.HTTPSListenAddr, o.HTTPSListenAddr)
	set(&cfg.Server.TLS.Email, o.TLSEmail)
	set(&cfg.Server.SecretsPath, o.SecretsPath)
	set(&cfg.Server.ResponseMode, o.ResponseMode)
	set(&cfg.Server.AppOrigin, o.AppOrigin)
	set(&cfg.Session.SigningKey, o.SigningKey)
	set(&cfg.Deck.Database, o.DeckDatabase)
	if o.DevMode != nil {
		cfg.Server.DevMode = *o.DevMode
	}
	if len(o.TLSDomains) > 0 {
		cfg.Server.TLS.Domains = o.TLSDomains
	}
	return nil
}

// Validate performs minimal sanity checks on the config. Missing provider
// credentials are not an error here: the exchange endpoint reports them per
// request so the rest of the service stays up.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}
	if !isHTTPURL(c.Server.PublicURL) {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Server.TLS.MinVersion != "" {
		validVersions := map[string]bool{"1.2": true, "1.3": true}
		if !validVersions[c.Server.TLS.MinVersion] {
			slog.Error("Invalid TLS minimum version", "field", "server.tls.min_version", "value", c.Server.TLS.MinVersion, "valid_values", []string{"1.2", "1.3"})
			return fmt.Errorf("server.tls.min_version must be '1.2' or '1.3', got: %s", c.Server.TLS.MinVersion)
		}
	}

	switch c.Server.ResponseMode {
	case ResponseModeJSON:
	case ResponseModeHTML:
		if c.Server.AppOrigin == "" || c.Server.AppOrigin == "*" {
			slog.Error("Missing app origin for html responses", "field", "server.app_origin")
			return errors.New("server.app_origin must name the opener origin when server.response_mode is html")
		}
	default:
		slog.Error("Invalid response mode", "field", "server.response_mode", "value", c.Server.ResponseMode, "valid_values", []string{ResponseModeJSON, ResponseModeHTML})
		return fmt.Errorf("server.response_mode must be '%s' or '%s', got: %s", ResponseModeJSON, ResponseModeHTML, c.Server.ResponseMode)
	}

	if c.Server.AppOrigin != "" && extractOrigin(c.Server.AppOrigin) != c.Server.AppOrigin {
		return fmt.Errorf("server.app_origin must be a bare origin (scheme://host[:port]), got: %s", c.Server.AppOrigin)
	}

	if c.Server.RateLimit.RequestsPerMinute < 0 || c.Server.RateLimit.Burst < 0 {
		return errors.New("server.rate_limit values must not be negative")
	}

	switch c.Provider.Name {
	case "vk":
		for field, v := range map[string]string{
			"provider.auth_url":  c.Provider.AuthURL,
			"provider.token_url": c.Provider.TokenURL,
			"provider.api_url":   c.Provider.APIURL,
		} {
			if !isHTTPURL(v) {
				slog.Error("Invalid provider endpoint", "field", field, "value", v)
				return fmt.Errorf("%s must start with http:// or https://, got: %s", field, v)
			}
		}
		if c.Provider.RedirectURI != "" && !isHTTPURL(c.Provider.RedirectURI) {
			return fmt.Errorf("provider.redirect_uri must start with http:// or https://, got: %s", c.Provider.RedirectURI)
		}
	case devProviderName:
		if !c.Server.DevMode {
			slog.Error("Dev provider outside dev mode", "field", "provider.name")
			return errors.New("provider.name 'dev' is only allowed when server.dev_mode is true")
		}
	default:
		slog.Error("Unknown provider", "field", "provider.name", "value", c.Provider.Name, "valid_values", []string{"vk", devProviderName})
		return fmt.Errorf("provider.name must be 'vk' or '%s', got: %s", devProviderName, c.Provider.Name)
	}
	if c.Provider.Timeout < 0 {
		return errors.New("provider.timeout must not be negative")
	}

	if c.Session.TTL <= 0 {
		return errors.New("session.ttl must be positive")
	}
	if c.Session.SigningKey != "" && len(c.Session.SigningKey) < 32 {
		slog.Error("Session signing key too short", "field", "session.signing_key", "min_length", 32)
		return errors.New("session.signing_key must be at least 32 bytes")
	}

	return nil
}

// ProviderConfigured reports whether the exchange endpoint can talk to the
// provider. The dev provider needs no credentials.
func (c Config) ProviderConfigured() bool {
	if c.Provider.Name == devProviderName {
		return true
	}
	p := c.Provider
	return p.ClientID != "" && p.ClientSecret != "" && p.RedirectURI != ""
}

// CORSOrigins returns the origins allowed on the deck routes, falling back to
// the app origin.
func (c Config) CORSOrigins() []string {
	if len(c.Server.CORS.AllowedOrigins) > 0 {
		return c.Server.CORS.AllowedOrigins
	}
	if c.Server.AppOrigin != "" {
		return []string{c.Server.AppOrigin}
	}
	return nil
}

func isHTTPURL(v string) bool {
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}

// extractOrigin extracts the origin (scheme://host:port) from a URL
func extractOrigin(urlStr string) string {
	if urlStr == "" || urlStr == "*" {
		return ""
	}
	idx := strings.Index(urlStr, "://")
	if idx == -1 {
		return ""
	}
	scheme, rest := urlStr[:idx], urlStr[idx+3:]
	if i := strings.IndexAny(rest, "/?#"); i != -1 {
		rest = rest[:i]
	}
	if scheme == "" || rest == "" {
		return ""
	}
	return scheme + "://" + rest
}
