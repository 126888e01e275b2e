// config.go

// Environment variable loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MGallo-Code/visio/internal/oauth"
	"github.com/caarlos0/env/v11"
)

// France Travail candidate endpoints, used when OAUTH_*_URL is unset.
const (
	defaultAuthURL     = "https://authentification-candidat.francetravail.fr/connexion/oauth2/authorize"
	defaultTokenURL    = "https://authentification-candidat.francetravail.fr/connexion/oauth2/access_token"
	defaultUserInfoURL = "https://authentification-candidat.francetravail.fr/connexion/oauth2/userinfo"
)

// oauthEnv is the OAUTH_* block.
type oauthEnv struct {
	ProviderName string        `env:"PROVIDER_NAME" envDefault:"francetravail"`
	ClientID     string        `env:"CLIENT_ID,required,notEmpty"`
	ClientSecret string        `env:"CLIENT_SECRET,required,notEmpty"`
	RedirectURI  string        `env:"REDIRECT_URI,required,notEmpty"`
	AuthURL      string        `env:"AUTH_URL"`
	TokenURL     string        `env:"TOKEN_URL"`
	UserInfoURL  string        `env:"USERINFO_URL"`
	Scopes       []string      `env:"SCOPES" envSeparator:"," envDefault:"openid,profile"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
	MaxAttempts  uint          `env:"MAX_ATTEMPTS" envDefault:"3"`
}

// Config holds all env configuration vars for visio.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	// RedisURL is optional; empty selects the in-memory session store (single instance only).
	RedisURL   string `env:"REDIS_URL"`
	Port       string `env:"PORT" envDefault:"3001"`
	AppBaseURL string `env:"APP_BASE_URL"`
	AppEnv     string `env:"APP_ENV" envDefault:"development"`

	LogLevelName string     `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel     slog.Level `env:"-"`

	OAuth oauthEnv `envPrefix:"OAUTH_"`
	// Provider is built from OAuth after validation and never mutated afterwards.
	Provider oauth.ProviderConfig `env:"-"`

	ZegoAppID        string        `env:"ZEGO_APP_ID,required,notEmpty"`
	ZegoServerSecret string        `env:"ZEGO_SERVER_SECRET,required,notEmpty"`
	ZegoTokenTTL     time.Duration `env:"ZEGO_TOKEN_TTL" envDefault:"1h"`

	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	PKCETTL    time.Duration `env:"PKCE_TTL" envDefault:"10m"`

	// Default true; only explicit "false" disables.
	CookieSecureRaw string `env:"COOKIE_SECURE"`
	CookieSecure    bool   `env:"-"`
}

// Production reports whether APP_ENV is "production".
func (c *Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables are missing or any value is unusable.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing env: %w", err)
	}

	// Parse log level, default to info
	switch strings.ToLower(cfg.LogLevelName) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.CookieSecure = cfg.CookieSecureRaw != "false"

	if strings.TrimSpace(cfg.ZegoAppID) == "" {
		return nil, errors.New("ZEGO_APP_ID is required")
	}
	if strings.TrimSpace(cfg.ZegoServerSecret) == "" {
		return nil, errors.New("ZEGO_SERVER_SECRET is required")
	}

	for name, d := range map[string]time.Duration{
		"OAUTH_TIMEOUT":  cfg.OAuth.Timeout,
		"ZEGO_TOKEN_TTL": cfg.ZegoTokenTTL,
		"SESSION_TTL":    cfg.SessionTTL,
		"PKCE_TTL":       cfg.PKCETTL,
	} {
		if d <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if cfg.OAuth.MaxAttempts == 0 {
		return nil, errors.New("OAUTH_MAX_ATTEMPTS must be at least 1")
	}

	cfg.AppBaseURL = strings.TrimRight(cfg.AppBaseURL, "/")

	cfg.Provider = oauth.ProviderConfig{
		Name:                  cfg.OAuth.ProviderName,
		ClientID:              cfg.OAuth.ClientID,
		ClientSecret:          cfg.OAuth.ClientSecret,
		RedirectURI:           cfg.OAuth.RedirectURI,
		AuthorizationEndpoint: orDefault(cfg.OAuth.AuthURL, defaultAuthURL),
		TokenEndpoint:         orDefault(cfg.OAuth.TokenURL, defaultTokenURL),
		UserInfoEndpoint:      orDefault(cfg.OAuth.UserInfoURL, defaultUserInfoURL),
		Scopes:                trimAll(cfg.OAuth.Scopes),
	}
	// Malformed endpoints are fatal at startup rather than on the first login.
	if err := cfg.Provider.Validate(); err != nil {
		return nil, fmt.Errorf("oauth provider config: %w", err)
	}

	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// trimAll drops blanks and surrounding whitespace from a comma-split list.
func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
