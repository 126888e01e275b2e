package config

import (
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/MGallo-Code/visio/internal/oauth"
)

// --- LoadConfig ---

func TestLoadConfig(t *testing.T) {
	// Helper sets the minimum required env vars for a valid config
	setRequired := func(t *testing.T) {
		t.Helper()
		t.Setenv("DATABASE_URL", "postgres://localhost/visio")
		t.Setenv("OAUTH_CLIENT_ID", "client")
		t.Setenv("OAUTH_CLIENT_SECRET", "secret")
		t.Setenv("OAUTH_REDIRECT_URI", "http://localhost:3001/auth/callback")
		t.Setenv("ZEGO_APP_ID", "123456789")
		t.Setenv("ZEGO_SERVER_SECRET", "zego-secret")
	}

	t.Run("returns valid config with defaults", func(t *testing.T) {
		setRequired(t)

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.DatabaseURL != "postgres://localhost/visio" {
			t.Errorf("DatabaseURL: got %q", cfg.DatabaseURL)
		}
		if cfg.RedisURL != "" {
			t.Errorf("RedisURL: expected empty, got %q", cfg.RedisURL)
		}
		if cfg.Port != "3001" {
			t.Errorf("Port: expected 3001, got %q", cfg.Port)
		}
		if cfg.SessionTTL != 24*time.Hour || cfg.PKCETTL != 10*time.Minute || cfg.ZegoTokenTTL != time.Hour {
			t.Errorf("unexpected TTL defaults: session=%s pkce=%s zego=%s", cfg.SessionTTL, cfg.PKCETTL, cfg.ZegoTokenTTL)
		}
		if cfg.OAuth.Timeout != 10*time.Second || cfg.OAuth.MaxAttempts != 3 {
			t.Errorf("unexpected oauth defaults: timeout=%s attempts=%d", cfg.OAuth.Timeout, cfg.OAuth.MaxAttempts)
		}
		if cfg.Provider.AuthorizationEndpoint != defaultAuthURL || cfg.Provider.TokenEndpoint != defaultTokenURL {
			t.Errorf("expected default endpoints, got %+v", cfg.Provider)
		}
		if !slices.Equal(cfg.Provider.Scopes, []string{"openid", "profile"}) {
			t.Errorf("Scopes: got %v", cfg.Provider.Scopes)
		}
		if cfg.Production() {
			t.Error("expected development by default")
		}
		if cfg.LogLevel != slog.LevelInfo {
			t.Errorf("LogLevel: expected info, got %s", cfg.LogLevel)
		}
	})

	for _, key := range []string{"DATABASE_URL", "OAUTH_CLIENT_ID", "OAUTH_CLIENT_SECRET", "OAUTH_REDIRECT_URI", "ZEGO_APP_ID", "ZEGO_SERVER_SECRET"} {
		t.Run("errors when "+key+" is missing", func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, "")

			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error for missing %s, got nil", key)
			}
		})
	}

	t.Run("errors on whitespace-only ZEGO_SERVER_SECRET", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ZEGO_SERVER_SECRET", "   ")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("rejects malformed authorization endpoint", func(t *testing.T) {
		setRequired(t)
		t.Setenv("OAUTH_AUTH_URL", "not-a-url")

		_, err := LoadConfig()
		if !errors.Is(err, oauth.ErrInvalidAuthorizationEndpoint) {
			t.Fatalf("expected ErrInvalidAuthorizationEndpoint, got %v", err)
		}
	})

	t.Run("custom endpoints and scopes", func(t *testing.T) {
		setRequired(t)
		t.Setenv("OAUTH_AUTH_URL", "https://idp.test/authorize")
		t.Setenv("OAUTH_TOKEN_URL", "https://idp.test/token")
		t.Setenv("OAUTH_USERINFO_URL", "https://idp.test/userinfo")
		t.Setenv("OAUTH_SCOPES", "openid, email ,,profile")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Provider.UserInfoEndpoint != "https://idp.test/userinfo" {
			t.Errorf("UserInfoEndpoint: got %q", cfg.Provider.UserInfoEndpoint)
		}
		if !slices.Equal(cfg.Provider.Scopes, []string{"openid", "email", "profile"}) {
			t.Errorf("Scopes: got %v", cfg.Provider.Scopes)
		}
	})

	t.Run("rejects unparseable duration", func(t *testing.T) {
		setRequired(t)
		t.Setenv("SESSION_TTL", "forever")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("rejects non-positive duration", func(t *testing.T) {
		setRequired(t)
		t.Setenv("PKCE_TTL", "0s")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("rejects zero max attempts", func(t *testing.T) {
		setRequired(t)
		t.Setenv("OAUTH_MAX_ATTEMPTS", "0")

		if _, err := LoadConfig(); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("trims trailing slash from APP_BASE_URL", func(t *testing.T) {
		setRequired(t)
		t.Setenv("APP_BASE_URL", "https://visio.example.com/")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.AppBaseURL != "https://visio.example.com" {
			t.Errorf("AppBaseURL: got %q", cfg.AppBaseURL)
		}
	})

	t.Run("production and log level", func(t *testing.T) {
		setRequired(t)
		t.Setenv("APP_ENV", "production")
		t.Setenv("LOG_LEVEL", "DEBUG")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if !cfg.Production() {
			t.Error("expected production")
		}
		if cfg.LogLevel != slog.LevelDebug {
			t.Errorf("LogLevel: expected debug, got %s", cfg.LogLevel)
		}
	})

	t.Run("CookieSecure defaults to true when unset", func(t *testing.T) {
		setRequired(t)
		t.Setenv("COOKIE_SECURE", "")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if !cfg.CookieSecure {
			t.Error("CookieSecure should default to true when COOKIE_SECURE is unset")
		}
	})

	t.Run("CookieSecure stays true for any non-false value", func(t *testing.T) {
		setRequired(t)
		for _, val := range []string{"true", "1", "yes", "FALSE", "typo"} {
			t.Setenv("COOKIE_SECURE", val)

			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig failed for %q: %v", val, err)
			}
			if !cfg.CookieSecure {
				t.Errorf("CookieSecure should be true for %q", val)
			}
		}
		t.Setenv("COOKIE_SECURE", "false")
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.CookieSecure {
			t.Error("CookieSecure should be false when COOKIE_SECURE is \"false\"")
		}
	})
}
