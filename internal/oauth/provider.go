// provider.go -- Identity provider configuration and shared OAuth types.
package oauth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// ErrTokenExchangeFailed is returned by Exchange when the authorization code could not be
// traded for tokens, after retries where retrying was allowed.
var ErrTokenExchangeFailed = errors.New("token exchange failed")

// ErrTokenRefreshFailed is returned by Refresh when the refresh grant fails.
var ErrTokenRefreshFailed = errors.New("token refresh failed")

// ErrInvalidAuthorizationEndpoint is returned when the configured authorization endpoint
// is not a syntactically valid absolute URL. This is a configuration error.
var ErrInvalidAuthorizationEndpoint = errors.New("invalid authorization endpoint")

// ProviderConfig is the process-wide identity provider configuration.
// Built once at startup by config.LoadConfig and passed by value; never mutated afterwards.
type ProviderConfig struct {
	Name                  string // short provider label for logs and metrics
	ClientID              string
	ClientSecret          string
	RedirectURI           string
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserInfoEndpoint      string
	Scopes                []string
}

// Validate reports configuration errors that must abort startup.
func (c ProviderConfig) Validate() error {
	if c.ClientID == "" {
		return errors.New("oauth client id is required")
	}
	if c.ClientSecret == "" {
		return errors.New("oauth client secret is required")
	}
	if c.RedirectURI == "" {
		return errors.New("oauth redirect uri is required")
	}
	if err := validateAbsoluteURL(c.AuthorizationEndpoint); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAuthorizationEndpoint, err)
	}
	if err := validateAbsoluteURL(c.TokenEndpoint); err != nil {
		return fmt.Errorf("invalid token endpoint: %w", err)
	}
	return nil
}

// validateAbsoluteURL requires a parseable URL with both scheme and host.
func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%q is not an absolute url", raw)
	}
	return nil
}

// TokenResponse holds the tokens returned by the provider's token endpoint.
// AccessToken, RefreshToken and IDToken are secrets: they stay inside the session record
// and must never reach logs or the browser.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string // empty if the provider did not issue one
	IDToken      string // empty if the provider did not return an id_token
	TokenType    string
	ExpiresIn    int64     // seconds, as reported by the provider
	Expiry       time.Time // absolute instant derived from ExpiresIn; zero if unknown
}

// LogValue keeps secrets out of structured logs if a TokenResponse is ever logged.
func (t TokenResponse) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token_type", t.TokenType),
		slog.Int64("expires_in", t.ExpiresIn),
		slog.Bool("has_refresh", t.RefreshToken != ""),
		slog.Bool("has_id_token", t.IDToken != ""),
	)
}

// String redacts secrets for fmt-style printing.
func (t TokenResponse) String() string {
	return fmt.Sprintf("TokenResponse{type=%s expires_in=%d refresh=%t id_token=%t}",
		t.TokenType, t.ExpiresIn, t.RefreshToken != "", t.IDToken != "")
}
