// client.go -- Token endpoint client: authorization code exchange and refresh with retry.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/MGallo-Code/visio/internal/telemetry"
	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
)

// Defaults applied by NewClient when ClientOptions leaves a field zero.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 200 * time.Millisecond
)

// ClientOptions tunes transport and retry behaviour. Zero values select the defaults.
type ClientOptions struct {
	HTTPClient     *http.Client // defaults to &http.Client{Timeout: DefaultTimeout}
	MaxAttempts    uint         // total attempts per token request, including the first
	InitialBackoff time.Duration
	Logger         *slog.Logger
	Telemetry      *telemetry.Telemetry
}

// Client talks to one identity provider's token and userinfo endpoints.
// Safe for concurrent use; holds no per-request state.
type Client struct {
	cfg            ProviderConfig
	oauth          *oauth2.Config
	userInfo       *oidc.Provider
	httpClient     *http.Client
	maxAttempts    uint
	initialBackoff time.Duration
	logger         *slog.Logger
	tel            *telemetry.Telemetry
	now            func() time.Time
}

// NewClient builds a Client for cfg. cfg is copied; later changes to the caller's value
// have no effect.
func NewClient(cfg ProviderConfig, opts ClientOptions) *Client {
	c := &Client{
		cfg:            cfg,
		oauth:          oauth2Config(cfg),
		httpClient:     opts.HTTPClient,
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
		logger:         opts.Logger,
		tel:            opts.Telemetry,
		now:            time.Now,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.maxAttempts == 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = DefaultInitialBackoff
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tel == nil {
		c.tel = telemetry.Default()
	}
	c.userInfo = (&oidc.ProviderConfig{
		AuthURL:     cfg.AuthorizationEndpoint,
		TokenURL:    cfg.TokenEndpoint,
		UserInfoURL: cfg.UserInfoEndpoint,
	}).NewProvider(oidc.ClientContext(context.Background(), c.httpClient))
	return c
}

// Config returns the provider configuration the client was built with.
func (c *Client) Config() ProviderConfig { return c.cfg }

// AuthURL builds the authorization redirect for state + challenge.
func (c *Client) AuthURL(state, codeChallenge string) (string, error) {
	return BuildAuthURL(c.cfg, state, codeChallenge)
}

// Exchange trades an authorization code and its PKCE verifier for tokens.
// Transport failures and 5xx responses are retried with exponential backoff; 4xx responses
// (invalid_grant, reused code) are not. Failures wrap ErrTokenExchangeFailed.
func (c *Client) Exchange(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	tok, err := c.retrieve(ctx, "authorization_code", func(ctx context.Context) (*oauth2.Token, error) {
		return c.oauth.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}
	return c.tokenResponse(tok), nil
}

// Refresh obtains a new access token with grant_type=refresh_token. Same retry policy as
// Exchange. If the provider does not rotate the refresh token, the old one is kept.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrTokenRefreshFailed)
	}
	tok, err := c.retrieve(ctx, "refresh_token", func(ctx context.Context) (*oauth2.Token, error) {
		// Empty access token makes the source treat it as expired and refresh immediately.
		return c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenRefreshFailed, err)
	}
	return c.tokenResponse(tok), nil
}

// retrieve runs fetch under the retry policy, injecting the bounded HTTP client.
func (c *Client) retrieve(ctx context.Context, grantType string, fetch func(context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	ctx, span := c.tel.StartSpan(ctx, "oauth.token_request",
		attribute.String("oauth.grant_type", grantType),
		attribute.String("provider.name", c.cfg.Name),
	)
	defer span.End()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	attempts := 0
	op := func() (*oauth2.Token, error) {
		attempts++
		tok, err := fetch(ctx)
		if err == nil {
			return tok, nil
		}
		if !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff

	tok, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("token request failed, retrying",
				"grant_type", grantType, "attempt", attempts, "retry_in", next, "reason", errorSummary(err))
		}),
	)
	span.SetAttributes(attribute.Int("oauth.attempts", attempts))
	if err != nil {
		span.SetStatus(codes.Error, errorSummary(err))
		c.tel.TokenRequest(ctx, grantType, "failure")
		c.logFailure(grantType, attempts, err)
		return nil, err
	}
	c.tel.TokenRequest(ctx, grantType, "success")
	c.logger.Info("token request succeeded", "grant_type", grantType, "attempts", attempts)
	return tok, nil
}

// retryable reports whether err is a transient transport failure or a 5xx from the provider.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		return rErr.Response != nil && rErr.Response.StatusCode >= http.StatusInternalServerError
	}
	// *url.Error from http.Client implements net.Error: covers refused connections,
	// resets, DNS failures, and client timeouts.
	var netErr net.Error
	return errors.As(err, &netErr)
}

// errorSummary describes err without upstream response bodies, which may carry secrets.
func errorSummary(err error) string {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		if rErr.ErrorCode != "" {
			return fmt.Sprintf("status %d: %s", status, rErr.ErrorCode)
		}
		return fmt.Sprintf("status %d", status)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "transport error"
	}
	return "invalid token response"
}

// logFailure logs the final failure at warn with a body-free summary; the full upstream
// body is only emitted at debug level.
func (c *Client) logFailure(grantType string, attempts int, err error) {
	c.logger.Warn("token request failed", "grant_type", grantType, "attempts", attempts, "reason", errorSummary(err))
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		c.logger.Debug("token endpoint response", "grant_type", grantType, "body", string(rErr.Body))
	}
}

func (c *Client) tokenResponse(tok *oauth2.Token) *TokenResponse {
	idToken, _ := tok.Extra("id_token").(string)
	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      idToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(math.Round(tok.Expiry.Sub(c.now()).Seconds()))
	}
	return resp
}
