// binder.go -- Session state machine: Anonymous -> PendingCallback -> Authenticated.
//
// The binder owns every transition of a session record. HTTP handlers translate
// its errors into redirects and status codes; they never touch records directly.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/visio/internal/oauth"
	"github.com/MGallo-Code/visio/internal/store"
	"github.com/MGallo-Code/visio/internal/telemetry"
)

// ErrMissingVerifier is returned by Callback when there is no login in progress for the
// session: no record, an anonymous record, or a pending login older than PendingTTL.
var ErrMissingVerifier = errors.New("missing pkce verifier")

// ErrInvalidState is returned by Callback when the state does not match, or when the
// pending login was already consumed by an earlier or concurrent callback.
var ErrInvalidState = errors.New("invalid oauth state")

// ErrAuthRequired is returned by guards when the session is not authenticated.
var ErrAuthRequired = errors.New("authentication required")

// Defaults applied when Binder leaves a TTL zero.
const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultPendingTTL = 10 * time.Minute
)

// Binder drives session records through the login flow.
// Safe for concurrent use; the session store provides the only shared state.
type Binder struct {
	Sessions SessionStore
	Users    UserStore // nil disables local user records
	OAuth    TokenClient

	SessionTTL time.Duration
	PendingTTL time.Duration

	Telemetry *telemetry.Telemetry
	Logger    *slog.Logger
	Now       func() time.Time
}

func (b *Binder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Binder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Binder) sessionTTL() time.Duration {
	if b.SessionTTL > 0 {
		return b.SessionTTL
	}
	return DefaultSessionTTL
}

func (b *Binder) pendingTTL() time.Duration {
	if b.PendingTTL > 0 {
		return b.PendingTTL
	}
	return DefaultPendingTTL
}

// Login starts a login for sessionKey: fresh PKCE pair and state, stored as a
// PendingCallback record before the authorization URL is returned.
// Any previous record under the key is replaced, including an authenticated one.
func (b *Binder) Login(ctx context.Context, sessionKey string) (string, error) {
	pkce := oauth.GeneratePKCE()
	state := oauth.GenerateState()

	authURL, err := b.OAuth.AuthURL(state, pkce.Challenge)
	if err != nil {
		return "", err
	}

	now := b.now()
	rec := &store.SessionRecord{
		State: store.StatePendingCallback,
		Pending: &store.PendingAuth{
			State:     state,
			Verifier:  pkce.Verifier,
			CreatedAt: now,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(b.pendingTTL()),
	}
	if err := b.Sessions.Put(ctx, sessionKey, rec, b.pendingTTL()); err != nil {
		return "", fmt.Errorf("storing pending login: %w", err)
	}

	b.Telemetry.LoginStarted(ctx)
	b.logger().Info("login started", "state_prefix", state[:8])
	return authURL, nil
}

// Callback completes a login. The pending state + verifier are consumed atomically before
// anything else, so a replayed or parallel callback for the same session fails with
// ErrInvalidState. On any failure after consumption the record is destroyed.
func (b *Binder) Callback(ctx context.Context, sessionKey, state, code string) (*store.SessionRecord, error) {
	rec, pending, err := b.Sessions.ConsumePending(ctx, sessionKey)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, ErrMissingVerifier
	}
	if err != nil {
		return nil, fmt.Errorf("consuming pending login: %w", err)
	}
	if pending == nil {
		if rec.State == store.StateAnonymous {
			return nil, ErrMissingVerifier
		}
		return nil, ErrInvalidState
	}

	now := b.now()
	if now.Sub(pending.CreatedAt) > b.pendingTTL() {
		b.destroy(ctx, sessionKey)
		return nil, ErrMissingVerifier
	}
	if subtle.ConstantTimeCompare([]byte(pending.State), []byte(state)) != 1 {
		b.destroy(ctx, sessionKey)
		b.logger().Warn("callback state mismatch",
			"expected_prefix", pending.State[:min(8, len(pending.State))],
			"received_prefix", state[:min(8, len(state))])
		return nil, ErrInvalidState
	}

	tok, err := b.OAuth.Exchange(ctx, code, pending.Verifier)
	if err != nil {
		b.destroy(ctx, sessionKey)
		return nil, err
	}

	res := b.OAuth.ResolveClaims(ctx, tok)
	authed := &store.SessionRecord{
		State:        store.StateAuthenticated,
		SubjectID:    res.Claims.Subject,
		DisplayName:  res.Claims.DisplayName(),
		Email:        res.Claims.Email,
		ClaimsSource: res.Source.String(),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenExpiry:  tok.Expiry,
		CreatedAt:    now,
		ExpiresAt:    now.Add(b.sessionTTL()),
	}
	if res.Degraded() {
		b.logger().Warn("session bound to degraded identity", "claims_source", res.Source.String())
	} else if b.Users != nil {
		u, err := b.Users.UpsertUserLogin(ctx, userIdentity(res.Claims))
		if err != nil {
			// Login proceeds without a local row; profile falls back to session claims.
			b.logger().Error("recording user login failed", "error", err)
		} else {
			authed.UserID = &u.ID
		}
	}

	// Bind only if the record is still the one this callback consumed: a logout or a new
	// login during the exchange wins over this callback.
	_, err = b.Sessions.Update(ctx, sessionKey, b.sessionTTL(), func(cur *store.SessionRecord) (*store.SessionRecord, error) {
		if cur.State != store.StatePendingCallback || cur.Pending != nil {
			return nil, ErrAuthRequired
		}
		return authed, nil
	})
	if errors.Is(err, store.ErrSessionNotFound) || errors.Is(err, ErrAuthRequired) {
		b.logger().Warn("session ended before callback completed")
		return nil, fmt.Errorf("binding session: %w", ErrAuthRequired)
	}
	if err != nil {
		return nil, fmt.Errorf("storing authenticated session: %w", err)
	}
	b.logger().Info("session authenticated", "subject", authed.SubjectID, "claims_source", authed.ClaimsSource)
	return authed, nil
}

// Refresh rotates the provider tokens of an authenticated session.
// A failed refresh destroys the session and returns an error wrapping
// oauth.ErrTokenRefreshFailed. A session destroyed while the provider call was in
// flight stays destroyed and yields ErrAuthRequired.
func (b *Binder) Refresh(ctx context.Context, sessionKey string) (*store.SessionRecord, error) {
	rec, err := b.authenticated(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	return b.refresh(ctx, sessionKey, rec)
}

func (b *Binder) refresh(ctx context.Context, sessionKey string, rec *store.SessionRecord) (*store.SessionRecord, error) {
	tok, err := b.OAuth.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		b.destroy(ctx, sessionKey)
		return nil, err
	}

	remaining := rec.ExpiresAt.Sub(b.now())
	if remaining <= 0 {
		b.destroy(ctx, sessionKey)
		return nil, ErrAuthRequired
	}
	updated, err := b.Sessions.Update(ctx, sessionKey, remaining, func(cur *store.SessionRecord) (*store.SessionRecord, error) {
		if cur.State != store.StateAuthenticated {
			return nil, ErrAuthRequired
		}
		// A concurrent refresh or a new login already replaced the tokens.
		if cur.RefreshToken != rec.RefreshToken {
			return cur, nil
		}
		cur.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			cur.RefreshToken = tok.RefreshToken
		}
		cur.TokenExpiry = tok.Expiry
		return cur, nil
	})
	if errors.Is(err, store.ErrSessionNotFound) || errors.Is(err, ErrAuthRequired) {
		b.logger().Info("session ended during token refresh", "subject", rec.SubjectID)
		return nil, ErrAuthRequired
	}
	if err != nil {
		return nil, fmt.Errorf("storing refreshed session: %w", err)
	}
	b.logger().Info("provider tokens refreshed", "subject", updated.SubjectID)
	return updated, nil
}

// Logout destroys the session record. Idempotent.
func (b *Binder) Logout(ctx context.Context, sessionKey string) error {
	if err := b.Sessions.Destroy(ctx, sessionKey); err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}

// RequireAuthenticated returns the record if the session is authenticated and unexpired,
// refreshing the provider tokens first when the access token has expired and a refresh
// token is available. Returns ErrAuthRequired otherwise.
func (b *Binder) RequireAuthenticated(ctx context.Context, sessionKey string) (*store.SessionRecord, error) {
	rec, err := b.authenticated(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	expired := oauth.Expired(&oauth.TokenResponse{Expiry: rec.TokenExpiry}, b.now())
	if !expired || rec.RefreshToken == "" {
		return rec, nil
	}
	refreshed, err := b.refresh(ctx, sessionKey, rec)
	if err != nil {
		b.logger().Warn("transparent refresh failed", "error", err)
		return nil, ErrAuthRequired
	}
	return refreshed, nil
}

// authenticated loads the record and checks state and session expiry.
func (b *Binder) authenticated(ctx context.Context, sessionKey string) (*store.SessionRecord, error) {
	if sessionKey == "" {
		return nil, ErrAuthRequired
	}
	rec, err := b.Sessions.Get(ctx, sessionKey)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, ErrAuthRequired
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if rec.State != store.StateAuthenticated {
		return nil, ErrAuthRequired
	}
	if rec.Expired(b.now()) {
		b.destroy(ctx, sessionKey)
		return nil, ErrAuthRequired
	}
	return rec, nil
}

// destroy removes a record on a failure path; errors are logged, not returned.
func (b *Binder) destroy(ctx context.Context, sessionKey string) {
	if err := b.Sessions.Destroy(ctx, sessionKey); err != nil {
		b.logger().Error("failed to destroy session", "error", err)
	}
}

func userIdentity(c oauth.Claims) store.UserIdentity {
	return store.UserIdentity{
		ExternalID:  c.Subject,
		Email:       strOrNil(c.Email),
		GivenName:   strOrNil(c.GivenName),
		FamilyName:  strOrNil(c.FamilyName),
		DisplayName: strOrNil(c.DisplayName()),
	}
}

// strOrNil returns nil for empty strings, else a pointer to s.
func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
