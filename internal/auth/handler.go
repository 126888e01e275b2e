// handler.go -- Dependencies shared by the /auth/* and /api/* handlers.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MGallo-Code/visio/internal/oauth"
	"github.com/MGallo-Code/visio/internal/store"
	"github.com/MGallo-Code/visio/internal/telemetry"
	"github.com/gofrs/uuid/v5"
)

// SessionStore defines session record operations needed by the binder and handlers.
// Satisfied by *store.RedisSessionStore and *store.MemorySessionStore, defined here
// (at consumer) per Go convention.
type SessionStore interface {
	// Get returns the record or store.ErrSessionNotFound.
	Get(ctx context.Context, sessionKey string) (*store.SessionRecord, error)

	// Put replaces the record under sessionKey with the given TTL.
	Put(ctx context.Context, sessionKey string, rec *store.SessionRecord, ttl time.Duration) error

	// Update rewrites the existing record through fn atomically; store.ErrSessionNotFound
	// when no record exists. Errors from fn abort the write.
	Update(ctx context.Context, sessionKey string, ttl time.Duration, fn func(cur *store.SessionRecord) (*store.SessionRecord, error)) (*store.SessionRecord, error)

	// Destroy removes the record; missing keys are not an error.
	Destroy(ctx context.Context, sessionKey string) error

	// ConsumePending atomically clears and returns the pending login fields.
	// pending is nil when nothing was there; store.ErrSessionNotFound when no record exists.
	ConsumePending(ctx context.Context, sessionKey string) (rec *store.SessionRecord, pending *store.PendingAuth, err error)

	CheckHealth(ctx context.Context) error
}

// UserStore defines user record operations. Satisfied by *store.PostgresStore.
type UserStore interface {
	// UpsertUserLogin creates or updates the user for id.ExternalID and records the login.
	UpsertUserLogin(ctx context.Context, id store.UserIdentity) (*store.User, error)

	// GetUserByID returns store.ErrUserNotFound when no row matches.
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)

	InsertAuditLog(ctx context.Context, entry store.AuditEntry) error

	CheckHealth(ctx context.Context) error
}

// TokenClient is the identity provider client. Satisfied by *oauth.Client.
type TokenClient interface {
	AuthURL(state, codeChallenge string) (string, error)
	Exchange(ctx context.Context, code, codeVerifier string) (*oauth.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error)
	ResolveClaims(ctx context.Context, tok *oauth.TokenResponse) oauth.ClaimsResult
	ValidateAccessToken(ctx context.Context, accessToken string) bool
}

// TokenIssuer signs media access tokens. Satisfied by *media.Issuer.
type TokenIssuer interface {
	Issue(roomID, userID string) (string, error)
}

// AuditRecorder accepts audit entries. Satisfied by audit.Direct and *audit.QueuedRecorder.
type AuditRecorder interface {
	Record(ctx context.Context, entry store.AuditEntry) error
}

// AuthHandler holds dependencies for all HTTP handlers and middleware.
type AuthHandler struct {
	Binder *Binder
	PS     UserStore
	RS     SessionStore
	Media  TokenIssuer
	// Audit receives audit rows; nil writes them synchronously through PS.
	Audit AuditRecorder

	Telemetry *telemetry.Telemetry

	// AppBaseURL prefixes post-login redirects ("" keeps them relative).
	AppBaseURL string
	// CookieSecure selects the __Host- prefixed Secure cookie; false only for local http.
	CookieSecure bool
	// Production hides error details from 500 responses.
	Production bool
	AppEnv     string
	StartedAt  time.Time
}

// auditLog writes an audit row; failures are logged, never surfaced to the client.
func (h *AuthHandler) auditLog(r *http.Request, userID *uuid.UUID, action string, meta []byte) {
	entry := store.AuditEntry{
		UserID:    userID,
		Action:    action,
		IPAddress: strOrNil(r.RemoteAddr),
		UserAgent: strOrNil(r.UserAgent()),
		Metadata:  meta,
	}
	var err error
	switch {
	case h.Audit != nil:
		err = h.Audit.Record(r.Context(), entry)
	case h.PS != nil:
		err = h.PS.InsertAuditLog(r.Context(), entry)
	default:
		return
	}
	if err != nil {
		logWarn(r, "audit log write failed", "action", action, "error", err)
	}
}

// marshalMeta encodes audit metadata; encoding failures yield nil (stored as NULL).
func marshalMeta(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
