// middleware.go

// Session authentication middleware.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/MGallo-Code/visio/internal/store"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const sessionKeyKey contextKey = "session_key"
const sessionRecordKey contextKey = "session_record"

// SessionFromContext retrieves the authenticated session record from context.
// Returns nil and false if RequireAuth hasn't run.
func SessionFromContext(ctx context.Context) (*store.SessionRecord, bool) {
	rec, ok := ctx.Value(sessionRecordKey).(*store.SessionRecord)
	return rec, ok
}

// SessionKeyFromContext retrieves the session store key from context.
// Returns "" and false if RequireAuth hasn't run.
func SessionKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(sessionKeyKey).(string)
	return key, ok
}

// RequireAuth validates the session cookie through the binder, which refreshes expired
// provider tokens when it can. Injects the record and key into context on success;
// returns 401 AUTH_REQUIRED on failure.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := sessionKeyFromRequest(r, h.CookieSecure)
		if err != nil {
			logDebug(r, "require auth failed", "reason", "missing_session_cookie")
			Unauthorized(w, "authentication required")
			return
		}

		rec, err := h.Binder.RequireAuthenticated(r.Context(), key)
		if err != nil {
			if !errors.Is(err, ErrAuthRequired) {
				// Store failure, not a client problem; still 401 so the client re-authenticates.
				logError(r, "require auth failed loading session", "error", err)
			} else {
				logDebug(r, "require auth failed", "reason", "not_authenticated")
			}
			Unauthorized(w, "authentication required")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKeyKey, key)
		ctx = context.WithValue(ctx, sessionRecordKey, rec)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
