// oauth_handler.go -- /auth/* handlers: login redirect, callback, refresh, logout.
// State transitions live in binder.go; these handlers only map them onto HTTP.
package auth

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/MGallo-Code/visio/internal/oauth"
	"github.com/MGallo-Code/visio/internal/store"
)

// Redirect error codes for the frontend (/?error=<code>).
const (
	callbackOAuthError        = "oauth_error"
	callbackMissingParameters = "missing_parameters"
	callbackInvalidState      = "invalid_state"
	callbackMissingVerifier   = "missing_verifier"
	callbackAuthFailed        = "auth_failed"
	callbackSuccess           = "success"
)

// Login handles GET /auth/login -- ensures a session cookie, stores a fresh pending login,
// and redirects the browser to the provider's consent page.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	key, err := h.ensureSession(w, r, h.Binder.sessionTTL())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	authURL, err := h.Binder.Login(r.Context(), key)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	logDebug(r, "redirecting to provider")
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /auth/callback -- validates the provider's redirect and binds the
// session to the resolved identity. Always answers with a redirect to the frontend.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		logWarn(r, "oauth callback: provider returned error",
			"error", providerErr, "description", q.Get("error_description"))
		h.callbackFailed(w, r, callbackOAuthError)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		logWarn(r, "oauth callback: missing parameters", "has_code", code != "", "has_state", state != "")
		h.callbackFailed(w, r, callbackMissingParameters)
		return
	}

	key, err := sessionKeyFromRequest(r, h.CookieSecure)
	if err != nil {
		logWarn(r, "oauth callback: no session cookie")
		h.callbackFailed(w, r, callbackMissingVerifier)
		return
	}

	rec, err := h.Binder.Callback(r.Context(), key, state, code)
	switch {
	case errors.Is(err, ErrInvalidState):
		logWarn(r, "oauth callback: invalid state")
		h.callbackFailed(w, r, callbackInvalidState)
		return
	case errors.Is(err, ErrMissingVerifier):
		logWarn(r, "oauth callback: no pending login")
		h.callbackFailed(w, r, callbackMissingVerifier)
		return
	case errors.Is(err, ErrAuthRequired):
		logWarn(r, "oauth callback: session ended during login")
		h.callbackFailed(w, r, callbackAuthFailed)
		return
	case err != nil:
		if errors.Is(err, oauth.ErrTokenExchangeFailed) {
			logWarn(r, "oauth callback: token exchange failed", "error", err)
		} else {
			logError(r, "oauth callback: binding session failed", "error", err)
		}
		h.callbackFailed(w, r, callbackAuthFailed)
		return
	}

	h.Telemetry.CallbackProcessed(r.Context(), callbackSuccess)
	h.auditLog(r, rec.UserID, "user.login", marshalMeta(struct {
		ClaimsSource string `json:"claims_source"`
	}{rec.ClaimsSource}))
	logInfo(r, "user logged in", "subject", rec.SubjectID, "claims_source", rec.ClaimsSource)

	http.Redirect(w, r, h.frontendURL("auth", callbackSuccess), http.StatusFound)
}

// callbackFailed records the outcome and redirects to the frontend with ?error=<code>.
func (h *AuthHandler) callbackFailed(w http.ResponseWriter, r *http.Request, code string) {
	h.Telemetry.CallbackProcessed(r.Context(), code)
	h.auditLog(r, nil, "user.login_failed", marshalMeta(struct {
		Reason string `json:"reason"`
	}{code}))
	http.Redirect(w, r, h.frontendURL("error", code), http.StatusFound)
}

// frontendURL builds AppBaseURL + "/?<key>=<value>".
func (h *AuthHandler) frontendURL(key, value string) string {
	return h.AppBaseURL + "/?" + url.Values{key: {value}}.Encode()
}

// Refresh handles POST /auth/refresh -- rotates the provider tokens of the current session.
// Requires RequireAuth upstream. A failed refresh ends the session.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	key, ok := SessionKeyFromContext(r.Context())
	if !ok {
		Unauthorized(w, "authentication required")
		return
	}

	rec, err := h.Binder.Refresh(r.Context(), key)
	if err != nil {
		if errors.Is(err, oauth.ErrTokenRefreshFailed) || errors.Is(err, ErrAuthRequired) {
			logWarn(r, "token refresh failed", "error", err)
			ClearSessionCookie(w, h.CookieSecure)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "token refresh failed", Code: CodeRefreshFailed})
			return
		}
		InternalServerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Message     string    `json:"message"`
		TokenExpiry time.Time `json:"token_expiry,omitzero"`
	}{"tokens refreshed", rec.TokenExpiry})
}

// Logout handles POST /auth/logout -- destroys the session record and clears the cookie.
// Idempotent: succeeds with or without a live session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	key, err := sessionKeyFromRequest(r, h.CookieSecure)
	if err == nil {
		// Read before destroying so the audit row can name the user.
		rec, getErr := h.RS.Get(r.Context(), key)
		if err := h.Binder.Logout(r.Context(), key); err != nil {
			InternalServerError(w, r, err)
			return
		}
		if getErr == nil && rec.State == store.StateAuthenticated {
			h.auditLog(r, rec.UserID, "user.logout", nil)
		}
	}

	ClearSessionCookie(w, h.CookieSecure)
	logInfo(r, "user logged out")
	OK(w, "logged out")
}
