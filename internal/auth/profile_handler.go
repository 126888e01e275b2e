// profile_handler.go -- GET /api/profile and GET /api/session.
package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/visio/internal/store"
)

type profileResponse struct {
	ID     string  `json:"id"`
	UserID *string `json:"user_id,omitempty"`
	Email  string  `json:"email,omitempty"`
	Name   string  `json:"name"`
}

// Profile handles GET /api/profile -- returns the session's identity. Never includes tokens.
// Profile fields come from the local user row when one is linked, else from session claims.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	rec, ok := SessionFromContext(r.Context())
	if !ok {
		Unauthorized(w, "authentication required")
		return
	}

	resp := profileResponse{ID: rec.SubjectID, Email: rec.Email, Name: rec.DisplayName}
	if rec.UserID != nil && h.PS != nil {
		id := rec.UserID.String()
		resp.UserID = &id
		u, err := h.PS.GetUserByID(r.Context(), *rec.UserID)
		switch {
		case err == nil:
			if u.Email != nil {
				resp.Email = *u.Email
			}
			if u.DisplayName != nil {
				resp.Name = *u.DisplayName
			}
		case errors.Is(err, store.ErrUserNotFound):
			logWarn(r, "profile: linked user row missing", "user_id", id)
		default:
			logError(r, "profile: user lookup failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Session handles GET /api/session -- reports session status and whether the provider
// still accepts the access token.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	rec, ok := SessionFromContext(r.Context())
	if !ok {
		Unauthorized(w, "authentication required")
		return
	}

	valid := h.Binder.OAuth.ValidateAccessToken(r.Context(), rec.AccessToken)
	writeJSON(w, http.StatusOK, struct {
		Authenticated      bool      `json:"authenticated"`
		TokenExpiry        time.Time `json:"token_expiry,omitzero"`
		SessionExpiresAt   time.Time `json:"session_expires_at"`
		ClaimsSource       string    `json:"claims_source"`
		ProviderTokenValid bool      `json:"provider_token_valid"`
	}{true, rec.TokenExpiry, rec.ExpiresAt, rec.ClaimsSource, valid})
}
