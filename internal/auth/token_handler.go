// token_handler.go -- POST /api/generate-token, media room access tokens.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MGallo-Code/visio/internal/media"
)

// maxTokenBody bounds the request body; the payload is two short identifiers.
const maxTokenBody = 4 << 10

// GenerateToken handles POST /api/generate-token -- issues a media token for the given
// room and user. Requires RequireAuth upstream.
func (h *AuthHandler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	rec, ok := SessionFromContext(r.Context())
	if !ok {
		Unauthorized(w, "authentication required")
		return
	}

	var input struct {
		RoomID string `json:"roomID"`
		UserID string `json:"userID"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxTokenBody)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		logWarn(r, "generate token: failed to decode input", "error", err)
		BadRequest(w, "error decoding request body", CodeInvalidBody)
		return
	}
	input.RoomID = strings.TrimSpace(input.RoomID)
	input.UserID = strings.TrimSpace(input.UserID)

	var missing []string
	if input.RoomID == "" {
		missing = append(missing, "roomID")
	}
	if input.UserID == "" {
		missing = append(missing, "userID")
	}
	if len(missing) > 0 {
		MissingFields(w, missing)
		return
	}

	token, err := h.Media.Issue(input.RoomID, input.UserID)
	if err != nil {
		if errors.Is(err, media.ErrInvalidTokenParameters) {
			// Room/user were present, so this is server configuration (app id, secret, lifetime).
			h.detailedError(w, r, "media token configuration is invalid", CodeTokenGenerationFailed, err)
			return
		}
		h.detailedError(w, r, "failed to generate token", CodeTokenGenerationFailed, err)
		return
	}

	h.Telemetry.MediaTokenIssued(r.Context())
	logInfo(r, "media token issued", "subject", rec.SubjectID, "room_id", input.RoomID)
	writeJSON(w, http.StatusOK, struct {
		Token string `json:"token"`
	}{token})
}
