// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. Error bodies are {"error": "...", "code": "..."}.
package auth

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
)

// Error codes returned in JSON bodies.
const (
	CodeAuthRequired          = "AUTH_REQUIRED"
	CodeMissingFields         = "MISSING_FIELDS"
	CodeInvalidBody           = "INVALID_BODY"
	CodeTokenGenerationFailed = "TOKEN_GENERATION_FAILED"
	CodeRefreshFailed         = "REFRESH_FAILED"
	CodeNotFound              = "NOT_FOUND"
	CodeInternal              = "INTERNAL_ERROR"
)

type errorBody struct {
	Error         string   `json:"error"`
	Code          string   `json:"code"`
	MissingFields []string `json:"missingFields,omitempty"`
	Stack         string   `json:"stack,omitempty"`
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: CodeInternal})
}

// BadRequest returns a 400 JSON response with the given message and code.
func BadRequest(w http.ResponseWriter, message, code string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: message, Code: code})
}

// MissingFields returns a 400 listing the absent request fields.
func MissingFields(w http.ResponseWriter, fields []string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:         "missing required fields",
		Code:          CodeMissingFields,
		MissingFields: fields,
	})
}

// Unauthorized returns a 401 AUTH_REQUIRED response.
// Keep message generic; callers never say why the session was rejected.
func Unauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: message, Code: CodeAuthRequired})
}

// NotFound returns a 404 JSON response.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: CodeNotFound})
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, struct {
		Message string `json:"message"`
	}{message})
}

// detailedError writes a 500 carrying message and code. Outside production the body also
// includes the goroutine stack.
func (h *AuthHandler) detailedError(w http.ResponseWriter, r *http.Request, message, code string, err error) {
	logError(r, message, "error", err)
	body := errorBody{Error: message, Code: code}
	if !h.Production {
		body.Stack = string(debug.Stack())
	}
	writeJSON(w, http.StatusInternalServerError, body)
}
