// session.go

// Session token generation and cookie management.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Cookie names. The __Host- prefix requires Secure, so plain-http dev uses the bare name.
const (
	secureCookieName   = "__Host-visio-session"
	insecureCookieName = "visio-session"
)

// errNoSessionCookie is returned by sessionKeyFromRequest when no usable cookie is present.
var errNoSessionCookie = errors.New("no session cookie")

// GenerateToken returns a 256-bit random session token and its store key.
// Token goes in the cookie; the key (base64url of its SHA-256) goes in the session store.
func GenerateToken() ([32]byte, string, error) {
	var token [32]byte
	if _, err := rand.Read(token[:]); err != nil {
		return token, "", fmt.Errorf("generating token with rand: %w", err)
	}
	return token, SessionKey(token[:]), nil
}

// SessionKey derives the store key from a raw cookie token.
func SessionKey(rawToken []byte) string {
	hash := sha256.Sum256(rawToken)
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// CookieName returns the session cookie name for the given Secure setting.
func CookieName(secure bool) string {
	if secure {
		return secureCookieName
	}
	return insecureCookieName
}

// SetSessionCookie writes the session cookie with HttpOnly, SameSite=Lax.
func SetSessionCookie(w http.ResponseWriter, rawToken [32]byte, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName(secure),
		Value:    base64.RawURLEncoding.EncodeToString(rawToken[:]),
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

// ClearSessionCookie overwrites the session cookie with MaxAge=-1 to trigger browser deletion.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName(secure),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// sessionKeyFromRequest reads the session cookie and returns its store key.
func sessionKeyFromRequest(r *http.Request, secure bool) (string, error) {
	c, err := r.Cookie(CookieName(secure))
	if err != nil || c.Value == "" {
		return "", errNoSessionCookie
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil || len(raw) != 32 {
		return "", errNoSessionCookie
	}
	return SessionKey(raw), nil
}

// ensureSession returns the store key for the request's session cookie, issuing a fresh
// cookie when none is present. The record itself is written later by the binder.
func (h *AuthHandler) ensureSession(w http.ResponseWriter, r *http.Request, ttl time.Duration) (string, error) {
	if key, err := sessionKeyFromRequest(r, h.CookieSecure); err == nil {
		return key, nil
	}
	token, key, err := GenerateToken()
	if err != nil {
		return "", err
	}
	SetSessionCookie(w, token, ttl, h.CookieSecure)
	return key, nil
}
