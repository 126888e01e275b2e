// handler_test.go

// Shared fixtures for binder, handler and middleware tests.

package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MGallo-Code/visio/internal/media"
	"github.com/MGallo-Code/visio/internal/store"
	"github.com/MGallo-Code/visio/internal/testutil"
	"github.com/gofrs/uuid/v5"
)

const testAppBaseURL = "https://visio.test"

// testDeps bundles the mocks behind a test AuthHandler.
type testDeps struct {
	h        *AuthHandler
	sessions *testutil.MockSessionStore
	users    *testutil.MockUserStore
	client   *testutil.MockTokenClient
}

// newTestHandler wires an AuthHandler over fresh mocks and a real media issuer.
func newTestHandler(t *testing.T) *testDeps {
	t.Helper()
	sessions := testutil.NewMockSessionStore()
	users := testutil.NewMockUserStore()
	client := &testutil.MockTokenClient{}
	binder := &Binder{
		Sessions:   sessions,
		Users:      users,
		OAuth:      client,
		SessionTTL: time.Hour,
		PendingTTL: 10 * time.Minute,
	}
	return &testDeps{
		h: &AuthHandler{
			Binder:       binder,
			PS:           users,
			RS:           sessions,
			Media:        &media.Issuer{AppID: "123456789", ServerSecret: "0123456789abcdef0123456789abcdef"},
			AppBaseURL:   testAppBaseURL,
			CookieSecure: true,
			AppEnv:       "test",
			StartedAt:    time.Now(),
		},
		sessions: sessions,
		users:    users,
		client:   client,
	}
}

// sessionFixture returns a fresh cookie value and the session key it hashes to.
func sessionFixture(t *testing.T) (cookie, key string) {
	t.Helper()
	token, key, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(token[:]), key
}

// addSessionCookie attaches the secure session cookie to r.
func addSessionCookie(r *http.Request, cookie string) {
	r.AddCookie(&http.Cookie{Name: secureCookieName, Value: cookie})
}

// seedAuthenticated stores an authenticated record under key and returns it.
func seedAuthenticated(t *testing.T, s SessionStore, key string, mutate func(*store.SessionRecord)) *store.SessionRecord {
	t.Helper()
	now := time.Now()
	rec := &store.SessionRecord{
		State:        store.StateAuthenticated,
		SubjectID:    "sub-123",
		DisplayName:  "Ada Lovelace",
		Email:        "ada@example.com",
		ClaimsSource: "userinfo",
		AccessToken:  "at-live",
		RefreshToken: "rt-live",
		TokenExpiry:  now.Add(time.Hour),
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}
	if mutate != nil {
		mutate(rec)
	}
	if err := s.Put(context.Background(), key, rec, time.Hour); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	return rec
}

// withSession injects rec and key into r's context, as RequireAuth does.
func withSession(r *http.Request, key string, rec *store.SessionRecord) *http.Request {
	ctx := context.WithValue(r.Context(), sessionKeyKey, key)
	ctx = context.WithValue(ctx, sessionRecordKey, rec)
	return r.WithContext(ctx)
}

// decodeBody unmarshals the recorder body into a generic map.
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body %q: %v", w.Body.String(), err)
	}
	return body
}

// assertErrorCode checks status and the "code" field of a JSON error body.
func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status: expected %d, got %d (body %s)", status, w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	body := decodeBody(t, w)
	if body["code"] != code {
		t.Errorf("code: expected %q, got %v", code, body["code"])
	}
	return body
}

func uuidPtr(id uuid.UUID) *uuid.UUID { return &id }
