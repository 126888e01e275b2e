// stores.go
//
// Shared mock implementations of auth.SessionStore, auth.UserStore and auth.TokenClient.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MGallo-Code/visio/internal/oauth"
	"github.com/MGallo-Code/visio/internal/store"
	"github.com/gofrs/uuid/v5"
)

// MockSessionStore implements auth.SessionStore on top of a real in-memory store.
// Use *Err fields to inject errors for specific operations; zero value means no error.
type MockSessionStore struct {
	GetErr     error
	PutErr     error
	UpdateErr  error
	DestroyErr error
	ConsumeErr error
	HealthErr  error

	*store.MemorySessionStore
}

// NewMockSessionStore returns an empty MockSessionStore.
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{MemorySessionStore: store.NewMemorySessionStore()}
}

func (m *MockSessionStore) Get(ctx context.Context, sessionKey string) (*store.SessionRecord, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	return m.MemorySessionStore.Get(ctx, sessionKey)
}

func (m *MockSessionStore) Put(ctx context.Context, sessionKey string, rec *store.SessionRecord, ttl time.Duration) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	return m.MemorySessionStore.Put(ctx, sessionKey, rec, ttl)
}

func (m *MockSessionStore) Update(ctx context.Context, sessionKey string, ttl time.Duration, fn func(*store.SessionRecord) (*store.SessionRecord, error)) (*store.SessionRecord, error) {
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	return m.MemorySessionStore.Update(ctx, sessionKey, ttl, fn)
}

func (m *MockSessionStore) Destroy(ctx context.Context, sessionKey string) error {
	if m.DestroyErr != nil {
		return m.DestroyErr
	}
	return m.MemorySessionStore.Destroy(ctx, sessionKey)
}

func (m *MockSessionStore) ConsumePending(ctx context.Context, sessionKey string) (*store.SessionRecord, *store.PendingAuth, error) {
	if m.ConsumeErr != nil {
		return nil, nil, m.ConsumeErr
	}
	return m.MemorySessionStore.ConsumePending(ctx, sessionKey)
}

func (m *MockSessionStore) CheckHealth(context.Context) error {
	return m.HealthErr
}

// MockUserStore implements auth.UserStore for tests.
// Always stateful: Users is keyed by external id, like the unique column in Postgres.
type MockUserStore struct {
	UpsertErr  error
	GetUserErr error
	AuditErr   error
	HealthErr  error

	Users  map[string]*store.User
	Audits []store.AuditEntry

	mu sync.Mutex
}

// NewMockUserStore returns an empty MockUserStore.
func NewMockUserStore() *MockUserStore {
	return &MockUserStore{Users: make(map[string]*store.User)}
}

func (m *MockUserStore) UpsertUserLogin(_ context.Context, id store.UserIdentity) (*store.User, error) {
	if m.UpsertErr != nil {
		return nil, m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Users == nil {
		m.Users = make(map[string]*store.User)
	}
	now := time.Now()
	u, ok := m.Users[id.ExternalID]
	if !ok {
		u = &store.User{ID: uuid.Must(uuid.NewV7()), ExternalID: id.ExternalID, CreatedAt: now}
		m.Users[id.ExternalID] = u
	}
	// COALESCE semantics: nil keeps the existing value.
	if id.Email != nil {
		u.Email = id.Email
	}
	if id.GivenName != nil {
		u.GivenName = id.GivenName
	}
	if id.FamilyName != nil {
		u.FamilyName = id.FamilyName
	}
	if id.DisplayName != nil {
		u.DisplayName = id.DisplayName
	}
	u.LoginCount++
	u.LastLoginAt = &now
	u.UpdatedAt = now
	cp := *u
	return &cp, nil
}

func (m *MockUserStore) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (m *MockUserStore) InsertAuditLog(_ context.Context, entry store.AuditEntry) error {
	if m.AuditErr != nil {
		return m.AuditErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Audits = append(m.Audits, entry)
	return nil
}

func (m *MockUserStore) CheckHealth(context.Context) error {
	return m.HealthErr
}

// Actions returns the recorded audit actions in order.
func (m *MockUserStore) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Audits))
	for i, a := range m.Audits {
		out[i] = a.Action
	}
	return out
}

// MockTokenClient implements auth.TokenClient for tests.
// Nil funcs fall back to canned successes; call counters are safe for concurrent use.
type MockTokenClient struct {
	AuthURLFunc  func(state, challenge string) (string, error)
	ExchangeFunc func(ctx context.Context, code, verifier string) (*oauth.TokenResponse, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error)
	ClaimsFunc   func(ctx context.Context, tok *oauth.TokenResponse) oauth.ClaimsResult
	ValidFunc    func(ctx context.Context, accessToken string) bool

	ExchangeCalls atomic.Int32
	RefreshCalls  atomic.Int32

	mu           sync.Mutex
	lastVerifier string
	lastState    string
}

func (m *MockTokenClient) AuthURL(state, challenge string) (string, error) {
	m.mu.Lock()
	m.lastState = state
	m.mu.Unlock()
	if m.AuthURLFunc != nil {
		return m.AuthURLFunc(state, challenge)
	}
	return "https://idp.test/authorize?state=" + state + "&code_challenge=" + challenge, nil
}

func (m *MockTokenClient) Exchange(ctx context.Context, code, verifier string) (*oauth.TokenResponse, error) {
	m.ExchangeCalls.Add(1)
	m.mu.Lock()
	m.lastVerifier = verifier
	m.mu.Unlock()
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, code, verifier)
	}
	return &oauth.TokenResponse{
		AccessToken:  "at-" + code,
		RefreshToken: "rt-" + code,
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (m *MockTokenClient) Refresh(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error) {
	m.RefreshCalls.Add(1)
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return &oauth.TokenResponse{
		AccessToken: "at-refreshed",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

func (m *MockTokenClient) ResolveClaims(ctx context.Context, tok *oauth.TokenResponse) oauth.ClaimsResult {
	if m.ClaimsFunc != nil {
		return m.ClaimsFunc(ctx, tok)
	}
	return oauth.ClaimsResult{
		Claims: oauth.Claims{Subject: "sub-123", Email: "ada@example.com", GivenName: "Ada", FamilyName: "Lovelace"},
		Source: oauth.SourceUserInfo,
	}
}

func (m *MockTokenClient) ValidateAccessToken(ctx context.Context, accessToken string) bool {
	if m.ValidFunc != nil {
		return m.ValidFunc(ctx, accessToken)
	}
	return accessToken != ""
}

// LastState returns the state passed to the most recent AuthURL call.
func (m *MockTokenClient) LastState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastState
}

// LastVerifier returns the verifier passed to the most recent Exchange call.
func (m *MockTokenClient) LastVerifier() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastVerifier
}
