// models.go -- Shared domain types for the store package.
// Used by Postgres (users, audit log) and the session stores (Redis, memory).
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrSessionNotFound is returned by session stores when the key holds no record
// (never created, destroyed, or expired).
// Callers use errors.Is to distinguish a true miss from an infrastructure failure.
var ErrSessionNotFound = errors.New("session not found")

// ErrUserNotFound is returned by GetUserByID when no row matches.
var ErrUserNotFound = errors.New("user not found")

// ErrConsumeContention is returned by ConsumePending and Update when the optimistic transaction
// kept losing to concurrent writers.
var ErrConsumeContention = errors.New("session updated concurrently")

// SessionState is the lifecycle position of a session record.
type SessionState string

const (
	// StateAnonymous: cookie issued, no login in progress.
	StateAnonymous SessionState = "anonymous"
	// StatePendingCallback: login started; Pending holds state + PKCE verifier.
	StatePendingCallback SessionState = "pending_callback"
	// StateAuthenticated: callback completed; identity and provider tokens bound.
	StateAuthenticated SessionState = "authenticated"
)

// PendingAuth is the per-login secret material awaiting the provider callback.
// Consumed exactly once by ConsumePending.
type PendingAuth struct {
	State     string    `json:"state"`
	Verifier  string    `json:"verifier"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionRecord is the JSON shape stored per session key.
// Provider tokens live here only; they never go to the browser.
type SessionRecord struct {
	State        SessionState `json:"state"`
	Pending      *PendingAuth `json:"pending,omitempty"`
	SubjectID    string       `json:"subject_id,omitempty"`
	DisplayName  string       `json:"display_name,omitempty"`
	Email        string       `json:"email,omitempty"`
	ClaimsSource string       `json:"claims_source,omitempty"`
	AccessToken  string       `json:"access_token,omitempty"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenExpiry  time.Time    `json:"token_expiry,omitzero"`
	UserID       *uuid.UUID   `json:"user_id,omitempty"` // local users.id; nil for fallback identities
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// Expired reports whether the record is past ExpiresAt at now.
func (r *SessionRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// User represents a row in the users table.
// Nullable columns are pointers, nil means SQL NULL.
type User struct {
	ID          uuid.UUID
	ExternalID  string // provider subject, unique
	Email       *string
	GivenName   *string
	FamilyName  *string
	DisplayName *string
	LastLoginAt *time.Time
	LoginCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserIdentity is the provider-asserted data written on each login.
type UserIdentity struct {
	ExternalID  string
	Email       *string
	GivenName   *string
	FamilyName  *string
	DisplayName *string
}

// AuditEntry represents a row in the audit_logs table.
// UserID is nil for pre-auth failures where no user is identified.
// IPAddress and UserAgent are nil for server-side events.
// Metadata holds optional event context as a raw JSON blob (e.g. reason, claims_source).
type AuditEntry struct {
	UserID    *uuid.UUID
	Action    string
	IPAddress *string
	UserAgent *string
	Metadata  []byte
}
