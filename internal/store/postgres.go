// Package store handles all database and session storage interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable store for users and the audit log.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool, pings it, and returns a ready-to-use store.
// Call once at startup from main.go; the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings the pool.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `id, external_id, email, given_name, family_name, display_name,
	last_login_at, login_count, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.GivenName, &u.FamilyName, &u.DisplayName,
		&u.LastLoginAt, &u.LoginCount, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUserLogin records a login for the provider subject in id.ExternalID.
// Creates the user on first login (new UUID v7); otherwise refreshes the profile columns
// the provider supplied, bumps login_count and sets last_login_at.
// Columns the provider left nil keep their stored value.
func (s *PostgresStore) UpsertUserLogin(ctx context.Context, id UserIdentity) (*User, error) {
	newID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, external_id, email, given_name, family_name, display_name,
			last_login_at, login_count)
		VALUES ($1, $2, $3, $4, $5, $6, now(), 1)
		ON CONFLICT (external_id) DO UPDATE SET
			email         = COALESCE(EXCLUDED.email, users.email),
			given_name    = COALESCE(EXCLUDED.given_name, users.given_name),
			family_name   = COALESCE(EXCLUDED.family_name, users.family_name),
			display_name  = COALESCE(EXCLUDED.display_name, users.display_name),
			last_login_at = now(),
			login_count   = users.login_count + 1,
			updated_at    = now()
		RETURNING `+userColumns,
		newID, id.ExternalID, id.Email, id.GivenName, id.FamilyName, id.DisplayName)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return u, nil
}

// GetUserByID returns the user row, or ErrUserNotFound.
func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return u, nil
}

// InsertAuditLog appends one audit_logs row.
func (s *PostgresStore) InsertAuditLog(ctx context.Context, entry AuditEntry) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generating audit id: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, user_id, action, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, entry.UserID, entry.Action, entry.IPAddress, entry.UserAgent, entry.Metadata)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}
