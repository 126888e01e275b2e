// memory.go -- In-process session store, used when REDIS_URL is not configured.
// Single instance only: records are lost on restart and not shared between replicas.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memEntry struct {
	data      []byte // JSON-encoded SessionRecord; copies keep callers from aliasing stored state
	expiresAt time.Time
}

// MemorySessionStore implements the session store contract with a mutex-guarded map.
type MemorySessionStore struct {
	mu   sync.Mutex
	data map[string]memEntry
	now  func() time.Time
}

// NewMemorySessionStore returns an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{data: make(map[string]memEntry), now: time.Now}
}

// load returns the live entry for key. Caller holds mu.
func (s *MemorySessionStore) load(key string) (*SessionRecord, memEntry, error) {
	e, ok := s.data[key]
	if !ok {
		return nil, memEntry{}, ErrSessionNotFound
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.data, key)
		return nil, memEntry{}, ErrSessionNotFound
	}
	var rec SessionRecord
	if err := json.Unmarshal(e.data, &rec); err != nil {
		return nil, memEntry{}, fmt.Errorf("parsing session: %w", err)
	}
	return &rec, e, nil
}

// Get returns the record for sessionKey, or ErrSessionNotFound.
func (s *MemorySessionStore) Get(_ context.Context, sessionKey string) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, _, err := s.load(sessionKey)
	return rec, err
}

// Put writes rec with the given TTL. ttl <= 0 means no expiry.
func (s *MemorySessionStore) Put(_ context.Context, sessionKey string, rec *SessionRecord, ttl time.Duration) error {
	out, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{data: out}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.data[sessionKey] = e
	return nil
}

// Destroy removes the record. Missing keys are not an error.
func (s *MemorySessionStore) Destroy(_ context.Context, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionKey)
	return nil
}

// ConsumePending atomically clears the pending fields; see RedisSessionStore.ConsumePending.
func (s *MemorySessionStore) ConsumePending(_ context.Context, sessionKey string) (*SessionRecord, *PendingAuth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, e, err := s.load(sessionKey)
	if err != nil {
		return nil, nil, err
	}
	pending := rec.Pending
	if pending == nil {
		return rec, nil, nil
	}
	rec.Pending = nil
	out, err := json.Marshal(rec)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling session: %w", err)
	}
	s.data[sessionKey] = memEntry{data: out, expiresAt: e.expiresAt}
	return rec, pending, nil
}

// Update applies fn to the stored record under the lock; see RedisSessionStore.Update.
func (s *MemorySessionStore) Update(_ context.Context, sessionKey string, ttl time.Duration, fn func(cur *SessionRecord) (*SessionRecord, error)) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _, err := s.load(sessionKey)
	if err != nil {
		return nil, err
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}
	e := memEntry{data: out}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.data[sessionKey] = e
	return next, nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemorySessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, e := range s.data {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.data, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (s *MemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// CheckHealth always succeeds.
func (s *MemorySessionStore) CheckHealth(context.Context) error { return nil }
