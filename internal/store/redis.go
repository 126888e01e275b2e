// redis.go -- go-redis session store.
//
// One JSON SessionRecord per key, TTL matching the record's lifetime.
// ConsumePending uses WATCH/MULTI so exactly one concurrent callback wins the pending fields.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxConsumeRetries bounds optimistic transaction retries in ConsumePending and Update.
const maxConsumeRetries = 5

// NewRedisClient parses redisURL, connects, and pings before returning.
// Call once at startup from main.go; the returned client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisSessionStore keeps session records in Redis.
type RedisSessionStore struct {
	rdb *redis.Client
}

// NewRedisSessionStore wraps an existing client. The caller owns rdb and closes it.
func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

func redisKey(sessionKey string) string {
	return "session:" + sessionKey
}

// Get returns the record for sessionKey, or ErrSessionNotFound.
func (s *RedisSessionStore) Get(ctx context.Context, sessionKey string) (*SessionRecord, error) {
	raw, err := s.rdb.Get(ctx, redisKey(sessionKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	return &rec, nil
}

// Put writes rec under sessionKey with the given TTL, replacing any previous record.
func (s *RedisSessionStore) Put(ctx context.Context, sessionKey string, rec *SessionRecord, ttl time.Duration) error {
	out, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKey(sessionKey), out, ttl).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Destroy removes the record. Missing keys are not an error.
func (s *RedisSessionStore) Destroy(ctx context.Context, sessionKey string) error {
	if err := s.rdb.Del(ctx, redisKey(sessionKey)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// ConsumePending atomically clears the record's pending fields and returns the record as
// stored afterwards together with what was pending. pending is nil if nothing was there
// (already consumed, or never started). Remaining TTL is preserved.
func (s *RedisSessionStore) ConsumePending(ctx context.Context, sessionKey string) (*SessionRecord, *PendingAuth, error) {
	key := redisKey(sessionKey)
	var (
		rec     *SessionRecord
		pending *PendingAuth
	)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("fetching session: %w", err)
		}
		var r SessionRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("parsing session: %w", err)
		}
		rec, pending = &r, r.Pending
		if pending == nil {
			return nil
		}
		r.Pending = nil
		out, err := json.Marshal(&r)
		if err != nil {
			return fmt.Errorf("marshaling session: %w", err)
		}
		// Queued writes only execute if key is untouched since WATCH.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, out, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}

	for range maxConsumeRetries {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return rec, pending, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, nil, err
	}
	return nil, nil, ErrConsumeContention
}

// Update applies fn to the stored record and writes the result with ttl inside one
// WATCH transaction, so a record destroyed or replaced concurrently is never brought back.
// Returns ErrSessionNotFound if the key holds no record. An error from fn aborts the
// write and is returned as is. fn may run more than once under contention.
func (s *RedisSessionStore) Update(ctx context.Context, sessionKey string, ttl time.Duration, fn func(cur *SessionRecord) (*SessionRecord, error)) (*SessionRecord, error) {
	key := redisKey(sessionKey)
	var next *SessionRecord

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("fetching session: %w", err)
		}
		var cur SessionRecord
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("parsing session: %w", err)
		}
		next, err = fn(&cur)
		if err != nil {
			return err
		}
		out, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshaling session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		return err
	}

	for range maxConsumeRetries {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrConsumeContention
}

// CheckHealth pings Redis.
func (s *RedisSessionStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
