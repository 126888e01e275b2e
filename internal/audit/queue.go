// queue.go
//
// Redis-backed async audit log. QueuedRecorder implements Recorder and enqueues
// entries instead of writing synchronously; StartWorker drains the queue in a
// background goroutine and hands each entry to the Sink (PostgresStore).
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/visio/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list used as the audit queue.
const QueueKey = "visio:audit:queue"

// DefaultMaxQueueSize is the cap applied by main. Prevents unbounded growth while
// Postgres is down. 0 = unlimited.
const DefaultMaxQueueSize int64 = 10000

// ErrQueueFull is returned by Record when the queue has reached its size cap.
var ErrQueueFull = errors.New("audit queue full")

// Sink persists audit entries. Satisfied by *store.PostgresStore.
type Sink interface {
	InsertAuditLog(ctx context.Context, entry store.AuditEntry) error
}

// Recorder accepts audit entries from handlers.
type Recorder interface {
	Record(ctx context.Context, entry store.AuditEntry) error
}

// Direct writes each entry straight to the sink. Used when Redis is not configured.
type Direct struct {
	Sink Sink
}

func (d Direct) Record(ctx context.Context, entry store.AuditEntry) error {
	return d.Sink.InsertAuditLog(ctx, entry)
}

// job is the serialized payload pushed onto the queue.
type job struct {
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	Action    string          `json:"action"`
	IPAddress *string         `json:"ip_address,omitempty"`
	UserAgent *string         `json:"user_agent,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	QueuedAt  time.Time       `json:"queued_at"`
}

func (j job) entry() store.AuditEntry {
	return store.AuditEntry{
		UserID:    j.UserID,
		Action:    j.Action,
		IPAddress: j.IPAddress,
		UserAgent: j.UserAgent,
		Metadata:  []byte(j.Metadata),
	}
}

// QueuedRecorder enqueues audit entries to Redis so the HTTP handler returns
// without waiting on Postgres. Implements Recorder.
type QueuedRecorder struct {
	sink         Sink
	rdb          *redis.Client
	maxQueueSize int64 // 0 = unlimited
}

// NewQueuedRecorder wraps sink with a Redis-backed async queue.
// maxSize caps the queue length (0 = unlimited); use DefaultMaxQueueSize for production.
func NewQueuedRecorder(sink Sink, rdb *redis.Client, maxSize int64) *QueuedRecorder {
	return &QueuedRecorder{sink: sink, rdb: rdb, maxQueueSize: maxSize}
}

// enqueueScript atomically checks the queue length and pushes the job only if
// under the cap. Returns 1 if enqueued, 0 if rejected (queue full).
// KEYS[1] = queue key, ARGV[1] = max size (0 = skip check), ARGV[2] = payload.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// Record serializes entry and appends it to the Redis queue.
// Returns ErrQueueFull if the queue has reached maxQueueSize.
func (q *QueuedRecorder) Record(ctx context.Context, entry store.AuditEntry) error {
	j := job{
		UserID:    entry.UserID,
		Action:    entry.Action,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		QueuedAt:  time.Now().UTC(),
	}
	if len(entry.Metadata) > 0 {
		j.Metadata = json.RawMessage(entry.Metadata)
	}
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshaling audit job: %w", err)
	}
	ok, err := enqueueScript.Run(ctx, q.rdb, []string{QueueKey}, q.maxQueueSize, data).Int64()
	if err != nil {
		return fmt.Errorf("enqueuing audit job: %w", err)
	}
	if ok == 0 {
		return ErrQueueFull
	}
	return nil
}

// StartWorker drains the audit queue in a loop, writing each entry to the sink.
// Blocks until ctx is cancelled (server shutdown). Call in a goroutine.
func (q *QueuedRecorder) StartWorker(ctx context.Context) {
	for {
		// BLPop blocks up to 2s then returns redis.Nil, keeping the loop
		// responsive to ctx cancellation without busy-spinning.
		res, err := q.rdb.BLPop(ctx, 2*time.Second, QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			slog.Error("audit worker: queue pop failed", "error", err)
			// Avoid spinning while Redis is unreachable.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		// res[0] = key name, res[1] = payload
		q.dispatch(ctx, []byte(res[1]))
	}
}

// dispatch decodes one payload and writes it. Errors are logged and dropped.
func (q *QueuedRecorder) dispatch(ctx context.Context, payload []byte) {
	var j job
	if err := json.Unmarshal(payload, &j); err != nil {
		slog.Error("audit worker: bad job payload", "error", err)
		return
	}
	if j.Action == "" {
		slog.Error("audit worker: job without action")
		return
	}
	if err := q.sink.InsertAuditLog(ctx, j.entry()); err != nil {
		slog.Error("audit worker: insert failed", "action", j.Action, "error", err)
	}
}
