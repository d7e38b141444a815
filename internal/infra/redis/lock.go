package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kislikjeka/ledgerd/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLockTTL bounds how long an idempotency key may be held before
	// it is considered abandoned (a crashed holder releases automatically).
	DefaultLockTTL = 5 * time.Second

	// KeyPrefix namespaces idempotency lock keys in the shared Redis keyspace.
	KeyPrefix = "idem-lock:"
)

// IdempotencyLock takes short-lived advisory locks on idempotency keys.
// The Coordinator holds one for the length of its retry loop when it can
// acquire it, but a request that does not acquire it still proceeds to the
// database, so two concurrent requests carrying the same key are not kept
// apart by it. The unique index on transactions.idempotency_key remains
// the sole source of truth, and a missing or unreachable Redis never
// blocks or corrupts a transfer.
type IdempotencyLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewIdempotencyLock creates a new advisory lock backed by the given client.
func NewIdempotencyLock(client *redis.Client, log *logger.Logger) *IdempotencyLock {
	return &IdempotencyLock{
		client: client,
		ttl:    DefaultLockTTL,
		logger: log.WithField("component", "idempotency_lock"),
	}
}

// Acquire attempts to claim the idempotency key for the given token, which
// the caller must pass back to Release. Returns false if another holder
// already owns the key. A Redis error is logged and treated as "not
// acquired" rather than propagated, since the lock is advisory: callers
// fall through to the database path on any doubt.
func (l *IdempotencyLock) Acquire(ctx context.Context, idempotencyKey string) (token string, acquired bool) {
	token = uuid.NewString()
	key := KeyPrefix + idempotencyKey

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		l.logger.Warn("advisory lock unavailable, falling through to database",
			"idempotency_key", idempotencyKey, "error", err)
		return "", false
	}

	return token, ok
}

// Release frees the key if and only if it is still held by token, using a
// Lua script to make the compare-and-delete atomic.
func (l *IdempotencyLock) Release(ctx context.Context, idempotencyKey, token string) {
	if token == "" {
		return
	}

	key := KeyPrefix + idempotencyKey
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.Warn("failed to release advisory lock", "idempotency_key", idempotencyKey, "error", err)
	}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Health pings the Redis connection used by the lock.
func (l *IdempotencyLock) Health(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
