package billing

import (
	"context"
	"sync"
	"time"

	"reading-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Locker guarantees a single billing runner per session across all API
// instances. Acquire returns false when another runner already owns the
// session.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

// RedisLocker implements Locker with an atomic counter capped at one.
// The TTL bounds how long a crashed process can hold a session hostage;
// it must comfortably exceed the tick interval because the runner never
// re-acquires mid-session.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisLocker) key(sessionID string) string {
	return "billing:owner:" + sessionID
}

func (l *RedisLocker) Acquire(ctx context.Context, sessionID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, l.key(sessionID), 1, l.ttl)
}

func (l *RedisLocker) Release(ctx context.Context, sessionID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, l.key(sessionID))
}

// MemoryLocker is a process-local Locker for tests and single-instance runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, sessionID string) (bool, error) {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[sessionID] {
		return false, nil
	}
	l.held[sessionID] = true
	return true, nil
}

func (l *MemoryLocker) Release(ctx context.Context, sessionID string) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sessionID)
	return nil
}
