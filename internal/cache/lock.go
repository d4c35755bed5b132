package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the lock could not be acquired within the
// wait budget.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// releaseScript deletes the lock key only if it still holds our token, so
// a lock that expired and was re-acquired elsewhere is never released by
// the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lock is a cache-backed mutual exclusion token. It guards the rare
// cross-process critical sections (subscription purge); per-message
// consistency relies on idempotent checks, not on locking.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// AcquireLock polls SETNX until the lock is held or waitTimeout elapses.
// The TTL bounds how long a crashed holder can wedge others.
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl, waitTimeout time.Duration) (*Lock, error) {
	key := fmt.Sprintf("lock:%s", name)
	token := uuid.NewString()
	deadline := c.now().Add(waitTimeout)

	for {
		ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{rdb: c.rdb, key: key, token: token}, nil
		}
		if c.now().After(deadline) {
			return nil, fmt.Errorf("lock %s: %w", name, ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
