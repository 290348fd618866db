package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired is returned by WithLock when the resource is already
// held by a concurrent caller.
var ErrLockNotAcquired = errors.New("cache: lock not acquired")

// releaseScript deletes the lock key only if its value still matches the
// token we set, so a caller never releases a lock it no longer holds (e.g.
// after its TTL expired and someone else acquired it).
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// WithLock acquires a Valkey-backed mutual-exclusion lock named "lock:{resource}"
// with the given TTL, runs body while holding it, and releases it
// afterward (even if body panics or the TTL has not yet elapsed). Returns
// ErrLockNotAcquired if the resource is already locked.
func WithLock(ctx context.Context, rdb *redis.Client, resource string, ttl time.Duration, body func(ctx context.Context) error) error {
	key := "lock:" + resource
	token := uuid.NewString()

	ok, err := rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lock %q: %w", resource, err)
	}
	if !ok {
		return ErrLockNotAcquired
	}
	defer func() {
		if err := rdb.Eval(context.Background(), releaseScript, []string{key}, token).Err(); err != nil {
			_ = err // best-effort: the TTL will reclaim the key if this fails
		}
	}()

	return body(ctx)
}
