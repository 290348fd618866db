package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Adapter is the sync/async hybrid cache described by the spec: call paths
// that cannot await a remote round trip read and write an in-process TTL
// tier, backed by a best-effort asynchronous mirror to the remote Valkey
// tier. Reads never block on Valkey; writes update the local tier
// immediately and fire-and-forget to remote.
type Adapter struct {
	mu         sync.RWMutex
	local      map[string]entry
	rdb        *redis.Client
	defaultTTL time.Duration
	log        zerolog.Logger
}

type entry struct {
	value     string
	expiresAt time.Time
}

// NewAdapter creates an Adapter. defaultTTL is used by Get when it triggers
// a background remote refresh, and is the spec's default in-process TTL
// (five minutes) when the caller passes zero to Set.
func NewAdapter(rdb *redis.Client, defaultTTL time.Duration, logger zerolog.Logger) *Adapter {
	return &Adapter{
		local:      make(map[string]entry),
		rdb:        rdb,
		defaultTTL: defaultTTL,
		log:        logger.With().Str("component", "cache.adapter").Logger(),
	}
}

// Get returns the in-process value for key if present and unexpired. On a
// miss (absent or expired) it returns ok=false immediately and kicks off a
// background refresh from the remote tier so the next call may hit.
func (a *Adapter) Get(key string) (string, bool) {
	a.mu.RLock()
	e, found := a.local[key]
	a.mu.RUnlock()

	if found && time.Now().Before(e.expiresAt) {
		return e.value, true
	}
	if found {
		a.mu.Lock()
		delete(a.local, key)
		a.mu.Unlock()
	}

	go a.refreshFromRemote(key)
	return "", false
}

// Set writes value to the in-process tier immediately, using ttl (or
// defaultTTL if ttl is zero), and mirrors the write to remote in the
// background.
func (a *Adapter) Set(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = a.defaultTTL
	}
	a.mu.Lock()
	a.local[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	a.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("failed to mirror cache write to remote tier")
		}
	}()
}

// Invalidate removes key from the in-process tier immediately and the
// remote tier in the background.
func (a *Adapter) Invalidate(key string) {
	a.mu.Lock()
	delete(a.local, key)
	a.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.rdb.Del(ctx, key).Err(); err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("failed to mirror cache invalidation to remote tier")
		}
	}()
}

func (a *Adapter) refreshFromRemote(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	val, err := a.rdb.Get(ctx, key).Result()
	if err != nil {
		return
	}

	a.mu.Lock()
	a.local[key] = entry{value: val, expiresAt: time.Now().Add(a.defaultTTL)}
	a.mu.Unlock()
}
