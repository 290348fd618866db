package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestWithLockRunsBodyAndReleases(t *testing.T) {
	t.Parallel()
	rdb := newTestClient(t)
	ctx := context.Background()

	ran := false
	err := WithLock(ctx, rdb, "res-1", time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}
	if !ran {
		t.Fatal("body was not run")
	}

	exists, err := rdb.Exists(ctx, "lock:res-1").Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists != 0 {
		t.Fatal("lock key was not released after WithLock returned")
	}
}

func TestWithLockReleasesOnBodyError(t *testing.T) {
	t.Parallel()
	rdb := newTestClient(t)
	ctx := context.Background()

	bodyErr := errors.New("body failed")
	err := WithLock(ctx, rdb, "res-2", time.Second, func(ctx context.Context) error {
		return bodyErr
	})
	if !errors.Is(err, bodyErr) {
		t.Fatalf("WithLock() error = %v, want %v", err, bodyErr)
	}

	exists, err := rdb.Exists(ctx, "lock:res-2").Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists != 0 {
		t.Fatal("lock key was not released after body returned an error")
	}
}

func TestWithLockContention(t *testing.T) {
	t.Parallel()
	rdb := newTestClient(t)
	ctx := context.Background()

	if err := rdb.SetNX(ctx, "lock:res-3", "someone-else", time.Minute).Err(); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	err := WithLock(ctx, rdb, "res-3", time.Second, func(ctx context.Context) error {
		t.Fatal("body should not run when lock is already held")
		return nil
	})
	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("WithLock() error = %v, want %v", err, ErrLockNotAcquired)
	}
}

func TestWithLockDoesNotReleaseForeignLock(t *testing.T) {
	t.Parallel()
	rdb := newTestClient(t)
	ctx := context.Background()

	// Another holder takes the key over while the body runs (as after a TTL
	// expiry), so the release must leave its value alone.
	err := WithLock(ctx, rdb, "res-4", 50*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(100 * time.Millisecond)
		return rdb.Set(ctx, "lock:res-4", "new-holder-token", time.Minute).Err()
	})
	if err != nil {
		t.Fatalf("WithLock() error = %v", err)
	}

	val, err := rdb.Get(ctx, "lock:res-4").Result()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if val != "new-holder-token" {
		t.Fatalf("expected foreign lock to survive, got %q", val)
	}
}
