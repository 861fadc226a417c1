package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisCache(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.Close() })
	return mr, cache
}

func TestRedisReleaseLockIgnoresStaleToken(t *testing.T) {
	mr, cache := newTestRedisCache(t)
	ctx := context.Background()
	key := purchaseLockKey("shop", "purchase-1")

	ok, err := cache.AcquireLock(ctx, key, "token-a", time.Second)
	if err != nil || !ok {
		t.Fatalf("AcquireLock(a) = %v, %v; want true", ok, err)
	}
	if ok, _ := cache.AcquireLock(ctx, key, "token-b", time.Second); ok {
		t.Fatal("second holder acquired a held lock")
	}

	// token-a lapses and token-b takes over
	mr.FastForward(2 * time.Second)
	ok, err = cache.AcquireLock(ctx, key, "token-b", time.Second)
	if err != nil || !ok {
		t.Fatalf("AcquireLock(b) after expiry = %v, %v; want true", ok, err)
	}

	if err := cache.ReleaseLock(ctx, key, "token-a"); err != nil {
		t.Fatalf("ReleaseLock(a) error = %v", err)
	}
	if got, err := mr.Get(key); err != nil || got != "token-b" {
		t.Fatalf("lock holder after stale release = %q, %v; want token-b", got, err)
	}

	if err := cache.ReleaseLock(ctx, key, "token-b"); err != nil {
		t.Fatalf("ReleaseLock(b) error = %v", err)
	}
	if mr.Exists(key) {
		t.Error("lock still held after its owner released it")
	}

	// Releasing a lock nobody holds is a no-op
	if err := cache.ReleaseLock(ctx, key, "token-b"); err != nil {
		t.Errorf("ReleaseLock on free key error = %v", err)
	}
}

func TestRedisLockerExcludesConcurrentHolders(t *testing.T) {
	mr, cache := newTestRedisCache(t)
	locker := NewRedisLocker(cache, 5*time.Second)
	locker.pollInterval = 2 * time.Millisecond
	key := purchaseLockKey("shop", "purchase-1")

	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), key)
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d; want 1", maxInside)
	}
	if mr.Exists(key) {
		t.Error("lock key left behind after every holder released")
	}
}

func TestRedisLockerExpiredHolderKeepsSuccessorLock(t *testing.T) {
	mr, cache := newTestRedisCache(t)
	locker := NewRedisLocker(cache, time.Second)
	locker.pollInterval = 2 * time.Millisecond
	key := purchaseLockKey("shop", "purchase-1")

	unlockA, err := locker.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock(a) error = %v", err)
	}

	mr.FastForward(2 * time.Second)
	unlockB, err := locker.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock(b) after expiry error = %v", err)
	}
	tokenB, _ := mr.Get(key)

	unlockA()
	if got, _ := mr.Get(key); got != tokenB {
		t.Fatalf("expired holder released the successor's lock: holder = %q; want %q", got, tokenB)
	}

	unlockB()
	if mr.Exists(key) {
		t.Error("lock still held after successor released it")
	}
}

func TestRedisLockerHonoursContext(t *testing.T) {
	_, cache := newTestRedisCache(t)
	locker := NewRedisLocker(cache, 5*time.Second)
	locker.pollInterval = 2 * time.Millisecond
	key := purchaseLockKey("shop", "purchase-1")

	unlock, err := locker.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, key); err == nil {
		t.Error("Lock() on a held key should fail once the context is done")
	}
}
