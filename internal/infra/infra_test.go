package infra

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ── Cache ──

func TestCacheGetSet(t *testing.T) {
	c := NewCache[string](time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("empty cache should miss")
	}
	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("got %q, %v", v, ok)
	}
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("invalidated key should miss")
	}
}

func TestCacheExpiryAndStale(t *testing.T) {
	now := time.Date(2026, 1, 26, 9, 30, 0, 0, time.UTC)
	c := NewCache[int](time.Minute)
	c.now = func() time.Time { return now }

	c.Set("sectors", 42)
	now = now.Add(2 * time.Minute)

	if _, ok := c.Get("sectors"); ok {
		t.Fatal("expired entry should miss")
	}
	if v, ok := c.Stale("sectors"); !ok || v != 42 {
		t.Fatalf("Stale: got %d, %v", v, ok)
	}
	c.Cleanup()
	if c.Len() != 0 {
		t.Fatalf("Cleanup left %d entries", c.Len())
	}
}

func TestCacheGetOrLoad(t *testing.T) {
	c := NewCache[string](time.Minute)
	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (string, error) {
		loads.Add(1)
		<-release
		return "loaded", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "fund:013841", load)
			if err != nil || v != "loaded" {
				t.Errorf("got %q, %v", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Errorf("loads: got %d, want 1", n)
	}
	if v, ok := c.Get("fund:013841"); !ok || v != "loaded" {
		t.Error("loaded value should be cached")
	}
}

func TestCacheGetOrLoadError(t *testing.T) {
	c := NewCache[string](time.Minute)
	boom := errors.New("upstream down")
	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if c.Len() != 0 {
		t.Error("failed load must not be cached")
	}
}

func TestCacheFlush(t *testing.T) {
	c := NewCache[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Flush()
	if c.Len() != 0 {
		t.Fatalf("Flush left %d entries", c.Len())
	}
}

// ── RateLimiter ──

func TestRateLimiterBurstThenWait(t *testing.T) {
	rl := NewRateLimiter(2, 100*time.Millisecond)
	if !rl.TryAcquire() || !rl.TryAcquire() {
		t.Fatal("burst of 2 should succeed")
	}
	if rl.TryAcquire() {
		t.Fatal("third token should not be available yet")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("Wait returned before refill")
	}
}

func TestRateLimiterContextCancel(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	rl.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
}
