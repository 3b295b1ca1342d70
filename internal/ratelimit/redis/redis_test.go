package redis

import (
	"context"
	"testing"
	"time"

	"github.com/AlexKimmel/CellGate/internal/ratelimit"
)

// These tests need a Redis instance on localhost:6379 and skip when one is
// not reachable. Run with -short to skip unconditionally.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis integration test")
	}
	lim := New(Config{Addr: "localhost:6379", DB: 15, TTL: time.Minute})
	if err := lim.Ping(context.Background()); err != nil {
		lim.Close()
		t.Skip("redis not available:", err)
	}
	t.Cleanup(func() {
		lim.client.FlushDB(context.Background())
		lim.Close()
	})
	return lim
}

func TestRedisAllowPersistsAcrossInstances(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()
	p := ratelimit.Policy{Rate: 10, Period: time.Second, Burst: 30}
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	dec, err := lim.Allow(ctx, "persist", 20, p, t0)
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed || dec.Remaining != 10 {
		t.Fatalf("first call: got %+v, want allowed with remaining 10", dec)
	}

	// A second client sees the state the first one wrote.
	other := New(Config{Addr: "localhost:6379", DB: 15, TTL: time.Minute})
	defer other.Close()
	got, err := other.Capacity(ctx, "persist", p, t0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10 {
		t.Fatalf("second instance capacity = %d, want 10", got)
	}

	dec, err = other.Allow(ctx, "persist", 20, p, t0)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed {
		t.Fatalf("second instance admitted 20 with only 10 available: %+v", dec)
	}
	if dec.RetryAfter != time.Second {
		t.Fatalf("retry after = %v, want 1s", dec.RetryAfter)
	}
}

func TestRedisDenialWritesNoState(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()
	p := ratelimit.Policy{Rate: 10, Period: time.Second, Burst: 30}
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := lim.Allow(ctx, "deny", 31, p, t0); err != nil {
		t.Fatal(err)
	}
	got, err := lim.Capacity(ctx, "deny", p, t0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 30 {
		t.Fatalf("capacity after rejected request = %d, want untouched 30", got)
	}
}

func TestRedisPolicyChangeAdjustsStoredState(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	old := ratelimit.Policy{Rate: 10, Period: time.Second, Burst: 30}
	if _, err := lim.Allow(ctx, "adjust", 20, old, t0); err != nil {
		t.Fatal(err)
	}

	// Reading under a new policy carries the 20 consumed units over instead
	// of reinterpreting the stored timestamp.
	next := ratelimit.Policy{Rate: 20, Period: time.Second, Burst: 30}
	got, err := lim.Capacity(ctx, "adjust", next, t0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10 {
		t.Fatalf("capacity under new policy = %d, want 10", got)
	}
}

func TestRedisUnreadableStateStartsFresh(t *testing.T) {
	lim := newTestLimiter(t)
	ctx := context.Background()
	p := ratelimit.Policy{Rate: 10, Period: time.Second, Burst: 30}
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := lim.client.Set(ctx, keyPrefix+"garbled", "not json", time.Minute).Err(); err != nil {
		t.Fatal(err)
	}
	got, err := lim.Capacity(ctx, "garbled", p, t0)
	if err != nil {
		t.Fatal(err)
	}
	if got != 30 {
		t.Fatalf("capacity after garbled state = %d, want fresh 30", got)
	}
}
