package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestHostLimiter_NoBlockWhenZeroInterval(t *testing.T) {
	limiter := NewHostLimiter(0, 0.5)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(context.Background(), "https://a.example/x"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("limiter with zero interval should not block")
	}
}

func TestHostLimiter_SpacesSameHost(t *testing.T) {
	limiter := NewHostLimiter(100*time.Millisecond, 0)
	ctx := context.Background()

	// First request to a host passes immediately.
	_ = limiter.Wait(ctx, "https://a.example/1")

	start := time.Now()
	if err := limiter.Wait(ctx, "https://a.example/2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	duration := time.Since(start)
	if duration < 50*time.Millisecond || duration > 200*time.Millisecond {
		t.Errorf("expected wait around 100ms, took %v", duration)
	}
}

func TestHostLimiter_IndependentHosts(t *testing.T) {
	limiter := NewHostLimiter(time.Second, 0)
	ctx := context.Background()

	start := time.Now()
	_ = limiter.Wait(ctx, "https://a.example/1")
	_ = limiter.Wait(ctx, "https://b.example/1")
	_ = limiter.Wait(ctx, "https://C.example/1")

	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("distinct hosts should not wait on each other")
	}
	if limiter.Hosts() != 3 {
		t.Errorf("expected 3 tracked hosts, got %d", limiter.Hosts())
	}
}

func TestHostLimiter_ContextCancellation(t *testing.T) {
	limiter := NewHostLimiter(time.Second, 0)
	_ = limiter.Wait(context.Background(), "https://a.example/1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.Wait(ctx, "https://a.example/2"); err == nil {
		t.Fatalf("expected context canceled error")
	}
}

func TestHostLimiter_Jitter(t *testing.T) {
	limiter := NewHostLimiter(50*time.Millisecond, 5)
	if limiter.jitter != 1 {
		t.Fatalf("expected jitter clamped to 1, got %v", limiter.jitter)
	}

	ctx := context.Background()
	_ = limiter.Wait(ctx, "https://a.example/1")

	start := time.Now()
	_ = limiter.Wait(ctx, "https://a.example/2")
	if d := time.Since(start); d > 250*time.Millisecond {
		t.Errorf("jittered wait exceeded bound: %v", d)
	}
}
