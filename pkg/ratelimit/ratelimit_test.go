package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(&Config{Requests: 0, Window: time.Second}); err == nil {
		t.Error("expected error for zero requests")
	}
}

func TestAllow_ExhaustsBudget(t *testing.T) {
	limiter, err := New(&Config{Requests: 3, Window: time.Minute})
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	defer limiter.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "client")
		if err != nil || !allowed {
			t.Fatalf("request %d should be allowed: allowed=%v err=%v", i, allowed, err)
		}
	}

	allowed, err := limiter.Allow(ctx, "client")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("request over budget must be denied")
	}

	// Другой ключ имеет собственный бюджет
	allowed, _ = limiter.Allow(ctx, "other")
	if !allowed {
		t.Error("different key must have its own budget")
	}
}

func TestReset(t *testing.T) {
	limiter, err := New(&Config{Requests: 1, Window: time.Minute})
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	defer limiter.Close()

	ctx := context.Background()
	limiter.Allow(ctx, "k")
	if allowed, _ := limiter.Allow(ctx, "k"); allowed {
		t.Fatal("budget should be exhausted")
	}

	limiter.Reset(ctx, "k")
	if allowed, _ := limiter.Allow(ctx, "k"); !allowed {
		t.Error("reset must restore the budget")
	}
}

func TestClosed(t *testing.T) {
	limiter, _ := New(&Config{Requests: 1, Window: time.Second})
	limiter.Close()

	if _, err := limiter.Allow(context.Background(), "k"); err != ErrLimiterClosed {
		t.Errorf("expected ErrLimiterClosed, got %v", err)
	}
}
