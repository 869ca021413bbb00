package aiproxy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterBoundsConcurrency(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 2})
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	l.Release()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}

	stats := l.Stats()
	if stats.Active != 2 || stats.TotalAcquired != 3 || stats.TotalTimeouts != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestLimiterAcquireTimeout(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 1, AcquireTimeout: 10 * time.Millisecond})
	defer l.Close()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(context.Background()); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
}

func TestLimiterCloseWakesWaiters(t *testing.T) {
	l := NewLimiter(LimiterConfig{MaxConcurrent: 1})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- l.Acquire(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	l.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrLimiterClosed) {
			t.Fatalf("expected ErrLimiterClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not released by Close")
	}
	if err := l.Acquire(context.Background()); !errors.Is(err, ErrLimiterClosed) {
		t.Fatalf("expected ErrLimiterClosed after close, got %v", err)
	}
}

func TestLimiterUnlimited(t *testing.T) {
	l := NewLimiter(LimiterConfig{})
	for i := 0; i < 100; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if l.Stats().Active != 100 {
		t.Fatalf("expected 100 active, got %d", l.Stats().Active)
	}
}
