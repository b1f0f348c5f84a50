package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestExecutor(threshold int) *Executor {
	return NewExecutor(
		fastSettings(2),
		BreakerSettings{FailureThreshold: threshold, OpenDuration: time.Minute},
		nil,
	)
}

func TestExecutorFailsFastWhenOpen(t *testing.T) {
	e := newTestExecutor(1)
	ctx := context.Background()

	err := e.Execute(ctx, "graph", "stats", func(ctx context.Context) error {
		return transientErr{}
	})
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("first failure returned %v, want ErrDependencyUnavailable", err)
	}

	calls := 0
	err = e.Execute(ctx, "graph", "stats", func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("open-circuit call returned %v, want ErrDependencyUnavailable", err)
	}
	if calls != 0 {
		t.Fatalf("operation attempted %d times while circuit open, want 0", calls)
	}
}

func TestExecutorTerminalErrorPassesThrough(t *testing.T) {
	e := newTestExecutor(1)
	terminal := errors.New("author not found")

	err := e.Execute(context.Background(), "graph", "stats", func(ctx context.Context) error {
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("Execute returned %v, want terminal error", err)
	}
	if errors.Is(err, ErrDependencyUnavailable) {
		t.Fatal("terminal error escalated to ErrDependencyUnavailable")
	}
	if e.Breaker("graph").State() != StateClosed {
		t.Fatal("terminal error tripped the breaker")
	}
}

func TestExecutorSeparateBreakersPerDependency(t *testing.T) {
	e := newTestExecutor(1)
	ctx := context.Background()

	_ = e.Execute(ctx, "redis", "zadd", func(ctx context.Context) error {
		return transientErr{}
	})

	if e.Breaker("redis").State() != StateOpen {
		t.Fatal("redis breaker not open")
	}
	if e.Breaker("graph").State() != StateClosed {
		t.Fatal("graph breaker affected by redis failures")
	}

	err := e.Execute(ctx, "graph", "stats", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("graph call failed: %v", err)
	}
}
