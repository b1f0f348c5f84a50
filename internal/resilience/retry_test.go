package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type transientErr struct{}

func (transientErr) Error() string   { return "transient failure" }
func (transientErr) Transient() bool { return true }

func fastSettings(attempts int) RetrySettings {
	return RetrySettings{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastSettings(3), "op", nil, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transientErr{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry returned %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustion(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastSettings(3), "op", nil, func(ctx context.Context) error {
		calls++
		return transientErr{}
	})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Retry returned %v, want ErrRetryExhausted", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRetryDoesNotRetryTerminalErrors(t *testing.T) {
	terminal := errors.New("bad request")
	calls := 0
	err := Retry(context.Background(), fastSettings(5), "op", nil, func(ctx context.Context) error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Fatalf("Retry returned %v, want terminal error", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, fastSettings(5), "op", nil, func(ctx context.Context) error {
		calls++
		cancel()
		return transientErr{}
	})
	if err == nil {
		t.Fatal("Retry returned nil after cancellation")
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("cancellation reported as exhaustion: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d after cancellation, want 1", calls)
	}
}

func TestDelayWithJitterBounds(t *testing.T) {
	settings := RetrySettings{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}

	for attempt := 1; attempt <= 5; attempt++ {
		for i := 0; i < 100; i++ {
			d := delayWithJitter(settings, attempt)
			if d < minDelay {
				t.Fatalf("attempt %d: delay %v below floor", attempt, d)
			}
			if d > settings.MaxDelay {
				t.Fatalf("attempt %d: delay %v above cap", attempt, d)
			}
		}
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(context.Canceled) {
		t.Error("context.Canceled classified transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline exceeded not classified transient")
	}
	if !IsTransient(transientErr{}) {
		t.Error("marked error not classified transient")
	}
	if IsTransient(errors.New("validation failed")) {
		t.Error("plain error classified transient")
	}
}
