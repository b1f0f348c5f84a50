package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"time"
)

// ErrRetryExhausted marks a failure that persisted through every attempt.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// minDelay floors the jittered backoff so a zero roll never busy-loops.
const minDelay = 50 * time.Millisecond

// RetrySettings configures the retry loop.
type RetrySettings struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetrySettings returns the settings used when a caller passes the
// zero value.
func DefaultRetrySettings() RetrySettings {
	return RetrySettings{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

// Transient is implemented by errors that should be retried even though they
// are not network errors (e.g. 5xx responses from internal services).
type Transient interface {
	Transient() bool
}

// IsTransient reports whether err belongs to the retryable fault class:
// network/timeout errors and errors explicitly marked transient. Context
// cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var t Transient
	if errors.As(err, &t) {
		return t.Transient()
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Retry runs fn up to MaxAttempts times, sleeping between attempts with
// exponential backoff and full jitter (uniform in [0, computed delay]) to
// avoid synchronized retry storms. Only transient errors are retried;
// cancellation stops immediately. Exhausting every attempt wraps the last
// error with ErrRetryExhausted.
func Retry(ctx context.Context, settings RetrySettings, operation string, logger *slog.Logger, fn func(context.Context) error) error {
	if settings.MaxAttempts <= 0 {
		settings = DefaultRetrySettings()
	}
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= settings.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == settings.MaxAttempts {
			break
		}

		delay := delayWithJitter(settings, attempt)
		logger.Warn("retrying operation",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", settings.MaxAttempts,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("%s: %w: %w", operation, ErrRetryExhausted, lastErr)
}

func delayWithJitter(settings RetrySettings, attempt int) time.Duration {
	exp := float64(settings.InitialDelay) * math.Pow(2, float64(attempt-1))
	capped := math.Min(exp, float64(settings.MaxDelay))
	jittered := time.Duration(rand.Float64() * capped)
	if jittered < minDelay {
		return minDelay
	}
	return jittered
}
