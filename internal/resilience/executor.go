package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrDependencyUnavailable is returned when a dependency's circuit is open or
// every retry attempt against it failed. Callers map it to a 503-class
// response on the read path or to an offset rewind on the consumer.
var ErrDependencyUnavailable = errors.New("dependency unavailable")

// Executor combines the retry loop with one circuit breaker per logical
// dependency. A single Executor is shared by all call sites of a process.
type Executor struct {
	breakerSettings BreakerSettings
	retrySettings   RetrySettings
	logger          *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewExecutor creates an executor with the given default settings.
func NewExecutor(retry RetrySettings, breaker BreakerSettings, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		breakerSettings: breaker,
		retrySettings:   retry,
		logger:          logger,
		breakers:        make(map[string]*Breaker),
	}
}

// Breaker returns the breaker instance for a dependency, creating it on first
// use. Exposed for state observation.
func (e *Executor) Breaker(dependency string) *Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.breakers[dependency]
	if !ok {
		b = NewBreaker(dependency, e.breakerSettings, e.logger)
		e.breakers[dependency] = b
	}
	return b
}

// Execute runs fn against the named dependency under the breaker and the
// retry policy. Transient failures are absorbed here; only exhaustion (or an
// open circuit) escalates, as ErrDependencyUnavailable. A terminal
// (non-transient) error proves the dependency responded, so it passes through
// unchanged and counts as breaker success.
func (e *Executor) Execute(ctx context.Context, dependency, operation string, fn func(context.Context) error) error {
	b := e.Breaker(dependency)

	if !b.TryAcquire() {
		return fmt.Errorf("%s %s: circuit open: %w", dependency, operation, ErrDependencyUnavailable)
	}

	err := Retry(ctx, e.retrySettings, operation, e.logger, fn)
	if err == nil {
		b.RecordSuccess()
		return nil
	}

	if ctx.Err() != nil {
		// Cancellation is not a dependency failure; only the half-open slot
		// is released.
		b.Release()
		return err
	}

	if IsTransient(err) || errors.Is(err, ErrRetryExhausted) {
		b.RecordFailure()
		return fmt.Errorf("%s %s: %w: %w", dependency, operation, ErrDependencyUnavailable, err)
	}

	b.RecordSuccess()
	return err
}
