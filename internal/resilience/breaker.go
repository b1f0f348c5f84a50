// Package resilience provides the retry and circuit breaker primitives that
// guard every outbound call (database, cache, broker, internal HTTP).
package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// State is the circuit breaker state for one dependency.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerSettings configures a circuit breaker instance.
type BreakerSettings struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int

	// OpenDuration is how long the circuit stays open before permitting a
	// half-open trial.
	OpenDuration time.Duration
}

// DefaultBreakerSettings returns the settings used when a caller passes the
// zero value.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
	}
}

// Breaker is a per-dependency circuit breaker. All state mutations happen
// under a single mutex; one instance exists per logical dependency, shared by
// every call site for that dependency.
type Breaker struct {
	settings   BreakerSettings
	dependency string
	logger     *slog.Logger

	now func() time.Time // overridable in tests

	mu               sync.Mutex
	state            State
	failures         int
	openedAt         time.Time
	halfOpenInFlight bool
}

// NewBreaker creates a breaker for one named dependency.
func NewBreaker(dependency string, settings BreakerSettings, logger *slog.Logger) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = DefaultBreakerSettings().FailureThreshold
	}
	if settings.OpenDuration <= 0 {
		settings.OpenDuration = DefaultBreakerSettings().OpenDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		settings:   settings,
		dependency: dependency,
		logger:     logger,
		now:        time.Now,
	}
}

// TryAcquire reports whether a call may proceed. While Open it fails fast
// until OpenDuration has elapsed, then transitions to HalfOpen and admits
// exactly one in-flight trial; concurrent callers during the trial are
// rejected.
func (b *Breaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.settings.OpenDuration {
			return false
		}
		b.transitionTo(StateHalfOpen)
	}

	if b.state == StateHalfOpen {
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	}

	return true
}

// RecordSuccess resets the failure counter and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.halfOpenInFlight = false
	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
}

// RecordFailure counts a failure. A HalfOpen trial failure reopens the
// circuit immediately, bypassing the threshold count.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.halfOpenInFlight = false

	if b.state == StateHalfOpen {
		b.open()
		return
	}

	b.failures++
	if b.failures >= b.settings.FailureThreshold {
		b.open()
	}
}

// Release frees a held half-open slot without recording an outcome. Used
// when a call is cancelled rather than failing.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfOpenInFlight = false
}

// State returns the current state for observation; it never mutates.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) open() {
	b.failures = 0
	b.openedAt = b.now()
	b.transitionTo(StateOpen)
	b.logger.Warn("circuit breaker opened", "dependency", b.dependency)
}

func (b *Breaker) transitionTo(state State) {
	if b.state == state {
		return
	}
	b.state = state
	b.logger.Info("circuit breaker state changed",
		"dependency", b.dependency,
		"state", state.String(),
	)
}
