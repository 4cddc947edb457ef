// Package circuitbreaker stops the notifier from hammering a sink that keeps
// failing. Each sink gets its own breaker; while it is open, sends fail fast
// with ErrCircuitOpen and the next poll retries.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/contestpulse/internal/metrics"
)

// State is the breaker position.
//
//	closed    -> open       after MaxFailures consecutive failures
//	open      -> half-open  once RecoveryTimeout has passed since the last failure
//	half-open -> closed     when the probe succeeds
//	half-open -> open       when the probe fails
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
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned when the breaker is rejecting requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the configuration for a CircuitBreaker.
type Config struct {
	// Name identifies the protected sink ("smtp", "ses", "sns", "sqs", "webhook").
	Name                string
	MaxFailures         int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

// DefaultConfig returns the breaker settings used for every notification sink.
// With a one-minute notification poll, a two-minute recovery window fails
// at most a couple of polls fast before a probe is tried.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxFailures:         5,
		RecoveryTimeout:     2 * time.Minute,
		HalfOpenMaxRequests: 1,
	}
}

type counters struct {
	requests, failures, successes, rejected, refused int64
}

// CircuitBreaker guards one notification sink. It is safe for concurrent use.
type CircuitBreaker struct {
	mu     sync.RWMutex
	config Config
	logger *zap.Logger
	now    func() time.Time

	state       State
	consecutive int
	probes      int
	lastFailure time.Time
	changedAt   time.Time
	totals      counters
}

// New creates a breaker. Non-positive fields take the DefaultConfig values.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}

	cb := &CircuitBreaker{config: cfg, logger: logger, now: time.Now}
	cb.changedAt = cb.now()
	metrics.SetBreakerState(cfg.Name, int(StateClosed))

	return cb
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Allow reports whether a request may proceed. Every call that returns true
// must be followed by exactly one of RecordSuccess, RecordFailure or
// RecordAbandoned.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totals.requests++

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
		cb.setState(StateHalfOpen)
		cb.logger.Info("circuit breaker probing sink", zap.String("name", cb.config.Name))
	}

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probes < cb.config.HalfOpenMaxRequests {
			cb.probes++
			return true
		}
	}

	cb.totals.rejected++
	return false
}

// RecordSuccess records a successful request. A successful probe closes
// the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totals.successes++
	cb.consecutive = 0

	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		cb.logger.Info("circuit breaker closed, sink recovered", zap.String("name", cb.config.Name))
	}
}

// RecordRefused records a request the sink answered but refused for reasons
// tied to that one recipient. For the breaker it counts as a live sink.
func (cb *CircuitBreaker) RecordRefused() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totals.refused++
	cb.consecutive = 0

	if cb.state == StateHalfOpen {
		cb.setState(StateClosed)
		cb.logger.Info("circuit breaker closed, sink answered", zap.String("name", cb.config.Name))
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totals.failures++
	cb.consecutive++
	cb.lastFailure = cb.now()

	switch {
	case cb.state == StateHalfOpen:
		cb.setState(StateOpen)
		cb.logger.Warn("circuit breaker re-opened, probe failed", zap.String("name", cb.config.Name))
	case cb.state == StateClosed && cb.consecutive >= cb.config.MaxFailures:
		cb.setState(StateOpen)
		cb.logger.Warn("circuit breaker opened",
			zap.String("name", cb.config.Name),
			zap.Int("failures", cb.consecutive),
		)
	}
}

// RecordAbandoned releases a request slot without judging the sink, for
// calls cut short by the caller.
func (cb *CircuitBreaker) RecordAbandoned() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

// GetState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats is a point-in-time snapshot for the health endpoint.
type Stats struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	FailureCount    int    `json:"failure_count"`
	TotalRequests   int64  `json:"total_requests"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejected   int64  `json:"total_rejected"`
	TotalRefused    int64  `json:"total_refused"`
	LastFailure     string `json:"last_failure,omitempty"`
	LastStateChange string `json:"last_state_change"`
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	s := Stats{
		Name:            cb.config.Name,
		State:           cb.state.String(),
		FailureCount:    cb.consecutive,
		TotalRequests:   cb.totals.requests,
		TotalFailures:   cb.totals.failures,
		TotalSuccesses:  cb.totals.successes,
		TotalRejected:   cb.totals.rejected,
		TotalRefused:    cb.totals.refused,
		LastStateChange: cb.changedAt.Format(time.RFC3339),
	}
	if !cb.lastFailure.IsZero() {
		s.LastFailure = cb.lastFailure.Format(time.RFC3339)
	}
	return s
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.consecutive = 0
	cb.probes = 0
	cb.logger.Info("circuit breaker reset", zap.String("name", cb.config.Name))
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.logger.Debug("circuit breaker state change",
		zap.String("name", cb.config.Name),
		zap.Stringer("from", cb.state),
		zap.Stringer("to", s),
	)
	cb.state = s
	cb.changedAt = cb.now()
	cb.probes = 0
	metrics.SetBreakerState(cb.config.Name, int(s))
}

func (cb *CircuitBreaker) String() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return fmt.Sprintf("CircuitBreaker[%s] state=%s failures=%d/%d",
		cb.config.Name, cb.state, cb.consecutive, cb.config.MaxFailures)
}
