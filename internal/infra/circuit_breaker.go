package infra

import (
	"errors"
	"sync"
	"time"
)

// Circuit breaker guarding the WEB-SRM gateway. During an authority
// outage the drain cron would otherwise burn every record's retry
// budget against a dead endpoint; tripping open pauses draining until
// a probe succeeds, and skipped records keep their budget intact.
//
// States: Closed (requests flow) → Open (fast-fail) → Half-Open (one
// probe at a time until SuccessThreshold closes it again).

// CBState represents the current circuit breaker state.
type CBState int

const (
	CBClosed CBState = iota
	CBOpen
	CBHalfOpen
)

// String returns the state name shown by /health and in drain logs.
func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "closed"
	case CBOpen:
		return "open"
	case CBHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when Execute is called while the CB is
// open. The drainer treats it as "no submission happened" and releases
// the claim without charging the retry budget.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds tunable parameters.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive gateway faults to trip open
	SuccessThreshold int           // consecutive half-open successes to close
	OpenTimeout      time.Duration // how long to stay open before probing
}

// DefaultCBConfig returns the defaults used for the SRM gateway.
func DefaultCBConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
	}
}

// CircuitBreaker implements the pattern with thread-safe transitions.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       CBState
	faults      int // consecutive gateway faults while closed
	probeWins   int // consecutive successes while half-open
	trippedAt   time.Time
	failCutoff  int
	closeCutoff int
	openTimeout time.Duration
}

// NewCircuitBreaker creates a CB in Closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	return &CircuitBreaker{
		state:       CBClosed,
		failCutoff:  cfg.FailureThreshold,
		closeCutoff: cfg.SuccessThreshold,
		openTimeout: cfg.OpenTimeout,
	}
}

// State returns the current state, transitioning open → half-open once
// the open timeout has elapsed. Safe for concurrent use.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CBOpen && time.Since(cb.trippedAt) >= cb.openTimeout {
		cb.state = CBHalfOpen
		cb.probeWins = 0
	}
	return cb.state
}

// Execute runs fn through the circuit breaker, returning ErrCircuitOpen
// without invoking fn while the circuit is open.
//
// Only gateway faults move the circuit: a validation rejection is the
// authority answering correctly about a bad payload, so it counts as
// contact, not as an outage.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if cb.State() == CBOpen {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !isGatewayFault(err) {
		cb.recordContact()
		return err
	}
	cb.recordFault()
	return err
}

func isGatewayFault(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind != KindValidation
	}
	return true
}

// recordFault is called under lock.
func (cb *CircuitBreaker) recordFault() {
	switch cb.state {
	case CBClosed:
		cb.faults++
		if cb.faults >= cb.failCutoff {
			cb.state = CBOpen
			cb.trippedAt = time.Now()
			cb.probeWins = 0
		}
	case CBHalfOpen:
		// Probe failed — reopen the window
		cb.state = CBOpen
		cb.trippedAt = time.Now()
		cb.faults = 0
	}
}

// recordContact is called under lock for any response that proves the
// gateway is reachable.
func (cb *CircuitBreaker) recordContact() {
	switch cb.state {
	case CBClosed:
		cb.faults = 0
	case CBHalfOpen:
		cb.probeWins++
		if cb.probeWins >= cb.closeCutoff {
			cb.state = CBClosed
			cb.faults = 0
			cb.probeWins = 0
		}
	}
}
