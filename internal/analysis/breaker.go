package analysis

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker fails a call fast, without
// any network attempt. Use RetryAfter on the wrapped *CircuitOpenError for
// the recovery hint.
var ErrCircuitOpen = errors.New("analysis service circuit open")

// CircuitOpenError carries the time remaining until the breaker will admit
// a probe call.
type CircuitOpenError struct {
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("analysis service unavailable, retry after %ds", int(e.RetryAfter.Seconds())+1)
}

func (e *CircuitOpenError) Unwrap() error {
	return ErrCircuitOpen
}

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig sets the failure threshold and recovery timeout.
type BreakerConfig struct {
	FailThreshold int           // consecutive failures before opening
	ResetTimeout  time.Duration // how long the breaker stays open
}

// Breaker is a failure-isolation state machine shared across all batches of
// a scan (and across scans using the same client). Transitions: closed
// opens after FailThreshold consecutive failures; open admits exactly one
// probe after ResetTimeout; the probe's outcome commits to closed or open.
// All transitions are serialized behind a mutex.
type Breaker struct {
	cfg BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	probeInFlight bool
	now           func() time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		cfg:   cfg,
		state: BreakerClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns a
// *CircuitOpenError with a retry-after hint; once the reset timeout has
// elapsed it admits a single half-open probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cfg.ResetTimeout {
			return &CircuitOpenError{RetryAfter: b.cfg.ResetTimeout - elapsed}
		}
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		return nil
	case BreakerHalfOpen:
		if b.probeInFlight {
			return &CircuitOpenError{RetryAfter: b.cfg.ResetTimeout}
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probeInFlight = false
}

// RecordFailure counts a failure toward the threshold. A failure while
// half-open reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.open()
		return
	}

	b.failures++
	if b.failures >= b.cfg.FailThreshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
	b.probeInFlight = false
}

// State returns the current breaker position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
