// Package resilience wraps calls to the remote classification service
// with a circuit breaker and bounded exponential-backoff retries.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ferret-scan/ferret/pkg/config"
)

// ErrCircuitOpen is returned when the breaker refuses a call without
// attempting network I/O.
var ErrCircuitOpen = errors.New("resilience: circuit breaker open")

// State is the breaker state.
type State int

const (
	// StateClosed lets calls proceed normally.
	StateClosed State = iota
	// StateOpen fails calls fast until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen permits a single trial call to probe recovery.
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
	default:
		return "unknown"
	}
}

// Breaker is a failure-protection state machine for one remote endpoint.
// It is shared process-wide and safe for concurrent use; no other
// component reads or mutates its state directly.
type Breaker struct {
	threshold int
	window    time.Duration
	recovery  time.Duration
	log       logrus.FieldLogger

	mu            sync.Mutex
	state         State
	failures      []time.Time
	openedAt      time.Time
	trialInFlight bool

	now func() time.Time
}

// NewBreaker creates a Breaker from config.
func NewBreaker(cfg config.BreakerConfig, log logrus.FieldLogger) *Breaker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	window := cfg.FailureWindow
	if window <= 0 {
		window = time.Minute
	}
	recovery := cfg.RecoveryTimeout
	if recovery <= 0 {
		recovery = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		window:    window,
		recovery:  recovery,
		log:       log,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In OPEN state it transitions
// to HALF_OPEN once the recovery timeout has elapsed and admits the caller
// as the single trial; everyone else gets ErrCircuitOpen.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.recovery {
			b.state = StateHalfOpen
			b.trialInFlight = true
			b.log.Info("circuit breaker half-open, allowing trial call")
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if !b.trialInFlight {
			b.trialInFlight = true
			return nil
		}
		return ErrCircuitOpen

	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess feeds a successful call back into the state machine.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.failures = nil
		b.trialInFlight = false
		b.log.Info("circuit breaker closed after successful trial")
	}
}

// CancelTrial releases the HALF_OPEN trial slot when the admitted trial
// call was abandoned before producing a verdict, so the next caller can
// probe instead of being refused forever. No-op in any other state.
func (b *Breaker) CancelTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.trialInFlight {
		b.trialInFlight = false
		b.log.Info("circuit breaker trial abandoned, slot released")
	}
}

// RecordFailure feeds a failed call back into the state machine. Failures
// in CLOSED state count against a rolling window; reaching the threshold
// opens the circuit. A failed HALF_OPEN trial reopens it and restarts the
// recovery timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = now
		b.trialInFlight = false
		b.log.Warn("circuit breaker reopened after failed trial")

	case StateClosed:
		cutoff := now.Add(-b.window)
		kept := b.failures[:0]
		for _, ts := range b.failures {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		b.failures = append(kept, now)

		if len(b.failures) >= b.threshold {
			b.state = StateOpen
			b.openedAt = now
			b.failures = nil
			b.log.WithField("threshold", b.threshold).Warn("circuit breaker opened")
		}
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
