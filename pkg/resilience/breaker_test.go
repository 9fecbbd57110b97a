package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferret-scan/ferret/pkg/config"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration)  { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, cfg config.BreakerConfig) (*Breaker, *fakeClock) {
	t.Helper()
	b := NewBreaker(cfg, nil)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b.now = clock.now
	return b, clock
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		b.RecordFailure()
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, config.BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  30 * time.Second,
	})

	failN(b, 4)
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerRecoveryScenario(t *testing.T) {
	// Threshold 5, recovery 30s: five failures open the circuit, a call
	// inside the window fails fast, a call at t+31s becomes the trial.
	b, clock := newTestBreaker(t, config.BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  30 * time.Second,
	})

	failN(b, 5)
	require.Equal(t, StateOpen, b.State())

	clock.advance(29 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	clock.advance(2 * time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	// Concurrent callers are refused while the trial is in flight.
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	b, clock := newTestBreaker(t, config.BreakerConfig{
		FailureThreshold: 2,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  10 * time.Second,
	})

	failN(b, 2)
	clock.advance(11 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// The recovery timer restarted at the failed trial.
	clock.advance(9 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	clock.advance(2 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestBreakerWindowPrunesOldFailures(t *testing.T) {
	b, clock := newTestBreaker(t, config.BreakerConfig{
		FailureThreshold: 3,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  10 * time.Second,
	})

	failN(b, 2)
	clock.advance(2 * time.Minute)

	// Old failures fell out of the window; two fresh ones are not enough.
	failN(b, 2)
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerCancelledTrialFreesSlot(t *testing.T) {
	b, clock := newTestBreaker(t, config.BreakerConfig{
		FailureThreshold: 2,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  10 * time.Second,
	})

	failN(b, 2)
	clock.advance(11 * time.Second)
	require.NoError(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.State())

	// The trial unwinds without a verdict; the slot must come back.
	b.CancelTrial()
	require.NoError(t, b.Allow(), "next caller becomes the trial")
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "still only one trial in flight")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerCancelTrialOutsideHalfOpenIsNoop(t *testing.T) {
	b, _ := newTestBreaker(t, config.BreakerConfig{
		FailureThreshold: 2,
		FailureWindow:    time.Minute,
		RecoveryTimeout:  10 * time.Second,
	})

	b.CancelTrial()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())

	failN(b, 2)
	b.CancelTrial()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreakerClosedAfterTrialResetsCounter(t *testing.T) {
	b, clock := newTestBreaker(t, config.BreakerConfig{
		FailureThreshold: 2,
		FailureWindow:    time.Hour,
		RecoveryTimeout:  time.Second,
	})

	failN(b, 2)
	clock.advance(2 * time.Second)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	// A single failure after recovery must not trip the breaker again.
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}
