// Package breaker isolates a failing upstream provider behind a
// closed / open / half-open state machine shared by every request.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/Rajchodisetti/market-data/internal/observ"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"    // Normal operation
	StateOpen     State = "open"      // Failing, reject requests
	StateHalfOpen State = "half-open" // One trial call allowed
)

// ErrOpen is returned by Allow while calls are being rejected.
var ErrOpen = errors.New("circuit breaker open")

// Config holds breaker thresholds.
type Config struct {
	Name             string
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// Ticket is the admission handed out by Allow. Outcomes must be reported
// with exactly one of Success, Failure or Release.
type Ticket struct {
	trial bool
}

// Trial reports whether the ticket is the single half-open probe.
func (t Ticket) Trial() bool { return t.trial }

// Status is a point-in-time view of the breaker.
type Status struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	Failures         int       `json:"consecutive_failures"`
	OpenedAt         time.Time `json:"opened_at,omitempty"`
	RetryAt          time.Time `json:"retry_at,omitempty"`
	TrialInFlight    bool      `json:"trial_in_flight"`
	FailureThreshold int       `json:"failure_threshold"`
}

// Breaker implements the circuit breaker pattern for one provider.
// The mutex only guards state transitions; callers never hold it across I/O.
type Breaker struct {
	mu       sync.Mutex
	config   Config
	state    State
	failures int
	openedAt time.Time

	// trial is a single-slot permit taken by the one half-open probe.
	trial chan struct{}

	now func() time.Time
}

// New builds a closed breaker. Zero thresholds take the defaults (5, 60s).
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.Name == "" {
		config.Name = "provider"
	}
	b := &Breaker{
		config: config,
		state:  StateClosed,
		trial:  make(chan struct{}, 1),
		now:    time.Now,
	}
	b.trial <- struct{}{}
	b.publish()
	return b
}

// WithClock swaps the time source. Tests use it to step through recovery.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	return b
}

// Allow admits a call or fails fast with ErrOpen. In half-open only the
// caller that takes the trial permit is admitted; everyone else is treated
// as if the breaker were still open until that trial resolves.
func (b *Breaker) Allow() (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.RecoveryTimeout {
		b.transition(StateHalfOpen, "recovery_timeout_elapsed")
	}

	switch b.state {
	case StateClosed:
		return Ticket{}, nil
	case StateHalfOpen:
		select {
		case <-b.trial:
			observ.Log("circuit_breaker_trial_started", map[string]any{"breaker": b.config.Name})
			return Ticket{trial: true}, nil
		default:
		}
	}

	observ.IncCounter("circuit_breaker_rejected_total", map[string]string{"breaker": b.config.Name})
	return Ticket{}, ErrOpen
}

// Success records a successful call. A successful trial closes the breaker.
func (b *Breaker) Success(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.trial {
		b.failures = 0
		b.transition(StateClosed, "successful_trial")
		b.releaseTrial()
		return
	}
	if b.state == StateClosed {
		b.failures = 0
	}
}

// Failure records a failed call. Reaching the threshold while closed, or any
// failed trial, opens the breaker with a fresh openedAt.
func (b *Breaker) Failure(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.trial {
		b.openedAt = b.now()
		b.transition(StateOpen, "failed_trial")
		b.releaseTrial()
		return
	}
	if b.state != StateClosed {
		// late result from a call admitted before the breaker opened
		return
	}

	b.failures++
	if b.failures >= b.config.FailureThreshold {
		b.openedAt = b.now()
		b.transition(StateOpen, "failure_threshold_reached")
	}
}

// Release gives back a ticket without an outcome, e.g. when the caller
// cancelled before the provider answered.
func (b *Breaker) Release(t Ticket) {
	if !t.trial {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseTrial()
}

// State returns the current position, applying any due open -> half-open move.
func (b *Breaker) State() State {
	return b.Snapshot().State
}

// Snapshot reports the breaker status.
func (b *Breaker) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.RecoveryTimeout {
		b.transition(StateHalfOpen, "recovery_timeout_elapsed")
	}

	st := Status{
		Name:             b.config.Name,
		State:            b.state,
		Failures:         b.failures,
		TrialInFlight:    b.state == StateHalfOpen && len(b.trial) == 0,
		FailureThreshold: b.config.FailureThreshold,
	}
	if b.state != StateClosed {
		st.OpenedAt = b.openedAt
		st.RetryAt = b.openedAt.Add(b.config.RecoveryTimeout)
	}
	return st
}

// RecoveryTimeout is how long the breaker stays open before probing.
func (b *Breaker) RecoveryTimeout() time.Duration {
	return b.config.RecoveryTimeout
}

// releaseTrial refills the permit. Caller must hold lock.
func (b *Breaker) releaseTrial() {
	select {
	case b.trial <- struct{}{}:
	default:
	}
}

// transition changes state and records the move. Caller must hold lock.
func (b *Breaker) transition(to State, reason string) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	observ.Log("circuit_breaker_state_changed", map[string]any{
		"breaker":  b.config.Name,
		"from":     string(from),
		"to":       string(to),
		"reason":   reason,
		"failures": b.failures,
	})
	observ.IncCounter("circuit_breaker_transitions_total", map[string]string{
		"breaker": b.config.Name,
		"from":    string(from),
		"to":      string(to),
	})
	b.publish()
}

func (b *Breaker) publish() {
	observ.SetGauge("circuit_breaker_state", stateToFloat(b.state), map[string]string{"breaker": b.config.Name})
}

func stateToFloat(s State) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	default:
		return 2
	}
}
