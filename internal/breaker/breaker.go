// Package breaker provides a per-dependency circuit breaker with
// closed → open → half-open state transitions over a sliding failure
// window.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/flowgate/internal/clock"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: limited requests test recovery
)

// String returns the state name.
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

// CircuitOpenError is returned while the circuit is open. RetryAfter
// is how long until the next probe will be admitted.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit_open: name=%s retry_after=%s", e.Name, e.RetryAfter)
}

// Options configure one breaker.
type Options struct {
	FailureThreshold    int
	MonitorWindow       time.Duration
	ResetTimeout        time.Duration
	HalfOpenMaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.MonitorWindow <= 0 {
		o.MonitorWindow = time.Minute
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = 30 * time.Second
	}
	if o.HalfOpenMaxAttempts <= 0 {
		o.HalfOpenMaxAttempts = 3
	}
	return o
}

// Stats is a point-in-time snapshot for dashboards.
type Stats struct {
	Name              string    `json:"name"`
	State             string    `json:"state"`
	FailuresInWindow  int       `json:"failures_in_window"`
	HalfOpenSuccesses int       `json:"half_open_successes"`
	LastStateChange   time.Time `json:"last_state_change"`
}

// Breaker guards calls to one named dependency. Failure timestamps
// older than the monitor window are pruned on every evaluation, so the
// threshold reflects a true sliding window, not a lifetime count.
// State is per process: horizontally scaled instances each track
// failures independently.
type Breaker struct {
	name string
	opts Options
	clk  clock.Clock

	mu                sync.Mutex
	state             State
	failures          []time.Time
	halfOpenSuccesses int
	openedAt          time.Time
	lastStateChange   time.Time

	onTransition func(name string, from, to State)
}

// New creates a breaker for one dependency name.
func New(name string, opts Options, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Breaker{
		name:            name,
		opts:            opts.withDefaults(),
		clk:             clk,
		state:           StateClosed,
		lastStateChange: clk.Now(),
	}
}

// OnTransition sets a callback invoked on state changes (for metrics).
func (b *Breaker) OnTransition(fn func(name string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Execute runs fn under the breaker. While open and before the reset
// timeout has elapsed it fails fast with CircuitOpenError and fn is
// never invoked. fn's error marks a failure; nil marks a success.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// allow admits or rejects a call, applying the lazy open → half-open
// transition.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	elapsed := b.clk.Now().Sub(b.openedAt)
	if elapsed >= b.opts.ResetTimeout {
		b.transition(StateHalfOpen)
		return nil
	}
	return &CircuitOpenError{
		Name:       b.name,
		RetryAfter: b.opts.ResetTimeout - elapsed,
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clk.Now()
	b.failures = append(b.failures, now)
	b.prune(now)

	switch b.state {
	case StateHalfOpen:
		// Probe failed: straight back to open.
		b.openedAt = now
		b.transition(StateOpen)
	case StateClosed:
		if len(b.failures) >= b.opts.FailureThreshold {
			b.openedAt = now
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		return
	}
	b.halfOpenSuccesses++
	if b.halfOpenSuccesses >= b.opts.HalfOpenMaxAttempts {
		b.failures = b.failures[:0]
		b.transition(StateClosed)
	}
}

// State returns the current state without admitting a call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed and clears bookkeeping.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = b.failures[:0]
	b.halfOpenSuccesses = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// Stats snapshots the breaker for dashboards.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(b.clk.Now())
	return Stats{
		Name:              b.name,
		State:             b.state.String(),
		FailuresInWindow:  len(b.failures),
		HalfOpenSuccesses: b.halfOpenSuccesses,
		LastStateChange:   b.lastStateChange,
	}
}

// prune drops failure timestamps older than the monitor window.
// Caller must hold b.mu.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.opts.MonitorWindow)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
}

// transition changes state and fires the callback if set.
// Caller must hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastStateChange = b.clk.Now()
	if to != StateHalfOpen {
		b.halfOpenSuccesses = 0
	}
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(b.name, from, to)
	}
}
