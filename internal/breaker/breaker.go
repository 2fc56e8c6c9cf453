// Package breaker implements the per-source failure isolation state machine.
//
// Each source owns an independent circuit: Closed passes all requests, Open
// denies everything until a backoff elapses, HalfOpen admits exactly one
// probe. A failed probe reopens the circuit and doubles the backoff up to a
// cap; a successful probe closes it and resets the backoff to its base. The
// single-flight probe keeps a degraded upstream from being polled at full
// frequency while it recovers.
//
// All failure classes (transport error, non-2xx response, undecodable
// payload) count identically toward the threshold.
package breaker

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State of one source's circuit.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the breaker thresholds. Zero fields take the defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens a
	// closed circuit. Default 3.
	FailureThreshold int

	// ResetTimeoutBase is the initial open-state backoff. Default 30s.
	ResetTimeoutBase time.Duration

	// MaxResetTimeout caps the doubled backoff. Default 600s.
	MaxResetTimeout time.Duration

	// OnStateChange, when set, is invoked (outside the breaker lock) after
	// every state transition.
	OnStateChange func(source string, from, to State)
}

const (
	defaultFailureThreshold = 3
	defaultResetTimeoutBase = 30 * time.Second
	defaultMaxResetTimeout  = 600 * time.Second
)

// Snapshot is a point-in-time copy of one circuit's state for observability.
type Snapshot struct {
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalFailures       uint64        `json:"total_failures"`
	TotalSuccesses      uint64        `json:"total_successes"`
	LastFailureAt       time.Time     `json:"last_failure_at,omitzero"`
	CurrentBackoff      time.Duration `json:"current_backoff"`
	RetryIn             time.Duration `json:"retry_in,omitempty"`
}

// circuit is the mutable per-source state. Guarded by the Breaker mutex.
type circuit struct {
	state               State
	consecutiveFailures int
	totalFailures       uint64
	totalSuccesses      uint64
	lastFailureAt       time.Time
	backoff             time.Duration
	probeInFlight       bool
}

// Breaker gates fetch attempts per source. Circuits are created lazily on
// first reference and persist for the process lifetime; success resets them
// in place, nothing destroys them.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	clock    clockwork.Clock
	circuits map[string]*circuit
}

// New creates a Breaker. Pass nil for the real clock.
func New(cfg Config, clock clockwork.Clock) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ResetTimeoutBase <= 0 {
		cfg.ResetTimeoutBase = defaultResetTimeoutBase
	}
	if cfg.MaxResetTimeout <= 0 {
		cfg.MaxResetTimeout = defaultMaxResetTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Breaker{
		cfg:      cfg,
		clock:    clock,
		circuits: make(map[string]*circuit),
	}
}

// CanRequest reports whether a fetch attempt against the source is permitted.
// When denied, the reason embeds the number of seconds until the next attempt
// may succeed.
func (b *Breaker) CanRequest(source string) (bool, string) {
	b.mu.Lock()
	c := b.circuit(source)

	switch c.state {
	case StateClosed:
		b.mu.Unlock()
		return true, ""

	case StateOpen:
		elapsed := b.clock.Now().Sub(c.lastFailureAt)
		if elapsed >= c.backoff {
			c.state = StateHalfOpen
			c.probeInFlight = true
			b.mu.Unlock()
			b.notify(source, StateOpen, StateHalfOpen)
			return true, "probe"
		}
		reason := fmt.Sprintf("circuit open, retry in %ds", retrySeconds(c.backoff-elapsed))
		b.mu.Unlock()
		return false, reason

	default: // StateHalfOpen
		if !c.probeInFlight {
			c.probeInFlight = true
			b.mu.Unlock()
			return true, "probe"
		}
		reason := fmt.Sprintf("probe in flight, retry in %ds", retrySeconds(c.backoff))
		b.mu.Unlock()
		return false, reason
	}
}

// OnSuccess records a successful fetch: consecutive failures reset regardless
// of prior state, and any non-closed circuit closes with its backoff back at
// base.
func (b *Breaker) OnSuccess(source string) {
	b.mu.Lock()
	c := b.circuit(source)

	from := c.state
	c.totalSuccesses++
	c.consecutiveFailures = 0
	c.probeInFlight = false
	c.state = StateClosed
	c.backoff = b.cfg.ResetTimeoutBase
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(source, from, StateClosed)
	}
}

// OnFailure records a failed fetch. A failed half-open probe reopens the
// circuit with doubled backoff; reaching the threshold opens a closed
// circuit.
func (b *Breaker) OnFailure(source string) {
	b.mu.Lock()
	c := b.circuit(source)

	from := c.state
	c.totalFailures++
	c.consecutiveFailures++
	c.lastFailureAt = b.clock.Now()

	switch c.state {
	case StateHalfOpen:
		c.state = StateOpen
		c.probeInFlight = false
		c.backoff = minDuration(c.backoff*2, b.cfg.MaxResetTimeout)
	case StateClosed:
		if c.consecutiveFailures >= b.cfg.FailureThreshold {
			c.state = StateOpen
		}
	}
	to := c.state
	b.mu.Unlock()

	if from != to {
		b.notify(source, from, to)
	}
}

// Status returns a snapshot of every circuit seen so far.
func (b *Breaker) Status() map[string]Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	out := make(map[string]Snapshot, len(b.circuits))
	for source, c := range b.circuits {
		snap := Snapshot{
			State:               c.state,
			ConsecutiveFailures: c.consecutiveFailures,
			TotalFailures:       c.totalFailures,
			TotalSuccesses:      c.totalSuccesses,
			LastFailureAt:       c.lastFailureAt,
			CurrentBackoff:      c.backoff,
		}
		if c.state == StateOpen {
			if remaining := c.backoff - now.Sub(c.lastFailureAt); remaining > 0 {
				snap.RetryIn = remaining
			}
		}
		out[source] = snap
	}
	return out
}

// circuit returns the source's circuit, creating it lazily. Callers hold the
// lock.
func (b *Breaker) circuit(source string) *circuit {
	c, ok := b.circuits[source]
	if !ok {
		c = &circuit{state: StateClosed, backoff: b.cfg.ResetTimeoutBase}
		b.circuits[source] = c
	}
	return c
}

func (b *Breaker) notify(source string, from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(source, from, to)
	}
}

// retrySeconds rounds a remaining wait up to whole seconds, never below 1 so
// the reason always carries a positive retry hint.
func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
