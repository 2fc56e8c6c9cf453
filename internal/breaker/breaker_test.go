package breaker

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(cfg Config) (*Breaker, *clockwork.FakeClock) {
	fc := clockwork.NewFakeClockAt(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	return New(cfg, fc), fc
}

func TestCanRequest_ClosedByDefault(t *testing.T) {
	b, _ := newTestBreaker(Config{})

	allowed, reason := b.CanRequest("gdacs-floods")
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{})

	for i := 0; i < 2; i++ {
		b.OnFailure("x")
		allowed, _ := b.CanRequest("x")
		assert.True(t, allowed, "still closed after %d failures", i+1)
	}

	b.OnFailure("x")
	allowed, reason := b.CanRequest("x")
	assert.False(t, allowed)
	assert.Contains(t, reason, "circuit open")
}

func TestDenialReasonCarriesPositiveRetrySeconds(t *testing.T) {
	b, _ := newTestBreaker(Config{})

	for i := 0; i < 3; i++ {
		b.OnFailure("x")
	}

	_, reason := b.CanRequest("x")
	m := regexp.MustCompile(`retry in (\d+)s`).FindStringSubmatch(reason)
	require.Len(t, m, 2)
	secs, err := strconv.Atoi(m[1])
	require.NoError(t, err)
	assert.Positive(t, secs)
}

func TestIntermittentSuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(Config{})

	b.OnFailure("x")
	b.OnFailure("x")
	b.OnSuccess("x")
	b.OnFailure("x")
	b.OnFailure("x")

	allowed, _ := b.CanRequest("x")
	assert.True(t, allowed, "intermittent success must reset the consecutive count")
}

func TestHalfOpenProbeAfterBackoff(t *testing.T) {
	b, fc := newTestBreaker(Config{})

	for i := 0; i < 3; i++ {
		b.OnFailure("x")
	}

	allowed, _ := b.CanRequest("x")
	require.False(t, allowed)

	fc.Advance(30 * time.Second)

	// Exactly one probe goes through; concurrent callers are denied until
	// the probe resolves.
	allowed, reason := b.CanRequest("x")
	assert.True(t, allowed)
	assert.Equal(t, "probe", reason)

	allowed, reason = b.CanRequest("x")
	assert.False(t, allowed)
	assert.Contains(t, reason, "probe in flight")
}

func TestProbeSuccessClosesAndResetsBackoff(t *testing.T) {
	b, fc := newTestBreaker(Config{})

	for i := 0; i < 3; i++ {
		b.OnFailure("x")
	}
	fc.Advance(30 * time.Second)

	allowed, _ := b.CanRequest("x")
	require.True(t, allowed)
	b.OnSuccess("x")

	snap := b.Status()["x"]
	assert.Equal(t, StateClosed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Equal(t, 30*time.Second, snap.CurrentBackoff)

	allowed, _ = b.CanRequest("x")
	assert.True(t, allowed)
}

func TestProbeFailureDoublesBackoff(t *testing.T) {
	b, fc := newTestBreaker(Config{})

	for i := 0; i < 3; i++ {
		b.OnFailure("x")
	}

	// First probe fails: backoff 30s -> 60s.
	fc.Advance(30 * time.Second)
	allowed, _ := b.CanRequest("x")
	require.True(t, allowed)
	b.OnFailure("x")

	assert.Equal(t, 60*time.Second, b.Status()["x"].CurrentBackoff)

	// 30s is no longer enough to earn a probe.
	fc.Advance(30 * time.Second)
	allowed, _ = b.CanRequest("x")
	assert.False(t, allowed)

	fc.Advance(30 * time.Second)
	allowed, _ = b.CanRequest("x")
	assert.True(t, allowed)
}

func TestBackoffCapped(t *testing.T) {
	b, fc := newTestBreaker(Config{
		ResetTimeoutBase: 30 * time.Second,
		MaxResetTimeout:  120 * time.Second,
	})

	for i := 0; i < 3; i++ {
		b.OnFailure("x")
	}

	// Fail enough probes to exceed the cap: 30 -> 60 -> 120 -> 120.
	for i := 0; i < 4; i++ {
		fc.Advance(b.Status()["x"].CurrentBackoff)
		allowed, _ := b.CanRequest("x")
		require.True(t, allowed, "probe %d", i)
		b.OnFailure("x")
	}

	assert.Equal(t, 120*time.Second, b.Status()["x"].CurrentBackoff)
}

func TestCircuitsAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(Config{})

	for i := 0; i < 3; i++ {
		b.OnFailure("broken")
	}

	allowed, _ := b.CanRequest("broken")
	assert.False(t, allowed)

	allowed, _ = b.CanRequest("healthy")
	assert.True(t, allowed)
}

func TestStatusSnapshots(t *testing.T) {
	b, fc := newTestBreaker(Config{})

	b.OnSuccess("a")
	for i := 0; i < 3; i++ {
		b.OnFailure("b")
	}
	fc.Advance(10 * time.Second)

	status := b.Status()
	require.Len(t, status, 2)

	assert.Equal(t, StateClosed, status["a"].State)
	assert.Equal(t, uint64(1), status["a"].TotalSuccesses)

	assert.Equal(t, StateOpen, status["b"].State)
	assert.Equal(t, uint64(3), status["b"].TotalFailures)
	assert.Equal(t, 3, status["b"].ConsecutiveFailures)
	assert.Equal(t, 20*time.Second, status["b"].RetryIn)
}

func TestOnStateChangeCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	cfg := Config{
		OnStateChange: func(source string, from, to State) {
			mu.Lock()
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", source, from, to))
			mu.Unlock()
		},
	}
	b, fc := newTestBreaker(cfg)

	for i := 0; i < 3; i++ {
		b.OnFailure("x")
	}
	fc.Advance(30 * time.Second)
	allowed, _ := b.CanRequest("x")
	require.True(t, allowed)
	b.OnSuccess("x")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"x:closed->open",
		"x:open->half_open",
		"x:half_open->closed",
	}, transitions)
}

func TestConcurrentAccess(t *testing.T) {
	b, _ := newTestBreaker(Config{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			source := fmt.Sprintf("src-%d", n%4)
			for j := 0; j < 100; j++ {
				b.CanRequest(source)
				if j%3 == 0 {
					b.OnFailure(source)
				} else {
					b.OnSuccess(source)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, b.Status(), 4)
}
