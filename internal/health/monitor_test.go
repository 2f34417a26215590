package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

func boundMonitor(t *testing.T, opts ...cdocserr.CircuitBreakerOption) (*Monitor, *cdocserr.CircuitBreaker) {
	t.Helper()
	m := NewMonitor(nil)
	opts = append(opts, cdocserr.WithTransitionFunc(m.OnTransition))
	breaker := cdocserr.NewCircuitBreaker("embedding", opts...)
	m.Bind(breaker)
	return m, breaker
}

func TestMonitor_SnapshotClosed(t *testing.T) {
	m, breaker := boundMonitor(t)
	breaker.RecordSuccess()

	snap := m.Snapshot()

	assert.True(t, snap.Available)
	assert.Equal(t, "closed", snap.State)
	assert.Zero(t, snap.FailureCount)
	assert.False(t, snap.LastSuccess.IsZero())
	assert.Zero(t, snap.RetryAfterSeconds)
}

func TestMonitor_SnapshotOpen(t *testing.T) {
	m, breaker := boundMonitor(t,
		cdocserr.WithMaxFailures(1),
		cdocserr.WithResetTimeout(30*time.Second))
	breaker.RecordFailure()

	snap := m.Snapshot()

	assert.False(t, snap.Available)
	assert.Equal(t, "open", snap.State)
	assert.Equal(t, 1, snap.FailureCount)
	assert.Greater(t, snap.RetryAfterSeconds, 0)
}

func TestMonitor_SubscribeReceivesTransitions(t *testing.T) {
	m, breaker := boundMonitor(t, cdocserr.WithMaxFailures(1))
	ch := m.Subscribe()

	breaker.RecordFailure() // closed -> open

	select {
	case tr := <-ch:
		assert.Equal(t, cdocserr.StateClosed, tr.From)
		assert.Equal(t, cdocserr.StateOpen, tr.To)
		assert.False(t, tr.Recovered())
	case <-time.After(time.Second):
		t.Fatal("no transition received")
	}

	breaker.RecordSuccess() // open -> closed

	select {
	case tr := <-ch:
		assert.True(t, tr.Recovered())
	case <-time.After(time.Second):
		t.Fatal("no recovery transition received")
	}
}

func TestMonitor_UnboundSnapshot(t *testing.T) {
	m := NewMonitor(nil)

	snap := m.Snapshot()

	require.False(t, snap.Available)
	assert.Equal(t, "unbound", snap.State)
	assert.False(t, m.Available())
}
