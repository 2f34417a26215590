package errors

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb := NewCircuitBreaker("test")
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(3))

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_ExecuteFailsFastWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithResetTimeout(time.Minute))
	cb.RecordFailure()

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithResetTimeout(10*time.Millisecond))
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithResetTimeout(10*time.Millisecond))
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(func() error { return nil })

	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithResetTimeout(10*time.Millisecond))
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(func() error { return errors.New("still down") })

	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_RetryAfter(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithResetTimeout(30*time.Second))

	assert.Zero(t, cb.RetryAfter())

	cb.RecordFailure()
	retryAfter := cb.RetryAfter()
	assert.Greater(t, retryAfter, 25*time.Second)
	assert.LessOrEqual(t, retryAfter, 30*time.Second)
}

func TestCircuitBreaker_TransitionCallback(t *testing.T) {
	var mu sync.Mutex
	var transitions [][2]State

	cb := NewCircuitBreaker("test",
		WithMaxFailures(2),
		WithResetTimeout(10*time.Millisecond),
		WithTransitionFunc(func(from, to State) {
			mu.Lock()
			transitions = append(transitions, [2]State{from, to})
			mu.Unlock()
		}))

	cb.RecordFailure()
	cb.RecordFailure() // closed -> open
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil })) // open -> half-open -> closed

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, transitions)
	assert.Equal(t, [2]State{StateClosed, StateOpen}, transitions[0])
	last := transitions[len(transitions)-1]
	assert.Equal(t, StateClosed, last[1])
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", WithMaxFailures(3))

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	assert.Equal(t, 0, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
	assert.False(t, cb.LastSuccess().IsZero())
}
