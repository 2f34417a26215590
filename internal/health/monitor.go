// Package health tracks embedding-service availability by observing
// circuit breaker transitions. The watcher subscribes to transitions to
// start draining deferred work when the service recovers; the
// health_status tool reads snapshots.
package health

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

// Transition is one observed breaker state change.
type Transition struct {
	From cdocserr.State
	To   cdocserr.State
	At   time.Time
}

// Recovered reports whether the transition restored availability.
func (t Transition) Recovered() bool {
	return t.From != cdocserr.StateClosed && t.To == cdocserr.StateClosed
}

// Snapshot is the point-in-time availability report.
type Snapshot struct {
	Available         bool      `json:"available"`
	State             string    `json:"state"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
	FailureCount      int       `json:"failure_count"`
	LastSuccess       time.Time `json:"last_success,omitempty"`
	PlatformHint      string    `json:"platform_hint,omitempty"`
}

// Monitor observes one circuit breaker and fans transitions out to
// subscribers.
type Monitor struct {
	logger *slog.Logger

	mu          sync.Mutex
	breaker     *cdocserr.CircuitBreaker
	subscribers []chan Transition
}

// NewMonitor creates an unbound monitor. Pass OnTransition to the
// breaker's WithTransitionFunc, then Bind the breaker.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{logger: logger}
}

// Bind attaches the breaker the monitor reports on.
func (m *Monitor) Bind(breaker *cdocserr.CircuitBreaker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breaker = breaker
}

// OnTransition is the breaker transition callback.
func (m *Monitor) OnTransition(from, to cdocserr.State) {
	t := Transition{From: from, To: to, At: time.Now()}

	switch {
	case to == cdocserr.StateOpen:
		m.logger.Warn("embedding service unavailable, circuit opened",
			slog.String("from", from.String()))
	case t.Recovered():
		m.logger.Info("embedding service recovered, circuit closed")
	}

	m.mu.Lock()
	subs := make([]chan Transition, len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	for _, ch := range subs {
		// Never block the breaker on a slow subscriber.
		select {
		case ch <- t:
		default:
		}
	}
}

// Subscribe returns a channel receiving future transitions. Slow
// receivers drop transitions rather than blocking the breaker.
func (m *Monitor) Subscribe() <-chan Transition {
	ch := make(chan Transition, 16)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// Available reports whether embedding calls are currently admitted.
func (m *Monitor) Available() bool {
	m.mu.Lock()
	breaker := m.breaker
	m.mu.Unlock()

	if breaker == nil {
		return false
	}
	return breaker.Allow()
}

// Snapshot builds the health_status report.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	breaker := m.breaker
	m.mu.Unlock()

	if breaker == nil {
		return Snapshot{State: "unbound"}
	}

	state := breaker.State()
	snap := Snapshot{
		Available:    state != cdocserr.StateOpen,
		State:        state.String(),
		FailureCount: breaker.Failures(),
		LastSuccess:  breaker.LastSuccess(),
	}
	if after := breaker.RetryAfter(); after > 0 {
		snap.RetryAfterSeconds = int(after.Seconds() + 0.5)
	}
	if !snap.Available {
		snap.PlatformHint = platformHint()
	}
	return snap
}

func platformHint() string {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "On macOS/ARM64 the embedding generator must run natively."
	}
	return ""
}
