package gaze

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrStaleSignal reports that no gaze samples arrived for too long. It is a
// recoverable condition: callers pause or prompt, tracking is not torn down.
var ErrStaleSignal = errors.New("gaze signal is stale")

// DefaultStaleAfter matches the tolerance used by the browser client.
const DefaultStaleAfter = 5 * time.Minute

// StaleMonitor tracks the time since the last sample.
type StaleMonitor struct {
	mu       sync.Mutex
	after    time.Duration
	last     time.Time
	reported bool
}

// NewStaleMonitor returns a monitor considering the signal stale after d.
func NewStaleMonitor(d time.Duration, now time.Time) *StaleMonitor {
	if d <= 0 {
		d = DefaultStaleAfter
	}
	return &StaleMonitor{after: d, last: now}
}

// Touch records a sample arrival and clears any stale state.
func (m *StaleMonitor) Touch(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = now
	m.reported = false
}

// Check returns ErrStaleSignal once per stale episode, on the first check
// after the threshold passes. Later checks return nil until Touch is called.
func (m *StaleMonitor) Check(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idle := now.Sub(m.last)
	if idle < m.after || m.reported {
		return nil
	}
	m.reported = true
	return fmt.Errorf("%w: no samples for %s", ErrStaleSignal, idle.Round(time.Second))
}

// Stale reports whether the signal is currently stale.
func (m *StaleMonitor) Stale(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Sub(m.last) >= m.after
}
