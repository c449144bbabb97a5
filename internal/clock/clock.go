// Package clock provides an injectable time source so that live trading and
// backtests share the same ledger code path. All snapshot and trade
// timestamps must come from a Clock, never from the host clock directly.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Real is the wall-clock time source used in live trading.
type Real struct{}

// Now returns the current wall-clock time in UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Sim is a simulated, monotonically advancing time source for backtests.
type Sim struct {
	mu  sync.Mutex
	now time.Time
}

// NewSim creates a simulated clock starting at the given instant.
func NewSim(start time.Time) *Sim {
	return &Sim{now: start.UTC()}
}

// Now returns the current simulated time.
func (s *Sim) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the simulated clock forward by d. Negative durations are
// ignored so simulated time never runs backwards.
func (s *Sim) Advance(d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.now = s.now.Add(d)
	}
	return s.now
}

// Set jumps the simulated clock to t if t is not before the current time.
func (s *Sim) Set(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.now) {
		s.now = t.UTC()
	}
	return s.now
}
