// Package circuitbreaker guards calls to external backends, failing fast
// while the backend is down instead of letting every caller time out.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State string

const (
	// StateClosed allows all calls through.
	StateClosed State = "closed"
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen State = "open"
	// StateHalfOpen lets a few probe calls through to test recovery.
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// Config tunes when the breaker trips and recovers.
type Config struct {
	// MaxFailures is the consecutive failure count that trips the breaker.
	MaxFailures int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// HalfOpenProbes is how many successful probes close the breaker again.
	HalfOpenProbes int
}

// DefaultConfig trips after 5 consecutive failures and probes after 10s.
func DefaultConfig() Config {
	return Config{
		MaxFailures:    5,
		Cooldown:       10 * time.Second,
		HalfOpenProbes: 2,
	}
}

// Breaker is a consecutive-failure circuit breaker. The zero value is not
// usable; construct with New.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failures    int
	probes      int
	openedAt    time.Time
	lastFailure time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Do runs fn under breaker protection. While open it returns ErrOpen without
// calling fn.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		// any failure while probing reopens immediately
		if b.state == StateHalfOpen || b.failures >= b.cfg.MaxFailures {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.probes++
		if b.probes >= b.cfg.HalfOpenProbes {
			b.state = StateClosed
			b.failures = 0
		}
	default:
		b.failures = 0
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
}
