// Package breaker implements the persisted circuit breaker that protects the
// repeater link from repeated queries while the node is unreachable.
package breaker

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the persisted breaker record. Times are unix seconds.
type State struct {
	ConsecutiveFailures int     `json:"consecutive_failures"`
	CooldownUntil       float64 `json:"cooldown_until"`
	LastSuccess         float64 `json:"last_success"`
}

// Breaker gates remote collection for a single endpoint. It has two states:
// closed while failures stay under the threshold, open until cooldown_until.
// There is no half-open trial call; the first attempt after the cooldown decides.
type Breaker struct {
	mu     sync.Mutex
	path   string
	state  State
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Breaker
type Option func(*Breaker)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger sets the logger used for load and persist problems
func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) { b.logger = logger }
}

// New loads the breaker persisted at path. A missing or malformed file
// yields a fresh closed breaker.
func New(path string, opts ...Option) *Breaker {
	b := &Breaker{
		path:   path,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	state, err := loadState(path)
	if err != nil {
		b.logger.Debug("circuit state unreadable, starting closed",
			zap.String("path", path), zap.Error(err))
		state = State{}
	}
	b.state = state
	return b
}

// Reload replaces the in-memory state with what is persisted at path. On
// error the current state is kept.
func (b *Breaker) Reload() error {
	state, err := loadState(b.path)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
	return nil
}

// IsOpen reports whether the cooldown window is still active. It never blocks
// on I/O.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return unixSeconds(b.now()) < b.state.CooldownUntil
}

// CooldownRemaining returns how long the breaker stays open, never negative.
// Whole seconds only.
func (b *Breaker) CooldownRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.state.CooldownUntil - unixSeconds(b.now())
	if remaining <= 0 {
		return 0
	}
	return time.Duration(math.Floor(remaining)) * time.Second
}

// RecordSuccess clears consecutive failures and stamps last_success. An
// already running cooldown is left to expire on its own.
func (b *Breaker) RecordSuccess() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.ConsecutiveFailures = 0
	b.state.LastSuccess = unixSeconds(b.now())
	return b.persist()
}

// RecordFailure counts one failed logical operation. Reaching maxFailures
// opens the breaker for cooldown starting now, and each further failure
// pushes the window forward again.
func (b *Breaker) RecordFailure(maxFailures int, cooldown time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.ConsecutiveFailures++
	if b.state.ConsecutiveFailures >= maxFailures {
		b.state.CooldownUntil = unixSeconds(b.now()) + cooldown.Seconds()
	}
	return b.persist()
}

// State returns a copy of the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status is the breaker summary served by health checks
type Status struct {
	Open                bool   `json:"open"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	CooldownRemaining   string `json:"cooldown_remaining,omitempty"`
	LastSuccess         string `json:"last_success,omitempty"`
}

// Status returns the current breaker summary
func (b *Breaker) Status() Status {
	status := Status{
		Open:                b.IsOpen(),
		ConsecutiveFailures: b.State().ConsecutiveFailures,
	}
	if remaining := b.CooldownRemaining(); remaining > 0 {
		status.CooldownRemaining = remaining.String()
	}
	if last := b.State().LastSuccess; last > 0 {
		status.LastSuccess = fromUnixSeconds(last).UTC().Format(time.RFC3339)
	}
	return status
}

// persist must be called with b.mu held
func (b *Breaker) persist() error {
	if b.path == "" {
		return nil
	}
	if err := saveState(b.path, b.state); err != nil {
		b.logger.Warn("failed to persist circuit state", zap.String("path", b.path), zap.Error(err))
		return err
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}
