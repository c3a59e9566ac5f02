// Package health derives a three-state availability signal for the host from
// periodic health checks.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// Pinger checks whether the host is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config tunes the monitor.
type Config struct {
	Interval          time.Duration
	Timeout           time.Duration
	FailureThreshold  int
	RecoverySuccesses int
}

// Monitor owns the HealthState singleton. Only its own checks mutate it.
type Monitor struct {
	mu    sync.RWMutex
	state domain.HealthState

	pinger   Pinger
	cfg      Config
	onChange func(domain.HealthState)
	now      func() time.Time
	log      *zap.SugaredLogger
}

// Option configures a Monitor.
type Option func(m *Monitor)

// WithChangeHandler sets the function called after every state change. It
// runs on the probing goroutine without the monitor lock held.
func WithChangeHandler(f func(domain.HealthState)) Option {
	return func(m *Monitor) {
		m.onChange = f
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Monitor) {
		m.log = l
	}
}

// New creates a monitor in the available state.
func New(p Pinger, cfg Config, opts ...Option) *Monitor {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.RecoverySuccesses < 1 {
		cfg.RecoverySuccesses = 1
	}
	m := &Monitor{
		state:  domain.HealthState{State: domain.HealthAvailable},
		pinger: p,
		cfg:    cfg,
		now:    time.Now,
		log:    zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Snapshot returns the current state.
func (m *Monitor) Snapshot() domain.HealthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Run checks immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs a single check bounded by the check timeout and records the
// result.
func (m *Monitor) Check(ctx context.Context) domain.HealthState {
	checkCtx := ctx
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	err := m.pinger.Ping(checkCtx)
	if err != nil && ctx.Err() != nil {
		// Shutting down; not a host failure.
		return m.Snapshot()
	}
	return m.record(err)
}

func (m *Monitor) record(err error) domain.HealthState {
	m.mu.Lock()
	prev := m.state.State
	s := m.state
	s.LastCheckedAt = m.now()

	if err != nil {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= m.cfg.FailureThreshold {
			s.State = domain.HealthUnavailable
		} else {
			s.State = domain.HealthDegraded
		}
	} else {
		s.ConsecutiveFailures = 0
		s.ConsecutiveSuccesses++
		if prev == domain.HealthAvailable || s.ConsecutiveSuccesses >= m.cfg.RecoverySuccesses {
			s.State = domain.HealthAvailable
		} else {
			s.State = domain.HealthDegraded
		}
	}
	m.state = s
	m.mu.Unlock()

	if err != nil {
		m.log.Warnw("host health check failed", "error", err, "consecutiveFailures", s.ConsecutiveFailures)
	}
	if s.State != prev {
		m.log.Infow("host health changed", "from", prev, "to", s.State)
		if m.onChange != nil {
			m.onChange(s)
		}
	}
	return s
}
