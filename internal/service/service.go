// Package service is the bridge's command proxy. It owns the registry, the
// input correlation store and the health monitor, and is the single handle
// every gateway talks to.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/bridge/internal/config"
	"github.com/xiaot623/gogo/bridge/internal/correlation"
	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/health"
	"github.com/xiaot623/gogo/bridge/internal/host"
	"github.com/xiaot623/gogo/bridge/internal/metrics"
	"github.com/xiaot623/gogo/bridge/internal/registry"
)

// ErrShuttingDown is returned by Execute once Shutdown has begun.
var ErrShuttingDown = &domain.Error{Code: domain.CodeUnavailable, Message: "bridge is shutting down"}

// Broadcaster fans lifecycle events out to observers. Broadcast is called
// with the registry lock held and must not block.
type Broadcaster interface {
	Broadcast(event domain.Event)
}

type Service struct {
	cfg      *config.Config
	host     host.Host
	registry *registry.Registry
	inputs   *correlation.Store
	health   *health.Monitor

	broadcaster Broadcaster
	metrics     *metrics.Metrics
	log         *zap.SugaredLogger

	mu      sync.Mutex
	closing bool
	drivers map[string]*driver
	wg      sync.WaitGroup
}

// Option configures a Service.
type Option func(s *Service)

// WithBroadcaster sets the lifecycle event sink.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) {
		s.broadcaster = b
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) {
		s.log = l
	}
}

func New(cfg *config.Config, h host.Host, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		host:    h,
		log:     zap.NewNop().Sugar(),
		drivers: make(map[string]*driver),
	}
	for _, o := range opts {
		o(s)
	}

	s.registry = registry.New(cfg.MaxConcurrent,
		registry.WithNotifier(registry.NotifierFunc(s.notify)),
		registry.WithHistory(cfg.HistorySize, cfg.HistoryRetention),
	)
	s.inputs = correlation.New(
		correlation.WithRetention(cfg.InputRetention),
		correlation.WithExpiryHandler(s.inputExpired),
		correlation.WithMetrics(s.metrics),
		correlation.WithLogger(s.log.Named("inputs")),
	)
	s.health = health.New(h, health.Config{
		Interval:          cfg.HealthInterval,
		Timeout:           cfg.HealthTimeout,
		FailureThreshold:  cfg.HealthFailureThreshold,
		RecoverySuccesses: cfg.HealthRecoverySuccesses,
	},
		health.WithChangeHandler(s.healthChanged),
		health.WithLogger(s.log.Named("health")),
	)
	s.metrics.SetHealth(domain.HealthAvailable)
	return s
}

// Run drives the health monitor and the input expiry sweep until ctx is
// done.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.health.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.inputs.Run(ctx, s.cfg.InputSweepInterval)
		return nil
	})
	return g.Wait()
}

// Shutdown rejects new executions, cancels every active one and waits for
// their drivers to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	drivers := make([]*driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		drivers = append(drivers, d)
	}
	s.mu.Unlock()

	for _, d := range drivers {
		d.stop("bridge shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Infow("all executions stopped", "cancelled", len(drivers))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) notify(event domain.Event) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(event)
	}
}

func (s *Service) healthChanged(state domain.HealthState) {
	s.metrics.SetHealth(state.State)
	s.notify(domain.Event{
		Type: domain.EventTypeHealthChanged,
		Ts:   time.Now(),
		Payload: domain.HealthChangedPayload{
			State:               state.State,
			ConsecutiveFailures: state.ConsecutiveFailures,
			LastCheckedAt:       state.LastCheckedAt,
		},
	})
}
