// Package correlation matches asynchronous input answers back to the
// executions that asked for them.
package correlation

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/metrics"
)

var (
	// ErrNotFound means no request exists for the execution, or its record
	// has aged out of the retention window.
	ErrNotFound = &domain.Error{Code: domain.CodeNotFound, Message: "no pending input for that execution"}
	// ErrExpired means the request's deadline passed before an answer arrived.
	ErrExpired = &domain.Error{Code: domain.CodeExpired, Message: "input request expired"}
	// ErrAlreadyResolved means another answer won.
	ErrAlreadyResolved = &domain.Error{Code: domain.CodeAlreadyResolved, Message: "input request already answered"}
	// ErrPending means the execution already has a live request.
	ErrPending = &domain.Error{Code: domain.CodeInternal, Message: "input request already pending"}
)

// Answer is delivered to the waiting execution when a request is resolved.
type Answer struct {
	Value      string
	Kind       domain.InputKind
	ReceivedAt time.Time
}

type entryState int

const (
	statePending entryState = iota
	stateResolved
	stateExpired
)

type entry struct {
	req      domain.PendingInput
	state    entryState
	answer   chan Answer
	closedAt time.Time
}

// Store holds pending input requests keyed by execution id. At most one live
// request exists per execution. Answered and expired requests are kept as
// tombstones for the retention window so late answers get a precise reason.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention time.Duration
	onExpire  func(executionID string)
	now       func() time.Time
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics
}

// Option configures a Store.
type Option func(s *Store)

// WithRetention sets how long tombstones are kept.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		s.retention = d
	}
}

// WithExpiryHandler sets the function called, without the store lock held,
// for every request that expires.
func WithExpiryHandler(f func(executionID string)) Option {
	return func(s *Store) {
		s.onExpire = f
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:   make(map[string]*entry),
		retention: 5 * time.Minute,
		now:       time.Now,
		log:       zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Request registers a pending request and returns the channel its answer will
// arrive on. It never blocks.
func (s *Store) Request(req domain.PendingInput) (<-chan Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[req.ExecutionID]; ok && e.state == statePending {
		return nil, ErrPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	if !req.Kind.Valid() {
		req.Kind = domain.InputKindText
	}
	e := &entry{
		req:    req,
		state:  statePending,
		answer: make(chan Answer, 1),
	}
	s.entries[req.ExecutionID] = e
	s.updateGauge()

	s.log.Debugw("input requested", "executionId", req.ExecutionID, "kind", req.Kind, "deadline", req.Deadline)
	return e.answer, nil
}

// Resolve answers the pending request for executionID. Only the first valid
// answer is accepted. An empty kind takes the request's kind. A kind or value
// that does not fit the request is rejected with a VALIDATION error and
// leaves the request pending.
func (s *Store) Resolve(executionID, value string, kind domain.InputKind) error {
	s.mu.Lock()

	e, ok := s.entries[executionID]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	switch e.state {
	case stateResolved:
		s.mu.Unlock()
		return ErrAlreadyResolved
	case stateExpired:
		s.mu.Unlock()
		return ErrExpired
	}

	now := s.now()
	if !now.Before(e.req.Deadline) {
		s.expireLocked(e, now)
		s.mu.Unlock()
		s.expired([]string{executionID})
		return ErrExpired
	}

	if kind == "" {
		kind = e.req.Kind
	}
	if kind != e.req.Kind {
		s.mu.Unlock()
		return domain.NewError(domain.CodeValidation, "expected %s input, got %s", e.req.Kind, kind)
	}
	if err := kind.CheckValue(value); err != nil {
		s.mu.Unlock()
		return err
	}

	e.state = stateResolved
	e.closedAt = now
	e.answer <- Answer{Value: value, Kind: kind, ReceivedAt: now}
	s.updateGauge()
	s.mu.Unlock()

	s.log.Debugw("input resolved", "executionId", executionID)
	return nil
}

// Pending returns the live request for executionID.
func (s *Store) Pending(executionID string) (domain.PendingInput, bool) {
	s.mu.Lock()

	e, ok := s.entries[executionID]
	if !ok || e.state != statePending {
		s.mu.Unlock()
		return domain.PendingInput{}, false
	}
	if now := s.now(); !now.Before(e.req.Deadline) {
		s.expireLocked(e, now)
		s.mu.Unlock()
		s.expired([]string{executionID})
		return domain.PendingInput{}, false
	}
	req := e.req
	s.mu.Unlock()
	return req, true
}

// List returns all live requests, oldest first.
func (s *Store) List() []domain.PendingInput {
	s.mu.Lock()

	now := s.now()
	var out []domain.PendingInput
	var expired []string
	for id, e := range s.entries {
		if e.state != statePending {
			continue
		}
		if !now.Before(e.req.Deadline) {
			s.expireLocked(e, now)
			expired = append(expired, id)
			continue
		}
		out = append(out, e.req)
	}
	s.mu.Unlock()

	s.expired(expired)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close withdraws the live request for an execution that finished some
// other way. With expired set the request is kept as an expired tombstone,
// otherwise it is forgotten. Tombstones are left untouched.
func (s *Store) Close(executionID string, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[executionID]
	if !ok || e.state != statePending {
		return
	}
	if expired {
		s.expireLocked(e, s.now())
	} else {
		delete(s.entries, executionID)
	}
	s.updateGauge()
}

// Live returns the number of live requests.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked()
}

// Run sweeps for expired requests every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep expires overdue requests and drops old tombstones. It returns the
// number of requests it expired.
func (s *Store) sweep() int {
	s.mu.Lock()

	now := s.now()
	var expired []string
	for id, e := range s.entries {
		switch e.state {
		case statePending:
			if !now.Before(e.req.Deadline) {
				s.expireLocked(e, now)
				expired = append(expired, id)
			}
		default:
			if now.Sub(e.closedAt) >= s.retention {
				delete(s.entries, id)
			}
		}
	}
	s.mu.Unlock()

	s.expired(expired)
	return len(expired)
}

func (s *Store) expireLocked(e *entry, now time.Time) {
	e.state = stateExpired
	e.closedAt = now
	s.updateGauge()
}

func (s *Store) expired(ids []string) {
	for _, id := range ids {
		s.log.Infow("input request expired", "executionId", id)
		if s.onExpire != nil {
			s.onExpire(id)
		}
	}
}

func (s *Store) liveLocked() int {
	n := 0
	for _, e := range s.entries {
		if e.state == statePending {
			n++
		}
	}
	return n
}

func (s *Store) updateGauge() {
	if s.metrics != nil {
		s.metrics.SetPendingInputs(s.liveLocked())
	}
}
