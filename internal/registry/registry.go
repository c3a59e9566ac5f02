// Package registry holds the table of in-flight and recent executions and
// enforces the concurrency ceiling.
package registry

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

var (
	// ErrCapacity is returned by Admit when the ceiling is reached.
	ErrCapacity = &domain.Error{Code: domain.CodeCapacity, Message: "concurrency ceiling reached"}
	// ErrNotFound is returned when no active execution has the given id.
	ErrNotFound = &domain.Error{Code: domain.CodeNotFound, Message: "no active execution with that id"}
	// ErrInvalidTransition is returned for a status change the lifecycle forbids.
	ErrInvalidTransition = &domain.Error{Code: domain.CodeInternal, Message: "invalid status transition"}
)

// Notifier receives lifecycle events. Notify is called with the registry lock
// held, so events for one execution arrive in transition order; it must not
// block and must not call back into the registry.
type Notifier interface {
	Notify(event domain.Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(event domain.Event)

// Notify calls f(event).
func (f NotifierFunc) Notify(event domain.Event) { f(event) }

// Outcome describes how an execution finished.
type Outcome struct {
	Status domain.ExecutionStatus
	Result json.RawMessage
	Error  *domain.ExecutionError
}

// Succeeded is the outcome for a host result.
func Succeeded(result json.RawMessage) Outcome {
	return Outcome{Status: domain.ExecutionStatusSucceeded, Result: result}
}

// Failed is the outcome for a classified failure.
func Failed(code domain.ErrorCode, kind, message string) Outcome {
	return Outcome{Status: domain.ExecutionStatusFailed, Error: &domain.ExecutionError{Code: code, Kind: kind, Message: message}}
}

// TimedOut is the outcome for an elapsed deadline.
func TimedOut(message string) Outcome {
	return Outcome{Status: domain.ExecutionStatusTimedOut, Error: &domain.ExecutionError{Code: domain.CodeTimeout, Message: message}}
}

// Cancelled is the outcome for an explicit cancellation.
func Cancelled(message string) Outcome {
	return Outcome{Status: domain.ExecutionStatusCancelled, Error: &domain.ExecutionError{Code: domain.CodeCancelled, Message: message}}
}

// AdmitRequest describes an execution to admit.
type AdmitRequest struct {
	Command string
	Args    []json.RawMessage
	Context string
	Timeout time.Duration
}

type record struct {
	exec domain.Execution
	done chan struct{}
}

// Registry is the execution table. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	ceiling  int
	active   map[string]*record
	history  *expirable.LRU[string, domain.Execution]
	notifier Notifier
	now      func() time.Time
}

// Option configures a Registry.
type Option func(r *Registry)

// WithNotifier sets the lifecycle event sink.
func WithNotifier(n Notifier) Option {
	return func(r *Registry) {
		r.notifier = n
	}
}

// WithHistory bounds the history window of finished executions.
func WithHistory(size int, retention time.Duration) Option {
	return func(r *Registry) {
		r.history = expirable.NewLRU[string, domain.Execution](size, nil, retention)
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a registry admitting at most ceiling concurrent executions.
func New(ceiling int, opts ...Option) *Registry {
	r := &Registry{
		ceiling: ceiling,
		active:  make(map[string]*record),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.history == nil {
		r.history = expirable.NewLRU[string, domain.Execution](1000, nil, 15*time.Minute)
	}
	return r
}

// Admit creates a queued record, or rejects immediately with ErrCapacity.
func (r *Registry) Admit(req AdmitRequest) (domain.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.active) >= r.ceiling {
		return domain.Execution{}, ErrCapacity
	}

	now := r.now()
	args := req.Args
	if args == nil {
		args = []json.RawMessage{}
	}
	rec := &record{
		exec: domain.Execution{
			ExecutionID: "exec_" + uuid.New().String(),
			Command:     req.Command,
			Args:        args,
			Context:     req.Context,
			Status:      domain.ExecutionStatusQueued,
			CreatedAt:   now,
			Deadline:    now.Add(req.Timeout),
		},
		done: make(chan struct{}),
	}
	r.active[rec.exec.ExecutionID] = rec
	return rec.exec, nil
}

// Start moves a queued execution to running.
func (r *Registry) Start(id string) (domain.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(id, domain.ExecutionStatusQueued)
	if err != nil {
		return domain.Execution{}, err
	}
	now := r.now()
	rec.exec.Status = domain.ExecutionStatusRunning
	rec.exec.StartedAt = &now
	r.notify(rec, domain.EventTypeExecutionStarted, domain.ExecutionStartedPayload{
		Command: rec.exec.Command,
		Args:    rec.exec.Args,
		Context: rec.exec.Context,
	})
	return rec.exec, nil
}

// AwaitInput moves a running execution to awaiting_input.
func (r *Registry) AwaitInput(id string, pending domain.PendingInput) (domain.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(id, domain.ExecutionStatusRunning)
	if err != nil {
		return domain.Execution{}, err
	}
	rec.exec.Status = domain.ExecutionStatusAwaitingInput
	r.notify(rec, domain.EventTypeExecutionNeedsInput, domain.ExecutionNeedsInputPayload{
		Prompt:   pending.Prompt,
		Kind:     pending.Kind,
		Deadline: pending.Deadline.UnixMilli(),
	})
	return rec.exec, nil
}

// Resume moves an execution awaiting input back to running.
func (r *Registry) Resume(id string) (domain.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(id, domain.ExecutionStatusAwaitingInput)
	if err != nil {
		return domain.Execution{}, err
	}
	rec.exec.Status = domain.ExecutionStatusRunning
	r.notify(rec, domain.EventTypeExecutionResumed, struct{}{})
	return rec.exec, nil
}

// Finalize records a terminal outcome. Only the first call for an execution
// has any effect; it releases the execution's slot and closes its done
// channel. The boolean reports whether this call won.
func (r *Registry) Finalize(id string, out Outcome) (domain.Execution, bool) {
	if !out.Status.IsTerminal() {
		return domain.Execution{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.active[id]
	if !ok {
		return domain.Execution{}, false
	}
	switch rec.exec.Status {
	case domain.ExecutionStatusRunning, domain.ExecutionStatusAwaitingInput:
	default:
		return domain.Execution{}, false
	}

	now := r.now()
	rec.exec.Status = out.Status
	rec.exec.CompletedAt = &now
	rec.exec.Result = out.Result
	rec.exec.Error = out.Error

	delete(r.active, id)
	close(rec.done)
	r.history.Add(id, rec.exec)

	r.notify(rec, domain.EventTypeExecutionCompleted, domain.ExecutionCompletedPayload{
		Status:          rec.exec.Status,
		Result:          rec.exec.Result,
		Error:           rec.exec.Error,
		ExecutionTimeMs: rec.exec.Duration().Milliseconds(),
	})
	return rec.exec, true
}

// Done returns a channel closed once the execution is terminal. Unknown ids
// get an already closed channel.
func (r *Registry) Done(id string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.active[id]; ok {
		return rec.done
	}
	return closed
}

// Get returns the execution from the active table or the history window.
func (r *Registry) Get(id string) (domain.Execution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.active[id]; ok {
		return rec.exec, true
	}
	return r.history.Get(id)
}

// List returns active and recent executions, newest first.
func (r *Registry) List() []domain.Execution {
	r.mu.Lock()
	out := make([]domain.Execution, 0, len(r.active)+r.history.Len())
	for _, rec := range r.active {
		out = append(out, rec.exec)
	}
	out = append(out, r.history.Values()...)
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ActiveIDs returns the ids of all non-terminal executions.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Active returns the number of admitted, non-terminal executions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Ceiling returns the concurrency ceiling.
func (r *Registry) Ceiling() int {
	return r.ceiling
}

func (r *Registry) lookup(id string, want domain.ExecutionStatus) (*record, error) {
	rec, ok := r.active[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.exec.Status != want {
		return nil, ErrInvalidTransition
	}
	return rec, nil
}

func (r *Registry) notify(rec *record, typ domain.EventType, payload interface{}) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(domain.Event{
		Type:        typ,
		ExecutionID: rec.exec.ExecutionID,
		Ts:          r.now(),
		Payload:     payload,
	})
}

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
