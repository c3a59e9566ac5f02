package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xiaot623/gogo/bridge/internal/correlation"
	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/host"
	"github.com/xiaot623/gogo/bridge/internal/registry"
)

// driver is the per-execution goroutine state.
type driver struct {
	id       string
	deadline time.Time
	ctx      context.Context
	cancel   context.CancelFunc

	stopOnce   sync.Once
	stopped    chan struct{}
	stopReason string

	// final is set by the winning finish before finished is closed.
	final    domain.Execution
	finished chan struct{}
}

func (d *driver) stop(reason string) {
	d.stopOnce.Do(func() {
		d.stopReason = reason
		close(d.stopped)
	})
}

// Execute admits and runs one command, waiting until it is terminal or ctx
// is done. If ctx ends first the caller gets TIMEOUT and the execution keeps
// running. The returned result carries the execution id even on error.
func (s *Service) Execute(ctx context.Context, req domain.ExecuteRequest) (domain.ExecuteResult, error) {
	if err := req.Validate(); err != nil {
		return domain.ExecuteResult{}, err
	}

	d, err := s.admit(req)
	if err != nil {
		return domain.ExecuteResult{}, err
	}

	select {
	case <-d.finished:
	case <-ctx.Done():
		s.log.Infow("caller stopped waiting", "executionId", d.id)
		return domain.ExecuteResult{ExecutionID: d.id}, domain.NewError(domain.CodeTimeout, "timed out waiting for execution")
	}

	exec := d.final
	if exec.Status != domain.ExecutionStatusSucceeded {
		err := exec.Error.Err()
		if err == nil {
			err = domain.NewError(domain.CodeInternal, "execution ended as %s", exec.Status)
		}
		return domain.ExecuteResult{ExecutionID: exec.ExecutionID}, err
	}
	return domain.ExecuteResult{
		Success:         true,
		ExecutionID:     exec.ExecutionID,
		Output:          exec.Result,
		ExecutionTimeMs: exec.Duration().Milliseconds(),
	}, nil
}

func (s *Service) admit(req domain.ExecuteRequest) (*driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return nil, ErrShuttingDown
	}

	exec, err := s.registry.Admit(registry.AdmitRequest{
		Command: req.Command,
		Args:    req.Args,
		Context: req.ContextString(),
		Timeout: s.cfg.ClampTimeout(req.TimeoutMs),
	})
	if err != nil {
		s.metrics.ExecutionRejected()
		s.log.Infow("execution rejected", "command", req.Command, "error", err)
		return nil, err
	}
	s.metrics.ExecutionAdmitted()

	ctx, cancel := context.WithCancel(context.Background())
	d := &driver{
		id:       exec.ExecutionID,
		deadline: exec.Deadline,
		ctx:      ctx,
		cancel:   cancel,
		stopped:  make(chan struct{}),
		finished: make(chan struct{}),
	}
	s.drivers[d.id] = d
	s.wg.Add(1)
	go s.drive(d, exec)
	return d, nil
}

// drive runs the execution and races host signals, input answers, the
// deadline and explicit stops. Whatever fires first finalizes the record.
func (s *Service) drive(d *driver, exec domain.Execution) {
	defer s.wg.Done()
	defer d.cancel()

	log := s.log.With("executionId", d.id, "command", exec.Command)

	// Start only fails if the record left queued, which only drive does.
	if _, err := s.registry.Start(d.id); err != nil {
		log.Errorw("failed to start execution", "error", err)
		return
	}
	log.Debugw("execution started", "deadline", d.deadline)

	done := s.registry.Done(d.id)
	timer := time.NewTimer(time.Until(d.deadline))
	defer timer.Stop()

	inv, err := s.host.Start(d.ctx, host.Call{
		ExecutionID: d.id,
		Command:     exec.Command,
		Args:        exec.Args,
		Context:     exec.Context,
	})
	if err != nil {
		if errors.Is(err, host.ErrUnknownCommand) {
			s.finish(d.id, registry.Failed(domain.CodeExecutionFailed, "unknown_command", err.Error()))
			return
		}
		log.Warnw("host start failed", "error", err)
		s.finish(d.id, registry.Failed(domain.CodeUnavailable, "host_unavailable", "host unavailable"))
		return
	}

	var answers <-chan correlation.Answer
	for {
		select {
		case sig, ok := <-inv.Signals():
			if !ok {
				s.finish(d.id, registry.Failed(domain.CodeExecutionFailed, "host_closed", "host closed the invocation"))
				return
			}
			switch sig.Kind {
			case host.SignalCompleted:
				s.finish(d.id, registry.Succeeded(sig.Result))
				return
			case host.SignalFailed:
				f := sig.Failure
				if f == nil {
					f = &host.Failure{Kind: "unknown", Message: "host reported failure"}
				}
				s.finish(d.id, registry.Failed(domain.CodeExecutionFailed, f.Kind, f.Message))
				return
			case host.SignalNeedsInput:
				ch, err := s.awaitInput(d, sig)
				if err != nil {
					if isDone(done) {
						return
					}
					log.Errorw("failed to register input request", "error", err)
					s.finish(d.id, registry.Failed(domain.CodeInternal, "internal", "internal error"))
					return
				}
				answers = ch
			default:
				log.Warnw("ignoring unknown host signal", "kind", sig.Kind)
			}

		case a := <-answers:
			answers = nil
			if _, err := s.registry.Resume(d.id); err != nil {
				return
			}
			if err := inv.Resume(a.Value); err != nil {
				s.finish(d.id, registry.Failed(domain.CodeExecutionFailed, "resume_failed", err.Error()))
				return
			}

		case <-timer.C:
			s.finish(d.id, registry.TimedOut("execution deadline elapsed"))
			return

		case <-d.stopped:
			s.finish(d.id, registry.Cancelled(d.stopReason))
			return

		case <-done:
			return
		}
	}
}

// awaitInput registers the pending request, then moves the record to
// awaiting_input. The request goes first so an observer reacting to the
// needs-input event always finds it.
func (s *Service) awaitInput(d *driver, sig host.Signal) (<-chan correlation.Answer, error) {
	now := time.Now()
	req := domain.PendingInput{
		ExecutionID: d.id,
		Prompt:      sig.Prompt,
		Kind:        sig.InputKind,
		CreatedAt:   now,
		Deadline:    s.cfg.InputDeadline(now, d.deadline),
	}
	if !req.Kind.Valid() {
		req.Kind = domain.InputKindText
	}

	ch, err := s.inputs.Request(req)
	if err != nil {
		return nil, err
	}
	if _, err := s.registry.AwaitInput(d.id, req); err != nil {
		s.inputs.Close(d.id, false)
		return nil, err
	}
	return ch, nil
}

// finish is the only completion path. The first caller for an execution
// wins; later calls are no-ops.
func (s *Service) finish(id string, out registry.Outcome) bool {
	exec, won := s.registry.Finalize(id, out)
	if !won {
		return false
	}

	s.inputs.Close(id, out.Status == domain.ExecutionStatusTimedOut)

	s.mu.Lock()
	d := s.drivers[id]
	delete(s.drivers, id)
	s.mu.Unlock()

	if d != nil {
		d.final = exec
		close(d.finished)
		d.cancel()
	}

	s.metrics.ExecutionFinished(exec.Status, exec.Duration())
	fields := []interface{}{"executionId", id, "command", exec.Command, "status", exec.Status, "durationMs", exec.Duration().Milliseconds()}
	if exec.Error != nil {
		fields = append(fields, "code", exec.Error.Code, "kind", exec.Error.Kind)
	}
	s.log.Infow("execution finished", fields...)
	return true
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
