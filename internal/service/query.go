package service

import (
	"context"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

// ErrExecutionNotFound is returned for unknown or aged-out execution ids.
var ErrExecutionNotFound = &domain.Error{Code: domain.CodeNotFound, Message: "execution not found"}

// Cancel stops an active execution and returns its final record.
func (s *Service) Cancel(ctx context.Context, executionID string) (domain.Execution, error) {
	s.mu.Lock()
	d, ok := s.drivers[executionID]
	s.mu.Unlock()
	if !ok {
		return domain.Execution{}, ErrExecutionNotFound
	}

	d.stop("cancelled by request")

	select {
	case <-d.finished:
		return d.final, nil
	case <-ctx.Done():
		return domain.Execution{}, domain.NewError(domain.CodeTimeout, "timed out waiting for cancellation")
	}
}

// Health returns the current health snapshot and the active execution count.
func (s *Service) Health() domain.HealthReport {
	h := s.health.Snapshot()
	report := domain.HealthReport{
		State:                h.State,
		ConsecutiveFailures:  h.ConsecutiveFailures,
		ConsecutiveSuccesses: h.ConsecutiveSuccesses,
		ActiveExecutions:     s.registry.Active(),
	}
	if !h.LastCheckedAt.IsZero() {
		checked := h.LastCheckedAt
		report.LastCheckedAt = &checked
	}
	return report
}

// GetExecution returns an active or recently finished execution.
func (s *Service) GetExecution(executionID string) (domain.Execution, error) {
	exec, ok := s.registry.Get(executionID)
	if !ok {
		return domain.Execution{}, ErrExecutionNotFound
	}
	return exec, nil
}

// ListExecutions returns active and recent executions, newest first.
func (s *Service) ListExecutions() []domain.Execution {
	return s.registry.List()
}

// Active returns the number of non-terminal executions.
func (s *Service) Active() int {
	return s.registry.Active()
}
