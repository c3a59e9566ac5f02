package service

import (
	"context"

	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/registry"
)

// SubmitInput answers the pending input request of an execution. Any
// observer may answer any execution.
func (s *Service) SubmitInput(ctx context.Context, req domain.SubmitInputRequest) (domain.SubmitInputResponse, error) {
	kind, err := req.Validate()
	resp := domain.SubmitInputResponse{ExecutionID: req.ExecutionID}
	if err != nil {
		return resp, err
	}

	if err := s.inputs.Resolve(req.ExecutionID, req.Value, kind); err != nil {
		s.log.Debugw("input rejected", "executionId", req.ExecutionID, "kind", kind, "code", domain.CodeOf(err))
		return resp, err
	}

	s.log.Infow("input accepted", "executionId", req.ExecutionID, "kind", kind)
	resp.Success = true
	return resp, nil
}

// PendingInputs lists live input requests.
func (s *Service) PendingInputs() []domain.PendingInput {
	return s.inputs.List()
}

// inputExpired runs when a pending request passes its deadline. The linked
// execution times out.
func (s *Service) inputExpired(executionID string) {
	s.finish(executionID, registry.TimedOut("input deadline elapsed"))
}
