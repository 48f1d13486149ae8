package approval

import (
	"context"
	"sync"

	"warden/internal/domain/ports"
)

// StaticApprover answers every request with the same outcome. It backs
// non-interactive runs (--approve=deny|once|always) and records what it saw.
type StaticApprover struct {
	outcome ports.ApprovalOutcome

	mu       sync.Mutex
	requests []ports.ApprovalRequest
}

var _ ports.Approver = (*StaticApprover)(nil)

func NewStaticApprover(outcome ports.ApprovalOutcome) *StaticApprover {
	return &StaticApprover{outcome: outcome}
}

func (s *StaticApprover) ApproveCommand(_ context.Context, req ports.ApprovalRequest) (ports.ApprovalOutcome, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.outcome, nil
}

// Requests returns the requests seen so far.
func (s *StaticApprover) Requests() []ports.ApprovalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.ApprovalRequest(nil), s.requests...)
}
