package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/scalegov-prototype/internal/domain"
)

// MemoryApprovalStore — реализация ApprovalStore без Postgres
// (тесты и локальный запуск). Семантика CAS идентична SQL-версии:
// UPDATE ... WHERE status = 'pending'.
type MemoryApprovalStore struct {
	mu       sync.Mutex
	requests map[string]*domain.ApprovalRequest
}

func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{requests: make(map[string]*domain.ApprovalRequest)}
}

func (s *MemoryApprovalStore) CreateApproval(ctx context.Context, req *domain.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("approval %s already exists", req.ID)
	}
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryApprovalStore) ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, reviewer, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("approval %s not found", id)
	}
	if err := req.CanTransitionTo(status); err != nil {
		return err
	}

	now := time.Now()
	req.Status = status
	req.RespondedAt = &now
	if reviewer != "" {
		req.RespondedBy = &reviewer
	}
	if comment != "" {
		req.Comment = &comment
	}
	return nil
}

func (s *MemoryApprovalStore) FindApprovals(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.ApprovalRequest, 0)
	for _, req := range s.requests {
		if req.Status != status {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryApprovalStore) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("approval %s not found", id)
	}
	cp := *req
	return &cp, nil
}
