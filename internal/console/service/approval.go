package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"github.com/xela07ax/scalegov-prototype/internal/engine"
	"github.com/xela07ax/scalegov-prototype/internal/infra"
	"github.com/xela07ax/scalegov-prototype/internal/infra/auth"
	"go.uber.org/zap"
)

var ErrForbiddenRole = errors.New("role is not allowed to decide approvals")

// ApprovalRepository описывает требования к хранилищу заявок
type ApprovalRepository interface {
	GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	FindApprovals(ctx context.Context, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error)
	ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus, reviewer, comment string) error
}

// ApprovalService обслуживает очередь решений оператора.
// Встроенный BaseValidator делает сервис пригодным как TokenValidator для роутера.
type ApprovalService struct {
	*auth.BaseValidator
	repo   ApprovalRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewApprovalService(rdb *redis.Client, repo ApprovalRepository, validator *auth.BaseValidator, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{
		BaseValidator: validator,
		repo:          repo,
		rdb:           rdb,
		logger:        logger.Named("approval-service"),
	}
}

func (s *ApprovalService) GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return s.repo.GetApproval(ctx, id)
}

func (s *ApprovalService) GetApprovals(ctx context.Context, status string) ([]*domain.ApprovalRequest, error) {
	return s.repo.FindApprovals(ctx, domain.ApprovalStatus(status))
}

// DecideApproval фиксирует решение оператора по приостановленному масштабированию.
// Решать может только роль approver; reviewerID идет в журнал для подотчетности.
func (s *ApprovalService) DecideApproval(ctx context.Context, approvalID string, approved bool, reviewerID, role, comment string) error {
	if role != domain.RoleApprover {
		return ErrForbiddenRole
	}

	// 1. Определяем финальный статус на основе решения
	status := domain.ApprovalRejected
	if approved {
		status = domain.ApprovalApproved
	}

	// 2. Атомарно обновляем БД (WHERE status = 'pending' исключает второй ответ)
	if err := s.repo.ResolveApproval(ctx, approvalID, status, reviewerID, comment); err != nil {
		s.logger.Error("failed to persist approval decision",
			zap.String("approval_id", approvalID),
			zap.String("reviewer_id", reviewerID),
			zap.Error(err))
		return fmt.Errorf("database update failed: %w", err)
	}

	// 3. Публикуем сигнал "пробуждения" для подвисшей горутины governor
	sig := engine.DecisionSignal{
		ApprovalRequestID: approvalID,
		Status:            string(status),
		Reviewer:          reviewerID,
		Comment:           comment,
	}
	payload, _ := json.Marshal(sig)

	if err := s.rdb.Publish(ctx, infra.RedisChanApprovalDecisions, payload).Err(); err != nil {
		// Если Redis недоступен, горутина governor доберет статус из БД
		// по своему таймеру (backstop), решение не потеряется
		s.logger.Error("decision saved but signal not delivered",
			zap.String("approval_id", approvalID),
			zap.Error(err))
		return fmt.Errorf("redis signal failure: %w", err)
	}

	s.logger.Info("approval decision processed",
		zap.String("approval_id", approvalID),
		zap.String("reviewer", reviewerID),
		zap.String("result", string(status)))

	return nil
}

// ResetBreaker шлет сигнал ручного сброса предохранителя сервиса
func (s *ApprovalService) ResetBreaker(ctx context.Context, service, reviewerID, role string) error {
	if role != domain.RoleApprover {
		return ErrForbiddenRole
	}

	if err := s.rdb.Publish(ctx, infra.RedisChanBreakerReset, service).Err(); err != nil {
		return fmt.Errorf("redis signal failure: %w", err)
	}

	s.logger.Info("breaker reset requested",
		zap.String("service", service),
		zap.String("reviewer", reviewerID))
	return nil
}
