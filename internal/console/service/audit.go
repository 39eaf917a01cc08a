package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/scalegov-prototype/internal/audit"
)

// AuditLogProvider описывает контракт для чтения журнала.
// Используем модель Entry из пакета audit, чтобы сохранить единую модель данных.
type AuditLogProvider interface {
	FindEntries(ctx context.Context, q audit.Query) ([]audit.Entry, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchEntries запрашивает журнал с фильтрацией.
// Логика фильтрации (пустые строки или конкретные ID) инкапсулирована в репозитории.
func (s *AuditService) FetchEntries(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
	entries, err := s.repo.FindEntries(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch entries: %w", err)
	}
	return entries, nil
}
