package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/scalegov-prototype/internal/domain"
)

// BlueprintProvider — чтение истории версий из Postgres
type BlueprintProvider interface {
	ListVersions(ctx context.Context, service string, limit int) ([]*domain.Blueprint, error)
}

type BlueprintService struct {
	repo BlueprintProvider
}

func NewBlueprintService(repo BlueprintProvider) *BlueprintService {
	return &BlueprintService{repo: repo}
}

// History возвращает версии Blueprint сервиса, новые сверху.
// Текущая действующая версия — первая в списке.
func (s *BlueprintService) History(ctx context.Context, service string, limit int) ([]*domain.Blueprint, error) {
	if service == "" {
		return nil, fmt.Errorf("blueprint_service: service name is required")
	}
	return s.repo.ListVersions(ctx, service, limit)
}
