package blueprint

import (
	"context"
	"fmt"
	"sync"

	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"go.uber.org/zap"
)

// VersionSink получает каждую новую версию Blueprint для durable-хранения.
// Реализуется postgres-репозиторием; nil-sink допустим для тестов.
type VersionSink interface {
	SaveVersion(ctx context.Context, bp *domain.Blueprint, reason string) error
}

// Store — in-memory реестр актуальных версий Blueprint.
// Версии иммутабельны: Commit создает новую через Clone, никогда правка на месте.
// Пайплайн читает версию на границе цикла — это и есть "loaded once per cycle".
type Store struct {
	mu         sync.RWMutex
	blueprints map[string]*domain.Blueprint

	sink   VersionSink
	logger *zap.Logger
}

func NewStore(sink VersionSink, logger *zap.Logger) *Store {
	return &Store{
		blueprints: make(map[string]*domain.Blueprint),
		sink:       sink,
		logger:     logger.Named("blueprint-store"),
	}
}

// Get возвращает текущую версию. Вызывающий обязуется не мутировать результат.
func (s *Store) Get(service string) (*domain.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bp, ok := s.blueprints[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBlueprintNotFound, service)
	}
	return bp, nil
}

// Put регистрирует загруженный Blueprint. Fail closed: невалидный документ
// не попадает в реестр, сервис исключается из координации до исправления.
func (s *Store) Put(bp *domain.Blueprint) error {
	if err := bp.Validate(); err != nil {
		s.logger.Error("blueprint rejected",
			zap.String("service", bp.Service),
			zap.Error(err),
		)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.blueprints[bp.Service]; ok && bp.Version <= prev.Version {
		// Hot-reload из файла не должен откатывать approval-driven версию
		bp = bp.Clone()
		bp.Version = prev.Version + 1
	}
	if bp.Version == 0 {
		bp.Version = 1
	}
	s.blueprints[bp.Service] = bp

	s.logger.Info("blueprint registered",
		zap.String("service", bp.Service),
		zap.Int("version", bp.Version),
	)
	return nil
}

// Commit производит новую версию через мутацию копии.
// Используется для approval-driven изменений (например, поднять max_replicas).
// Мутация версионируется и durably сохраняется ДО того, как исполнение продолжится.
func (s *Store) Commit(ctx context.Context, service, reason string, mutate func(*domain.Blueprint)) (*domain.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.blueprints[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBlueprintNotFound, service)
	}

	next := current.Clone()
	mutate(next)
	next.Version = current.Version + 1

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("blueprint mutation rejected: %w", err)
	}

	if s.sink != nil {
		if err := s.sink.SaveVersion(ctx, next, reason); err != nil {
			return nil, fmt.Errorf("blueprint version persist failed: %w", err)
		}
	}

	s.blueprints[service] = next
	s.logger.Info("blueprint committed",
		zap.String("service", service),
		zap.Int("version", next.Version),
		zap.String("reason", reason),
	)
	return next, nil
}

// Services — отсортировать не обязаны, координатор не требует порядка
func (s *Store) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.blueprints))
	for name := range s.blueprints {
		names = append(names, name)
	}
	return names
}
