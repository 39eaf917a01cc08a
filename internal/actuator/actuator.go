package actuator

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/scalegov-prototype/internal/domain"
)

// Actuator — внешний исполнитель физического изменения инфраструктуры.
// Контур управления не знает, кластер это, VM-пул или CLI-обертка.
// Контракт: идемпотентность для одного и того же target значения.
type Actuator interface {
	SetReplicas(ctx context.Context, service string, replicas int) error
}

// MetricsProvider — внешний источник операционных метрик.
// Снапшот всегда свежий: провайдер не имеет права отдавать закэшированный срез.
type MetricsProvider interface {
	GetSnapshot(ctx context.Context, service string) (domain.MetricsSnapshot, error)
}

// CapacityProvider сообщает, сколько реплик кластер еще может принять.
// Координатор сверяет с ним суммарный спрос одновременных scale_up.
type CapacityProvider interface {
	AvailableReplicas(ctx context.Context) (int, error)
}

// ThrottleError — актуатор сам сообщил, когда его можно дергать снова
// (например, считал Retry-After у облачного API). Retry-слой обязан это уважать.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// StaticCapacity — дефолтная реализация CapacityProvider из конфига.
// Для прода сюда подключается реальный inventory-сервис кластера.
type StaticCapacity struct {
	Available int
}

func (s *StaticCapacity) AvailableReplicas(ctx context.Context) (int, error) {
	return s.Available, nil
}
