package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/scalegov-prototype/internal/actuator"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"golang.org/x/time/rate"
)

// GuardedActuator оборачивает актуатор в Rate Limiter, Circuit Breaker и Retry.
// Это защита общего внешнего ресурса (API кластера), отдельная от per-service
// breaker-ов пайплайнов.
type GuardedActuator struct {
	next    actuator.Actuator
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

type GuardSettings struct {
	RPS         float64
	Burst       int
	MaxFailures uint32
	CBTimeout   time.Duration
}

func NewGuardedActuator(next actuator.Actuator, s GuardSettings) *GuardedActuator {
	if s.RPS <= 0 {
		s.RPS = 10
	}
	if s.Burst <= 0 {
		s.Burst = 5
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.CBTimeout <= 0 {
		s.CBTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cluster-actuator",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     s.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > s.MaxFailures
		},
	})

	return &GuardedActuator{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(s.RPS), s.Burst),
	}
}

func (g *GuardedActuator) SetReplicas(ctx context.Context, service string, replicas int) error {
	// 1. Rate Limiter
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("actuator rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := g.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Актуатор сам сказал, когда можно снова (Retry-After облачного API)
				var tErr *actuator.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Иначе стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return g.next.SetReplicas(tCtx, service, replicas)
		})
		return nil, retryErr
	})

	return err
}

// Executor — Execution Engine: исполняет авторизованное решение и
// фиксирует Operation с pre/post состояниями.
// Провал исполнения терминален для цикла: ретраи внутри GuardedActuator,
// но не на уровне цикла — следующая попытка это новый Decision.
type Executor struct {
	act     actuator.Actuator
	metrics actuator.MetricsProvider
	now     func() time.Time
	newID   func() string
}

func NewExecutor(act actuator.Actuator, metrics actuator.MetricsProvider) *Executor {
	return &Executor{
		act:     act,
		metrics: metrics,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
}

// Execute синхронно проводит изменение через актуатор.
// preState читается непосредственно перед командой, postState — сразу после
// подтверждения (не после стабилизации). Возвращает Operation всегда,
// включая проваленную — она нужна аудиту.
func (e *Executor) Execute(ctx context.Context, dec *domain.Decision, target int, rollback bool) (*domain.Operation, error) {
	op := &domain.Operation{
		ID:         e.newID(),
		DecisionID: dec.ID,
		Service:    dec.ServiceName,
		Command:    fmt.Sprintf("set_replicas:%d", target),
		Rollback:   rollback,
		StartedAt:  e.now(),
	}

	pre, err := e.metrics.GetSnapshot(ctx, dec.ServiceName)
	if err != nil {
		op.Status = domain.OpFailed
		op.Error = fmt.Sprintf("pre-state snapshot failed: %v", err)
		op.CompletedAt = e.now()
		return op, fmt.Errorf("pre-state snapshot failed: %w", err)
	}
	op.PreState = pre

	if err := e.act.SetReplicas(ctx, dec.ServiceName, target); err != nil {
		op.Status = domain.OpFailed
		op.Error = err.Error()
		op.CompletedAt = e.now()
		return op, fmt.Errorf("actuator failed: %w", err)
	}

	post, err := e.metrics.GetSnapshot(ctx, dec.ServiceName)
	if err != nil {
		// Команда прошла, но post-state не сняли: операция успешна,
		// верификация все равно возьмет свежий снапшот после стабилизации
		post = pre
		post.Replicas = target
	}
	op.PostState = post
	op.Status = domain.OpSucceeded
	op.CompletedAt = e.now()
	return op, nil
}
