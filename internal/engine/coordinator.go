package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/scalegov-prototype/internal/actuator"
	"github.com/xela07ax/scalegov-prototype/internal/audit"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"github.com/xela07ax/scalegov-prototype/internal/infra"
	"go.uber.org/zap"
)

// Coordinator гоняет контур каждого сервиса независимо и параллельно.
// Единственная точка пересечения — арбитраж capacity перед исполнением
// одновременных scale_up: при нехватке выигрывает приоритет из Blueprint,
// проигравший откладывается на defer_duration и переоценивается, не отбрасывается.
type Coordinator struct {
	pipelines map[string]*Pipeline
	capacity  actuator.CapacityProvider
	trail     audit.Logger
	logger    *zap.Logger
	interval  time.Duration

	mu sync.Mutex
	// Реплики, зарезервированные исполняющимися scale_up
	// (возвращаются по завершении цикла)
	reserved int

	wg sync.WaitGroup
}

func NewCoordinator(capacity actuator.CapacityProvider, trail audit.Logger, logger *zap.Logger, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Coordinator{
		pipelines: make(map[string]*Pipeline),
		capacity:  capacity,
		trail:     trail,
		logger:    logger.Named("coordinator"),
		interval:  interval,
	}
}

func (c *Coordinator) Register(p *Pipeline) {
	c.pipelines[p.Service()] = p
}

func (c *Coordinator) Pipeline(service string) (*Pipeline, bool) {
	p, ok := c.pipelines[service]
	return p, ok
}

// Run — основной цикл координации. Блокируется до отмены контекста.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("coordinator started",
		zap.Int("services", len(c.pipelines)),
		zap.Duration("interval", c.interval),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping, waiting for in-flight cycles...")
			c.wg.Wait()
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Плановая заявка одного сервиса на дополнительные реплики
type capacityClaim struct {
	pipeline *Pipeline
	delta    int
	priority int
	deferFor time.Duration
}

// Tick планирует и запускает один раунд циклов. Синхронен относительно
// планирования, сами циклы уходят в горутины (у каждого сервиса своя).
func (c *Coordinator) Tick(ctx context.Context) {
	var claims []capacityClaim

	for _, p := range c.pipelines {
		if p.Halted() {
			continue
		}
		if p.Suspended() {
			// Подвешен на approval: новый цикл не стартуем,
			// но проверяем, не рассосалось ли условие (отмена заявки)
			c.wg.Add(1)
			go func(p *Pipeline) {
				defer c.wg.Done()
				p.MaybeCancelPending(ctx)
			}(p)
			continue
		}

		// Чистая предварительная оценка для арбитража capacity.
		// Настоящий цикл возьмет свой собственный свежий снапшот.
		dec, bp, err := p.Evaluate(ctx)
		if err != nil {
			c.logger.Error("planning evaluation failed",
				zap.String("service", p.Service()), zap.Error(err))
			continue
		}

		if dec.Action == domain.ActionScaleUp {
			claims = append(claims, capacityClaim{
				pipeline: p,
				delta:    dec.Delta(),
				priority: bp.Priority,
				deferFor: bp.DeferDuration,
			})
			continue
		}
		// scale_down и no_action в арбитраже не участвуют
		c.launch(ctx, p, 0)
	}

	granted, deferred := c.arbitrate(ctx, claims)
	for _, claim := range granted {
		c.launch(ctx, claim.pipeline, claim.delta)
	}
	for _, claim := range deferred {
		c.deferClaim(ctx, claim)
	}
}

// TickAndWait — синхронный раунд для тестов и ручного прогона
func (c *Coordinator) TickAndWait(ctx context.Context) {
	c.Tick(ctx)
	c.wg.Wait()
}

// launch стартует цикл сервиса на его собственной горутине.
// reserve > 0 — выданный capacity-грант, возвращается по завершении цикла.
func (c *Coordinator) launch(ctx context.Context, p *Pipeline, reserve int) {
	if reserve > 0 {
		c.mu.Lock()
		c.reserved += reserve
		c.mu.Unlock()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if reserve > 0 {
				c.mu.Lock()
				c.reserved -= reserve
				c.mu.Unlock()
			}
		}()

		if err := p.RunCycle(ctx); err != nil {
			c.logger.Error("cycle failed", zap.String("service", p.Service()), zap.Error(err))
		}
	}()
}

// arbitrate сверяет суммарный спрос одновременных scale_up с доступной
// capacity кластера. При нехватке гранты раздаются по убыванию приоритета.
func (c *Coordinator) arbitrate(ctx context.Context, claims []capacityClaim) (granted, deferred []capacityClaim) {
	if len(claims) == 0 {
		return nil, nil
	}

	available, err := c.capacity.AvailableReplicas(ctx)
	if err != nil {
		// Capacity-сервис недоступен — не гадаем, откладываем всех.
		// Fail closed, как и везде в контуре.
		c.logger.Error("capacity check failed, deferring all scale-ups", zap.Error(err))
		return nil, claims
	}

	c.mu.Lock()
	free := available - c.reserved
	c.mu.Unlock()

	total := 0
	for _, cl := range claims {
		total += cl.delta
	}
	if total <= free {
		return claims, nil
	}

	// Конфликт: выше приоритет — исполняется, ниже — откладывается
	sort.SliceStable(claims, func(i, j int) bool {
		return claims[i].priority > claims[j].priority
	})

	for _, cl := range claims {
		if cl.delta <= free {
			free -= cl.delta
			granted = append(granted, cl)
		} else {
			deferred = append(deferred, cl)
		}
	}

	c.logger.Warn("capacity conflict resolved by priority",
		zap.Int("claims", len(claims)),
		zap.Int("granted", len(granted)),
		zap.Int("deferred", len(deferred)),
	)
	return granted, deferred
}

// deferClaim откладывает цикл сервиса на defer_duration и переоценивает.
// Решение не отбрасывается: следующий прогон возьмет свежие метрики.
func (c *Coordinator) deferClaim(ctx context.Context, claim capacityClaim) {
	p := claim.pipeline
	deferFor := claim.deferFor
	if deferFor <= 0 {
		deferFor = 1 * time.Minute
	}

	c.trail.Record(audit.Entry{
		ServiceName: p.Service(),
		Kind:        audit.KindDecision,
		Status:      "deferred",
		Detail: map[string]interface{}{
			"reason":         "cluster capacity conflict",
			"defer_duration": deferFor.String(),
		},
	})
	c.logger.Info("scale-up deferred",
		zap.String("service", p.Service()),
		zap.Duration("defer", deferFor),
	)

	time.AfterFunc(deferFor, func() {
		if ctx.Err() != nil {
			return
		}
		// Одиночный re-tick для сервиса: снова через арбитраж,
		// capacity могла как освободиться, так и нет
		dec, bp, err := p.Evaluate(ctx)
		if err != nil || dec.Action != domain.ActionScaleUp {
			return
		}
		granted, deferredAgain := c.arbitrate(ctx, []capacityClaim{{
			pipeline: p,
			delta:    dec.Delta(),
			priority: bp.Priority,
			deferFor: bp.DeferDuration,
		}})
		for _, g := range granted {
			c.launch(ctx, g.pipeline, g.delta)
		}
		for _, d := range deferredAgain {
			c.deferClaim(ctx, d)
		}
	})
}

// StartBreakerResetListener слушает ручные сбросы предохранителей из консоли.
// Живучая подписка с переподключением, payload — имя сервиса.
func (c *Coordinator) StartBreakerResetListener(ctx context.Context, rdb *redis.Client) {
	for {
		pubsub := rdb.Subscribe(ctx, infra.RedisChanBreakerReset)

		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				pubsub.Close()
				return
			}
			c.logger.Error("breaker reset subscribe failed", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				service := msg.Payload
				p, exists := c.pipelines[service]
				if !exists {
					c.logger.Warn("breaker reset for unknown service", zap.String("service", service))
					continue
				}
				p.ResetBreaker()
				c.trail.Record(audit.Entry{
					ServiceName: service,
					Kind:        audit.KindEscalation,
					Status:      "breaker_reset",
				})
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
