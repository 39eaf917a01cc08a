package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/scalegov-prototype/internal/actuator"
	"github.com/xela07ax/scalegov-prototype/internal/audit"
	"github.com/xela07ax/scalegov-prototype/internal/blueprint"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"github.com/xela07ax/scalegov-prototype/internal/notify"
	"go.uber.org/zap"
)

// BreakerSettings — per-service предохранитель: открывается после N подряд
// провалов исполнения/верификации и глушит автоматику до ручного сброса
// (или истечения Timeout).
type BreakerSettings struct {
	MaxFailures uint32
	Timeout     time.Duration
}

// Pipeline — последовательный контур одного сервиса:
// Decision -> Governance -> [Approval] -> Execution -> Verification -> [Rollback].
// Стадии строго последовательны; между сервисами — никакого разделяемого
// мутабельного состояния, пайплайны живут на независимых горутинах.
type Pipeline struct {
	service string

	blueprints *blueprint.Store
	metricsSrc actuator.MetricsProvider
	decider    *DecisionEngine
	enforcer   *GovernanceEnforcer
	approvals  *ApprovalBroker
	executor   *Executor
	verifier   *Verifier
	rollback   *RollbackController
	trail      audit.Logger
	notifier   notify.Notifier
	metrics    *Metrics
	logger     *zap.Logger

	breakerCfg BreakerSettings

	mu            sync.Mutex
	cb            *gobreaker.CircuitBreaker
	lastExecution time.Time
	pendingID     string // id подвешенной ApprovalRequest ("" если нет)
	halted        bool   // manual_intervention_required
	busy          bool   // цикл в полете (включая подвес на approval)
}

type PipelineDeps struct {
	Blueprints *blueprint.Store
	MetricsSrc actuator.MetricsProvider
	Decider    *DecisionEngine
	Enforcer   *GovernanceEnforcer
	Approvals  *ApprovalBroker
	Executor   *Executor
	Verifier   *Verifier
	Rollback   *RollbackController
	Trail      audit.Logger
	Notifier   notify.Notifier
	Metrics    *Metrics
	Logger     *zap.Logger
	Breaker    BreakerSettings
}

func NewPipeline(service string, deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		service:    service,
		blueprints: deps.Blueprints,
		metricsSrc: deps.MetricsSrc,
		decider:    deps.Decider,
		enforcer:   deps.Enforcer,
		approvals:  deps.Approvals,
		executor:   deps.Executor,
		verifier:   deps.Verifier,
		rollback:   deps.Rollback,
		trail:      deps.Trail,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     deps.Logger.Named("pipeline").With(zap.String("service", service)),
		breakerCfg: deps.Breaker,
	}
	p.cb = p.newBreaker()
	return p
}

func (p *Pipeline) newBreaker() *gobreaker.CircuitBreaker {
	maxFailures := p.breakerCfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	timeout := p.breakerCfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pipeline-" + p.service,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			state := 0.0
			if to == gobreaker.StateOpen {
				state = 1.0
			}
			if p.metrics != nil {
				p.metrics.BreakerState.WithLabelValues(p.service).Set(state)
			}
			p.logger.Warn("breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

func (p *Pipeline) Service() string { return p.service }

func (p *Pipeline) Halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// Suspended — цикл подвешен на approval
func (p *Pipeline) Suspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy && p.pendingID != ""
}

// ResetBreaker — ручной сброс предохранителя (сигнал из консоли).
// gobreaker не умеет reset, поэтому создаем свежий инстанс; halted тоже снимается.
func (p *Pipeline) ResetBreaker() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = p.newBreaker()
	p.halted = false
	if p.metrics != nil {
		p.metrics.BreakerState.WithLabelValues(p.service).Set(0)
	}
	p.logger.Info("breaker manually reset")
}

// Evaluate — чистая оценка без побочных эффектов (используется координатором
// для планирования capacity и для проверки отмены подвешенного approval).
func (p *Pipeline) Evaluate(ctx context.Context) (*domain.Decision, *domain.Blueprint, error) {
	bp, err := p.blueprints.Get(p.service)
	if err != nil {
		return nil, nil, err
	}
	snap, err := p.metricsSrc.GetSnapshot(ctx, p.service)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics snapshot failed: %w", err)
	}
	return p.decider.Evaluate(bp, snap), bp, nil
}

// MaybeCancelPending отменяет подвешенную заявку, если условие рассосалось:
// свежая оценка дала no_action — апрув больше не нужен.
func (p *Pipeline) MaybeCancelPending(ctx context.Context) {
	p.mu.Lock()
	id := p.pendingID
	p.mu.Unlock()
	if id == "" {
		return
	}

	dec, _, err := p.Evaluate(ctx)
	if err != nil {
		p.logger.Error("cancel-check evaluation failed", zap.Error(err))
		return
	}
	if dec.Action != domain.ActionNoAction {
		return
	}

	if err := p.approvals.Cancel(ctx, id); err != nil {
		if !errors.Is(err, domain.ErrAlreadyProcessed) {
			p.logger.Error("approval cancel failed", zap.String("approval_id", id), zap.Error(err))
		}
		return
	}
	p.logger.Info("pending approval cancelled: condition resolved", zap.String("approval_id", id))
}

// RunCycle прогоняет один полный цикл контура. Повторный вход при живом цикле
// невозможен — per-service single-flow.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	p.mu.Lock()
	if p.halted || p.busy {
		p.mu.Unlock()
		return nil
	}
	p.busy = true
	p.mu.Unlock()

	start := time.Now()
	defer func() {
		p.mu.Lock()
		p.busy = false
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.CycleDuration.WithLabelValues(p.service).Observe(time.Since(start).Seconds())
		}
	}()

	return p.runCycle(ctx)
}

func (p *Pipeline) runCycle(ctx context.Context) error {
	// 1. Decision: Blueprint читается один раз на цикл, снапшот всегда свежий
	dec, bp, err := p.Evaluate(ctx)
	if err != nil {
		p.logger.Error("cycle evaluation failed", zap.Error(err))
		return err
	}

	if p.metrics != nil {
		p.metrics.DecisionsTotal.WithLabelValues(p.service, string(dec.Action)).Inc()
	}
	p.record(audit.KindDecision, dec.ID, string(dec.Action), dec)

	if dec.Action == domain.ActionNoAction {
		return nil
	}

	// Cooldown: минимальный интервал между двумя успешными исполнениями
	p.mu.Lock()
	coolingDown := bp.Cooldown > 0 && !p.lastExecution.IsZero() && time.Since(p.lastExecution) < bp.Cooldown
	p.mu.Unlock()
	if coolingDown {
		p.record(audit.KindDecision, dec.ID, "cooldown_skip", map[string]interface{}{
			"cooldown": bp.Cooldown.String(),
		})
		p.logger.Info("cycle skipped: cooldown active", zap.String("decision_id", dec.ID))
		return nil
	}

	// 2. Governance
	check := p.enforcer.Classify(dec, bp)
	if p.metrics != nil {
		p.metrics.GovernanceTotal.WithLabelValues(p.service, string(check.Classification)).Inc()
	}
	p.record(audit.KindGovernance, dec.ID, string(check.Classification), check)

	switch check.Classification {
	case domain.ClassForbidden:
		// Блокировка немедленная, нулевые вызовы актуатора, альтернативы в аудите.
		// Security-relevant: уведомляем.
		if err := p.notifier.SendEscalation(ctx, p.service, fmt.Sprintf("forbidden decision blocked: %s", check.Rationale)); err != nil {
			p.logger.Error("forbidden notification failed", zap.Error(err))
		}
		return nil

	case domain.ClassRestricted:
		approved, err := p.awaitApproval(ctx, check, dec)
		if err != nil || !approved {
			return err
		}
		// Blueprint мог измениться (включая approval-driven мутацию) —
		// ре-валидация против ПОСЛЕДНЕЙ версии непосредственно перед исполнением
		bp, err = p.blueprints.Get(p.service)
		if err != nil {
			return err
		}
		if dec.TargetReplicas < bp.MinReplicas || dec.TargetReplicas > bp.MaxReplicas {
			p.record(audit.KindGovernance, dec.ID, "revalidation_failed", map[string]interface{}{
				"target":        dec.TargetReplicas,
				"min":           bp.MinReplicas,
				"max":           bp.MaxReplicas,
				"blueprint_ver": bp.Version,
			})
			p.logger.Warn("approved decision no longer valid against latest blueprint",
				zap.String("decision_id", dec.ID), zap.Int("target", dec.TargetReplicas))
			return nil
		}
	}

	// 3-5. Execution -> Verification -> [Rollback] под per-service breaker
	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.executeAndVerify(ctx, dec, bp)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			p.record(audit.KindExecution, dec.ID, "breaker_open", nil)
			p.logger.Warn("execution suppressed: circuit breaker open", zap.String("decision_id", dec.ID))
			return nil
		}
		return err
	}
	return nil
}

// awaitApproval подвешивает пайплайн до решения оператора или дедлайна.
// true — только при approved; approval-driven мутация Blueprint коммитится
// ДО возврата, так что исполнение видит уже новую версию.
func (p *Pipeline) awaitApproval(ctx context.Context, check *domain.GovernanceCheck, dec *domain.Decision) (bool, error) {
	req, err := p.approvals.Submit(ctx, check, dec)
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	p.pendingID = req.ID
	p.mu.Unlock()
	p.record(audit.KindApproval, dec.ID, string(domain.ApprovalPending), req)

	res, err := p.approvals.Await(ctx, req.ID)

	p.mu.Lock()
	p.pendingID = ""
	p.mu.Unlock()

	if err != nil {
		return false, err
	}

	if p.metrics != nil {
		p.metrics.ApprovalsTotal.WithLabelValues(p.service, string(res.Status)).Inc()
	}
	p.record(audit.KindApproval, dec.ID, string(res.Status), map[string]interface{}{
		"approval_id": req.ID,
		"reviewer":    res.Reviewer,
		"comment":     res.Comment,
	})

	if res.Status != domain.ApprovalApproved {
		p.logger.Info("decision not approved",
			zap.String("decision_id", dec.ID),
			zap.String("status", string(res.Status)),
		)
		return false, nil
	}

	// Апрув подразумевает политику: target за пределами max → поднимаем max.
	// Новая версия durable и аудируется, никогда не молча.
	bp, err := p.blueprints.Get(p.service)
	if err != nil {
		return false, err
	}
	if dec.TargetReplicas > bp.MaxReplicas {
		reason := fmt.Sprintf("approval %s by %s raised max_replicas to %d", req.ID, res.Reviewer, dec.TargetReplicas)
		next, err := p.blueprints.Commit(ctx, p.service, reason, func(b *domain.Blueprint) {
			b.MaxReplicas = dec.TargetReplicas
		})
		if err != nil {
			return false, fmt.Errorf("approval-driven blueprint commit failed: %w", err)
		}
		p.record(audit.KindBlueprint, dec.ID, "max_replicas_raised", map[string]interface{}{
			"version":      next.Version,
			"max_replicas": next.MaxReplicas,
			"approval_id":  req.ID,
		})
	}

	return true, nil
}

func (p *Pipeline) executeAndVerify(ctx context.Context, dec *domain.Decision, bp *domain.Blueprint) error {
	op, err := p.executor.Execute(ctx, dec, dec.TargetReplicas, false)
	p.record(audit.KindExecution, dec.ID, string(op.Status), op)
	if p.metrics != nil {
		p.metrics.ExecutionsTotal.WithLabelValues(p.service, string(op.Status)).Inc()
	}
	if err != nil {
		// Терминально для цикла: без ретраев, счетчик breaker-а растет
		if nErr := p.notifier.SendResult(ctx, op.ID, "failed"); nErr != nil {
			p.logger.Error("result notification failed", zap.Error(nErr))
		}
		return err
	}

	p.mu.Lock()
	p.lastExecution = time.Now()
	p.mu.Unlock()

	vr, err := p.verifier.Verify(ctx, op, bp)
	if err != nil {
		return err
	}
	p.record(audit.KindVerification, dec.ID, string(vr.Outcome), vr)

	if vr.Outcome == domain.VerificationSuccess {
		if nErr := p.notifier.SendResult(ctx, op.ID, "success"); nErr != nil {
			p.logger.Error("result notification failed", zap.Error(nErr))
		}
		return nil
	}

	// Критичный провал — ровно одна автоматическая попытка rollback
	if p.metrics != nil {
		p.metrics.RollbacksTotal.WithLabelValues(p.service).Inc()
	}
	record, rbErr := p.rollback.Run(ctx, op, vr, dec, bp)
	if record != nil {
		p.record(audit.KindRollback, dec.ID, record.TriggerReason, record)
	}

	if rbErr != nil {
		if errors.Is(rbErr, ErrManualIntervention) {
			p.escalate(ctx, dec.ID, rbErr.Error())
		}
		return rbErr
	}

	if nErr := p.notifier.SendResult(ctx, op.ID, "rolled_back"); nErr != nil {
		p.logger.Error("result notification failed", zap.Error(nErr))
	}
	// Откат прошел, но исходная операция провалена — breaker должен это видеть
	return fmt.Errorf("verification failed critically, rolled back to %d replicas", op.PreState.Replicas)
}

// escalate переводит пайплайн в manual_intervention_required:
// автоматика для сервиса стоит до ручного сброса через консоль.
func (p *Pipeline) escalate(ctx context.Context, decisionID, reason string) {
	p.mu.Lock()
	p.halted = true
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.EscalationsTotal.WithLabelValues(p.service, "manual_intervention_required").Inc()
	}
	p.record(audit.KindEscalation, decisionID, "manual_intervention_required", map[string]interface{}{
		"reason": reason,
	})
	if err := p.notifier.SendEscalation(ctx, p.service, reason); err != nil {
		p.logger.Error("escalation notification failed", zap.Error(err))
	}
	p.logger.Error("pipeline halted: manual intervention required", zap.String("reason", reason))
}

// record сериализует сущность в detail-мапу и пишет в журнал
func (p *Pipeline) record(kind audit.EntryKind, decisionID, status string, v interface{}) {
	var detail map[string]interface{}
	if v != nil {
		if data, err := json.Marshal(v); err == nil {
			_ = json.Unmarshal(data, &detail)
		}
	}
	p.trail.Record(audit.Entry{
		ServiceName: p.service,
		DecisionID:  decisionID,
		Kind:        kind,
		Status:      status,
		Detail:      detail,
	})
}
