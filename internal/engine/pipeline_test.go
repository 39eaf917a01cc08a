package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/scalegov-prototype/internal/actuator"
	"github.com/xela07ax/scalegov-prototype/internal/audit"
	"github.com/xela07ax/scalegov-prototype/internal/blueprint"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"go.uber.org/zap"
)

// recorderTrail — синхронный журнал для ассертов вместо асинхронного Trail
type recorderTrail struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recorderTrail) Record(e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorderTrail) statuses(kind audit.EntryKind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.Kind == kind {
			out = append(out, e.Status)
		}
	}
	return out
}

func (r *recorderTrail) has(kind audit.EntryKind, status string) bool {
	for _, s := range r.statuses(kind) {
		if s == status {
			return true
		}
	}
	return false
}

// latencyByReplicas подменяет латентность в зависимости от числа реплик:
// имитация систем, где проблема не лечится (или лечится) масштабированием
type latencyByReplicas struct {
	cluster *actuator.MockCluster
	latency map[int]float64
}

func (l *latencyByReplicas) GetSnapshot(ctx context.Context, service string) (domain.MetricsSnapshot, error) {
	snap, err := l.cluster.GetSnapshot(ctx, service)
	if err != nil {
		return snap, err
	}
	if v, ok := l.latency[snap.Replicas]; ok {
		snap.LatencyP95 = v
	}
	return snap, nil
}

type pipelineFixture struct {
	cluster  *actuator.MockCluster
	store    *blueprint.Store
	broker   *ApprovalBroker
	trail    *recorderTrail
	notifier *recordingNotifier
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T, bp *domain.Blueprint, metricsSrc actuator.MetricsProvider, cluster *actuator.MockCluster, breaker BreakerSettings) *pipelineFixture {
	t.Helper()

	store := blueprint.NewStore(nil, zap.NewNop())
	require.NoError(t, store.Put(bp))

	approvals := NewMemoryApprovalStore()
	notifier := &recordingNotifier{}
	broker := NewApprovalBroker(approvals, notifier, zap.NewNop())

	verifier := NewVerifier(metricsSrc, zap.NewNop())
	verifier.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	executor := NewExecutor(cluster, metricsSrc)
	trail := &recorderTrail{}

	p := NewPipeline(bp.Service, PipelineDeps{
		Blueprints: store,
		MetricsSrc: metricsSrc,
		Decider:    NewDecisionEngine(),
		Enforcer:   NewGovernanceEnforcer(zap.NewNop()),
		Approvals:  broker,
		Executor:   executor,
		Verifier:   verifier,
		Rollback:   NewRollbackController(executor, verifier, zap.NewNop()),
		Trail:      trail,
		Notifier:   notifier,
		Metrics:    NewMetrics(nil),
		Logger:     zap.NewNop(),
		Breaker:    breaker,
	})

	return &pipelineFixture{
		cluster:  cluster,
		store:    store,
		broker:   broker,
		trail:    trail,
		notifier: notifier,
		pipeline: p,
	}
}

func TestPipelineScaleUpAllowed(t *testing.T) {
	cluster := actuator.NewMockCluster()
	cluster.Seed("checkout-api", 4, 0.92, 0.85, 180, 0.01)

	f := newPipelineFixture(t, testBlueprint("checkout-api"), cluster, cluster, BreakerSettings{})

	require.NoError(t, f.pipeline.RunCycle(context.Background()))

	assert.Equal(t, 6, cluster.Replicas("checkout-api"))
	assert.Equal(t, []string{"scale_up"}, f.trail.statuses(audit.KindDecision))
	assert.Equal(t, []string{"allowed"}, f.trail.statuses(audit.KindGovernance))
	assert.Equal(t, []string{"succeeded"}, f.trail.statuses(audit.KindExecution))
	assert.Equal(t, []string{"success"}, f.trail.statuses(audit.KindVerification))
	assert.Contains(t, f.notifier.results, "success")
}

func TestPipelineNoActionLeavesClusterAlone(t *testing.T) {
	cluster := actuator.NewMockCluster()
	cluster.Seed("checkout-api", 5, 0.6, 0.5, 120, 0.005)

	f := newPipelineFixture(t, testBlueprint("checkout-api"), cluster, cluster, BreakerSettings{})

	require.NoError(t, f.pipeline.RunCycle(context.Background()))

	assert.Equal(t, 5, cluster.Replicas("checkout-api"))
	assert.Equal(t, []string{"no_action"}, f.trail.statuses(audit.KindDecision))
	// Цикл завершился на Decision: ни governance, ни исполнения
	assert.Empty(t, f.trail.statuses(audit.KindGovernance))
	assert.Empty(t, f.trail.statuses(audit.KindExecution))
}

func TestPipelineForbiddenBlocksImmediately(t *testing.T) {
	cluster := actuator.NewMockCluster()
	cluster.Seed("checkout-api", 4, 0.92, 0.85, 180, 0.01)

	bp := testBlueprint("checkout-api")
	bp.Rules = []domain.Rule{
		{Kind: domain.RuleForbidden, Action: "*", Rationale: "change freeze"},
	}
	f := newPipelineFixture(t, bp, cluster, cluster, BreakerSettings{})

	require.NoError(t, f.pipeline.RunCycle(context.Background()))

	// Нулевые вызовы актуатора
	assert.Equal(t, 4, cluster.Replicas("checkout-api"))
	assert.Equal(t, []string{"forbidden"}, f.trail.statuses(audit.KindGovernance))
	assert.Empty(t, f.trail.statuses(audit.KindExecution))
	assert.Equal(t, 1, f.notifier.escalationCount())
}

func TestPipelineRestrictedApprovedRaisesMax(t *testing.T) {
	cluster := actuator.NewMockCluster()
	// weighted = 0.5*0.95 + 0.3*0.9 + 0.2*0.9 = 0.925
	// target = ceil(8 * 0.925 / 0.65) = 12 > max 10 -> restricted
	cluster.Seed("checkout-api", 8, 0.95, 0.9, 180, 0.005)

	bp := testBlueprint("checkout-api")
	bp.Rules = []domain.Rule{
		{
			Kind:      domain.RuleRestricted,
			Condition: domain.CondTargetAboveMax,
			Approvers: []string{"sre-oncall"},
			Timeout:   time.Minute,
		},
	}
	f := newPipelineFixture(t, bp, cluster, cluster, BreakerSettings{})

	done := make(chan error, 1)
	go func() { done <- f.pipeline.RunCycle(context.Background()) }()

	require.Eventually(t, func() bool { return f.notifier.lastRequest() != nil },
		2*time.Second, 10*time.Millisecond)
	require.Eventually(t, f.pipeline.Suspended, 2*time.Second, 10*time.Millisecond)

	req := f.notifier.lastRequest()
	require.NoError(t, f.broker.Resolve(context.Background(), req.ID, domain.ApprovalApproved, "alice", "expected load"))

	require.NoError(t, <-done)

	assert.Equal(t, 12, cluster.Replicas("checkout-api"))

	// Апрув выше max — это изменение политики: новая версия Blueprint
	latest, err := f.store.Get("checkout-api")
	require.NoError(t, err)
	assert.Equal(t, 12, latest.MaxReplicas)
	assert.Equal(t, 2, latest.Version)

	assert.True(t, f.trail.has(audit.KindApproval, "pending"))
	assert.True(t, f.trail.has(audit.KindApproval, "approved"))
	assert.True(t, f.trail.has(audit.KindBlueprint, "max_replicas_raised"))
	assert.True(t, f.trail.has(audit.KindExecution, "succeeded"))
}

func TestPipelineRestrictedTimeoutAborts(t *testing.T) {
	cluster := actuator.NewMockCluster()
	cluster.Seed("checkout-api", 8, 0.95, 0.9, 180, 0.005)

	bp := testBlueprint("checkout-api")
	bp.Rules = []domain.Rule{
		{
			Kind:      domain.RuleRestricted,
			Condition: domain.CondTargetAboveMax,
			Approvers: []string{"sre-oncall"},
			Timeout:   50 * time.Millisecond,
		},
	}
	f := newPipelineFixture(t, bp, cluster, cluster, BreakerSettings{})

	require.NoError(t, f.pipeline.RunCycle(context.Background()))

	assert.Equal(t, 8, cluster.Replicas("checkout-api"))
	assert.True(t, f.trail.has(audit.KindApproval, "timed_out"))
	assert.Empty(t, f.trail.statuses(audit.KindExecution))
	assert.Positive(t, f.notifier.escalationCount())
}

func TestPipelineRevalidatesAgainstLatestBlueprint(t *testing.T) {
	cluster := actuator.NewMockCluster()
	// target = 6, внутри границ; рестрикция по крупному шагу
	cluster.Seed("checkout-api", 4, 0.92, 0.85, 180, 0.01)

	bp := testBlueprint("checkout-api")
	bp.Rules = []domain.Rule{
		{
			Kind:      domain.RuleRestricted,
			Condition: domain.CondLargeStep,
			Value:     1,
			Approvers: []string{"sre-oncall"},
			Timeout:   time.Minute,
		},
	}
	f := newPipelineFixture(t, bp, cluster, cluster, BreakerSettings{})

	done := make(chan error, 1)
	go func() { done <- f.pipeline.RunCycle(context.Background()) }()

	require.Eventually(t, func() bool { return f.notifier.lastRequest() != nil },
		2*time.Second, 10*time.Millisecond)

	// Пока заявка висела, политика ужесточилась: min поднят выше target
	_, err := f.store.Commit(context.Background(), "checkout-api", "ops raised floor", func(b *domain.Blueprint) {
		b.MinReplicas = 7
	})
	require.NoError(t, err)

	req := f.notifier.lastRequest()
	require.NoError(t, f.broker.Resolve(context.Background(), req.ID, domain.ApprovalApproved, "alice", ""))

	require.NoError(t, <-done)

	// Одобренное решение невалидно против последней версии — не исполняется
	assert.Equal(t, 4, cluster.Replicas("checkout-api"))
	assert.True(t, f.trail.has(audit.KindGovernance, "revalidation_failed"))
	assert.Empty(t, f.trail.statuses(audit.KindExecution))
}

func TestPipelineRollbackOnCriticalFailure(t *testing.T) {
	cluster := actuator.NewMockCluster()
	cluster.Seed("checkout-api", 3, 0.92, 0.85, 180, 0.005)
	// На 5 репликах латентность деградирует (проблема не в мощности),
	// на 3 — возвращается в норму
	metricsSrc := &latencyByReplicas{
		cluster: cluster,
		latency: map[int]float64{3: 180, 5: 500},
	}

	f := newPipelineFixture(t, testBlueprint("checkout-api"), metricsSrc, cluster, BreakerSettings{})

	err := f.pipeline.RunCycle(context.Background())
	require.Error(t, err)

	// Восстановлено ровно pre-state исходной операции
	assert.Equal(t, 3, cluster.Replicas("checkout-api"))
	assert.True(t, f.trail.has(audit.KindVerification, "failure"))
	assert.Equal(t, []string{domain.MetricLatencyP95}, f.trail.statuses(audit.KindRollback))
	assert.Contains(t, f.notifier.results, "rolled_back")
	// Откат верифицировался — автоматика продолжает жить
	assert.False(t, f.pipeline.Halted())
}

func TestPipelineHaltsWhenRollbackFails(t *testing.T) {
	cluster := actuator.NewMockCluster()
	// Латентность плоха при любом числе реплик: и скейл, и откат проваливают чек
	cluster.Seed("checkout-api", 3, 0.92, 0.85, 500, 0.005)

	f := newPipelineFixture(t, testBlueprint("checkout-api"), cluster, cluster, BreakerSettings{})

	err := f.pipeline.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrManualIntervention)

	assert.True(t, f.pipeline.Halted())
	assert.True(t, f.trail.has(audit.KindEscalation, "manual_intervention_required"))
	assert.Positive(t, f.notifier.escalationCount())

	// Остановленный пайплайн не стартует новых циклов
	f.trail.mu.Lock()
	seen := len(f.trail.entries)
	f.trail.mu.Unlock()
	require.NoError(t, f.pipeline.RunCycle(context.Background()))
	f.trail.mu.Lock()
	assert.Equal(t, seen, len(f.trail.entries))
	f.trail.mu.Unlock()
}

func TestPipelineCooldownSkipsExecution(t *testing.T) {
	cluster := actuator.NewMockCluster()
	cluster.Seed("checkout-api", 4, 0.92, 0.85, 180, 0.01)

	bp := testBlueprint("checkout-api")
	bp.Cooldown = time.Hour
	f := newPipelineFixture(t, bp, cluster, cluster, BreakerSettings{})

	require.NoError(t, f.pipeline.RunCycle(context.Background()))
	require.Equal(t, 6, cluster.Replicas("checkout-api"))

	// Нагрузка всё еще высокая, но executions только что был
	require.NoError(t, f.pipeline.RunCycle(context.Background()))

	assert.Equal(t, 6, cluster.Replicas("checkout-api"))
	assert.True(t, f.trail.has(audit.KindDecision, "cooldown_skip"))
	assert.Equal(t, []string{"succeeded"}, f.trail.statuses(audit.KindExecution))
}

func TestPipelineBreakerOpensAndResets(t *testing.T) {
	cluster := actuator.NewMockCluster()
	cluster.Seed("checkout-api", 4, 0.92, 0.85, 180, 0.01)
	cluster.FailNext("checkout-api", true)

	f := newPipelineFixture(t, testBlueprint("checkout-api"), cluster, cluster,
		BreakerSettings{MaxFailures: 1, Timeout: time.Hour})

	// Первый провал открывает предохранитель
	require.Error(t, f.pipeline.RunCycle(context.Background()))
	assert.True(t, f.trail.has(audit.KindExecution, "failed"))

	// Пока открыт — исполнение подавлено без вызова актуатора
	require.NoError(t, f.pipeline.RunCycle(context.Background()))
	assert.True(t, f.trail.has(audit.KindExecution, "breaker_open"))
	assert.Equal(t, 4, cluster.Replicas("checkout-api"))

	// Ручной сброс из консоли возвращает автоматику
	cluster.FailNext("checkout-api", false)
	f.pipeline.ResetBreaker()
	require.NoError(t, f.pipeline.RunCycle(context.Background()))
	assert.Equal(t, 6, cluster.Replicas("checkout-api"))
}

func TestPipelineCancelsPendingWhenConditionResolves(t *testing.T) {
	cluster := actuator.NewMockCluster()
	cluster.Seed("checkout-api", 4, 0.92, 0.85, 180, 0.01)

	bp := testBlueprint("checkout-api")
	bp.Rules = []domain.Rule{
		{
			Kind:      domain.RuleRestricted,
			Condition: domain.CondLargeStep,
			Value:     1,
			Approvers: []string{"sre-oncall"},
			Timeout:   time.Minute,
		},
	}
	f := newPipelineFixture(t, bp, cluster, cluster, BreakerSettings{})

	done := make(chan error, 1)
	go func() { done <- f.pipeline.RunCycle(context.Background()) }()

	require.Eventually(t, f.pipeline.Suspended, 2*time.Second, 10*time.Millisecond)

	// Нагрузка спала сама — апрув больше не нужен
	cluster.SetProfile("checkout-api", 0.6, 0.5, 120, 0.005)
	f.pipeline.MaybeCancelPending(context.Background())

	require.NoError(t, <-done)

	assert.Equal(t, 4, cluster.Replicas("checkout-api"))
	assert.True(t, f.trail.has(audit.KindApproval, "cancelled"))
	assert.Empty(t, f.trail.statuses(audit.KindExecution))
}
