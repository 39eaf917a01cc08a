package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
)

func testBlueprint(service string) *domain.Blueprint {
	return &domain.Blueprint{
		Service:              service,
		Version:              1,
		MinReplicas:          2,
		MaxReplicas:          10,
		Weights:              domain.UtilizationWeights{CPU: 0.5, Memory: 0.3, Latency: 0.2},
		TargetCPUUtilization: 0.65,
		LatencyTargetMs:      200,
		ScaleUpThreshold:     0.8,
		ScaleDownThreshold:   0.3,
		VerificationChecks: []domain.VerificationCheck{
			{Name: domain.MetricLatencyP95, Operator: "<", Target: 250, Critical: true},
			{Name: domain.MetricErrorRate, Operator: "<", Target: 0.02, Critical: true},
			{Name: domain.MetricCPUUtilization, Operator: "<", Target: 0.75, Critical: false},
		},
	}
}

func snapshot(replicas int, cpu, mem, latency, errRate float64) domain.MetricsSnapshot {
	return domain.MetricsSnapshot{
		Replicas:          replicas,
		CPUUtilization:    cpu,
		MemoryUtilization: mem,
		LatencyP95:        latency,
		ErrorRate:         errRate,
		Timestamp:         time.Now(),
	}
}

func TestWeightedUtilization(t *testing.T) {
	bp := testBlueprint("checkout-api")
	snap := snapshot(4, 0.92, 0.85, 180, 0.01)

	// 0.5*0.92 + 0.3*0.85 + 0.2*(180/200) = 0.895
	assert.InDelta(t, 0.895, WeightedUtilization(bp, snap), 1e-9)
}

func TestEvaluateScaleUp(t *testing.T) {
	e := NewDecisionEngine()
	bp := testBlueprint("checkout-api")
	snap := snapshot(4, 0.92, 0.85, 180, 0.01)

	dec := e.Evaluate(bp, snap)

	require.Equal(t, domain.ActionScaleUp, dec.Action)
	// ceil(4 * 0.895 / 0.65) = ceil(5.507) = 6
	assert.Equal(t, 6, dec.TargetReplicas)
	assert.Equal(t, 4, dec.CurrentReplicas)
	assert.Equal(t, 2, dec.Delta())
	assert.Equal(t, bp.Version, dec.BlueprintVersion)
	assert.NotEmpty(t, dec.ID)
	assert.NotEmpty(t, dec.Rationale)
}

func TestEvaluateScaleDownSingleStep(t *testing.T) {
	e := NewDecisionEngine()
	bp := testBlueprint("checkout-api")
	// 0.5*0.2 + 0.3*0.2 + 0.2*(50/200) = 0.21 < 0.3
	snap := snapshot(5, 0.2, 0.2, 50, 0.001)

	dec := e.Evaluate(bp, snap)

	require.Equal(t, domain.ActionScaleDown, dec.Action)
	// Вниз только на один шаг, как бы низко утилизация ни упала
	assert.Equal(t, 4, dec.TargetReplicas)
}

func TestEvaluateScaleDownAtMinimum(t *testing.T) {
	e := NewDecisionEngine()
	bp := testBlueprint("checkout-api")
	snap := snapshot(2, 0.1, 0.1, 40, 0.0)

	dec := e.Evaluate(bp, snap)

	assert.Equal(t, domain.ActionNoAction, dec.Action)
	assert.Equal(t, 2, dec.TargetReplicas)
}

func TestEvaluateWithinBand(t *testing.T) {
	e := NewDecisionEngine()
	bp := testBlueprint("checkout-api")
	// 0.5*0.6 + 0.3*0.5 + 0.2*(120/200) = 0.57, внутри [0.3, 0.8]
	snap := snapshot(5, 0.6, 0.5, 120, 0.005)

	dec := e.Evaluate(bp, snap)

	assert.Equal(t, domain.ActionNoAction, dec.Action)
	assert.Equal(t, 5, dec.TargetReplicas)
	assert.Zero(t, dec.Delta())
}

func TestEvaluateTieBreakTargetEqualsCurrent(t *testing.T) {
	e := NewDecisionEngine()
	bp := testBlueprint("checkout-api")
	bp.TargetCPUUtilization = 0.85

	// 0.5*0.85 + 0.3*0.8 + 0.2*(150/200) = 0.815 > 0.8, но
	// ceil(5 * 0.815 / 0.85) = 5 == current -> no_action
	snap := snapshot(5, 0.85, 0.8, 150, 0.01)

	dec := e.Evaluate(bp, snap)

	assert.Equal(t, domain.ActionNoAction, dec.Action)
	assert.Equal(t, 5, dec.TargetReplicas)
}

func TestEvaluateScaleUpUnbounded(t *testing.T) {
	// Decision Engine намеренно не ограничивает target пределами Blueprint:
	// выход за max — дело Governance, не математики
	e := NewDecisionEngine()
	bp := testBlueprint("checkout-api")
	bp.TargetCPUUtilization = 0.5

	snap := snapshot(8, 0.95, 0.9, 300, 0.03)
	dec := e.Evaluate(bp, snap)

	require.Equal(t, domain.ActionScaleUp, dec.Action)
	assert.Greater(t, dec.TargetReplicas, bp.MaxReplicas)
}

func TestEvaluateBelowMinimumStaysPut(t *testing.T) {
	e := NewDecisionEngine()
	bp := testBlueprint("checkout-api")
	// current < min: кламп к минимуму дал бы target ВЫШЕ current,
	// такое движение вверх не маркируется как scale_down
	snap := snapshot(1, 0.1, 0.1, 40, 0.0)

	dec := e.Evaluate(bp, snap)

	assert.Equal(t, domain.ActionNoAction, dec.Action)
	assert.Equal(t, 1, dec.TargetReplicas)
}
