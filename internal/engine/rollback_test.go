package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/scalegov-prototype/internal/actuator"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"go.uber.org/zap"
)

func failedVerification(checks ...string) *domain.VerificationResult {
	vr := &domain.VerificationResult{
		ID:      "vr-1",
		Outcome: domain.VerificationFailure,
	}
	for _, name := range checks {
		vr.Checks = append(vr.Checks, domain.CheckResult{
			Name: name, Operator: "<", Critical: true, Passed: false,
		})
	}
	return vr
}

func TestRollbackRestoresPreState(t *testing.T) {
	cluster := actuator.NewMockCluster()
	// После "неудачного" скейла до 6 метрики в норме — откат верифицируется
	cluster.Seed("checkout-api", 6, 0.6, 0.5, 180, 0.005)

	executor := NewExecutor(cluster, cluster)
	rc := NewRollbackController(executor, newTestVerifier(cluster), zap.NewNop())

	dec := decisionFor(domain.ActionScaleUp, 4, 6)
	original := &domain.Operation{
		ID:       "op-1",
		Service:  "checkout-api",
		PreState: domain.MetricsSnapshot{Replicas: 4},
	}
	vr := failedVerification(domain.MetricLatencyP95)

	record, err := rc.Run(context.Background(), original, vr, dec, testBlueprint("checkout-api"))
	require.NoError(t, err)

	assert.Equal(t, 4, cluster.Replicas("checkout-api"))
	assert.Equal(t, "op-1", record.OriginalOperationID)
	assert.Equal(t, domain.MetricLatencyP95, record.TriggerReason)
	require.NotNil(t, record.RollbackOperation)
	assert.True(t, record.RollbackOperation.Rollback)
	assert.Equal(t, domain.VerificationSuccess, record.RollbackVerification.Outcome)
	assert.Equal(t, 1, original.RollbackAttempts)
}

func TestRollbackSecondAttemptRefused(t *testing.T) {
	cluster := actuator.NewMockCluster()
	cluster.Seed("checkout-api", 6, 0.6, 0.5, 180, 0.005)

	executor := NewExecutor(cluster, cluster)
	rc := NewRollbackController(executor, newTestVerifier(cluster), zap.NewNop())

	dec := decisionFor(domain.ActionScaleUp, 4, 6)
	original := &domain.Operation{
		ID:               "op-1",
		Service:          "checkout-api",
		PreState:         domain.MetricsSnapshot{Replicas: 4},
		RollbackAttempts: 1,
	}

	_, err := rc.Run(context.Background(), original, failedVerification(domain.MetricLatencyP95), dec, testBlueprint("checkout-api"))
	require.ErrorIs(t, err, ErrManualIntervention)
	// Счетчик не растет и актуатор не трогается
	assert.Equal(t, 1, original.RollbackAttempts)
	assert.Equal(t, 6, cluster.Replicas("checkout-api"))
}

func TestRollbackExecutionFailure(t *testing.T) {
	cluster := actuator.NewMockCluster()
	cluster.Seed("checkout-api", 6, 0.6, 0.5, 180, 0.005)
	cluster.FailNext("checkout-api", true)

	executor := NewExecutor(cluster, cluster)
	rc := NewRollbackController(executor, newTestVerifier(cluster), zap.NewNop())

	dec := decisionFor(domain.ActionScaleUp, 4, 6)
	original := &domain.Operation{
		ID:       "op-1",
		Service:  "checkout-api",
		PreState: domain.MetricsSnapshot{Replicas: 4},
	}

	record, err := rc.Run(context.Background(), original, failedVerification(domain.MetricErrorRate), dec, testBlueprint("checkout-api"))
	require.ErrorIs(t, err, ErrManualIntervention)
	require.NotNil(t, record)
	assert.Equal(t, domain.OpFailed, record.RollbackOperation.Status)
}

func TestRollbackVerificationFailure(t *testing.T) {
	cluster := actuator.NewMockCluster()
	// Латентность плоха и останется плохой после отката
	cluster.Seed("checkout-api", 6, 0.6, 0.5, 500, 0.005)

	executor := NewExecutor(cluster, cluster)
	rc := NewRollbackController(executor, newTestVerifier(cluster), zap.NewNop())

	dec := decisionFor(domain.ActionScaleUp, 4, 6)
	original := &domain.Operation{
		ID:       "op-1",
		Service:  "checkout-api",
		PreState: domain.MetricsSnapshot{Replicas: 4},
	}

	record, err := rc.Run(context.Background(), original, failedVerification(domain.MetricLatencyP95), dec, testBlueprint("checkout-api"))
	require.ErrorIs(t, err, ErrManualIntervention)
	assert.Equal(t, domain.VerificationFailure, record.RollbackVerification.Outcome)
}

func TestRollbackWithoutCriticalFailureRejected(t *testing.T) {
	cluster := actuator.NewMockCluster()
	cluster.Seed("checkout-api", 6, 0.6, 0.5, 180, 0.005)

	executor := NewExecutor(cluster, cluster)
	rc := NewRollbackController(executor, newTestVerifier(cluster), zap.NewNop())

	dec := decisionFor(domain.ActionScaleUp, 4, 6)
	original := &domain.Operation{
		ID:       "op-1",
		Service:  "checkout-api",
		PreState: domain.MetricsSnapshot{Replicas: 4},
	}
	vr := &domain.VerificationResult{Outcome: domain.VerificationSuccess}

	_, err := rc.Run(context.Background(), original, vr, dec, testBlueprint("checkout-api"))
	require.Error(t, err)
	assert.Equal(t, 6, cluster.Replicas("checkout-api"))
}
