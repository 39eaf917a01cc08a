package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/scalegov-prototype/internal/actuator"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"go.uber.org/zap"
)

// Verifier — Verification Engine: после stabilization period берет свежий
// снапшот и прогоняет чеки Blueprint. Каждый чек оценивается независимо.
// outcome=failure <=> провален хотя бы один critical-чек; некритичные провалы
// информационные (дрейф CPU), критичные (латентность, error rate) — rollback-worthy.
type Verifier struct {
	metrics actuator.MetricsProvider
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string

	// Подмена сна в тестах; в проде честный time.After
	sleep func(ctx context.Context, d time.Duration) error
}

func NewVerifier(metrics actuator.MetricsProvider, logger *zap.Logger) *Verifier {
	return &Verifier{
		metrics: metrics,
		logger:  logger.Named("verifier"),
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Verify ждет стабилизацию (suspension point — чистая задержка, не busy-wait),
// затем оценивает все чеки против свежего снапшота.
func (v *Verifier) Verify(ctx context.Context, op *domain.Operation, bp *domain.Blueprint) (*domain.VerificationResult, error) {
	if err := v.sleep(ctx, bp.StabilizationPeriod); err != nil {
		return nil, fmt.Errorf("stabilization wait interrupted: %w", err)
	}

	snap, err := v.metrics.GetSnapshot(ctx, op.Service)
	if err != nil {
		return nil, fmt.Errorf("verification snapshot failed: %w", err)
	}

	result := &domain.VerificationResult{
		ID:          v.newID(),
		OperationID: op.ID,
		Outcome:     domain.VerificationSuccess,
		CreatedAt:   v.now(),
	}

	for _, check := range bp.VerificationChecks {
		actual, known := snap.MetricValue(check.Name)
		passed := known && compare(actual, check.Operator, check.Target)

		result.Checks = append(result.Checks, domain.CheckResult{
			Name:     check.Name,
			Operator: check.Operator,
			Expected: check.Target,
			Actual:   actual,
			Passed:   passed,
			Critical: check.Critical,
		})

		if !passed && check.Critical {
			result.Outcome = domain.VerificationFailure
		}

		if !passed {
			v.logger.Warn("verification check failed",
				zap.String("service", op.Service),
				zap.String("check", check.Name),
				zap.Float64("expected", check.Target),
				zap.Float64("actual", actual),
				zap.Bool("critical", check.Critical),
			)
		}
	}

	return result, nil
}

func compare(actual float64, operator string, target float64) bool {
	switch operator {
	case "<":
		return actual < target
	case ">":
		return actual > target
	case "==":
		return actual == target
	default:
		// Blueprint.Validate не пропускает другие операторы; fail closed на всякий
		return false
	}
}
