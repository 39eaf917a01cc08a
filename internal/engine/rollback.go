package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"go.uber.org/zap"
)

// ErrManualIntervention — верификация rollback-а тоже провалилась критично.
// Автоматика останавливается: ровно одна попытка rollback на операцию,
// дальше только человек.
var ErrManualIntervention = fmt.Errorf("manual intervention required")

// RollbackController запускается только при критичном провале верификации.
// Обратная операция восстанавливает preState.replicas исходной Operation и идет
// через Execution Engine МИМО Governance: возврат к ранее авторизованному
// состоянию строго safety-restorative и ограничен исходной авторизацией.
type RollbackController struct {
	executor *Executor
	verifier *Verifier
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewRollbackController(executor *Executor, verifier *Verifier, logger *zap.Logger) *RollbackController {
	return &RollbackController{
		executor: executor,
		verifier: verifier,
		logger:   logger.Named("rollback"),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Run выполняет обратную операцию и повторную верификацию.
// Инвариант: rollbackAttempts <= 1 — счетчик на исходной операции жестко
// запрещает вторую автоматическую попытку (иначе осцилляция).
// Возвращает ErrManualIntervention, если и rollback не верифицировался.
func (rc *RollbackController) Run(ctx context.Context, original *domain.Operation, vr *domain.VerificationResult, dec *domain.Decision, bp *domain.Blueprint) (*domain.RollbackRecord, error) {
	if original.RollbackAttempts >= 1 {
		return nil, fmt.Errorf("rollback already attempted for operation %s: %w", original.ID, ErrManualIntervention)
	}
	original.RollbackAttempts++

	failed := vr.FailedCritical()
	if len(failed) == 0 {
		return nil, fmt.Errorf("rollback requested without critical failure for operation %s", original.ID)
	}

	record := &domain.RollbackRecord{
		ID:                  rc.newID(),
		OriginalOperationID: original.ID,
		TriggerReason:       failed[0],
		CreatedAt:           rc.now(),
	}

	restoreTo := original.PreState.Replicas
	rc.logger.Warn("initiating rollback",
		zap.String("service", original.Service),
		zap.String("operation_id", original.ID),
		zap.String("trigger", record.TriggerReason),
		zap.Int("restore_replicas", restoreTo),
	)

	rbOp, err := rc.executor.Execute(ctx, dec, restoreTo, true)
	record.RollbackOperation = rbOp
	if err != nil {
		// Откат не прошел физически — хуже некуда, сразу к человеку
		return record, fmt.Errorf("rollback execution failed: %v: %w", err, ErrManualIntervention)
	}

	rbVr, err := rc.verifier.Verify(ctx, rbOp, bp)
	if err != nil {
		return record, fmt.Errorf("rollback verification error: %v: %w", err, ErrManualIntervention)
	}
	record.RollbackVerification = rbVr

	if rbVr.Outcome == domain.VerificationFailure {
		return record, fmt.Errorf("rollback verification failed critically: %w", ErrManualIntervention)
	}

	rc.logger.Info("rollback verified",
		zap.String("service", original.Service),
		zap.String("rollback_operation_id", rbOp.ID),
	)
	return record, nil
}
