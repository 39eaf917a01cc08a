package notify

import (
	"context"

	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"go.uber.org/zap"
)

// ZapNotifier пишет уведомления в структурированный лог.
// Дефолт для локального запуска и тестов: доставка видна, транспорта нет.
type ZapNotifier struct {
	logger *zap.Logger
}

func NewZapNotifier(logger *zap.Logger) *ZapNotifier {
	return &ZapNotifier{logger: logger.Named("notifier")}
}

func (n *ZapNotifier) SendApprovalRequest(ctx context.Context, req *domain.ApprovalRequest, dec *domain.Decision) error {
	n.logger.Info("APPROVAL REQUIRED",
		zap.String("approval_id", req.ID),
		zap.String("service", req.ServiceName),
		zap.Strings("approvers", req.Approvers),
		zap.String("action", string(dec.Action)),
		zap.Int("target", dec.TargetReplicas),
		zap.Time("timeout_at", req.TimeoutAt),
	)
	return nil
}

func (n *ZapNotifier) SendResult(ctx context.Context, operationID string, outcome string) error {
	n.logger.Info("operation result",
		zap.String("operation_id", operationID),
		zap.String("outcome", outcome),
	)
	return nil
}

func (n *ZapNotifier) SendEscalation(ctx context.Context, service, reason string) error {
	n.logger.Error("ESCALATION",
		zap.String("service", service),
		zap.String("reason", reason),
	)
	return nil
}
