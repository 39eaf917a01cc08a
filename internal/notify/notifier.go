package notify

import (
	"context"

	"github.com/xela07ax/scalegov-prototype/internal/domain"
)

// Notifier — внешняя доставка уведомлений (Slack, PagerDuty, email — не наша забота).
// Контур шлет три вида сигналов: запрос апрува, результат операции и эскалацию.
type Notifier interface {
	SendApprovalRequest(ctx context.Context, req *domain.ApprovalRequest, dec *domain.Decision) error
	SendResult(ctx context.Context, operationID string, outcome string) error
	// SendEscalation — таймаут апрува или manual_intervention_required:
	// нерешенное состояние, требующее человека (on-call)
	SendEscalation(ctx context.Context, service, reason string) error
}
