package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"github.com/xela07ax/scalegov-prototype/internal/infra"
	"go.uber.org/zap"
)

// RedisNotifier публикует уведомления в канал Redis.
// Внешние консьюмеры (Slack-бот, on-call пейджер) подписываются сами —
// транспорт доставки не забота контура.
type RedisNotifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisNotifier(rdb *redis.Client, logger *zap.Logger) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, logger: logger.Named("redis-notifier")}
}

type notification struct {
	Type        string `json:"type"` // "approval_request" | "result" | "escalation"
	Service     string `json:"service,omitempty"`
	ApprovalID  string `json:"approval_id,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Action      string `json:"action,omitempty"`
	Target      int    `json:"target,omitempty"`
}

func (n *RedisNotifier) publish(ctx context.Context, msg notification) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notification marshal failed: %w", err)
	}
	if err := n.rdb.Publish(ctx, infra.RedisChanNotifications, data).Err(); err != nil {
		// Недоставленное уведомление не должно ронять пайплайн:
		// логируем и продолжаем, контур важнее канала доставки
		n.logger.Error("notification publish failed", zap.String("type", msg.Type), zap.Error(err))
		return err
	}
	return nil
}

func (n *RedisNotifier) SendApprovalRequest(ctx context.Context, req *domain.ApprovalRequest, dec *domain.Decision) error {
	return n.publish(ctx, notification{
		Type:       "approval_request",
		Service:    req.ServiceName,
		ApprovalID: req.ID,
		Action:     string(dec.Action),
		Target:     dec.TargetReplicas,
	})
}

func (n *RedisNotifier) SendResult(ctx context.Context, operationID string, outcome string) error {
	return n.publish(ctx, notification{
		Type:        "result",
		OperationID: operationID,
		Outcome:     outcome,
	})
}

func (n *RedisNotifier) SendEscalation(ctx context.Context, service, reason string) error {
	return n.publish(ctx, notification{
		Type:    "escalation",
		Service: service,
		Reason:  reason,
	})
}
