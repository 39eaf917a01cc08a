package infra

// RedisNamespace — базовый префикс для изоляции данных проекта в Redis
const RedisNamespace = "scalegov"

// Каналы Pub/Sub (сигналы console -> governor)
const (
	// RedisChanApprovalDecisions — трансляция решений оператора (HITL).
	// Payload: JSON {approval_request_id, status, reviewer, comment}
	RedisChanApprovalDecisions = RedisNamespace + ":approvals:decisions"

	// RedisChanBreakerReset — ручной сброс circuit breaker для сервиса.
	// Payload: имя сервиса
	RedisChanBreakerReset = RedisNamespace + ":breaker:reset"

	// RedisChanNotifications — исходящие уведомления контура (для внешних консьюмеров)
	RedisChanNotifications = RedisNamespace + ":notifications"
)
