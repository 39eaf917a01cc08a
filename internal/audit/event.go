package audit

import "time"

// EntryKind — какой переход контура зафиксирован
type EntryKind string

const (
	KindDecision     EntryKind = "decision"
	KindGovernance   EntryKind = "governance"
	KindApproval     EntryKind = "approval"
	KindBlueprint    EntryKind = "blueprint"
	KindExecution    EntryKind = "execution"
	KindVerification EntryKind = "verification"
	KindRollback     EntryKind = "rollback"
	KindEscalation   EntryKind = "escalation"
)

// Entry — одна append-only запись аудита. Никогда не мутируется и не удаляется.
// Detail хранит сериализуемый слепок сущности (Decision, GovernanceCheck и т.д.).
type Entry struct {
	ID          string                 `json:"id"` // UUID записи
	ServiceName string                 `json:"service_name"`
	DecisionID  string                 `json:"decision_id"` // Сквозной ID цикла
	Kind        EntryKind              `json:"kind"`
	Status      string                 `json:"status"` // e.g. "scale_up", "forbidden", "timed_out"
	Detail      map[string]interface{} `json:"detail,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Query — фильтры для выборки журнала через консоль
type Query struct {
	ServiceName string
	DecisionID  string
	From        time.Time
	To          time.Time
	Limit       int
}
