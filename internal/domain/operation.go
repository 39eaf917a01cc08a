package domain

import "time"

// OperationStatus — исход вызова актуатора
type OperationStatus string

const (
	OpSucceeded OperationStatus = "succeeded"
	OpFailed    OperationStatus = "failed"
)

// Operation — запись об исполнении (append-only).
// preState снимается непосредственно перед командой, postState — сразу после
// подтверждения актуатора, НЕ после стабилизации.
type Operation struct {
	ID         string          `json:"id"`
	DecisionID string          `json:"decision_id"`
	Service    string          `json:"service"`
	Command    string          `json:"command"` // e.g. "set_replicas:6"
	Rollback   bool            `json:"rollback"`
	StartedAt  time.Time       `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Status     OperationStatus `json:"status"`
	Error      string          `json:"error,omitempty"`

	PreState  MetricsSnapshot `json:"pre_state"`
	PostState MetricsSnapshot `json:"post_state"`

	// Жесткий инвариант против осцилляции: не более одного автоматического
	// rollback на исходную операцию.
	RollbackAttempts int `json:"rollback_attempts"`
}

// VerificationOutcome — общий исход верификации
type VerificationOutcome string

const (
	VerificationSuccess VerificationOutcome = "success"
	VerificationFailure VerificationOutcome = "failure"
)

// CheckResult — результат одной проверки из Blueprint.verification_checks
type CheckResult struct {
	Name     string  `json:"name"`
	Operator string  `json:"operator"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
	Passed   bool    `json:"passed"`
	Critical bool    `json:"critical"`
}

// VerificationResult — outcome=failure тогда и только тогда, когда провалился
// хотя бы один critical-чек. Некритичные провалы записываются, но не триггерят rollback.
type VerificationResult struct {
	ID          string              `json:"id"`
	OperationID string              `json:"operation_id"`
	Outcome     VerificationOutcome `json:"outcome"`
	Checks      []CheckResult       `json:"checks"`
	CreatedAt   time.Time           `json:"created_at"`
}

// FailedCritical возвращает имена проваленных critical-чеков
func (v *VerificationResult) FailedCritical() []string {
	var names []string
	for _, c := range v.Checks {
		if c.Critical && !c.Passed {
			names = append(names, c.Name)
		}
	}
	return names
}

// RollbackRecord существует только при критичном провале верификации.
// Ссылается на исходную Operation; вторая запись для той же операции невозможна.
type RollbackRecord struct {
	ID                   string              `json:"id"`
	OriginalOperationID  string              `json:"original_operation_id"`
	TriggerReason        string              `json:"trigger_reason"` // имя первого проваленного critical-чека
	RollbackOperation    *Operation          `json:"rollback_operation"`
	RollbackVerification *VerificationResult `json:"rollback_verification,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
}
