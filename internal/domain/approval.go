package domain

import (
	"errors"
	"time"
)

// ApprovalStatus — статусы State Machine:
// pending -> {approved | rejected | timed_out | cancelled}, ровно один терминальный переход.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	// ApprovalTimedOut трактуется как reject для исполнения, но логируется отдельно
	// и эскалируется: это нерешенное состояние, а не осознанное решение оператора.
	ApprovalTimedOut ApprovalStatus = "timed_out"
	// ApprovalCancelled — условие рассосалось само (свежий цикл дал no_action)
	// до ответа оператора. Отдельный терминал для честного аудита.
	ApprovalCancelled ApprovalStatus = "cancelled"
)

var (
	ErrInvalidTransition = errors.New("invalid approval status transition")
	ErrAlreadyProcessed  = errors.New("approval request already processed")
)

// IsTerminal — терминальные статусы иммутабельны
func (s ApprovalStatus) IsTerminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalTimedOut || s == ApprovalCancelled
}

type ApprovalRequest struct {
	ID                string         `json:"id"`
	GovernanceCheckID string         `json:"governance_check_id"`
	DecisionID        string         `json:"decision_id"`
	ServiceName       string         `json:"service_name"`
	Approvers         []string       `json:"approvers"`
	Status            ApprovalStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	TimeoutAt time.Time `json:"timeout_at"`

	RespondedBy *string    `json:"responded_by,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	Comment     *string    `json:"comment,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата.
// Второй ответ на ту же заявку невозможен (double decision guard).
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != ApprovalPending {
		return ErrAlreadyProcessed
	}
	if !next.IsTerminal() {
		return ErrInvalidTransition
	}
	return nil
}
