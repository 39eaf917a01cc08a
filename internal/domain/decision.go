package domain

import "time"

// ScalingAction — предлагаемое действие Decision Engine
type ScalingAction string

const (
	ActionScaleUp   ScalingAction = "scale_up"
	ActionScaleDown ScalingAction = "scale_down"
	ActionNoAction  ScalingAction = "no_action"
)

// Classification — трехуровневая модель авторизации.
// forbidden никогда не исполняется и не переопределяется апрувом —
// единственный путь разрешить такую операцию это явная правка Blueprint.
type Classification string

const (
	ClassAllowed    Classification = "allowed"
	ClassRestricted Classification = "restricted"
	ClassForbidden  Classification = "forbidden"
)

// Decision — результат оценки одного цикла. Read-only после создания.
type Decision struct {
	ID                  string        `json:"id"`
	ServiceName         string        `json:"service_name"`
	BlueprintVersion    int           `json:"blueprint_version"`
	Action              ScalingAction `json:"action"`
	CurrentReplicas     int           `json:"current_replicas"`
	TargetReplicas      int           `json:"target_replicas"`
	WeightedUtilization float64       `json:"weighted_utilization"`
	Rationale           string        `json:"rationale"`
	CreatedAt           time.Time     `json:"created_at"`
}

// Delta — сколько реплик добавит (или освободит) решение
func (d *Decision) Delta() int {
	return d.TargetReplicas - d.CurrentReplicas
}

// GovernanceCheck — вердикт Governance Enforcer, один-к-одному с Decision.
// Иммутабелен после создания.
type GovernanceCheck struct {
	ID               string         `json:"id"`
	DecisionID       string         `json:"decision_id"`
	Classification   Classification `json:"classification"`
	RequiresApproval bool           `json:"requires_approval"`
	Rationale        string         `json:"rationale"`
	Alternatives     []Alternative  `json:"alternatives,omitempty"`

	// Параметры HITL, заполнены только при classification=restricted
	Approvers       []string      `json:"approvers,omitempty"`
	ApprovalTimeout time.Duration `json:"approval_timeout,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}
