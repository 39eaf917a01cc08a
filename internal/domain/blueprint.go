package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// RuleKind определяет вид правила в Blueprint.
// Порядок проверки фиксирован: forbidden -> restricted -> allowed (first match wins).
type RuleKind string

const (
	RuleForbidden  RuleKind = "forbidden"
	RuleRestricted RuleKind = "restricted"
	RuleAllowed    RuleKind = "allowed"
)

// Условия (predicates) для restricted/allowed правил.
// Именованный набор вместо выражений: интерпретируется в GovernanceEnforcer.
const (
	CondTargetAboveMax = "target_above_max" // target_replicas > max_replicas
	CondTargetBelowMin = "target_below_min" // target_replicas < min_replicas
	CondLargeStep      = "large_step"       // |target - current| >= value
	CondWithinBounds   = "within_bounds"    // min <= target <= max
)

var (
	ErrBlueprintInvalid  = errors.New("blueprint validation failed")
	ErrBlueprintNotFound = errors.New("blueprint not found")
)

// weightTolerance — допуск при проверке суммы весов (float арифметика)
const weightTolerance = 1e-9

// Alternative — что предложить вместо заблокированной операции
type Alternative struct {
	Action      string `json:"action" yaml:"action"`
	Description string `json:"description" yaml:"description"`
}

// Rule — tagged-variant правило авторизации. Поля заполняются в зависимости от Kind:
// forbidden: Action/Rationale/Alternatives; restricted: Condition/Approvers/Timeout;
// allowed: Condition.
type Rule struct {
	Kind      RuleKind `json:"kind" yaml:"kind"`
	Action    string   `json:"action,omitempty" yaml:"action,omitempty"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	Value     float64  `json:"value,omitempty" yaml:"value,omitempty"`

	// Только для forbidden
	Rationale    string        `json:"rationale,omitempty" yaml:"rationale,omitempty"`
	Alternatives []Alternative `json:"alternatives,omitempty" yaml:"alternatives,omitempty"`

	// Только для restricted (HITL)
	Approvers []string      `json:"approvers,omitempty" yaml:"approvers,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// UtilizationWeights — веса для свертки сигналов в один скаляр.
// Инвариант: сумма строго 1.0, проверяется при загрузке Blueprint.
type UtilizationWeights struct {
	CPU     float64 `json:"cpu" yaml:"cpu"`
	Memory  float64 `json:"memory" yaml:"memory"`
	Latency float64 `json:"latency" yaml:"latency"`
}

// VerificationCheck — одна проверка после стабилизации.
// Critical=true означает, что провал триггерит автоматический rollback.
type VerificationCheck struct {
	Name     string  `json:"name" yaml:"name"`
	Operator string  `json:"operator" yaml:"operator"` // "<", ">", "=="
	Target   float64 `json:"target" yaml:"target"`
	Critical bool    `json:"critical" yaml:"critical"`
}

// Blueprint — декларативная политика масштабирования одного сервиса.
// Иммутабелен после загрузки: любое изменение (включая approval-driven) —
// это новая версия через BlueprintStore, никогда правка на месте.
type Blueprint struct {
	Service  string `json:"service" yaml:"service"`
	Version  int    `json:"version" yaml:"-"`
	Priority int    `json:"priority" yaml:"priority"` // Для разрешения конфликтов за capacity

	MinReplicas int `json:"min_replicas" yaml:"min_replicas"`
	MaxReplicas int `json:"max_replicas" yaml:"max_replicas"`

	Weights              UtilizationWeights `json:"weights" yaml:"weights"`
	TargetCPUUtilization float64            `json:"target_cpu_utilization" yaml:"target_cpu_utilization"`
	LatencyTargetMs      float64            `json:"latency_target_ms" yaml:"latency_target_ms"`
	ScaleUpThreshold     float64            `json:"scale_up_threshold" yaml:"scale_up_threshold"`
	ScaleDownThreshold   float64            `json:"scale_down_threshold" yaml:"scale_down_threshold"`

	StabilizationPeriod time.Duration `json:"stabilization_period" yaml:"stabilization_period"`
	Cooldown            time.Duration `json:"cooldown" yaml:"cooldown"`
	DeferDuration       time.Duration `json:"defer_duration" yaml:"defer_duration"`

	Rules              []Rule              `json:"rules" yaml:"rules"`
	VerificationChecks []VerificationCheck `json:"verification_checks" yaml:"verification_checks"`
}

// Validate — fail closed: невалидный Blueprint исключает сервис из координации,
// никаких тихих дефолтов.
func (b *Blueprint) Validate() error {
	if b.Service == "" {
		return fmt.Errorf("%w: service name is empty", ErrBlueprintInvalid)
	}
	if b.MinReplicas < 0 || b.MaxReplicas <= 0 {
		return fmt.Errorf("%w: replica bounds must be positive (min=%d max=%d)", ErrBlueprintInvalid, b.MinReplicas, b.MaxReplicas)
	}
	if b.MinReplicas > b.MaxReplicas {
		return fmt.Errorf("%w: min_replicas %d > max_replicas %d", ErrBlueprintInvalid, b.MinReplicas, b.MaxReplicas)
	}

	sum := b.Weights.CPU + b.Weights.Memory + b.Weights.Latency
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%w: utilization weights must sum to 1.0, got %.6f", ErrBlueprintInvalid, sum)
	}

	if b.TargetCPUUtilization <= 0 || b.TargetCPUUtilization > 1 {
		return fmt.Errorf("%w: target_cpu_utilization must be in (0, 1]", ErrBlueprintInvalid)
	}
	if b.LatencyTargetMs <= 0 {
		return fmt.Errorf("%w: latency_target_ms must be positive", ErrBlueprintInvalid)
	}
	if b.ScaleDownThreshold >= b.ScaleUpThreshold {
		return fmt.Errorf("%w: scale_down_threshold %.2f >= scale_up_threshold %.2f", ErrBlueprintInvalid, b.ScaleDownThreshold, b.ScaleUpThreshold)
	}

	for i, r := range b.Rules {
		switch r.Kind {
		case RuleForbidden:
			if r.Action == "" && r.Condition == "" {
				return fmt.Errorf("%w: forbidden rule #%d has neither action nor condition", ErrBlueprintInvalid, i)
			}
		case RuleRestricted:
			if r.Condition == "" {
				return fmt.Errorf("%w: restricted rule #%d has no condition", ErrBlueprintInvalid, i)
			}
			if len(r.Approvers) == 0 {
				return fmt.Errorf("%w: restricted rule #%d has no approvers", ErrBlueprintInvalid, i)
			}
			if r.Timeout <= 0 {
				return fmt.Errorf("%w: restricted rule #%d has no timeout", ErrBlueprintInvalid, i)
			}
		case RuleAllowed:
			if r.Condition == "" {
				return fmt.Errorf("%w: allowed rule #%d has no condition", ErrBlueprintInvalid, i)
			}
		default:
			return fmt.Errorf("%w: rule #%d has unknown kind %q", ErrBlueprintInvalid, i, r.Kind)
		}
	}

	for i, c := range b.VerificationChecks {
		if c.Name == "" {
			return fmt.Errorf("%w: verification check #%d has no name", ErrBlueprintInvalid, i)
		}
		switch c.Operator {
		case "<", ">", "==":
		default:
			return fmt.Errorf("%w: verification check %q has unknown operator %q", ErrBlueprintInvalid, c.Name, c.Operator)
		}
	}

	return nil
}

// Clone — глубокая копия для создания новой версии.
// Слайсы копируются, чтобы мутация новой версии не трогала старую.
func (b *Blueprint) Clone() *Blueprint {
	cp := *b
	cp.Rules = make([]Rule, len(b.Rules))
	copy(cp.Rules, b.Rules)
	for i := range cp.Rules {
		if alts := cp.Rules[i].Alternatives; alts != nil {
			cp.Rules[i].Alternatives = append([]Alternative(nil), alts...)
		}
		if apps := cp.Rules[i].Approvers; apps != nil {
			cp.Rules[i].Approvers = append([]string(nil), apps...)
		}
	}
	cp.VerificationChecks = append([]VerificationCheck(nil), b.VerificationChecks...)
	return &cp
}
