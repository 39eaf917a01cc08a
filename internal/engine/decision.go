package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
)

// DecisionEngine — чистая функция от (Blueprint, MetricsSnapshot) плюс
// монотонные id/clock. Никаких побочных эффектов: предлагает, не исполняет.
type DecisionEngine struct {
	now   func() time.Time
	newID func() string
}

func NewDecisionEngine() *DecisionEngine {
	return &DecisionEngine{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// WeightedUtilization сворачивает CPU, память и латентность в один скаляр.
// Латентность нормируется на целевую из Blueprint: 1.0 = ровно на цели.
func WeightedUtilization(bp *domain.Blueprint, snap domain.MetricsSnapshot) float64 {
	w := bp.Weights
	return w.CPU*snap.CPUUtilization +
		w.Memory*snap.MemoryUtilization +
		w.Latency*(snap.LatencyP95/bp.LatencyTargetMs)
}

// Evaluate строит Decision по правилу:
//   - weighted > scaleUpThreshold  -> target = ceil(current * weighted / targetCPU)
//   - weighted < scaleDownThreshold -> target = max(min, current-1), только один шаг вниз
//   - иначе no_action
//
// Tie-break: если вычисленный target совпал с current — no_action независимо
// от сработавшего триггера.
func (e *DecisionEngine) Evaluate(bp *domain.Blueprint, snap domain.MetricsSnapshot) *domain.Decision {
	weighted := WeightedUtilization(bp, snap)
	current := snap.Replicas

	dec := &domain.Decision{
		ID:                  e.newID(),
		ServiceName:         bp.Service,
		BlueprintVersion:    bp.Version,
		Action:              domain.ActionNoAction,
		CurrentReplicas:     current,
		TargetReplicas:      current,
		WeightedUtilization: weighted,
		CreatedAt:           e.now(),
	}

	switch {
	case weighted > bp.ScaleUpThreshold:
		target := int(math.Ceil(float64(current) * weighted / bp.TargetCPUUtilization))
		if target <= current {
			dec.Rationale = fmt.Sprintf(
				"weighted utilization %.3f above %.2f but computed target %d does not exceed current %d",
				weighted, bp.ScaleUpThreshold, target, current)
			return dec
		}
		dec.Action = domain.ActionScaleUp
		dec.TargetReplicas = target
		dec.Rationale = fmt.Sprintf(
			"weighted utilization %.3f exceeds scale-up threshold %.2f",
			weighted, bp.ScaleUpThreshold)

	case weighted < bp.ScaleDownThreshold:
		target := current - 1
		if target < bp.MinReplicas {
			target = bp.MinReplicas
		}
		// target >= current покрывает и current == min, и current < min:
		// клампа вверх под ярлыком scale_down не бывает
		if target >= current {
			dec.Rationale = fmt.Sprintf(
				"weighted utilization %.3f below %.2f but minimum %d does not reduce current %d",
				weighted, bp.ScaleDownThreshold, bp.MinReplicas, current)
			return dec
		}
		dec.Action = domain.ActionScaleDown
		dec.TargetReplicas = target
		dec.Rationale = fmt.Sprintf(
			"weighted utilization %.3f below scale-down threshold %.2f",
			weighted, bp.ScaleDownThreshold)

	default:
		dec.Rationale = fmt.Sprintf(
			"weighted utilization %.3f within [%.2f, %.2f]",
			weighted, bp.ScaleDownThreshold, bp.ScaleUpThreshold)
	}

	return dec
}
