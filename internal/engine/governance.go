package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"go.uber.org/zap"
)

// GovernanceEnforcer классифицирует Decision против правил Blueprint.
// Порядок проверки фиксирован и значим: forbidden -> restricted -> allowed,
// первый матч выигрывает. Никакой апрув не переквалифицирует forbidden:
// единственный путь — явная правка Blueprint (аудируемое изменение политики).
type GovernanceEnforcer struct {
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewGovernanceEnforcer(logger *zap.Logger) *GovernanceEnforcer {
	return &GovernanceEnforcer{
		logger: logger.Named("governance"),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Classify возвращает GovernanceCheck, один-к-одному с Decision.
func (g *GovernanceEnforcer) Classify(dec *domain.Decision, bp *domain.Blueprint) *domain.GovernanceCheck {
	check := &domain.GovernanceCheck{
		ID:         g.newID(),
		DecisionID: dec.ID,
		CreatedAt:  g.now(),
	}

	// 1. Forbidden правила — всегда первыми
	for _, r := range bp.Rules {
		if r.Kind != domain.RuleForbidden {
			continue
		}
		if g.ruleMatches(r, dec, bp) {
			check.Classification = domain.ClassForbidden
			check.RequiresApproval = false
			check.Rationale = r.Rationale
			if check.Rationale == "" {
				check.Rationale = fmt.Sprintf("operation %q is forbidden by policy", dec.Action)
			}
			check.Alternatives = r.Alternatives

			g.logger.Warn("decision forbidden",
				zap.String("service", dec.ServiceName),
				zap.String("decision_id", dec.ID),
				zap.String("action", string(dec.Action)),
			)
			return check
		}
	}

	// 2. Restricted правила (HITL)
	for _, r := range bp.Rules {
		if r.Kind != domain.RuleRestricted {
			continue
		}
		if g.ruleMatches(r, dec, bp) {
			check.Classification = domain.ClassRestricted
			check.RequiresApproval = true
			check.Rationale = fmt.Sprintf("restricted by rule %q, approval required", r.Condition)
			check.Approvers = r.Approvers
			check.ApprovalTimeout = r.Timeout
			return check
		}
	}

	// 3. Allowed правила
	for _, r := range bp.Rules {
		if r.Kind != domain.RuleAllowed {
			continue
		}
		if g.ruleMatches(r, dec, bp) {
			check.Classification = domain.ClassAllowed
			check.Rationale = fmt.Sprintf("allowed by rule %q", r.Condition)
			return check
		}
	}

	// 4. Встроенный допуск: target в пределах [min, max]
	if dec.TargetReplicas >= bp.MinReplicas && dec.TargetReplicas <= bp.MaxReplicas {
		check.Classification = domain.ClassAllowed
		check.Rationale = fmt.Sprintf("target %d within replica bounds [%d, %d]",
			dec.TargetReplicas, bp.MinReplicas, bp.MaxReplicas)
		return check
	}

	// 5. Default Deny (fail closed, never fail open)
	check.Classification = domain.ClassForbidden
	check.Rationale = fmt.Sprintf("no authorizing rule for target %d outside bounds [%d, %d]",
		dec.TargetReplicas, bp.MinReplicas, bp.MaxReplicas)

	g.logger.Warn("decision denied by default",
		zap.String("service", dec.ServiceName),
		zap.String("decision_id", dec.ID),
		zap.Int("target", dec.TargetReplicas),
	)
	return check
}

// ruleMatches интерпретирует условие правила против Decision.
// Именованные предикаты вместо выражений — см. domain.Cond* константы.
func (g *GovernanceEnforcer) ruleMatches(r domain.Rule, dec *domain.Decision, bp *domain.Blueprint) bool {
	// Матч по действию: точный ("delete_deployment") или wildcard
	if r.Action != "" {
		if r.Action != "*" && r.Action != string(dec.Action) {
			return false
		}
		if r.Condition == "" {
			return true
		}
	}

	switch r.Condition {
	case domain.CondTargetAboveMax:
		return dec.TargetReplicas > bp.MaxReplicas
	case domain.CondTargetBelowMin:
		return dec.TargetReplicas < bp.MinReplicas
	case domain.CondLargeStep:
		return math.Abs(float64(dec.Delta())) >= r.Value
	case domain.CondWithinBounds:
		return dec.TargetReplicas >= bp.MinReplicas && dec.TargetReplicas <= bp.MaxReplicas
	default:
		// Неизвестное условие не матчится: правило молча пропускается,
		// классификация уйдет в default deny, если ничего больше не сработает
		g.logger.Warn("unknown rule condition", zap.String("condition", r.Condition))
		return false
	}
}
