package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseBlueprint() *Blueprint {
	return &Blueprint{
		Service:              "checkout-api",
		MinReplicas:          2,
		MaxReplicas:          10,
		Weights:              UtilizationWeights{CPU: 0.5, Memory: 0.3, Latency: 0.2},
		TargetCPUUtilization: 0.65,
		LatencyTargetMs:      200,
		ScaleUpThreshold:     0.8,
		ScaleDownThreshold:   0.3,
	}
}

func TestBlueprintValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Blueprint)
		ok     bool
	}{
		{"valid", func(b *Blueprint) {}, true},
		{"empty service", func(b *Blueprint) { b.Service = "" }, false},
		{"min above max", func(b *Blueprint) { b.MinReplicas = 12 }, false},
		{"zero max", func(b *Blueprint) { b.MaxReplicas = 0 }, false},
		{"weights do not sum to one", func(b *Blueprint) { b.Weights.CPU = 0.9 }, false},
		{"target cpu out of range", func(b *Blueprint) { b.TargetCPUUtilization = 1.5 }, false},
		{"thresholds inverted", func(b *Blueprint) { b.ScaleDownThreshold = 0.9 }, false},
		{"restricted rule without approvers", func(b *Blueprint) {
			b.Rules = []Rule{{Kind: RuleRestricted, Condition: CondTargetAboveMax, Timeout: time.Hour}}
		}, false},
		{"restricted rule without timeout", func(b *Blueprint) {
			b.Rules = []Rule{{Kind: RuleRestricted, Condition: CondTargetAboveMax, Approvers: []string{"sre"}}}
		}, false},
		{"forbidden rule without target", func(b *Blueprint) {
			b.Rules = []Rule{{Kind: RuleForbidden}}
		}, false},
		{"unknown rule kind", func(b *Blueprint) {
			b.Rules = []Rule{{Kind: RuleKind("advisory"), Condition: CondWithinBounds}}
		}, false},
		{"bad check operator", func(b *Blueprint) {
			b.VerificationChecks = []VerificationCheck{{Name: "latency_p95", Operator: "<=", Target: 250}}
		}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bp := baseBlueprint()
			tc.mutate(bp)
			err := bp.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrBlueprintInvalid)
			}
		})
	}
}

func TestBlueprintCloneIsDeep(t *testing.T) {
	bp := baseBlueprint()
	bp.Rules = []Rule{{
		Kind:         RuleForbidden,
		Action:       "delete_deployment",
		Alternatives: []Alternative{{Action: "scale_down", Description: "reduce replicas"}},
		Approvers:    []string{"sre-oncall"},
	}}
	bp.VerificationChecks = []VerificationCheck{{Name: "latency_p95", Operator: "<", Target: 250}}

	cp := bp.Clone()
	cp.MaxReplicas = 99
	cp.Rules[0].Action = "mutated"
	cp.Rules[0].Alternatives[0].Action = "mutated"
	cp.Rules[0].Approvers[0] = "mutated"
	cp.VerificationChecks[0].Target = 1

	require.Equal(t, 10, bp.MaxReplicas)
	assert.Equal(t, "delete_deployment", bp.Rules[0].Action)
	assert.Equal(t, "scale_down", bp.Rules[0].Alternatives[0].Action)
	assert.Equal(t, "sre-oncall", bp.Rules[0].Approvers[0])
	assert.Equal(t, 250.0, bp.VerificationChecks[0].Target)
}
