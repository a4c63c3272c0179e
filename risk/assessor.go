// Package risk implements the weighted risk model that decides whether a
// proposed action may run unattended. Assessment is a pure function of the
// action type, parameters and confidence: identical inputs always yield an
// identical assessment, which keeps the model trivially testable.
package risk

import (
	"github.com/sk-go/actioncore/model/action"
)

// Factor names of the five standard risk dimensions.
const (
	FactorDataSensitivity = "data_sensitivity"
	FactorExternalImpact  = "external_impact"
	FactorReversibility   = "reversibility"
	FactorCompliance      = "compliance"
	FactorCost            = "cost"
)

// Factor weights. They must sum to 1.0 across the five standard factors.
const (
	weightDataSensitivity = 0.25
	weightExternalImpact  = 0.30
	weightReversibility   = 0.20
	weightCompliance      = 0.15
	weightCost            = 0.10
)

// Factor is one weighted dimension contributing to the overall score.
type Factor struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight"`
	Category string  `json:"category"`
}

// Assessment is the outcome of scoring an action.
type Assessment struct {
	Level                action.RiskLevel `json:"level"`
	Score                float64          `json:"score"`
	Factors              []*Factor        `json:"factors"`
	Mitigations          []string         `json:"mitigations,omitempty"`
	AutoApprovalEligible bool             `json:"autoApprovalEligible"`
}

// Factor lookup by name; returns nil when absent.
func (a *Assessment) Factor(name string) *Factor {
	for _, factor := range a.Factors {
		if factor.Name == name {
			return factor
		}
	}
	return nil
}

// Assess computes the weighted risk assessment for an action. The function
// has no side effects and is deterministic: factors are produced in a fixed
// order and all scoring rules are pure.
func Assess(a *action.Action) *Assessment {
	factors := []*Factor{
		{Name: FactorDataSensitivity, Weight: weightDataSensitivity, Category: "security", Score: scoreDataSensitivity(a)},
		{Name: FactorExternalImpact, Weight: weightExternalImpact, Category: "business", Score: scoreExternalImpact(a)},
		{Name: FactorReversibility, Weight: weightReversibility, Category: "operational", Score: scoreReversibility(a)},
		{Name: FactorCompliance, Weight: weightCompliance, Category: "legal", Score: scoreCompliance(a)},
		{Name: FactorCost, Weight: weightCost, Category: "financial", Score: scoreCost(a)},
	}

	score := 0.0
	for _, factor := range factors {
		score += factor.Score * factor.Weight
	}

	ret := &Assessment{
		Level:       levelOf(score),
		Score:       score,
		Factors:     factors,
		Mitigations: mitigations(a.Type, factors),
	}
	ret.AutoApprovalEligible = eligible(ret, a.Confidence)
	return ret
}

// levelOf maps a weighted score to a risk level: ≥0.8 critical, ≥0.6 high,
// ≥0.4 medium, else low.
func levelOf(score float64) action.RiskLevel {
	switch {
	case score >= 0.8:
		return action.RiskCritical
	case score >= 0.6:
		return action.RiskHigh
	case score >= 0.4:
		return action.RiskMedium
	default:
		return action.RiskLow
	}
}

// eligible applies the auto-approval rule: level low or medium, confidence at
// least 0.8, score at most 0.5 and neither the data sensitivity nor the
// compliance factor above 0.7.
func eligible(a *Assessment, confidence float64) bool {
	if a.Level != action.RiskLow && a.Level != action.RiskMedium {
		return false
	}
	if confidence < 0.8 || a.Score > 0.5 {
		return false
	}
	for _, name := range []string{FactorDataSensitivity, FactorCompliance} {
		if factor := a.Factor(name); factor != nil && factor.Score > 0.7 {
			return false
		}
	}
	return true
}
