package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sk-go/actioncore/model/action"
)

func emailAction(parameters map[string]interface{}, confidence float64) *action.Action {
	a := action.New(action.TypeSendEmail, parameters, nil)
	a.Confidence = confidence
	return a
}

func TestAssessDeterministic(t *testing.T) {
	a := emailAction(map[string]interface{}{
		"to":      []string{"client@example.com"},
		"subject": "Policy renewal",
		"content": "Your policy number and claim details are attached",
	}, 0.85)

	first := Assess(a)
	second := Assess(a)
	assert.Equal(t, first, second)
}

func TestFactorWeightsSumToOne(t *testing.T) {
	assessment := Assess(emailAction(map[string]interface{}{"to": []string{"a@example.com"}}, 0.9))
	assert.Len(t, assessment.Factors, 5)
	sum := 0.0
	for _, factor := range assessment.Factors {
		sum += factor.Weight
		assert.GreaterOrEqual(t, factor.Score, 0.0)
		assert.LessOrEqual(t, factor.Score, 1.0)
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestLevelThresholds(t *testing.T) {
	assert.Equal(t, action.RiskCritical, levelOf(0.8))
	assert.Equal(t, action.RiskHigh, levelOf(0.6))
	assert.Equal(t, action.RiskMedium, levelOf(0.4))
	assert.Equal(t, action.RiskLow, levelOf(0.39))
}

func TestAutoApprovalEligibility(t *testing.T) {
	lowRisk := &Assessment{
		Level: action.RiskLow,
		Score: 0.3,
		Factors: []*Factor{
			{Name: FactorDataSensitivity, Score: 0.2},
			{Name: FactorCompliance, Score: 0.2},
		},
	}
	assert.True(t, eligible(lowRisk, 0.8))
	assert.False(t, eligible(lowRisk, 0.79), "confidence below threshold")

	highScore := &Assessment{Level: action.RiskMedium, Score: 0.51}
	assert.False(t, eligible(highScore, 0.95), "score above 0.5")

	sensitive := &Assessment{
		Level:   action.RiskLow,
		Score:   0.3,
		Factors: []*Factor{{Name: FactorDataSensitivity, Score: 0.71}},
	}
	assert.False(t, eligible(sensitive, 0.95), "data sensitivity factor above 0.7")

	highLevel := &Assessment{Level: action.RiskHigh, Score: 0.3}
	assert.False(t, eligible(highLevel, 0.95))
}

func TestAutoApprovalMonotonicity(t *testing.T) {
	// With factors held fixed, lowering the score or raising the confidence
	// never flips eligibility from true to false.
	base := &Assessment{
		Level:   action.RiskMedium,
		Score:   0.45,
		Factors: []*Factor{{Name: FactorDataSensitivity, Score: 0.3}},
	}
	assert.True(t, eligible(base, 0.8))

	lowered := *base
	lowered.Score = 0.2
	lowered.Level = action.RiskLow
	assert.True(t, eligible(&lowered, 0.8))
	assert.True(t, eligible(&lowered, 0.99))
}

func TestBulkEmailScoresHigher(t *testing.T) {
	small := Assess(emailAction(map[string]interface{}{
		"to": []string{"a@example.com"},
	}, 0.9))
	bulk := Assess(emailAction(map[string]interface{}{
		"to": []string{
			"a@example.com", "b@example.com", "c@example.com", "d@example.com",
			"e@example.com", "f@example.com", "g@example.com",
		},
		"bulk": true,
	}, 0.9))
	assert.Greater(t, bulk.Score, small.Score)
	assert.False(t, bulk.AutoApprovalEligible)
}

func TestExposureFromTypedParams(t *testing.T) {
	email := emailAction(map[string]interface{}{
		"to": []interface{}{
			"a@example.com", "b@example.com", "c@example.com",
			"d@example.com", "e@example.com", "f@example.com",
		},
		"cc":   []string{"g@example.com"},
		"bulk": true,
	}, 0.9)
	reach := paramExposure(email)
	assert.Equal(t, 7, reach.recipients)
	assert.True(t, reach.bulk)

	document := action.New(action.TypeSendDocument, map[string]interface{}{
		"documentId": "doc-1",
		"recipients": []string{"a@example.com", "b@example.com"},
	}, nil)
	assert.Equal(t, 2, paramExposure(document).recipients)

	call := action.New(action.TypeMakeCall, map[string]interface{}{
		"phoneNumber": "+15550100", "script": "renewal reminder",
	}, nil)
	assert.Equal(t, 1, paramExposure(call).recipients)

	// A bare string recipient falls back to the untyped field scan.
	single := emailAction(map[string]interface{}{"to": "a@example.com"}, 0.9)
	assert.Equal(t, 1, paramExposure(single).recipients)
}

func TestSensitiveTermsInListValues(t *testing.T) {
	flat := emailAction(map[string]interface{}{
		"content": "meeting notes attached",
	}, 0.9)
	listed := emailAction(map[string]interface{}{
		"content": "meeting notes attached",
		"notes": []interface{}{
			"includes social security details",
			map[string]interface{}{"history": "prior claim records"},
		},
	}, 0.9)
	assert.Greater(t, sensitiveTermHits(listed.Parameters), sensitiveTermHits(flat.Parameters))
	assert.GreaterOrEqual(t, sensitiveTermHits(listed.Parameters), 2)
}

func TestSensitiveContentRaisesSensitivity(t *testing.T) {
	plain := Assess(emailAction(map[string]interface{}{
		"content": "See you at the office tomorrow",
	}, 0.9))
	sensitive := Assess(emailAction(map[string]interface{}{
		"content": "Your SSN and bank account details were updated",
	}, 0.9))

	plainFactor := plain.Factor(FactorDataSensitivity)
	sensitiveFactor := sensitive.Factor(FactorDataSensitivity)
	assert.Greater(t, sensitiveFactor.Score, plainFactor.Score)
}

func TestMitigationsGenerated(t *testing.T) {
	assessment := Assess(emailAction(map[string]interface{}{
		"to": []string{
			"a@example.com", "b@example.com", "c@example.com", "d@example.com",
			"e@example.com", "f@example.com", "g@example.com",
		},
		"content": "policy number and claim information enclosed",
		"bulk":    true,
	}, 0.9))
	assert.NotEmpty(t, assessment.Mitigations)
	assert.Contains(t, assessment.Mitigations, typeMitigations[action.TypeSendEmail])
}

func TestLowRiskCRMUpdateEligible(t *testing.T) {
	a := action.New(action.TypeUpdateCRM, map[string]interface{}{
		"recordId": "crm-1",
		"fields":   map[string]interface{}{"stage": "qualified"},
	}, nil)
	a.Confidence = 0.9

	assessment := Assess(a)
	assert.True(t, assessment.AutoApprovalEligible)
	assert.LessOrEqual(t, assessment.Score, 0.5)
}
