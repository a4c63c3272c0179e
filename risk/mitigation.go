package risk

import "github.com/sk-go/actioncore/model/action"

// factorMitigations suggested when the named factor scores above the
// reporting threshold.
var factorMitigations = map[string]string{
	FactorDataSensitivity: "mask or remove sensitive client data before sending",
	FactorExternalImpact:  "reduce the recipient set or stage the rollout",
	FactorReversibility:   "hold the action in a review queue before dispatch",
	FactorCompliance:      "route through compliance review before execution",
	FactorCost:            "batch the operation or lower its frequency",
}

var typeMitigations = map[action.Type]string{
	action.TypeSendEmail:    "preview the rendered email before approval",
	action.TypeMakeCall:     "verify client consent for recorded calls",
	action.TypeSendDocument: "confirm the document version and signer list",
	action.TypeUpdateCRM:    "snapshot the record before applying field updates",
}

const mitigationThreshold = 0.6

// mitigations returns suggestions for every factor scoring above the
// threshold plus the type-specific hint, in factor order.
func mitigations(actionType action.Type, factors []*Factor) []string {
	var out []string
	for _, factor := range factors {
		if factor.Score <= mitigationThreshold {
			continue
		}
		if suggestion, ok := factorMitigations[factor.Name]; ok {
			out = append(out, suggestion)
		}
	}
	if suggestion, ok := typeMitigations[actionType]; ok {
		out = append(out, suggestion)
	}
	return out
}
