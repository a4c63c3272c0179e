package risk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sk-go/actioncore/model/action"
)

// Heuristic scoring rules. Each factor scores 0..1 from the action type and
// parameter content: sensitive-term scanning, recipient counts and bulk
// flags. Rules are table driven so that scores stay deterministic.

// sensitiveTerms are scanned case-insensitively across all string parameter
// values.
var sensitiveTerms = []string{
	"ssn", "social security", "credit card", "bank account", "routing number",
	"medical", "diagnosis", "policy number", "date of birth", "salary",
	"beneficiary", "claim",
}

// exposure captures how far an action reaches outside the system: how many
// parties it touches and whether it is a bulk operation.
type exposure struct {
	recipients int
	bulk       bool
}

// paramExposure derives the exposure from the typed parameter view of the
// action type. Parameter bags that do not decode (for example a bare string
// where a list is expected) fall back to the untyped field scan.
func paramExposure(a *action.Action) exposure {
	switch a.Type {
	case action.TypeSendEmail, action.TypeSendNotification:
		if p, err := action.DecodeParams[action.EmailParams](a.Parameters); err == nil && len(p.To)+len(p.CC) > 0 {
			return exposure{recipients: len(p.To) + len(p.CC), bulk: p.Bulk}
		}
	case action.TypeSendDocument:
		if p, err := action.DecodeParams[action.DocumentParams](a.Parameters); err == nil && len(p.Recipients) > 0 {
			return exposure{recipients: len(p.Recipients), bulk: action.IsBulk(a.Parameters)}
		}
	case action.TypeScheduleMeeting:
		if p, err := action.DecodeParams[action.MeetingParams](a.Parameters); err == nil && len(p.Attendees) > 0 {
			return exposure{recipients: len(p.Attendees)}
		}
	case action.TypeMakeCall:
		if p, err := action.DecodeParams[action.CallParams](a.Parameters); err == nil && p.PhoneNumber != "" {
			return exposure{recipients: 1}
		}
	}
	return exposure{recipients: action.RecipientCount(a.Parameters), bulk: action.IsBulk(a.Parameters)}
}

func scoreDataSensitivity(a *action.Action) float64 {
	score := baseDataSensitivity(a.Type)
	hits := sensitiveTermHits(a.Parameters)
	score += 0.2 * float64(min(hits, 3))
	if paramExposure(a).bulk {
		score += 0.1
	}
	return clamp(score)
}

func baseDataSensitivity(t action.Type) float64 {
	switch t {
	case action.TypeSendDocument:
		return 0.5
	case action.TypeUpdateCRM:
		return 0.4
	case action.TypeSendEmail, action.TypeMakeCall:
		return 0.3
	case action.TypeSendNotification:
		return 0.2
	default:
		return 0.1
	}
}

func scoreExternalImpact(a *action.Action) float64 {
	score := baseExternalImpact(a.Type)
	reach := paramExposure(a)
	switch {
	case reach.recipients > 20:
		score += 0.4
	case reach.recipients > 5:
		score += 0.2
	case reach.recipients > 1:
		score += 0.1
	}
	if reach.bulk {
		score += 0.2
	}
	return clamp(score)
}

func baseExternalImpact(t action.Type) float64 {
	switch t {
	case action.TypeSendEmail, action.TypeMakeCall, action.TypeSendDocument:
		return 0.5
	case action.TypeSendNotification, action.TypeScheduleMeeting:
		return 0.3
	case action.TypeUpdateCRM:
		return 0.2
	default:
		return 0.1
	}
}

func scoreReversibility(a *action.Action) float64 {
	// Outbound communication cannot be unsent; record updates can be rolled
	// back.
	switch a.Type {
	case action.TypeSendEmail, action.TypeMakeCall, action.TypeSendDocument:
		return 0.9
	case action.TypeSendNotification:
		return 0.7
	case action.TypeScheduleMeeting:
		return 0.4
	case action.TypeUpdateCRM:
		return 0.3
	default:
		return 0.2
	}
}

func scoreCompliance(a *action.Action) float64 {
	score := 0.2
	if a.Type == action.TypeSendDocument || a.Type == action.TypeSendEmail {
		score = 0.3
	}
	hits := sensitiveTermHits(a.Parameters)
	score += 0.25 * float64(min(hits, 3))
	if paramExposure(a).bulk {
		// Bulk outreach is subject to marketing consent rules.
		score += 0.2
	}
	return clamp(score)
}

func scoreCost(a *action.Action) float64 {
	score := 0.1
	if a.Type == action.TypeMakeCall || a.Type == action.TypeGenerateContent {
		score = 0.3
	}
	recipients := paramExposure(a).recipients
	if recipients > 20 {
		score += 0.3
	} else if recipients > 5 {
		score += 0.1
	}
	return clamp(score)
}

// sensitiveTermHits counts distinct sensitive terms appearing in string
// parameter values.
func sensitiveTermHits(parameters map[string]interface{}) int {
	if len(parameters) == 0 {
		return 0
	}
	corpus := strings.ToLower(flatten(parameters))
	hits := 0
	for _, term := range sensitiveTerms {
		if strings.Contains(corpus, term) {
			hits++
		}
	}
	return hits
}

func flatten(parameters map[string]interface{}) string {
	keys := make([]string, 0, len(parameters))
	for key := range parameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for _, key := range keys {
		value := parameters[key]
		switch typed := value.(type) {
		case string:
			builder.WriteString(typed)
			builder.WriteByte(' ')
		case []string:
			builder.WriteString(strings.Join(typed, " "))
			builder.WriteByte(' ')
		case []interface{}:
			for _, element := range typed {
				switch item := element.(type) {
				case string:
					builder.WriteString(item)
					builder.WriteByte(' ')
				case map[string]interface{}:
					builder.WriteString(flatten(item))
				}
			}
		case map[string]interface{}:
			builder.WriteString(flatten(typed))
		case fmt.Stringer:
			builder.WriteString(typed.String())
			builder.WriteByte(' ')
		}
	}
	return builder.String()
}

func clamp(score float64) float64 {
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
