package approval

import (
	"time"

	"github.com/sk-go/actioncore/model/action"
)

// Base approval windows per action priority.
var baseTimeouts = map[action.Priority]time.Duration{
	action.PriorityUrgent: 5 * time.Minute,
	action.PriorityHigh:   15 * time.Minute,
	action.PriorityMedium: 30 * time.Minute,
	action.PriorityLow:    60 * time.Minute,
}

// TimeoutFunc computes the approval window from the priority×risk matrix.
type TimeoutFunc func(priority action.Priority, level action.RiskLevel) time.Duration

// DefaultTimeout is the standard matrix: priority base, doubled for critical
// risk, halved for low risk.
func DefaultTimeout(priority action.Priority, level action.RiskLevel) time.Duration {
	base, ok := baseTimeouts[priority]
	if !ok {
		base = baseTimeouts[action.PriorityMedium]
	}
	switch level {
	case action.RiskCritical:
		return base * 2
	case action.RiskLow:
		return base / 2
	}
	return base
}
