// Package queue implements the priority queue manager: named queues with an
// independent policy snapshot, a bounded in-flight counter per queue, a
// timer-driven poll loop and priority-scored dequeue with aging.
package queue

import (
	"time"

	"github.com/sk-go/actioncore/model/action"
)

// Well-known queue ids. The manager always provisions at least these four.
const (
	IDHighPriority     = "high_priority"
	IDStandard         = "standard"
	IDApprovalRequired = "approval_required"
	IDBackground       = "background"
)

// Definition is the per-queue policy snapshot.
type Definition struct {
	ID             string          `json:"id" yaml:"id"`
	Name           string          `json:"name" yaml:"name"`
	Priority       action.Priority `json:"priority" yaml:"priority"`
	MaxConcurrency int             `json:"maxConcurrency" yaml:"maxConcurrency"`
	PollInterval   time.Duration   `json:"pollInterval" yaml:"pollInterval"`
}

// Config holds queue manager settings.
type Config struct {
	// PollInterval is the default queue poll tick, used when a definition
	// does not override it.
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval"`
	Definitions  []Definition  `json:"queues" yaml:"queues"`
}

// DefaultConfig provisions the four standard queues.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		Definitions: []Definition{
			{ID: IDHighPriority, Name: "High priority", Priority: action.PriorityHigh, MaxConcurrency: 5},
			{ID: IDStandard, Name: "Standard", Priority: action.PriorityMedium, MaxConcurrency: 3},
			{ID: IDApprovalRequired, Name: "Approval required", Priority: action.PriorityHigh, MaxConcurrency: 2},
			{ID: IDBackground, Name: "Background", Priority: action.PriorityLow, MaxConcurrency: 1},
		},
	}
}

// Metrics is the rolling per-queue view. Running averages use a two-sample
// blend; treat them as an operational indicator, not a statistical
// guarantee.
type Metrics struct {
	Processed        uint64        `json:"processed"`
	Succeeded        uint64        `json:"succeeded"`
	Failed           uint64        `json:"failed"`
	SuccessRate      float64       `json:"successRate"`
	ErrorRate        float64       `json:"errorRate"`
	AvgExecutionTime time.Duration `json:"avgExecutionTime"`
	AvgWaitTime      time.Duration `json:"avgWaitTime"`
	Size             int           `json:"size"`
}

// RouteFor picks the default queue for an action: actions still awaiting
// approval go to approval_required, urgent and high priority work to
// high_priority, low-risk low-priority work to background, everything else
// to standard.
func RouteFor(a *action.Action) string {
	if a.RequiresApproval && !a.Approved() {
		return IDApprovalRequired
	}
	if a.Priority == action.PriorityUrgent || a.Priority == action.PriorityHigh {
		return IDHighPriority
	}
	if a.RiskLevel == action.RiskLow && a.Priority == action.PriorityLow {
		return IDBackground
	}
	return IDStandard
}
