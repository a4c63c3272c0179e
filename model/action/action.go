package action

import (
	"time"

	"github.com/sk-go/actioncore/internal/clock"
	"github.com/sk-go/actioncore/internal/idgen"
)

// Type identifies the kind of side effect an action performs.
type Type string

const (
	TypeSendEmail        Type = "send_email"
	TypeMakeCall         Type = "make_call"
	TypeScheduleMeeting  Type = "schedule_meeting"
	TypeUpdateCRM        Type = "update_crm"
	TypeCreateTask       Type = "create_task"
	TypeSendDocument     Type = "send_document"
	TypeSendNotification Type = "send_notification"
	TypeGenerateContent  Type = "generate_content"
)

// Status represents the lifecycle state of an action.
type Status string

const (
	StatusPending         Status = "pending"
	StatusQueued          Status = "queued"
	StatusWaitingApproval Status = "waiting_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusExecuting       Status = "executing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusTimeout         Status = "timeout"
	StatusCancelled       Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// transitions holds the allowed forward edges of the status state machine.
// Cancellation is handled separately: any non-terminal status may move to
// cancelled.
var transitions = map[Status][]Status{
	StatusPending:         {StatusQueued, StatusWaitingApproval},
	StatusWaitingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusQueued},
	StatusQueued:          {StatusExecuting},
	StatusExecuting:       {StatusCompleted, StatusFailed, StatusTimeout},
}

// CanTransition reports whether moving from s to next is a legal state
// machine edge.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Priority ranks actions for scheduling.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Weight returns the dequeue score tier for the priority (urgent 4 … low 1).
func (p Priority) Weight() float64 {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// RiskLevel represents the overall risk classification of an action.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels, low=1 … critical=4.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	default:
		return 1
	}
}

// Context carries the conversational and CRM state an action was proposed in.
type Context struct {
	SessionID   string                 `json:"sessionId,omitempty"`
	AgentID     string                 `json:"agentId,omitempty"`
	ClientID    string                 `json:"clientId,omitempty"`
	Intent      string                 `json:"intent,omitempty"`
	CRMSnapshot map[string]interface{} `json:"crmSnapshot,omitempty"`
}

// Result captures the outcome of a single executor invocation.
type Result struct {
	Success       bool                   `json:"success"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ExecutionTime time.Duration          `json:"executionTime"`
	Confidence    float64                `json:"confidence,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Action is the unit of agent work moving through risk assessment, optional
// approval, queuing and execution. Fields are mutated only through the
// orchestrator and the queue manager; the audit trail is append-only.
type Action struct {
	ID          string   `json:"id"`
	Type        Type     `json:"type"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status"`
	Priority    Priority `json:"priority"`

	RiskLevel  RiskLevel `json:"riskLevel"`
	Confidence float64   `json:"confidence"`

	RequiresApproval  bool   `json:"requiresApproval"`
	ApprovalRequestID string `json:"approvalRequestId,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	ExecutedAt  *time.Time `json:"executedAt,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`

	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Context    *Context               `json:"context,omitempty"`
	Result     *Result                `json:"result,omitempty"`

	AuditTrail []*AuditEntry `json:"auditTrail,omitempty"`

	RetryCount int           `json:"retryCount"`
	MaxRetries int           `json:"maxRetries"`
	Timeout    time.Duration `json:"timeout"`

	QueueID string `json:"queueId,omitempty"`
}

// New creates a pending action with a generated id and creation timestamps.
func New(actionType Type, parameters map[string]interface{}, actionContext *Context) *Action {
	now := clock.Now()
	return &Action{
		ID:         idgen.New(),
		Type:       actionType,
		Status:     StatusPending,
		Priority:   PriorityMedium,
		Parameters: parameters,
		Context:    actionContext,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Approved reports whether the action has received a positive approval
// decision.
func (a *Action) Approved() bool {
	return a.ApprovedAt != nil
}

// Touch refreshes the UpdatedAt timestamp.
func (a *Action) Touch() {
	a.UpdatedAt = clock.Now()
}

// Clone returns a deep copy of the action so that callers can mutate it
// without affecting the original. Audit entries are immutable and therefore
// shared.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Parameters != nil {
		clone.Parameters = make(map[string]interface{}, len(a.Parameters))
		for k, v := range a.Parameters {
			clone.Parameters[k] = v
		}
	}
	if a.AuditTrail != nil {
		clone.AuditTrail = append([]*AuditEntry(nil), a.AuditTrail...)
	}
	return &clone
}
