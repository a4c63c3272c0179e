package approval

import (
	"time"

	"github.com/sk-go/actioncore/risk"
)

// RequestType classifies how a request was produced and resolved.
type RequestType string

const (
	TypeAutomatic   RequestType = "automatic"
	TypeManual      RequestType = "manual"
	TypeEscalated   RequestType = "escalated"
	TypeConditional RequestType = "conditional"
)

// Response records an approval decision.
type Response struct {
	Approved    bool      `json:"approved"`
	ApproverID  string    `json:"approverId"`
	Reason      string    `json:"reason,omitempty"`
	Conditions  []string  `json:"conditions,omitempty"`
	RespondedAt time.Time `json:"respondedAt"`
}

// Request is a request for human (or automatic) sign-off on one action.
// At most one unresolved request exists per action; once resolved the record
// persists for audit purposes.
type Request struct {
	ID          string           `json:"id"`
	ActionID    string           `json:"actionId"`
	Type        RequestType      `json:"type"`
	Assessment  *risk.Assessment `json:"riskAssessment"`
	RequestedBy string           `json:"requestedBy"`
	RequestedAt time.Time        `json:"requestedAt"`
	Timeout     time.Duration    `json:"timeout"`
	Approvers   []string         `json:"approvers"`
	Response    *Response        `json:"response,omitempty"`
	Escalated   bool             `json:"escalated"`
	Escalations int              `json:"escalations"`
}

// Resolved reports whether a decision has been recorded.
func (r *Request) Resolved() bool {
	return r.Response != nil
}

// Clone returns a copy of the request that escalation can widen without
// aliasing the original approver slice.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Approvers != nil {
		clone.Approvers = append([]string(nil), r.Approvers...)
	}
	return &clone
}

// Deadline returns the point at which the current approval window expires.
func (r *Request) Deadline() time.Time {
	return r.RequestedAt.Add(r.Timeout)
}
