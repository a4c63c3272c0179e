package action

import (
	"strings"
	"time"

	"github.com/sk-go/actioncore/internal/clock"
	"github.com/sk-go/actioncore/internal/idgen"
)

// Audit event names recorded on the action trail.
const (
	AuditCreated           = "action_created"
	AuditQueued            = "action_queued"
	AuditStatusChanged     = "action_status_changed"
	AuditExecutionStarted  = "execution_started"
	AuditExecuted          = "action_executed"
	AuditFailed            = "action_failed"
	AuditCancelled         = "action_cancelled"
	AuditRetryScheduled    = "retry_scheduled"
	AuditApprovalRequested = "approval_requested"
	AuditApprovalResponded = "approval_responded"
	AuditApprovalEscalated = "approval_escalated"
	AuditAutoApproved      = "action_auto_approved"
)

// AuditEntry is a single immutable record of the action lifecycle. Entries
// are only ever appended, never reordered or mutated.
type AuditEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Event     string                 `json:"event"`
	Actor     string                 `json:"actor"`
	Details   map[string]interface{} `json:"details,omitempty"`
	IP        string                 `json:"ip,omitempty"`
	UserAgent string                 `json:"userAgent,omitempty"`
}

// Audit appends a new entry to the action trail. Detail values whose key
// names secret-bearing material are redacted before they are recorded.
func (a *Action) Audit(event, actor string, details map[string]interface{}) *AuditEntry {
	entry := &AuditEntry{
		ID:        idgen.New(),
		Timestamp: clock.Now(),
		Event:     event,
		Actor:     actor,
		Details:   Sanitize(details),
	}
	a.AuditTrail = append(a.AuditTrail, entry)
	return entry
}

// secretFragments are matched against lower-cased detail keys; any key that
// contains one of them has its value replaced.
var secretFragments = []string{"password", "token", "key", "secret"}

const redacted = "[REDACTED]"

// Sanitize returns a copy of details with secret-bearing values redacted.
// Nested maps are sanitized recursively.
func Sanitize(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if isSecretKey(k) {
			out[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = Sanitize(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSecretKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, fragment := range secretFragments {
		if strings.Contains(lowered, fragment) {
			return true
		}
	}
	return false
}
