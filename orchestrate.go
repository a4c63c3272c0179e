package actioncore

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sk-go/actioncore/model/action"
	"github.com/sk-go/actioncore/policy"
	"github.com/sk-go/actioncore/progress"
	"github.com/sk-go/actioncore/service/event"
	"github.com/sk-go/actioncore/tracing"
)

// CreateRequest describes a proposed action. Zero-value optional fields fall
// back to per-type defaults.
type CreateRequest struct {
	Type        action.Type            `json:"type"`
	Description string                 `json:"description,omitempty"`
	Priority    action.Priority        `json:"priority,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Context     *action.Context        `json:"context,omitempty"`

	// RequiresApproval overrides the per-type default when set.
	RequiresApproval *bool `json:"requiresApproval,omitempty"`
	// MaxRetries overrides the configured retry budget when set.
	MaxRetries *int `json:"maxRetries,omitempty"`
	// Timeout overrides the per-type execution timeout when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// CreateAction validates the request, applies the context policy, assigns
// the coarse risk level and confidence, and persists the new pending action.
func (s *Service) CreateAction(ctx context.Context, request *CreateRequest) (*action.Action, error) {
	ctx, span := tracing.StartSpan(ctx, "action.create", "INTERNAL")
	a, err := s.createAction(ctx, request)
	tracing.EndSpan(span, err)
	return a, err
}

func (s *Service) createAction(ctx context.Context, request *CreateRequest) (*action.Action, error) {
	if request == nil {
		return nil, fmt.Errorf("request is required")
	}
	if !action.Known(request.Type) {
		return nil, fmt.Errorf("unknown action type: %s", request.Type)
	}
	if missing := missingParameters(request.Type, request.Parameters); len(missing) > 0 {
		return nil, fmt.Errorf("missing required parameters for %s: %v", request.Type, missing)
	}

	forceApproval := false
	if p := policy.FromContext(ctx); p != nil {
		if !p.IsAllowed(request.Type) {
			return nil, fmt.Errorf("%w: %s is blocked", ErrPolicyDenied, request.Type)
		}
		switch p.Mode {
		case policy.ModeDeny:
			return nil, fmt.Errorf("%w: %s", ErrPolicyDenied, request.Type)
		case policy.ModeAsk:
			if p.Ask != nil {
				if !p.Ask(ctx, request.Type, request.Parameters, p) {
					return nil, fmt.Errorf("%w: %s", ErrPolicyDenied, request.Type)
				}
			} else {
				forceApproval = true
			}
		}
	}

	a := action.New(request.Type, request.Parameters, request.Context)
	a.Description = request.Description
	if request.Priority != "" {
		a.Priority = request.Priority
	}
	a.RiskLevel = action.InitialRiskLevel(request.Type)
	a.Confidence = confidenceFor(request.Type, request.Parameters, request.Context)
	a.Timeout = request.Timeout
	if a.Timeout <= 0 {
		a.Timeout = action.DefaultTimeout(request.Type)
	}
	a.MaxRetries = s.config.Retry.MaxRetries
	if request.MaxRetries != nil {
		a.MaxRetries = *request.MaxRetries
	}
	a.RequiresApproval = forceApproval || action.DefaultRequiresApproval(request.Type, request.Parameters)
	if request.RequiresApproval != nil {
		a.RequiresApproval = *request.RequiresApproval || forceApproval
	}

	a.Audit(action.AuditCreated, requestedBy(a), map[string]interface{}{
		"type":             string(a.Type),
		"priority":         string(a.Priority),
		"riskLevel":        string(a.RiskLevel),
		"confidence":       a.Confidence,
		"requiresApproval": a.RequiresApproval,
	})

	if err := s.actions.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to save action: %w", err)
	}
	s.mirrorAction(ctx, a)
	s.bus.Emit(ctx, event.TopicActionCreated, a.ID, map[string]interface{}{
		"type":     string(a.Type),
		"priority": string(a.Priority),
	})
	progress.UpdateCtx(ctx, progress.Delta{Total: 1})

	s.logger.WithFields(logrus.Fields{
		"action_id":  a.ID,
		"type":       a.Type,
		"priority":   a.Priority,
		"risk":       a.RiskLevel,
		"confidence": a.Confidence,
	}).Info("action created")
	return a, nil
}

// ExecuteAction moves a pending action forward: unapproved work that needs
// sign-off opens (or returns) an approval request, everything else is
// queued. Execution itself happens asynchronously when the queue dispatches
// the action. The approval gate never consumes the retry budget.
func (s *Service) ExecuteAction(ctx context.Context, id string) (*action.Action, error) {
	a, err := s.actions.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	if a.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrActionTerminal, id, a.Status)
	}

	if a.RequiresApproval && !a.Approved() {
		request, err := s.approvals.RequestApproval(ctx, a)
		if err != nil {
			return nil, err
		}
		a, err = s.queueManager.Mutate(ctx, a.ID, func(stored *action.Action) error {
			if stored.Status.IsTerminal() {
				return fmt.Errorf("%w: %s is %s", ErrActionTerminal, id, stored.Status)
			}
			*stored = *a
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.mirrorAction(ctx, a)
		if !a.Approved() {
			// Manual request opened; the approval_responded handler
			// queues the action once a decision lands.
			progress.UpdateCtx(ctx, progress.Delta{WaitingApproval: 1})
			s.logger.WithFields(logrus.Fields{
				"action_id":  a.ID,
				"request_id": request.ID,
			}).Info("action awaiting approval")
			return a, nil
		}
	}

	if err := s.queueManager.Enqueue(ctx, a, ""); err != nil {
		return nil, err
	}
	s.mirrorAction(ctx, a)
	progress.UpdateCtx(ctx, progress.Delta{Queued: 1})
	return a, nil
}

func missingParameters(actionType action.Type, parameters map[string]interface{}) []string {
	var missing []string
	for _, name := range action.RequiredParameters(actionType) {
		value, ok := parameters[name]
		if !ok || value == nil || value == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// confidenceFor scores how much context backs the proposed action: a 0.7
// base, 0.1 each for a known client and a CRM snapshot, 0.05 for an explicit
// intent and up to 0.05 for parameter completeness, capped at 1.0.
func confidenceFor(actionType action.Type, parameters map[string]interface{}, actionContext *action.Context) float64 {
	confidence := 0.7
	if actionContext != nil {
		if actionContext.ClientID != "" {
			confidence += 0.1
		}
		if len(actionContext.CRMSnapshot) > 0 {
			confidence += 0.1
		}
		if actionContext.Intent != "" {
			confidence += 0.05
		}
	}
	required := action.RequiredParameters(actionType)
	if len(required) == 0 {
		confidence += 0.05
	} else {
		provided := len(required) - len(missingParameters(actionType, parameters))
		confidence += 0.05 * float64(provided) / float64(len(required))
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

func requestedBy(a *action.Action) string {
	if a.Context != nil && a.Context.AgentID != "" {
		return a.Context.AgentID
	}
	return "system"
}
