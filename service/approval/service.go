// Package approval implements the human-in-the-loop workflow that gates
// risky actions. It runs the risk assessor, auto-approves eligible actions,
// manages approver sets, deadline timers and bounded escalation, and records
// every decision for audit.
package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sk-go/actioncore/internal/clock"
	"github.com/sk-go/actioncore/internal/idgen"
	"github.com/sk-go/actioncore/model/action"
	"github.com/sk-go/actioncore/risk"
	"github.com/sk-go/actioncore/service/dao"
	"github.com/sk-go/actioncore/service/dao/store"
	"github.com/sk-go/actioncore/service/event"
)

// Approver roles recognised by the workflow.
const (
	RoleSupervisor        = "supervisor"
	RoleManager           = "manager"
	RoleDirector          = "director"
	RoleComplianceOfficer = "compliance_officer"
	RoleSystem            = "system"
)

// complianceEscalationThreshold adds the compliance officer to the approver
// set when the compliance factor exceeds it.
const complianceEscalationThreshold = 0.5

// Config holds approval workflow settings.
type Config struct {
	// MaxEscalations bounds how many times an unanswered request is
	// escalated before it is auto-rejected.
	MaxEscalations int `json:"maxEscalations" yaml:"maxEscalations"`
}

// DefaultConfig returns the default workflow configuration.
func DefaultConfig() Config {
	return Config{MaxEscalations: 3}
}

// Service is the approval workflow engine.
type Service struct {
	config      Config
	requests    dao.Service[string, Request]
	bus         *event.Service
	timeoutFunc TimeoutFunc
	logger      *logrus.Entry

	mu      sync.Mutex
	pending map[string]*Request

	// timerFactory is swapped in tests to avoid real waiting.
	timers map[string]*time.Timer
}

// Option customises the service.
type Option func(*Service)

// WithConfig overrides the default configuration.
func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

// WithRequestDAO overrides the request repository (memory by default).
func WithRequestDAO(requests dao.Service[string, Request]) Option {
	return func(s *Service) { s.requests = requests }
}

// WithTimeoutFunc overrides the priority×risk timeout matrix.
func WithTimeoutFunc(fn TimeoutFunc) Option {
	return func(s *Service) { s.timeoutFunc = fn }
}

// WithLogger overrides the service logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates an approval service publishing to the supplied bus.
func New(bus *event.Service, options ...Option) *Service {
	ret := &Service{
		config:      DefaultConfig(),
		bus:         bus,
		timeoutFunc: DefaultTimeout,
		logger:      logrus.WithField("component", "approval"),
		pending:     make(map[string]*Request),
		timers:      make(map[string]*time.Timer),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.requests == nil {
		ret.requests = store.NewMemoryStore[string, Request](func(r *Request) string { return r.ID })
	}
	return ret
}

// RequestApproval runs the full risk assessment and either auto-approves
// the action or opens a manual request with an armed deadline timer. At most
// one unresolved request exists per action; a repeated call returns the
// outstanding one.
func (s *Service) RequestApproval(ctx context.Context, a *action.Action) (*Request, error) {
	if a == nil {
		return nil, fmt.Errorf("action is required")
	}

	s.mu.Lock()
	for _, outstanding := range s.pending {
		if outstanding.ActionID == a.ID {
			s.mu.Unlock()
			return outstanding, nil
		}
	}
	s.mu.Unlock()

	assessment := risk.Assess(a)
	a.RiskLevel = assessment.Level
	a.Touch()

	if assessment.AutoApprovalEligible {
		return s.autoApprove(ctx, a, assessment)
	}

	request := &Request{
		ID:          idgen.New(),
		ActionID:    a.ID,
		Type:        TypeManual,
		Assessment:  assessment,
		RequestedBy: requestedBy(a),
		RequestedAt: clock.Now(),
		Timeout:     s.timeoutFunc(a.Priority, assessment.Level),
		Approvers:   approversFor(assessment),
	}

	a.Status = action.StatusWaitingApproval
	a.ApprovalRequestID = request.ID
	a.Touch()
	a.Audit(action.AuditApprovalRequested, RoleSystem, map[string]interface{}{
		"requestId": request.ID,
		"riskLevel": string(assessment.Level),
		"riskScore": assessment.Score,
		"approvers": request.Approvers,
		"timeout":   request.Timeout.String(),
	})

	if err := s.requests.Save(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to save approval request: %w", err)
	}

	s.mu.Lock()
	s.pending[request.ID] = request
	s.armTimerLocked(request.ID, request.Timeout)
	s.mu.Unlock()

	s.bus.Emit(ctx, event.TopicApprovalRequested, a.ID, request)
	s.logger.WithFields(logrus.Fields{
		"action_id":  a.ID,
		"request_id": request.ID,
		"risk":       assessment.Level,
		"timeout":    request.Timeout,
	}).Info("approval requested")
	return request, nil
}

// autoApprove synthesizes a pre-approved automatic request: no timer is
// armed and the action moves straight to approved.
func (s *Service) autoApprove(ctx context.Context, a *action.Action, assessment *risk.Assessment) (*Request, error) {
	now := clock.Now()
	request := &Request{
		ID:          idgen.New(),
		ActionID:    a.ID,
		Type:        TypeAutomatic,
		Assessment:  assessment,
		RequestedBy: requestedBy(a),
		RequestedAt: now,
		Approvers:   []string{RoleSystem},
		Response: &Response{
			Approved:    true,
			ApproverID:  RoleSystem,
			Reason:      "auto-approved: risk and confidence within thresholds",
			RespondedAt: now,
		},
	}

	a.Status = action.StatusApproved
	a.ApprovalRequestID = request.ID
	a.ApprovedAt = &now
	a.Touch()
	a.Audit(action.AuditAutoApproved, RoleSystem, map[string]interface{}{
		"requestId": request.ID,
		"riskScore": assessment.Score,
		"riskLevel": string(assessment.Level),
	})

	if err := s.requests.Save(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to save approval request: %w", err)
	}
	s.bus.Emit(ctx, event.TopicActionAutoApproved, a.ID, request)
	return request, nil
}

// ProcessResponse records a decision, clears the deadline timer and removes
// the request from the pending set. It deliberately does not change the
// action status: the orchestrator subscribes to approval_responded and
// either re-queues or terminates the action.
func (s *Service) ProcessResponse(ctx context.Context, requestID string, response *Response) (*Request, error) {
	if response == nil {
		return nil, fmt.Errorf("response is required")
	}

	s.mu.Lock()
	request, ok := s.pending[requestID]
	if !ok {
		s.mu.Unlock()
		if existing, _ := s.requests.Load(ctx, requestID); existing != nil && existing.Resolved() {
			return nil, ErrAlreadyDecided
		}
		return nil, ErrNotFound
	}
	if response.RespondedAt.IsZero() {
		response.RespondedAt = clock.Now()
	}
	request.Response = response
	s.clearTimerLocked(requestID)
	delete(s.pending, requestID)
	s.mu.Unlock()

	// The resolved record persists attached to the action history.
	if err := s.requests.Save(ctx, request); err != nil {
		return nil, fmt.Errorf("failed to save approval decision: %w", err)
	}

	s.bus.Emit(ctx, event.TopicApprovalResponded, request.ActionID, request)
	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"action_id":  request.ActionID,
		"approved":   response.Approved,
		"approver":   response.ApproverID,
	}).Info("approval decision recorded")
	return request, nil
}

// ListPending returns unresolved requests ordered by request time.
func (s *Service) ListPending(_ context.Context) ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, 0, len(s.pending))
	for _, request := range s.pending {
		out = append(out, request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// Get returns a request by id, resolved or not.
func (s *Service) Get(ctx context.Context, requestID string) (*Request, error) {
	request, err := s.requests.Load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, ErrNotFound
	}
	return request, nil
}

// Resume re-arms timers for unresolved requests after a restart. The
// remaining window is recomputed from the original deadline so that a
// restart never extends an approval indefinitely; already expired requests
// escalate immediately.
func (s *Service) Resume(ctx context.Context) error {
	all, err := s.requests.List(ctx)
	if err != nil {
		return err
	}
	now := clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, request := range all {
		if request.Resolved() {
			continue
		}
		if _, exists := s.pending[request.ID]; exists {
			continue
		}
		s.pending[request.ID] = request
		remaining := request.Deadline().Sub(now)
		if remaining <= 0 {
			go s.handleTimeout(request.ID)
			continue
		}
		s.armTimerLocked(request.ID, remaining)
	}
	return nil
}

// Shutdown stops all armed timers. Pending requests stay unresolved.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.timers {
		s.clearTimerLocked(id)
	}
}

// handleTimeout fires when an approval window elapses with no response. The
// request escalates with a doubled window; after MaxEscalations it is
// auto-rejected so that an unanswered request can not loop forever.
func (s *Service) handleTimeout(requestID string) {
	ctx := context.Background()

	s.mu.Lock()
	request, ok := s.pending[requestID]
	if !ok || request.Resolved() {
		s.mu.Unlock()
		return
	}
	s.clearTimerLocked(requestID)

	request.Escalations++
	if request.Escalations > s.config.MaxEscalations {
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"request_id":  requestID,
			"action_id":   request.ActionID,
			"escalations": request.Escalations - 1,
		}).Warn("approval unanswered, auto-rejecting")
		_, _ = s.ProcessResponse(ctx, requestID, &Response{
			Approved:   false,
			ApproverID: RoleSystem,
			Reason:     fmt.Sprintf("auto-rejected after %d unanswered escalations", s.config.MaxEscalations),
		})
		return
	}

	request.Escalated = true
	request.Type = TypeEscalated
	request.Timeout *= 2
	request.Approvers = widen(request.Approvers)
	s.armTimerLocked(requestID, request.Timeout)
	s.mu.Unlock()

	_ = s.requests.Save(ctx, request)
	s.bus.Emit(ctx, event.TopicApprovalEscalated, request.ActionID, request)
	s.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"action_id":  request.ActionID,
		"escalation": request.Escalations,
		"timeout":    request.Timeout,
	}).Warn("approval escalated")
}

func (s *Service) armTimerLocked(requestID string, timeout time.Duration) {
	s.timers[requestID] = time.AfterFunc(timeout, func() { s.handleTimeout(requestID) })
}

func (s *Service) clearTimerLocked(requestID string) {
	if timer, ok := s.timers[requestID]; ok {
		timer.Stop()
		delete(s.timers, requestID)
	}
}

// approversFor builds the approver role set: supervisor always, manager for
// high or critical risk, director for critical risk, and the compliance
// officer when the compliance factor exceeds 0.5.
func approversFor(assessment *risk.Assessment) []string {
	approvers := []string{RoleSupervisor}
	if assessment.Level == action.RiskHigh || assessment.Level == action.RiskCritical {
		approvers = append(approvers, RoleManager)
	}
	if assessment.Level == action.RiskCritical {
		approvers = append(approvers, RoleDirector)
	}
	if factor := assessment.Factor(risk.FactorCompliance); factor != nil && factor.Score > complianceEscalationThreshold {
		approvers = append(approvers, RoleComplianceOfficer)
	}
	return approvers
}

// widen adds the next role in the escalation chain.
func widen(approvers []string) []string {
	for _, role := range []string{RoleManager, RoleDirector} {
		if !contains(approvers, role) {
			return append(approvers, role)
		}
	}
	return approvers
}

func contains(roles []string, role string) bool {
	for _, candidate := range roles {
		if candidate == role {
			return true
		}
	}
	return false
}

func requestedBy(a *action.Action) string {
	if a.Context != nil && a.Context.AgentID != "" {
		return a.Context.AgentID
	}
	return RoleSystem
}
