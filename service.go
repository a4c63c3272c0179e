package actioncore

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sk-go/actioncore/model/action"
	"github.com/sk-go/actioncore/progress"
	"github.com/sk-go/actioncore/service/approval"
	"github.com/sk-go/actioncore/service/dao"
	"github.com/sk-go/actioncore/service/dao/store"
	"github.com/sk-go/actioncore/service/event"
	"github.com/sk-go/actioncore/service/executor"
	"github.com/sk-go/actioncore/service/queue"
	"github.com/sk-go/actioncore/service/snapshot"
	"github.com/sk-go/actioncore/service/style"
)

var (
	// ErrActionNotFound indicates an unknown action id.
	ErrActionNotFound = errors.New("action not found")

	// ErrActionTerminal indicates an operation on an action that already
	// reached a terminal status.
	ErrActionTerminal = errors.New("action is terminal")

	// ErrPolicyDenied indicates that the execution policy blocked the
	// action at creation time.
	ErrPolicyDenied = errors.New("denied by policy")
)

// Service is the execution orchestrator: the single entry point that takes
// an action from creation through risk assessment, optional approval,
// queuing, execution with retries, and audit.
type Service struct {
	config *Config
	logger *logrus.Entry

	bus      *event.Service
	actions  dao.Service[string, action.Action]
	registry *executor.Registry
	style    style.Service

	approvals    *approval.Service
	queueManager *queue.Manager
	mirror       *snapshot.Mirror

	approvalOptions []approval.Option
	queueOptions    []queue.Option
}

// New creates a fully wired orchestrator.
func New(options ...Option) (*Service, error) {
	ret := &Service{
		config:   DefaultConfig(),
		logger:   logrus.WithField("component", "orchestrator"),
		registry: executor.NewRegistry(),
		style:    style.Nop{},
	}
	for _, option := range options {
		option(ret)
	}
	if err := ret.init(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) init() error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.bus == nil {
		s.bus = event.New()
	}
	if s.actions == nil {
		s.actions = store.NewMemoryStore[string, action.Action](func(a *action.Action) string { return a.ID })
	}

	s.approvals = approval.New(s.bus, append([]approval.Option{
		approval.WithConfig(s.config.Approval),
	}, s.approvalOptions...)...)

	var err error
	s.queueManager, err = queue.New(s.actions, s.bus, append([]queue.Option{
		queue.WithConfig(s.config.Queue),
		queue.WithDispatch(s.performExecution),
	}, s.queueOptions...)...)
	if err != nil {
		return err
	}

	if s.mirror == nil && s.config.Mirror.Kind != MirrorNone {
		kv, err := s.openMirrorStore()
		if err != nil {
			return err
		}
		s.mirror, err = snapshot.New(kv)
		if err != nil {
			return err
		}
	}

	s.bus.Subscribe(event.TopicApprovalResponded, s.onApprovalResponded)
	for _, topic := range []event.Topic{
		event.TopicApprovalRequested,
		event.TopicApprovalEscalated,
		event.TopicApprovalResponded,
		event.TopicActionAutoApproved,
	} {
		s.bus.Subscribe(topic, s.mirrorApproval)
	}
	return nil
}

func (s *Service) openMirrorStore() (dao.KV, error) {
	switch s.config.Mirror.Kind {
	case MirrorRedis:
		return store.NewRedisKV(s.config.Mirror.DSN, s.config.ServiceName)
	case MirrorFs:
		return store.NewFsKV(s.config.Mirror.BaseURL), nil
	}
	return nil, fmt.Errorf("unknown mirror kind: %s", s.config.Mirror.Kind)
}

// Start launches the queue poll loops and the snapshot worker, and re-arms
// approval deadlines left over from a previous run.
func (s *Service) Start(ctx context.Context) error {
	if s.mirror != nil {
		s.mirror.Start(ctx)
	}
	if err := s.approvals.Resume(ctx); err != nil {
		return err
	}
	return s.queueManager.Start(ctx)
}

// Shutdown stops the queue manager, approval timers and the snapshot
// worker. Pending work stays persisted and resumes on the next Start.
func (s *Service) Shutdown() {
	s.queueManager.Shutdown()
	s.approvals.Shutdown()
	if s.mirror != nil {
		s.mirror.Shutdown()
	}
}

// Events exposes the shared event bus.
func (s *Service) Events() *event.Service { return s.bus }

// Approvals exposes the approval workflow engine.
func (s *Service) Approvals() *approval.Service { return s.approvals }

// Queues exposes the queue manager for administration (pause, resume,
// clear, metrics).
func (s *Service) Queues() *queue.Manager { return s.queueManager }

// Registry exposes the executor registry.
func (s *Service) Registry() *executor.Registry { return s.registry }

// GetAction returns an action by id.
func (s *Service) GetAction(ctx context.Context, id string) (*action.Action, error) {
	a, err := s.actions.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	return a, nil
}

// ListActions returns stored actions, optionally filtered.
func (s *Service) ListActions(ctx context.Context, parameters ...*dao.Parameter) ([]*action.Action, error) {
	return s.actions.List(ctx, parameters...)
}

// CancelAction force-cancels an action unless it already reached a terminal
// status.
func (s *Service) CancelAction(ctx context.Context, id string) (*action.Action, error) {
	a, err := s.queueManager.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mirrorAction(ctx, a)
	progress.UpdateCtx(ctx, progress.Delta{Cancelled: 1})
	return a, nil
}

// SubmitApproval records a human decision for a pending approval request.
func (s *Service) SubmitApproval(ctx context.Context, requestID string, approved bool, approverID, reason string) (*approval.Request, error) {
	return s.approvals.ProcessResponse(ctx, requestID, &approval.Response{
		Approved:   approved,
		ApproverID: approverID,
		Reason:     reason,
	})
}

// ListPendingApprovals returns unresolved approval requests ordered by
// request time.
func (s *Service) ListPendingApprovals(ctx context.Context) ([]*approval.Request, error) {
	return s.approvals.ListPending(ctx)
}

// onApprovalResponded resumes or terminates an action after a decision. The
// approval engine records the decision; status transitions stay here.
func (s *Service) onApprovalResponded(anEvent *event.Event) {
	ctx := context.Background()
	request, ok := anEvent.Data.(*approval.Request)
	if !ok || request.Response == nil {
		return
	}
	a, err := s.queueManager.Mutate(ctx, request.ActionID, func(stored *action.Action) error {
		if stored.Status != action.StatusWaitingApproval {
			return fmt.Errorf("action %s is %s, decision ignored", request.ActionID, stored.Status)
		}
		stored.Audit(action.AuditApprovalResponded, request.Response.ApproverID, map[string]interface{}{
			"requestId": request.ID,
			"approved":  request.Response.Approved,
			"reason":    request.Response.Reason,
		})
		return nil
	})
	if err != nil || a == nil {
		return
	}

	if !request.Response.Approved {
		rejected, err := s.queueManager.UpdateActionStatus(ctx, a.ID, action.StatusRejected, nil)
		if err != nil {
			s.logger.WithError(err).WithField("action_id", a.ID).Error("failed to persist rejection")
			return
		}
		s.mirrorAction(ctx, rejected)
		s.logger.WithFields(logrus.Fields{"action_id": a.ID, "approver": request.Response.ApproverID}).Info("action rejected")
		return
	}

	approved, err := s.queueManager.UpdateActionStatus(ctx, a.ID, action.StatusApproved, nil)
	if err != nil {
		s.logger.WithError(err).WithField("action_id", a.ID).Error("failed to persist approval")
		return
	}
	if err := s.queueManager.Enqueue(ctx, approved, ""); err != nil {
		s.logger.WithError(err).WithField("action_id", a.ID).Error("failed to re-queue approved action")
		return
	}
	s.mirrorAction(ctx, approved)
}

// mirrorApproval keeps the durable store in step with the approval request
// lifecycle: open and escalated requests are written, resolved ones removed.
func (s *Service) mirrorApproval(anEvent *event.Event) {
	if s.mirror == nil {
		return
	}
	request, ok := anEvent.Data.(*approval.Request)
	if !ok {
		return
	}
	ctx := context.Background()
	var err error
	if request.Resolved() {
		err = s.mirror.RecordDelete(ctx, snapshot.NamespaceApprovals, request.ID)
	} else {
		err = s.mirror.Record(ctx, snapshot.NamespaceApprovals, request.ID, request)
	}
	if err != nil {
		s.logger.WithError(err).WithField("request_id", request.ID).Warn("approval mirror write failed")
	}
}

func (s *Service) mirrorAction(ctx context.Context, a *action.Action) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Record(ctx, snapshot.NamespaceActions, a.ID, a); err != nil {
		s.logger.WithError(err).WithField("action_id", a.ID).Warn("mirror write failed")
	}
}
