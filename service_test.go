package actioncore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sk-go/actioncore/model/action"
	"github.com/sk-go/actioncore/policy"
	"github.com/sk-go/actioncore/service/approval"
	"github.com/sk-go/actioncore/service/event"
	"github.com/sk-go/actioncore/service/executor"
	"github.com/sk-go/actioncore/service/snapshot"
)

func fastConfig() *Config {
	config := DefaultConfig()
	config.Queue.PollInterval = 5 * time.Millisecond
	for i := range config.Queue.Definitions {
		config.Queue.Definitions[i].PollInterval = 5 * time.Millisecond
	}
	config.Retry.BackoffBase = time.Millisecond
	config.Retry.BackoffCap = 10 * time.Millisecond
	return config
}

func newTestService(t *testing.T, options ...Option) *Service {
	t.Helper()
	options = append([]Option{WithConfig(fastConfig())}, options...)
	service, err := New(options...)
	require.NoError(t, err)
	require.NoError(t, service.Start(context.Background()))
	t.Cleanup(service.Shutdown)
	return service
}

func succeedingExecutor() executor.Service {
	return executor.Func(func(_ context.Context, _ *action.Action) (*action.Result, error) {
		return &action.Result{
			Success:       true,
			Data:          map[string]interface{}{"delivered": true},
			ExecutionTime: time.Millisecond,
		}, nil
	})
}

// statusChanges collects the "to" side of status-change events for one
// action; execution happens on pool goroutines so access is guarded.
type statusChanges struct {
	mu       sync.Mutex
	actionID string
	to       []string
}

func (c *statusChanges) record(anEvent *event.Event) {
	if anEvent.ActionID != c.actionID {
		return
	}
	data, ok := anEvent.Data.(map[string]interface{})
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = append(c.to, data["to"].(string))
}

func (c *statusChanges) seen(status action.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, to := range c.to {
		if to == string(status) {
			return true
		}
	}
	return false
}

func waitForStatus(t *testing.T, service *Service, id string, status action.Status) *action.Action {
	t.Helper()
	var current *action.Action
	require.Eventually(t, func() bool {
		current, _ = service.GetAction(context.Background(), id)
		return current != nil && current.Status == status
	}, 2*time.Second, 5*time.Millisecond, "expected status %s, last seen %v", status, current)
	return current
}

func TestCreateActionValidation(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	_, err := service.CreateAction(ctx, nil)
	assert.Error(t, err)

	_, err = service.CreateAction(ctx, &CreateRequest{Type: "teleport"})
	assert.Error(t, err)

	_, err = service.CreateAction(ctx, &CreateRequest{
		Type:       action.TypeSendEmail,
		Parameters: map[string]interface{}{"to": "a@b.c"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject")
	assert.Contains(t, err.Error(), "content")
}

func TestCreateActionDefaults(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type: action.TypeSendEmail,
		Parameters: map[string]interface{}{
			"to": "client@example.com", "subject": "Quarterly review", "content": "Hello",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, action.StatusPending, a.Status)
	assert.Equal(t, action.RiskMedium, a.RiskLevel)
	assert.True(t, a.RequiresApproval, "send_email needs sign-off by default")
	assert.Equal(t, 30*time.Second, a.Timeout)
	assert.Equal(t, 3, a.MaxRetries)
	require.Len(t, a.AuditTrail, 1)
	assert.Equal(t, action.AuditCreated, a.AuditTrail[0].Event)

	// No client or CRM context: base 0.7 plus full parameter completeness.
	assert.InDelta(t, 0.75, a.Confidence, 1e-9)
}

func TestConfidence(t *testing.T) {
	fullContext := &action.Context{
		ClientID:    "c-1",
		Intent:      "schedule_review",
		CRMSnapshot: map[string]interface{}{"stage": "prospect"},
	}
	testCases := []struct {
		description   string
		actionType    action.Type
		parameters    map[string]interface{}
		actionContext *action.Context
		expect        float64
	}{
		{
			description: "bare parameters only",
			actionType:  action.TypeCreateTask,
			parameters:  map[string]interface{}{"title": "call back"},
			expect:      0.75,
		},
		{
			description:   "client id and CRM snapshot",
			actionType:    action.TypeUpdateCRM,
			parameters:    map[string]interface{}{"recordId": "r-1", "fields": map[string]interface{}{"stage": "won"}},
			actionContext: &action.Context{ClientID: "c-1", CRMSnapshot: map[string]interface{}{"stage": "open"}},
			expect:        0.95,
		},
		{
			description:   "everything present caps at 1.0",
			actionType:    action.TypeCreateTask,
			parameters:    map[string]interface{}{"title": "call back"},
			actionContext: fullContext,
			expect:        1.0,
		},
	}
	for _, testCase := range testCases {
		actual := confidenceFor(testCase.actionType, testCase.parameters, testCase.actionContext)
		assert.InDelta(t, testCase.expect, actual, 1e-9, testCase.description)
	}
}

func TestExecuteCompletesWithoutApproval(t *testing.T) {
	service := newTestService(t, WithExecutor(action.TypeUpdateCRM, succeedingExecutor()))
	ctx := context.Background()

	var executed int32
	service.Events().Subscribe(event.TopicActionExecuted, func(*event.Event) {
		atomic.AddInt32(&executed, 1)
	})

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type: action.TypeUpdateCRM,
		Parameters: map[string]interface{}{
			"recordId": "r-42", "fields": map[string]interface{}{"stage": "won"},
		},
		Context: &action.Context{ClientID: "c-1", CRMSnapshot: map[string]interface{}{"stage": "open"}},
	})
	require.NoError(t, err)
	assert.False(t, a.RequiresApproval)
	assert.InDelta(t, 0.95, a.Confidence, 1e-9)

	_, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)

	final := waitForStatus(t, service, a.ID, action.StatusCompleted)
	require.NotNil(t, final.Result)
	assert.True(t, final.Result.Success)
	assert.Greater(t, final.Result.ExecutionTime, time.Duration(0))
	assert.NotNil(t, final.ExecutedAt)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&executed) == 1
	}, time.Second, 5*time.Millisecond)

	events := make([]string, 0, len(final.AuditTrail))
	for _, entry := range final.AuditTrail {
		events = append(events, entry.Event)
	}
	assert.Contains(t, events, action.AuditCreated)
	assert.Contains(t, events, action.AuditQueued)
	assert.Contains(t, events, action.AuditExecutionStarted)
	assert.Contains(t, events, action.AuditExecuted)
	assert.GreaterOrEqual(t, len(events), 2)
}

func TestExecuteWaitsForApproval(t *testing.T) {
	service := newTestService(t, WithExecutor(action.TypeSendEmail, succeedingExecutor()))
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type:     action.TypeSendEmail,
		Priority: action.PriorityHigh,
		Parameters: map[string]interface{}{
			"to": "client@example.com", "subject": "Proposal", "content": "Draft attached",
		},
	})
	require.NoError(t, err)

	a, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusWaitingApproval, a.Status)

	pending, err := service.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ActionID)

	// A second execute call reuses the outstanding request.
	_, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)
	pending, _ = service.ListPendingApprovals(ctx)
	assert.Len(t, pending, 1)

	changes := &statusChanges{actionID: a.ID}
	service.Events().Subscribe(event.TopicActionStatusChange, changes.record)

	_, err = service.SubmitApproval(ctx, pending[0].ID, true, "supervisor-1", "looks good")
	require.NoError(t, err)

	final := waitForStatus(t, service, a.ID, action.StatusCompleted)
	assert.Equal(t, "high_priority", final.QueueID)
	assert.NotNil(t, final.ApprovedAt)
	assert.True(t, changes.seen(action.StatusApproved), "approval decision emits a status change")
}

func TestExecuteRejected(t *testing.T) {
	service := newTestService(t, WithExecutor(action.TypeSendEmail, succeedingExecutor()))
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type: action.TypeSendEmail,
		Parameters: map[string]interface{}{
			"to": "client@example.com", "subject": "Hi", "content": "…",
		},
	})
	require.NoError(t, err)
	_, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)

	pending, _ := service.ListPendingApprovals(ctx)
	require.Len(t, pending, 1)

	changes := &statusChanges{actionID: a.ID}
	service.Events().Subscribe(event.TopicActionStatusChange, changes.record)

	_, err = service.SubmitApproval(ctx, pending[0].ID, false, "supervisor-1", "wrong recipient")
	require.NoError(t, err)

	final := waitForStatus(t, service, a.ID, action.StatusRejected)
	assert.True(t, changes.seen(action.StatusRejected), "rejection emits a status change")
	last := final.AuditTrail[len(final.AuditTrail)-1]
	assert.Equal(t, action.AuditStatusChanged, last.Event)
	assert.Equal(t, string(action.StatusRejected), last.Details["to"])
	responded := final.AuditTrail[len(final.AuditTrail)-2]
	assert.Equal(t, action.AuditApprovalResponded, responded.Event)
	assert.Equal(t, false, responded.Details["approved"])

	_, err = service.ExecuteAction(ctx, a.ID)
	assert.ErrorIs(t, err, ErrActionTerminal)
}

func TestRetryThenSucceed(t *testing.T) {
	var attempts int32
	flaky := executor.Func(func(_ context.Context, _ *action.Action) (*action.Result, error) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			return &action.Result{Success: false, Error: "network_error: connection reset"}, nil
		}
		return &action.Result{Success: true, ExecutionTime: time.Millisecond}, nil
	})
	service := newTestService(t, WithExecutor(action.TypeCreateTask, flaky))
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type:       action.TypeCreateTask,
		Parameters: map[string]interface{}{"title": "follow up"},
	})
	require.NoError(t, err)
	_, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)

	final := waitForStatus(t, service, a.ID, action.StatusCompleted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, 2, final.RetryCount)

	var retriesScheduled int
	for _, entry := range final.AuditTrail {
		if entry.Event == action.AuditRetryScheduled {
			retriesScheduled++
		}
	}
	assert.Equal(t, 2, retriesScheduled)
}

func TestRetriesExhausted(t *testing.T) {
	var attempts int32
	failing := executor.Func(func(_ context.Context, _ *action.Action) (*action.Result, error) {
		atomic.AddInt32(&attempts, 1)
		return &action.Result{Success: false, Error: "temporary_failure"}, nil
	})
	maxRetries := 1
	service := newTestService(t, WithExecutor(action.TypeCreateTask, failing))
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type:       action.TypeCreateTask,
		Parameters: map[string]interface{}{"title": "follow up"},
		MaxRetries: &maxRetries,
	})
	require.NoError(t, err)
	_, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)

	final := waitForStatus(t, service, a.ID, action.StatusFailed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts), "initial attempt plus one retry")
	require.NotNil(t, final.Result)
	assert.False(t, final.Result.Success)
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	var attempts int32
	failing := executor.Func(func(_ context.Context, _ *action.Action) (*action.Result, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("validation failed: title too long")
	})
	service := newTestService(t, WithExecutor(action.TypeCreateTask, failing))
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type:       action.TypeCreateTask,
		Parameters: map[string]interface{}{"title": "follow up"},
	})
	require.NoError(t, err)
	_, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)

	final := waitForStatus(t, service, a.ID, action.StatusFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	assert.Zero(t, final.RetryCount)
}

func TestExecutionTimeout(t *testing.T) {
	slow := executor.Func(func(ctx context.Context, _ *action.Action) (*action.Result, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return &action.Result{Success: true}, nil
		}
	})
	maxRetries := 0
	service := newTestService(t, WithExecutor(action.TypeCreateTask, slow))
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type:       action.TypeCreateTask,
		Parameters: map[string]interface{}{"title": "slow"},
		Timeout:    20 * time.Millisecond,
		MaxRetries: &maxRetries,
	})
	require.NoError(t, err)
	_, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)

	waitForStatus(t, service, a.ID, action.StatusTimeout)
}

func TestMissingExecutorIsTerminal(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type:       action.TypeCreateTask,
		Parameters: map[string]interface{}{"title": "orphan"},
	})
	require.NoError(t, err)
	_, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)

	final := waitForStatus(t, service, a.ID, action.StatusFailed)
	assert.Zero(t, final.RetryCount, "missing executor is never retried")
}

func TestPolicy(t *testing.T) {
	service := newTestService(t, WithExecutor(action.TypeCreateTask, succeedingExecutor()))

	t.Run("deny mode blocks creation", func(t *testing.T) {
		ctx := policy.WithPolicy(context.Background(), &policy.Policy{Mode: policy.ModeDeny})
		_, err := service.CreateAction(ctx, &CreateRequest{
			Type:       action.TypeCreateTask,
			Parameters: map[string]interface{}{"title": "x"},
		})
		assert.ErrorIs(t, err, ErrPolicyDenied)
	})

	t.Run("block list blocks the type", func(t *testing.T) {
		ctx := policy.WithPolicy(context.Background(), &policy.Policy{
			BlockList: []action.Type{action.TypeCreateTask},
		})
		_, err := service.CreateAction(ctx, &CreateRequest{
			Type:       action.TypeCreateTask,
			Parameters: map[string]interface{}{"title": "x"},
		})
		assert.ErrorIs(t, err, ErrPolicyDenied)
	})

	t.Run("ask mode without callback forces approval", func(t *testing.T) {
		ctx := policy.WithPolicy(context.Background(), &policy.Policy{Mode: policy.ModeAsk})
		a, err := service.CreateAction(ctx, &CreateRequest{
			Type:       action.TypeCreateTask,
			Parameters: map[string]interface{}{"title": "x"},
		})
		require.NoError(t, err)
		assert.True(t, a.RequiresApproval)
	})

	t.Run("ask callback decides", func(t *testing.T) {
		ctx := policy.WithPolicy(context.Background(), &policy.Policy{
			Mode: policy.ModeAsk,
			Ask: func(context.Context, action.Type, map[string]interface{}, *policy.Policy) bool {
				return false
			},
		})
		_, err := service.CreateAction(ctx, &CreateRequest{
			Type:       action.TypeCreateTask,
			Parameters: map[string]interface{}{"title": "x"},
		})
		assert.ErrorIs(t, err, ErrPolicyDenied)
	})
}

func TestCancelAction(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type:       action.TypeCreateTask,
		Parameters: map[string]interface{}{"title": "stale"},
	})
	require.NoError(t, err)

	cancelledAction, err := service.CancelAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusCancelled, cancelledAction.Status)

	_, err = service.ExecuteAction(ctx, a.ID)
	assert.ErrorIs(t, err, ErrActionTerminal)
}

func TestApprovalRequestsMirrored(t *testing.T) {
	config := fastConfig()
	config.Mirror = MirrorConfig{Kind: MirrorFs, BaseURL: "mem://localhost/actioncore-approval-mirror"}
	service := newTestService(t,
		WithConfig(config),
		WithExecutor(action.TypeSendEmail, succeedingExecutor()),
	)
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type: action.TypeSendEmail,
		Parameters: map[string]interface{}{
			"to": "client@example.com", "subject": "Renewal", "content": "Draft",
		},
	})
	require.NoError(t, err)
	_, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)

	pending, _ := service.ListPendingApprovals(ctx)
	require.Len(t, pending, 1)
	requestID := pending[0].ID

	// The open request reaches the durable store through the async worker.
	var mirrored approval.Request
	require.Eventually(t, func() bool {
		return service.mirror.Load(ctx, snapshot.NamespaceApprovals, requestID, &mirrored) == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, a.ID, mirrored.ActionID)
	assert.Nil(t, mirrored.Response)

	_, err = service.SubmitApproval(ctx, requestID, true, "supervisor-1", "ok")
	require.NoError(t, err)
	waitForStatus(t, service, a.ID, action.StatusCompleted)

	// Resolution removes the snapshot so a restart does not re-arm it.
	require.Eventually(t, func() bool {
		var gone approval.Request
		return service.mirror.Load(ctx, snapshot.NamespaceApprovals, requestID, &gone) != nil
	}, 2*time.Second, 5*time.Millisecond)

	// The action snapshot itself stays.
	var mirroredAction action.Action
	require.Eventually(t, func() bool {
		return service.mirror.Load(ctx, snapshot.NamespaceActions, a.ID, &mirroredAction) == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCancelAbandonsExecution(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var attempts int32
	failing := executor.Func(func(_ context.Context, _ *action.Action) (*action.Result, error) {
		atomic.AddInt32(&attempts, 1)
		started <- struct{}{}
		<-release
		return nil, errors.New("network_error")
	})
	service := newTestService(t, WithExecutor(action.TypeUpdateCRM, failing))
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type:       action.TypeUpdateCRM,
		Parameters: map[string]interface{}{"recordId": "crm-1", "fields": map[string]interface{}{"stage": "won"}},
	})
	require.NoError(t, err)
	_, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)

	<-started
	cancelledAction, err := service.CancelAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusCancelled, cancelledAction.Status)
	close(release)

	// The in-flight attempt drains, but its retryable failure must neither
	// re-invoke the executor nor overwrite the cancelled status.
	assert.Never(t, func() bool {
		return atomic.LoadInt32(&attempts) > 1
	}, 100*time.Millisecond, 5*time.Millisecond)

	final, err := service.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, action.StatusCancelled, final.Status)
	last := final.AuditTrail[len(final.AuditTrail)-1]
	assert.Equal(t, action.AuditCancelled, last.Event)
}

func TestStyleAppliedToOutboundContent(t *testing.T) {
	styled := styleStub{prefix: "[styled] "}
	var seen string
	capture := executor.Func(func(_ context.Context, a *action.Action) (*action.Result, error) {
		seen, _ = a.Parameters["content"].(string)
		return &action.Result{Success: true, ExecutionTime: time.Millisecond}, nil
	})
	requiresApproval := false
	service := newTestService(t,
		WithExecutor(action.TypeSendEmail, capture),
		WithStyleService(styled),
	)
	ctx := context.Background()

	a, err := service.CreateAction(ctx, &CreateRequest{
		Type: action.TypeSendEmail,
		Parameters: map[string]interface{}{
			"to": "c@example.com", "subject": "Hi", "content": "plain text",
		},
		RequiresApproval: &requiresApproval,
	})
	require.NoError(t, err)
	_, err = service.ExecuteAction(ctx, a.ID)
	require.NoError(t, err)

	waitForStatus(t, service, a.ID, action.StatusCompleted)
	assert.Equal(t, "[styled] plain text", seen)
}

type styleStub struct{ prefix string }

func (s styleStub) MimicWritingStyle(_ context.Context, _, content, _ string) (string, error) {
	return s.prefix + content, nil
}

func TestBackoffDelay(t *testing.T) {
	config := RetryConfig{MaxRetries: 5, BackoffBase: time.Second, BackoffCap: 30 * time.Second}
	testCases := []struct {
		attempt int
		expect  time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, backoffDelay(config, testCase.attempt),
			fmt.Sprintf("attempt %d", testCase.attempt))
	}
}

func TestLoadConfigValidation(t *testing.T) {
	config := DefaultConfig()
	config.Retry.BackoffBase = 0
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.Mirror.Kind = "carrier_pigeon"
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.Mirror.Kind = MirrorFs
	assert.Error(t, config.Validate(), "fs mirror needs a base URL")
	config.Mirror.BaseURL = "mem://localhost/mirror"
	assert.NoError(t, config.Validate())
}
