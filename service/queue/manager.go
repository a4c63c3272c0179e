package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sk-go/actioncore/internal/clock"
	"github.com/sk-go/actioncore/model/action"
	"github.com/sk-go/actioncore/service/dao"
	"github.com/sk-go/actioncore/service/event"
)

var (
	// ErrQueueNotFound indicates an unknown queue id. Programmer-error
	// class: fatal to the calling request, never retried.
	ErrQueueNotFound = errors.New("queue: queue not found")

	// ErrActionNotFound indicates an unknown action id.
	ErrActionNotFound = errors.New("queue: action not found")

	// ErrInvalidTransition indicates a status change that violates the
	// action state machine.
	ErrInvalidTransition = errors.New("queue: invalid status transition")
)

// Dispatch hands a ready action to the orchestrator for execution. The
// manager decrements the owning queue's in-flight counter when it returns.
type Dispatch func(ctx context.Context, a *action.Action)

type member struct {
	id         string
	enqueuedAt time.Time
}

type state struct {
	definition Definition
	members    []member
	inFlight   int
	paused     bool
	metrics    Metrics
}

// Manager owns the named queues, their poll loops and the single mutator of
// action status.
type Manager struct {
	config    Config
	actions   dao.Service[string, action.Action]
	dispatch  Dispatch
	bus       *event.Service
	collector *Collector
	logger    *logrus.Entry

	mu     sync.Mutex
	queues map[string]*state

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option customises the manager.
type Option func(*Manager)

// WithConfig overrides the default queue set and poll interval.
func WithConfig(config Config) Option {
	return func(m *Manager) { m.config = config }
}

// WithDispatch sets the execution hand-off. Required.
func WithDispatch(dispatch Dispatch) Option {
	return func(m *Manager) { m.dispatch = dispatch }
}

// WithCollector attaches a Prometheus collector.
func WithCollector(collector *Collector) Option {
	return func(m *Manager) { m.collector = collector }
}

// WithLogger overrides the manager logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(m *Manager) { m.logger = logger }
}

// New creates a queue manager over the shared action repository.
func New(actions dao.Service[string, action.Action], bus *event.Service, options ...Option) (*Manager, error) {
	ret := &Manager{
		config:  DefaultConfig(),
		actions: actions,
		bus:     bus,
		logger:  logrus.WithField("component", "queue"),
		queues:  make(map[string]*state),
		stopCh:  make(chan struct{}),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.actions == nil {
		return nil, fmt.Errorf("action repository is required")
	}
	if ret.bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if ret.dispatch == nil {
		return nil, fmt.Errorf("dispatch is required")
	}
	for _, definition := range ret.config.Definitions {
		if definition.MaxConcurrency <= 0 {
			return nil, fmt.Errorf("queue %s: maxConcurrency must be > 0", definition.ID)
		}
		ret.queues[definition.ID] = &state{definition: definition}
	}
	if len(ret.queues) == 0 {
		return nil, fmt.Errorf("at least one queue is required")
	}
	return ret, nil
}

// Start launches one poll loop per queue.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("queue manager already started")
	}
	m.started = true
	for id, st := range m.queues {
		interval := st.definition.PollInterval
		if interval <= 0 {
			interval = m.config.PollInterval
		}
		m.wg.Add(1)
		go m.pollLoop(ctx, id, interval)
	}
	return nil
}

// Shutdown stops the poll loops and waits for them to exit. In-flight
// dispatches are left to finish on their own goroutines.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) pollLoop(ctx context.Context, queueID string, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.dispatchReady(ctx, queueID)
		}
	}
}

// Enqueue routes the action to a queue (the default route when queueID is
// empty) and marks it queued.
func (m *Manager) Enqueue(ctx context.Context, a *action.Action, queueID string) error {
	if a == nil {
		return fmt.Errorf("%w: nil action", ErrActionNotFound)
	}
	if queueID == "" {
		queueID = RouteFor(a)
	}

	m.mu.Lock()
	st, ok := m.queues[queueID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queueID)
	}
	if !a.Status.CanTransition(action.StatusQueued) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, action.StatusQueued)
	}
	// The caller's copy may trail a concurrent transition, typically a
	// cancel; the stored status decides.
	if stored, _ := m.actions.Load(ctx, a.ID); stored != nil && !stored.Status.CanTransition(action.StatusQueued) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, stored.Status, action.StatusQueued)
	}
	now := clock.Now()
	a.Status = action.StatusQueued
	a.QueueID = queueID
	a.ScheduledAt = &now
	a.Touch()
	a.Audit(action.AuditQueued, "system", map[string]interface{}{"queue": queueID})
	st.members = append(st.members, member{id: a.ID, enqueuedAt: now})
	m.collector.setSize(queueID, len(st.members))
	if err := m.actions.Save(ctx, a); err != nil {
		m.removeMemberLocked(st, a.ID)
		m.mu.Unlock()
		return fmt.Errorf("failed to save action %s: %w", a.ID, err)
	}
	m.mu.Unlock()

	m.bus.Emit(ctx, event.TopicActionQueued, a.ID, map[string]interface{}{"queue": queueID})
	m.logger.WithFields(logrus.Fields{"action_id": a.ID, "queue": queueID}).Debug("action queued")
	return nil
}

type candidate struct {
	a      *action.Action
	member member
	score  float64
}

// dispatchReady pops the highest-priority ready actions while the in-flight
// count stays under the queue's MaxConcurrency.
func (m *Manager) dispatchReady(ctx context.Context, queueID string) {
	m.mu.Lock()
	st, ok := m.queues[queueID]
	if !ok || st.paused {
		m.mu.Unlock()
		return
	}
	capacity := st.definition.MaxConcurrency - st.inFlight
	if capacity <= 0 {
		m.mu.Unlock()
		return
	}

	now := clock.Now()
	candidates := make([]candidate, 0, len(st.members))
	kept := st.members[:0]
	for _, entry := range st.members {
		a, _ := m.actions.Load(ctx, entry.id)
		if a == nil || a.Status != action.StatusQueued {
			// Stale membership: cancelled or externally mutated.
			continue
		}
		kept = append(kept, entry)
		if a.RequiresApproval && !a.Approved() {
			continue
		}
		candidates = append(candidates, candidate{a: a, member: entry, score: score(a, now.Sub(entry.enqueuedAt))})
	}
	st.members = kept

	// Highest score first; equal scores dequeue FIFO on creation time.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].a.CreatedAt.Before(candidates[j].a.CreatedAt)
	})

	if len(candidates) > capacity {
		candidates = candidates[:capacity]
	}
	for _, picked := range candidates {
		m.removeMemberLocked(st, picked.member.id)
		st.inFlight++
		st.metrics.AvgWaitTime = blend(st.metrics.AvgWaitTime, now.Sub(picked.member.enqueuedAt))
	}
	m.collector.setSize(queueID, len(st.members))
	m.collector.setInFlight(queueID, st.inFlight)
	m.mu.Unlock()

	for _, picked := range candidates {
		a := picked.a
		m.bus.Emit(ctx, event.TopicActionReady, a.ID, map[string]interface{}{"queue": queueID})
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer m.release(queueID)
			m.dispatch(ctx, a)
		}()
	}
}

func (m *Manager) release(queueID string) {
	m.mu.Lock()
	if st, ok := m.queues[queueID]; ok && st.inFlight > 0 {
		st.inFlight--
		m.collector.setInFlight(queueID, st.inFlight)
	}
	m.mu.Unlock()
}

func (m *Manager) removeMemberLocked(st *state, id string) {
	for i, entry := range st.members {
		if entry.id == id {
			st.members = append(st.members[:i], st.members[i+1:]...)
			return
		}
	}
}

// Pause stops dequeuing from a queue; queued members stay put.
func (m *Manager) Pause(queueID string) error {
	return m.setPaused(queueID, true)
}

// Resume restarts dequeuing.
func (m *Manager) Resume(queueID string) error {
	return m.setPaused(queueID, false)
}

func (m *Manager) setPaused(queueID string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.queues[queueID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queueID)
	}
	st.paused = paused
	return nil
}

// Clear cancels every queued action in the queue, appending an audit entry
// per cancellation.
func (m *Manager) Clear(ctx context.Context, queueID string) error {
	m.mu.Lock()
	st, ok := m.queues[queueID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queueID)
	}
	members := st.members
	st.members = nil
	m.collector.setSize(queueID, 0)

	cancelled := make([]*action.Action, 0, len(members))
	for _, entry := range members {
		a, _ := m.actions.Load(ctx, entry.id)
		if a == nil || a.Status.IsTerminal() {
			continue
		}
		a.Status = action.StatusCancelled
		a.Touch()
		a.Audit(action.AuditCancelled, "system", map[string]interface{}{"reason": "queue_cleared", "queue": queueID})
		if err := m.actions.Save(ctx, a); err != nil {
			continue
		}
		cancelled = append(cancelled, a)
	}
	m.mu.Unlock()

	for _, a := range cancelled {
		m.bus.Emit(ctx, event.TopicActionCancelled, a.ID, map[string]interface{}{"reason": "queue_cleared"})
	}
	m.logger.WithFields(logrus.Fields{"queue": queueID, "cancelled": len(cancelled)}).Info("queue cleared")
	return nil
}

// UpdateActionStatus is the single mutator of action status and result. The
// load, transition check and save happen atomically with respect to every
// other manager mutation. On a terminal execution outcome it updates the
// owning queue's rolling metrics.
func (m *Manager) UpdateActionStatus(ctx context.Context, id string, status action.Status, result *action.Result) (*action.Action, error) {
	m.mu.Lock()
	a, err := m.actions.Load(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if a == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	if !a.Status.CanTransition(status) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, status)
	}
	previous := a.Status
	a.Status = status
	if result != nil {
		a.Result = result
	}
	now := clock.Now()
	switch status {
	case action.StatusCompleted:
		a.ExecutedAt = &now
	case action.StatusApproved:
		a.ApprovedAt = &now
	}
	a.Touch()
	a.Audit(action.AuditStatusChanged, "system", map[string]interface{}{
		"from": string(previous),
		"to":   string(status),
	})

	switch status {
	case action.StatusCompleted:
		m.recordOutcomeLocked(a, true)
	case action.StatusFailed, action.StatusTimeout:
		m.recordOutcomeLocked(a, false)
	}
	if err := m.actions.Save(ctx, a); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to save action %s: %w", id, err)
	}
	m.mu.Unlock()

	m.bus.Emit(ctx, event.TopicActionStatusChange, a.ID, map[string]interface{}{
		"from": string(previous),
		"to":   string(status),
	})
	return a, nil
}

// Mutate applies fn to the stored action atomically with respect to every
// other manager mutation and persists the result. A non-nil error from fn
// aborts the save.
func (m *Manager) Mutate(ctx context.Context, id string, fn func(*action.Action) error) (*action.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.actions.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	a.Touch()
	if err := m.actions.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to save action %s: %w", id, err)
	}
	return a, nil
}

func (m *Manager) recordOutcomeLocked(a *action.Action, succeeded bool) {
	st, ok := m.queues[a.QueueID]
	if !ok {
		return
	}
	st.metrics.Processed++
	outcome := "failed"
	if succeeded {
		st.metrics.Succeeded++
		outcome = "succeeded"
	} else {
		st.metrics.Failed++
	}
	st.metrics.SuccessRate = float64(st.metrics.Succeeded) / float64(st.metrics.Processed)
	st.metrics.ErrorRate = float64(st.metrics.Failed) / float64(st.metrics.Processed)
	if a.Result != nil && a.Result.ExecutionTime > 0 {
		st.metrics.AvgExecutionTime = blend(st.metrics.AvgExecutionTime, a.Result.ExecutionTime)
	}
	m.collector.observe(a.QueueID, outcome)
}

// Cancel force-transitions an action to cancelled regardless of queue
// membership.
func (m *Manager) Cancel(ctx context.Context, id string) (*action.Action, error) {
	m.mu.Lock()
	a, err := m.actions.Load(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if a == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	if a.Status.IsTerminal() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, action.StatusCancelled)
	}
	if st, ok := m.queues[a.QueueID]; ok {
		m.removeMemberLocked(st, a.ID)
		m.collector.setSize(a.QueueID, len(st.members))
	}
	a.Status = action.StatusCancelled
	a.Touch()
	a.Audit(action.AuditCancelled, "system", nil)
	if err := m.actions.Save(ctx, a); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	m.bus.Emit(ctx, event.TopicActionCancelled, a.ID, nil)
	return a, nil
}

// Metrics returns a snapshot of the queue's rolling metrics.
func (m *Manager) Metrics(queueID string) (*Metrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.queues[queueID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, queueID)
	}
	snapshot := st.metrics
	snapshot.Size = len(st.members)
	return &snapshot, nil
}

// ResetMetrics zeroes the rolling metrics of a queue.
func (m *Manager) ResetMetrics(queueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.queues[queueID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queueID)
	}
	st.metrics = Metrics{}
	return nil
}

// Definitions returns the configured queue policies.
func (m *Manager) Definitions() []Definition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Definition, 0, len(m.queues))
	for _, st := range m.queues {
		out = append(out, st.definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
