// Package event implements the lifecycle message bus consumed by UI and
// notification layers outside the core. Delivery is synchronous and in
// subscription order on the publishing goroutine; there is no cross-restart
// delivery guarantee.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sk-go/actioncore/internal/clock"
)

// Topic names emitted by the core. Payload shapes are stable per topic.
type Topic string

const (
	TopicActionCreated      Topic = "action_created"
	TopicActionQueued       Topic = "action_queued"
	TopicActionReady        Topic = "action_ready"
	TopicActionExecuted     Topic = "action_executed"
	TopicActionFailed       Topic = "action_failed"
	TopicActionCancelled    Topic = "action_cancelled"
	TopicActionStatusChange Topic = "action_status_changed"
	TopicActionAutoApproved Topic = "action_auto_approved"
	TopicApprovalRequested  Topic = "approval_requested"
	TopicApprovalResponded  Topic = "approval_responded"
	TopicApprovalEscalated  Topic = "approval_escalated"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Topic     Topic                  `json:"topic"`
	ActionID  string                 `json:"actionId,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	Data      interface{}            `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Handler receives a published event. Handlers run synchronously; slow work
// should be deferred to the subscriber's own goroutine.
type Handler func(*Event)

// Service is the in-process bus. Subscription to the empty topic receives
// every event.
type Service struct {
	mu         sync.RWMutex
	handlers   map[Topic][]Handler
	history    map[Topic][]*Event
	historyCap int
	logger     *logrus.Entry
}

// Option customises the bus.
type Option func(*Service)

// WithHistoryCapacity bounds the number of recent events retained per topic
// for inspection. Zero disables history.
func WithHistoryCapacity(capacity int) Option {
	return func(s *Service) { s.historyCap = capacity }
}

// WithLogger overrides the bus logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates an event bus.
func New(options ...Option) *Service {
	ret := &Service{
		handlers:   make(map[Topic][]Handler),
		history:    make(map[Topic][]*Event),
		historyCap: 100,
		logger:     logrus.WithField("component", "event"),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Subscribe registers a handler for a topic. The empty topic subscribes to
// all events.
func (s *Service) Subscribe(topic Topic, handler Handler) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[topic] = append(s.handlers[topic], handler)
}

// Publish delivers the event to topic subscribers and wildcard subscribers,
// in the order they subscribed, before returning.
func (s *Service) Publish(_ context.Context, anEvent *Event) {
	if anEvent == nil {
		return
	}
	if anEvent.CreatedAt.IsZero() {
		anEvent.CreatedAt = clock.Now()
	}

	s.mu.Lock()
	if s.historyCap > 0 {
		entries := append(s.history[anEvent.Topic], anEvent)
		if len(entries) > s.historyCap {
			entries = entries[len(entries)-s.historyCap:]
		}
		s.history[anEvent.Topic] = entries
	}
	handlers := make([]Handler, 0, len(s.handlers[anEvent.Topic])+len(s.handlers[""]))
	handlers = append(handlers, s.handlers[anEvent.Topic]...)
	handlers = append(handlers, s.handlers[""]...)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(anEvent)
	}
}

// Emit is a convenience wrapper building the envelope inline.
func (s *Service) Emit(ctx context.Context, topic Topic, actionID string, data interface{}) {
	s.Publish(ctx, &Event{Topic: topic, ActionID: actionID, Data: data})
}

// History returns the retained events for a topic, oldest first.
func (s *Service) History(topic Topic) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Event(nil), s.history[topic]...)
}
