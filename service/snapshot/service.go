// Package snapshot mirrors in-memory state into a durable key/value store.
// Writes travel through a message queue so that the mutating goroutine never
// blocks on storage latency; failed writes are retried by the queue and end
// up in its dead-letter queue when exhausted.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sk-go/actioncore/service/dao"
	"github.com/sk-go/actioncore/service/messaging"
	"github.com/sk-go/actioncore/service/messaging/memory"
)

// Namespaces mirrored by the core.
const (
	NamespaceActions   = "actions"
	NamespaceApprovals = "approvals"
)

// Entry is a single pending mirror write.
type Entry struct {
	Namespace string        `json:"namespace"`
	Key       string        `json:"key"`
	Value     []byte        `json:"value,omitempty"`
	TTL       time.Duration `json:"ttl,omitempty"`
	Delete    bool          `json:"delete,omitempty"`
}

// Mirror asynchronously replicates state into a dao.KV.
type Mirror struct {
	store  dao.KV
	queue  messaging.Queue[Entry]
	logger *logrus.Entry

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option customises the mirror.
type Option func(*Mirror)

// WithQueue overrides the in-memory hand-off queue.
func WithQueue(queue messaging.Queue[Entry]) Option {
	return func(m *Mirror) { m.queue = queue }
}

// WithLogger overrides the mirror logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(m *Mirror) { m.logger = logger }
}

// New creates a mirror over the supplied durable store.
func New(store dao.KV, options ...Option) (*Mirror, error) {
	ret := &Mirror{
		store:  store,
		logger: logrus.WithField("component", "snapshot"),
		stopCh: make(chan struct{}),
	}
	for _, option := range options {
		option(ret)
	}
	if ret.store == nil {
		return nil, fmt.Errorf("durable store is required")
	}
	if ret.queue == nil {
		ret.queue = memory.NewQueue[Entry](memory.DefaultConfig())
	}
	return ret, nil
}

// Record marshals value as JSON and enqueues it for mirroring.
func (m *Mirror) Record(ctx context.Context, namespace, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", namespace, key, err)
	}
	return m.queue.Publish(ctx, &Entry{Namespace: namespace, Key: key, Value: data})
}

// RecordDelete enqueues removal of a mirrored entry.
func (m *Mirror) RecordDelete(ctx context.Context, namespace, key string) error {
	return m.queue.Publish(ctx, &Entry{Namespace: namespace, Key: key, Delete: true})
}

// Load reads a mirrored entry back into out.
func (m *Mirror) Load(ctx context.Context, namespace, key string, out interface{}) error {
	data, err := m.store.Get(ctx, namespace, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Start launches the persistence worker.
func (m *Mirror) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.worker(ctx)
}

// Shutdown stops the worker and waits for it to exit. Entries still queued
// are lost; the in-memory state remains the source of truth.
func (m *Mirror) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Mirror) worker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}
		consumeCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		message, err := m.queue.Consume(consumeCtx)
		cancel()
		if err != nil {
			continue
		}
		m.apply(ctx, message)
	}
}

func (m *Mirror) apply(ctx context.Context, message messaging.Message[Entry]) {
	entry := message.T()
	var err error
	if entry.Delete {
		err = m.store.Delete(ctx, entry.Namespace, entry.Key)
	} else {
		err = m.store.Set(ctx, entry.Namespace, entry.Key, entry.Value, entry.TTL)
	}
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"namespace": entry.Namespace,
			"key":       entry.Key,
		}).WithError(err).Warn("mirror write failed")
		_ = message.Nack(err)
		return
	}
	_ = message.Ack()
}
