package dao

import (
	"context"
	"time"
)

// KV is the namespaced durable store used to mirror in-memory state
// (actions, approval requests, queue snapshots) for crash resilience and
// lookup. Mirrors are eventually consistent; the in-memory copy remains the
// source of truth while the process is alive.
type KV interface {
	// Set stores value under namespace/key with an optional TTL (0 = no
	// expiry).
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error

	// Get returns the stored value, or ErrNotFound.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Delete removes the entry; deleting an absent key is not an error.
	Delete(ctx context.Context, namespace, key string) error
}
