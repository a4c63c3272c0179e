// Package dao defines the injectable repository abstraction behind every
// id-keyed map that carries a durable mirror: actions, approval requests and
// queue snapshots. Tests use the in-memory backend; deployments can add a
// persistent one behind the same interface.
package dao

import (
	"context"
)

type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
