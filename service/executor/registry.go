package executor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sk-go/actioncore/model/action"
)

// ErrNotRegistered indicates that no executor is registered for the
// requested action type. This is a programmer-error class failure: it is
// never retried.
var ErrNotRegistered = errors.New("executor not registered")

// Registry maps action types to their executor implementation.
type Registry struct {
	mu       sync.RWMutex
	services map[action.Type]Service
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[action.Type]Service)}
}

// Register installs an executor for a type, replacing any previous one.
func (r *Registry) Register(actionType action.Type, service Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[actionType] = service
}

// Lookup returns the executor for a type.
func (r *Registry) Lookup(actionType action.Type) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	service, ok := r.services[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, actionType)
	}
	return service, nil
}

// Types returns the registered action types.
func (r *Registry) Types() []action.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]action.Type, 0, len(r.services))
	for actionType := range r.services {
		out = append(out, actionType)
	}
	return out
}
