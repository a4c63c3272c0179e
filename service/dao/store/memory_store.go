package store

import (
	"context"
	"sync"

	"github.com/sk-go/actioncore/service/dao"
)

// MemoryStore is a generic in-memory implementation of dao.Service.
// It keeps entities of type *T mapped by a comparable key K obtained from
// the supplied keySelector function.
//
// Records are copied on the way in and out, so two goroutines holding the
// same logical record never share mutable state; a mutation becomes visible
// only through Save. Types with aliasing fields (slices, maps) implement
// Clone to control the copy depth.
//
// An optional matcher lets the store answer predicate-based List calls
// (e.g. actions by status) without every caller re-implementing the filter.
type MemoryStore[K comparable, T any] struct {
	mu          sync.RWMutex
	records     map[K]*T
	keySelector func(*T) K
	matcher     func(*T, []*dao.Parameter) bool
}

// NewMemoryStore creates a new MemoryStore.
// keySelector extracts the entity key (usually the ID field) from a value.
func NewMemoryStore[K comparable, T any](keySelector func(*T) K) *MemoryStore[K, T] {
	return &MemoryStore[K, T]{
		records:     make(map[K]*T),
		keySelector: keySelector,
	}
}

// WithMatcher installs a predicate applied by List when parameters are
// supplied.
func (s *MemoryStore[K, T]) WithMatcher(matcher func(*T, []*dao.Parameter) bool) *MemoryStore[K, T] {
	s.matcher = matcher
	return s
}

// Save stores a copy of the record, overwriting any previous version.
func (s *MemoryStore[K, T]) Save(_ context.Context, v *T) error {
	if v == nil {
		return dao.ErrNilEntity
	}
	key := s.keySelector(v)
	record := copyRecord(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = record
	return nil
}

// Load returns a copy of the record by key, or nil when absent.
func (s *MemoryStore[K, T]) Load(_ context.Context, key K) (*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return copyRecord(v), nil
}

// Delete removes a record.
func (s *MemoryStore[K, T]) Delete(_ context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// List returns stored records, filtered by the matcher when parameters are
// present.
func (s *MemoryStore[K, T]) List(_ context.Context, parameters ...*dao.Parameter) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*T, 0, len(s.records))
	for _, v := range s.records {
		if len(parameters) > 0 && s.matcher != nil && !s.matcher(v, parameters) {
			continue
		}
		out = append(out, copyRecord(v))
	}
	return out, nil
}

// copyRecord duplicates a stored record. A type owning slices or maps
// implements Clone to deep-copy them; everything else gets a value copy.
func copyRecord[T any](v *T) *T {
	if c, ok := any(v).(interface{ Clone() *T }); ok {
		return c.Clone()
	}
	duplicate := *v
	return &duplicate
}

var _ dao.Service[string, any] = (*MemoryStore[string, any])(nil)
