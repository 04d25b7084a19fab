package resource

import (
	"sort"
	"sync"

	"github.com/odvcencio/mashup/pkg/errors"
	"github.com/odvcencio/mashup/pkg/jsonpatch"
)

// Store holds the current value of each known resource.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]any)}
}

// Replace sets the value of name. data is normalized and copied.
func (s *Store) Replace(name string, data any) (any, error) {
	value, err := jsonpatch.Normalize(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "resource data is not JSON").
			WithContext("resource", name)
	}

	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()
	return jsonpatch.Clone(value), nil
}

// Update applies patches to the value of name and returns the new value.
// Updating an unknown resource fails with RESOURCE_UNKNOWN.
func (s *Store) Update(name string, patches jsonpatch.Patch) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.values[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeResourceUnknown, "update for a resource that was never replaced").
			WithContext("resource", name)
	}
	next, err := jsonpatch.Apply(current, patches)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeResourcePatch, "could not apply patch").
			WithContext("resource", name)
	}
	s.values[name] = next
	return jsonpatch.Clone(next), nil
}

// Get returns a copy of the value of name.
func (s *Store) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[name]
	if !ok {
		return nil, false
	}
	return jsonpatch.Clone(value), true
}

// Names lists the known resources in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Delete forgets name.
func (s *Store) Delete(name string) {
	s.mu.Lock()
	delete(s.values, name)
	s.mu.Unlock()
}
