// Package lock provides named locks that are acquired without blocking.
package lock

import "sync"

// Set maintains the named locks currently held.
type Set struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New constructs an empty lock set.
func New() *Set {
	return &Set{
		held: make(map[string]struct{}),
	}
}

// TryAcquire takes the named lock if nobody holds it and reports whether
// it succeeded. It never waits.
func (s *Set) TryAcquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.held[name]; exists {
		return false
	}

	s.held[name] = struct{}{}

	return true
}

// Release frees the named lock. Releasing a lock that isn't held does nothing.
func (s *Set) Release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.held, name)
}

// IsHeld reports whether the named lock is currently taken.
func (s *Set) IsHeld(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.held[name]
	return exists
}
