// Package visibility tracks the named constraints that hide an avatar.
//
// An avatar is visible iff none of its constraints is active. Constraints are owned by
// independent subsystems (scene hide areas, camera modes, loading) that toggle them by name.
package visibility

import (
	"maps"
	"slices"
	"sync"
)

// Set is safe for concurrent use.
type Set struct {
	mu          sync.Mutex
	constraints map[string]struct{}
	onChange    func(visible bool)
}

// New returns an empty set. onChange, if not nil, is called with the new visibility whenever it
// flips. It runs after the set is unlocked, on the goroutine that caused the change.
func New(onChange func(visible bool)) *Set {
	return &Set{constraints: map[string]struct{}{}, onChange: onChange}
}

func (s *Set) Add(name string) {
	s.Set(name, true)
}

func (s *Set) Remove(name string) {
	s.Set(name, false)
}

// Set activates or clears the constraint name.
func (s *Set) Set(name string, active bool) {
	s.mu.Lock()
	before := len(s.constraints) == 0
	if active {
		s.constraints[name] = struct{}{}
	} else {
		delete(s.constraints, name)
	}
	after := len(s.constraints) == 0
	onChange := s.onChange
	s.mu.Unlock()

	if before != after && onChange != nil {
		onChange(after)
	}
}

func (s *Set) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.constraints) == 0
}

// Active returns the names of the active constraints in sorted order.
func (s *Set) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.constraints))
}
