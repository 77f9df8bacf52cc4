package statemachine

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when the requested transition is not
// allowed from the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Machine is a small thread-safe state holder with an explicit edge table.
// Transitions are claimed atomically, so when two callers race for the same
// edge only the first one succeeds and the other gets ErrInvalidTransition.
type Machine[S comparable] struct {
	mu      sync.RWMutex
	current S
	edges   map[S]map[S]struct{}
}

// New creates a machine in initial state with the allowed transitions.
func New[S comparable](initial S, transitions map[S][]S) *Machine[S] {
	edges := make(map[S]map[S]struct{}, len(transitions))
	for from, tos := range transitions {
		set := make(map[S]struct{}, len(tos))
		for _, to := range tos {
			set[to] = struct{}{}
		}
		edges[from] = set
	}
	return &Machine[S]{current: initial, edges: edges}
}

// Current returns the current state.
func (m *Machine[S]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in one of states.
func (m *Machine[S]) Is(states ...S) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range states {
		if m.current == s {
			return true
		}
	}
	return false
}

// Transition moves the machine to state to and returns the previous state.
// It fails if the edge from the current state is not allowed.
func (m *Machine[S]) Transition(to S) (S, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	if _, ok := m.edges[from][to]; !ok {
		return from, fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, from, to)
	}
	m.current = to
	return from, nil
}

// TransitionFrom is like Transition but additionally requires the machine to
// currently be in from.
func (m *Machine[S]) TransitionFrom(from, to S) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != from {
		return fmt.Errorf("%w: in %v, expected %v", ErrInvalidTransition, m.current, from)
	}
	if _, ok := m.edges[from][to]; !ok {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, from, to)
	}
	m.current = to
	return nil
}
