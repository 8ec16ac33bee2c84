// Package statemachine is a small generic state machine in Rob Pike's
// style: states are functions, and each state function does its entry work
// and returns the state to settle in. Bot players drive their
// watching/armed/paused lifecycle through it.
package statemachine

import (
	"sync"
)

// StateFn is one state. It receives the entity, performs the state's entry
// work, and returns the next state. Returning nil halts the machine.
type StateFn[T any] func(*T) StateFn[T]

// Machine tracks the current state of one entity.
type Machine[T any] struct {
	mu      sync.RWMutex
	entity  *T
	current StateFn[T]
}

// New creates a machine resting in the initial state. The initial state's
// entry work does not run until the first Dispatch.
func New[T any](entity *T, initial StateFn[T]) *Machine[T] {
	return &Machine[T]{entity: entity, current: initial}
}

// Dispatch transitions to the given state: it runs that state's function
// once and settles in whatever state it returns. Passing nil halts the
// machine.
func (m *Machine[T]) Dispatch(state StateFn[T]) {
	m.mu.Lock()
	m.current = state
	m.mu.Unlock()

	if state == nil {
		return
	}
	next := state(m.entity)

	m.mu.Lock()
	m.current = next
	m.mu.Unlock()
}

// Current returns the state the machine settled in.
func (m *Machine[T]) Current() StateFn[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Halted reports whether the machine has reached the nil state.
func (m *Machine[T]) Halted() bool {
	return m.Current() == nil
}
