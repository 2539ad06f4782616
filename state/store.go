package state

import (
	"sort"
	"sync"
)

// Listener receives the new state after a change.
type Listener func(State)

// Store is the observer registry around Reduce. It is safe for concurrent
// use; listeners run on the dispatching goroutine, outside the lock, in
// subscription order.
type Store struct {
	mu        sync.RWMutex
	state     State
	reducer   func(State, Action) State
	listeners map[int]Listener
	nextID    int
}

// NewStore returns a store seeded with initial and driven by Reduce.
func NewStore(initial State) *Store {
	return &Store{
		state:     initial,
		reducer:   Reduce,
		listeners: make(map[int]Listener),
	}
}

// GetState returns a copy of the current state.
func (s *Store) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispatch applies a and notifies listeners if the state changed.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	next := s.reducer(s.state, a)
	if next == s.state {
		s.mu.Unlock()
		return
	}
	s.state = next
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, l := range listeners {
		l(next)
	}
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// caller holds s.mu
func (s *Store) snapshotListeners() []Listener {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Listener, len(ids))
	for i, id := range ids {
		out[i] = s.listeners[id]
	}
	return out
}
