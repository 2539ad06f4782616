package shutdown

import "sync"

// SignalCounter implements "first signal is graceful, the next forces".
type SignalCounter struct {
	mu         sync.Mutex
	count      int
	forceAfter int
	onForce    func()
}

// NewSignalCounter calls onForce (if non-nil) once the count reaches forceAfter.
func NewSignalCounter(forceAfter int, onForce func()) *SignalCounter {
	return &SignalCounter{forceAfter: forceAfter, onForce: onForce}
}

// Increment records a signal and returns the new count. onForce runs
// under the lock.
func (s *SignalCounter) Increment() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if s.count >= s.forceAfter && s.onForce != nil {
		s.onForce()
	}
	return s.count
}

// Count returns the number of signals seen.
func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
