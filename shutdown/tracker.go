// Package shutdown coordinates a graceful exit for the editor CLI: it
// refuses new backend actions once shutdown starts, waits for those in
// flight, then runs registered cleanup hooks in priority order.
package shutdown

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrShuttingDown is returned when an action is started after shutdown began.
var ErrShuttingDown = errors.New("shutdown in progress")

// ErrWaitTimeout is returned when in-flight actions outlive the wait.
var ErrWaitTimeout = errors.New("in-flight actions did not finish in time")

// InFlight counts running actions. A closed InFlight admits nothing new.
type InFlight struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	active atomic.Int64
	closed bool
}

// Start admits an action. When it returns true the caller must call Done.
func (f *InFlight) Start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.wg.Add(1)
	f.active.Add(1)
	return true
}

// Done marks one admitted action finished.
func (f *InFlight) Done() {
	f.active.Add(-1)
	f.wg.Done()
}

// Close stops admitting actions.
func (f *InFlight) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Closed reports whether Close was called.
func (f *InFlight) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Active returns the number of running actions.
func (f *InFlight) Active() int64 {
	return f.active.Load()
}

// Wait blocks until every admitted action is done or timeout passes.
func (f *InFlight) Wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		return ErrWaitTimeout
	}
}
