package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultChannelCapacity is the default buffer size for queued entries.
const DefaultChannelCapacity = 100

// ErrWriterFull is returned when an entry cannot be queued.
var ErrWriterFull = errors.New("db: async writer queue full or closed")

// Recorder persists history entries. Repository writes synchronously;
// AsyncWriter queues.
type Recorder interface {
	Record(ctx context.Context, e HistoryEntry) error
}

// AsyncWriter queues history inserts and writes them on one goroutine so
// editor operations never wait on SQLite.
type AsyncWriter struct {
	next   Recorder
	ch     chan HistoryEntry
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewAsyncWriter starts the background writer. capacity <= 0 uses
// DefaultChannelCapacity.
func NewAsyncWriter(next Recorder, capacity int, logger *zap.Logger) *AsyncWriter {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &AsyncWriter{
		next:   next,
		ch:     make(chan HistoryEntry, capacity),
		logger: logger.Named("history"),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for e := range w.ch {
		if err := w.next.Record(context.Background(), e); err != nil {
			w.failed.Add(1)
			w.logger.Warn("history write failed", zap.String("mode", e.Mode), zap.Error(err))
			continue
		}
		w.written.Add(1)
	}
}

// Record queues e without blocking. ctx is unused; the write happens later.
func (w *AsyncWriter) Record(_ context.Context, e HistoryEntry) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.dropped.Add(1)
		return ErrWriterFull
	}
	select {
	case w.ch <- e:
		return nil
	default:
		w.dropped.Add(1)
		return ErrWriterFull
	}
}

// Pending is the number of queued entries.
func (w *AsyncWriter) Pending() int { return len(w.ch) }

// Written, Failed and Dropped are lifetime counters.
func (w *AsyncWriter) Written() int64 { return w.written.Load() }
func (w *AsyncWriter) Failed() int64  { return w.failed.Load() }
func (w *AsyncWriter) Dropped() int64 { return w.dropped.Load() }

// Close stops accepting entries and waits until the queue drains or ctx
// is done.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
