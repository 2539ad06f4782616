package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"asset_editor/core"
)

// Hook priorities used by the CLI. Lower runs first.
const (
	PriorityTelemetry = 10 // stop the socket and poller
	PriorityHistory   = 20 // drain the async history writer
	PriorityDatabase  = 30
	PriorityExports   = 40 // sweep partial export files
	PriorityLogger    = 90
)

type hook struct {
	name     string
	priority int
	seq      int
	fn       core.ShutdownFunc
}

// Hooks is an ordered set of cleanup functions. Equal priorities run in
// registration order.
type Hooks struct {
	mu    sync.Mutex
	hooks []hook
	ran   bool
}

// NewHooks returns an empty set.
func NewHooks() *Hooks {
	return &Hooks{}
}

// Register adds fn. Registering after Run is a no-op.
func (h *Hooks) Register(name string, priority int, fn core.ShutdownFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ran {
		return
	}
	h.hooks = append(h.hooks, hook{name: name, priority: priority, seq: len(h.hooks), fn: fn})
}

func (h *Hooks) sorted() []hook {
	out := append([]hook(nil), h.hooks...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Run calls every hook once, in order, even after failures. Each error is
// prefixed with its hook name. Later calls return nil.
func (h *Hooks) Run(ctx context.Context) []error {
	h.mu.Lock()
	if h.ran {
		h.mu.Unlock()
		return nil
	}
	h.ran = true
	hooks := h.sorted()
	h.mu.Unlock()

	var errs []error
	for _, hk := range hooks {
		if err := hk.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", hk.name, err))
		}
	}
	return errs
}

// Names lists hooks in run order.
func (h *Hooks) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	hooks := h.sorted()
	names := make([]string, len(hooks))
	for i, hk := range hooks {
		names[i] = hk.name
	}
	return names
}

// Len returns the number of registered hooks.
func (h *Hooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hooks)
}
