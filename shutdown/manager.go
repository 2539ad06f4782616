package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"asset_editor/core"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the whole shutdown sequence. Generation requests
// can take minutes, so waiting on them is capped well below that.
const DefaultTimeout = 30 * time.Second

// Manager composes InFlight, Hooks and a SignalCounter.
//
//	m := shutdown.NewManager(logger)
//	m.Register("history", shutdown.PriorityHistory, writer.Close)
//	m.Start()
//	err := m.Track(m.Context(), "generate", func(ctx context.Context) error { ... })
//	m.Shutdown()
type Manager struct {
	logger    *zap.Logger
	timeout   time.Duration
	forceExit func(code int)

	ctx    context.Context
	cancel context.CancelFunc

	inflight *InFlight
	hooks    *Hooks
	signals  *SignalCounter

	mu       sync.Mutex
	started  bool
	stopped  bool
	received os.Signal
	sigCh    chan os.Signal
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithForceExit replaces os.Exit for the second-signal path.
func WithForceExit(fn func(code int)) Option {
	return func(m *Manager) { m.forceExit = fn }
}

// NewManager returns a manager whose Context is live until a signal or Trigger.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:    logger.Named("shutdown"),
		timeout:   DefaultTimeout,
		forceExit: os.Exit,
		ctx:       ctx,
		cancel:    cancel,
		inflight:  &InFlight{},
		hooks:     NewHooks(),
		sigCh:     make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.signals = NewSignalCounter(2, func() {
		m.logger.Warn("second signal, exiting immediately")
		m.forceExit(core.ExitCodeError)
	})
	return m
}

// Context is cancelled when shutdown is requested.
func (m *Manager) Context() context.Context { return m.ctx }

// Register adds a cleanup hook.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.hooks.Register(name, priority, fn)
	m.logger.Debug("registered shutdown hook", zap.String("name", name), zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. Repeated calls are no-ops.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	signal.Notify(m.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigCh {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	if m.signals.Increment() != 1 {
		return
	}
	m.mu.Lock()
	m.received = sig
	m.mu.Unlock()
	m.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	m.cancel()
}

// Trigger requests shutdown without a signal.
func (m *Manager) Trigger(reason string) {
	m.logger.Info("shutdown requested", zap.String("reason", reason))
	m.cancel()
}

// ExitCode maps the signal that started shutdown to a process exit code,
// or returns fallback when no signal arrived.
func (m *Manager) ExitCode(fallback int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return core.SignalExitCode(m.received, fallback)
}

// Track runs fn as an in-flight action. It returns ErrShuttingDown without
// calling fn once Shutdown has started.
func (m *Manager) Track(ctx context.Context, name string, fn func(context.Context) error) error {
	if !m.inflight.Start() {
		m.logger.Debug("action rejected during shutdown", zap.String("action", name))
		return ErrShuttingDown
	}
	defer m.inflight.Done()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Active returns the number of tracked actions still running.
func (m *Manager) Active() int64 { return m.inflight.Active() }

// ShuttingDown reports whether Shutdown has started.
func (m *Manager) ShuttingDown() bool { return m.inflight.Closed() }

// Hooks lists registered hooks in run order.
func (m *Manager) Hooks() []string { return m.hooks.Names() }

// Shutdown stops admitting actions, waits for running ones, then runs the
// hooks with whatever time remains (at least one second). Hook errors are
// joined. Only the first call does work.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	started := m.started
	m.mu.Unlock()

	begin := time.Now()
	m.cancel()
	m.inflight.Close()
	if n := m.inflight.Active(); n > 0 {
		m.logger.Info("waiting for in-flight actions", zap.Int64("active", n))
	}
	if err := m.inflight.Wait(m.timeout); err != nil {
		m.logger.Warn("abandoning in-flight actions",
			zap.Int64("remaining", m.inflight.Active()),
			zap.Duration("waited", time.Since(begin)))
	}

	remaining := m.timeout - time.Since(begin)
	if remaining < time.Second {
		remaining = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	errs := m.hooks.Run(ctx)
	for _, err := range errs {
		m.logger.Error("shutdown hook failed", zap.Error(err))
	}
	if started {
		signal.Stop(m.sigCh)
	}
	m.logger.Debug("shutdown complete",
		zap.Duration("duration", time.Since(begin)),
		zap.Int("errors", len(errs)))
	return errors.Join(errs...)
}
