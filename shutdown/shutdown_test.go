package shutdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"asset_editor/core"

	"go.uber.org/zap/zaptest"
)

func TestHooks_RunOrder(t *testing.T) {
	h := NewHooks()
	var order []string
	add := func(name string, prio int, err error) {
		h.Register(name, prio, func(context.Context) error {
			order = append(order, name)
			return err
		})
	}
	add("logger", PriorityLogger, nil)
	add("db", PriorityDatabase, errors.New("locked"))
	add("socket", PriorityTelemetry, nil)
	add("poller", PriorityTelemetry, nil)

	want := []string{"socket", "poller", "db", "logger"}
	if got := h.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	errs := h.Run(context.Background())
	if !reflect.DeepEqual(order, want) {
		t.Errorf("run order = %v, want %v", order, want)
	}
	if len(errs) != 1 || errs[0].Error() != "db: locked" {
		t.Errorf("errs = %v", errs)
	}
	if h.Run(context.Background()) != nil {
		t.Error("second Run should be a no-op")
	}
	h.Register("late", 0, func(context.Context) error { return nil })
	if h.Len() != 4 {
		t.Errorf("Len() = %d after late register", h.Len())
	}
}

func TestInFlight_Wait(t *testing.T) {
	var f InFlight
	if !f.Start() {
		t.Fatal("Start() = false on open tracker")
	}
	if err := f.Wait(10 * time.Millisecond); !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("Wait() = %v, want ErrWaitTimeout", err)
	}
	f.Close()
	if f.Start() {
		t.Error("Start() = true after Close")
	}
	f.Done()
	if err := f.Wait(time.Second); err != nil {
		t.Errorf("Wait() = %v", err)
	}
	if f.Active() != 0 {
		t.Errorf("Active() = %d", f.Active())
	}
}

func TestSignalCounter(t *testing.T) {
	forced := 0
	c := NewSignalCounter(2, func() { forced++ })
	c.Increment()
	if forced != 0 {
		t.Fatal("forced on first signal")
	}
	c.Increment()
	c.Increment()
	if forced != 2 || c.Count() != 3 {
		t.Errorf("forced = %d, count = %d", forced, c.Count())
	}
}

func TestManager_ShutdownWaitsForActions(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), WithTimeout(2*time.Second))
	var closed atomic.Bool
	m.Register("history", PriorityHistory, func(context.Context) error {
		closed.Store(true)
		return nil
	})

	running := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.Track(context.Background(), "generate", func(context.Context) error {
			close(running)
			<-release
			return nil
		})
	}()
	<-running

	shut := make(chan error, 1)
	go func() { shut <- m.Shutdown() }()

	deadline := time.Now().Add(time.Second)
	for !m.ShuttingDown() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := m.Track(context.Background(), "edit", func(context.Context) error { return nil }); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Track() during shutdown = %v", err)
	}
	if closed.Load() {
		t.Error("hooks ran before in-flight action finished")
	}
	close(release)

	if err := <-shut; err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Track() = %v", err)
	}
	if !closed.Load() {
		t.Error("history hook did not run")
	}
	if m.Context().Err() == nil {
		t.Error("context not cancelled")
	}
	if err := m.Shutdown(); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

func TestManager_ShutdownJoinsErrors(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	errDB := errors.New("database is locked")
	m.Register("db", PriorityDatabase, func(context.Context) error { return errDB })
	m.Register("logger", PriorityLogger, func(context.Context) error { return nil })
	if err := m.Shutdown(); !errors.Is(err, errDB) {
		t.Errorf("Shutdown() = %v, want wrapping %v", err, errDB)
	}
}

func TestManager_Signals(t *testing.T) {
	exits := make(chan int, 1)
	m := NewManager(zaptest.NewLogger(t), WithForceExit(func(code int) { exits <- code }))

	if got := m.ExitCode(core.ExitCodeSuccess); got != core.ExitCodeSuccess {
		t.Errorf("ExitCode() before signal = %d", got)
	}
	m.handleSignal(syscall.SIGTERM)
	if m.Context().Err() == nil {
		t.Fatal("first signal did not cancel the context")
	}
	if got := m.ExitCode(core.ExitCodeSuccess); got != core.ExitCodeSIGTERM {
		t.Errorf("ExitCode() = %d, want %d", got, core.ExitCodeSIGTERM)
	}
	m.handleSignal(os.Interrupt)
	select {
	case code := <-exits:
		if code != core.ExitCodeError {
			t.Errorf("force exit code = %d", code)
		}
	default:
		t.Error("second signal did not force exit")
	}
	if got := m.ExitCode(0); got != core.ExitCodeSIGTERM {
		t.Errorf("second signal changed exit code to %d", got)
	}
}

func TestManager_TrackCancelledContext(t *testing.T) {
	m := NewManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := m.Track(ctx, "generate", func(context.Context) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("Track() = %v, called = %v", err, called)
	}
	if m.Active() != 0 {
		t.Errorf("Active() = %d", m.Active())
	}
}

func TestSweepPartialExports(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.png.part", "b.png.part", "keep.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := SweepPartialExports(zaptest.NewLogger(t), dir)(context.Background()); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "keep.png" {
		t.Errorf("left %v", entries)
	}
	if err := SweepPartialExports(zaptest.NewLogger(t), filepath.Join(dir, "missing"))(context.Background()); err != nil {
		t.Errorf("missing dir: %v", err)
	}
}
