// Package editor wires user actions to the backend and the layer stack.
//
// editor.go is the Editor organism. It composes:
//   - state.Store for application state
//   - canvas.Stack and canvas.Container for layers and overlays
//   - masking.Masker, comparison.Slider and viewport.Viewport
//   - StatusBar for transient messages
//   - a db.Recorder for the generation history
//
// Every action validates its inputs, reports progress and failures on the
// status bar and returns the error; none are fatal.
//
// Actions that reset the stack (generate, decompose, stylize) take a
// ticket when issued. A response whose ticket is no longer the newest is
// discarded with ErrSuperseded instead of clobbering a newer result. Edit
// results are tied to the stack generation they were cut from.
package editor

import (
	"context"
	"sync"
	"time"

	"asset_editor/apiclient"
	"asset_editor/canvas"
	"asset_editor/comparison"
	"asset_editor/core"
	"asset_editor/db"
	"asset_editor/masking"
	"asset_editor/state"
	"asset_editor/viewport"

	"go.uber.org/zap"
)

// DefaultModeSwitchDelay is the pause before decompose switches to edit.
const DefaultModeSwitchDelay = 500 * time.Millisecond

// Backend is the subset of *apiclient.Client the editor calls.
type Backend interface {
	Txt2Img(ctx context.Context, r apiclient.Txt2ImgRequest) (*apiclient.ImageResponse, error)
	Decompose(ctx context.Context, r apiclient.DecomposeRequest) (*apiclient.DecomposeResponse, error)
	Img2Img(ctx context.Context, r apiclient.Img2ImgRequest) (*apiclient.ImageResponse, error)
	Inpaint(ctx context.Context, r apiclient.InpaintRequest) (*apiclient.ImageResponse, error)
	Health(ctx context.Context) (*apiclient.Stats, error)
	Preload(ctx context.Context, model string) (*apiclient.ModelStatus, error)
	Offload(ctx context.Context) (*apiclient.ModelStatus, error)
}

// Options configures an Editor. Zero values select defaults.
type Options struct {
	Store               *state.Store
	Catalog             *core.ModelCatalog
	History             db.Recorder
	StatusHideDelay     time.Duration
	ModeSwitchDelay     time.Duration
	DefaultModelVariant string
	DecomposeResolution int
	OnStatus            func(Status)
	Logger              *zap.Logger
}

// Editor is safe for concurrent use; actions may overlap.
type Editor struct {
	backend   Backend
	store     *state.Store
	stack     *canvas.Stack
	container *canvas.Container
	masker    *masking.Masker
	slider    *comparison.Slider
	view      *viewport.Viewport
	status    *StatusBar
	catalog   *core.ModelCatalog
	history   db.Recorder
	logger    *zap.Logger

	modeSwitchDelay time.Duration
	defaultVariant  string
	decomposeRes    int

	mu        sync.Mutex
	ticket    uint64
	modeTimer *time.Timer
	health    HealthView
	telemetry TelemetryView
}

// New builds an editor whose layers load through loader (normally the
// same *apiclient.Client as backend).
func New(backend Backend, loader canvas.Loader, opts Options) *Editor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := opts.Store
	if store == nil {
		store = state.NewStore(state.Initial())
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = core.DefaultModelCatalog()
	}
	delay := opts.ModeSwitchDelay
	if delay <= 0 {
		delay = DefaultModeSwitchDelay
	}
	variant := opts.DefaultModelVariant
	if variant == "" {
		variant = apiclient.DefaultModelVariant
	}

	stack := canvas.NewStack(loader, logger)
	container := canvas.NewContainer(stack)
	e := &Editor{
		backend:         backend,
		store:           store,
		stack:           stack,
		container:       container,
		masker:          masking.New(container, logger),
		slider:          comparison.NewSlider(stack, logger),
		view:            viewport.New(),
		status:          NewStatusBar(opts.StatusHideDelay, opts.OnStatus),
		catalog:         catalog,
		history:         opts.History,
		logger:          logger.Named("editor"),
		modeSwitchDelay: delay,
		defaultVariant:  variant,
		decomposeRes:    opts.DecomposeResolution,
	}
	e.health = HealthView{Text: healthOfflineMessage, Buttons: e.buttons("")}
	e.telemetry = TelemetryView{Buttons: e.buttons("")}
	return e
}

func (e *Editor) Store() *state.Store          { return e.store }
func (e *Editor) Stack() *canvas.Stack         { return e.stack }
func (e *Editor) Container() *canvas.Container { return e.container }
func (e *Editor) Masker() *masking.Masker      { return e.masker }
func (e *Editor) Slider() *comparison.Slider   { return e.slider }
func (e *Editor) Viewport() *viewport.Viewport { return e.view }
func (e *Editor) StatusBar() *StatusBar        { return e.status }
func (e *Editor) Catalog() *core.ModelCatalog  { return e.catalog }

// Close detaches the editor's subscribers and stops pending timers.
func (e *Editor) Close() {
	e.mu.Lock()
	if e.modeTimer != nil {
		e.modeTimer.Stop()
		e.modeTimer = nil
	}
	e.mu.Unlock()
	e.status.Close()
	e.masker.Close()
	e.slider.Close()
}

// SetMode validates and dispatches a mode change.
func (e *Editor) SetMode(mode string) error {
	m, err := state.ParseMode(mode)
	if err != nil {
		return &ValidationError{Message: err.Error()}
	}
	e.store.Dispatch(state.Action{Type: state.SetMode, Payload: m})
	return nil
}

// SetSourceFile checks that data is an image and makes it the source for
// decompose and stylize.
func (e *Editor) SetSourceFile(name string, data []byte) error {
	mime, err := canvas.SniffImage(data)
	if err != nil {
		e.logger.Warn("rejected source file", zap.String("name", name), zap.Error(err))
		return e.invalid(MsgNotAnImage)
	}
	e.store.Dispatch(state.Action{
		Type:    state.SetSourceFile,
		Payload: &state.SourceFile{Name: name, Data: data, MIME: mime},
	})
	e.logger.Debug("source file set", zap.String("name", name), zap.String("mime", mime), zap.Int("bytes", len(data)))
	return nil
}

// beginReset issues a ticket for an action that will reset the stack.
func (e *Editor) beginReset() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticket++
	return e.ticket
}

func (e *Editor) current(ticket uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ticket == e.ticket
}

// commitReset clears the stack if ticket is still the newest and returns
// the generation new layers must be added under.
func (e *Editor) commitReset(ticket uint64) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ticket != e.ticket {
		return 0, false
	}
	if e.modeTimer != nil {
		e.modeTimer.Stop()
		e.modeTimer = nil
	}
	return e.stack.Clear(), true
}

// scheduleMode switches mode after the delay unless a newer reset action
// was issued in between.
func (e *Editor) scheduleMode(ticket uint64, mode state.Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.modeTimer != nil {
		e.modeTimer.Stop()
	}
	e.modeTimer = time.AfterFunc(e.modeSwitchDelay, func() {
		if !e.current(ticket) {
			return
		}
		e.store.Dispatch(state.Action{Type: state.SetMode, Payload: mode})
	})
}

func (e *Editor) invalid(msg string) error {
	e.status.Show(msg, StatusError)
	return &ValidationError{Message: msg}
}

// fail reports a request failure. A VRAM safety refusal is shown verbatim.
func (e *Editor) fail(op, msg string, err error) error {
	if re, ok := apiclient.AsRequestError(err); ok && re.IsVRAMSafety() {
		msg = re.Message
	}
	e.status.Show(msg, StatusError)
	e.logger.Error(op+" failed", zap.Error(err))
	return err
}

// superseded logs a discarded result; the newer action owns the status bar.
func (e *Editor) superseded(op string, err error) error {
	e.logger.Info("discarding superseded result", zap.String("op", op), zap.NamedError("cause", err))
	return ErrSuperseded
}

func (e *Editor) record(ctx context.Context, entry db.HistoryEntry) {
	if e.history == nil {
		return
	}
	if err := e.history.Record(ctx, entry); err != nil {
		e.logger.Warn("failed to record history", zap.String("mode", entry.Mode), zap.Error(err))
	}
}
