// Package masking produces inpainting masks. In auto mode the backend
// derives the mask from the layer's alpha channel; in manual mode the user
// paints translucent circles on an overlay above the selected layer.
package masking

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"asset_editor/canvas"

	"go.uber.org/zap"
)

// Mode selects how the mask is produced.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeManual Mode = "manual"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAuto, ModeManual:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mask mode %q", s)
}

// StrokeState is the pointer state machine.
type StrokeState int

const (
	Idle StrokeState = iota
	Drawing
)

func (s StrokeState) String() string {
	if s == Drawing {
		return "drawing"
	}
	return "idle"
}

const (
	// OverlayName is the container overlay key of the mask surface.
	OverlayName = "mask"
	// DefaultBrushSize is the brush radius in display pixels.
	DefaultBrushSize = 30
)

// BrushColor is rgba(255, 0, 0, 0.4), premultiplied.
var BrushColor = color.RGBA{R: 102, G: 0, B: 0, A: 102}

// Masker owns the manual mask overlay and follows layer selection on the
// container's stack.
type Masker struct {
	container *canvas.Container
	logger    *zap.Logger
	unsub     func()

	mu        sync.Mutex
	mode      Mode
	state     StrokeState
	brushSize int
	hasMask   bool
	maskW     int
	maskH     int
	displayW  float64
	displayH  float64
	brush     *brush
}

// New returns a Masker in auto mode subscribed to container's stack.
func New(container *canvas.Container, logger *zap.Logger) *Masker {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Masker{
		container: container,
		logger:    logger,
		mode:      ModeAuto,
		brushSize: DefaultBrushSize,
		brush:     newBrush(),
	}
	m.unsub = container.Stack().Subscribe(m.onStackEvent)
	return m
}

// Close detaches from the stack and drops any mask.
func (m *Masker) Close() {
	m.unsub()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discardLocked()
}

func (m *Masker) onStackEvent(ev canvas.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.Kind {
	case canvas.LayerSelected:
		if m.mode != ModeManual {
			return
		}
		if ev.Layer == nil {
			m.discardLocked()
			return
		}
		m.createLocked(ev.Layer)
	case canvas.StackCleared:
		m.discardLocked()
	}
}

// SetMode switches modes. Entering manual with a layer selected creates the
// overlay immediately; leaving manual discards it.
func (m *Masker) SetMode(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mode == m.mode {
		return
	}
	m.mode = mode
	m.logger.Debug("mask mode changed", zap.String("mode", string(mode)))

	if mode != ModeManual {
		m.discardLocked()
		return
	}
	if layer := m.container.Stack().SelectedLayer(); layer != nil {
		m.createLocked(layer)
	}
}

// Mode returns the current mode.
func (m *Masker) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// UseAlphaMask reports whether the backend should derive the mask itself.
func (m *Masker) UseAlphaMask() bool {
	return m.Mode() == ModeAuto
}

// State returns the stroke state.
func (m *Masker) State() StrokeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BrushSize returns the radius in display pixels.
func (m *Masker) BrushSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.brushSize
}

// SetBrushSize sets the radius in display pixels; values below 1 become 1.
func (m *Masker) SetBrushSize(size int) {
	if size < 1 {
		size = 1
	}
	m.mu.Lock()
	m.brushSize = size
	m.mu.Unlock()
}

// HasMask reports whether a mask overlay is attached.
func (m *Masker) HasMask() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasMask
}

// SetDisplaySize tells the masker how large the overlay is on screen.
// Pointer coordinates are scaled by mask size / display size. Until it is
// called the overlay is assumed to be shown at 1:1.
func (m *Masker) SetDisplaySize(width, height float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.displayW, m.displayH = width, height
}

// PointerDown starts a stroke at (x, y), relative to the overlay's
// top-left corner in display pixels.
func (m *Masker) PointerDown(x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasMask {
		return
	}
	m.state = Drawing
	m.paintLocked(x, y)
}

// PointerMove continues a stroke.
func (m *Masker) PointerMove(x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Drawing || !m.hasMask {
		return
	}
	m.paintLocked(x, y)
}

// PointerUp ends the stroke.
func (m *Masker) PointerUp() {
	m.mu.Lock()
	m.state = Idle
	m.mu.Unlock()
}

// PointerLeave ends the stroke like PointerUp.
func (m *Masker) PointerLeave() {
	m.PointerUp()
}

// ClearMask erases the painted mask but keeps the overlay.
func (m *Masker) ClearMask() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasMask {
		m.container.PaintOverlay(OverlayName, (*canvas.Surface).Clear)
	}
}

// MaskBlob returns a PNG where painted pixels are opaque white and all
// others opaque black. It returns nil, nil when there is no overlay.
func (m *Masker) MaskBlob() ([]byte, error) {
	m.mu.Lock()
	if !m.hasMask {
		m.mu.Unlock()
		return nil, nil
	}
	var out *image.RGBA
	m.container.PaintOverlay(OverlayName, func(s *canvas.Surface) {
		out = binarize(s.Pixels())
	})
	m.mu.Unlock()

	if out == nil {
		return nil, nil
	}
	return canvas.SurfaceFromRGBA(out).EncodePNG()
}

// binarize maps alpha > 0 to white and everything else to black.
func binarize(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		si := src.PixOffset(b.Min.X, b.Min.Y+y)
		di := out.PixOffset(0, y)
		for x := 0; x < b.Dx(); x, si, di = x+1, si+4, di+4 {
			v := uint8(0)
			if src.Pix[si+3] > 0 {
				v = 255
			}
			out.Pix[di], out.Pix[di+1], out.Pix[di+2], out.Pix[di+3] = v, v, v, 255
		}
	}
	return out
}

// caller holds m.mu
func (m *Masker) createLocked(layer *canvas.Layer) {
	w, h := layer.Surface.Width(), layer.Surface.Height()
	m.container.Attach(OverlayName, canvas.MaskOverlayZ, canvas.NewSurface(w, h))
	m.hasMask = true
	m.maskW, m.maskH = w, h
	m.state = Idle
	m.logger.Debug("mask overlay created",
		zap.Int("layer", layer.Index),
		zap.Int("width", w),
		zap.Int("height", h))
}

// caller holds m.mu
func (m *Masker) discardLocked() {
	if !m.hasMask {
		return
	}
	m.container.Detach(OverlayName)
	m.hasMask = false
	m.state = Idle
	m.logger.Debug("mask overlay removed")
}

// caller holds m.mu
func (m *Masker) paintLocked(x, y float64) {
	scaleX, scaleY := 1.0, 1.0
	if m.displayW > 0 && m.displayH > 0 {
		scaleX = float64(m.maskW) / m.displayW
		scaleY = float64(m.maskH) / m.displayH
	}
	cx, cy := x*scaleX, y*scaleY
	radius := float64(m.brushSize) * scaleX
	m.container.PaintOverlay(OverlayName, func(s *canvas.Surface) {
		m.brush.dab(s.Pixels(), cx, cy, radius, BrushColor)
	})
}
