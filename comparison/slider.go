// Package comparison implements the before/after slider: while active, the
// "after" layer is clipped from the left at the pointer's position.
package comparison

import (
	"math"
	"sync"

	"asset_editor/canvas"

	"go.uber.org/zap"
)

// StartPercent is where the divider sits when the slider is enabled.
const StartPercent = 50.0

// Slider tracks the divider and drives the after layer's clip inset.
type Slider struct {
	stack  *canvas.Stack
	logger *zap.Logger
	unsub  func()

	mu      sync.Mutex
	active  bool
	after   int
	percent float64
}

// NewSlider returns an inactive slider over stack.
func NewSlider(stack *canvas.Stack, logger *zap.Logger) *Slider {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Slider{stack: stack, logger: logger, after: -1}
	s.unsub = stack.Subscribe(func(ev canvas.Event) {
		if ev.Kind == canvas.StackCleared {
			s.mu.Lock()
			s.active, s.after, s.percent = false, -1, 0
			s.mu.Unlock()
		}
	})
	return s
}

// Close stops following the stack.
func (s *Slider) Close() { s.unsub() }

// Enable makes layer the after layer with the divider at 50%. A previous
// after layer loses its clip.
func (s *Slider) Enable(layer *canvas.Layer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.after >= 0 && s.after != layer.Index {
		s.stack.SetClip(s.after, 0)
	}
	if err := s.stack.SetClip(layer.Index, StartPercent); err != nil {
		return err
	}
	s.active = true
	s.after = layer.Index
	s.percent = StartPercent
	s.logger.Debug("comparison enabled", zap.Int("after_layer", layer.Index))
	return nil
}

// Disable removes the clip and deactivates.
func (s *Slider) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.after >= 0 {
		s.stack.SetClip(s.after, 0)
	}
	s.active = false
	s.after = -1
	s.percent = 0
}

// PointerMove moves the divider to clientX within a container whose left
// edge and width are given in the same units. It returns the new percent
// and false when the slider is inactive.
func (s *Slider) PointerMove(clientX, containerLeft, containerWidth float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return s.percent, false
	}
	s.percent = Position(clientX, containerLeft, containerWidth)
	s.stack.SetClip(s.after, s.percent)
	return s.percent, true
}

// Position converts a pointer x to a divider percent in [0, 100]. A
// non-positive or non-finite width, or a NaN pointer, yields 0.
func Position(clientX, containerLeft, containerWidth float64) float64 {
	if !(containerWidth > 0) || math.IsInf(containerWidth, 0) || math.IsNaN(clientX) || math.IsNaN(containerLeft) {
		return 0
	}
	x := clientX - containerLeft
	if x < 0 {
		x = 0
	}
	if x > containerWidth {
		x = containerWidth
	}
	return x / containerWidth * 100
}

func (s *Slider) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Percent is the divider position, 0 when inactive.
func (s *Slider) Percent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percent
}

// AfterIndex is the clipped layer's index, or -1.
func (s *Slider) AfterIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.after
}
