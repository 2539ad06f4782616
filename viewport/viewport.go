// Package viewport is the pan/zoom state of the canvas view.
package viewport

import (
	"fmt"
	"math"
	"sync"
)

// Zoom limits and the scale Reset returns to.
const (
	MinScale   = 0.1
	MaxScale   = 5.0
	ResetScale = 0.8
)

// PanState is the pointer state machine.
type PanState int

const (
	Idle PanState = iota
	Panning
)

func (p PanState) String() string {
	if p == Panning {
		return "panning"
	}
	return "idle"
}

// Button identifies a pointer button; only the primary button pans.
type Button int

const (
	ButtonPrimary Button = iota
	ButtonMiddle
	ButtonSecondary
)

// Point is a 2D offset in display pixels.
type Point struct {
	X, Y float64
}

// Viewport holds the wrapper transform. The zero value is not ready; use New.
type Viewport struct {
	mu     sync.Mutex
	scale  float64
	offset Point
	state  PanState
	start  Point
}

// New returns an identity viewport.
func New() *Viewport {
	return &Viewport{scale: 1}
}

// PointerDown begins panning on the primary button.
func (v *Viewport) PointerDown(b Button, x, y float64) {
	if b != ButtonPrimary {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = Panning
	v.start = Point{X: x - v.offset.X, Y: y - v.offset.Y}
}

// PointerMove updates the offset while panning.
func (v *Viewport) PointerMove(x, y float64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Panning {
		return false
	}
	v.offset = Point{X: x - v.start.X, Y: y - v.start.Y}
	return true
}

// PointerUp ends panning.
func (v *Viewport) PointerUp() {
	v.mu.Lock()
	v.state = Idle
	v.mu.Unlock()
}

// Wheel zooms by 1.1^(-deltaY/100), clamped to [MinScale, MaxScale].
func (v *Viewport) Wheel(deltaY float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scale = clamp(v.scale*math.Pow(1.1, -deltaY/100), MinScale, MaxScale)
	return v.scale
}

// Reset returns to ResetScale with no offset.
func (v *Viewport) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scale = ResetScale
	v.offset = Point{}
	v.state = Idle
}

func (v *Viewport) Scale() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.scale
}

func (v *Viewport) Offset() Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

func (v *Viewport) State() PanState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Transform renders the CSS-style transform for the wrapper.
func (v *Viewport) Transform() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return fmt.Sprintf("translate(%gpx, %gpx) scale(%g)", v.offset.X, v.offset.Y, v.scale)
}

// ToContent maps a display point to content coordinates.
func (v *Viewport) ToContent(x, y float64) Point {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Point{X: (x - v.offset.X) / v.scale, Y: (y - v.offset.Y) / v.scale}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
