// Package canvas is the layer compositor: an ordered stack of layer
// surfaces, a container that adds overlays and composites everything in
// z-order, and a layer-list view model for whatever front end renders it.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNoLayer is returned for an index outside the stack.
	ErrNoLayer = errors.New("no such layer")
	// ErrStaleLayer is returned when the stack was cleared while a layer
	// was loading. The result belongs to a superseded operation.
	ErrStaleLayer = errors.New("stack was reset while the layer loaded")
)

// Layer is one image in the stack.
type Layer struct {
	// Index is the layer's slot in Layers() and its list label.
	Index int
	// Z orders compositing; higher draws later.
	Z       int
	Source  Source
	Surface *Surface
	Visible bool
	// ClipLeft hides the leftmost ClipLeft percent of the layer when
	// compositing. The comparison slider drives it.
	ClipLeft float64
}

// EventKind identifies a stack notification.
type EventKind int

const (
	LayerAdded EventKind = iota
	LayerSelected
	VisibilityToggled
	LayerReplaced
	StackCleared
)

func (k EventKind) String() string {
	switch k {
	case LayerAdded:
		return "layer_added"
	case LayerSelected:
		return "layer_selected"
	case VisibilityToggled:
		return "visibility_toggled"
	case LayerReplaced:
		return "layer_replaced"
	case StackCleared:
		return "stack_cleared"
	}
	return "unknown"
}

// Event is delivered to subscribers after the stack changes. Layer is nil
// for StackCleared and for a selection that matched nothing.
type Event struct {
	Kind  EventKind
	Index int
	Layer *Layer
}

// Stack owns the layers and their surfaces. Methods are safe for
// concurrent use; subscribers run synchronously after the lock is released.
type Stack struct {
	loader Loader
	logger *zap.Logger

	mu         sync.Mutex
	layers     []*Layer
	selected   int
	width      int
	height     int
	generation uint64

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// NewStack creates an empty stack that fetches URL sources through loader.
func NewStack(loader Loader, logger *zap.Logger) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{
		loader:   loader,
		logger:   logger,
		selected: -1,
		subs:     make(map[int]func(Event)),
	}
}

// Subscribe registers fn for stack events and returns its remover.
func (s *Stack) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Stack) emit(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Generation identifies the current stack contents. It changes on Clear.
func (s *Stack) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// AddLayer loads src, sizes a new surface to its pixel dimensions and
// appends it with z-order index. It blocks until the image is decoded; on
// failure the stack is unchanged. Adding at index 0 (or into an unsized
// stack) sizes the container to the image.
func (s *Stack) AddLayer(ctx context.Context, src Source, index int) (*Layer, error) {
	return s.AddLayerIn(ctx, s.Generation(), src, index)
}

// AddLayerIn is AddLayer guarded by a generation from Generation or Clear:
// if the stack has been cleared since, the decoded layer is dropped and
// ErrStaleLayer is returned.
func (s *Stack) AddLayerIn(ctx context.Context, generation uint64, src Source, index int) (*Layer, error) {
	surface, err := load(ctx, s.loader, src)
	if err != nil {
		return nil, fmt.Errorf("failed to load layer %d from %s: %w", index, src, err)
	}

	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		s.logger.Debug("dropping stale layer",
			zap.Int("z", index),
			zap.Uint64("generation", generation))
		return nil, ErrStaleLayer
	}
	if index == 0 || s.width == 0 {
		s.width, s.height = surface.Width(), surface.Height()
	}
	layer := &Layer{
		Index:   len(s.layers),
		Z:       index,
		Source:  src,
		Surface: surface,
		Visible: true,
	}
	s.layers = append(s.layers, layer)
	s.mu.Unlock()

	s.logger.Debug("layer added",
		zap.Int("index", layer.Index),
		zap.Int("z", layer.Z),
		zap.Int("width", surface.Width()),
		zap.Int("height", surface.Height()))
	s.emit(Event{Kind: LayerAdded, Index: layer.Index, Layer: layer})
	return layer, nil
}

// SelectLayer selects the layer at index. An out-of-range index clears the
// selection; subscribers are notified either way.
func (s *Stack) SelectLayer(index int) {
	s.mu.Lock()
	var layer *Layer
	if index >= 0 && index < len(s.layers) {
		layer = s.layers[index]
		s.selected = index
	} else {
		s.selected = -1
	}
	s.mu.Unlock()
	s.emit(Event{Kind: LayerSelected, Index: index, Layer: layer})
}

// SelectedLayer returns the selected layer or nil.
func (s *Stack) SelectedLayer() *Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected < 0 || s.selected >= len(s.layers) {
		return nil
	}
	return s.layers[s.selected]
}

// SelectedIndex returns -1 when nothing is selected.
func (s *Stack) SelectedIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// ToggleVisibility flips the layer's visibility. Unknown indexes are ignored.
func (s *Stack) ToggleVisibility(index int) bool {
	s.mu.Lock()
	if index < 0 || index >= len(s.layers) {
		s.mu.Unlock()
		return false
	}
	layer := s.layers[index]
	layer.Visible = !layer.Visible
	s.mu.Unlock()
	s.emit(Event{Kind: VisibilityToggled, Index: index, Layer: layer})
	return true
}

// SetClip sets the layer's left clip inset in percent, clamped to [0, 100].
func (s *Stack) SetClip(index int, percent float64) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.layers) {
		return ErrNoLayer
	}
	s.layers[index].ClipLeft = percent
	return nil
}

// ReplaceLayer redraws the layer's existing surface with src. The surface
// keeps its size; src is drawn at the origin.
func (s *Stack) ReplaceLayer(ctx context.Context, index int, src Source) error {
	surface, err := load(ctx, s.loader, src)
	if err != nil {
		return fmt.Errorf("failed to load replacement for layer %d: %w", index, err)
	}

	s.mu.Lock()
	if index < 0 || index >= len(s.layers) {
		s.mu.Unlock()
		return ErrNoLayer
	}
	layer := s.layers[index]
	layer.Surface.Clear()
	layer.Surface.DrawImage(surface.Pixels())
	layer.Source = src
	s.mu.Unlock()

	s.emit(Event{Kind: LayerReplaced, Index: index, Layer: layer})
	return nil
}

// Clear removes every layer and the selection, and returns the new generation.
func (s *Stack) Clear() uint64 {
	s.mu.Lock()
	s.layers = nil
	s.selected = -1
	s.generation++
	gen := s.generation
	s.mu.Unlock()
	s.emit(Event{Kind: StackCleared, Index: -1})
	return gen
}

// LayerBlob PNG-encodes the layer's surface.
func (s *Stack) LayerBlob(index int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.layers) {
		return nil, fmt.Errorf("layer %d: %w", index, ErrNoLayer)
	}
	return s.layers[index].Surface.EncodePNG()
}

// Layer returns the layer at index.
func (s *Stack) Layer(index int) (*Layer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.layers) {
		return nil, false
	}
	return s.layers[index], true
}

// Layers returns the layers in insertion order.
func (s *Stack) Layers() []*Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Layer, len(s.layers))
	copy(out, s.layers)
	return out
}

func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers)
}

// Size is the container size set by the first layer; 0x0 until then.
func (s *Stack) Size() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// view runs fn with the stack locked.
func (s *Stack) view(fn func(layers []*Layer, selected, width, height int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.layers, s.selected, s.width, s.height)
}
