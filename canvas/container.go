package canvas

import (
	"image"
	"sort"
	"sync"

	"golang.org/x/image/draw"
)

// MaskOverlayZ places the mask overlay above any layer.
const MaskOverlayZ = 1000

// Container is the document for a Stack: the stack's layers plus named
// overlays (the manual mask), composited in z-order at the container size.
type Container struct {
	stack *Stack

	mu       sync.Mutex
	overlays map[string]overlay
}

type overlay struct {
	z       int
	surface *Surface
}

// NewContainer wraps stack.
func NewContainer(stack *Stack) *Container {
	return &Container{stack: stack, overlays: make(map[string]overlay)}
}

// Stack returns the wrapped layer stack.
func (c *Container) Stack() *Stack { return c.stack }

// Attach adds or replaces the overlay called name.
func (c *Container) Attach(name string, z int, surface *Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlays[name] = overlay{z: z, surface: surface}
}

// Detach removes the overlay called name and reports whether it existed.
func (c *Container) Detach(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.overlays[name]
	delete(c.overlays, name)
	return ok
}

// Overlay returns the surface attached under name.
func (c *Container) Overlay(name string) (*Surface, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.overlays[name]
	return o.surface, ok
}

// PaintOverlay runs fn on the overlay surface called name while holding the
// container lock, so painting never races Composite. It reports whether the
// overlay exists.
func (c *Container) PaintOverlay(name string, fn func(*Surface)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.overlays[name]
	if ok {
		fn(o.surface)
	}
	return ok
}

// Size is the stack's container size.
func (c *Container) Size() (width, height int) {
	return c.stack.Size()
}

type drawable struct {
	z, order int
	surface  *Surface
	clipLeft float64
}

// Composite renders visible layers and overlays, lowest z first, each
// stretched to the container size. Ties keep insertion order; overlays come
// after layers at equal z.
func (c *Container) Composite() *image.RGBA {
	var out *image.RGBA
	c.stack.view(func(layers []*Layer, _ int, w, h int) {
		out = image.NewRGBA(image.Rect(0, 0, w, h))
		if w == 0 || h == 0 {
			return
		}

		items := make([]drawable, 0, len(layers)+2)
		for _, l := range layers {
			if l.Visible {
				items = append(items, drawable{z: l.Z, order: l.Index, surface: l.Surface, clipLeft: l.ClipLeft})
			}
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		names := make([]string, 0, len(c.overlays))
		for name := range c.overlays {
			names = append(names, name)
		}
		sort.Strings(names)
		for i, name := range names {
			o := c.overlays[name]
			items = append(items, drawable{z: o.z, order: len(layers) + i, surface: o.surface})
		}

		sort.SliceStable(items, func(i, j int) bool {
			if items[i].z != items[j].z {
				return items[i].z < items[j].z
			}
			return items[i].order < items[j].order
		})
		for _, it := range items {
			drawStretched(out, it.surface, it.clipLeft)
		}
	})
	return out
}

// drawStretched scales src over dst, skipping the left clipLeft percent of dst.
func drawStretched(dst *image.RGBA, src *Surface, clipLeft float64) {
	if src.Width() == 0 || src.Height() == 0 {
		return
	}
	b := dst.Bounds()
	clipX := b.Min.X + int(float64(b.Dx())*clipLeft/100+0.5)
	target := image.Rect(clipX, b.Min.Y, b.Max.X, b.Max.Y)
	if target.Empty() {
		return
	}

	if src.Bounds() == b {
		draw.Draw(dst, target, src.Pixels(), target.Min, draw.Over)
		return
	}

	scaled := image.NewRGBA(b)
	draw.ApproxBiLinear.Scale(scaled, b, src.Pixels(), src.Bounds(), draw.Src, nil)
	draw.Draw(dst, target, scaled, target.Min, draw.Over)
}

// CompositePNG encodes Composite.
func (c *Container) CompositePNG() ([]byte, error) {
	return SurfaceFromRGBA(c.Composite()).EncodePNG()
}
