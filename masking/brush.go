package masking

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

// kappa places cubic control points so four curves approximate a circle.
const kappa = 0.5522847498

// brush rasterizes filled circles with antialiased edges. It reuses one
// rasterizer sized to the current dab.
type brush struct {
	z *vector.Rasterizer
}

func newBrush() *brush {
	return &brush{z: vector.NewRasterizer(0, 0)}
}

// dab composites a filled circle of colour c over dst.
func (b *brush) dab(dst *image.RGBA, cx, cy, r float64, c color.RGBA) {
	if r <= 0 {
		return
	}
	box := image.Rect(
		int(math.Floor(cx-r)), int(math.Floor(cy-r)),
		int(math.Ceil(cx+r))+1, int(math.Ceil(cy+r))+1,
	).Intersect(dst.Bounds())
	if box.Empty() {
		return
	}

	// path coordinates are relative to box.Min
	ox, oy := float32(cx)-float32(box.Min.X), float32(cy)-float32(box.Min.Y)
	rr := float32(r)
	k := rr * kappa

	b.z.Reset(box.Dx(), box.Dy())
	b.z.DrawOp = draw.Over
	b.z.MoveTo(ox+rr, oy)
	b.z.CubeTo(ox+rr, oy+k, ox+k, oy+rr, ox, oy+rr)
	b.z.CubeTo(ox-k, oy+rr, ox-rr, oy+k, ox-rr, oy)
	b.z.CubeTo(ox-rr, oy-k, ox-k, oy-rr, ox, oy-rr)
	b.z.CubeTo(ox+k, oy-rr, ox+rr, oy-k, ox+rr, oy)
	b.z.ClosePath()
	b.z.Draw(dst, box, image.NewUniform(c), image.Point{})
}
