package canvas

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// Surface is a premultiplied RGBA raster owned by exactly one layer or overlay.
type Surface struct {
	img *image.RGBA
}

// NewSurface returns a transparent w x h surface. Non-positive sizes yield an
// empty surface.
func NewSurface(w, h int) *Surface {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, w, h))}
}

// SurfaceFromImage copies img into a new surface of the same size.
func SurfaceFromImage(img image.Image) *Surface {
	b := img.Bounds()
	s := NewSurface(b.Dx(), b.Dy())
	s.DrawImage(img)
	return s
}

func (s *Surface) Width() int  { return s.img.Rect.Dx() }
func (s *Surface) Height() int { return s.img.Rect.Dy() }

// Bounds is always anchored at the origin.
func (s *Surface) Bounds() image.Rectangle { return s.img.Rect }

// Pixels exposes the backing raster. Callers must not retain it across
// mutations of the owning layer.
func (s *Surface) Pixels() *image.RGBA { return s.img }

// Clear makes every pixel transparent.
func (s *Surface) Clear() {
	for i := range s.img.Pix {
		s.img.Pix[i] = 0
	}
}

// DrawImage composites src over the surface at the origin without scaling.
func (s *Surface) DrawImage(src image.Image) {
	draw.Draw(s.img, s.img.Rect, src, src.Bounds().Min, draw.Over)
}

// Resize reallocates the raster, discarding its content.
func (s *Surface) Resize(w, h int) {
	*s = *NewSurface(w, h)
}

// EncodePNG serializes the surface.
func (s *Surface) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// SurfaceFromRGBA adopts img without copying.
func SurfaceFromRGBA(img *image.RGBA) *Surface {
	return &Surface{img: img}
}
