package canvas

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/transform"
)

// DefaultThumbnailSize bounds the longer side of layer-list thumbnails.
const DefaultThumbnailSize = 64

// EmptyLabel is shown in place of the list when the stack has no layers.
const EmptyLabel = "EMPTY"

// LayerItem is one row of the layer list.
type LayerItem struct {
	Index     int
	Label     string
	Selected  bool
	Visible   bool
	Thumbnail *image.RGBA
}

// LayerList builds the layer-list view model. Thumbnails fit within a
// size x size box preserving aspect ratio; size <= 0 skips them.
func (s *Stack) LayerList(size int) []LayerItem {
	var items []LayerItem
	s.view(func(layers []*Layer, selected, _, _ int) {
		items = make([]LayerItem, len(layers))
		for i, l := range layers {
			items[i] = LayerItem{
				Index:    i,
				Label:    fmt.Sprintf("Layer %d", i),
				Selected: i == selected,
				Visible:  l.Visible,
			}
			if size > 0 {
				items[i].Thumbnail = Thumbnail(l.Surface, size)
			}
		}
	})
	return items
}

// Thumbnail downsamples s to fit within size x size.
func Thumbnail(s *Surface, size int) *image.RGBA {
	w, h := s.Width(), s.Height()
	if w == 0 || h == 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	tw, th := size, size
	if w >= h {
		th = max(1, h*size/w)
	} else {
		tw = max(1, w*size/h)
	}
	return transform.Resize(s.Pixels(), tw, th, transform.Linear)
}
