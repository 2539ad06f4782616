package editor

import (
	"fmt"

	"asset_editor/canvas"

	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
)

// edgeThreshold binarizes the edge response into a control image.
const edgeThreshold = 48

// CannyEdges turns an encoded image into a white-on-black edge map PNG.
func CannyEdges(data []byte) ([]byte, error) {
	img, err := canvas.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("edge map: %w", err)
	}
	gray := effect.Grayscale(img)
	edges := effect.EdgeDetection(gray, 1.0)
	mask := segment.Threshold(edges, edgeThreshold)
	return canvas.SurfaceFromImage(mask).EncodePNG()
}
