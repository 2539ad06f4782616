package canvas

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Decoders the backend may hand back or the user may pick.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNotImage is returned when bytes are not a recognised image format.
var ErrNotImage = errors.New("not an image")

// SniffImage returns the MIME type of data, or ErrNotImage.
func SniffImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNotImage
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return "", ErrNotImage
	}
	if !filetype.IsImage(data) {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, kind.MIME.Value)
	}
	return kind.MIME.Value, nil
}

// DecodeImage sniffs and decodes data.
func DecodeImage(data []byte) (image.Image, error) {
	mime, err := SniffImage(data)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mime, err)
	}
	return img, nil
}
