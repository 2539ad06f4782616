package canvas

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Source is where a layer's pixels came from: a backend URL (or
// /outputs/... path) or raw bytes.
type Source struct {
	URL  string
	Data []byte
}

// URLSource refers to an image the Loader fetches.
func URLSource(url string) Source { return Source{URL: url} }

// BytesSource carries encoded image bytes directly.
func BytesSource(data []byte) Source { return Source{Data: data} }

func (s Source) String() string {
	if s.URL != "" {
		return s.URL
	}
	return fmt.Sprintf("<%d bytes>", len(s.Data))
}

// Loader fetches encoded image bytes for a URL source.
type Loader interface {
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// BytesLoader serves URLs from memory. The zero value is empty and usable.
type BytesLoader struct {
	mu     sync.RWMutex
	images map[string][]byte
}

// Put registers data under url.
func (l *BytesLoader) Put(url string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.images == nil {
		l.images = make(map[string][]byte)
	}
	l.images[url] = data
}

func (l *BytesLoader) FetchImage(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, ok := l.images[url]
	if !ok {
		return nil, fmt.Errorf("image %q: %w", url, os.ErrNotExist)
	}
	return data, nil
}

// FileLoader treats URLs as local file paths.
type FileLoader struct{}

func (FileLoader) FetchImage(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// load resolves src to decoded pixels.
func load(ctx context.Context, loader Loader, src Source) (*Surface, error) {
	data := src.Data
	if src.URL != "" {
		if loader == nil {
			return nil, fmt.Errorf("no loader for %s", src.URL)
		}
		fetched, err := loader.FetchImage(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		data = fetched
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return SurfaceFromImage(img), nil
}
