// Package apiclient talks to the image generation backend.
//
// client.go is the Client organism. It composes:
//   - form.go: multipart request bodies
//   - types.go: request/response shapes and stats normalisation
//   - errors.go: RequestError for non-2xx and in-band error replies
//
// There is no retry or backoff; every failure is returned to the caller.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"asset_editor/core"

	"go.uber.org/zap"
)

// maxImageBytes bounds FetchImage downloads.
const maxImageBytes = 256 << 20

// Client is safe for concurrent use.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	logger     *zap.Logger
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (see core.GetHTTPClient).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l.Named("apiclient")
		}
	}
}

// New returns a client for the backend at baseURL (scheme and host, an
// optional path prefix, no trailing /api).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("apiclient: invalid base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("apiclient: base URL %q must be http(s)://host", baseURL)
	}
	c := &Client{
		base:       u,
		httpClient: &http.Client{Timeout: 300 * time.Second},
		logger:     zap.NewNop(),
		userAgent:  core.UserAgent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// TelemetryURL is the WebSocket endpoint derived from the base URL.
func (c *Client) TelemetryURL() string { return core.TelemetryURLFor(c.base.String()) }

// Resolve turns a backend path such as /outputs/<session>/layer_0.png into
// an absolute URL. Absolute URLs are returned unchanged.
func (c *Client) Resolve(ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("apiclient: invalid image reference %q: %w", ref, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	if !strings.HasPrefix(r.Path, "/") {
		r.Path = "/" + r.Path
	}
	resolved := *c.base
	resolved.Path = strings.TrimRight(c.base.Path, "/") + r.Path
	resolved.RawQuery = r.RawQuery
	return resolved.String(), nil
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/api" + path
	return u.String()
}

// do sends req and decodes a JSON body into out. Non-2xx replies become
// *RequestError.
func (c *Client) do(req *http.Request, name string, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("endpoint", name), zap.Error(err))
		return fmt.Errorf("apiclient: %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("apiclient: %s: failed to read response: %w", name, err)
	}
	c.logger.Debug("request complete",
		zap.String("endpoint", name),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newRequestError(name, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("apiclient: %s: failed to decode response: %w", name, err)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, f *form, out any) error {
	body, contentType, err := f.finish()
	if err != nil {
		return fmt.Errorf("apiclient: %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("apiclient: %s: failed to create request: %w", path, err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, path, out)
}

func (c *Client) post(ctx context.Context, path string, query url.Values, out any) error {
	target := c.endpoint(path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return fmt.Errorf("apiclient: %s: failed to create request: %w", path, err)
	}
	return c.do(req, path, out)
}

// Decompose splits an image into layers.
func (c *Client) Decompose(ctx context.Context, r DecomposeRequest) (*DecomposeResponse, error) {
	r = r.withDefaults()
	f := newForm()
	f.file("image", r.Filename, r.Image)
	f.int("layers", r.Layers)
	f.int("resolution", r.Resolution)

	var out DecomposeResponse
	if err := c.postForm(ctx, "/decompose", f, &out); err != nil {
		return nil, err
	}
	if out.Count == 0 {
		out.Count = len(out.Layers)
	}
	c.logger.Info("decomposed",
		zap.String("session_id", out.SessionID),
		zap.Int("layers", out.Count))
	return &out, nil
}

// Txt2Img synthesises an image from a prompt.
func (c *Client) Txt2Img(ctx context.Context, r Txt2ImgRequest) (*ImageResponse, error) {
	r = r.withDefaults()
	f := newForm()
	f.field("prompt", r.Prompt)
	f.int("width", r.Width)
	f.int("height", r.Height)
	f.float("guidance", r.Guidance)
	f.field("sampler", r.Sampler)
	f.field("scheduler", r.Scheduler)
	f.float("vram_budget", r.VRAMBudget)
	f.field("model_variant", r.ModelVariant)
	f.int("steps", r.Steps)
	f.int("seed", r.Seed)

	var out ImageResponse
	if err := c.postForm(ctx, "/txt2img", f, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Img2Img restyles an image.
func (c *Client) Img2Img(ctx context.Context, r Img2ImgRequest) (*ImageResponse, error) {
	r = r.withDefaults()
	f := newForm()
	f.file("image", "image.png", r.Image)
	f.field("prompt", r.Prompt)
	f.float("strength", r.Strength)

	var out ImageResponse
	if err := c.postForm(ctx, "/img2img", f, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Inpaint edits the masked region of an image. Without a mask the backend
// uses the image's alpha channel when UseAlphaMask is set.
func (c *Client) Inpaint(ctx context.Context, r InpaintRequest) (*ImageResponse, error) {
	r = r.withDefaults()
	f := newForm()
	f.file("image", "image.png", r.Image)
	f.field("prompt", r.Prompt)
	f.float("strength", r.Strength)
	f.bool("use_alpha_mask", r.UseAlphaMask)
	if len(r.Mask) > 0 {
		f.file("mask", "mask.png", r.Mask)
	}

	var out ImageResponse
	if err := c.postForm(ctx, "/inpaint", f, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches backend status and VRAM usage.
func (c *Client) Health(ctx context.Context) (*Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/health"), nil)
	if err != nil {
		return nil, fmt.Errorf("apiclient: /health: failed to create request: %w", err)
	}
	var out Stats
	if err := c.do(req, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Preload moves model onto the GPU.
func (c *Client) Preload(ctx context.Context, model string) (*ModelStatus, error) {
	var out ModelStatus
	if err := c.post(ctx, "/preload", url.Values{"model": {model}}, &out); err != nil {
		return nil, err
	}
	if err := out.err("/preload"); err != nil {
		return nil, err
	}
	if out.Model == "" {
		out.Model = model
	}
	c.logger.Info("model loaded", zap.String("model", out.Model))
	return &out, nil
}

// Offload moves the current model off the GPU.
func (c *Client) Offload(ctx context.Context) (*ModelStatus, error) {
	var out ModelStatus
	if err := c.post(ctx, "/offload", nil, &out); err != nil {
		return nil, err
	}
	if err := out.err("/offload"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Purge drops every cached pipeline on the backend.
func (c *Client) Purge(ctx context.Context) (*ModelStatus, error) {
	var out ModelStatus
	if err := c.post(ctx, "/purge", nil, &out); err != nil {
		return nil, err
	}
	if err := out.err("/purge"); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchImage downloads a result image. ref may be absolute or a backend
// path like /outputs/<session>/generated.png.
func (c *Client) FetchImage(ctx context.Context, ref string) ([]byte, error) {
	target, err := c.Resolve(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("apiclient: failed to create image request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apiclient: fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newRequestError(ref, resp.StatusCode, body)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("apiclient: fetch %s: %w", ref, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("apiclient: fetch %s: image exceeds %d bytes", ref, maxImageBytes)
	}
	return data, nil
}
