package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"asset_editor/core"

	"github.com/gorilla/websocket"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// testEnv points the CLI at backend and a throwaway data directory.
func testEnv(t *testing.T, backend string) (outputDir string) {
	t.Helper()
	dir := t.TempDir()
	outputDir = filepath.Join(dir, "out")
	t.Setenv("BACKEND_URL", backend)
	t.Setenv("DATA_DIR", dir)
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "history.db"))
	t.Setenv("OUTPUT_DIR", outputDir)
	t.Setenv("ASSET_EDITOR_LOG_LEVEL", "error")
	t.Setenv("VRAM_BUDGET_GB", "6")
	return outputDir
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	if code != core.ExitCodeSuccess || !strings.HasPrefix(out, core.Version) {
		t.Errorf("version: code %d, output %q", code, out)
	}
}

func TestRun_Usage(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	testEnv(t, srv.URL)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"paint"}},
		{"bad flag", []string{"generate", "-nope"}},
		{"missing image", []string{"decompose"}},
		{"bad points", []string{"edit", "-prompt", "x", "-paint", "1;2", "a.png"}},
		{"bad mode", []string{"history", "-mode", "paint"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCLI(t, tt.args...); code != core.ExitCodeUsage {
				t.Errorf("exit code = %d, want %d", code, core.ExitCodeUsage)
			}
		})
	}
}

func TestRun_MissingExplicitEnvFile(t *testing.T) {
	code, _, errOut := runCLI(t, "-env", filepath.Join(t.TempDir(), "absent.env"), "health")
	if code != core.ExitCodeError || !strings.Contains(errOut, "Configuration file not found") {
		t.Errorf("code %d, stderr %q", code, errOut)
	}
}

func TestRun_Health(t *testing.T) {
	var offline atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if offline.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"vram":   map[string]any{"allocated_gb": 6.5, "reserved_gb": 7, "current_model": "flux"},
		})
	}))
	defer srv.Close()
	testEnv(t, srv.URL)

	code, out, _ := runCLI(t, "health")
	if code != core.ExitCodeSuccess {
		t.Fatalf("health exit code = %d", code)
	}
	if !strings.Contains(out, "VRAM: 6.5GB / 16GB | FLUX.2 Klein") || !strings.Contains(out, "FLUX.2 Klein (8GB) EJECT") {
		t.Errorf("health output = %q", out)
	}

	offline.Store(true)
	code, out, _ = runCLI(t, "health")
	if code != core.ExitCodeBackendDown || !strings.Contains(out, "VRAM: offline") {
		t.Errorf("offline: code %d, output %q", code, out)
	}
}

func TestRun_GenerateThenHistory(t *testing.T) {
	generated := pngBytes(t, 16, 8)
	var mu sync.Mutex
	var budget string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/txt2img", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		mu.Lock()
		budget = r.FormValue("vram_budget")
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id": "s42", "image": "/outputs/s42/generated.png", "seed": 7, "vram_used": 5.5,
		})
	})
	mux.HandleFunc("/outputs/s42/generated.png", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(generated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	outputDir := testEnv(t, srv.URL)

	code, out, errOut := runCLI(t, "generate", "-prompt", "a red fox")
	if code != core.ExitCodeSuccess {
		t.Fatalf("generate exit code = %d\nstdout: %s\nstderr: %s", code, out, errOut)
	}
	if !strings.Contains(out, "Generated (5.5GB VRAM)") {
		t.Errorf("stdout = %q", out)
	}
	mu.Lock()
	if budget != "6" {
		t.Errorf("vram_budget = %q, want 6", budget)
	}
	mu.Unlock()

	data, err := os.ReadFile(filepath.Join(outputDir, "generate-s42.png"))
	if err != nil {
		t.Fatalf("export missing: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width != 16 || cfg.Height != 8 {
		t.Errorf("export = %+v, %v", cfg, err)
	}

	code, out, _ = runCLI(t, "history", "-limit", "5")
	if code != core.ExitCodeSuccess {
		t.Fatalf("history exit code = %d", code)
	}
	if !strings.Contains(out, "generate") || !strings.Contains(out, "a red fox") || !strings.Contains(out, "/outputs/s42/generated.png") {
		t.Errorf("history output = %q", out)
	}
}

func TestRun_GenerateValidation(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	testEnv(t, srv.URL)
	code, out, _ := runCLI(t, "generate")
	if code != core.ExitCodeError || !strings.Contains(out, "Enter a prompt") {
		t.Errorf("code %d, output %q", code, out)
	}
}

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func readPNG(t *testing.T, path string) image.Image {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("export missing: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("%s is not png: %v", path, err)
	}
	return img
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func writeSource(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeBackend serves images under /outputs/ and records the multipart form
// of every POST it answers.
type fakeBackend struct {
	t      *testing.T
	srv    *httptest.Server
	mux    *http.ServeMux
	mu     sync.Mutex
	fields map[string]map[string]string
	files  map[string]map[string][]byte
}

func newFakeBackend(t *testing.T, images map[string][]byte) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:      t,
		mux:    http.NewServeMux(),
		fields: map[string]map[string]string{},
		files:  map[string]map[string][]byte{},
	}
	b.mux.HandleFunc("/outputs/", func(w http.ResponseWriter, r *http.Request) {
		data, ok := images[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})
	b.srv = httptest.NewServer(b.mux)
	t.Cleanup(b.srv.Close)
	return b
}

// reply answers path with body as JSON.
func (b *fakeBackend) reply(path string, body any) {
	b.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			b.t.Errorf("%s: ParseMultipartForm: %v", path, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fields := map[string]string{}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		files := map[string][]byte{}
		for k, headers := range r.MultipartForm.File {
			f, err := headers[0].Open()
			if err != nil {
				b.t.Errorf("%s: open %s: %v", path, k, err)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				b.t.Errorf("%s: read %s: %v", path, k, err)
				return
			}
			files[k] = data
		}
		b.mu.Lock()
		b.fields[path] = fields
		b.files[path] = files
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (b *fakeBackend) form(path string) (map[string]string, map[string][]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fields[path], b.files[path]
}

var (
	blue  = color.RGBA{0, 0, 255, 255}
	green = color.RGBA{0, 255, 0, 255}
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

func TestRun_Decompose(t *testing.T) {
	backend := newFakeBackend(t, map[string][]byte{
		"/outputs/d1/layer_0.png": solidPNG(t, 16, 8, blue),
		"/outputs/d1/layer_1.png": solidPNG(t, 16, 8, green),
	})
	backend.reply("/api/decompose", map[string]any{
		"session_id": "d1",
		"layers":     []string{"/outputs/d1/layer_0.png", "/outputs/d1/layer_1.png"},
		"count":      2,
	})
	outputDir := testEnv(t, backend.srv.URL)
	source := writeSource(t, pngBytes(t, 16, 8))

	code, out, errOut := runCLI(t, "decompose", "-layers", "2", source)
	if code != core.ExitCodeSuccess {
		t.Fatalf("decompose exit code = %d\nstdout: %s\nstderr: %s", code, out, errOut)
	}
	if !strings.Contains(out, "Created 2 layers") {
		t.Errorf("stdout = %q", out)
	}

	fields, files := backend.form("/api/decompose")
	if fields["layers"] != "2" || fields["resolution"] != "640" {
		t.Errorf("decompose form = %v", fields)
	}
	if len(files["image"]) == 0 {
		t.Error("decompose request carried no image")
	}

	for i, want := range []color.RGBA{blue, green} {
		path := filepath.Join(outputDir, "decompose-d1", fmt.Sprintf("layer_%d.png", i))
		img := readPNG(t, path)
		if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
			t.Errorf("layer %d bounds = %v", i, b)
		}
		if got := rgbaAt(img, 3, 3); got != want {
			t.Errorf("layer %d pixel = %v, want %v", i, got, want)
		}
	}
}

func TestRun_Edit(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantAlpha    string
		wantStrength string
		wantMask     bool
		// pixel colors of the export on either side of x = 4
		wantLeft, wantRight color.RGBA
	}{
		{
			name:         "backend mask, full result",
			args:         []string{"-prompt", "make it green", "-strength", "60"},
			wantAlpha:    "true",
			wantStrength: "0.6",
			wantLeft:     green, wantRight: green,
		},
		{
			name:         "painted mask",
			args:         []string{"-prompt", "make it green", "-paint", "2,2", "-brush", "2"},
			wantAlpha:    "false",
			wantStrength: "0.85",
			wantMask:     true,
			wantLeft:     green, wantRight: green,
		},
		{
			name:         "comparison kept",
			args:         []string{"-prompt", "make it green", "-compare", "50"},
			wantAlpha:    "true",
			wantStrength: "0.85",
			wantLeft:     blue, wantRight: green,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend(t, map[string][]byte{
				"/outputs/e1/edited.png": solidPNG(t, 8, 4, green),
			})
			backend.reply("/api/inpaint", map[string]any{
				"session_id": "e1", "image": "/outputs/e1/edited.png", "seed": 3,
			})
			testEnv(t, backend.srv.URL)
			source := writeSource(t, solidPNG(t, 8, 4, blue))
			out := filepath.Join(t.TempDir(), "edit.png")

			args := append([]string{"edit", "-out", out}, tt.args...)
			code, stdout, errOut := runCLI(t, append(args, source)...)
			if code != core.ExitCodeSuccess {
				t.Fatalf("edit exit code = %d\nstdout: %s\nstderr: %s", code, stdout, errOut)
			}
			if !strings.Contains(stdout, "Edit applied") {
				t.Errorf("stdout = %q", stdout)
			}

			fields, files := backend.form("/api/inpaint")
			if fields["prompt"] != "make it green" || fields["use_alpha_mask"] != tt.wantAlpha {
				t.Errorf("inpaint form = %v", fields)
			}
			if fields["strength"] != tt.wantStrength {
				t.Errorf("strength = %q, want %s", fields["strength"], tt.wantStrength)
			}
			mask, hasMask := files["mask"]
			if hasMask != tt.wantMask {
				t.Fatalf("mask part present = %v, want %v", hasMask, tt.wantMask)
			}
			if hasMask {
				img, err := png.Decode(bytes.NewReader(mask))
				if err != nil {
					t.Fatalf("mask is not png: %v", err)
				}
				if got := rgbaAt(img, 2, 2); got != white {
					t.Errorf("painted mask pixel = %v, want white", got)
				}
				if got := rgbaAt(img, 7, 0); got != black {
					t.Errorf("unpainted mask pixel = %v, want black", got)
				}
			}

			img := readPNG(t, out)
			for y := 0; y < 4; y++ {
				if got := rgbaAt(img, 1, y); got != tt.wantLeft {
					t.Errorf("export(1,%d) = %v, want %v", y, got, tt.wantLeft)
				}
				if got := rgbaAt(img, 6, y); got != tt.wantRight {
					t.Errorf("export(6,%d) = %v, want %v", y, got, tt.wantRight)
				}
			}
			// The brush overlay never reaches the export.
			if got := rgbaAt(img, 2, 2); got != tt.wantLeft {
				t.Errorf("export(2,2) = %v, want %v", got, tt.wantLeft)
			}
		})
	}
}

func TestRun_Stylize(t *testing.T) {
	source := solidPNG(t, 12, 12, black)
	for _, canny := range []bool{false, true} {
		t.Run(fmt.Sprintf("canny=%v", canny), func(t *testing.T) {
			backend := newFakeBackend(t, map[string][]byte{
				"/outputs/st1/styled.png": solidPNG(t, 12, 12, green),
			})
			backend.reply("/api/img2img", map[string]any{
				"session_id": "st1", "image": "/outputs/st1/styled.png", "seed": 9,
			})
			outputDir := testEnv(t, backend.srv.URL)

			args := []string{"stylize", "-prompt", "watercolor", "-strength", "0.6"}
			if canny {
				args = append(args, "-canny")
			}
			code, stdout, errOut := runCLI(t, append(args, writeSource(t, source))...)
			if code != core.ExitCodeSuccess {
				t.Fatalf("stylize exit code = %d\nstdout: %s\nstderr: %s", code, stdout, errOut)
			}

			fields, files := backend.form("/api/img2img")
			if fields["prompt"] != "watercolor" || fields["strength"] != "0.6" {
				t.Errorf("img2img form = %v", fields)
			}
			if sent := files["image"]; bytes.Equal(sent, source) == canny {
				t.Errorf("canny=%v: uploaded image equal to source = %v", canny, !canny)
			}

			img := readPNG(t, filepath.Join(outputDir, "stylize-st1.png"))
			if got := rgbaAt(img, 5, 5); got != green {
				t.Errorf("export pixel = %v, want green", got)
			}
		})
	}
}

func TestRun_Watch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/telemetry", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		frame := `{"vram_used":9.5,"vram_total":16,"ram_used_gb":8,"cpu_percent":25.6,"model":"flux"}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"vram":   map[string]any{"allocated_gb": 6.5, "reserved_gb": 7, "current_model": "flux"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	testEnv(t, srv.URL)
	t.Setenv("TELEMETRY_URL", "")
	t.Setenv("TELEMETRY_RECONNECT_MS", "20")
	t.Setenv("HEALTH_INTERVAL_MS", "50")

	code, out, errOut := runCLI(t, "watch", "-duration", "400ms")
	if code != core.ExitCodeSuccess {
		t.Fatalf("watch exit code = %d\nstdout: %s\nstderr: %s", code, out, errOut)
	}
	for _, want := range []string{
		"Telemetry connected",
		"RAM 8GB",
		"CPU 26%",
		"VRAM: 6.5GB / 16GB | FLUX.2 Klein",
		"1 frames over 1 connections, peak VRAM 9.5GB",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("watch output missing %q:\n%s", want, out)
		}
	}
}

func TestParsePoints(t *testing.T) {
	tests := []struct {
		in      string
		want    [][2]float64
		wantErr bool
	}{
		{"", nil, false},
		{"10,20", [][2]float64{{10, 20}}, false},
		{" 1.5, 2 ; 3,4; ", [][2]float64{{1.5, 2}, {3, 4}}, false},
		{"1", nil, true},
		{"a,2", nil, true},
	}
	for _, tt := range tests {
		got, err := parsePoints(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePoints(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parsePoints(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWriteExport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	path, err := writeExport(dir, "x.png", []byte("data"))
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(path); string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the export", len(entries))
	}
}

func TestBar(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{0, ".........."},
		{50, "#####....."},
		{130, "##########"},
		{-5, ".........."},
	}
	for _, tt := range tests {
		if got := bar(tt.pct, 10); got != tt.want {
			t.Errorf("bar(%v) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}
