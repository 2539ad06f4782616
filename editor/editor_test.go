package editor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"asset_editor/apiclient"
	"asset_editor/db"
	"asset_editor/masking"
	"asset_editor/state"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func solidPNG(t testing.TB, w, h int, c color.RGBA) []byte {
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

type memRecorder struct {
	mu      sync.Mutex
	entries []db.HistoryEntry
}

func (m *memRecorder) Record(_ context.Context, e db.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memRecorder) all() []db.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]db.HistoryEntry(nil), m.entries...)
}

// capturedForm is one multipart request seen by the fake backend.
type capturedForm struct {
	values map[string]string
	files  map[string][]byte
}

type harness struct {
	t       *testing.T
	mux     *http.ServeMux
	srv     *httptest.Server
	editor  *Editor
	history *memRecorder
	logs    *observer.ObservedLogs

	mu     sync.Mutex
	forms  map[string][]capturedForm
	images map[string][]byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		mux:     http.NewServeMux(),
		history: &memRecorder{},
		forms:   make(map[string][]capturedForm),
		images:  make(map[string][]byte),
	}
	h.mux.HandleFunc("/outputs/", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		data, ok := h.images[r.URL.Path]
		h.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	})
	h.srv = httptest.NewServer(h.mux)
	t.Cleanup(h.srv.Close)

	client, err := apiclient.New(h.srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	h.logs = logs
	h.editor = New(client, client, Options{
		History:         h.history,
		StatusHideDelay: time.Hour,
		ModeSwitchDelay: 10 * time.Millisecond,
		Logger:          zap.New(core),
	})
	t.Cleanup(h.editor.Close)
	return h
}

func (h *harness) image(path string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.images[path] = data
}

// capture parses and records the multipart form of r.
func (h *harness) capture(r *http.Request) capturedForm {
	cf := capturedForm{values: map[string]string{}, files: map[string][]byte{}}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		h.t.Errorf("ParseMultipartForm(%s): %v", r.URL.Path, err)
		return cf
	}
	for k, v := range r.MultipartForm.Value {
		cf.values[k] = v[0]
	}
	for k, fhs := range r.MultipartForm.File {
		cf.files[k] = readPart(h.t, fhs[0])
	}
	h.mu.Lock()
	h.forms[r.URL.Path] = append(h.forms[r.URL.Path], cf)
	h.mu.Unlock()
	return cf
}

func (h *harness) lastForm(path string) capturedForm {
	h.mu.Lock()
	defer h.mu.Unlock()
	forms := h.forms[path]
	if len(forms) == 0 {
		h.t.Fatalf("no request to %s", path)
	}
	return forms[len(forms)-1]
}

func (h *harness) requests(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.forms[path])
}

func readPart(t *testing.T, fh *multipart.FileHeader) []byte {
	f, err := fh.Open()
	if err != nil {
		t.Errorf("open part: %v", err)
		return nil
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	return data
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
	blue  = color.RGBA{0, 0, 255, 255}
)

func TestGenerate_Validation(t *testing.T) {
	h := newHarness(t)
	_, err := h.editor.Generate(context.Background(), GenerateInput{Prompt: "   "})
	if !IsValidationError(err) {
		t.Fatalf("Generate() error = %v, want ValidationError", err)
	}
	st := h.editor.StatusBar().Current()
	if st.Message != MsgEnterPrompt || st.Kind != StatusError {
		t.Errorf("status = %+v", st)
	}
	if h.requests("/api/txt2img") != 0 {
		t.Error("request sent despite validation failure")
	}
}

func TestGenerate_Success(t *testing.T) {
	h := newHarness(t)
	h.image("/outputs/s1/generated.png", solidPNG(t, 8, 6, red))
	h.mux.HandleFunc("/api/txt2img", func(w http.ResponseWriter, r *http.Request) {
		h.capture(r)
		writeJSON(w, 200, map[string]any{
			"session_id": "s1", "image": "/outputs/s1/generated.png",
			"seed": 9, "sampler": "euler", "vram_used": 7.5, "model": "flux",
		})
	})
	h.editor.Store().Dispatch(state.Action{Type: state.UpdateVRAMLimit, Payload: 12.0})
	h.editor.Store().Dispatch(state.Action{Type: state.UpdateGuidanceScale, Payload: "4.5"})

	res, err := h.editor.Generate(context.Background(), GenerateInput{Prompt: " a fox ", Width: 8, Height: 6})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Seed != 9 {
		t.Errorf("seed = %d", res.Seed)
	}

	form := h.lastForm("/api/txt2img")
	want := map[string]string{"prompt": "a fox", "vram_budget": "12", "guidance": "4.5", "steps": "20", "model_variant": "flux-4b"}
	for k, v := range want {
		if form.values[k] != v {
			t.Errorf("form %s = %q, want %q", k, form.values[k], v)
		}
	}

	stack := h.editor.Stack()
	if stack.Len() != 1 {
		t.Fatalf("stack has %d layers, want 1", stack.Len())
	}
	if w, ht := stack.Size(); w != 8 || ht != 6 {
		t.Errorf("stack size = %dx%d", w, ht)
	}
	if got := h.editor.StatusBar().Current().Message; got != "Generated (7.5GB VRAM)" {
		t.Errorf("status = %q", got)
	}
	entries := h.history.all()
	if len(entries) != 1 || entries[0].Mode != "generate" || entries[0].ImageURL != "/outputs/s1/generated.png" {
		t.Errorf("history = %+v", entries)
	}
}

func TestGenerate_UsesLoadedModel(t *testing.T) {
	h := newHarness(t)
	h.image("/outputs/s/generated.png", solidPNG(t, 2, 2, red))
	h.mux.HandleFunc("/api/txt2img", func(w http.ResponseWriter, r *http.Request) {
		h.capture(r)
		writeJSON(w, 200, map[string]any{"image": "/outputs/s/generated.png"})
	})
	h.editor.Store().Dispatch(state.Action{Type: state.SetLoadedModel, Payload: "qwen"})
	if _, err := h.editor.Generate(context.Background(), GenerateInput{Prompt: "p"}); err != nil {
		t.Fatal(err)
	}
	if got := h.lastForm("/api/txt2img").values["model_variant"]; got != "qwen" {
		t.Errorf("model_variant = %q, want qwen", got)
	}
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"vram safety", 400, `{"error":"VRAM SAFETY: request needs 14GB, budget 8GB"}`, "VRAM SAFETY: request needs 14GB, budget 8GB"},
		{"server error", 500, `{"error":"CUDA out of memory"}`, MsgGenerationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.mux.HandleFunc("/api/txt2img", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := h.editor.Generate(context.Background(), GenerateInput{Prompt: "p"})
			if _, ok := apiclient.AsRequestError(err); !ok {
				t.Fatalf("Generate() error = %v, want RequestError", err)
			}
			st := h.editor.StatusBar().Current()
			if st.Message != tt.wantMsg || st.Kind != StatusError {
				t.Errorf("status = %+v, want %q", st, tt.wantMsg)
			}
			if h.logs.FilterMessage("generate failed").Len() != 1 {
				t.Error("failure not logged")
			}
		})
	}
}

func TestGenerate_DecodeFailureLeavesStatus(t *testing.T) {
	h := newHarness(t)
	h.image("/outputs/bad.png", []byte("not a png"))
	h.mux.HandleFunc("/api/txt2img", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"image": "/outputs/bad.png"})
	})
	if _, err := h.editor.Generate(context.Background(), GenerateInput{Prompt: "p"}); err == nil {
		t.Fatal("expected decode error")
	}
	if h.editor.Stack().Len() != 0 {
		t.Error("stack should stay empty after decode failure")
	}
	if got := h.editor.StatusBar().Current().Message; got != MsgGenerationFailed {
		t.Errorf("status = %q", got)
	}
	if len(h.history.all()) != 0 {
		t.Error("failed generation was recorded")
	}
}

func TestGenerate_SupersededResultDiscarded(t *testing.T) {
	h := newHarness(t)
	h.image("/outputs/slow/generated.png", solidPNG(t, 4, 4, red))
	h.image("/outputs/fast/generated.png", solidPNG(t, 4, 4, green))
	release := make(chan struct{})
	h.mux.HandleFunc("/api/txt2img", func(w http.ResponseWriter, r *http.Request) {
		form := h.capture(r)
		if form.values["prompt"] == "slow" {
			<-release
			writeJSON(w, 200, map[string]any{"session_id": "slow", "image": "/outputs/slow/generated.png"})
			return
		}
		writeJSON(w, 200, map[string]any{"session_id": "fast", "image": "/outputs/fast/generated.png"})
	})

	ctx := context.Background()
	slowErr := make(chan error, 1)
	go func() {
		_, err := h.editor.Generate(ctx, GenerateInput{Prompt: "slow"})
		slowErr <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for h.requests("/api/txt2img") < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := h.editor.Generate(ctx, GenerateInput{Prompt: "fast"}); err != nil {
		t.Fatalf("fast Generate() error = %v", err)
	}
	close(release)
	if err := <-slowErr; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("slow Generate() error = %v, want ErrSuperseded", err)
	}

	layers := h.editor.Stack().Layers()
	if len(layers) != 1 || layers[0].Source.URL != "/outputs/fast/generated.png" {
		t.Fatalf("stack = %v, want only the fast result", layers)
	}
	if got := h.editor.StatusBar().Current().Message; !strings.HasPrefix(got, "Generated") {
		t.Errorf("status = %q", got)
	}
	if len(h.history.all()) != 1 {
		t.Errorf("history has %d entries, want 1", len(h.history.all()))
	}
}

func (h *harness) setupDecompose(n int) {
	h.t.Helper()
	colors := []color.RGBA{red, green, blue}
	urls := make([]string, n)
	for i := 0; i < n; i++ {
		urls[i] = "/outputs/d/layer_" + string(rune('0'+i)) + ".png"
		h.image(urls[i], solidPNG(h.t, 10, 10, colors[i%len(colors)]))
	}
	h.mux.HandleFunc("/api/decompose", func(w http.ResponseWriter, r *http.Request) {
		h.capture(r)
		writeJSON(w, 200, map[string]any{"session_id": "d", "layers": urls, "count": n})
	})
	if err := h.editor.SetSourceFile("photo.png", solidPNG(h.t, 10, 10, blue)); err != nil {
		h.t.Fatalf("SetSourceFile() error = %v", err)
	}
}

func TestDecompose_RequiresSource(t *testing.T) {
	h := newHarness(t)
	_, err := h.editor.Decompose(context.Background(), 4)
	if !IsValidationError(err) || h.editor.StatusBar().Current().Message != MsgNoImage {
		t.Errorf("Decompose() error = %v, status %q", err, h.editor.StatusBar().Current().Message)
	}
}

func TestDecompose_AddsLayersAndSwitchesToEdit(t *testing.T) {
	h := newHarness(t)
	h.setupDecompose(3)

	res, err := h.editor.Decompose(context.Background(), 3)
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	if res.Count != 3 {
		t.Errorf("count = %d", res.Count)
	}
	form := h.lastForm("/api/decompose")
	if form.values["layers"] != "3" || form.values["resolution"] != "640" {
		t.Errorf("form = %v", form.values)
	}
	if len(form.files["image"]) == 0 {
		t.Error("image part missing")
	}

	for i, l := range h.editor.Stack().Layers() {
		if l.Index != i || l.Z != i {
			t.Errorf("layer %d has Index=%d Z=%d", i, l.Index, l.Z)
		}
	}
	if got := h.editor.StatusBar().Current().Message; got != "Created 3 layers" {
		t.Errorf("status = %q", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.editor.Store().GetState().CurrentMode != state.ModeEdit && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if mode := h.editor.Store().GetState().CurrentMode; mode != state.ModeEdit {
		t.Errorf("mode = %q, want edit", mode)
	}
}

func TestDecompose_Failure(t *testing.T) {
	failing := newHarness(t)
	failing.mux.HandleFunc("/api/decompose", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 500, map[string]any{"error": "pipeline crashed"})
	})
	if err := failing.editor.SetSourceFile("a.png", solidPNG(t, 2, 2, red)); err != nil {
		t.Fatal(err)
	}
	if _, err := failing.editor.Decompose(context.Background(), 0); err == nil {
		t.Fatal("expected error")
	}
	if got := failing.editor.StatusBar().Current().Message; got != MsgDecomposeFailed {
		t.Errorf("status = %q", got)
	}
	if failing.editor.Store().GetState().CurrentMode != state.ModeGenerate {
		t.Error("mode changed after a failed decompose")
	}
}

func (h *harness) handleInpaint() {
	h.image("/outputs/e/inpainted.png", solidPNG(h.t, 10, 10, green))
	h.mux.HandleFunc("/api/inpaint", func(w http.ResponseWriter, r *http.Request) {
		h.capture(r)
		writeJSON(w, 200, map[string]any{"session_id": "e", "image": "/outputs/e/inpainted.png", "seed": 3})
	})
}

func TestEdit_Validation(t *testing.T) {
	h := newHarness(t)
	h.setupDecompose(2)
	ctx := context.Background()

	if _, err := h.editor.Edit(ctx, EditInput{Prompt: "hat"}); !IsValidationError(err) ||
		h.editor.StatusBar().Current().Message != MsgSelectLayer {
		t.Errorf("Edit() without layer = %v", err)
	}
	if _, err := h.editor.Decompose(ctx, 2); err != nil {
		t.Fatal(err)
	}
	h.editor.Stack().SelectLayer(0)
	if _, err := h.editor.Edit(ctx, EditInput{Prompt: ""}); !IsValidationError(err) ||
		h.editor.StatusBar().Current().Message != MsgEnterEditPrompt {
		t.Errorf("Edit() without prompt = %v", err)
	}
}

func TestEdit_AutoMask(t *testing.T) {
	h := newHarness(t)
	h.setupDecompose(2)
	h.handleInpaint()
	ctx := context.Background()
	if _, err := h.editor.Decompose(ctx, 2); err != nil {
		t.Fatal(err)
	}
	h.editor.Stack().SelectLayer(1)

	if _, err := h.editor.Edit(ctx, EditInput{Prompt: "add a hat", StrengthPercent: 60}); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	form := h.lastForm("/api/inpaint")
	if form.values["strength"] != "0.6" || form.values["use_alpha_mask"] != "true" {
		t.Errorf("form = %v", form.values)
	}
	if _, ok := form.files["mask"]; ok {
		t.Error("auto mode sent a mask")
	}
	if _, err := png.Decode(bytes.NewReader(form.files["image"])); err != nil {
		t.Errorf("layer blob is not a PNG: %v", err)
	}

	stack := h.editor.Stack()
	if stack.Len() != 3 {
		t.Fatalf("stack has %d layers, want 3", stack.Len())
	}
	after, _ := stack.Layer(2)
	if after.Z != 2 || after.Index != 2 {
		t.Errorf("after layer Index=%d Z=%d, want 2/2", after.Index, after.Z)
	}
	slider := h.editor.Slider()
	if !slider.Active() || slider.AfterIndex() != 2 || slider.Percent() != 50 {
		t.Errorf("slider active=%v after=%d percent=%v", slider.Active(), slider.AfterIndex(), slider.Percent())
	}
	if got := h.editor.StatusBar().Current().Message; got != MsgEditApplied {
		t.Errorf("status = %q", got)
	}
}

func TestEdit_ManualMask(t *testing.T) {
	h := newHarness(t)
	h.setupDecompose(1)
	h.handleInpaint()
	ctx := context.Background()
	if _, err := h.editor.Decompose(ctx, 1); err != nil {
		t.Fatal(err)
	}
	m := h.editor.Masker()
	m.SetMode(masking.ModeManual)
	h.editor.Stack().SelectLayer(0)
	m.SetDisplaySize(10, 10)
	m.PointerDown(5, 5)
	m.PointerUp()

	if _, err := h.editor.Edit(ctx, EditInput{Prompt: "sky"}); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	form := h.lastForm("/api/inpaint")
	if form.values["use_alpha_mask"] != "false" || form.values["strength"] != "0.85" {
		t.Errorf("form = %v", form.values)
	}
	mask, err := png.Decode(bytes.NewReader(form.files["mask"]))
	if err != nil {
		t.Fatalf("mask part: %v", err)
	}
	if r, _, _, _ := mask.At(5, 5).RGBA(); r != 0xffff {
		t.Errorf("painted pixel not white in mask")
	}
}

func TestEdit_DroppedWhenStackCleared(t *testing.T) {
	h := newHarness(t)
	h.setupDecompose(1)
	h.image("/outputs/e/inpainted.png", solidPNG(t, 10, 10, green))
	ctx := context.Background()
	if _, err := h.editor.Decompose(ctx, 1); err != nil {
		t.Fatal(err)
	}
	h.mux.HandleFunc("/api/inpaint", func(w http.ResponseWriter, r *http.Request) {
		h.editor.Stack().Clear()
		writeJSON(w, 200, map[string]any{"image": "/outputs/e/inpainted.png"})
	})
	h.editor.Stack().SelectLayer(0)
	if _, err := h.editor.Edit(ctx, EditInput{Prompt: "x"}); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Edit() = %v, want ErrSuperseded", err)
	}
	if h.editor.Stack().Len() != 0 {
		t.Error("stale edit result was added to a cleared stack")
	}
}

func TestStylize(t *testing.T) {
	tests := []struct {
		name  string
		canny bool
	}{
		{"plain", false},
		{"canny", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			source := solidPNG(t, 12, 12, blue)
			h.image("/outputs/st/stylized.png", solidPNG(t, 12, 12, red))
			h.mux.HandleFunc("/api/img2img", func(w http.ResponseWriter, r *http.Request) {
				h.capture(r)
				writeJSON(w, 200, map[string]any{"session_id": "st", "image": "/outputs/st/stylized.png", "seed": 1})
			})
			ctx := context.Background()
			if _, err := h.editor.Stylize(ctx, StylizeInput{Prompt: "oil"}); !IsValidationError(err) {
				t.Errorf("Stylize() without source = %v", err)
			}
			if err := h.editor.SetSourceFile("in.png", source); err != nil {
				t.Fatal(err)
			}
			h.editor.Store().Dispatch(state.Action{Type: state.SetCanny, Payload: tt.canny})

			if _, err := h.editor.Stylize(ctx, StylizeInput{Prompt: "oil"}); err != nil {
				t.Fatalf("Stylize() error = %v", err)
			}
			form := h.lastForm("/api/img2img")
			if form.values["strength"] != "0.75" {
				t.Errorf("strength = %q", form.values["strength"])
			}
			sent := form.files["image"]
			if tt.canny == bytes.Equal(sent, source) {
				t.Errorf("canny=%v but sent image equal to source = %v", tt.canny, bytes.Equal(sent, source))
			}
			if h.editor.Stack().Len() != 1 {
				t.Errorf("stack has %d layers", h.editor.Stack().Len())
			}
		})
	}
}

func TestSetSourceFile(t *testing.T) {
	h := newHarness(t)
	if err := h.editor.SetSourceFile("notes.txt", []byte("hello")); !IsValidationError(err) {
		t.Errorf("SetSourceFile(text) = %v", err)
	}
	if h.editor.Store().GetState().SourceFile != nil {
		t.Error("rejected file was stored")
	}
	if err := h.editor.SetSourceFile("a.png", solidPNG(t, 1, 1, red)); err != nil {
		t.Fatal(err)
	}
	src := h.editor.Store().GetState().SourceFile
	if src == nil || src.MIME != "image/png" || src.Name != "a.png" {
		t.Errorf("source = %+v", src)
	}
}

func TestSetMode(t *testing.T) {
	h := newHarness(t)
	if err := h.editor.SetMode("stylize"); err != nil {
		t.Fatal(err)
	}
	if h.editor.Store().GetState().CurrentMode != state.ModeStylize {
		t.Error("mode not set")
	}
	if err := h.editor.SetMode("paint"); !IsValidationError(err) {
		t.Errorf("SetMode(paint) = %v", err)
	}
}
