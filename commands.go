package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"asset_editor/apiclient"
	"asset_editor/canvas"
	"asset_editor/db"
	"asset_editor/editor"
	"asset_editor/masking"
	"asset_editor/state"
	"asset_editor/telemetry"

	"go.uber.org/zap"
)

func vramBudget(gb float64) state.Action {
	return state.Action{Type: state.UpdateVRAMLimit, Payload: gb}
}

func guidance(v float64) state.Action {
	return state.Action{Type: state.UpdateGuidanceScale, Payload: v}
}

func steps(n int) state.Action {
	return state.Action{Type: state.SetInferenceSteps, Payload: n}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usagef("%s: %v", fs.Name(), err)
	}
	return nil
}

// readSource loads the single positional image argument.
func readSource(fs *flag.FlagSet) (string, []byte, error) {
	if fs.NArg() != 1 {
		return "", nil, usagef("%s: expected one image path", fs.Name())
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return filepath.Base(path), data, nil
}

func cmdGenerate(a *app, args []string) error {
	fs := newFlagSet("generate")
	prompt := fs.String("prompt", "", "text prompt")
	width := fs.Int("width", apiclient.DefaultWidth, "image width")
	height := fs.Int("height", apiclient.DefaultHeight, "image height")
	seed := fs.Int("seed", -1, "seed, -1 for random")
	stepCount := fs.Int("steps", 0, "inference steps (0 uses INFERENCE_STEPS)")
	scale := fs.Float64("guidance", 0, "guidance scale (0 uses GUIDANCE_SCALE)")
	vram := fs.Float64("vram", 0, "VRAM budget in GB (0 uses VRAM_BUDGET_GB)")
	model := fs.String("model", "", "model variant")
	out := fs.String("out", "", "output file (default: OUTPUT_DIR)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *vram > 0 {
		a.editor.Store().Dispatch(vramBudget(*vram))
	}
	if *scale > 0 {
		a.out.note(editor.GuidanceHint(*scale))
	}

	ctx := a.mgr.Context()
	res, err := a.editor.Generate(ctx, editor.GenerateInput{
		Prompt:       *prompt,
		Width:        *width,
		Height:       *height,
		Guidance:     *scale,
		ModelVariant: *model,
		Steps:        *stepCount,
		Seed:         *seed,
	})
	if err != nil {
		return err
	}
	return a.exportComposite("generate", res.SessionID, *out)
}

func cmdDecompose(a *app, args []string) error {
	fs := newFlagSet("decompose")
	layers := fs.Int("layers", apiclient.DefaultDecomposeLayers, "number of layers")
	outDir := fs.String("out", "", "output directory (default: OUTPUT_DIR/<session>)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	name, data, err := readSource(fs)
	if err != nil {
		return err
	}
	if err := a.editor.SetSourceFile(name, data); err != nil {
		return err
	}

	res, err := a.editor.Decompose(a.mgr.Context(), *layers)
	if err != nil {
		return err
	}
	dir := *outDir
	if dir == "" {
		dir = filepath.Join(a.cfg.OutputDir, sessionName("decompose", res.SessionID))
	}
	stack := a.editor.Stack()
	for i := 0; i < stack.Len(); i++ {
		blob, err := stack.LayerBlob(i)
		if err != nil {
			return err
		}
		path, err := writeExport(dir, fmt.Sprintf("layer_%d.png", i), blob)
		if err != nil {
			return err
		}
		a.out.exported(path, len(blob))
	}
	return nil
}

func cmdEdit(a *app, args []string) error {
	fs := newFlagSet("edit")
	prompt := fs.String("prompt", "", "edit prompt")
	strength := fs.Int("strength", editor.DefaultEditStrength, "edit strength in percent")
	paint := fs.String("paint", "", "manual mask strokes as x,y;x,y (image pixels); empty lets the backend mask")
	brush := fs.Int("brush", masking.DefaultBrushSize, "brush radius for -paint")
	compare := fs.Float64("compare", -1, "keep the before/after split at this percent in the export")
	out := fs.String("out", "", "output file (default: OUTPUT_DIR)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	points, err := parsePoints(*paint)
	if err != nil {
		return usagef("edit: %v", err)
	}
	_, data, err := readSource(fs)
	if err != nil {
		return err
	}

	ctx := a.mgr.Context()
	stack := a.editor.Stack()
	if _, err := stack.AddLayer(ctx, canvas.BytesSource(data), 0); err != nil {
		return err
	}
	stack.SelectLayer(0)
	if len(points) > 0 {
		m := a.editor.Masker()
		m.SetMode(masking.ModeManual)
		m.SetBrushSize(*brush)
		for _, p := range points {
			m.PointerDown(p[0], p[1])
			m.PointerUp()
		}
	}

	res, err := a.editor.Edit(ctx, editor.EditInput{Prompt: *prompt, StrengthPercent: *strength})
	if err != nil {
		return err
	}
	// Leaving manual mode detaches the brush overlay so it stays out of the export.
	a.editor.Masker().SetMode(masking.ModeAuto)
	slider := a.editor.Slider()
	if *compare >= 0 {
		slider.PointerMove(*compare, 0, 100)
	} else {
		slider.Disable()
	}
	return a.exportComposite("edit", res.SessionID, *out)
}

func cmdStylize(a *app, args []string) error {
	fs := newFlagSet("stylize")
	prompt := fs.String("prompt", "", "style prompt")
	strength := fs.Float64("strength", apiclient.DefaultImg2ImgStrength, "denoising strength 0-1")
	canny := fs.Bool("canny", false, "send the edge map instead of the image")
	out := fs.String("out", "", "output file (default: OUTPUT_DIR)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	name, data, err := readSource(fs)
	if err != nil {
		return err
	}
	if err := a.editor.SetSourceFile(name, data); err != nil {
		return err
	}
	a.editor.Store().Dispatch(state.Action{Type: state.SetCanny, Payload: *canny})

	res, err := a.editor.Stylize(a.mgr.Context(), editor.StylizeInput{Prompt: *prompt, Strength: *strength})
	if err != nil {
		return err
	}
	return a.exportComposite("stylize", res.SessionID, *out)
}

func cmdHealth(a *app, args []string) error {
	if err := parseFlags(newFlagSet("health"), args); err != nil {
		return err
	}
	view, err := a.editor.CheckHealth(a.mgr.Context())
	a.out.health(view)
	if err != nil {
		a.logger.Debug("health check failed", zap.Error(err))
		return errBackendDown
	}
	return nil
}

func cmdLoad(a *app, args []string) error {
	fs := newFlagSet("load")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usagef("load: expected one model id")
	}
	model := fs.Arg(0)
	if _, ok := a.editor.Catalog().Lookup(model); !ok {
		a.logger.Warn("model not in catalog", zap.String("model", model))
	}
	if err := a.editor.ModelAction(a.mgr.Context(), model, false); err != nil {
		return err
	}
	a.out.health(a.editor.Health())
	return nil
}

func cmdEject(a *app, args []string) error {
	if err := parseFlags(newFlagSet("eject"), args); err != nil {
		return err
	}
	if err := a.editor.ModelAction(a.mgr.Context(), "", true); err != nil {
		return err
	}
	a.out.health(a.editor.Health())
	return nil
}

func cmdPurge(a *app, args []string) error {
	if err := parseFlags(newFlagSet("purge"), args); err != nil {
		return err
	}
	res, err := a.client.Purge(a.mgr.Context())
	if err != nil {
		return err
	}
	a.out.info("Backend memory purged (" + res.Status + ")")
	_, _ = a.editor.CheckHealth(a.mgr.Context())
	a.out.health(a.editor.Health())
	return nil
}

func cmdWatch(a *app, args []string) error {
	fs := newFlagSet("watch")
	duration := fs.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	ctx := a.mgr.Context()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	history := telemetry.NewHistory(telemetry.DefaultHistorySize)
	zl := a.logger.Zap()
	socket := telemetry.NewSocket(a.cfg.TelemetryEndpoint(), func(s telemetry.Snapshot) {
		a.out.telemetry(a.editor.ApplyTelemetry(s.Stats))
	}, telemetry.SocketConfig{
		ReconnectDelay: a.cfg.ReconnectDelay,
		History:        history,
		OnConnect: func(up bool) {
			if up {
				a.out.info("Telemetry connected")
			} else {
				a.out.note("Telemetry disconnected, retrying in " + a.cfg.ReconnectDelay.String())
			}
		},
		Logger: zl,
	})
	poller := telemetry.NewPoller(a.client, a.cfg.HealthInterval, func(stats *apiclient.Stats, err error) {
		if err != nil {
			a.out.health(a.editor.Health())
			return
		}
		a.out.health(a.editor.ApplyHealth(*stats))
	}, zl).WithHistory(history)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = socket.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = poller.Run(ctx)
	}()
	wg.Wait()

	a.out.note(fmt.Sprintf("%d frames over %d connections, peak VRAM %sGB",
		socket.Frames(), socket.Dials(), strconv.FormatFloat(history.PeakVRAM(), 'f', -1, 64)))
	return nil
}

func cmdHistory(a *app, args []string) error {
	fs := newFlagSet("history")
	limit := fs.Int("limit", 10, "entries to show")
	mode := fs.String("mode", "", "only show this mode")
	prune := fs.Int("prune-days", -1, "delete entries older than this many days first (0 deletes all)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if a.repo == nil {
		return fmt.Errorf("history database unavailable at %s", a.cfg.DatabasePath)
	}
	ctx := a.mgr.Context()
	if *prune >= 0 {
		res, err := a.repo.Cleanup(ctx, *prune)
		if err != nil {
			return err
		}
		a.out.info(fmt.Sprintf("Pruned %d entries", res.Deleted))
	}

	var err error
	var entries []db.HistoryEntry
	if m := strings.TrimSpace(*mode); m != "" {
		if _, perr := state.ParseMode(m); perr != nil {
			return usagef("history: %v", perr)
		}
		entries, err = a.repo.HistoryByMode(ctx, m, *limit)
	} else {
		entries, err = a.repo.RecentHistory(ctx, *limit)
	}
	if err != nil {
		return err
	}
	a.out.history(entries, time.Now())
	return nil
}

// parsePoints reads "x,y;x,y".
func parsePoints(s string) ([][2]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out [][2]float64
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		xs, ys, ok := strings.Cut(part, ",")
		if !ok {
			return nil, fmt.Errorf("point %q is not x,y", part)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", part, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", part, err)
		}
		out = append(out, [2]float64{x, y})
	}
	return out, nil
}
