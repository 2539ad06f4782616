package editor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"asset_editor/apiclient"
	"asset_editor/canvas"
	"asset_editor/db"
	"asset_editor/masking"
	"asset_editor/state"

	"go.uber.org/zap"
)

// DefaultEditStrength is the edit slider's starting value, in percent.
const DefaultEditStrength = 85

// GenerateInput is the generate form. Zero fields take the store's
// values or the backend defaults.
type GenerateInput struct {
	Prompt       string
	Width        int
	Height       int
	Guidance     float64
	Sampler      string
	Scheduler    string
	ModelVariant string
	Steps        int
	Seed         int
}

// Generate synthesises an image and makes it the only layer.
func (e *Editor) Generate(ctx context.Context, in GenerateInput) (*apiclient.ImageResponse, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, e.invalid(MsgEnterPrompt)
	}
	st := e.store.GetState()

	req := apiclient.Txt2ImgRequest{
		Prompt:       prompt,
		Width:        in.Width,
		Height:       in.Height,
		Guidance:     in.Guidance,
		Sampler:      in.Sampler,
		Scheduler:    in.Scheduler,
		VRAMBudget:   state.SelectVRAMLimit(st),
		ModelVariant: in.ModelVariant,
		Steps:        in.Steps,
		Seed:         in.Seed,
	}
	if req.Guidance <= 0 {
		req.Guidance = state.SelectGuidanceScale(st)
	}
	if req.Steps <= 0 {
		req.Steps = state.SelectInferenceSteps(st)
	}
	if req.ModelVariant == "" {
		req.ModelVariant = e.defaultVariant
		if loaded := state.SelectLoadedModel(st); loaded != "" {
			req.ModelVariant = loaded
		}
	}

	e.status.Show(MsgGenerating, StatusLoading)
	e.slider.Disable()
	ticket := e.beginReset()

	res, err := e.backend.Txt2Img(ctx, req)
	if err != nil {
		if !e.current(ticket) {
			return nil, e.superseded("generate", err)
		}
		return nil, e.fail("generate", MsgGenerationFailed, err)
	}
	gen, ok := e.commitReset(ticket)
	if !ok {
		return res, e.superseded("generate", nil)
	}
	if _, err := e.stack.AddLayerIn(ctx, gen, canvas.URLSource(res.Image), 0); err != nil {
		if errors.Is(err, canvas.ErrStaleLayer) {
			return res, e.superseded("generate", err)
		}
		return res, e.fail("generate", MsgGenerationFailed, err)
	}

	e.record(ctx, db.HistoryEntry{
		Mode:      string(state.ModeGenerate),
		Prompt:    prompt,
		ImageURL:  res.Image,
		SessionID: res.SessionID,
		Model:     res.Model,
		Seed:      res.Seed,
	})
	e.status.Show(fmt.Sprintf("Generated (%sGB VRAM)", formatNumber(res.VRAMUsed)), StatusInfo)
	e.logger.Info("generated",
		zap.String("session_id", res.SessionID),
		zap.Int64("seed", res.Seed),
		zap.Float64("vram_used_gb", res.VRAMUsed))
	return res, nil
}

// Decompose splits the source file into layers (0 selects the default
// count) and switches to edit mode shortly after.
func (e *Editor) Decompose(ctx context.Context, layers int) (*apiclient.DecomposeResponse, error) {
	src := state.SelectSourceFile(e.store.GetState())
	if src == nil {
		return nil, e.invalid(MsgNoImage)
	}

	e.status.Show(MsgDecomposing, StatusLoading)
	ticket := e.beginReset()

	res, err := e.backend.Decompose(ctx, apiclient.DecomposeRequest{
		Image:      src.Data,
		Filename:   src.Name,
		Layers:     layers,
		Resolution: e.decomposeRes,
	})
	if err != nil {
		if !e.current(ticket) {
			return nil, e.superseded("decompose", err)
		}
		return nil, e.fail("decompose", MsgDecomposeFailed, err)
	}
	gen, ok := e.commitReset(ticket)
	if !ok {
		return res, e.superseded("decompose", nil)
	}
	// Sequential adds keep Index == Z == i.
	for i, url := range res.Layers {
		if _, err := e.stack.AddLayerIn(ctx, gen, canvas.URLSource(url), i); err != nil {
			if errors.Is(err, canvas.ErrStaleLayer) {
				return res, e.superseded("decompose", err)
			}
			return res, e.fail("decompose", MsgDecomposeFailed, err)
		}
	}

	if len(res.Layers) > 0 {
		e.record(ctx, db.HistoryEntry{
			Mode:      string(state.ModeDecompose),
			Prompt:    src.Name,
			ImageURL:  res.Layers[0],
			SessionID: res.SessionID,
		})
	}
	e.status.Show(fmt.Sprintf("Created %d layers", res.Count), StatusInfo)
	e.scheduleMode(ticket, state.ModeEdit)
	return res, nil
}

// EditInput is the edit form. StrengthPercent 0 selects the default.
type EditInput struct {
	Prompt          string
	StrengthPercent int
}

// Edit inpaints the selected layer and stacks the result directly above
// it with the comparison slider on the new layer.
func (e *Editor) Edit(ctx context.Context, in EditInput) (*apiclient.ImageResponse, error) {
	layer := e.stack.SelectedLayer()
	if layer == nil {
		return nil, e.invalid(MsgSelectLayer)
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, e.invalid(MsgEnterEditPrompt)
	}
	pct := in.StrengthPercent
	if pct <= 0 {
		pct = DefaultEditStrength
	}
	if pct > 100 {
		pct = 100
	}

	e.status.Show(MsgEditing, StatusLoading)
	e.slider.Disable()
	gen := e.stack.Generation()

	image, err := e.stack.LayerBlob(layer.Index)
	if err != nil {
		return nil, e.fail("edit", MsgEditFailed, err)
	}
	var mask []byte
	if e.masker.Mode() == masking.ModeManual {
		if mask, err = e.masker.MaskBlob(); err != nil {
			return nil, e.fail("edit", MsgEditFailed, err)
		}
	}

	res, err := e.backend.Inpaint(ctx, apiclient.InpaintRequest{
		Image:        image,
		Mask:         mask,
		Prompt:       prompt,
		Strength:     float64(pct) / 100,
		UseAlphaMask: e.masker.UseAlphaMask(),
	})
	if err != nil {
		return nil, e.fail("edit", MsgEditFailed, err)
	}
	after, err := e.stack.AddLayerIn(ctx, gen, canvas.URLSource(res.Image), layer.Z+1)
	if err != nil {
		if errors.Is(err, canvas.ErrStaleLayer) {
			return res, e.superseded("edit", err)
		}
		return res, e.fail("edit", MsgEditFailed, err)
	}
	if err := e.slider.Enable(after); err != nil {
		e.logger.Warn("comparison not enabled", zap.Error(err))
	}

	e.record(ctx, db.HistoryEntry{
		Mode:      string(state.ModeEdit),
		Prompt:    prompt,
		ImageURL:  res.Image,
		SessionID: res.SessionID,
		Seed:      res.Seed,
	})
	e.status.Show(MsgEditApplied, StatusInfo)
	return res, nil
}

// StylizeInput is the stylize form. Strength 0 selects the default.
type StylizeInput struct {
	Prompt   string
	Strength float64
}

// Stylize restyles the source file, optionally from its edge map, and
// makes the result the only layer.
func (e *Editor) Stylize(ctx context.Context, in StylizeInput) (*apiclient.ImageResponse, error) {
	st := e.store.GetState()
	src := state.SelectSourceFile(st)
	if src == nil {
		return nil, e.invalid(MsgNoImage)
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, e.invalid(MsgEnterPrompt)
	}

	e.status.Show(MsgStylizing, StatusLoading)
	e.slider.Disable()
	ticket := e.beginReset()

	image := src.Data
	if state.SelectCanny(st) {
		edges, err := CannyEdges(src.Data)
		if err != nil {
			return nil, e.fail("stylize", MsgStylizeFailed, err)
		}
		image = edges
	}

	res, err := e.backend.Img2Img(ctx, apiclient.Img2ImgRequest{
		Image:    image,
		Prompt:   prompt,
		Strength: in.Strength,
	})
	if err != nil {
		if !e.current(ticket) {
			return nil, e.superseded("stylize", err)
		}
		return nil, e.fail("stylize", MsgStylizeFailed, err)
	}
	gen, ok := e.commitReset(ticket)
	if !ok {
		return res, e.superseded("stylize", nil)
	}
	if _, err := e.stack.AddLayerIn(ctx, gen, canvas.URLSource(res.Image), 0); err != nil {
		if errors.Is(err, canvas.ErrStaleLayer) {
			return res, e.superseded("stylize", err)
		}
		return res, e.fail("stylize", MsgStylizeFailed, err)
	}

	e.record(ctx, db.HistoryEntry{
		Mode:      string(state.ModeStylize),
		Prompt:    prompt,
		ImageURL:  res.Image,
		SessionID: res.SessionID,
		Seed:      res.Seed,
	})
	e.status.Show("Image stylized", StatusInfo)
	return res, nil
}

// formatNumber prints v the way the backend's JSON wrote it.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
