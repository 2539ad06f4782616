package editor

import (
	"context"
	"fmt"
	"math"
	"strings"

	"asset_editor/apiclient"
	"asset_editor/state"

	"go.uber.org/zap"
)

// Gauge scales for the health and telemetry views.
const (
	VRAMGaugeGB = 16.0
	RAMGaugeGB  = 32.0
)

// Button labels for the model picker.
const (
	ActionLoad  = "LOAD"
	ActionEject = "EJECT"
)

// ModelButton is one model picker entry.
type ModelButton struct {
	ID     string
	Label  string
	VRAMGB float64
	Action string // LOAD or EJECT
	Loaded bool
}

// HealthView is the VRAM indicator.
type HealthView struct {
	Online       bool
	Text         string
	Percent      float64
	CurrentModel string
	ModelLabel   string // "MODEL" when nothing is loaded
	Buttons      []ModelButton
}

// TelemetryView is the RAM/CPU indicator fed by the telemetry socket.
type TelemetryView struct {
	RAMText    string
	RAMPercent float64
	CPUText    string
	CPUPercent float64
	ModelLabel string
	Buttons    []ModelButton
}

// ModelAction ejects the loaded model or loads model, then refreshes health.
func (e *Editor) ModelAction(ctx context.Context, model string, eject bool) error {
	if eject {
		if _, err := e.backend.Offload(ctx); err != nil {
			return e.fail("offload", MsgActionFailure, err)
		}
		e.store.Dispatch(state.Action{Type: state.SetLoadedModel, Payload: nil})
		e.syncButtons("")
		e.status.Show(MsgModelEjected, StatusInfo)
	} else {
		model = strings.TrimSpace(model)
		if model == "" {
			return e.invalid("Select a model")
		}
		res, err := e.backend.Preload(ctx, model)
		if err != nil {
			return e.fail("preload", MsgActionFailure, err)
		}
		loaded := res.Model
		if loaded == "" {
			loaded = model
		}
		e.store.Dispatch(state.Action{Type: state.SetLoadedModel, Payload: loaded})
		e.syncButtons(loaded)
		e.status.Show(strings.ToUpper(model)+" energized", StatusInfo)
	}
	// Health failures only change the VRAM indicator.
	_, _ = e.CheckHealth(ctx)
	return nil
}

// CheckHealth polls the backend and updates the VRAM indicator. On failure
// the view reads "VRAM: offline" and keeps its last buttons.
func (e *Editor) CheckHealth(ctx context.Context) (HealthView, error) {
	stats, err := e.backend.Health(ctx)
	if err != nil {
		e.mu.Lock()
		e.health.Online = false
		e.health.Text = healthOfflineMessage
		e.health.Percent = 0
		view := e.health.clone()
		e.mu.Unlock()
		e.logger.Debug("health check failed", zap.Error(err))
		return view, err
	}
	return e.ApplyHealth(*stats), nil
}

// ApplyHealth renders a health reading into the VRAM indicator.
func (e *Editor) ApplyHealth(stats apiclient.Stats) HealthView {
	text := fmt.Sprintf("VRAM: %sGB / %gGB", formatNumber(stats.AllocatedGB), VRAMGaugeGB)
	if stats.CurrentModel != "" {
		text += " | " + e.catalog.Label(stats.CurrentModel)
	}
	view := HealthView{
		Online:       true,
		Text:         text,
		Percent:      math.Min(stats.AllocatedGB/VRAMGaugeGB*100, 100),
		CurrentModel: stats.CurrentModel,
		ModelLabel:   e.catalog.Label(stats.CurrentModel),
		Buttons:      e.buttons(stats.CurrentModel),
	}
	e.mu.Lock()
	e.health = view
	e.telemetry.Buttons = e.buttons(stats.CurrentModel)
	e.telemetry.ModelLabel = view.ModelLabel
	e.mu.Unlock()
	return view.clone()
}

// ApplyTelemetry renders a pushed snapshot into the RAM/CPU indicator and
// syncs the model buttons.
func (e *Editor) ApplyTelemetry(stats apiclient.Stats) TelemetryView {
	view := TelemetryView{
		RAMText:    fmt.Sprintf("%.0fGB", stats.RAMUsedGB),
		RAMPercent: math.Min(stats.RAMUsedGB/RAMGaugeGB*100, 100),
		CPUText:    fmt.Sprintf("%d%%", int(math.Round(stats.CPUPercent))),
		CPUPercent: stats.CPUPercent,
		ModelLabel: e.catalog.Label(stats.CurrentModel),
		Buttons:    e.buttons(stats.CurrentModel),
	}
	e.mu.Lock()
	e.telemetry = view
	e.health.Buttons = e.buttons(stats.CurrentModel)
	e.health.CurrentModel = stats.CurrentModel
	e.health.ModelLabel = view.ModelLabel
	e.mu.Unlock()
	return view.clone()
}

// Health returns the last VRAM indicator.
func (e *Editor) Health() HealthView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health.clone()
}

// Telemetry returns the last RAM/CPU indicator.
func (e *Editor) Telemetry() TelemetryView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.telemetry.clone()
}

func (e *Editor) syncButtons(current string) {
	label := e.catalog.Label(current)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.health.Buttons = e.buttons(current)
	e.health.CurrentModel = current
	e.health.ModelLabel = label
	e.telemetry.Buttons = e.buttons(current)
	e.telemetry.ModelLabel = label
}

func (e *Editor) buttons(current string) []ModelButton {
	out := make([]ModelButton, 0, len(e.catalog.Models))
	for _, m := range e.catalog.Models {
		b := ModelButton{ID: m.ID, Label: m.Label, VRAMGB: m.VRAMGB, Action: ActionLoad}
		if m.ID == current {
			b.Action, b.Loaded = ActionEject, true
		}
		out = append(out, b)
	}
	return out
}

func (v HealthView) clone() HealthView {
	v.Buttons = append([]ModelButton(nil), v.Buttons...)
	return v
}

func (v TelemetryView) clone() TelemetryView {
	v.Buttons = append([]ModelButton(nil), v.Buttons...)
	return v
}
