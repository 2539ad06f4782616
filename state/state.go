// Package state holds the editor's application state: a pure reducer, a
// publish/subscribe Store that is passed explicitly to components, and
// memoized selectors.
package state

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Mode is the active workspace tab.
type Mode string

const (
	ModeGenerate  Mode = "generate"
	ModeEdit      Mode = "edit"
	ModeDecompose Mode = "decompose"
	ModeStylize   Mode = "stylize"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeGenerate, ModeEdit, ModeDecompose, ModeStylize:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Valid reports whether m is one of the four workspace modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeGenerate, ModeEdit, ModeDecompose, ModeStylize:
		return true
	}
	return false
}

// SourceFile is the user-chosen input image.
type SourceFile struct {
	Name string
	Data []byte
	// MIME is sniffed from Data when the file is chosen.
	MIME string
}

// State is the whole application state. It is comparable; the Store relies
// on == to decide whether listeners run.
type State struct {
	CurrentMode    Mode
	SourceFile     *SourceFile
	VRAMBudget     float64 // GB
	LoadedModel    string  // "" when nothing is loaded
	GuidanceScale  float64
	CannyEdges     bool
	InferenceSteps int
}

// Initial returns the state the editor starts in.
func Initial() State {
	return State{
		CurrentMode:    ModeGenerate,
		VRAMBudget:     8,
		GuidanceScale:  3.5,
		InferenceSteps: 20,
	}
}

// ActionType names a state transition.
type ActionType string

const (
	SetMode             ActionType = "SET_MODE"
	SetSourceFile       ActionType = "SET_SOURCE_FILE"
	UpdateVRAMLimit     ActionType = "UPDATE_VRAM_LIMIT"
	SetLoadedModel      ActionType = "SET_LOADED_MODEL"
	SetCanny            ActionType = "SET_CANNY"
	UpdateGuidanceScale ActionType = "UPDATE_GUIDANCE_SCALE"
	SetInferenceSteps   ActionType = "SET_INFERENCE_STEPS"
)

// Action is a transition request. Payload type depends on Type.
type Action struct {
	Type    ActionType
	Payload any
}

// Reduce is the pure transition function. Unknown actions and payloads of
// the wrong type return s unchanged.
func Reduce(s State, a Action) State {
	switch a.Type {
	case SetMode:
		switch p := a.Payload.(type) {
		case Mode:
			if p.Valid() {
				s.CurrentMode = p
			}
		case string:
			if m, err := ParseMode(p); err == nil {
				s.CurrentMode = m
			}
		}
	case SetSourceFile:
		switch p := a.Payload.(type) {
		case *SourceFile:
			s.SourceFile = p
		case nil:
			s.SourceFile = nil
		}
	case UpdateVRAMLimit:
		if v, ok := toFloat(a.Payload); ok {
			s.VRAMBudget = v
		}
	case SetLoadedModel:
		switch p := a.Payload.(type) {
		case string:
			s.LoadedModel = p
		case nil:
			s.LoadedModel = ""
		}
	case SetCanny:
		if b, ok := a.Payload.(bool); ok {
			s.CannyEdges = b
		}
	case UpdateGuidanceScale:
		if v, ok := toFloat(a.Payload); ok {
			s.GuidanceScale = v
		}
	case SetInferenceSteps:
		if v, ok := toFloat(a.Payload); ok && v >= 1 {
			s.InferenceSteps = int(v)
		}
	}
	return s
}

// toFloat coerces numbers and numeric strings; sliders report strings.
// NaN and infinities are rejected so State stays comparable with ==.
func toFloat(v any) (float64, bool) {
	f, ok := coerceFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
