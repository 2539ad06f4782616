package apiclient

import (
	"encoding/json"
)

// Request defaults mirror the backend form defaults.
const (
	DefaultDecomposeLayers     = 4
	DefaultDecomposeResolution = 640
	DefaultImg2ImgStrength     = 0.75
	DefaultInpaintStrength     = 0.85
	DefaultWidth               = 1024
	DefaultHeight              = 1024
	DefaultGuidance            = 3.5
	DefaultSampler             = "euler"
	DefaultScheduler           = "simple"
	DefaultModelVariant        = "flux-4b"
	DefaultSteps               = 20
	DefaultVRAMBudgetGB        = 8.0
)

// DecomposeRequest is the /api/decompose form.
type DecomposeRequest struct {
	Image      []byte
	Filename   string
	Layers     int
	Resolution int
}

func (r DecomposeRequest) withDefaults() DecomposeRequest {
	if r.Filename == "" {
		r.Filename = "image.png"
	}
	if r.Layers <= 0 {
		r.Layers = DefaultDecomposeLayers
	}
	if r.Resolution <= 0 {
		r.Resolution = DefaultDecomposeResolution
	}
	return r
}

// DecomposeResponse lists layer image URLs in stacking order.
type DecomposeResponse struct {
	SessionID string   `json:"session_id"`
	Layers    []string `json:"layers"`
	Count     int      `json:"count"`
}

// Txt2ImgRequest is the /api/txt2img form. Seed -1 lets the backend pick.
type Txt2ImgRequest struct {
	Prompt       string
	Width        int
	Height       int
	Guidance     float64
	Sampler      string
	Scheduler    string
	VRAMBudget   float64
	ModelVariant string
	Steps        int
	Seed         int
}

func (r Txt2ImgRequest) withDefaults() Txt2ImgRequest {
	if r.Width <= 0 {
		r.Width = DefaultWidth
	}
	if r.Height <= 0 {
		r.Height = DefaultHeight
	}
	if r.Guidance <= 0 {
		r.Guidance = DefaultGuidance
	}
	if r.Sampler == "" {
		r.Sampler = DefaultSampler
	}
	if r.Scheduler == "" {
		r.Scheduler = DefaultScheduler
	}
	if r.VRAMBudget <= 0 {
		r.VRAMBudget = DefaultVRAMBudgetGB
	}
	if r.ModelVariant == "" {
		r.ModelVariant = DefaultModelVariant
	}
	if r.Steps <= 0 {
		r.Steps = DefaultSteps
	}
	if r.Seed == 0 {
		r.Seed = -1
	}
	return r
}

// Img2ImgRequest is the /api/img2img form.
type Img2ImgRequest struct {
	Image    []byte
	Prompt   string
	Strength float64
}

func (r Img2ImgRequest) withDefaults() Img2ImgRequest {
	if r.Strength <= 0 {
		r.Strength = DefaultImg2ImgStrength
	}
	return r
}

// InpaintRequest is the /api/inpaint form. Mask is optional.
type InpaintRequest struct {
	Image        []byte
	Mask         []byte
	Prompt       string
	Strength     float64
	UseAlphaMask bool
}

func (r InpaintRequest) withDefaults() InpaintRequest {
	if r.Strength <= 0 {
		r.Strength = DefaultInpaintStrength
	}
	return r
}

// ImageResponse is returned by txt2img, img2img and inpaint. VRAMUsed,
// Model and Sampler are only set by txt2img.
type ImageResponse struct {
	SessionID string  `json:"session_id"`
	Image     string  `json:"image"`
	Seed      int64   `json:"seed"`
	Sampler   string  `json:"sampler,omitempty"`
	VRAMUsed  float64 `json:"vram_used,omitempty"`
	Model     string  `json:"model,omitempty"`
}

// ModelStatus is the reply to preload, offload and purge.
type ModelStatus struct {
	Status string          `json:"status"`
	Model  string          `json:"model,omitempty"`
	Error  string          `json:"error,omitempty"`
	VRAM   json.RawMessage `json:"vram,omitempty"`
}

// err converts an in-band {"status":"error"} reply into a RequestError.
func (s *ModelStatus) err(endpoint string) error {
	if s.Status != "error" {
		return nil
	}
	msg := s.Error
	if msg == "" {
		msg = "backend reported an error"
	}
	return &RequestError{Endpoint: endpoint, StatusCode: 200, Message: msg}
}

// Stats is a normalised resource snapshot. Both the health shape
// {status, vram:{allocated_gb, reserved_gb, current_model}} and the
// telemetry shape {vram_used, vram_total, ram_used_gb, cpu_percent, model,
// pool} decode into it.
type Stats struct {
	Status       string
	AllocatedGB  float64
	ReservedGB   float64
	VRAMUsedGB   float64
	VRAMTotalGB  float64
	RAMUsedGB    float64
	CPUPercent   float64
	CurrentModel string
	Pool         []string
}

type healthVRAM struct {
	AllocatedGB  float64 `json:"allocated_gb"`
	ReservedGB   float64 `json:"reserved_gb"`
	CurrentModel string  `json:"current_model"`
}

type rawStats struct {
	Status       string          `json:"status"`
	VRAM         json.RawMessage `json:"vram"`
	AllocatedGB  *float64        `json:"vram_allocated_gb"`
	ReservedGB   *float64        `json:"vram_reserved_gb"`
	VRAMUsed     float64         `json:"vram_used"`
	VRAMTotal    float64         `json:"vram_total"`
	RAMUsedGB    float64         `json:"ram_used_gb"`
	CPUPercent   float64         `json:"cpu_percent"`
	Model        string          `json:"model"`
	CurrentModel string          `json:"current_model"`
	Pool         []string        `json:"pool"`
}

// UnmarshalJSON accepts either stats shape.
func (s *Stats) UnmarshalJSON(data []byte) error {
	var raw rawStats
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := Stats{
		Status:       raw.Status,
		VRAMUsedGB:   raw.VRAMUsed,
		VRAMTotalGB:  raw.VRAMTotal,
		RAMUsedGB:    raw.RAMUsedGB,
		CPUPercent:   raw.CPUPercent,
		CurrentModel: raw.CurrentModel,
		Pool:         raw.Pool,
	}
	if out.CurrentModel == "" {
		out.CurrentModel = raw.Model
	}
	if raw.AllocatedGB != nil {
		out.AllocatedGB = *raw.AllocatedGB
	} else {
		out.AllocatedGB = raw.VRAMUsed
	}
	if raw.ReservedGB != nil {
		out.ReservedGB = *raw.ReservedGB
	}

	// Nested vram object wins when present.
	if len(raw.VRAM) > 0 && raw.VRAM[0] == '{' {
		var v healthVRAM
		if err := json.Unmarshal(raw.VRAM, &v); err != nil {
			return err
		}
		out.AllocatedGB = v.AllocatedGB
		out.ReservedGB = v.ReservedGB
		if v.CurrentModel != "" {
			out.CurrentModel = v.CurrentModel
		}
	}
	*s = out
	return nil
}

// ParseStats decodes a health or telemetry payload.
func ParseStats(data []byte) (Stats, error) {
	var s Stats
	err := json.Unmarshal(data, &s)
	return s, err
}
