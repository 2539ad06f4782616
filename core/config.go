package core

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all configuration values for the editor client.
type Config struct {
	// Backend Configuration
	BackendURL           string // Base URL of the generation service (e.g., http://127.0.0.1:8000)
	TelemetryURL         string // Optional override for the telemetry WebSocket URL
	AllowSelfSignedCerts bool
	HTTPTimeout          time.Duration // Per-request timeout; generation can be slow

	// Generation Defaults
	VRAMBudgetGB   float64 // Advisory VRAM ceiling sent with txt2img
	DefaultModel   string  // Model variant sent with txt2img
	GuidanceScale  float64
	InferenceSteps int
	DecomposeRes   int // Processing resolution for decomposition (640 or 1024)

	// UI Timing
	StatusHideDelay time.Duration // Transient status messages hide after this
	ModeSwitchDelay time.Duration // Delay before switching to edit after decompose
	ReconnectDelay  time.Duration // Fixed telemetry socket reconnect delay
	HealthInterval  time.Duration // Health polling interval

	// Storage
	DataDir          string // Directory for the history database and logs
	DatabasePath     string
	OutputDir        string // Where the CLI writes exported images
	ModelCatalogPath string // Optional YAML model catalog

	// Logging
	LogFile  string
	LogLevel string
	DevMode  bool
}

// LoadConfig loads configuration from environment variables with defaults
// that match a backend running on the same machine. Only BACKEND_URL is
// validated; everything else falls back to defaults.
func LoadConfig() (*Config, error) {
	backendURL := strings.TrimRight(GetEnvOrDefault("BACKEND_URL", "http://127.0.0.1:8000"), "/")
	if err := validateBackendURL(backendURL); err != nil {
		return nil, err
	}

	telemetryURL := os.Getenv("TELEMETRY_URL")
	if telemetryURL != "" {
		if err := validateTelemetryURL(telemetryURL); err != nil {
			return nil, err
		}
	}

	dataDir := GetEnvOrDefault("DATA_DIR", GetDataDirectory())

	cfg := &Config{
		BackendURL:           backendURL,
		TelemetryURL:         telemetryURL,
		AllowSelfSignedCerts: ParseBoolEnv("ALLOW_SELF_SIGNED_CERTS", false),
		// 300s accommodates cold model loads on the backend
		HTTPTimeout: ParseDurationEnv("HTTP_TIMEOUT", 300),

		VRAMBudgetGB:   ParseFloat64Env("VRAM_BUDGET_GB", 8.0),
		DefaultModel:   GetEnvOrDefault("MODEL_VARIANT", "flux-4b"),
		GuidanceScale:  ParseFloat64Env("GUIDANCE_SCALE", 3.5),
		InferenceSteps: ParseIntEnv("INFERENCE_STEPS", 20),
		DecomposeRes:   ParseIntEnv("DECOMPOSE_RESOLUTION", 640),

		StatusHideDelay: ParseMillisEnv("STATUS_HIDE_MS", 3000),
		ModeSwitchDelay: ParseMillisEnv("MODE_SWITCH_MS", 500),
		ReconnectDelay:  ParseMillisEnv("TELEMETRY_RECONNECT_MS", 2000),
		HealthInterval:  ParseMillisEnv("HEALTH_INTERVAL_MS", 10000),

		DataDir:          dataDir,
		DatabasePath:     GetEnvOrDefault("DATABASE_PATH", filepath.Join(dataDir, "history.db")),
		OutputDir:        GetEnvOrDefault("OUTPUT_DIR", "./outputs"),
		ModelCatalogPath: os.Getenv("MODEL_CATALOG"),

		LogFile:  GetEnvOrDefault("LOG_FILE", "asset_editor.log"),
		LogLevel: GetEnvOrDefault("ASSET_EDITOR_LOG_LEVEL", "info"),
		DevMode:  ParseBoolEnv("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that LoadConfig cannot express as defaults.
func (c *Config) Validate() error {
	if c.VRAMBudgetGB <= 0 {
		return ErrInvalidValue("VRAM_BUDGET_GB", fmt.Sprintf("%.2f", c.VRAMBudgetGB), "must be greater than 0")
	}
	if c.InferenceSteps < 1 || c.InferenceSteps > 50 {
		return ErrInvalidValue("INFERENCE_STEPS", fmt.Sprintf("%d", c.InferenceSteps), "must be between 1 and 50")
	}
	if c.DecomposeRes != 640 && c.DecomposeRes != 1024 {
		return ErrInvalidValue("DECOMPOSE_RESOLUTION", fmt.Sprintf("%d", c.DecomposeRes), "must be 640 or 1024")
	}
	if c.ReconnectDelay <= 0 {
		return ErrInvalidValue("TELEMETRY_RECONNECT_MS", c.ReconnectDelay.String(), "must be positive")
	}
	return nil
}

// TelemetryEndpoint returns the WebSocket URL for the telemetry channel.
// An explicit TELEMETRY_URL wins; otherwise the backend URL scheme is
// mapped http->ws, https->wss and the path is /ws/telemetry.
func (c *Config) TelemetryEndpoint() string {
	if c.TelemetryURL != "" {
		return c.TelemetryURL
	}
	return TelemetryURLFor(c.BackendURL)
}

// TelemetryURLFor derives the telemetry socket URL from a backend base URL.
func TelemetryURLFor(backendURL string) string {
	u, err := url.Parse(backendURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/telemetry"
	u.RawQuery = ""
	return u.String()
}

func validateBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidBackendURL(raw, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidBackendURL(raw, "scheme must be http or https")
	}
	if u.Host == "" {
		return ErrInvalidBackendURL(raw, "host is empty")
	}
	return nil
}

func validateTelemetryURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return ErrInvalidValue("TELEMETRY_URL", raw, "must be a ws:// or wss:// URL")
	}
	return nil
}

// GetHTTPClient returns an HTTP client configured with TLS settings based on AllowSelfSignedCerts.
func GetHTTPClient(cfg *Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Timeout: timeout,
	}

	if cfg != nil && cfg.AllowSelfSignedCerts {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return client
}

// GetDefaultHTTPClient returns an HTTP client using the configured request timeout.
func GetDefaultHTTPClient(cfg *Config) *http.Client {
	return GetHTTPClient(cfg, cfg.HTTPTimeout)
}
