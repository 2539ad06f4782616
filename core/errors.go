package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeEnvFileMissing    = "ENV_FILE_MISSING"
	ErrCodeInvalidBackendURL = "INVALID_BACKEND_URL"
	ErrCodeInvalidValue      = "INVALID_VALUE"
	ErrCodeCatalogInvalid    = "MODEL_CATALOG_INVALID"
)

// ErrEnvFileMissing returns an error for missing .env file
func ErrEnvFileMissing(path string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeEnvFileMissing,
		Message: fmt.Sprintf("Configuration file not found: %s", path),
		Action:  "Copy example.env to .env or export BACKEND_URL directly",
	}
}

// ErrInvalidBackendURL returns an error for an unusable backend base URL
func ErrInvalidBackendURL(url string, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidBackendURL,
		Message: fmt.Sprintf("Invalid BACKEND_URL '%s': %s", url, reason),
		Action:  "Set BACKEND_URL to the generation service address (e.g., http://127.0.0.1:8000)",
	}
}

// ErrInvalidValue returns an error for an out-of-range configuration value
func ErrInvalidValue(varName, value, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s '%s': %s", varName, value, reason),
		Action:  fmt.Sprintf("Fix %s in your .env file", varName),
	}
}

// ErrCatalogInvalid returns an error for a malformed model catalog file
func ErrCatalogInvalid(path string, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeCatalogInvalid,
		Message: fmt.Sprintf("Model catalog %s is invalid: %s", path, reason),
		Action:  "Each entry needs a non-empty, unique id",
	}
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
