package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// VRAMSafetyMarker prefixes the backend's refusal when a job would exceed
// its VRAM budget.
const VRAMSafetyMarker = "VRAM SAFETY"

// RequestError is a non-2xx backend reply, or a 200 reply whose body
// carries {"status":"error"}.
type RequestError struct {
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("apiclient: %s: %s (HTTP %d)", e.Endpoint, e.Message, e.StatusCode)
}

// IsVRAMSafety reports whether the backend refused the job for exceeding
// its VRAM budget.
func (e *RequestError) IsVRAMSafety() bool {
	return strings.Contains(e.Message, VRAMSafetyMarker)
}

// AsRequestError unwraps err to a *RequestError.
func AsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// newRequestError takes the message from an {"error": ...} or
// {"detail": ...} body and falls back to the status text.
func newRequestError(endpoint string, status int, body []byte) *RequestError {
	var payload struct {
		Error  string          `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	msg := ""
	if json.Unmarshal(body, &payload) == nil {
		msg = payload.Error
		if msg == "" && len(payload.Detail) > 0 {
			var detail string
			if json.Unmarshal(payload.Detail, &detail) == nil {
				msg = detail
			}
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}
	return &RequestError{Endpoint: endpoint, StatusCode: status, Message: msg}
}
