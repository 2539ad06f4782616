package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces anything that looks like a credential.
const RedactedPlaceholder = "[REDACTED]"

// Backend session ids are hex; keep bare-hex patterns out of this list.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(hf_[a-zA-Z0-9]{30,})`),          // Hugging Face tokens
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9_-]{20,})`),        // OpenAI-style keys
	regexp.MustCompile(`(?i)(ghp_[a-zA-Z0-9]{36})`),          // GitHub tokens
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`), // Authorization headers
	regexp.MustCompile(`(?i)((?:password|secret|token|api_key|apikey)\s*[:=]\s*[^\s,;&]{8,})`),
	regexp.MustCompile(`(?i)([?&](?:token|api_key|key)=[^\s&]+)`), // credentials in query strings
}

// Field names containing any of these are redacted wholesale.
var sensitiveFieldNames = []string{
	"BACKEND_API_KEY",
	"HF_TOKEN",
	"AUTHORIZATION",
	"PASSWORD",
	"SECRET",
	"TOKEN",
	"API_KEY",
	"APIKEY",
}

// RedactSensitiveData replaces every credential-looking substring of value.
//
//	RedactSensitiveData("GET /api/health?token=abc12345xyz")
//	// "GET /api/health[REDACTED]"
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	for _, pattern := range sensitivePatterns {
		value = pattern.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// RedactField redacts fieldValue entirely when fieldName is sensitive, and
// scans it otherwise.
func RedactField(fieldName, fieldValue string) string {
	if IsSensitiveField(fieldName) {
		return RedactedPlaceholder
	}
	return RedactSensitiveData(fieldValue)
}

// IsSensitiveField reports whether a field name implies a secret value.
func IsSensitiveField(fieldName string) bool {
	upper := strings.ToUpper(fieldName)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(upper, name) {
			return true
		}
	}
	return false
}

// ContainsSensitiveData reports whether any pattern matches value.
func ContainsSensitiveData(value string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(value) {
			return true
		}
	}
	return false
}
