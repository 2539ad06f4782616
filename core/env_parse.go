package core

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// envOr reads key, trims it, and runs parse on it. Unset, blank and
// unparsable values all return def, so a typo in .env never stops startup.
func envOr[T any](key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

// GetEnvOrDefault returns the trimmed value of key, or def when it is blank.
func GetEnvOrDefault(key, def string) string {
	return envOr(key, def, func(s string) (string, error) { return s, nil })
}

func ParseIntEnv(key string, def int) int {
	return envOr(key, def, strconv.Atoi)
}

// ParseFloat64Env rejects NaN and infinities along with unparsable input.
func ParseFloat64Env(key string, def float64) float64 {
	return envOr(key, def, func(s string) (float64, error) {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return 0, strconv.ErrRange
		}
		return f, err
	})
}

// ParseBoolEnv accepts true/1/yes/on and false/0/no/off in any case.
func ParseBoolEnv(key string, def bool) bool {
	switch strings.ToLower(GetEnvOrDefault(key, "")) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return def
}

// ParseDurationEnv reads a timeout given either as bare seconds ("300") or
// as a Go duration ("5m"). Negative values return the default.
func ParseDurationEnv(key string, defSeconds int) time.Duration {
	def := time.Duration(defSeconds) * time.Second
	d := envOr(key, def, func(s string) (time.Duration, error) {
		if n, err := strconv.Atoi(s); err == nil {
			return time.Duration(n) * time.Second, nil
		}
		return time.ParseDuration(s)
	})
	if d < 0 {
		return def
	}
	return d
}

// ParseMillisEnv reads a UI delay in milliseconds. Negative values return
// the default.
func ParseMillisEnv(key string, defMillis int) time.Duration {
	ms := ParseIntEnv(key, defMillis)
	if ms < 0 {
		ms = defMillis
	}
	return time.Duration(ms) * time.Millisecond
}
