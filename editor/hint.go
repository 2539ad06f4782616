package editor

// GuidanceHint describes a guidance scale for the distilled model.
func GuidanceHint(v float64) string {
	switch {
	case v <= 1:
		return "Loose: Photoreal focus."
	case v <= 3:
		return "Balanced: Standard prompt."
	case v <= 4:
		return "Distilled: Optimal Flux State."
	default:
		return "Strict: Aggressive enforcement."
	}
}
