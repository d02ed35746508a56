package chain

import "log"

// Clamp ranges and defaults for chain shape configuration.
const (
	MinChainCount = 1
	MaxChainCount = 50

	MinRingWindowSeconds = 30
	MaxRingWindowSeconds = 600

	MinSpacingSeconds = 1
	MaxSpacingSeconds = 30

	MinLeadTimeFloorSeconds = 5
	MinLeadTimeCeilSeconds  = 30

	MinCleanupGraceSeconds = 30
	MaxCleanupGraceSeconds = 300

	DefaultMaxChainCount          = 12
	DefaultRingWindowSeconds      = 180
	DefaultFallbackSpacingSeconds = 30
	DefaultMinLeadTimeSeconds     = 10
	DefaultCleanupGraceSeconds    = 60
)

// Settings is the immutable chain shape configuration. Construct through
// NewSettings so every field is clamped to its safe range; out-of-range
// operator input is corrected and logged, never rejected.
type Settings struct {
	MaxChainCount          int
	RingWindowSeconds      int
	FallbackSpacingSeconds int
	MinLeadTimeSeconds     int
	CleanupGraceSeconds    int
}

// DefaultSettings returns the shipped defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxChainCount:          DefaultMaxChainCount,
		RingWindowSeconds:      DefaultRingWindowSeconds,
		FallbackSpacingSeconds: DefaultFallbackSpacingSeconds,
		MinLeadTimeSeconds:     DefaultMinLeadTimeSeconds,
		CleanupGraceSeconds:    DefaultCleanupGraceSeconds,
	}
}

// NewSettings clamps every field into its valid range. Coercions are
// logged so a misconfigured override is visible in operation.
func NewSettings(maxChainCount, ringWindowSeconds, fallbackSpacingSeconds, minLeadTimeSeconds, cleanupGraceSeconds int, logger *log.Logger) Settings {
	settings := Settings{
		MaxChainCount:          clampField(maxChainCount, MinChainCount, MaxChainCount, "max_chain_count", logger),
		RingWindowSeconds:      clampField(ringWindowSeconds, MinRingWindowSeconds, MaxRingWindowSeconds, "ring_window_seconds", logger),
		FallbackSpacingSeconds: clampField(fallbackSpacingSeconds, MinSpacingSeconds, MaxSpacingSeconds, "fallback_spacing_seconds", logger),
		MinLeadTimeSeconds:     clampField(minLeadTimeSeconds, MinLeadTimeFloorSeconds, MinLeadTimeCeilSeconds, "min_lead_time_seconds", logger),
		CleanupGraceSeconds:    clampField(cleanupGraceSeconds, MinCleanupGraceSeconds, MaxCleanupGraceSeconds, "cleanup_grace_seconds", logger),
	}
	return settings
}

func clampField(value, low, high int, name string, logger *log.Logger) int {
	if value < low {
		if logger != nil {
			logger.Printf("chain settings: %s=%d below %d, coerced", name, value, low)
		}
		return low
	}
	if value > high {
		if logger != nil {
			logger.Printf("chain settings: %s=%d above %d, coerced", name, value, high)
		}
		return high
	}
	return value
}
