package chain

import "time"

// Configuration is the computed shape of one notification chain.
type Configuration struct {
	SpacingSeconds int
	Count          int
}

// TotalDuration is the span covered by the whole chain.
func (c Configuration) TotalDuration() time.Duration {
	return time.Duration(c.SpacingSeconds*c.Count) * time.Second
}

// Spacing returns the inter-notification gap as a duration.
func (c Configuration) Spacing() time.Duration {
	return time.Duration(c.SpacingSeconds) * time.Second
}

// Trimmed shrinks the chain to the granted slot count, never below one,
// without changing spacing.
func (c Configuration) Trimmed(to int) Configuration {
	if to < 1 {
		to = 1
	}
	if to < c.Count {
		c.Count = to
	}
	return c
}

// Policy derives chain configurations from settings. Pure computation,
// no I/O.
type Policy struct {
	settings Settings
}

// NewPolicy constructs a policy over the given settings.
func NewPolicy(settings Settings) Policy {
	return Policy{settings: settings}
}

// Settings exposes the underlying settings value.
func (p Policy) Settings() Settings {
	return p.settings
}

// NormalizedSpacing clamps a spacing input into the valid range.
func (p Policy) NormalizedSpacing(spacingSeconds int) int {
	if spacingSeconds < MinSpacingSeconds {
		return MinSpacingSeconds
	}
	if spacingSeconds > MaxSpacingSeconds {
		return MaxSpacingSeconds
	}
	return spacingSeconds
}

// ComputeChain derives the chain shape for a spacing: the theoretical
// count is how many notifications fit into the ring window, clamped to
// [1, maxChainCount].
func (p Policy) ComputeChain(spacingSeconds int) Configuration {
	spacing := p.NormalizedSpacing(spacingSeconds)
	count := p.settings.RingWindowSeconds / spacing
	if count < 1 {
		count = 1
	}
	if count > p.settings.MaxChainCount {
		count = p.settings.MaxChainCount
	}
	return Configuration{SpacingSeconds: spacing, Count: count}
}

// ComputeFireDates produces the chain's fire times. Each date is derived
// from the base directly rather than by repeated addition, so there is
// no accumulation drift across the chain.
func (p Policy) ComputeFireDates(base time.Time, config Configuration) []time.Time {
	dates := make([]time.Time, 0, config.Count)
	for i := 0; i < config.Count; i++ {
		dates = append(dates, base.Add(time.Duration(i*config.SpacingSeconds)*time.Second))
	}
	return dates
}
