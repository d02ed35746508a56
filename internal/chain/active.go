package chain

import "time"

// Slop added to the active window for scheduling and delivery latency.
const ActiveWindowToleranceSeconds = 10

// DefaultDetectorSpacingSeconds is assumed when a delivered notification
// has no chain metadata to consult.
const DefaultDetectorSpacingSeconds = 10

// ActiveWindowPolicy derives, from chain shape, the span during which an
// occurrence counts as currently firing. The window covers first to last
// notification plus tolerance, capped by the ring window so a bad config
// can never produce an unbounded always-active span.
type ActiveWindowPolicy struct {
	settings Settings
}

// NewActiveWindowPolicy constructs the policy.
func NewActiveWindowPolicy(settings Settings) ActiveWindowPolicy {
	return ActiveWindowPolicy{settings: settings}
}

// ActiveWindow computes the active span for a chain of count
// notifications at the given spacing, with the given lead-in.
func (p ActiveWindowPolicy) ActiveWindow(count, spacingSeconds, leadInSeconds int) time.Duration {
	if count < 1 {
		count = 1
	}
	if spacingSeconds < MinSpacingSeconds {
		spacingSeconds = MinSpacingSeconds
	}
	if leadInSeconds < 0 {
		leadInSeconds = 0
	}
	window := (count-1)*spacingSeconds + leadInSeconds + ActiveWindowToleranceSeconds
	if window > p.settings.RingWindowSeconds {
		window = p.settings.RingWindowSeconds
	}
	return time.Duration(window) * time.Second
}

// Contains reports whether now falls inside the active window that
// opens at the occurrence anchor.
func (p ActiveWindowPolicy) Contains(now, anchor time.Time, count, spacingSeconds, leadInSeconds int) bool {
	if now.Before(anchor) {
		return false
	}
	return !now.After(anchor.Add(p.ActiveWindow(count, spacingSeconds, leadInSeconds)))
}
