package domain

import "time"

// Snooze bounds and the divergence tolerance used to detect a DST
// boundary between the naive instant and its wall-clock reconstruction.
const (
	SnoozeMinDuration   = time.Minute
	SnoozeMaxDuration   = time.Hour
	SnoozeDSTTolerance  = 10 * time.Second
	DefaultSnoozeLength = 5 * time.Minute
)

// ComputeSnooze returns the fire time for a snooze requested at now, at
// the user's expected local wall-clock time even across a DST transition.
func ComputeSnooze(now time.Time, duration time.Duration, loc *time.Location) time.Time {
	return ComputeSnoozeWithTolerance(now, duration, loc, SnoozeDSTTolerance)
}

// ComputeSnoozeWithTolerance clamps the duration to the snooze bounds,
// then reconstructs now+duration from its local calendar components. A
// divergence beyond the tolerance means a DST boundary was crossed: in a
// fall-back ambiguity the later of the two local occurrences wins, and a
// spring-forward gap advances one hour past the missing wall-clock span.
func ComputeSnoozeWithTolerance(now time.Time, duration time.Duration, loc *time.Location, tolerance time.Duration) time.Time {
	if loc == nil {
		loc = time.Local
	}
	if duration < SnoozeMinDuration {
		duration = SnoozeMinDuration
	}
	if duration > SnoozeMaxDuration {
		duration = SnoozeMaxDuration
	}
	if tolerance <= 0 {
		tolerance = SnoozeDSTTolerance
	}

	naive := now.Add(duration)
	local := naive.In(loc)
	rebuilt := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc)

	diff := rebuilt.Sub(naive)
	if diff < 0 {
		diff = -diff
	}
	if diff <= tolerance {
		return rebuilt
	}
	if rebuilt.Before(naive) {
		// Clocks fell back and the wall-clock time is ambiguous.
		return rebuilt.Add(time.Hour)
	}
	// Spring-forward gap: Date normalization already moved past it.
	return rebuilt
}
