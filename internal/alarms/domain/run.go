package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunOutcome is the terminal result of one firing attempt.
type RunOutcome string

const (
	RunOutcomeSuccess RunOutcome = "success"
	RunOutcomeFailed  RunOutcome = "failed"
)

// StaleRunThreshold caps how long a crash can leave a run without a
// dismissal record before the next launch sweeps it to failed.
const StaleRunThreshold = time.Hour

// AlarmRun records one firing attempt. A run is created when ringing
// starts, defaults to failed, and flips to success only on a verified
// dismissal. Runs are append-only and never mutated after close.
type AlarmRun struct {
	ID            uuid.UUID  `json:"id"`
	AlarmID       uuid.UUID  `json:"alarm_id"`
	OccurrenceKey string     `json:"occurrence_key"`
	FiredAt       time.Time  `json:"fired_at"`
	DismissedAt   *time.Time `json:"dismissed_at,omitempty"`
	Outcome       RunOutcome `json:"outcome"`
	Open          bool       `json:"open"`
}

// NewAlarmRun creates a run for a firing, defaulted to failed and open
// until explicitly closed.
func NewAlarmRun(alarmID uuid.UUID, occurrenceKey string, firedAt time.Time) AlarmRun {
	return AlarmRun{
		ID:            uuid.New(),
		AlarmID:       alarmID,
		OccurrenceKey: occurrenceKey,
		FiredAt:       firedAt.UTC(),
		Outcome:       RunOutcomeFailed,
		Open:          true,
	}
}

// Succeeded returns a copy of the run closed out with a dismissal.
func (r AlarmRun) Succeeded(dismissedAt time.Time) AlarmRun {
	at := dismissedAt.UTC()
	r.DismissedAt = &at
	r.Outcome = RunOutcomeSuccess
	r.Open = false
	return r
}

// Closed returns a copy of the run closed with its current outcome.
func (r AlarmRun) Closed() AlarmRun {
	r.Open = false
	return r
}

// Stale reports whether the run has been open past the threshold
// without a dismissal.
func (r AlarmRun) Stale(now time.Time, threshold time.Duration) bool {
	if r.DismissedAt != nil {
		return false
	}
	if threshold <= 0 {
		threshold = StaleRunThreshold
	}
	return now.Sub(r.FiredAt) > threshold
}
