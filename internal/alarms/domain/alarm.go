package domain

import (
	"time"

	"github.com/google/uuid"
)

// Challenge identifies a proof-of-wakefulness task the user must complete
// before an alarm can be dismissed.
type Challenge string

const (
	ChallengeQR    Challenge = "qr"
	ChallengeSteps Challenge = "steps"
	ChallengeMath  Challenge = "math"
)

// Alarm is the scheduling unit. Alarms are passed by value everywhere;
// mutations produce a full replacement written back through storage.
type Alarm struct {
	ID             uuid.UUID      `json:"id"`
	Label          string         `json:"label"`
	Hour           int            `json:"hour"`
	Minute         int            `json:"minute"`
	RepeatDays     []time.Weekday `json:"repeat_days,omitempty"`
	Challenges     []Challenge    `json:"challenges,omitempty"`
	ExpectedQR     string         `json:"expected_qr,omitempty"`
	StepThreshold  int            `json:"step_threshold,omitempty"`
	MathDifficulty int            `json:"math_difficulty,omitempty"`
	Enabled        bool           `json:"enabled"`
	SoundName      string         `json:"sound_name,omitempty"`
	Volume         float64        `json:"volume"`
	SnoozeDuration time.Duration  `json:"snooze_duration"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsRepeating reports whether the alarm recurs on at least one weekday.
func (a Alarm) IsRepeating() bool {
	return len(a.RepeatDays) > 0
}

// HasChallenge reports whether the alarm requires the given challenge.
func (a Alarm) HasChallenge(c Challenge) bool {
	for _, candidate := range a.Challenges {
		if candidate == c {
			return true
		}
	}
	return false
}

// NextOccurrence computes the next fire anchor strictly after now in the
// given location. One-shot alarms resolve to today's wall-clock time or,
// if that has passed, tomorrow's. Repeating alarms walk forward to the
// nearest enabled weekday.
func (a Alarm) NextOccurrence(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), a.Hour, a.Minute, 0, 0, loc)

	if !a.IsRepeating() {
		if candidate.After(now) {
			return candidate
		}
		return candidate.AddDate(0, 0, 1)
	}

	for day := 0; day < 8; day++ {
		next := candidate.AddDate(0, 0, day)
		if !next.After(now) {
			continue
		}
		if a.firesOn(next.Weekday()) {
			return next
		}
	}
	// Unreachable with a non-empty repeat set; fall back to tomorrow.
	return candidate.AddDate(0, 0, 1)
}

func (a Alarm) firesOn(day time.Weekday) bool {
	for _, d := range a.RepeatDays {
		if d == day {
			return true
		}
	}
	return false
}
