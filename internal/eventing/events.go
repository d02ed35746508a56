package eventing

import (
	"time"

	"github.com/google/uuid"
)

// NotificationDelivered is published when a chain notification fires.
type NotificationDelivered struct {
	AlarmID       uuid.UUID `json:"alarm_id"`
	OccurrenceKey string    `json:"occurrence_key"`
	Index         int       `json:"index"`
	DeliveredAt   time.Time `json:"delivered_at"`
}

// AlarmDismissed is published after a verified dismissal completes.
type AlarmDismissed struct {
	AlarmID       uuid.UUID `json:"alarm_id"`
	OccurrenceKey string    `json:"occurrence_key"`
	DismissedAt   time.Time `json:"dismissed_at"`
	Repeating     bool      `json:"repeating"`
}

// AlarmSnoozed is published when a ringing alarm is snoozed.
type AlarmSnoozed struct {
	AlarmID       uuid.UUID `json:"alarm_id"`
	OccurrenceKey string    `json:"occurrence_key"`
	NextFireAt    time.Time `json:"next_fire_at"`
}

// RunRecorded is published when a firing attempt is closed out.
type RunRecorded struct {
	AlarmID uuid.UUID `json:"alarm_id"`
	RunID   uuid.UUID `json:"run_id"`
	Outcome string    `json:"outcome"`
}
