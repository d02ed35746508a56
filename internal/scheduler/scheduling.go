package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/notify"
)

// AlarmScheduling is the unified scheduling surface. Two backends
// implement it: the notification-chain backend and, where a native
// alarm daemon is present, the native backend. The caller never knows
// which one it holds.
type AlarmScheduling interface {
	// RequestAuthorizationIfNeeded prompts for notification permission
	// when it is still undetermined. Denied permission is an error.
	RequestAuthorizationIfNeeded(ctx context.Context) error

	// Schedule arms the alarm's next occurrence and returns the
	// backend's external identifier for it.
	Schedule(ctx context.Context, alarm domain.Alarm) (string, error)

	// Cancel disarms everything scheduled for the alarm.
	Cancel(ctx context.Context, alarmID uuid.UUID) error

	// PendingAlarmIDs lists alarms with anything currently armed.
	PendingAlarmIDs(ctx context.Context) ([]uuid.UUID, error)

	// Stop silences a currently alerting alarm. The optional intent
	// identifier, when the trigger carried one, takes precedence over
	// the domain id.
	Stop(ctx context.Context, alarmID uuid.UUID, intentID string) error

	// TransitionToCountdown re-arms the alarm as a fixed countdown from
	// now, used for snooze-style timers.
	TransitionToCountdown(ctx context.Context, alarmID uuid.UUID, duration time.Duration) error

	// Reconcile makes the armed state match the given alarm set:
	// enabled alarms get their next occurrence armed, disabled ones are
	// disarmed. With skipIfRinging, an alarm currently alerting is left
	// untouched so reconciliation cannot cut off an active ring.
	Reconcile(ctx context.Context, alarms []domain.Alarm, skipIfRinging bool) error
}

// outcomeError maps a failed chain outcome to the scheduling taxonomy.
func outcomeError(outcome notify.Outcome) error {
	if outcome.Success() {
		return nil
	}
	switch outcome.Reason {
	case notify.ReasonPermissions:
		return domain.ErrNotAuthorized
	case notify.ReasonGlobalLimit:
		return domain.ErrSystemLimitExceeded
	case notify.ReasonInvalidConfiguration:
		return domain.ErrInvalidConfiguration
	default:
		if outcome.Err != nil {
			return outcome.Err
		}
		return domain.ErrSchedulingFailed
	}
}
