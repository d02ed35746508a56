package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/permission"
)

// AlarmDaemon is the native alarm facility: a system service that owns
// ringing end to end, so no notification chain is needed. Scheduling
// returns the daemon's own external identifier.
type AlarmDaemon interface {
	RequestAuthorization(ctx context.Context) (permission.Status, error)
	Schedule(ctx context.Context, alarmID uuid.UUID, fireAt time.Time, label, soundName string) (string, error)
	Cancel(ctx context.Context, alarmID uuid.UUID) error
	Pending(ctx context.Context) (map[uuid.UUID]string, error)
	Alerting(ctx context.Context) ([]uuid.UUID, error)
	StopExternal(ctx context.Context, externalID string) error
	Stop(ctx context.Context, alarmID uuid.UUID) error
	Countdown(ctx context.Context, alarmID uuid.UUID, duration time.Duration) (string, error)
}

// NativeBackend implements AlarmScheduling against an AlarmDaemon.
type NativeBackend struct {
	daemon   AlarmDaemon
	clock    Clock
	location *time.Location
	logger   *log.Logger
}

// NewNativeBackend constructs the native backend.
func NewNativeBackend(daemon AlarmDaemon, location *time.Location, logger *log.Logger) (*NativeBackend, error) {
	if daemon == nil {
		return nil, errors.New("scheduler: nil alarm daemon")
	}
	if logger == nil {
		return nil, errors.New("scheduler: nil logger")
	}
	if location == nil {
		location = time.Local
	}
	return &NativeBackend{
		daemon:   daemon,
		clock:    systemClock{},
		location: location,
		logger:   logger,
	}, nil
}

// WithBackendClock overrides the backend clock. Test hook.
func (b *NativeBackend) WithBackendClock(clock Clock) *NativeBackend {
	if clock != nil {
		b.clock = clock
	}
	return b
}

// RequestAuthorizationIfNeeded prompts the daemon for authorization.
func (b *NativeBackend) RequestAuthorizationIfNeeded(ctx context.Context) error {
	status, err := b.daemon.RequestAuthorization(ctx)
	if err != nil {
		return err
	}
	if status != permission.StatusAuthorized {
		return domain.ErrNotAuthorized
	}
	return nil
}

// Schedule arms the alarm's next occurrence with the daemon.
func (b *NativeBackend) Schedule(ctx context.Context, alarm domain.Alarm) (string, error) {
	anchor := alarm.NextOccurrence(b.clock.Now(), b.location)
	return b.daemon.Schedule(ctx, alarm.ID, anchor, alarm.Label, alarm.SoundName)
}

// Cancel disarms the alarm.
func (b *NativeBackend) Cancel(ctx context.Context, alarmID uuid.UUID) error {
	return b.daemon.Cancel(ctx, alarmID)
}

// PendingAlarmIDs lists alarms the daemon has armed.
func (b *NativeBackend) PendingAlarmIDs(ctx context.Context) ([]uuid.UUID, error) {
	pending, err := b.daemon.Pending(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	return ids, nil
}

// Stop silences an alerting alarm through a fallback chain: the intent
// external identifier first, then the domain identifier, and finally a
// scan of whatever the daemon reports alerting. Zero alerting alarms
// means the system already cleared it; more than one means the target
// cannot be determined and guessing is refused.
func (b *NativeBackend) Stop(ctx context.Context, alarmID uuid.UUID, intentID string) error {
	if intentID != "" {
		if err := b.daemon.StopExternal(ctx, intentID); err == nil {
			return nil
		} else {
			b.logger.Printf("scheduler: stop by intent id %q failed: %v", intentID, err)
		}
	}
	if alarmID != uuid.Nil {
		if err := b.daemon.Stop(ctx, alarmID); err == nil {
			return nil
		} else {
			b.logger.Printf("scheduler: stop by alarm id %s failed: %v", alarmID, err)
		}
	}

	alerting, err := b.daemon.Alerting(ctx)
	if err != nil {
		return err
	}
	switch len(alerting) {
	case 0:
		return domain.ErrAlreadyHandledBySystem
	case 1:
		return b.daemon.Stop(ctx, alerting[0])
	default:
		return domain.ErrAmbiguousAlarmState
	}
}

// TransitionToCountdown re-arms the alarm as a daemon countdown.
func (b *NativeBackend) TransitionToCountdown(ctx context.Context, alarmID uuid.UUID, duration time.Duration) error {
	if duration <= 0 {
		return domain.ErrInvalidConfiguration
	}
	_, err := b.daemon.Countdown(ctx, alarmID, duration)
	return err
}

// Reconcile arms enabled alarms and disarms disabled ones. Alarms the
// daemon reports alerting are skipped when skipIfRinging is set.
func (b *NativeBackend) Reconcile(ctx context.Context, alarms []domain.Alarm, skipIfRinging bool) error {
	alerting := make(map[uuid.UUID]struct{})
	if skipIfRinging {
		ids, err := b.daemon.Alerting(ctx)
		if err != nil {
			b.logger.Printf("scheduler: reconcile alerting query failed: %v", err)
		}
		for _, id := range ids {
			alerting[id] = struct{}{}
		}
	}

	var firstErr error
	for _, alarm := range alarms {
		if _, ringing := alerting[alarm.ID]; ringing {
			continue
		}
		if !alarm.Enabled {
			if err := b.daemon.Cancel(ctx, alarm.ID); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		if _, err := b.Schedule(ctx, alarm); err != nil {
			b.logger.Printf("scheduler: reconcile arm failed for %s: %v", alarm.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
