package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/notify"
	"wakeguard/internal/permission"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// ChainOps is the chain scheduling slice the backend drives.
type ChainOps interface {
	ScheduleChain(ctx context.Context, alarm domain.Alarm, anchor time.Time) notify.Outcome
	CancelChain(ctx context.Context, alarmID uuid.UUID) error
	CancelOccurrence(ctx context.Context, alarmID uuid.UUID, occurrenceKey string) error
}

// ActiveDetector reports the currently ringing alarm, if any.
type ActiveDetector interface {
	DetectActive(ctx context.Context) (*notify.ActiveAlarm, error)
}

// ChainedBackend implements AlarmScheduling on top of the notification
// chain scheduler. It is the fallback backend for platforms without a
// native alarm daemon.
type ChainedBackend struct {
	chains      ChainOps
	index       notify.Index
	detector    ActiveDetector
	alarms      notify.AlarmLoader
	permissions permission.Service
	clock       Clock
	location    *time.Location
	logger      *log.Logger
}

// NewChainedBackend constructs the chain-based backend.
func NewChainedBackend(chains ChainOps, index notify.Index, detector ActiveDetector, alarms notify.AlarmLoader, permissions permission.Service, location *time.Location, logger *log.Logger) (*ChainedBackend, error) {
	if chains == nil || index == nil || detector == nil || alarms == nil {
		return nil, errors.New("scheduler: nil chain dependency")
	}
	if permissions == nil {
		return nil, errors.New("scheduler: nil permission service")
	}
	if logger == nil {
		return nil, errors.New("scheduler: nil logger")
	}
	if location == nil {
		location = time.Local
	}
	return &ChainedBackend{
		chains:      chains,
		index:       index,
		detector:    detector,
		alarms:      alarms,
		permissions: permissions,
		clock:       systemClock{},
		location:    location,
		logger:      logger,
	}, nil
}

// WithBackendClock overrides the backend clock. Test hook.
func (b *ChainedBackend) WithBackendClock(clock Clock) *ChainedBackend {
	if clock != nil {
		b.clock = clock
	}
	return b
}

// RequestAuthorizationIfNeeded resolves an undetermined notification
// permission through a prompt.
func (b *ChainedBackend) RequestAuthorizationIfNeeded(ctx context.Context) error {
	status, err := b.permissions.NotificationStatus(ctx)
	if err != nil {
		return err
	}
	if status == permission.StatusNotDetermined {
		status, err = b.permissions.RequestNotificationAuthorization(ctx)
		if err != nil {
			return err
		}
	}
	if status != permission.StatusAuthorized {
		return domain.ErrNotAuthorized
	}
	return nil
}

// Schedule arms the alarm's next occurrence as a notification chain.
// The external identifier is the chain's first notification identifier.
func (b *ChainedBackend) Schedule(ctx context.Context, alarm domain.Alarm) (string, error) {
	anchor := alarm.NextOccurrence(b.clock.Now(), b.location)
	outcome := b.chains.ScheduleChain(ctx, alarm, anchor)
	if err := outcomeError(outcome); err != nil {
		return "", err
	}
	external := notify.Identifier{
		AlarmID:       alarm.ID,
		OccurrenceKey: domain.OccurrenceKey(anchor),
		Index:         0,
	}
	return external.String(), nil
}

// Cancel tears down the alarm's whole chain.
func (b *ChainedBackend) Cancel(ctx context.Context, alarmID uuid.UUID) error {
	return b.chains.CancelChain(ctx, alarmID)
}

// PendingAlarmIDs lists alarms with tracked identifiers.
func (b *ChainedBackend) PendingAlarmIDs(ctx context.Context) ([]uuid.UUID, error) {
	return b.index.AlarmIDs(ctx)
}

// Stop silences the current ring by tearing the chain down. A repeating
// alarm is immediately re-armed for its next occurrence so stopping
// today's ring never disables tomorrow's.
func (b *ChainedBackend) Stop(ctx context.Context, alarmID uuid.UUID, intentID string) error {
	if intentID != "" {
		if parsed := notify.ParseIdentifier(intentID); parsed != nil {
			alarmID = parsed.AlarmID
		}
	}
	if err := b.chains.CancelChain(ctx, alarmID); err != nil {
		return err
	}
	alarm, err := b.alarms.Alarm(ctx, alarmID)
	if err != nil {
		return err
	}
	if alarm == nil || !alarm.Enabled || !alarm.IsRepeating() {
		return nil
	}
	if _, err := b.Schedule(ctx, *alarm); err != nil {
		b.logger.Printf("scheduler: stop re-arm failed for %s: %v", alarmID, err)
		return err
	}
	return nil
}

// TransitionToCountdown re-arms the alarm as a chain anchored a fixed
// duration from now.
func (b *ChainedBackend) TransitionToCountdown(ctx context.Context, alarmID uuid.UUID, duration time.Duration) error {
	if duration <= 0 {
		return domain.ErrInvalidConfiguration
	}
	alarm, err := b.alarms.Alarm(ctx, alarmID)
	if err != nil {
		return err
	}
	if alarm == nil {
		return domain.ErrNotFound
	}
	anchor := b.clock.Now().Add(duration)
	return outcomeError(b.chains.ScheduleChain(ctx, *alarm, anchor))
}

// Reconcile arms every enabled alarm's next occurrence and disarms the
// rest. With skipIfRinging, an alarm the detector reports as active is
// left untouched.
func (b *ChainedBackend) Reconcile(ctx context.Context, alarms []domain.Alarm, skipIfRinging bool) error {
	var ringing uuid.UUID
	if skipIfRinging {
		active, err := b.detector.DetectActive(ctx)
		if err != nil {
			b.logger.Printf("scheduler: reconcile active detection failed: %v", err)
		} else if active != nil {
			ringing = active.Alarm.ID
		}
	}

	var firstErr error
	for _, alarm := range alarms {
		if skipIfRinging && alarm.ID == ringing {
			continue
		}
		if !alarm.Enabled {
			if err := b.chains.CancelChain(ctx, alarm.ID); err != nil && firstErr == nil {
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
