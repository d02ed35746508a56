package notify

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/chain"
)

// AlarmLoader is the slice of alarm storage the detector needs.
type AlarmLoader interface {
	Alarm(ctx context.Context, id uuid.UUID) (*domain.Alarm, error)
}

// DismissedChecker reports whether an occurrence was already handled.
type DismissedChecker interface {
	IsDismissed(ctx context.Context, alarmID uuid.UUID, occurrenceKey string) (bool, error)
}

// ActiveAlarm is the detector's report of a currently firing alarm.
type ActiveAlarm struct {
	Alarm         domain.Alarm
	OccurrenceKey string
}

// ActiveAlarmDetector decides whether an alarm is currently ringing by
// scanning delivered notifications against the dismissed registry and
// the active-window policy. Used on foreground/startup to route
// straight to the dismissal flow.
type ActiveAlarmDetector struct {
	center    Center
	index     Index
	dismissed DismissedChecker
	alarms    AlarmLoader
	window    chain.ActiveWindowPolicy
	settings  chain.Settings
	clock     Clock
	logger    *log.Logger
}

// NewActiveAlarmDetector constructs a detector.
func NewActiveAlarmDetector(center Center, index Index, dismissed DismissedChecker, alarms AlarmLoader, settings chain.Settings, logger *log.Logger, clock Clock) (*ActiveAlarmDetector, error) {
	if center == nil || index == nil || dismissed == nil || alarms == nil {
		return nil, errors.New("notify: nil detector dependency")
	}
	if logger == nil {
		return nil, errors.New("notify: nil logger")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &ActiveAlarmDetector{
		center:    center,
		index:     index,
		dismissed: dismissed,
		alarms:    alarms,
		window:    chain.NewActiveWindowPolicy(settings),
		settings:  settings,
		clock:     clock,
		logger:    logger,
	}, nil
}

// DetectActive returns the first delivered, undismissed notification
// whose occurrence is inside its active window, with the alarm snapshot
// loaded from storage. First match wins; at most one alarm should be in
// its window at a time under normal operation. Nil means nothing is
// active.
func (d *ActiveAlarmDetector) DetectActive(ctx context.Context) (*ActiveAlarm, error) {
	delivered, err := d.center.Delivered(ctx)
	if err != nil {
		return nil, err
	}
	now := d.clock.Now()

	for _, notification := range delivered {
		parsed := ParseIdentifier(notification.ID)
		if parsed == nil {
			continue
		}
		dismissed, err := d.dismissed.IsDismissed(ctx, parsed.AlarmID, parsed.OccurrenceKey)
		if err != nil {
			d.logger.Printf("detector: dismissed lookup failed for %s: %v", notification.ID, err)
			continue
		}
		if dismissed {
			continue
		}
		anchor, err := domain.ParseOccurrenceKey(parsed.OccurrenceKey)
		if err != nil {
			continue
		}

		count, spacing := d.chainShape(ctx, parsed.AlarmID)
		if !d.window.Contains(now, anchor, count, spacing, d.settings.MinLeadTimeSeconds) {
			continue
		}
		alarm, err := d.alarms.Alarm(ctx, parsed.AlarmID)
		if err != nil {
			d.logger.Printf("detector: alarm load failed for %s: %v", parsed.AlarmID, err)
			continue
		}
		if alarm == nil {
			continue
		}
		return &ActiveAlarm{Alarm: *alarm, OccurrenceKey: parsed.OccurrenceKey}, nil
	}
	return nil, nil
}

// chainShape uses the persisted meta when present and falls back to the
// default detector spacing otherwise.
func (d *ActiveAlarmDetector) chainShape(ctx context.Context, alarmID uuid.UUID) (count, spacing int) {
	meta, err := d.index.Meta(ctx, alarmID)
	if err == nil && meta != nil && meta.Count > 0 {
		return meta.Count, meta.SpacingSeconds
	}
	policy := chain.NewPolicy(d.settings)
	config := policy.ComputeChain(chain.DefaultDetectorSpacingSeconds)
	return config.Count, config.SpacingSeconds
}
