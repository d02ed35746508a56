package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/dismissal"
	"wakeguard/internal/observability/metrics"
	"wakeguard/internal/scheduler"
)

// AlarmNotifier publishes alarm lifecycle events.
type AlarmNotifier interface {
	Notify(ctx context.Context, event AlarmEvent)
}

// AlarmEvent represents a lifecycle update.
type AlarmEvent struct {
	Type  string       `json:"type"`
	Alarm domain.Alarm `json:"alarm"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// AlarmRepository persists alarms.
type AlarmRepository interface {
	Save(ctx context.Context, alarm domain.Alarm) error
	Alarm(ctx context.Context, id uuid.UUID) (*domain.Alarm, error)
	Alarms(ctx context.Context) ([]domain.Alarm, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RunRepository persists the run log.
type RunRepository interface {
	AppendRun(ctx context.Context, run domain.AlarmRun) error
	LoadRuns(ctx context.Context) ([]domain.AlarmRun, error)
	RunsFor(ctx context.Context, alarmID uuid.UUID) ([]domain.AlarmRun, error)
	CleanupIncompleteRuns(ctx context.Context, now time.Time) (int, error)
}

// ChainJanitor sweeps chains whose fire window has long passed.
type ChainJanitor interface {
	CleanupStaleChains(ctx context.Context) (int, error)
}

// Service owns the alarm lifecycle: CRUD with (re)scheduling, run
// history queries, and the startup maintenance pass.
type Service struct {
	alarms     AlarmRepository
	runs       RunRepository
	scheduling scheduler.AlarmScheduling
	janitor    ChainJanitor
	registry   dismissal.Registry
	notifier   AlarmNotifier
	clock      Clock
	logger     *log.Logger
}

// ServiceOption customizes the alarm service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlarmNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService constructs an alarm service.
func NewService(alarms AlarmRepository, runs RunRepository, scheduling scheduler.AlarmScheduling, janitor ChainJanitor, registry dismissal.Registry, logger *log.Logger, opts ...ServiceOption) (*Service, error) {
	if alarms == nil || runs == nil {
		return nil, errors.New("alarms: nil repository")
	}
	if scheduling == nil || janitor == nil || registry == nil {
		return nil, errors.New("alarms: nil scheduling dependency")
	}
	if logger == nil {
		return nil, errors.New("alarms: nil logger")
	}
	service := &Service{
		alarms:     alarms,
		runs:       runs,
		scheduling: scheduling,
		janitor:    janitor,
		registry:   registry,
		clock:      systemClock{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CreateAlarm validates, persists and, when enabled, arms the alarm.
func (s *Service) CreateAlarm(ctx context.Context, alarm domain.Alarm) (*domain.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if err := validateAlarm(alarm); err != nil {
		return nil, err
	}
	if alarm.ID == uuid.Nil {
		alarm.ID = uuid.New()
	}
	now := s.clock.Now().UTC()
	alarm.CreatedAt = now
	alarm.UpdatedAt = now

	if err := s.alarms.Save(ctx, alarm); err != nil {
		return nil, err
	}
	if alarm.Enabled {
		if _, err := s.scheduling.Schedule(ctx, alarm); err != nil {
			s.logger.Printf("alarms: arm failed for %s: %v", alarm.ID, err)
		}
	}
	s.notify(ctx, "created", alarm)
	return &alarm, nil
}

// UpdateAlarm replaces an existing alarm and re-arms it.
func (s *Service) UpdateAlarm(ctx context.Context, alarm domain.Alarm) (*domain.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if err := validateAlarm(alarm); err != nil {
		return nil, err
	}
	existing, err := s.alarms.Alarm(ctx, alarm.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrNotFound
	}
	alarm.CreatedAt = existing.CreatedAt
	alarm.UpdatedAt = s.clock.Now().UTC()

	if err := s.alarms.Save(ctx, alarm); err != nil {
		return nil, err
	}
	// Disarm first so an edit that moves the fire time never leaves the
	// old occurrence armed alongside the new one.
	if err := s.scheduling.Cancel(ctx, alarm.ID); err != nil {
		s.logger.Printf("alarms: disarm failed for %s: %v", alarm.ID, err)
	}
	if alarm.Enabled {
		if _, err := s.scheduling.Schedule(ctx, alarm); err != nil {
			s.logger.Printf("alarms: re-arm failed for %s: %v", alarm.ID, err)
		}
	}
	s.notify(ctx, "updated", alarm)
	return &alarm, nil
}

// ToggleAlarm enables or disables an alarm.
func (s *Service) ToggleAlarm(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	alarm, err := s.alarms.Alarm(ctx, id)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, domain.ErrNotFound
	}
	if alarm.Enabled == enabled {
		return alarm, nil
	}
	alarm.Enabled = enabled
	alarm.UpdatedAt = s.clock.Now().UTC()
	if err := s.alarms.Save(ctx, *alarm); err != nil {
		return nil, err
	}
	if enabled {
		if _, err := s.scheduling.Schedule(ctx, *alarm); err != nil {
			s.logger.Printf("alarms: arm failed for %s: %v", alarm.ID, err)
		}
	} else {
		if err := s.scheduling.Cancel(ctx, alarm.ID); err != nil {
			s.logger.Printf("alarms: disarm failed for %s: %v", alarm.ID, err)
		}
	}
	s.notify(ctx, "toggled", *alarm)
	return alarm, nil
}

// DeleteAlarm disarms and removes an alarm.
func (s *Service) DeleteAlarm(ctx context.Context, id uuid.UUID) error {
	if s == nil {
		return errors.New("alarms: nil service")
	}
	alarm, err := s.alarms.Alarm(ctx, id)
	if err != nil {
		return err
	}
	if alarm == nil {
		return domain.ErrNotFound
	}
	if err := s.scheduling.Cancel(ctx, id); err != nil {
		s.logger.Printf("alarms: disarm failed for %s: %v", id, err)
	}
	if err := s.alarms.Delete(ctx, id); err != nil {
		return err
	}
	s.notify(ctx, "deleted", *alarm)
	return nil
}

// Alarm returns one alarm.
func (s *Service) Alarm(ctx context.Context, id uuid.UUID) (*domain.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	alarm, err := s.alarms.Alarm(ctx, id)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, domain.ErrNotFound
	}
	return alarm, nil
}

// Alarms returns every alarm.
func (s *Service) Alarms(ctx context.Context) ([]domain.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	return s.alarms.Alarms(ctx)
}

// Runs returns the full run history.
func (s *Service) Runs(ctx context.Context) ([]domain.AlarmRun, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	return s.runs.LoadRuns(ctx)
}

// RunsFor returns one alarm's run history.
func (s *Service) RunsFor(ctx context.Context, alarmID uuid.UUID) ([]domain.AlarmRun, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	return s.runs.RunsFor(ctx, alarmID)
}

// MaintenanceReport summarizes a startup maintenance pass.
type MaintenanceReport struct {
	RunsSwept          int `json:"runs_swept"`
	StaleChainsRemoved int `json:"stale_chains_removed"`
	RegistryExpired    int `json:"registry_expired"`
}

// RunStartupMaintenance sweeps crashed runs and stale chains, expires
// old dismissal records and reconciles the armed state against the
// stored alarms. An alarm currently ringing is left untouched so a
// restart cannot cut off an active ring.
func (s *Service) RunStartupMaintenance(ctx context.Context) (MaintenanceReport, error) {
	if s == nil {
		return MaintenanceReport{}, errors.New("alarms: nil service")
	}
	var report MaintenanceReport

	swept, err := s.runs.CleanupIncompleteRuns(ctx, s.clock.Now())
	if err != nil {
		s.logger.Printf("alarms: incomplete run sweep failed: %v", err)
	}
	report.RunsSwept = swept

	removed, err := s.janitor.CleanupStaleChains(ctx)
	if err != nil {
		s.logger.Printf("alarms: stale chain cleanup failed: %v", err)
	}
	report.StaleChainsRemoved = removed

	expired, err := s.registry.CleanupExpired(ctx)
	if err != nil {
		s.logger.Printf("alarms: registry cleanup failed: %v", err)
	}
	report.RegistryExpired = expired

	alarms, err := s.alarms.Alarms(ctx)
	if err != nil {
		return report, err
	}
	if err := s.scheduling.Reconcile(ctx, alarms, true); err != nil {
		s.logger.Printf("alarms: reconcile reported: %v", err)
	}
	return report, nil
}

func (s *Service) notify(ctx context.Context, eventType string, alarm domain.Alarm) {
	if s == nil {
		return
	}
	metrics.IncAlarmEvent(eventType)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, AlarmEvent{Type: eventType, Alarm: alarm})
}

func validateAlarm(alarm domain.Alarm) error {
	if alarm.Hour < 0 || alarm.Hour > 23 || alarm.Minute < 0 || alarm.Minute > 59 {
		return domain.ErrInvalidConfiguration
	}
	if alarm.Volume < 0 || alarm.Volume > 1 {
		return domain.ErrInvalidConfiguration
	}
	if alarm.HasChallenge(domain.ChallengeQR) && alarm.ExpectedQR == "" {
		return domain.ErrInvalidConfiguration
	}
	for _, day := range alarm.RepeatDays {
		if day < time.Sunday || day > time.Saturday {
			return domain.ErrInvalidConfiguration
		}
	}
	return nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
