package notify

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/chain"
	"wakeguard/internal/observability/metrics"
	"wakeguard/internal/permission"
)

const (
	// platformMinimumDelay is the smallest fire interval the platform
	// accepts for a scheduled notification.
	platformMinimumDelay = time.Second

	// removalSettleDelay accommodates eventually-consistent removal on
	// the platform side: an add issued immediately after a remove for
	// the same identifier can land before the remove completes.
	removalSettleDelay = 100 * time.Millisecond
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// ChainedScheduler schedules, cancels and cleans up notification chains
// for alarm occurrences. Each scheduling call runs the strict ordered
// pipeline: anchor validation, base interval, permission check, chain
// shape, slot reservation, idempotent rewrite, post-check, outcome.
type ChainedScheduler struct {
	center   Center
	guard    *LimitGuard
	index    Index
	policy   chain.Policy
	settings chain.Settings
	clock    Clock
	sleep    func(time.Duration)
	logger   *log.Logger
}

// SchedulerOption customizes the scheduler.
type SchedulerOption func(*ChainedScheduler)

// WithClock assigns a clock.
func WithClock(clock Clock) SchedulerOption {
	return func(s *ChainedScheduler) {
		s.clock = clock
	}
}

// WithSleep assigns the settle-delay sleeper.
func WithSleep(sleep func(time.Duration)) SchedulerOption {
	return func(s *ChainedScheduler) {
		s.sleep = sleep
	}
}

// NewChainedScheduler constructs a scheduler.
func NewChainedScheduler(center Center, guard *LimitGuard, index Index, settings chain.Settings, logger *log.Logger, opts ...SchedulerOption) (*ChainedScheduler, error) {
	if center == nil {
		return nil, errors.New("notify: nil center")
	}
	if guard == nil {
		return nil, errors.New("notify: nil limit guard")
	}
	if index == nil {
		return nil, errors.New("notify: nil index")
	}
	if logger == nil {
		return nil, errors.New("notify: nil logger")
	}
	scheduler := &ChainedScheduler{
		center:   center,
		guard:    guard,
		index:    index,
		policy:   chain.NewPolicy(settings),
		settings: settings,
		clock:    systemClock{},
		sleep:    time.Sleep,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(scheduler)
	}
	return scheduler, nil
}

// ScheduleChain schedules a notification chain for one occurrence of an
// alarm anchored at the given fire time.
func (s *ChainedScheduler) ScheduleChain(ctx context.Context, alarm domain.Alarm, anchor time.Time) Outcome {
	start := time.Now()
	outcome := s.scheduleChain(ctx, alarm, anchor)
	metrics.ObserveChainSchedule(string(outcome.Status), time.Since(start))
	return outcome
}

func (s *ChainedScheduler) scheduleChain(ctx context.Context, alarm domain.Alarm, anchor time.Time) Outcome {
	// Single now reading; every offset below derives from it so the
	// chain stays internally consistent.
	now := s.clock.Now()
	if !anchor.After(now) {
		return unavailableOutcome(ReasonInvalidConfiguration, domain.ErrInvalidConfiguration)
	}

	base := ceilToSecond(anchor.Sub(now))
	if minLead := time.Duration(s.settings.MinLeadTimeSeconds) * time.Second; base < minLead {
		base = minLead
	}
	if base < platformMinimumDelay {
		base = platformMinimumDelay
	}

	status, err := s.center.AuthorizationStatus(ctx)
	if err != nil {
		return unavailableOutcome(ReasonPermissions, err)
	}
	if status != permission.StatusAuthorized {
		return unavailableOutcome(ReasonPermissions, domain.ErrNotAuthorized)
	}

	// Fixed fallback spacing: aggressive fixed-interval re-alerting
	// beats sound-duration-matched spacing for wake probability.
	config := s.policy.ComputeChain(s.settings.FallbackSpacingSeconds)
	requested := config.Count

	granted := s.guard.Reserve(ctx, requested)
	if granted == 0 {
		return unavailableOutcome(ReasonGlobalLimit, domain.ErrSystemLimitExceeded)
	}
	defer s.guard.Finalize(granted)
	trimmed := granted < requested
	if trimmed {
		config = config.Trimmed(granted)
	}

	occurrenceKey := domain.OccurrenceKey(anchor)
	expected := make([]string, 0, config.Count)
	for i := 0; i < config.Count; i++ {
		expected = append(expected, Identifier{AlarmID: alarm.ID, OccurrenceKey: occurrenceKey, Index: i}.String())
	}

	prior, err := s.index.Identifiers(ctx, alarm.ID)
	if err != nil {
		s.logger.Printf("SCHED alarm %s: prior identifier load failed: %v", alarm.ID, err)
		prior = nil
	}
	// Unconditional clear before any platform call: a reschedule of the
	// same occurrence after a partial prior failure must not leave a
	// stale identifier tracked.
	if err := s.index.Clear(ctx, alarm.ID); err != nil {
		return unavailableOutcome(ReasonOther, err)
	}

	// Removal is awaited before the adds; the settle delay covers
	// platform eventual consistency so a new add cannot race a stale
	// remove of the same identifier.
	toRemove := mergeIdentifiers(prior, expected)
	if err := s.center.RemovePending(ctx, toRemove); err != nil {
		s.logger.Printf("SCHED alarm %s: remove pending failed: %v", alarm.ID, err)
	}
	if err := s.center.RemoveDelivered(ctx, toRemove); err != nil {
		s.logger.Printf("SCHED alarm %s: remove delivered failed: %v", alarm.ID, err)
	}
	s.sleep(removalSettleDelay)

	scheduled := make([]string, 0, config.Count)
	for i, id := range expected {
		delay := base + time.Duration(i*config.SpacingSeconds)*time.Second
		if delay < platformMinimumDelay {
			delay = platformMinimumDelay
		}
		req := Request{
			ID:     id,
			Title:  alarmTitle(alarm),
			Body:   "Scan your code to dismiss",
			Sound:  alarm.SoundName,
			FireIn: delay,
		}
		if err := s.center.Add(ctx, req); err != nil {
			// A single failed add does not abort the chain; the
			// remaining identifiers are still attempted.
			s.logger.Printf("SCHED fault alarm %s: add %s failed: %v", alarm.ID, id, err)
			continue
		}
		scheduled = append(scheduled, id)
	}

	meta := ChainMeta{
		StartAt:        anchor.UTC(),
		SpacingSeconds: config.SpacingSeconds,
		Count:          len(scheduled),
		CreatedAt:      now.UTC(),
	}
	if err := s.index.SaveChain(ctx, alarm.ID, scheduled, meta); err != nil {
		return unavailableOutcome(ReasonOther, err)
	}

	s.postCheck(ctx, alarm.ID, scheduled)

	if len(scheduled) == 0 {
		return unavailableOutcome(ReasonOther, domain.ErrSchedulingFailed)
	}
	if trimmed || len(scheduled) < requested {
		return trimmedOutcome(requested, len(scheduled))
	}
	return scheduledOutcome(len(scheduled))
}

// postCheck re-queries live pending requests against the expected set.
// A mismatch is the only direct signal that the platform dropped
// notifications it was asked to schedule, so it is logged at critical
// severity, never swallowed.
func (s *ChainedScheduler) postCheck(ctx context.Context, alarmID uuid.UUID, expected []string) {
	if len(expected) == 0 {
		return
	}
	live, err := s.center.PendingIdentifiers(ctx)
	if err != nil {
		s.logger.Printf("SCHED alarm %s: post-check query failed: %v", alarmID, err)
		return
	}
	liveSet := make(map[string]struct{}, len(live))
	for _, id := range live {
		liveSet[id] = struct{}{}
	}
	matching := 0
	for _, id := range expected {
		if _, ok := liveSet[id]; ok {
			matching++
		}
	}
	if matching != len(expected) {
		s.logger.Printf("SCHED CRITICAL alarm %s: platform reports %d of %d expected pending requests", alarmID, matching, len(expected))
		metrics.IncChainPostCheckMismatch()
	}
}

// CancelChain removes every tracked identifier for the alarm and clears
// its metadata — full teardown.
func (s *ChainedScheduler) CancelChain(ctx context.Context, alarmID uuid.UUID) error {
	ids, err := s.index.Identifiers(ctx, alarmID)
	if err != nil {
		return err
	}
	if err := s.center.RemovePending(ctx, ids); err != nil {
		s.logger.Printf("SCHED alarm %s: cancel remove pending failed: %v", alarmID, err)
	}
	if err := s.center.RemoveDelivered(ctx, ids); err != nil {
		s.logger.Printf("SCHED alarm %s: cancel remove delivered failed: %v", alarmID, err)
	}
	return s.index.Clear(ctx, alarmID)
}

// CancelOccurrence removes only the identifiers of one occurrence,
// leaving other occurrences' chains untouched. A repeating alarm keeps
// its next occurrence scheduled after the current one is dismissed.
func (s *ChainedScheduler) CancelOccurrence(ctx context.Context, alarmID uuid.UUID, occurrenceKey string) error {
	ids, err := s.index.Identifiers(ctx, alarmID)
	if err != nil {
		return err
	}
	matching := make([]string, 0, len(ids))
	for _, id := range ids {
		parsed := ParseIdentifier(id)
		if parsed != nil && parsed.OccurrenceKey == occurrenceKey {
			matching = append(matching, id)
		}
	}
	if len(matching) == 0 {
		return nil
	}
	if err := s.center.RemovePending(ctx, matching); err != nil {
		s.logger.Printf("SCHED alarm %s: occurrence remove pending failed: %v", alarmID, err)
	}
	if err := s.center.RemoveDelivered(ctx, matching); err != nil {
		s.logger.Printf("SCHED alarm %s: occurrence remove delivered failed: %v", alarmID, err)
	}
	return s.index.RemoveIdentifiers(ctx, alarmID, matching)
}

// CleanupStaleChains removes chains whose last fire time plus the grace
// period has passed. Alarms with identifiers but no metadata are
// skipped: staleness cannot be proven without meta, and the policy is
// to never guess.
func (s *ChainedScheduler) CleanupStaleChains(ctx context.Context) (int, error) {
	alarmIDs, err := s.index.AlarmIDs(ctx)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	grace := time.Duration(s.settings.CleanupGraceSeconds) * time.Second
	removed := 0
	for _, alarmID := range alarmIDs {
		meta, err := s.index.Meta(ctx, alarmID)
		if err != nil {
			s.logger.Printf("SCHED alarm %s: cleanup meta load failed: %v", alarmID, err)
			continue
		}
		if meta == nil {
			continue
		}
		if !now.After(meta.LastFireTime().Add(grace)) {
			continue
		}
		if err := s.CancelChain(ctx, alarmID); err != nil {
			s.logger.Printf("SCHED alarm %s: stale cleanup failed: %v", alarmID, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		metrics.AddStaleChainsRemoved(removed)
	}
	return removed, nil
}

func alarmTitle(alarm domain.Alarm) string {
	if alarm.Label != "" {
		return alarm.Label
	}
	return "Alarm"
}

func ceilToSecond(d time.Duration) time.Duration {
	truncated := d.Truncate(time.Second)
	if truncated < d {
		truncated += time.Second
	}
	return truncated
}

func mergeIdentifiers(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	return merged
}
