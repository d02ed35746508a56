package dismissal

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/audio"
	"wakeguard/internal/eventing"
	"wakeguard/internal/notify"
	"wakeguard/internal/observability/metrics"
	"wakeguard/internal/permission"
)

// State of the dismissal flow.
type State string

const (
	StateIdle       State = "idle"
	StateRinging    State = "ringing"
	StateScanning   State = "scanning"
	StateValidating State = "validating"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// FailureReason classifies a failed dismissal attempt.
type FailureReason string

const (
	ReasonQRMismatch       FailureReason = "qrMismatch"
	ReasonScanningError    FailureReason = "scanningError"
	ReasonPermissionDenied FailureReason = "permissionDenied"
	ReasonNoExpectedQR     FailureReason = "noExpectedQR"
	ReasonAlarmNotFound    FailureReason = "alarmNotFound"
	ReasonUserAborted      FailureReason = "userAborted"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// AlarmStore is the slice of alarm storage the flow needs.
type AlarmStore interface {
	Alarm(ctx context.Context, id uuid.UUID) (*domain.Alarm, error)
	Save(ctx context.Context, alarm domain.Alarm) error
}

// RunAppender records closed-out firing attempts.
type RunAppender interface {
	AppendRun(ctx context.Context, run domain.AlarmRun) error
}

// ChainScheduler is the scheduling surface the flow drives for
// cleanup and snooze.
type ChainScheduler interface {
	ScheduleChain(ctx context.Context, alarm domain.Alarm, anchor time.Time) notify.Outcome
	CancelChain(ctx context.Context, alarmID uuid.UUID) error
	CancelOccurrence(ctx context.Context, alarmID uuid.UUID, occurrenceKey string) error
}

// AudioEngine is the playback surface the flow drives.
type AudioEngine interface {
	PromoteToRinging(soundName string, volume float64) error
	Stop()
}

// Signals are the flow's output intents. The state machine never
// touches a screen or scanner directly; the host wires these to
// whatever presentation layer it has. Nil signals are skipped.
type Signals struct {
	KeepScreenAwake func(on bool)
	Haptic          func()
	StartScan       func()
	StopScan        func()
	RouteBack       func()
}

// Config carries the flow's timing knobs.
type Config struct {
	// DebounceInterval treats an identical payload re-scanned within
	// this window of the last accepted match as a duplicate event.
	DebounceInterval time.Duration
	// MismatchRetryDelay is how long mismatch feedback shows before the
	// flow returns to scanning.
	MismatchRetryDelay time.Duration
	// SessionSettleGrace is waited after stopping audio so the session
	// fully deactivates before anything else can start one.
	SessionSettleGrace time.Duration
	// SuccessDwell is how long the success state shows before routing
	// back.
	SuccessDwell time.Duration
}

// DefaultConfig returns the shipped flow timings.
func DefaultConfig() Config {
	return Config{
		DebounceInterval:   300 * time.Millisecond,
		MismatchRetryDelay: time.Second,
		SessionSettleGrace: 500 * time.Millisecond,
		SuccessDwell:       1500 * time.Millisecond,
	}
}

// Flow is the dismissal state machine:
//
//	idle -> ringing -> scanning -> validating -> success | failed
//
// failed retries back to ringing; success and abort are terminal for
// the run. Transition methods are idempotent: a call in the wrong
// state is a no-op, never an error. Two flags guard the terminal
// paths: transitioning blocks concurrent invocation, completed blocks
// double-processing after a success.
type Flow struct {
	store       AlarmStore
	runs        RunAppender
	registry    Registry
	scheduler   ChainScheduler
	engine      AudioEngine
	reliability audio.ReliabilityProvider
	permissions permission.Service
	bus         eventing.EventBus
	logger      *log.Logger

	cfg      Config
	clock    Clock
	location *time.Location
	after    func(time.Duration, func())
	sleep    func(time.Duration)
	signals  Signals

	mu             sync.Mutex
	state          State
	reason         FailureReason
	alarm          domain.Alarm
	run            domain.AlarmRun
	occurrenceKey  string
	lastAccepted   string
	lastAcceptedAt time.Time
	mismatchSeq    int
	transitioning  bool
	completed      bool
}

// FlowOption customizes a Flow.
type FlowOption func(*Flow)

// WithClock assigns a clock.
func WithClock(clock Clock) FlowOption {
	return func(f *Flow) { f.clock = clock }
}

// WithConfig assigns flow timings.
func WithConfig(cfg Config) FlowOption {
	return func(f *Flow) { f.cfg = cfg }
}

// WithLocation assigns the timezone used for snooze computation.
func WithLocation(loc *time.Location) FlowOption {
	return func(f *Flow) { f.location = loc }
}

// WithAfter assigns the delayed-callback scheduler.
func WithAfter(after func(time.Duration, func())) FlowOption {
	return func(f *Flow) { f.after = after }
}

// WithSleep assigns the settle-grace sleeper.
func WithSleep(sleep func(time.Duration)) FlowOption {
	return func(f *Flow) { f.sleep = sleep }
}

// WithSignals assigns the output intents.
func WithSignals(signals Signals) FlowOption {
	return func(f *Flow) { f.signals = signals }
}

// NewFlow constructs a dismissal flow.
func NewFlow(store AlarmStore, runs RunAppender, registry Registry, scheduler ChainScheduler, engine AudioEngine, reliability audio.ReliabilityProvider, permissions permission.Service, bus eventing.EventBus, logger *log.Logger, opts ...FlowOption) (*Flow, error) {
	if store == nil || runs == nil || registry == nil || scheduler == nil {
		return nil, errors.New("dismissal: nil storage dependency")
	}
	if engine == nil || reliability == nil || permissions == nil {
		return nil, errors.New("dismissal: nil platform dependency")
	}
	if logger == nil {
		return nil, errors.New("dismissal: nil logger")
	}
	flow := &Flow{
		store:       store,
		runs:        runs,
		registry:    registry,
		scheduler:   scheduler,
		engine:      engine,
		reliability: reliability,
		permissions: permissions,
		bus:         bus,
		logger:      logger,
		cfg:         DefaultConfig(),
		clock:       systemClock{},
		location:    time.Local,
		sleep:       time.Sleep,
		state:       StateIdle,
	}
	flow.after = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	for _, opt := range opts {
		opt(flow)
	}
	if flow.location == nil {
		flow.location = time.Local
	}
	return flow, nil
}

// State returns the current flow state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Reason returns the failure reason when the state is failed.
func (f *Flow) Reason() FailureReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

// Start begins a dismissal for the alarm firing at firedAt. Only valid
// from idle. The alarm is snapshotted once so a concurrent edit cannot
// change the in-flight challenge requirements.
func (f *Flow) Start(ctx context.Context, alarmID uuid.UUID, firedAt time.Time) error {
	f.mu.Lock()
	if f.state != StateIdle {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	alarm, err := f.store.Alarm(ctx, alarmID)
	if err != nil {
		return err
	}
	if alarm == nil {
		f.mu.Lock()
		f.state = StateFailed
		f.reason = ReasonAlarmNotFound
		f.mu.Unlock()
		return domain.ErrNotFound
	}

	occurrenceKey := domain.OccurrenceKey(firedAt)
	run := domain.NewAlarmRun(alarm.ID, occurrenceKey, firedAt)

	f.mu.Lock()
	if f.state != StateIdle {
		f.mu.Unlock()
		return nil
	}
	f.alarm = *alarm
	f.run = run
	f.occurrenceKey = occurrenceKey
	f.reason = ""
	f.completed = false
	f.lastAccepted = ""
	f.lastAcceptedAt = time.Time{}
	f.state = StateRinging
	f.mu.Unlock()

	// Persist the open run right away: a crash mid-ring leaves a record
	// for the startup sweep to close out as failed.
	if err := f.runs.AppendRun(ctx, run); err != nil {
		f.logger.Printf("dismissal: open run append failed for %s: %v", alarm.ID, err)
	}

	f.signal(f.signals.KeepScreenAwake, true)
	if f.signals.Haptic != nil {
		f.signals.Haptic()
	}
	f.startRingingAudio(*alarm)
	return nil
}

// startRingingAudio is gated by the reliability mode and the
// suppress-while-foregrounded flag.
func (f *Flow) startRingingAudio(alarm domain.Alarm) {
	if f.reliability.Mode() != audio.ModeNotificationsPlusAudio {
		return
	}
	if f.reliability.SuppressForegroundSound() {
		return
	}
	if err := f.engine.PromoteToRinging(alarm.SoundName, alarm.Volume); err != nil {
		f.logger.Printf("dismissal: ringing audio failed for %s: %v", alarm.ID, err)
	}
}

// BeginScan moves from ringing to scanning. The alarm must carry an
// expected QR value; camera permission is requested when undetermined.
func (f *Flow) BeginScan(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateRinging {
		f.mu.Unlock()
		return nil
	}
	alarm := f.alarm
	f.mu.Unlock()

	if !alarm.HasChallenge(domain.ChallengeQR) || strings.TrimSpace(alarm.ExpectedQR) == "" {
		f.fail(ReasonNoExpectedQR)
		return domain.ErrInvalidConfiguration
	}

	status, err := f.permissions.CameraStatus(ctx)
	if err != nil {
		f.fail(ReasonScanningError)
		return err
	}
	if status == permission.StatusNotDetermined {
		status, err = f.permissions.RequestCameraAuthorization(ctx)
		if err != nil {
			f.fail(ReasonScanningError)
			return err
		}
	}
	if status != permission.StatusAuthorized {
		f.fail(ReasonPermissionDenied)
		return domain.ErrPermissionDenied
	}

	f.mu.Lock()
	if f.state != StateRinging {
		f.mu.Unlock()
		return nil
	}
	f.state = StateScanning
	f.mu.Unlock()
	f.signalPlain(f.signals.StartScan)
	return nil
}

// DidScan processes a scanned payload. Payloads arriving in any state
// other than scanning are dropped, not queued. The comparison trims
// whitespace on both sides and is case sensitive.
func (f *Flow) DidScan(ctx context.Context, payload string) error {
	f.mu.Lock()
	if f.state != StateScanning || f.transitioning {
		f.mu.Unlock()
		return nil
	}
	// Validating blocks concurrent payload processing from here on.
	f.state = StateValidating
	trimmed := strings.TrimSpace(payload)
	expected := strings.TrimSpace(f.alarm.ExpectedQR)

	if trimmed == expected {
		now := f.clock.Now()
		if trimmed == f.lastAccepted && now.Sub(f.lastAcceptedAt) <= f.cfg.DebounceInterval {
			// Duplicate scan event; not re-validated.
			f.state = StateScanning
			f.mu.Unlock()
			return nil
		}
		f.lastAccepted = trimmed
		f.lastAcceptedAt = now
		f.mu.Unlock()
		if err := f.CompleteSuccess(ctx); err != nil {
			// The durable write failed; return to scanning so the user
			// can retry. The debounce keeps an immediate duplicate from
			// hammering the store.
			f.mu.Lock()
			if f.state == StateValidating && !f.completed {
				f.state = StateScanning
			}
			f.mu.Unlock()
			return err
		}
		return nil
	}

	f.state = StateFailed
	f.reason = ReasonQRMismatch
	f.mismatchSeq++
	seq := f.mismatchSeq
	f.mu.Unlock()

	// Transient feedback; the return to scanning is guarded so it
	// cannot clobber a success that lands in the meantime.
	f.after(f.cfg.MismatchRetryDelay, func() {
		f.mu.Lock()
		if f.state == StateFailed && f.reason == ReasonQRMismatch && f.mismatchSeq == seq && !f.completed {
			f.state = StateScanning
			f.reason = ""
		}
		f.mu.Unlock()
	})
	return nil
}

// CompleteSuccess performs the ordered dismissal sequence. The durable
// dismissed-registry write happens before any platform cleanup: a crash
// after that write cannot re-trigger the flow for this occurrence on
// relaunch.
func (f *Flow) CompleteSuccess(ctx context.Context) error {
	f.mu.Lock()
	if f.completed || f.transitioning || f.state == StateIdle {
		f.mu.Unlock()
		return nil
	}
	f.transitioning = true
	alarm := f.alarm
	run := f.run
	occurrenceKey := f.occurrenceKey
	f.mu.Unlock()

	f.signal(f.signals.KeepScreenAwake, false)
	f.engine.Stop()
	f.sleep(f.cfg.SessionSettleGrace)
	f.signalPlain(f.signals.StopScan)

	if err := f.registry.MarkDismissed(ctx, alarm.ID, occurrenceKey); err != nil {
		// Without the durable record, cleanup must not proceed.
		f.mu.Lock()
		f.transitioning = false
		f.mu.Unlock()
		return err
	}

	if alarm.IsRepeating() {
		if err := f.scheduler.CancelOccurrence(ctx, alarm.ID, occurrenceKey); err != nil {
			f.logger.Printf("dismissal: occurrence cancel failed for %s: %v", alarm.ID, err)
		}
	} else {
		if err := f.scheduler.CancelChain(ctx, alarm.ID); err != nil {
			f.logger.Printf("dismissal: chain cancel failed for %s: %v", alarm.ID, err)
		}
		alarm.Enabled = false
		alarm.UpdatedAt = f.clock.Now()
		if err := f.store.Save(ctx, alarm); err != nil {
			f.logger.Printf("dismissal: disable persist failed for %s: %v", alarm.ID, err)
		}
	}

	dismissedAt := f.clock.Now()
	closed := run.Succeeded(dismissedAt)
	if err := f.runs.AppendRun(ctx, closed); err != nil {
		f.logger.Printf("dismissal: run append failed for %s: %v", alarm.ID, err)
	}
	f.publish(ctx, eventing.AlarmDismissed{
		AlarmID:       alarm.ID,
		OccurrenceKey: occurrenceKey,
		DismissedAt:   dismissedAt,
		Repeating:     alarm.IsRepeating(),
	})
	f.publish(ctx, eventing.RunRecorded{AlarmID: alarm.ID, RunID: closed.ID, Outcome: string(closed.Outcome)})
	metrics.IncDismissalOutcome("success")

	f.mu.Lock()
	f.completed = true
	f.transitioning = false
	f.state = StateSuccess
	f.reason = ""
	f.mu.Unlock()

	f.after(f.cfg.SuccessDwell, func() {
		f.mu.Lock()
		stillSuccess := f.state == StateSuccess
		f.mu.Unlock()
		if stillSuccess {
			f.signalPlain(f.signals.RouteBack)
		}
	})
	return nil
}

// Abort is the emergency exit: stops effects and persists the run
// as-is, still failed. Future chain entries are deliberately kept so a
// repeating alarm keeps re-alerting.
func (f *Flow) Abort(ctx context.Context, reason FailureReason) error {
	f.mu.Lock()
	if f.completed || f.transitioning || f.state == StateIdle {
		f.mu.Unlock()
		return nil
	}
	f.transitioning = true
	run := f.run
	f.mu.Unlock()

	f.signal(f.signals.KeepScreenAwake, false)
	f.engine.Stop()
	f.signalPlain(f.signals.StopScan)

	closed := run.Closed()
	if err := f.runs.AppendRun(ctx, closed); err != nil {
		f.logger.Printf("dismissal: abort run append failed for %s: %v", run.AlarmID, err)
	}
	f.publish(ctx, eventing.RunRecorded{AlarmID: closed.AlarmID, RunID: closed.ID, Outcome: string(closed.Outcome)})
	metrics.IncDismissalOutcome("aborted")

	f.mu.Lock()
	f.completed = true
	f.transitioning = false
	f.state = StateFailed
	if reason != "" {
		f.reason = reason
	}
	f.mu.Unlock()
	f.signalPlain(f.signals.RouteBack)
	return nil
}

// Snooze stops the current ringing, cancels this occurrence's
// notifications and schedules a fresh occurrence at the DST-aware
// snooze time. No run record is appended: snoozing is not a
// completion. Returns the scheduled fire time.
func (f *Flow) Snooze(ctx context.Context, duration time.Duration) (time.Time, error) {
	f.mu.Lock()
	if f.completed || f.transitioning || f.state == StateIdle {
		f.mu.Unlock()
		return time.Time{}, nil
	}
	f.transitioning = true
	alarm := f.alarm
	occurrenceKey := f.occurrenceKey
	f.mu.Unlock()

	f.signal(f.signals.KeepScreenAwake, false)
	f.engine.Stop()
	f.signalPlain(f.signals.StopScan)

	if err := f.scheduler.CancelOccurrence(ctx, alarm.ID, occurrenceKey); err != nil {
		f.logger.Printf("dismissal: snooze occurrence cancel failed for %s: %v", alarm.ID, err)
	}

	if duration <= 0 {
		duration = alarm.SnoozeDuration
	}
	if duration <= 0 {
		duration = domain.DefaultSnoozeLength
	}
	next := domain.ComputeSnooze(f.clock.Now(), duration, f.location)

	outcome := f.scheduler.ScheduleChain(ctx, alarm, next)
	if !outcome.Success() {
		f.logger.Printf("dismissal: snooze scheduling unavailable for %s: %v", alarm.ID, outcome.Err)
	}
	f.publish(ctx, eventing.AlarmSnoozed{AlarmID: alarm.ID, OccurrenceKey: occurrenceKey, NextFireAt: next})
	metrics.IncDismissalOutcome("snoozed")

	f.mu.Lock()
	f.reset()
	f.mu.Unlock()
	f.signalPlain(f.signals.RouteBack)

	if !outcome.Success() {
		return next, outcome.Err
	}
	return next, nil
}

// Retry clears transient failure feedback and returns to ringing. Only
// valid from failed.
func (f *Flow) Retry() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateFailed || f.completed {
		return
	}
	f.state = StateRinging
	f.reason = ""
	f.mismatchSeq++
}

// Reset returns a terminal flow to idle so the next firing can start.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transitioning {
		return
	}
	f.reset()
}

func (f *Flow) reset() {
	f.state = StateIdle
	f.reason = ""
	f.alarm = domain.Alarm{}
	f.run = domain.AlarmRun{}
	f.occurrenceKey = ""
	f.lastAccepted = ""
	f.lastAcceptedAt = time.Time{}
	f.transitioning = false
	f.completed = false
	f.mismatchSeq++
}

func (f *Flow) fail(reason FailureReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed || f.state == StateSuccess {
		return
	}
	f.state = StateFailed
	f.reason = reason
}

func (f *Flow) publish(ctx context.Context, event any) {
	if f.bus == nil {
		return
	}
	if err := f.bus.Publish(ctx, event); err != nil {
		f.logger.Printf("dismissal: event publish failed: %v", err)
	}
}

func (f *Flow) signal(fn func(bool), on bool) {
	if fn != nil {
		fn(on)
	}
}

func (f *Flow) signalPlain(fn func()) {
	if fn != nil {
		fn()
	}
}
