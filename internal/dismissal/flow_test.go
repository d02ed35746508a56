package dismissal

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/audio"
	"wakeguard/internal/notify"
	"wakeguard/internal/permission"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *callLog) indexOf(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, call := range l.calls {
		if call == name {
			return i
		}
	}
	return -1
}

type stubStore struct {
	mu     sync.Mutex
	alarms map[uuid.UUID]domain.Alarm
	saved  []domain.Alarm
}

func (s *stubStore) Alarm(_ context.Context, id uuid.UUID) (*domain.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alarm, ok := s.alarms[id]
	if !ok {
		return nil, nil
	}
	return &alarm, nil
}

func (s *stubStore) Save(_ context.Context, alarm domain.Alarm) error {
	s.mu.Lock()
	s.saved = append(s.saved, alarm)
	s.mu.Unlock()
	return nil
}

// stubRuns mirrors the store's upsert-by-id semantics: re-appending a
// run with the same id replaces the earlier record.
type stubRuns struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.AlarmRun
}

func (s *stubRuns) AppendRun(_ context.Context, run domain.AlarmRun) error {
	s.mu.Lock()
	if s.records == nil {
		s.records = make(map[uuid.UUID]domain.AlarmRun)
	}
	s.records[run.ID] = run
	s.mu.Unlock()
	return nil
}

func (s *stubRuns) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *stubRuns) closed() []domain.AlarmRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AlarmRun
	for _, run := range s.records {
		if !run.Open {
			out = append(out, run)
		}
	}
	return out
}

type stubChainScheduler struct {
	mu                  sync.Mutex
	log                 *callLog
	cancelledChains     []uuid.UUID
	cancelledOccurrence []string
	scheduledAnchors    []time.Time
}

func (s *stubChainScheduler) ScheduleChain(_ context.Context, _ domain.Alarm, anchor time.Time) notify.Outcome {
	s.mu.Lock()
	s.scheduledAnchors = append(s.scheduledAnchors, anchor)
	s.mu.Unlock()
	return notify.Outcome{Status: notify.OutcomeScheduled, Requested: 6, Scheduled: 6}
}

func (s *stubChainScheduler) CancelChain(_ context.Context, alarmID uuid.UUID) error {
	s.mu.Lock()
	s.cancelledChains = append(s.cancelledChains, alarmID)
	s.mu.Unlock()
	if s.log != nil {
		s.log.record("cancelChain")
	}
	return nil
}

func (s *stubChainScheduler) CancelOccurrence(_ context.Context, _ uuid.UUID, occurrenceKey string) error {
	s.mu.Lock()
	s.cancelledOccurrence = append(s.cancelledOccurrence, occurrenceKey)
	s.mu.Unlock()
	if s.log != nil {
		s.log.record("cancelOccurrence")
	}
	return nil
}

type stubEngine struct {
	mu       sync.Mutex
	playing  bool
	promoted int
	stops    int
}

func (e *stubEngine) PromoteToRinging(string, float64) error {
	e.mu.Lock()
	e.playing = true
	e.promoted++
	e.mu.Unlock()
	return nil
}

func (e *stubEngine) Stop() {
	e.mu.Lock()
	e.playing = false
	e.stops++
	e.mu.Unlock()
}

type loggedRegistry struct {
	*MemoryRegistry
	log      *callLog
	failNext bool
	marks    int
}

func (r *loggedRegistry) MarkDismissed(ctx context.Context, alarmID uuid.UUID, occurrenceKey string) error {
	r.marks++
	if r.failNext {
		r.failNext = false
		return errors.New("disk full")
	}
	if r.log != nil {
		r.log.record("markDismissed")
	}
	return r.MemoryRegistry.MarkDismissed(ctx, alarmID, occurrenceKey)
}

type flowFixture struct {
	flow      *Flow
	store     *stubStore
	runs      *stubRuns
	registry  *loggedRegistry
	scheduler *stubChainScheduler
	engine    *stubEngine
	perms     *permission.StaticService
	clock     *fakeClock
	log       *callLog
	pending   []func() // deferred after-callbacks, fired manually
	alarm     domain.Alarm
}

func (fx *flowFixture) firePending() {
	callbacks := fx.pending
	fx.pending = nil
	for _, fn := range callbacks {
		fn()
	}
}

func newFlowFixture(t *testing.T, alarm domain.Alarm) *flowFixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 6, 15, 6, 0, 0, 0, time.UTC)}
	calls := &callLog{}
	fx := &flowFixture{
		store:     &stubStore{alarms: map[uuid.UUID]domain.Alarm{alarm.ID: alarm}},
		runs:      &stubRuns{},
		registry:  &loggedRegistry{MemoryRegistry: NewMemoryRegistry(clock), log: calls},
		scheduler: &stubChainScheduler{log: calls},
		engine:    &stubEngine{},
		perms:     permission.NewStaticService(true),
		clock:     clock,
		log:       calls,
		alarm:     alarm,
	}
	fx.perms.SetNotificationStatus(permission.StatusAuthorized)

	reliability := audio.NewSettings(audio.ModeNotificationsPlusAudio, false)
	flow, err := NewFlow(fx.store, fx.runs, fx.registry, fx.scheduler, fx.engine, reliability, fx.perms, nil, discardLogger(),
		WithClock(clock),
		WithLocation(time.UTC),
		WithSleep(func(time.Duration) {}),
		WithAfter(func(_ time.Duration, fn func()) { fx.pending = append(fx.pending, fn) }),
	)
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}
	fx.flow = flow
	return fx
}

func qrAlarm() domain.Alarm {
	return domain.Alarm{
		ID:         uuid.New(),
		Label:      "Morning",
		Enabled:    true,
		Challenges: []domain.Challenge{domain.ChallengeQR},
		ExpectedQR: "ABC123",
		SoundName:  "chime",
		Volume:     0.8,
	}
}

func startScanning(t *testing.T, fx *flowFixture) {
	t.Helper()
	ctx := context.Background()
	if err := fx.flow.Start(ctx, fx.alarm.ID, fx.clock.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := fx.flow.BeginScan(ctx); err != nil {
		t.Fatalf("begin scan: %v", err)
	}
	if got := fx.flow.State(); got != StateScanning {
		t.Fatalf("expected scanning, got %s", got)
	}
}

func TestFlowHappyPathOneShot(t *testing.T) {
	fx := newFlowFixture(t, qrAlarm())
	ctx := context.Background()
	startScanning(t, fx)

	if !fx.engine.playing {
		t.Fatal("audio must ring after start")
	}
	if err := fx.flow.DidScan(ctx, "ABC123"); err != nil {
		t.Fatalf("did scan: %v", err)
	}
	if got := fx.flow.State(); got != StateSuccess {
		t.Fatalf("expected success, got %s", got)
	}

	// Durable dismissed write must precede platform cleanup.
	markIdx := fx.log.indexOf("markDismissed")
	cancelIdx := fx.log.indexOf("cancelChain")
	if markIdx == -1 || cancelIdx == -1 || markIdx > cancelIdx {
		t.Fatalf("markDismissed must precede cancelChain: %v", fx.log.calls)
	}

	if fx.runs.count() != 1 {
		t.Fatalf("expected 1 run record, got %d", fx.runs.count())
	}
	closed := fx.runs.closed()
	if len(closed) != 1 || closed[0].Outcome != domain.RunOutcomeSuccess || closed[0].DismissedAt == nil {
		t.Fatalf("run not closed with success: %+v", closed)
	}

	// One-shot alarm is persisted disabled.
	if len(fx.store.saved) != 1 || fx.store.saved[0].Enabled {
		t.Fatalf("one-shot alarm must be saved disabled, got %+v", fx.store.saved)
	}
	if fx.engine.playing {
		t.Fatal("audio must stop on success")
	}
}

func TestFlowRepeatingAlarmKeepsFutureOccurrences(t *testing.T) {
	alarm := qrAlarm()
	alarm.RepeatDays = []time.Weekday{time.Monday, time.Friday}
	fx := newFlowFixture(t, alarm)
	ctx := context.Background()
	startScanning(t, fx)

	if err := fx.flow.DidScan(ctx, "ABC123"); err != nil {
		t.Fatalf("did scan: %v", err)
	}
	if len(fx.scheduler.cancelledChains) != 0 {
		t.Fatal("repeating alarm must not have its whole chain cancelled")
	}
	if len(fx.scheduler.cancelledOccurrence) != 1 {
		t.Fatalf("expected exactly the current occurrence cancelled, got %v", fx.scheduler.cancelledOccurrence)
	}
	if len(fx.store.saved) != 0 {
		t.Fatal("repeating alarm must not be disabled")
	}
}

func TestFlowMismatchIsCaseSensitive(t *testing.T) {
	fx := newFlowFixture(t, qrAlarm())
	ctx := context.Background()
	startScanning(t, fx)

	// Whitespace is trimmed but case is preserved: " abc123 " != "ABC123".
	if err := fx.flow.DidScan(ctx, " abc123 "); err != nil {
		t.Fatalf("did scan: %v", err)
	}
	if got := fx.flow.State(); got != StateFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if got := fx.flow.Reason(); got != ReasonQRMismatch {
		t.Fatalf("expected qrMismatch, got %s", got)
	}
	if len(fx.runs.closed()) != 0 {
		t.Fatal("mismatch must not close out the run")
	}

	// Transient feedback auto-returns to scanning.
	fx.firePending()
	if got := fx.flow.State(); got != StateScanning {
		t.Fatalf("expected auto-return to scanning, got %s", got)
	}

	// Exact match still completes afterwards.
	if err := fx.flow.DidScan(ctx, " ABC123 "); err != nil {
		t.Fatalf("did scan: %v", err)
	}
	if got := fx.flow.State(); got != StateSuccess {
		t.Fatalf("expected success, got %s", got)
	}
}

func TestFlowMismatchReturnDoesNotClobberSuccess(t *testing.T) {
	fx := newFlowFixture(t, qrAlarm())
	ctx := context.Background()
	startScanning(t, fx)

	if err := fx.flow.DidScan(ctx, "wrong"); err != nil {
		t.Fatalf("did scan: %v", err)
	}
	fx.flow.Retry()
	if err := fx.flow.BeginScan(ctx); err != nil {
		t.Fatalf("begin scan: %v", err)
	}
	if err := fx.flow.DidScan(ctx, "ABC123"); err != nil {
		t.Fatalf("did scan: %v", err)
	}
	if got := fx.flow.State(); got != StateSuccess {
		t.Fatalf("expected success, got %s", got)
	}

	// The stale mismatch callback fires late; success must survive.
	fx.firePending()
	if got := fx.flow.State(); got != StateSuccess {
		t.Fatalf("late mismatch callback clobbered success: %s", got)
	}
}

func TestFlowDropsPayloadsOutsideScanning(t *testing.T) {
	fx := newFlowFixture(t, qrAlarm())
	ctx := context.Background()

	// Idle: dropped.
	if err := fx.flow.DidScan(ctx, "ABC123"); err != nil {
		t.Fatalf("did scan: %v", err)
	}
	if got := fx.flow.State(); got != StateIdle {
		t.Fatalf("idle payload must be a no-op, got %s", got)
	}

	// Ringing (before beginScan): dropped.
	if err := fx.flow.Start(ctx, fx.alarm.ID, fx.clock.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := fx.flow.DidScan(ctx, "ABC123"); err != nil {
		t.Fatalf("did scan: %v", err)
	}
	if got := fx.flow.State(); got != StateRinging {
		t.Fatalf("ringing payload must be a no-op, got %s", got)
	}
	if fx.registry.marks != 0 {
		t.Fatal("dropped payloads must not touch the registry")
	}
}

func TestFlowDebouncesDuplicatePayloadAfterStoreFailure(t *testing.T) {
	fx := newFlowFixture(t, qrAlarm())
	ctx := context.Background()
	startScanning(t, fx)

	fx.registry.failNext = true
	if err := fx.flow.DidScan(ctx, "ABC123"); err == nil {
		t.Fatal("expected durable write failure to surface")
	}
	if got := fx.flow.State(); got != StateScanning {
		t.Fatalf("expected return to scanning after store failure, got %s", got)
	}
	marksAfterFailure := fx.registry.marks

	// Identical payload 100ms later is a duplicate scan event: debounced,
	// registry untouched.
	fx.clock.Advance(100 * time.Millisecond)
	if err := fx.flow.DidScan(ctx, "ABC123"); err != nil {
		t.Fatalf("did scan: %v", err)
	}
	if fx.registry.marks != marksAfterFailure {
		t.Fatal("debounced duplicate must not hit the registry")
	}
	if got := fx.flow.State(); got != StateScanning {
		t.Fatalf("expected scanning after debounce, got %s", got)
	}

	// Past the debounce window the same payload validates again.
	fx.clock.Advance(time.Second)
	if err := fx.flow.DidScan(ctx, "ABC123"); err != nil {
		t.Fatalf("did scan: %v", err)
	}
	if got := fx.flow.State(); got != StateSuccess {
		t.Fatalf("expected success, got %s", got)
	}
}

func TestFlowNoSecondRunAppendAfterSuccess(t *testing.T) {
	fx := newFlowFixture(t, qrAlarm())
	ctx := context.Background()
	startScanning(t, fx)

	if err := fx.flow.DidScan(ctx, "ABC123"); err != nil {
		t.Fatalf("did scan: %v", err)
	}
	if fx.runs.count() != 1 {
		t.Fatalf("expected 1 run record, got %d", fx.runs.count())
	}

	if err := fx.flow.CompleteSuccess(ctx); err != nil {
		t.Fatalf("complete success: %v", err)
	}
	if err := fx.flow.Abort(ctx, ReasonScanningError); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, err := fx.flow.Snooze(ctx, 10*time.Minute); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if fx.runs.count() != 1 {
		t.Fatalf("completed flow must never record again, got %d runs", fx.runs.count())
	}
	if closed := fx.runs.closed(); len(closed) != 1 || closed[0].Outcome != domain.RunOutcomeSuccess {
		t.Fatalf("the single record must stay the success close, got %+v", closed)
	}
}

func TestFlowBeginScanRequiresExpectedQR(t *testing.T) {
	alarm := qrAlarm()
	alarm.ExpectedQR = "   "
	fx := newFlowFixture(t, alarm)
	ctx := context.Background()

	if err := fx.flow.Start(ctx, alarm.ID, fx.clock.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := fx.flow.BeginScan(ctx); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	if got := fx.flow.Reason(); got != ReasonNoExpectedQR {
		t.Fatalf("expected noExpectedQR, got %s", got)
	}
}

func TestFlowBeginScanCameraDenied(t *testing.T) {
	fx := newFlowFixture(t, qrAlarm())
	fx.perms.SetCameraStatus(permission.StatusDenied)
	ctx := context.Background()

	if err := fx.flow.Start(ctx, fx.alarm.ID, fx.clock.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := fx.flow.BeginScan(ctx); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if got := fx.flow.Reason(); got != ReasonPermissionDenied {
		t.Fatalf("expected permissionDenied, got %s", got)
	}
}

// slowCameraPerms parks the first camera prompt on a channel so a test
// can interleave a full dismissal before the prompt resolves.
type slowCameraPerms struct {
	mu       sync.Mutex
	statuses int
	started  chan struct{}
	release  chan struct{}
}

func (p *slowCameraPerms) NotificationStatus(context.Context) (permission.Status, error) {
	return permission.StatusAuthorized, nil
}

func (p *slowCameraPerms) RequestNotificationAuthorization(context.Context) (permission.Status, error) {
	return permission.StatusAuthorized, nil
}

func (p *slowCameraPerms) CameraStatus(context.Context) (permission.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses++
	if p.statuses == 1 {
		return permission.StatusNotDetermined, nil
	}
	return permission.StatusAuthorized, nil
}

func (p *slowCameraPerms) RequestCameraAuthorization(context.Context) (permission.Status, error) {
	close(p.started)
	<-p.release
	return permission.StatusDenied, nil
}

func TestFlowSlowCameraDenialDoesNotClobberSuccess(t *testing.T) {
	alarm := qrAlarm()
	clock := &fakeClock{now: time.Date(2026, 6, 15, 6, 0, 0, 0, time.UTC)}
	store := &stubStore{alarms: map[uuid.UUID]domain.Alarm{alarm.ID: alarm}}
	runs := &stubRuns{}
	registry := &loggedRegistry{MemoryRegistry: NewMemoryRegistry(clock)}
	scheduler := &stubChainScheduler{}
	perms := &slowCameraPerms{started: make(chan struct{}), release: make(chan struct{})}
	reliability := audio.NewSettings(audio.ModeNotificationsOnly, false)

	flow, err := NewFlow(store, runs, registry, scheduler, &stubEngine{}, reliability, perms, nil, discardLogger(),
		WithClock(clock),
		WithLocation(time.UTC),
		WithSleep(func(time.Duration) {}),
		WithAfter(func(time.Duration, func()) {}),
	)
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}

	ctx := context.Background()
	if err := flow.Start(ctx, alarm.ID, clock.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// First BeginScan parks inside the camera prompt.
	done := make(chan error, 1)
	go func() { done <- flow.BeginScan(ctx) }()
	<-perms.started

	// A second attempt sees an authorized camera and the dismissal
	// completes while the first prompt is still outstanding.
	if err := flow.BeginScan(ctx); err != nil {
		t.Fatalf("second begin scan: %v", err)
	}
	if err := flow.DidScan(ctx, alarm.ExpectedQR); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got := flow.State(); got != StateSuccess {
		t.Fatalf("expected success, got %s", got)
	}

	close(perms.release)
	if err := <-done; !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied from stale prompt, got %v", err)
	}
	if got := flow.State(); got != StateSuccess {
		t.Fatalf("stale denial clobbered terminal state: %s", got)
	}
	if got := flow.Reason(); got != "" {
		t.Fatalf("stale denial must not set a reason, got %s", got)
	}
}

func TestFlowAbortKeepsFutureChainEntries(t *testing.T) {
	fx := newFlowFixture(t, qrAlarm())
	ctx := context.Background()
	startScanning(t, fx)

	if err := fx.flow.Abort(ctx, ReasonScanningError); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if len(fx.scheduler.cancelledChains) != 0 || len(fx.scheduler.cancelledOccurrence) != 0 {
		t.Fatal("abort must not cancel any chain entries")
	}
	closed := fx.runs.closed()
	if len(closed) != 1 {
		t.Fatalf("abort must close the run, got %d closed", len(closed))
	}
	if closed[0].Outcome != domain.RunOutcomeFailed {
		t.Fatalf("aborted run must stay failed, got %s", closed[0].Outcome)
	}
	if fx.engine.playing {
		t.Fatal("abort must stop audio")
	}
}

func TestFlowSnoozeSchedulesNewOccurrenceWithoutRun(t *testing.T) {
	fx := newFlowFixture(t, qrAlarm())
	ctx := context.Background()
	startScanning(t, fx)

	next, err := fx.flow.Snooze(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	want := fx.clock.Now().Add(10 * time.Minute)
	if !next.Equal(want) {
		t.Fatalf("snooze time %s want %s", next, want)
	}
	if len(fx.scheduler.cancelledOccurrence) != 1 {
		t.Fatalf("snooze must cancel the current occurrence, got %v", fx.scheduler.cancelledOccurrence)
	}
	if len(fx.scheduler.scheduledAnchors) != 1 || !fx.scheduler.scheduledAnchors[0].Equal(want) {
		t.Fatalf("snooze must schedule the new anchor, got %v", fx.scheduler.scheduledAnchors)
	}
	if len(fx.runs.closed()) != 0 {
		t.Fatal("snoozing is not a completion, the run must stay open")
	}
	if got := fx.flow.State(); got != StateIdle {
		t.Fatalf("expected idle after snooze, got %s", got)
	}
}

func TestFlowSuppressedForegroundSoundSkipsAudio(t *testing.T) {
	alarm := qrAlarm()
	fx := newFlowFixture(t, alarm)
	reliability := audio.NewSettings(audio.ModeNotificationsPlusAudio, true)
	flow, err := NewFlow(fx.store, fx.runs, fx.registry, fx.scheduler, fx.engine, reliability, fx.perms, nil, discardLogger(),
		WithClock(fx.clock), WithSleep(func(time.Duration) {}))
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}
	if err := flow.Start(context.Background(), alarm.ID, fx.clock.Now()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if fx.engine.promoted != 0 {
		t.Fatal("suppressed foreground sound must skip audio start")
	}
}
