package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	alarmapp "wakeguard/internal/alarms/application"
	"wakeguard/internal/alarms/domain"
	"wakeguard/internal/alarms/infrastructure/badgerstore"
	"wakeguard/internal/audio"
	"wakeguard/internal/dismissal"
	"wakeguard/internal/eventing"
	"wakeguard/internal/notify"
	"wakeguard/internal/permission"
)

type noopScheduling struct{}

func (noopScheduling) RequestAuthorizationIfNeeded(context.Context) error { return nil }
func (noopScheduling) Schedule(_ context.Context, alarm domain.Alarm) (string, error) {
	return "external-" + alarm.ID.String(), nil
}
func (noopScheduling) Cancel(context.Context, uuid.UUID) error { return nil }
func (noopScheduling) PendingAlarmIDs(context.Context) ([]uuid.UUID, error) {
	return nil, nil
}
func (noopScheduling) Stop(context.Context, uuid.UUID, string) error { return nil }
func (noopScheduling) TransitionToCountdown(context.Context, uuid.UUID, time.Duration) error {
	return nil
}
func (noopScheduling) Reconcile(context.Context, []domain.Alarm, bool) error { return nil }

type noopJanitor struct{}

func (noopJanitor) CleanupStaleChains(context.Context) (int, error) { return 0, nil }

type recordingChains struct {
	scheduled  []time.Time
	cancelled  []uuid.UUID
	occurrence []string
}

func (c *recordingChains) ScheduleChain(_ context.Context, _ domain.Alarm, anchor time.Time) notify.Outcome {
	c.scheduled = append(c.scheduled, anchor)
	return notify.Outcome{Status: notify.OutcomeScheduled, Requested: 6, Scheduled: 6}
}

func (c *recordingChains) CancelChain(_ context.Context, alarmID uuid.UUID) error {
	c.cancelled = append(c.cancelled, alarmID)
	return nil
}

func (c *recordingChains) CancelOccurrence(_ context.Context, _ uuid.UUID, occurrenceKey string) error {
	c.occurrence = append(c.occurrence, occurrenceKey)
	return nil
}

type silentEngine struct{ stopped int }

func (silentEngine) PromoteToRinging(string, float64) error { return nil }
func (e *silentEngine) Stop()                               { e.stopped++ }

type apiFixture struct {
	handler   *Handler
	dismissal *DismissalHandler
	export    *ExportHandler
	runs      *badgerstore.RunStore
	chains    *recordingChains
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	alarms, err := badgerstore.NewAlarmStore(db)
	if err != nil {
		t.Fatalf("alarm store: %v", err)
	}
	runs, err := badgerstore.NewRunStore(db)
	if err != nil {
		t.Fatalf("run store: %v", err)
	}
	logger := log.New(io.Discard, "", 0)
	registry := dismissal.NewMemoryRegistry(nil)
	chains := &recordingChains{}

	permissions := permission.NewStaticService(true)
	permissions.SetNotificationStatus(permission.StatusAuthorized)
	permissions.SetCameraStatus(permission.StatusAuthorized)

	flow, err := dismissal.NewFlow(
		alarms, runs, registry, chains, &silentEngine{},
		audio.NewSettings(audio.ModeNotificationsOnly, false),
		permissions, eventing.NewInMemoryBus(), logger,
		dismissal.WithAfter(func(time.Duration, func()) {}),
		dismissal.WithSleep(func(time.Duration) {}),
		dismissal.WithLocation(time.UTC),
	)
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}

	service, err := alarmapp.NewService(alarms, runs, noopScheduling{}, noopJanitor{}, registry, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler, err := NewHandler(service, flow)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	dismissalHandler, err := NewDismissalHandler(flow)
	if err != nil {
		t.Fatalf("new dismissal handler: %v", err)
	}
	exportHandler, err := NewExportHandler(service)
	if err != nil {
		t.Fatalf("new export handler: %v", err)
	}
	return &apiFixture{
		handler:   handler,
		dismissal: dismissalHandler,
		export:    exportHandler,
		runs:      runs,
		chains:    chains,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAlarmCRUDOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	rec := doJSON(t, f.handler, http.MethodPost, "/api/v1/alarms", domain.Alarm{
		Label: "Workday", Hour: 6, Minute: 45, Volume: 0.8, Enabled: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created domain.Alarm
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Fatal("expected assigned id")
	}

	rec = doJSON(t, f.handler, http.MethodGet, "/api/v1/alarms", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var listed []domain.Alarm
	_ = json.Unmarshal(rec.Body.Bytes(), &listed)
	if len(listed) != 1 {
		t.Fatalf("expected 1 alarm, got %d", len(listed))
	}

	created.Label = "Weekend"
	rec = doJSON(t, f.handler, http.MethodPut, "/api/v1/alarms/"+created.ID.String(), created)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, f.handler, http.MethodPost, "/api/v1/alarms/"+created.ID.String()+"/toggle", map[string]bool{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: %d %s", rec.Code, rec.Body.String())
	}
	var toggled domain.Alarm
	_ = json.Unmarshal(rec.Body.Bytes(), &toggled)
	if toggled.Enabled {
		t.Fatal("alarm must be disabled")
	}

	rec = doJSON(t, f.handler, http.MethodGet, "/api/v1/alarms/"+created.ID.String()+"/runs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("runs: %d", rec.Code)
	}

	rec = doJSON(t, f.handler, http.MethodDelete, "/api/v1/alarms/"+created.ID.String(), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = doJSON(t, f.handler, http.MethodGet, "/api/v1/alarms/"+created.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCreateAlarmRejectsBadHour(t *testing.T) {
	f := newAPIFixture(t)
	rec := doJSON(t, f.handler, http.MethodPost, "/api/v1/alarms", domain.Alarm{Hour: 24})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDismissalRoundTripOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	rec := doJSON(t, f.handler, http.MethodPost, "/api/v1/alarms", domain.Alarm{
		Label: "QR gate", Hour: 6, Minute: 0, Volume: 1,
		Challenges: []domain.Challenge{domain.ChallengeQR}, ExpectedQR: "bathroom-mirror",
		Enabled: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var alarm domain.Alarm
	_ = json.Unmarshal(rec.Body.Bytes(), &alarm)

	rec = doJSON(t, f.handler, http.MethodPost, "/api/v1/alarms/"+alarm.ID.String()+"/ring", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ring: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, f.dismissal, http.MethodGet, "/api/v1/dismissal", nil)
	var status map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if status["state"] != string(dismissal.StateRinging) {
		t.Fatalf("expected ringing, got %+v", status)
	}

	rec = doJSON(t, f.dismissal, http.MethodPost, "/api/v1/dismissal/scan/begin", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("begin scan: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, f.dismissal, http.MethodPost, "/api/v1/dismissal/scan", map[string]string{"payload": "bathroom-mirror"})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: %d %s", rec.Code, rec.Body.String())
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &status)
	if status["state"] != string(dismissal.StateSuccess) {
		t.Fatalf("expected success, got %+v", status)
	}
	if len(f.chains.cancelled) != 1 {
		t.Fatalf("expected chain cleanup after dismissal, got %v", f.chains.cancelled)
	}

	rec = doJSON(t, f.handler, http.MethodGet, "/api/v1/alarms/"+alarm.ID.String()+"/runs", nil)
	var runs []domain.AlarmRun
	_ = json.Unmarshal(rec.Body.Bytes(), &runs)
	if len(runs) != 1 || runs[0].Outcome != domain.RunOutcomeSuccess {
		t.Fatalf("expected one successful run, got %+v", runs)
	}
}

func TestSnoozeOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	rec := doJSON(t, f.handler, http.MethodPost, "/api/v1/alarms", domain.Alarm{
		Label: "Snoozer", Hour: 7, Minute: 0, Volume: 1, Enabled: true,
	})
	var alarm domain.Alarm
	_ = json.Unmarshal(rec.Body.Bytes(), &alarm)

	rec = doJSON(t, f.handler, http.MethodPost, "/api/v1/alarms/"+alarm.ID.String()+"/ring", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ring: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, f.dismissal, http.MethodPost, "/api/v1/dismissal/snooze", map[string]int{"duration_seconds": 300})
	if rec.Code != http.StatusOK {
		t.Fatalf("snooze: %d %s", rec.Code, rec.Body.String())
	}
	if len(f.chains.scheduled) != 1 {
		t.Fatalf("expected one snooze chain, got %v", f.chains.scheduled)
	}
}

func TestExportFormats(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	firedAt := time.Date(2026, 6, 15, 6, 0, 0, 0, time.UTC)
	run := domain.NewAlarmRun(uuid.New(), domain.OccurrenceKey(firedAt), firedAt)
	if err := f.runs.AppendRun(ctx, run.Succeeded(firedAt.Add(time.Minute))); err != nil {
		t.Fatalf("append run: %v", err)
	}

	rec := doJSON(t, f.export, http.MethodGet, "/api/v1/runs/export?format=xlsx", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("xlsx export: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheet") {
		t.Fatalf("unexpected content type %q", ct)
	}

	rec = doJSON(t, f.export, http.MethodGet, "/api/v1/runs/export?format=pdf", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("pdf export: %d", rec.Code)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatal("pdf export must produce a PDF document")
	}

	rec = doJSON(t, f.export, http.MethodGet, "/api/v1/runs/export?format=csv", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func TestStreamEmitsLifecycleEvents(t *testing.T) {
	broker := NewSSEBroker()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	broker.Notify(context.Background(), alarmapp.AlarmEvent{Type: "created"})
	select {
	case payload := <-ch:
		if !strings.Contains(string(payload), `"created"`) {
			t.Fatalf("unexpected payload %s", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("event never reached the subscriber")
	}
}

func TestStreamHandshake(t *testing.T) {
	broker := NewSSEBroker()
	handler := NewStreamHandler(broker)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alarms/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close on disconnect")
	}
	if !strings.Contains(rec.Body.String(), "event: ready") {
		t.Fatalf("missing handshake: %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
}
