// Package notify forwards alarm lifecycle events to outbound channels.
package notify

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	alarmapp "wakeguard/internal/alarms/application"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// WebhookNotifier posts rendered lifecycle events to a webhook. Sends
// are best effort and deduplicated: an identical message for the same
// alarm and event inside the dedupe window is dropped.
type WebhookNotifier struct {
	url          string
	client       *http.Client
	template     *Template
	clock        Clock
	mu           sync.Mutex
	sent         map[string]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
}

// Option configures the notifier.
type Option func(*WebhookNotifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *WebhookNotifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between sends for the same alarm and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *WebhookNotifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical messages within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *WebhookNotifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithHTTPClient overrides the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(n *WebhookNotifier) {
		if client != nil {
			n.client = client
		}
	}
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string, template *Template, opts ...Option) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("alarm notifier: empty url")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &WebhookNotifier{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		template: template,
		clock:    systemClock{},
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// Notify implements alarmapp.AlarmNotifier.
func (n *WebhookNotifier) Notify(ctx context.Context, event alarmapp.AlarmEvent) {
	if n == nil || n.url == "" {
		return
	}
	content, err := n.template.Render(buildTemplateData(event))
	if err != nil {
		return
	}
	if !n.shouldSend(event.Alarm.ID.String(), event.Type, content) {
		return
	}
	if err := n.post(ctx, content); err != nil {
		return
	}
	n.markSent(event.Alarm.ID.String(), event.Type, content)
}

func (n *WebhookNotifier) post(ctx context.Context, content string) error {
	payload := webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: content},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("alarm notifier: non-2xx")
	}
	return nil
}

func buildTemplateData(event alarmapp.AlarmEvent) TemplateData {
	alarm := event.Alarm
	challenges := make([]string, 0, len(alarm.Challenges))
	for _, challenge := range alarm.Challenges {
		challenges = append(challenges, string(challenge))
	}
	return TemplateData{
		Label:      alarm.Label,
		FireTime:   fmt.Sprintf("%02d:%02d", alarm.Hour, alarm.Minute),
		Enabled:    alarm.Enabled,
		Challenges: strings.Join(challenges, ", "),
		Event:      event.Type,
		EventLabel: eventLabel(event.Type),
	}
}

func eventLabel(event string) string {
	switch event {
	case "created":
		return "Created"
	case "updated":
		return "Updated"
	case "toggled":
		return "Toggled"
	case "deleted":
		return "Deleted"
	case "dismissed":
		return "Dismissed"
	default:
		return event
	}
}

func (n *WebhookNotifier) shouldSend(alarmID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alarmID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *WebhookNotifier) markSent(alarmID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(alarmID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(alarmID, eventType string) string {
	return alarmID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
