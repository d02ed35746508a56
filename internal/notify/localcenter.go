package notify

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"wakeguard/internal/eventing"
	"wakeguard/internal/observability/metrics"
	"wakeguard/internal/permission"
)

// HardPendingLimit mirrors the platform ceiling on pending requests.
const HardPendingLimit = 64

// ErrPendingQuotaExhausted is returned when an add would exceed the
// pending-request ceiling.
var ErrPendingQuotaExhausted = errors.New("notify: pending quota exhausted")

type pendingEntry struct {
	req    Request
	fireAt time.Time
	timer  *time.Timer
}

// LocalCenter is the in-process notification surface: pending requests
// with timer-driven delivery into a delivered list, a hard pending
// quota, and delivery events on the bus.
type LocalCenter struct {
	mu          sync.Mutex
	pending     map[string]pendingEntry
	delivered   []DeliveredNotification
	permissions permission.Service
	bus         eventing.EventBus
	logger      *log.Logger
	limit       int
	closed      bool
}

// NewLocalCenter constructs a center.
func NewLocalCenter(permissions permission.Service, bus eventing.EventBus, logger *log.Logger) (*LocalCenter, error) {
	if permissions == nil {
		return nil, errors.New("notify: nil permission service")
	}
	if logger == nil {
		return nil, errors.New("notify: nil logger")
	}
	return &LocalCenter{
		pending:     make(map[string]pendingEntry),
		permissions: permissions,
		bus:         bus,
		logger:      logger,
		limit:       HardPendingLimit,
	}, nil
}

// AuthorizationStatus reports the notification permission state.
func (c *LocalCenter) AuthorizationStatus(ctx context.Context) (permission.Status, error) {
	return c.permissions.NotificationStatus(ctx)
}

// Add submits a request. The hard quota is enforced here exactly as the
// platform would: the request is rejected, not queued.
func (c *LocalCenter) Add(_ context.Context, req Request) error {
	if req.ID == "" {
		return errors.New("notify: empty request id")
	}
	if req.FireIn < time.Second {
		req.FireIn = time.Second
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("notify: center closed")
	}
	if _, exists := c.pending[req.ID]; !exists && len(c.pending) >= c.limit {
		return ErrPendingQuotaExhausted
	}
	if existing, exists := c.pending[req.ID]; exists {
		existing.timer.Stop()
	}

	id := req.ID
	entry := pendingEntry{
		req:    req,
		fireAt: time.Now().Add(req.FireIn),
	}
	entry.timer = time.AfterFunc(req.FireIn, func() { c.deliver(id) })
	c.pending[id] = entry
	return nil
}

func (c *LocalCenter) deliver(id string) {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if !ok || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	deliveredAt := time.Now().UTC()
	c.delivered = append(c.delivered, DeliveredNotification{ID: id, DeliveredAt: deliveredAt})
	bus := c.bus
	c.mu.Unlock()

	metrics.IncNotificationDelivered()
	if bus == nil {
		return
	}
	parsed := ParseIdentifier(entry.req.ID)
	if parsed == nil {
		return
	}
	event := eventing.NotificationDelivered{
		AlarmID:       parsed.AlarmID,
		OccurrenceKey: parsed.OccurrenceKey,
		Index:         parsed.Index,
		DeliveredAt:   deliveredAt,
	}
	if err := bus.Publish(context.Background(), event); err != nil {
		c.logger.Printf("notify: delivery event publish failed: %v", err)
	}
}

// RemovePending cancels pending requests by identifier. Unknown ids are
// ignored.
func (c *LocalCenter) RemovePending(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if entry, ok := c.pending[id]; ok {
			entry.timer.Stop()
			delete(c.pending, id)
		}
	}
	return nil
}

// RemoveDelivered clears delivered notifications by identifier.
func (c *LocalCenter) RemoveDelivered(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.delivered[:0]
	for _, d := range c.delivered {
		if _, gone := drop[d.ID]; !gone {
			kept = append(kept, d)
		}
	}
	c.delivered = kept
	return nil
}

// PendingCount returns the number of pending requests.
func (c *LocalCenter) PendingCount(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending), nil
}

// PendingIdentifiers returns pending request ids sorted by fire time.
func (c *LocalCenter) PendingIdentifiers(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	type pair struct {
		id     string
		fireAt time.Time
	}
	pairs := make([]pair, 0, len(c.pending))
	for id, entry := range c.pending {
		pairs = append(pairs, pair{id: id, fireAt: entry.fireAt})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].fireAt.Before(pairs[j].fireAt) })
	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, p.id)
	}
	return ids, nil
}

// Delivered returns delivered notifications in delivery order.
func (c *LocalCenter) Delivered(_ context.Context) ([]DeliveredNotification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DeliveredNotification, len(c.delivered))
	copy(out, c.delivered)
	return out, nil
}

// Close stops all timers. Further adds fail.
func (c *LocalCenter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, entry := range c.pending {
		entry.timer.Stop()
		delete(c.pending, id)
	}
}
