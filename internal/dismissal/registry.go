package dismissal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DismissedEntryTTL is how long a dismissed-occurrence record stays
// live. An occurrence only needs to outlast its own active window plus
// a relaunch, so entries self-expire instead of accumulating forever.
const DismissedEntryTTL = 5 * time.Minute

// Registry is the durable dismissed-occurrence record. MarkDismissed
// must be flushed to stable storage before it returns: the dismissal
// flow writes it before any platform cleanup so a crash in between
// cannot re-trigger the flow on relaunch.
type Registry interface {
	MarkDismissed(ctx context.Context, alarmID uuid.UUID, occurrenceKey string) error
	IsDismissed(ctx context.Context, alarmID uuid.UUID, occurrenceKey string) (bool, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// RegistryKey is the storage key for one dismissed occurrence.
func RegistryKey(alarmID uuid.UUID, occurrenceKey string) string {
	return alarmID.String() + "|" + occurrenceKey
}

// MemoryRegistry is a process-local Registry. Suitable for tests and
// single-process deployments without a store attached.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	clock   Clock
}

// NewMemoryRegistry constructs a registry with the default TTL.
func NewMemoryRegistry(clock Clock) *MemoryRegistry {
	if clock == nil {
		clock = systemClock{}
	}
	return &MemoryRegistry{
		entries: make(map[string]time.Time),
		ttl:     DismissedEntryTTL,
		clock:   clock,
	}
}

// MarkDismissed records the occurrence as handled.
func (r *MemoryRegistry) MarkDismissed(_ context.Context, alarmID uuid.UUID, occurrenceKey string) error {
	if occurrenceKey == "" {
		return errors.New("dismissal: empty occurrence key")
	}
	r.mu.Lock()
	r.entries[RegistryKey(alarmID, occurrenceKey)] = r.clock.Now()
	r.mu.Unlock()
	return nil
}

// IsDismissed reports whether the occurrence has a live record.
func (r *MemoryRegistry) IsDismissed(_ context.Context, alarmID uuid.UUID, occurrenceKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	markedAt, ok := r.entries[RegistryKey(alarmID, occurrenceKey)]
	if !ok {
		return false, nil
	}
	if r.clock.Now().Sub(markedAt) > r.ttl {
		delete(r.entries, RegistryKey(alarmID, occurrenceKey))
		return false, nil
	}
	return true, nil
}

// CleanupExpired drops entries past the TTL and reports how many.
func (r *MemoryRegistry) CleanupExpired(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	removed := 0
	for key, markedAt := range r.entries {
		if now.Sub(markedAt) > r.ttl {
			delete(r.entries, key)
			removed++
		}
	}
	return removed, nil
}
