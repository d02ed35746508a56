package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ChainMeta describes the chain actually scheduled for an alarm. It is
// persisted atomically with the identifier set it describes; cleanup
// uses it to compute the true chain end. An identifier set without meta
// cannot be proven stale and is skipped by cleanup.
type ChainMeta struct {
	StartAt        time.Time `json:"start_at"`
	SpacingSeconds int       `json:"spacing_seconds"`
	Count          int       `json:"count"`
	CreatedAt      time.Time `json:"created_at"`
}

// LastFireTime is when the final notification of the chain fires.
func (m ChainMeta) LastFireTime() time.Time {
	if m.Count < 1 {
		return m.StartAt
	}
	return m.StartAt.Add(time.Duration((m.Count-1)*m.SpacingSeconds) * time.Second)
}

// Index is the durable alarm -> identifiers + meta mapping. Pure
// persistence, no business logic. Implementations maintain a
// denormalized global union of all identifier sets; the union is a
// cache and must always be derivable from the per-alarm sets.
type Index interface {
	// Identifiers returns the tracked set for an alarm, empty when none.
	Identifiers(ctx context.Context, alarmID uuid.UUID) ([]string, error)
	// SaveChain persists an alarm's identifier set and meta together.
	SaveChain(ctx context.Context, alarmID uuid.UUID, identifiers []string, meta ChainMeta) error
	// Clear removes an alarm's identifiers and meta.
	Clear(ctx context.Context, alarmID uuid.UUID) error
	// RemoveIdentifiers drops a subset of an alarm's identifiers,
	// leaving the rest and the meta in place.
	RemoveIdentifiers(ctx context.Context, alarmID uuid.UUID, identifiers []string) error
	// Meta returns the chain meta for an alarm, nil when absent.
	Meta(ctx context.Context, alarmID uuid.UUID) (*ChainMeta, error)
	// AlarmIDs enumerates every alarm with tracked identifiers.
	AlarmIDs(ctx context.Context) ([]uuid.UUID, error)
	// GlobalUnion returns the union of all tracked identifier sets.
	GlobalUnion(ctx context.Context) ([]string, error)
}
