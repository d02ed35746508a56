package notify

import (
	"context"
	"errors"
	"log"
	"sync"
)

// PendingCounter is the slice of the center the guard needs.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// LimitGuardConfig bounds the shared notification quota.
type LimitGuardConfig struct {
	MaxSystemLimit int
	SafetyBuffer   int
}

// DefaultLimitGuardConfig mirrors the platform ceiling of 64 pending
// requests with a 4-slot safety buffer.
func DefaultLimitGuardConfig() LimitGuardConfig {
	return LimitGuardConfig{MaxSystemLimit: 64, SafetyBuffer: 4}
}

// AvailableThreshold is the usable portion of the quota.
func (c LimitGuardConfig) AvailableThreshold() int {
	return c.MaxSystemLimit - c.SafetyBuffer
}

// LimitGuard arbitrates the shared pending-notification quota across
// concurrent scheduling attempts. It is the one piece of shared mutable
// state in the system; all access is mutex-serialized. The reserved
// counter is never persisted — truth is reconstructed from the live
// pending count on every reserve, so the guard self-heals across
// restarts.
type LimitGuard struct {
	mu       sync.Mutex
	config   LimitGuardConfig
	counter  PendingCounter
	reserved int
	logger   *log.Logger
}

// NewLimitGuard constructs a guard.
func NewLimitGuard(config LimitGuardConfig, counter PendingCounter, logger *log.Logger) (*LimitGuard, error) {
	if counter == nil {
		return nil, errors.New("notify: nil pending counter")
	}
	if logger == nil {
		return nil, errors.New("notify: nil logger")
	}
	if config.MaxSystemLimit <= 0 || config.SafetyBuffer < 0 || config.SafetyBuffer >= config.MaxSystemLimit {
		return nil, errors.New("notify: invalid limit guard config")
	}
	return &LimitGuard{config: config, counter: counter, logger: logger}, nil
}

// Reserve grants up to count slots, never more than the live capacity
// minus what is already reserved. It never blocks and may grant zero.
func (g *LimitGuard) Reserve(ctx context.Context, count int) int {
	if count <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	available := g.availableSlotsLocked(ctx)
	headroom := available - g.reserved
	if headroom < 0 {
		headroom = 0
	}
	granted := count
	if granted > headroom {
		granted = headroom
	}
	g.reserved += granted
	g.logger.Printf("limit guard: reserved %d of %d requested (available: %d, reserved: %d)", granted, count, available, g.reserved)
	return granted
}

// Finalize releases actualScheduled reserved slots. Must be called
// exactly once per successful Reserve, on every exit path.
func (g *LimitGuard) Finalize(actualScheduled int) {
	if actualScheduled <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reserved -= actualScheduled
	if g.reserved < 0 {
		g.reserved = 0
	}
}

// AvailableSlots reports live capacity, ignoring reservations.
func (g *LimitGuard) AvailableSlots(ctx context.Context) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.availableSlotsLocked(ctx)
}

// ReservedSlots reports the outstanding reservation count.
func (g *LimitGuard) ReservedSlots() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reserved
}

func (g *LimitGuard) availableSlotsLocked(ctx context.Context) int {
	pending, err := g.counter.PendingCount(ctx)
	if err != nil {
		// Conservative fallback: assume we are near the limit rather
		// than over-scheduling against unknown platform state.
		g.logger.Printf("limit guard: pending count query failed: %v", err)
		return 1
	}
	available := g.config.AvailableThreshold() - pending
	if available < 0 {
		available = 0
	}
	return available
}
