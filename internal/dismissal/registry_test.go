package dismissal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"wakeguard/internal/alarms/domain"
)

func TestMemoryRegistryEntriesExpire(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 15, 6, 0, 0, 0, time.UTC)}
	registry := NewMemoryRegistry(clock)
	ctx := context.Background()
	alarmID := uuid.New()
	key := domain.OccurrenceKey(clock.Now())

	if err := registry.MarkDismissed(ctx, alarmID, key); err != nil {
		t.Fatalf("mark: %v", err)
	}
	dismissed, err := registry.IsDismissed(ctx, alarmID, key)
	if err != nil || !dismissed {
		t.Fatalf("expected dismissed, got %v %v", dismissed, err)
	}

	clock.Advance(DismissedEntryTTL + time.Second)
	dismissed, err = registry.IsDismissed(ctx, alarmID, key)
	if err != nil || dismissed {
		t.Fatalf("expected expired, got %v %v", dismissed, err)
	}
}

func TestMemoryRegistryCleanupExpired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 15, 6, 0, 0, 0, time.UTC)}
	registry := NewMemoryRegistry(clock)
	ctx := context.Background()
	stale := uuid.New()
	fresh := uuid.New()
	key := domain.OccurrenceKey(clock.Now())

	if err := registry.MarkDismissed(ctx, stale, key); err != nil {
		t.Fatalf("mark stale: %v", err)
	}
	clock.Advance(DismissedEntryTTL + time.Minute)
	if err := registry.MarkDismissed(ctx, fresh, key); err != nil {
		t.Fatalf("mark fresh: %v", err)
	}

	removed, err := registry.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 expired entry removed, got %d", removed)
	}
	if dismissed, _ := registry.IsDismissed(ctx, fresh, key); !dismissed {
		t.Fatal("fresh entry must survive cleanup")
	}
}

func TestMemoryRegistryRejectsEmptyKey(t *testing.T) {
	registry := NewMemoryRegistry(nil)
	if err := registry.MarkDismissed(context.Background(), uuid.New(), ""); err == nil {
		t.Fatal("expected error for empty occurrence key")
	}
}
