package notify

import (
	"context"
	"time"

	"wakeguard/internal/permission"
)

// Request is one notification submission. FireIn is relative to the
// moment of submission.
type Request struct {
	ID     string
	Title  string
	Body   string
	Sound  string
	FireIn time.Duration
}

// DeliveredNotification is one notification the platform has presented
// and not yet cleared.
type DeliveredNotification struct {
	ID          string
	DeliveredAt time.Time
}

// Center is the platform notification surface the scheduler drives.
// Every call is a potential suspension point; the scheduler orders its
// persisted state around them rather than updating speculatively.
type Center interface {
	AuthorizationStatus(ctx context.Context) (permission.Status, error)
	Add(ctx context.Context, req Request) error
	RemovePending(ctx context.Context, ids []string) error
	RemoveDelivered(ctx context.Context, ids []string) error
	PendingCount(ctx context.Context) (int, error)
	PendingIdentifiers(ctx context.Context) ([]string, error)
	Delivered(ctx context.Context) ([]DeliveredNotification, error)
}
