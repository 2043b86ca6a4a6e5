package djrequest

import (
	"context"
	"time"
)

// EventPublisher receives lifecycle notifications after a change is committed.
// Publish errors are logged and never change the outcome of an operation.
type EventPublisher interface {
	Publish(ctx context.Context, event LifecycleEvent) error
}

// LifecycleEvent is an informational notification about a committed change.
type LifecycleEvent struct {
	Type        string    `json:"type"`
	DJID        string    `json:"dj_id"`
	EventCode   string    `json:"event_code,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	QueueItemID string    `json:"queue_item_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
