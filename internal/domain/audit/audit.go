// Package audit describes the business events streamed to the audit log.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeItemTransition  = "item.transition"
	TypeItemDeleted     = "item.deleted"
	TypeWebhookReceived = "webhook.received"
	TypeLinkCompleted   = "link.completed"
	TypeTransferResult  = "transfer.result"
)

type Event struct {
	ID         string         `json:"eventId"`
	Type       string         `json:"eventType"`
	UserID     int64          `json:"userId,omitempty"`
	ItemID     int64          `json:"itemId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       map[string]any `json:"data,omitempty"`
}

func NewEvent(eventType string, userID, itemID int64, data map[string]any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		ItemID:     itemID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Recorder ships audit events. Implementations must not block request paths
// on delivery failures.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Discard drops every event. Used when no audit sink is configured.
type Discard struct{}

func (Discard) Record(context.Context, Event) {}
