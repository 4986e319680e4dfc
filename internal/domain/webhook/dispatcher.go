package webhook

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bankline/internal/domain/audit"
	"bankline/internal/domain/item"
	"bankline/internal/domain/liveupdate"
)

var (
	meter            = otel.Meter("bankline/webhook")
	eventsCounter, _ = meter.Int64Counter("webhook.events",
		metric.WithDescription("Aggregator notifications by type and status"),
	)
)

// ItemStore is the part of the item service the dispatcher drives.
type ItemStore interface {
	GetItem(ctx context.Context, id int64) (*item.Item, error)
	GetByProviderItemID(ctx context.Context, providerItemID string) (*item.Item, error)
	ApplyTransition(ctx context.Context, itemID int64, event item.Event) (*item.TransitionResult, error)
	PublishTransition(ctx context.Context, res *item.TransitionResult)
}

// Dispatcher turns aggregator notifications into item transitions.
type Dispatcher struct {
	items     ItemStore
	publisher liveupdate.Publisher
	recorder  audit.Recorder
	now       func() time.Time
}

func NewDispatcher(items ItemStore, publisher liveupdate.Publisher, recorder audit.Recorder) *Dispatcher {
	if recorder == nil {
		recorder = audit.Discard{}
	}
	return &Dispatcher{
		items:     items,
		publisher: publisher,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Handle processes one raw notification. It returns ErrMalformed only when the
// body cannot be parsed; unknown items and unmapped types are reported in the
// Result and must still be acknowledged. Other errors are storage failures.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) (*Result, error) {
	p, err := Parse(raw)
	if err != nil {
		eventsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "malformed")))
		return nil, err
	}

	res := &Result{EventType: p.EventType(), Received: d.now().UTC()}
	defer func() {
		eventsCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", res.EventType),
			attribute.String("status", string(res.Status)),
		))
	}()

	if res.EventType == "" {
		return d.reject(res, "missing webhook type"), nil
	}

	it, err := d.resolveItem(ctx, p)
	if err != nil {
		if errors.Is(err, item.ErrItemNotFound) {
			log.Printf("Warning: webhook %s for unknown item (item_id=%q itemId=%d)", res.EventType, p.ProviderItemID, p.ItemID)
			return d.reject(res, "unknown item"), nil
		}
		return nil, fmt.Errorf("failed to resolve webhook item: %w", err)
	}
	res.ItemID = it.ID
	res.State = it.State
	res.Status = StatusAck

	if ev, ok := MapEvent(p); ok {
		tr, err := d.items.ApplyTransition(ctx, it.ID, ev)
		if err != nil {
			return nil, fmt.Errorf("failed to apply webhook transition: %w", err)
		}
		d.items.PublishTransition(ctx, tr)

		res.Event = ev
		res.State = tr.Item.State
		res.Applied = tr.Applied
	} else {
		log.Printf("Webhook %s for item %d has no state mapping", res.EventType, it.ID)
	}

	if d.publisher != nil {
		d.publisher.Publish(ctx, liveupdate.WebhookReceived(it.UserID, it.ID, res.EventType))
	}

	d.recorder.Record(ctx, audit.NewEvent(audit.TypeWebhookReceived, it.UserID, it.ID, map[string]any{
		"eventType":  res.EventType,
		"errorCode":  p.ErrorCode(),
		"event":      string(res.Event),
		"state":      string(res.State),
		"applied":    res.Applied,
		"receivedAt": res.Received,
	}))

	return res, nil
}

func (d *Dispatcher) resolveItem(ctx context.Context, p *Payload) (*item.Item, error) {
	switch {
	case p.ProviderItemID != "":
		return d.items.GetByProviderItemID(ctx, p.ProviderItemID)
	case p.ItemID > 0:
		return d.items.GetItem(ctx, p.ItemID)
	default:
		return nil, item.ErrItemNotFound
	}
}

func (d *Dispatcher) reject(res *Result, reason string) *Result {
	res.Status = StatusRejected
	res.Reason = reason
	return res
}
