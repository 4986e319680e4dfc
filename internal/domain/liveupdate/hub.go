package liveupdate

import (
	"context"
	"errors"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrHubNotStarted = errors.New("live update hub not started")
	ErrHubClosed     = errors.New("live update hub closed")
)

const defaultBuffer = 32

var (
	meter              = otel.Meter("bankline/liveupdate")
	eventsDelivered, _ = meter.Int64Counter("liveupdate.events.delivered",
		metric.WithDescription("Events handed to a subscriber"),
	)
	eventsDropped, _ = meter.Int64Counter("liveupdate.events.dropped",
		metric.WithDescription("Events dropped because a subscriber buffer was full"),
	)
)

// Hub fans events out to the subscriptions of the owning user.
// Delivery is at-most-once with no replay. Each subscription is FIFO.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	buffer  int
	started bool
	closed  bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

var _ Publisher = (*Hub)(nil)

func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.started = true
	log.Println("Live update hub started")
}

// Publish delivers e to every subscription owned by e.UserID. When a
// subscriber's buffer is full its oldest pending event is discarded to make
// room, so a slow reader sees the latest state.
func (h *Hub) Publish(ctx context.Context, e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.started || h.closed {
		return
	}

	attrs := metric.WithAttributes(attribute.String("type", string(e.Type)))
	for sub := range h.subs {
		if sub.UserID != e.UserID {
			continue
		}
		if sub.offer(e) {
			eventsDelivered.Add(ctx, 1, attrs)
		} else {
			eventsDropped.Add(ctx, 1, attrs)
		}
	}
}

// Subscribe registers a subscription for userID. It is removed when ctx is
// done, when Close is called on it, or when the hub closes.
func (h *Hub) Subscribe(ctx context.Context, userID int64) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if !h.started {
		return nil, ErrHubNotStarted
	}

	sub := &Subscription{
		UserID: userID,
		events: make(chan Event, h.buffer),
		done:   make(chan struct{}),
		hub:    h,
	}
	h.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Close drains the hub: every subscription channel is closed and later
// publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.closeLocked()
	}
	log.Println("Live update hub closed")
}

// SubscriberCount reports the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

type Subscription struct {
	UserID int64

	events chan Event
	done   chan struct{}
	hub    *Hub
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// offer enqueues e, evicting the oldest pending event if the buffer is full.
// It reports false only when e itself could not be queued. Callers hold the
// hub lock at least for reading, so events is not closed underneath.
func (s *Subscription) offer(e Event) bool {
	select {
	case s.events <- e:
		return true
	default:
	}

	select {
	case old := <-s.events:
		eventsDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", string(old.Type))))
	default:
	}

	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if _, ok := s.hub.subs[s]; !ok {
		return
	}
	delete(s.hub.subs, s)
	close(s.events)
	close(s.done)
}
