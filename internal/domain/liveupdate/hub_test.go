package liveupdate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func startedHub(t *testing.T, buffer int) *Hub {
	t.Helper()
	h := NewHub(buffer)
	h.Start()
	t.Cleanup(h.Close)
	return h
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHub_DeliversOnlyToOwner(t *testing.T) {
	h := startedHub(t, 4)
	ctx := context.Background()

	mine, err := h.Subscribe(ctx, 7)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	other, err := h.Subscribe(ctx, 8)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	h.Publish(ctx, ItemStateChanged(7, 42, "BAD"))

	got := receive(t, mine)
	if got.ItemID != 42 || got.State != "BAD" || got.Type != TypeItemStateChanged {
		t.Errorf("got %+v, want item_state_changed for item 42 BAD", got)
	}

	select {
	case e := <-other.Events():
		t.Errorf("other user received %+v", e)
	default:
	}
}

func TestHub_PreservesOrderPerSubscriber(t *testing.T) {
	h := startedHub(t, 8)
	ctx := context.Background()
	sub, _ := h.Subscribe(ctx, 1)

	states := []string{"BAD", "PENDING_EXPIRATION", "GOOD"}
	for _, s := range states {
		h.Publish(ctx, ItemStateChanged(1, 5, s))
	}

	for _, want := range states {
		if got := receive(t, sub); got.State != want {
			t.Errorf("State = %q, want %q", got.State, want)
		}
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := startedHub(t, 1)
	ctx := context.Background()
	sub, _ := h.Subscribe(ctx, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(ctx, WebhookReceived(1, 5, "ITEM/ERROR"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if got := len(sub.Events()); got != 1 {
		t.Errorf("buffered events = %d, want 1", got)
	}
}

func TestHub_FullBufferKeepsNewestEvents(t *testing.T) {
	h := startedHub(t, 2)
	ctx := context.Background()
	sub, _ := h.Subscribe(ctx, 1)

	for _, s := range []string{"BAD", "PENDING_EXPIRATION", "GOOD"} {
		h.Publish(ctx, ItemStateChanged(1, 5, s))
	}

	for _, want := range []string{"PENDING_EXPIRATION", "GOOD"} {
		if got := receive(t, sub); got.State != want {
			t.Errorf("State = %q, want %q", got.State, want)
		}
	}
}

func TestHub_NoReplayForLateSubscribers(t *testing.T) {
	h := startedHub(t, 4)
	ctx := context.Background()

	h.Publish(ctx, ItemStateChanged(1, 5, "BAD"))
	sub, _ := h.Subscribe(ctx, 1)

	select {
	case e := <-sub.Events():
		t.Errorf("late subscriber received %+v", e)
	default:
	}
}

func TestHub_ContextCancelUnsubscribes(t *testing.T) {
	h := startedHub(t, 4)
	ctx, cancel := context.WithCancel(context.Background())

	sub, _ := h.Subscribe(ctx, 1)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("Events() still open after unsubscribe")
	}
	if n := h.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", n)
	}
}

func TestHub_CloseDrainsSubscriptions(t *testing.T) {
	h := NewHub(4)
	h.Start()
	ctx := context.Background()

	a, _ := h.Subscribe(ctx, 1)
	b, _ := h.Subscribe(ctx, 2)

	h.Close()

	for _, sub := range []*Subscription{a, b} {
		select {
		case <-sub.Done():
		default:
			t.Error("subscription still open after Close")
		}
	}

	// Safe after close.
	h.Publish(ctx, ItemStateChanged(1, 1, "GOOD"))
	a.Close()
	h.Close()

	if _, err := h.Subscribe(ctx, 1); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Subscribe() after Close error = %v, want ErrHubClosed", err)
	}
}

func TestHub_SubscribeBeforeStart(t *testing.T) {
	h := NewHub(4)
	defer h.Close()

	if _, err := h.Subscribe(context.Background(), 1); !errors.Is(err, ErrHubNotStarted) {
		t.Errorf("Subscribe() error = %v, want ErrHubNotStarted", err)
	}
}

func TestEvent_JSONOmitsUserID(t *testing.T) {
	data, err := json.Marshal(WebhookReceived(99, 42, "ITEM/PENDING_EXPIRATION"))
	if err != nil {
		t.Fatal(err)
	}

	s := string(data)
	if strings.Contains(s, "99") {
		t.Errorf("serialized event leaks user id: %s", s)
	}
	want := `{"type":"webhook_received","itemId":42,"eventType":"ITEM/PENDING_EXPIRATION"}`
	if s != want {
		t.Errorf("json = %s, want %s", s, want)
	}
}
