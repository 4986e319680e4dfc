package firebase

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"

	"bankline/internal/domain/notification"
)

type fakeMulticaster struct {
	batches [][]string
	err     error
}

func (f *fakeMulticaster) SendEachForMulticast(ctx context.Context, m *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, m.Tokens)
	resp := &messaging.BatchResponse{SuccessCount: len(m.Tokens)}
	for range m.Tokens {
		resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true})
	}
	return resp, nil
}

func TestChunkTokens(t *testing.T) {
	tokens := make([]string, 1201)
	chunks := chunkTokens(tokens, fcmBatchLimit)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 500 || len(chunks[2]) != 201 {
		t.Errorf("chunk sizes = %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestPush_Batches(t *testing.T) {
	fake := &fakeMulticaster{}
	c := &Client{msgClient: fake}

	tokens := make([]string, 501)
	if err := c.Push(context.Background(), tokens, notification.Push{Title: "t", Body: "b"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if len(fake.batches) != 2 {
		t.Errorf("expected 2 batches, got %d", len(fake.batches))
	}
}

func TestPush_NoTokens(t *testing.T) {
	fake := &fakeMulticaster{err: errors.New("should not be called")}
	c := &Client{msgClient: fake}

	if err := c.Push(context.Background(), nil, notification.Push{Title: "t"}); err != nil {
		t.Errorf("Push() error = %v", err)
	}
}

func TestPush_SendError(t *testing.T) {
	c := &Client{msgClient: &fakeMulticaster{err: errors.New("quota")}}

	if err := c.Push(context.Background(), []string{"tok"}, notification.Push{Title: "t"}); err == nil {
		t.Error("expected error")
	}
}
