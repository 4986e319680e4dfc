// Package kafka streams audit events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bankline/internal/domain/audit"
)

const (
	defaultBuffer = 256
	eventVersion  = 1
)

var (
	meter             = otel.Meter("bankline/kafka")
	auditPublished, _ = meter.Int64Counter("audit.events.published",
		metric.WithDescription("Audit events handed to Kafka"),
	)
)

// Envelope is the message value written to the audit topic.
type Envelope struct {
	EventVersion int         `json:"eventVersion"`
	Event        audit.Event `json:"event"`
}

// Recorder implements audit.Recorder. Record only enqueues; a single
// worker publishes in order. When the queue is full the event is dropped.
type Recorder struct {
	producer sarama.SyncProducer
	topic    string
	events   chan audit.Event
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ audit.Recorder = (*Recorder)(nil)

// NewRecorder connects an idempotent producer to brokers.
func NewRecorder(brokers []string, topic string) (*Recorder, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newRecorder(producer, topic, defaultBuffer), nil
}

func newRecorder(producer sarama.SyncProducer, topic string, buffer int) *Recorder {
	r := &Recorder{
		producer: producer,
		topic:    topic,
		events:   make(chan audit.Event, buffer),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) Record(ctx context.Context, e audit.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.events <- e:
	default:
		auditPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "dropped")))
		log.Printf("Warning: audit queue full, dropping %s event %s", e.Type, e.ID)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.events {
		r.publish(e)
	}
}

func (r *Recorder) publish(e audit.Event) {
	payload, err := json.Marshal(Envelope{EventVersion: eventVersion, Event: e})
	if err != nil {
		log.Printf("Error encoding audit event %s: %v", e.ID, err)
		return
	}

	// Keyed by user so one user's events stay ordered within a partition.
	msg := &sarama.ProducerMessage{
		Topic: r.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(e.UserID, 10)),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(e.Type)},
			{Key: []byte("event_id"), Value: []byte(e.ID)},
		},
	}

	status := "success"
	if _, _, err := r.producer.SendMessage(msg); err != nil {
		status = "error"
		log.Printf("Error publishing audit event %s: %v", e.ID, err)
	}
	auditPublished.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

// Close drains queued events and closes the producer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	<-r.done
	return r.producer.Close()
}
