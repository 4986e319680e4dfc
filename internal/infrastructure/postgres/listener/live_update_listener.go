package listener

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/lib/pq"

	"bankline/internal/domain/liveupdate"
)

const (
	channelName       = "live_updates"
	reconnectInterval = 5 * time.Second
)

// message is the NOTIFY payload. The user id travels with the event because
// liveupdate.Event hides it from clients.
type message struct {
	UserID int64            `json:"userId"`
	Event  liveupdate.Event `json:"event"`
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NotifyPublisher sends live updates through pg_notify so every API
// instance listening on the channel can deliver them.
type NotifyPublisher struct {
	db execer
}

func NewNotifyPublisher(db execer) *NotifyPublisher {
	return &NotifyPublisher{db: db}
}

var _ liveupdate.Publisher = (*NotifyPublisher)(nil)

func (p *NotifyPublisher) Publish(ctx context.Context, e liveupdate.Event) {
	payload, err := json.Marshal(message{UserID: e.UserID, Event: e})
	if err != nil {
		log.Printf("Failed to encode live update: %v", err)
		return
	}

	// Live updates are best effort; the state change is already committed.
	if _, err := p.db.ExecContext(context.WithoutCancel(ctx), `SELECT pg_notify($1, $2)`, channelName, string(payload)); err != nil {
		log.Printf("Failed to publish live update: %v", err)
	}
}

// LiveUpdateListener relays notifications on the live update channel to
// the local hub.
type LiveUpdateListener struct {
	connStr    string
	hub        liveupdate.Publisher
	shutdownCh chan struct{}
	done       chan struct{}
}

func NewLiveUpdateListener(connStr string, hub liveupdate.Publisher) *LiveUpdateListener {
	return &LiveUpdateListener{
		connStr:    connStr,
		hub:        hub,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening for notifications in a background goroutine
func (l *LiveUpdateListener) Start(ctx context.Context) {
	go l.listen(ctx)
	log.Println("Live update listener started")
}

// Stop gracefully shuts down the listener
func (l *LiveUpdateListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	log.Println("Live update listener stopped")
}

func (l *LiveUpdateListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		// Wait before reconnecting
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			log.Println("Reconnecting to PostgreSQL for live updates...")
		}
	}
}

func (l *LiveUpdateListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Println("Connected to PostgreSQL notification channel")
		case pq.ListenerEventDisconnected:
			log.Printf("Disconnected from PostgreSQL notification channel: %v", err)
		case pq.ListenerEventReconnected:
			log.Println("Reconnected to PostgreSQL notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Printf("Connection attempt failed: %v", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(channelName); err != nil {
		log.Printf("Failed to listen on channel %s: %v", channelName, err)
		return
	}

	log.Printf("Listening on channel: %s", channelName)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// Connection lost, break to reconnect
				return
			}
			l.handleNotification(ctx, n)
		case <-time.After(90 * time.Second):
			go func() {
				if err := listener.Ping(); err != nil {
					log.Printf("Listener ping failed: %v", err)
				}
			}()
		}
	}
}

func (l *LiveUpdateListener) handleNotification(ctx context.Context, n *pq.Notification) {
	e, err := decode(n.Extra)
	if err != nil {
		log.Printf("Failed to parse live update payload: %v", err)
		return
	}
	l.hub.Publish(ctx, e)
}

func decode(extra string) (liveupdate.Event, error) {
	var msg message
	if err := json.Unmarshal([]byte(extra), &msg); err != nil {
		return liveupdate.Event{}, err
	}
	e := msg.Event
	e.UserID = msg.UserID
	return e, nil
}
