package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"bankline/internal/domain/liveupdate"
	"bankline/internal/shared/middleware"
)

const defaultHeartbeat = 25 * time.Second

type LiveSubscriber interface {
	Subscribe(ctx context.Context, userID int64) (*liveupdate.Subscription, error)
}

// LiveHandler streams live updates as Server-Sent Events.
type LiveHandler struct {
	hub       LiveSubscriber
	heartbeat time.Duration
}

func NewLiveHandler(hub LiveSubscriber, heartbeat time.Duration) *LiveHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &LiveHandler{hub: hub, heartbeat: heartbeat}
}

// HandleStream handles GET /api/live. The stream ends when the client goes
// away or the hub closes.
func (h *LiveHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub, err := h.hub.Subscribe(r.Context(), userID)
	if err != nil {
		log.Printf("Warning: live update subscribe failed for user %d: %v", userID, err)
		http.Error(w, "Live updates unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Printf("Warning: live update stream cannot flush: %v", err)
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(w, e); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, e liveupdate.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("Error encoding live update %s: %v", e.Type, err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
