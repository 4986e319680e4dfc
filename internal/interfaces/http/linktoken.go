package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bankline/internal/domain/linkevent"
	"bankline/internal/domain/linktoken"
	"bankline/internal/shared/middleware"
)

// LinkTokenIssuer issues link tokens and inspects them without consuming.
type LinkTokenIssuer interface {
	Issue(ctx context.Context, userID int64, itemID *int64) (*linktoken.LinkToken, error)
	Inspect(ctx context.Context, value string, userID int64) (*linktoken.ExchangeContext, error)
}

type LinkEventRecorder interface {
	Record(ctx context.Context, e *linkevent.Event) (*linkevent.Event, error)
}

type LinkHandler struct {
	tokens LinkTokenIssuer
	events LinkEventRecorder
}

func NewLinkHandler(tokens LinkTokenIssuer, events LinkEventRecorder) *LinkHandler {
	return &LinkHandler{tokens: tokens, events: events}
}

// IssueLinkTokenRequest selects update mode when ItemID is set.
type IssueLinkTokenRequest struct {
	ItemID *int64 `json:"itemId"`
}

// HandleIssueLinkToken handles POST /api/link-token. An empty body asks for
// an initial-mode token.
func (h *LinkHandler) HandleIssueLinkToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxItemBodySize)
	var req IssueLinkTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, badRequest("Invalid request body"))
		return
	}

	token, err := h.tokens.Issue(r.Context(), userID, req.ItemID)
	if err != nil {
		respondError(w, err, "issuing link token")
		return
	}

	writeJSON(w, http.StatusCreated, token)
}

// HandleInspectLinkToken handles GET /api/link-token/{token}
func (h *LinkHandler) HandleInspectLinkToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	value := r.PathValue("token")
	if value == "" {
		writeError(w, badRequest("Link token is required"))
		return
	}

	ec, err := h.tokens.Inspect(r.Context(), value, userID)
	if err != nil {
		respondError(w, err, "inspecting link token")
		return
	}

	writeJSON(w, http.StatusOK, ec)
}

// HandleLinkEvent handles POST /api/link-events
func (h *LinkHandler) HandleLinkEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxItemBodySize)
	var e linkevent.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, badRequest("Invalid request body"))
		return
	}
	e.UserID = userID

	saved, err := h.events.Record(r.Context(), &e)
	if err != nil {
		respondError(w, err, "recording link event")
		return
	}

	writeJSON(w, http.StatusCreated, saved)
}
