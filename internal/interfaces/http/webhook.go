package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"bankline/internal/domain/webhook"
	"bankline/internal/shared/auth"
)

const maxWebhookBodySize = 1 << 20 // 1 MiB

type WebhookDispatcher interface {
	Handle(ctx context.Context, raw []byte) (*webhook.Result, error)
}

type WebhookVerifier interface {
	Verify(token string, body []byte) error
}

type WebhookHandler struct {
	dispatcher WebhookDispatcher
	verifier   WebhookVerifier
}

func NewWebhookHandler(dispatcher WebhookDispatcher, verifier WebhookVerifier) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, verifier: verifier}
}

// HandleAggregatorWebhook handles POST /webhooks/aggregator. Unknown items and
// event types are acknowledged with 200; only unparseable bodies get a 400.
func (h *WebhookHandler) HandleAggregatorWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, badRequest("Webhook body too large"))
			return
		}
		writeError(w, badRequest("Failed to read webhook body"))
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(r.Header.Get(auth.WebhookVerificationHeader), body); err != nil {
			respondError(w, err, "verifying webhook")
			return
		}
	}

	res, err := h.dispatcher.Handle(r.Context(), body)
	if err != nil {
		respondError(w, err, "handling webhook")
		return
	}

	writeJSON(w, http.StatusOK, res)
}
