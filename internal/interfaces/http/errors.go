package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"bankline/internal/domain/account"
	"bankline/internal/domain/item"
	"bankline/internal/domain/linkevent"
	"bankline/internal/domain/linktoken"
	"bankline/internal/domain/notification"
	"bankline/internal/domain/transfer"
	"bankline/internal/domain/user"
	"bankline/internal/domain/webhook"
	"bankline/internal/shared/auth"
	"bankline/internal/shared/upstream"
)

// Text codes sent to clients.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeNotOwned              = "NOT_OWNED"
	CodeNotFound              = "NOT_FOUND"
	CodeAlreadyConsumed       = "ALREADY_CONSUMED"
	CodeConflict              = "CONFLICT"
	CodeExpired               = "EXPIRED"
	CodeRateLimited           = "RATE_LIMITED"
	CodeUpstreamUnavailable   = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamMisconfigured = "UPSTREAM_MISCONFIGURED"
	CodeUpstreamRejected      = "UPSTREAM_REJECTED"
	CodeInternal              = "INTERNAL_ERROR"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func newError(message string, category goerrors.Category, status int, textCode string) *goerrors.Error {
	return goerrors.New(message, category).
		WithCode(status).
		WithTextCode(textCode)
}

func badRequest(message string) *goerrors.Error {
	return newError(message, goerrors.CategoryBadInput, http.StatusBadRequest, CodeValidation)
}

func notFound(message string) *goerrors.Error {
	return newError(message, goerrors.CategoryNotFound, http.StatusNotFound, CodeNotFound)
}

func internalError() *goerrors.Error {
	return newError("Internal server error", goerrors.CategoryInternal, http.StatusInternalServerError, CodeInternal)
}

// mapError turns a domain or upstream error into the error returned to the
// client. Unknown errors become an opaque 500.
func mapError(err error) *goerrors.Error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}

	switch {
	case errors.Is(err, linktoken.ErrInvalidInput),
		errors.Is(err, item.ErrInvalidInput),
		errors.Is(err, account.ErrInvalidInput),
		errors.Is(err, user.ErrInvalidInput),
		errors.Is(err, linkevent.ErrInvalidInput),
		errors.Is(err, notification.ErrInvalidToken),
		errors.Is(err, notification.ErrInvalidDeviceType),
		errors.Is(err, notification.ErrInvalidCategory),
		errors.Is(err, webhook.ErrMalformed):
		return badRequest(err.Error())

	case errors.Is(err, user.ErrInvalidCredentials):
		return newError(err.Error(), goerrors.CategoryAuth, http.StatusUnauthorized, CodeUnauthorized)
	case errors.Is(err, auth.ErrWebhookSignature):
		return newError("webhook verification failed", goerrors.CategoryAuth, http.StatusUnauthorized, CodeUnauthorized)

	case errors.Is(err, linktoken.ErrNotOwned),
		errors.Is(err, item.ErrNotOwned),
		errors.Is(err, account.ErrForbidden),
		errors.Is(err, transfer.ErrNotOwned):
		return newError("resource does not belong to user", goerrors.CategoryAuthz, http.StatusForbidden, CodeNotOwned)

	case errors.Is(err, linktoken.ErrTokenNotFound),
		errors.Is(err, item.ErrItemNotFound),
		errors.Is(err, account.ErrAccountNotFound),
		errors.Is(err, transfer.ErrAccountNotFound),
		errors.Is(err, transfer.ErrTransferNotFound),
		errors.Is(err, user.ErrUserNotFound),
		errors.Is(err, notification.ErrNotificationNotFound):
		return notFound(err.Error())

	case errors.Is(err, linktoken.ErrAlreadyConsumed):
		return newError(err.Error(), goerrors.CategoryConflict, http.StatusConflict, CodeAlreadyConsumed)
	case errors.Is(err, user.ErrEmailTaken):
		return newError(err.Error(), goerrors.CategoryConflict, http.StatusConflict, CodeConflict)
	case errors.Is(err, linktoken.ErrExpired):
		return newError(err.Error(), goerrors.CategoryOperation, http.StatusGone, CodeExpired)

	case errors.Is(err, linktoken.ErrUpstreamRejected):
		return upstreamRejected(err)
	case errors.Is(err, linktoken.ErrUpstreamMisconfigured), upstream.IsMisconfigured(err):
		return newError("bank aggregation is misconfigured", goerrors.CategoryExternal, http.StatusInternalServerError, CodeUpstreamMisconfigured)
	case errors.Is(err, linktoken.ErrUpstreamUnavailable),
		errors.Is(err, item.ErrProviderUnavailable),
		errors.Is(err, account.ErrBalanceUnavailable):
		return newError(err.Error(), goerrors.CategoryExternal, http.StatusBadGateway, CodeUpstreamUnavailable)
	}

	var ue *upstream.Error
	if errors.As(err, &ue) {
		if !ue.Retryable && (ue.Kind == upstream.KindInvalidRequest || ue.Kind == upstream.KindRejected) {
			return upstreamRejected(err)
		}
		e := newError(ue.Service+" unavailable", goerrors.CategoryExternal, http.StatusBadGateway, CodeUpstreamUnavailable)
		if ue.Code != "" {
			e.WithMetadata(map[string]any{"upstreamCode": ue.Code})
		}
		return e
	}

	return internalError()
}

// upstreamRejected reports a request the upstream refused on its merits.
// The upstream code, when known, travels in metadata.
func upstreamRejected(err error) *goerrors.Error {
	e := newError("request rejected by upstream service", goerrors.CategoryBadInput, http.StatusUnprocessableEntity, CodeUpstreamRejected)
	var ue *upstream.Error
	if errors.As(err, &ue) {
		e.Message = ue.Service + " rejected the request"
		if ue.Code != "" {
			e.WithMetadata(map[string]any{"upstreamCode": ue.Code})
		}
	}
	return e
}

// respondError maps err and writes it. Server-side failures are logged with
// the operation that failed.
func respondError(w http.ResponseWriter, err error, op string) {
	e := mapError(err)
	if e.Code >= http.StatusInternalServerError {
		log.Printf("Error %s: %v", op, err)
	}
	writeError(w, e)
}

func writeError(w http.ResponseWriter, e *goerrors.Error) {
	writeJSON(w, e.Code, errorEnvelope{Error: errorBody{
		Category: string(e.Category),
		Code:     e.TextCode,
		Message:  e.Message,
		Metadata: e.Metadata,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
