// Package upstream classifies failures of remote collaborators once, at the
// client boundary, so callers branch on Kind and Retryable instead of
// inspecting error text.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Kind string

const (
	KindTransport          Kind = "transport"
	KindTimeout            Kind = "timeout"
	KindServer             Kind = "server"
	KindRateLimited        Kind = "rate_limited"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindInvalidRequest     Kind = "invalid_request"
	KindRejected           Kind = "rejected"
)

// Error is a classified remote failure.
type Error struct {
	Service   string
	Kind      Kind
	Retryable bool
	Status    int
	Code      string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Service, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// credentialCodes are provider error codes meaning the deployment itself is
// misconfigured.
var credentialCodes = map[string]struct{}{
	"INVALID_API_KEYS":         {},
	"INVALID_CLIENT_ID":        {},
	"INVALID_SECRET":           {},
	"MISSING_CLIENT_ID":        {},
	"MISSING_SECRET":           {},
	"UNAUTHORIZED_ENVIRONMENT": {},
}

// FromResponse classifies a non-2xx HTTP response.
func FromResponse(service string, status int, code, message string) *Error {
	e := &Error{Service: service, Status: status, Code: code, Message: message}

	if _, ok := credentialCodes[code]; ok {
		e.Kind = KindInvalidCredentials
		return e
	}

	switch {
	case status == http.StatusTooManyRequests:
		e.Kind, e.Retryable = KindRateLimited, true
	case status >= 500:
		e.Kind, e.Retryable = KindServer, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindInvalidCredentials
	default:
		e.Kind = KindInvalidRequest
	}
	return e
}

// FromTransport classifies an error returned before any response arrived.
func FromTransport(service string, err error) *Error {
	e := &Error{Service: service, Kind: KindTransport, Retryable: true, Err: err}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		e.Kind = KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		e.Retryable = false
	}
	return e
}

// MissingCredentials reports a client built without the secrets it needs.
func MissingCredentials(service string) *Error {
	return &Error{Service: service, Kind: KindInvalidCredentials, Code: "MISSING_CREDENTIALS"}
}

// IsRetryable reports whether err is a transient upstream failure.
func IsRetryable(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Retryable
}

// IsMisconfigured reports whether err means credentials or configuration are wrong.
func IsMisconfigured(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Kind == KindInvalidCredentials
}
