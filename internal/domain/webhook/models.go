package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bankline/internal/domain/item"
)

var ErrMalformed = errors.New("malformed webhook payload")

type Status string

const (
	StatusAck      Status = "ack"
	StatusRejected Status = "rejected"
)

// ProviderError is the optional error object attached to ITEM/ERROR.
type ProviderError struct {
	Type    string `json:"error_type,omitempty"`
	Code    string `json:"error_code,omitempty"`
	Message string `json:"error_message,omitempty"`
}

// Payload is the subset of an aggregator notification the dispatcher reads.
// Items are addressed either by the aggregator's item_id or by the local
// itemId used by simplified senders.
type Payload struct {
	WebhookType    string         `json:"webhook_type"`
	WebhookCode    string         `json:"webhook_code"`
	Type           string         `json:"type"`
	ProviderItemID string         `json:"item_id"`
	ItemID         int64          `json:"itemId"`
	Error          *ProviderError `json:"error,omitempty"`
}

// Parse decodes a raw body. Only bodies that are not a JSON object fail.
func Parse(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p.WebhookType = strings.ToUpper(strings.TrimSpace(p.WebhookType))
	p.WebhookCode = strings.ToUpper(strings.TrimSpace(p.WebhookCode))
	p.Type = strings.ToUpper(strings.TrimSpace(p.Type))
	p.ProviderItemID = strings.TrimSpace(p.ProviderItemID)
	return &p, nil
}

// EventType is the name forwarded to live-update subscribers, e.g.
// "ITEM/PENDING_EXPIRATION" or a bare "ERROR".
func (p *Payload) EventType() string {
	if p.WebhookType == "" {
		return p.Type
	}
	if p.WebhookCode == "" {
		return p.WebhookType
	}
	return p.WebhookType + "/" + p.WebhookCode
}

// ErrorCode returns the provider error code, if any.
func (p *Payload) ErrorCode() string {
	if p.Error == nil {
		return ""
	}
	return p.Error.Code
}

// Result is the dispatcher's verdict on one notification. Both statuses are
// acknowledged to the sender.
type Result struct {
	Status    Status     `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	EventType string     `json:"eventType,omitempty"`
	ItemID    int64      `json:"itemId,omitempty"`
	Event     item.Event `json:"event,omitempty"`
	State     item.State `json:"state,omitempty"`
	Applied   bool       `json:"applied"`
	Received  time.Time  `json:"receivedAt"`
}
