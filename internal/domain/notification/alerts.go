package notification

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"bankline/internal/domain/item"
	"bankline/internal/domain/transfer"
	"bankline/internal/shared/messages"
)

// Alerts turns item and transfer events into push notifications.
type Alerts struct {
	service  *Service
	messages *messages.Messages
}

func NewAlerts(service *Service, msgs *messages.Messages) *Alerts {
	if msgs == nil {
		msgs = messages.Default()
	}
	return &Alerts{service: service, messages: msgs}
}

// ItemStateChanged alerts when an item enters a state that needs the user.
func (a *Alerts) ItemStateChanged(ctx context.Context, it *item.Item, previous item.State) {
	var text messages.MessageText
	switch it.State {
	case item.StateBad:
		text = a.messages.ItemLoginRequired
	case item.StatePendingExpiration:
		text = a.messages.ItemPendingExpiration
	case item.StatePendingDisconnect:
		text = a.messages.ItemPendingDisconnect
	case item.StateRevoked:
		text = a.messages.ItemRevoked
	default:
		return
	}

	name := it.InstitutionName
	if name == "" {
		name = "your bank"
	}

	err := a.service.SendToUser(ctx, it.UserID, CategoryItems, Push{
		Title: text.Title,
		Body:  fmt.Sprintf(text.Body, name),
		Data: map[string]string{
			"itemId":   strconv.FormatInt(it.ID, 10),
			"state":    string(it.State),
			"previous": string(previous),
		},
	})
	if err != nil {
		log.Printf("Error sending item alert for item %d: %v", it.ID, err)
	}
}

// TransferCompleted alerts on confirmed and blocked transfers.
func (a *Alerts) TransferCompleted(ctx context.Context, t *transfer.Transfer) {
	var text messages.MessageText
	switch t.Status {
	case transfer.StatusConfirmed:
		text = a.messages.TransferConfirmed
	case transfer.StatusBlocked:
		text = a.messages.TransferBlocked
	default:
		return
	}

	err := a.service.SendToUser(ctx, t.UserID, CategoryTransfers, Push{
		Title: text.Title,
		Body:  fmt.Sprintf(text.Body, t.Amount.StringFixed(2)),
		Data: map[string]string{
			"transferId": t.ID,
			"status":     string(t.Status),
		},
	})
	if err != nil {
		log.Printf("Error sending transfer alert for transfer %s: %v", t.ID, err)
	}
}
