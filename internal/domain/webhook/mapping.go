package webhook

import "bankline/internal/domain/item"

// itemEvents maps "TYPE/CODE" to the lifecycle event it drives.
var itemEvents = map[string]item.Event{
	"ITEM/ERROR":                   item.EventLoginError,
	"ITEM/LOGIN_REPAIRED":          item.EventLoginRepaired,
	"ITEM/PENDING_DISCONNECT":      item.EventPendingDisconnect,
	"ITEM/PENDING_EXPIRATION":      item.EventPendingExpiration,
	"ITEM/USER_PERMISSION_REVOKED": item.EventRevoke,
	"ITEM/USER_ACCOUNT_REVOKED":    item.EventRevoke,
	"ERROR":                        item.EventLoginError,
}

// MapEvent returns the lifecycle event for a notification. ok is false for
// types that carry no state change.
func MapEvent(p *Payload) (item.Event, bool) {
	ev, ok := itemEvents[p.EventType()]
	return ev, ok
}
