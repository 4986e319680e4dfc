package notification

import "context"

// Messenger delivers push messages to device tokens.
// Implemented by the Firebase FCM client in the infrastructure layer.
type Messenger interface {
	Push(ctx context.Context, tokens []string, msg Push) error
}
