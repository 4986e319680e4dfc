package messages

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Messages holds push notification copy. Body strings may contain a single %s
// for the institution or amount.
type Messages struct {
	ItemLoginRequired     MessageText `json:"item_login_required"`
	ItemPendingExpiration MessageText `json:"item_pending_expiration"`
	ItemPendingDisconnect MessageText `json:"item_pending_disconnect"`
	ItemRevoked           MessageText `json:"item_revoked"`
	TransferConfirmed     MessageText `json:"transfer_confirmed"`
	TransferBlocked       MessageText `json:"transfer_blocked"`
}

// Default is used when no messages file is configured.
func Default() *Messages {
	return &Messages{
		ItemLoginRequired:     MessageText{Title: "Reconnect your bank", Body: "Your connection to %s needs you to log in again."},
		ItemPendingExpiration: MessageText{Title: "Bank access expiring", Body: "Access to %s expires soon. Renew it to keep your accounts linked."},
		ItemPendingDisconnect: MessageText{Title: "Bank disconnecting", Body: "%s is about to disconnect. Update your link to keep it active."},
		ItemRevoked:           MessageText{Title: "Bank access revoked", Body: "Access to %s was revoked. Link it again to continue."},
		TransferConfirmed:     MessageText{Title: "Transfer complete", Body: "%s was added to your balance."},
		TransferBlocked:       MessageText{Title: "Transfer not completed", Body: "Your transfer of %s could not be completed."},
	}
}

var (
	loaded   Messages
	loadOnce sync.Once
	loadErr  error
)

// Load reads the notifications JSON file and caches the result.
// Missing keys keep their default copy. An empty path yields the defaults.
// Safe to call from multiple goroutines.
func Load(path string) (*Messages, error) {
	if path == "" {
		return Default(), nil
	}
	loadOnce.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read messages file: %w", err)
			return
		}
		m, err := Parse(data)
		if err != nil {
			loadErr = err
			return
		}
		loaded = *m
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return &loaded, nil
}

// Parse decodes messages JSON over the defaults.
func Parse(data []byte) (*Messages, error) {
	m := Default()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse messages file: %w", err)
	}
	return m, nil
}
