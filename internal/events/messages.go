package events

import (
	"encoding/json"
	"errors"
	"time"
)

// RoutingLedgerChanged is the message type for ledger change notifications.
const RoutingLedgerChanged = "ledger.changed"

// LedgerChanged tells listeners that a user's income or expenses changed.
// It carries no amounts; listeners refetch from the backend.
type LedgerChanged struct {
	Type      string    `json:"type"`
	Username  string    `json:"username"`
	Resource  string    `json:"resource"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerChanged(username, resource string) *LedgerChanged {
	return &LedgerChanged{
		Type:      RoutingLedgerChanged,
		Username:  username,
		Resource:  resource,
		Timestamp: time.Now(),
	}
}

func (m *LedgerChanged) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerChangedFromJSON decodes a message and rejects ones without a username.
func LedgerChangedFromJSON(data []byte) (*LedgerChanged, error) {
	var msg LedgerChanged
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Username == "" {
		return nil, errors.New("ledger change without username")
	}
	return &msg, nil
}
