package events

import (
	"encoding/json"
	"time"
)

// Event kinds published on the session exchange.
const (
	KindCommitted = "session.committed"
	KindDeleted   = "session.deleted"
	KindRestored  = "session.restored"
)

// SessionEvent is the wire message for session lifecycle events.
// Consumers get ids only; the authoritative records live in the backend
// store.
type SessionEvent struct {
	Kind      string    `json:"kind"`
	BatchID   string    `json:"batch_id,omitempty"`
	TxnIDs    []int64   `json:"txn_ids,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(kind, batchID string, ids []int64) *SessionEvent {
	return &SessionEvent{
		Kind:      kind,
		BatchID:   batchID,
		TxnIDs:    ids,
		Timestamp: time.Now(),
	}
}

func (e *SessionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func SessionEventFromJSON(data []byte) (*SessionEvent, error) {
	var e SessionEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
