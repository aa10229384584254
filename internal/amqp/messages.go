package amqp

import (
	"encoding/json"
	"time"
)

// SettlementSyncMessage asks the worker to mirror a completed settlement run
// to the external ledger. Only the run ID travels; the worker fetches the run
// and its lines from the database.
type SettlementSyncMessage struct {
	RunID     int64     `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSettlementSyncMessage(runID int64) *SettlementSyncMessage {
	return &SettlementSyncMessage{
		RunID:     runID,
		Timestamp: time.Now(),
	}
}

func (m *SettlementSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SettlementSyncMessageFromJSON(data []byte) (*SettlementSyncMessage, error) {
	var msg SettlementSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
