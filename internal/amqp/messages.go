package amqp

import (
	"encoding/json"
	"time"
)

// CostEventMessage announces that a cost was recorded. It carries only the
// id and the affected report key; consumers read the full record from the
// ledger themselves.
type CostEventMessage struct {
	ID        int64     `json:"id"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	Timestamp time.Time `json:"timestamp"`
}

func NewCostEventMessage(id int64, year, month int) *CostEventMessage {
	return &CostEventMessage{
		ID:        id,
		Year:      year,
		Month:     month,
		Timestamp: time.Now(),
	}
}

func (m *CostEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func CostEventMessageFromJSON(data []byte) (*CostEventMessage, error) {
	var msg CostEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
