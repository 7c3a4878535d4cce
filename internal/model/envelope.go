package model

import (
	"encoding/json"
	"time"
)

// Envelope is the payload published to Kafka for each accepted Telegram update.
type Envelope struct {
	UpdateID   int             `json:"update_id"`
	ChatID     int64           `json:"chat_id"`
	ReceivedAt time.Time       `json:"received_at"`
	Update     json.RawMessage `json:"update"` // raw tgbotapi.Update
}
