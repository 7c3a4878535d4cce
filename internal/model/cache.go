package model

import (
	"encoding/json"
	"time"
)

// CacheEntry is the last successful provider answer for a tax id.
type CacheEntry struct {
	INN       string          `json:"inn"       db:"inn"`
	Provider  string          `json:"provider"  db:"provider"`
	Payload   json.RawMessage `json:"payload"   db:"payload"`
	Record    *CompanyRecord  `json:"record"    db:"-"`
	FetchedAt time.Time       `json:"fetched_at" db:"fetched_at"`
}
