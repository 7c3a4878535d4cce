package model

import "time"

type CheckOutcome string

const (
	OutcomeOK            CheckOutcome = "ok"
	OutcomeCached        CheckOutcome = "cached"
	OutcomeNotFound      CheckOutcome = "not_found"
	OutcomeNotConfigured CheckOutcome = "not_configured"
	OutcomeUpstreamError CheckOutcome = "upstream_error"
	OutcomeQuotaExceeded CheckOutcome = "quota_exceeded"
)

func (o CheckOutcome) String() string { return string(o) }

func (o CheckOutcome) Valid() bool {
	switch o {
	case OutcomeOK, OutcomeCached, OutcomeNotFound, OutcomeNotConfigured, OutcomeUpstreamError, OutcomeQuotaExceeded:
		return true
	}
	return false
}

// CheckLog is one audit row per lookup attempt. Rows are never updated.
type CheckLog struct {
	ID        string       `db:"id"` // ULID
	UserID    int64        `db:"user_id"`
	INN       string       `db:"inn"`
	Provider  string       `db:"provider"`
	Outcome   CheckOutcome `db:"outcome"`
	Summary   string       `db:"summary"`
	CreatedAt time.Time    `db:"created_at"`
}
