package model

import "time"

// DailyQuota is the free-check counter of one user for one calendar day.
type DailyQuota struct {
	UserID    int64     `db:"user_id"`
	Day       string    `db:"day"` // YYYY-MM-DD in the quota time zone
	Used      int       `db:"used"`
	UpdatedAt time.Time `db:"updated_at"`
}

type LedgerOp string

const (
	LedgerReserve LedgerOp = "reserve"
	LedgerCapture LedgerOp = "capture"
	LedgerRelease LedgerOp = "release"
	LedgerGrant   LedgerOp = "grant"
)

func (o LedgerOp) String() string { return string(o) }

// QuotaState is what the user is told about their allowance.
type QuotaState struct {
	Unlimited bool
	ProUntil  *time.Time
	Limit     int
	Remaining int // -1 when unknown (store unavailable)
}
