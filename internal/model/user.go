package model

import (
	"strings"
	"time"
)

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

func (p Plan) String() string { return string(p) }

// User is a Telegram account known to the bot.
type User struct {
	ID             int64      `db:"id"` // telegram user id
	Username       string     `db:"username"`
	FirstName      string     `db:"first_name"`
	LastName       string     `db:"last_name"`
	Plan           Plan       `db:"plan"`
	ProUntil       *time.Time `db:"pro_until"` // nil = no expiry
	FreeChecksLeft int        `db:"free_checks_left"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// IsPro reports an active paid entitlement at now.
func (u User) IsPro(now time.Time) bool {
	if u.Plan != PlanPro {
		return false
	}
	return u.ProUntil == nil || u.ProUntil.After(now)
}

func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "пользователь"
}
