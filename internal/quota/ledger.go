package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/innbot/internal/metrics"
	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmehdipour/innbot/internal/util"
	"go.uber.org/zap"
)

// ErrUnavailable is returned by CheckAndReserve when the counter store fails
// and the ledger is configured to fail closed.
var ErrUnavailable = errors.New("quota store unavailable")

// Slot identifies one unit on a user's daily counter.
type Slot struct {
	UserID        int64
	Day           string // YYYY-MM-DD in the ledger time zone
	ReservationID string
	Limit         int
}

// Counter is the atomic storage behind the ledger.
type Counter interface {
	// Reserve increments the day counter unless it already reached s.Limit.
	Reserve(ctx context.Context, s Slot) (used int, ok bool, err error)
	// Capture finalizes a reservation; the unit stays consumed.
	Capture(ctx context.Context, s Slot) error
	// Release gives the unit back (floor 0). Releasing twice or after Capture is a no-op.
	Release(ctx context.Context, s Slot) (used int, err error)
	Used(ctx context.Context, userID int64, day string) (int, error)
}

// Reservation is the outcome of CheckAndReserve.
type Reservation struct {
	ID        string
	UserID    int64
	Day       string
	Allowed   bool
	Unlimited bool
	Remaining int // -1 when unknown
	Limit     int
}

// counted reports whether the reservation holds a unit that must be captured or released.
func (r Reservation) counted() bool {
	return r.Allowed && !r.Unlimited && r.ID != ""
}

type Options struct {
	DailyLimit int
	FailOpen   bool
	Location   *time.Location
}

// Ledger enforces the free daily allowance and the PRO entitlement.
type Ledger struct {
	counter  Counter
	limit    int
	failOpen bool
	loc      *time.Location
	log      *zap.Logger
	now      func() time.Time
}

func New(counter Counter, opts Options, log *zap.Logger) *Ledger {
	if opts.DailyLimit < 0 {
		opts.DailyLimit = 0
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		counter:  counter,
		limit:    opts.DailyLimit,
		failOpen: opts.FailOpen,
		loc:      opts.Location,
		log:      log,
		now:      time.Now,
	}
}

// LoadLocation resolves the configured zone, falling back to fixed UTC+3.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

func (l *Ledger) Limit() int { return l.limit }

// Location is the zone that decides where a quota day starts.
func (l *Ledger) Location() *time.Location { return l.loc }

func (l *Ledger) day() string {
	return l.now().In(l.loc).Format("2006-01-02")
}

// CheckAndReserve takes one unit for a free user. PRO users pass without touching
// the counter.
func (l *Ledger) CheckAndReserve(ctx context.Context, u model.User) (Reservation, error) {
	if u.IsPro(l.now()) {
		metrics.QuotaTotal.WithLabelValues("pro").Inc()
		return Reservation{UserID: u.ID, Allowed: true, Unlimited: true, Remaining: -1, Limit: l.limit}, nil
	}

	s := Slot{UserID: u.ID, Day: l.day(), ReservationID: util.NewID(), Limit: l.limit}
	used, ok, err := l.counter.Reserve(ctx, s)
	if err != nil {
		if l.failOpen {
			metrics.QuotaTotal.WithLabelValues("fail_open").Inc()
			l.log.Warn("quota store unavailable, allowing check",
				zap.Int64("user_id", u.ID), zap.String("day", s.Day), zap.Error(err))
			return Reservation{UserID: u.ID, Day: s.Day, Allowed: true, Remaining: -1, Limit: l.limit}, nil
		}
		metrics.QuotaTotal.WithLabelValues("fail_closed").Inc()
		l.log.Error("quota store unavailable, rejecting check",
			zap.Int64("user_id", u.ID), zap.String("day", s.Day), zap.Error(err))
		return Reservation{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	res := Reservation{
		UserID:    u.ID,
		Day:       s.Day,
		Allowed:   ok,
		Remaining: max(l.limit-used, 0),
		Limit:     l.limit,
	}
	if ok {
		res.ID = s.ReservationID
		metrics.QuotaTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.QuotaTotal.WithLabelValues("exceeded").Inc()
	}
	return res, nil
}

func (l *Ledger) slot(r Reservation) Slot {
	return Slot{UserID: r.UserID, Day: r.Day, ReservationID: r.ID, Limit: r.Limit}
}

// Capture finalizes a successful check.
func (l *Ledger) Capture(ctx context.Context, r Reservation) error {
	if !r.counted() {
		return nil
	}
	if err := l.counter.Capture(ctx, l.slot(r)); err != nil {
		l.log.Error("quota capture failed", zap.String("reservation", r.ID), zap.Error(err))
		return err
	}
	return nil
}

// Release returns the unit of a failed check and reports the new remaining count.
func (l *Ledger) Release(ctx context.Context, r Reservation) (Reservation, error) {
	if !r.counted() {
		return r, nil
	}
	used, err := l.counter.Release(ctx, l.slot(r))
	if err != nil {
		l.log.Error("quota release failed", zap.String("reservation", r.ID), zap.Error(err))
		return r, err
	}
	metrics.QuotaTotal.WithLabelValues("released").Inc()
	r.Remaining = max(r.Limit-used, 0)
	return r, nil
}

// Status reads the allowance without consuming it.
func (l *Ledger) Status(ctx context.Context, u model.User) model.QuotaState {
	now := l.now()
	if u.IsPro(now) {
		return model.QuotaState{Unlimited: true, ProUntil: u.ProUntil, Limit: l.limit, Remaining: -1}
	}

	used, err := l.counter.Used(ctx, u.ID, l.day())
	if err != nil {
		l.log.Warn("quota status unavailable", zap.Int64("user_id", u.ID), zap.Error(err))
		return model.QuotaState{Limit: l.limit, Remaining: -1}
	}
	return model.QuotaState{Limit: l.limit, Remaining: max(l.limit-used, 0)}
}
