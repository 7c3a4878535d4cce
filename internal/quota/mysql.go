package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmehdipour/innbot/internal/repository"
	"github.com/jmoiron/sqlx"
)

// SQLCounter locks the daily_quota row for each change and appends to quota_ledger
// in the same transaction. users.free_checks_left mirrors the remaining count.
type SQLCounter struct {
	db     *sqlx.DB
	quota  repository.QuotaRepository
	ledger repository.LedgerRepository
	users  repository.UsersRepository

	// lock conflicts are retried this many times in total, retryWait apart
	attempts  uint
	retryWait time.Duration
}

func NewSQLCounter(
	db *sqlx.DB,
	quotaRepo repository.QuotaRepository,
	ledgerRepo repository.LedgerRepository,
	usersRepo repository.UsersRepository,
) *SQLCounter {
	return &SQLCounter{
		db:        db,
		quota:     quotaRepo,
		ledger:    ledgerRepo,
		users:     usersRepo,
		attempts:  3,
		retryWait: 20 * time.Millisecond,
	}
}

// lockConflict reports InnoDB deadlocks (1213) and lock wait timeouts (1205).
func lockConflict(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && (me.Number == 1213 || me.Number == 1205)
}

// withRetry reruns op in a fresh transaction while it loses lock races.
func withRetry[T any](ctx context.Context, c *SQLCounter, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !lockConflict(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryWait)),
		backoff.WithMaxTries(c.attempts),
	)
}

type reserved struct {
	used int
	ok   bool
}

func (c *SQLCounter) Reserve(ctx context.Context, s Slot) (int, bool, error) {
	r, err := withRetry(ctx, c, func() (reserved, error) {
		used, ok, err := c.reserveOnce(ctx, s)
		return reserved{used: used, ok: ok}, err
	})
	if err != nil {
		return 0, false, err
	}
	return r.used, r.ok, nil
}

var _ Counter = (*SQLCounter)(nil)

func (c *SQLCounter) reserveOnce(ctx context.Context, s Slot) (int, bool, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := c.quota.UpsertDay(ctx, tx, s.UserID, s.Day); err != nil {
		return 0, false, fmt.Errorf("quota upsert: %w", err)
	}

	used, err := c.quota.GetForUpdate(ctx, tx, s.UserID, s.Day)
	if err != nil {
		return 0, false, fmt.Errorf("quota get for update: %w", err)
	}

	if used >= s.Limit {
		return used, false, tx.Commit()
	}

	if err := c.quota.Adjust(ctx, tx, s.UserID, s.Day, +1); err != nil {
		return 0, false, fmt.Errorf("quota reserve adjust: %w", err)
	}
	used++

	if err := c.ledger.Insert(ctx, tx, repository.LedgerRow{
		UserID: s.UserID, Op: model.LedgerReserve, Amount: 1, Day: s.Day, ReservationID: s.ReservationID,
	}); err != nil {
		return 0, false, fmt.Errorf("ledger reserve: %w", err)
	}

	if err := c.users.SetFreeChecksLeft(ctx, tx, s.UserID, s.Limit-used); err != nil {
		return 0, false, fmt.Errorf("users free checks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return used, true, nil
}

// settled reports whether the reservation was already captured or released.
func (c *SQLCounter) settled(ctx context.Context, tx *sqlx.Tx, id string) (bool, error) {
	for _, op := range []model.LedgerOp{model.LedgerCapture, model.LedgerRelease} {
		exists, err := c.ledger.ExistsByIdem(ctx, tx, op.String()+"-"+id)
		if err != nil || exists {
			return exists, err
		}
	}
	return false, nil
}

func (c *SQLCounter) Capture(ctx context.Context, s Slot) error {
	_, err := withRetry(ctx, c, func() (struct{}, error) {
		return struct{}{}, c.captureOnce(ctx, s)
	})
	return err
}

func (c *SQLCounter) captureOnce(ctx context.Context, s Slot) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	done, err := c.settled(ctx, tx, s.ReservationID)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if done {
		return tx.Commit()
	}

	if err := c.ledger.Insert(ctx, tx, repository.LedgerRow{
		UserID: s.UserID, Op: model.LedgerCapture, Amount: 1, Day: s.Day, ReservationID: s.ReservationID,
	}); err != nil {
		return fmt.Errorf("ledger capture: %w", err)
	}
	return tx.Commit()
}

func (c *SQLCounter) Release(ctx context.Context, s Slot) (int, error) {
	return withRetry(ctx, c, func() (int, error) {
		return c.releaseOnce(ctx, s)
	})
}

func (c *SQLCounter) releaseOnce(ctx context.Context, s Slot) (int, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := c.quota.UpsertDay(ctx, tx, s.UserID, s.Day); err != nil {
		return 0, fmt.Errorf("quota upsert: %w", err)
	}
	used, err := c.quota.GetForUpdate(ctx, tx, s.UserID, s.Day)
	if err != nil {
		return 0, fmt.Errorf("quota get for update: %w", err)
	}

	done, err := c.settled(ctx, tx, s.ReservationID)
	if err != nil {
		return 0, fmt.Errorf("ledger lookup: %w", err)
	}
	if done {
		return used, tx.Commit()
	}

	if err := c.quota.Adjust(ctx, tx, s.UserID, s.Day, -1); err != nil {
		return 0, fmt.Errorf("quota release adjust: %w", err)
	}
	used = max(used-1, 0)

	if err := c.ledger.Insert(ctx, tx, repository.LedgerRow{
		UserID: s.UserID, Op: model.LedgerRelease, Amount: 1, Day: s.Day, ReservationID: s.ReservationID,
	}); err != nil {
		return 0, fmt.Errorf("ledger release: %w", err)
	}

	if err := c.users.SetFreeChecksLeft(ctx, tx, s.UserID, s.Limit-used); err != nil {
		return 0, fmt.Errorf("users free checks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return used, nil
}

func (c *SQLCounter) Used(ctx context.Context, userID int64, day string) (int, error) {
	return c.quota.Used(ctx, userID, day)
}
