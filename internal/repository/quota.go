package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// QuotaRepository works on daily_quota rows inside a caller-owned transaction,
// except Used which is a plain read.
type QuotaRepository interface {
	UpsertDay(ctx context.Context, tx *sqlx.Tx, userID int64, day string) error
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, userID int64, day string) (used int, err error)
	Adjust(ctx context.Context, tx *sqlx.Tx, userID int64, day string, delta int) error
	Used(ctx context.Context, userID int64, day string) (int, error)
}

type quotaRepo struct {
	db *sqlx.DB
}

func NewQuotaRepository(db *sqlx.DB) QuotaRepository { return &quotaRepo{db: db} }

func (r *quotaRepo) UpsertDay(ctx context.Context, tx *sqlx.Tx, userID int64, day string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO daily_quota (user_id, day, used, updated_at)
		VALUES (?, ?, 0, NOW())
		ON DUPLICATE KEY UPDATE updated_at = updated_at
	`, userID, day)
	return err
}

func (r *quotaRepo) GetForUpdate(ctx context.Context, tx *sqlx.Tx, userID int64, day string) (int, error) {
	var used int
	err := tx.QueryRowxContext(ctx, `
		SELECT used
		FROM daily_quota
		WHERE user_id = ? AND day = ?
		FOR UPDATE
	`, userID, day).Scan(&used)
	return used, err
}

// Adjust never lets the counter go below zero.
func (r *quotaRepo) Adjust(ctx context.Context, tx *sqlx.Tx, userID int64, day string, delta int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE daily_quota
		SET used = GREATEST(CAST(used AS SIGNED) + ?, 0), updated_at = NOW()
		WHERE user_id = ? AND day = ?
	`, delta, userID, day)
	return err
}

func (r *quotaRepo) Used(ctx context.Context, userID int64, day string) (int, error) {
	var used int
	err := r.db.QueryRowxContext(ctx,
		`SELECT used FROM daily_quota WHERE user_id = ? AND day = ?`, userID, day,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return used, err
}
