package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmoiron/sqlx"
)

type LedgerRepository interface {
	ExistsByIdem(ctx context.Context, tx *sqlx.Tx, idem string) (bool, error)
	Insert(ctx context.Context, tx *sqlx.Tx, row LedgerRow) error
	InsertBatch(ctx context.Context, tx *sqlx.Tx, rows []LedgerRow) error
}

type ledgerRepo struct{}

func NewLedgerRepository() LedgerRepository { return &ledgerRepo{} }

// LedgerRow is one quota_ledger entry. Amount is in checks for reserve/capture/release
// and in days for grant.
type LedgerRow struct {
	UserID        int64
	Op            model.LedgerOp
	Amount        int
	Day           string
	ReservationID string
	Idem          string // defaults to <op>-<reservation id>
}

func (row LedgerRow) idem() string {
	if row.Idem != "" {
		return row.Idem
	}
	return row.Op.String() + "-" + row.ReservationID
}

// ExistsByIdem checks if a ledger row with the given idempotency key already exists.
func (r *ledgerRepo) ExistsByIdem(ctx context.Context, tx *sqlx.Tx, idem string) (bool, error) {
	var one int
	err := tx.QueryRowxContext(ctx,
		`SELECT 1 FROM quota_ledger WHERE idempotency_key = ? LIMIT 1`, idem,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ledgerRepo) Insert(ctx context.Context, tx *sqlx.Tx, row LedgerRow) error {
	return r.InsertBatch(ctx, tx, []LedgerRow{row})
}

// InsertBatch writes all rows in one statement; replays of an idempotency key are no-ops.
func (r *ledgerRepo) InsertBatch(ctx context.Context, tx *sqlx.Tx, rows []LedgerRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(rows)*6)

	sb.WriteString(`INSERT INTO quota_ledger (user_id, op, amount, day, reservation_id, idempotency_key) VALUES `)
	for i, rw := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, rw.UserID, rw.Op.String(), rw.Amount, rw.Day, rw.ReservationID, rw.idem())
	}
	sb.WriteString(` ON DUPLICATE KEY UPDATE id = id`)

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}
