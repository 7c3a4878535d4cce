package repository

import (
	"context"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmoiron/sqlx"
)

// ChecksFilter narrows a report query. Zero values mean "any".
type ChecksFilter struct {
	UserID  int64
	INN     string
	Outcome model.CheckOutcome
	Limit   int
	Offset  int
}

// CHChecksRepository mirrors check-log rows into ClickHouse and reports on them.
type CHChecksRepository interface {
	CheckLogRepository
	List(ctx context.Context, f ChecksFilter) ([]model.CheckLog, error)
	CountByOutcome(ctx context.Context, f ChecksFilter) (map[model.CheckOutcome]uint64, error)
}

type chChecksRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHChecksRepository(ch *sqlx.DB) CHChecksRepository {
	return &chChecksRepository{ch: ch}
}

func (f ChecksFilter) where() (string, []any) {
	q := " WHERE 1 = 1"
	var args []any
	if f.UserID > 0 {
		q += " AND user_id = ?"
		args = append(args, f.UserID)
	}
	if f.INN != "" {
		q += " AND inn = ?"
		args = append(args, f.INN)
	}
	if f.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, f.Outcome.String())
	}
	return q, args
}

func (r *chChecksRepository) List(ctx context.Context, f ChecksFilter) ([]model.CheckLog, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where, args := f.where()
	q := `
		SELECT id, user_id, inn, provider, outcome, summary, created_at
		FROM innbot.check_log` + where + `
		ORDER BY created_at DESC LIMIT ? OFFSET ?
	`
	args = append(args, f.Limit, f.Offset)

	var rows []model.CheckLog
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *chChecksRepository) CountByOutcome(ctx context.Context, f ChecksFilter) (map[model.CheckOutcome]uint64, error) {
	where, args := f.where()

	var rows []struct {
		Outcome string `db:"outcome"`
		N       uint64 `db:"n"`
	}
	q := `SELECT outcome, count() AS n FROM innbot.check_log` + where + ` GROUP BY outcome`
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}

	out := make(map[model.CheckOutcome]uint64, len(rows))
	for _, rw := range rows {
		out[model.CheckOutcome(rw.Outcome)] = rw.N
	}
	return out, nil
}

// InsertBatch sends rows as one native batch (prepare + exec per row + commit).
func (r *chChecksRepository) InsertBatch(ctx context.Context, rows []model.CheckLog) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO innbot.check_log (id, user_id, inn, provider, outcome, summary, created_at)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rw := range rows {
		if _, err := stmt.ExecContext(ctx, rw.ID, rw.UserID, rw.INN, rw.Provider, rw.Outcome.String(), rw.Summary, rw.CreatedAt.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}
