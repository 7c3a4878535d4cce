package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmoiron/sqlx"
)

// CheckLogRepository appends to check_log. Rows are never updated.
type CheckLogRepository interface {
	InsertBatch(ctx context.Context, rows []model.CheckLog) error
}

type CheckLogRepositoryImpl struct {
	db *sqlx.DB
}

func NewCheckLogRepository(db *sqlx.DB) *CheckLogRepositoryImpl {
	return &CheckLogRepositoryImpl{db: db}
}

var _ CheckLogRepository = (*CheckLogRepositoryImpl)(nil)

// InsertBatch uses a single multi-row statement; a replayed id is ignored.
func (r *CheckLogRepositoryImpl) InsertBatch(ctx context.Context, rows []model.CheckLog) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	args := make([]any, 0, len(rows)*7)

	sb.WriteString(`INSERT INTO check_log (id, user_id, inn, provider, outcome, summary, created_at) VALUES `)
	for i, rw := range rows {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, rw.ID, rw.UserID, rw.INN, rw.Provider, rw.Outcome.String(), rw.Summary, rw.CreatedAt.UTC())
	}
	sb.WriteString(` ON DUPLICATE KEY UPDATE id = id`)

	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// CheckLogFanOut writes every batch to all targets. The first target is the
// primary store; the rest are mirrors.
type CheckLogFanOut []CheckLogRepository

func (f CheckLogFanOut) InsertBatch(ctx context.Context, rows []model.CheckLog) error {
	var errs []error
	for _, t := range f {
		if t == nil {
			continue
		}
		if err := t.InsertBatch(ctx, rows); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
