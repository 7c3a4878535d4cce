package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmoiron/sqlx"
)

type UsersRepository interface {
	Upsert(ctx context.Context, u model.User) (*model.User, error)
	Get(ctx context.Context, id int64) (*model.User, error)
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*model.User, error)
	SetPro(ctx context.Context, tx *sqlx.Tx, id int64, until time.Time) error
	SetFreeChecksLeft(ctx context.Context, tx *sqlx.Tx, id int64, left int) error
}

type UsersRepositoryImpl struct {
	db *sqlx.DB
}

func NewUsersRepository(db *sqlx.DB) *UsersRepositoryImpl {
	return &UsersRepositoryImpl{db: db}
}

var _ UsersRepository = (*UsersRepositoryImpl)(nil)

const userColumns = `id, username, first_name, last_name, plan, pro_until, free_checks_left, created_at, updated_at`

// Upsert creates the user on first contact and refreshes the profile names
// afterwards. Plan and counters are never touched here.
func (r *UsersRepositoryImpl) Upsert(ctx context.Context, u model.User) (*model.User, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, first_name, last_name, plan, free_checks_left, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'free', ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
		    username   = VALUES(username),
		    first_name = VALUES(first_name),
		    last_name  = VALUES(last_name),
		    updated_at = NOW()
	`, u.ID, u.Username, u.FirstName, u.LastName, u.FreeChecksLeft)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, u.ID)
}

// Get returns (nil, nil) for unknown users.
func (r *UsersRepositoryImpl) Get(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UsersRepositoryImpl) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*model.User, error) {
	var u model.User
	err := tx.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UsersRepositoryImpl) SetPro(ctx context.Context, tx *sqlx.Tx, id int64, until time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE users
		SET plan = 'pro', pro_until = ?, updated_at = NOW()
		WHERE id = ?
	`, until.UTC(), id)
	return err
}

func (r *UsersRepositoryImpl) SetFreeChecksLeft(ctx context.Context, tx *sqlx.Tx, id int64, left int) error {
	if left < 0 {
		left = 0
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE users SET free_checks_left = ?, updated_at = NOW() WHERE id = ?
	`, left, id)
	return err
}
