package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmoiron/sqlx"
)

// CacheRepository stores the last provider answer per tax id in company_cache.
// Stale rows are left in place; freshness is decided by the reader.
type CacheRepository interface {
	Get(ctx context.Context, inn string) (*model.CacheEntry, error)
	Upsert(ctx context.Context, e model.CacheEntry) error
}

type CacheRepositoryImpl struct {
	db *sqlx.DB
}

func NewCacheRepository(db *sqlx.DB) *CacheRepositoryImpl {
	return &CacheRepositoryImpl{db: db}
}

var _ CacheRepository = (*CacheRepositoryImpl)(nil)

type cacheRow struct {
	INN       string         `db:"inn"`
	Provider  string         `db:"provider"`
	Payload   []byte         `db:"payload"`
	Record    sql.NullString `db:"record"`
	FetchedAt time.Time      `db:"fetched_at"`
}

func (r *CacheRepositoryImpl) Get(ctx context.Context, inn string) (*model.CacheEntry, error) {
	var row cacheRow
	err := r.db.GetContext(ctx, &row, `
		SELECT inn, provider, payload, record, fetched_at
		FROM company_cache
		WHERE inn = ?
	`, inn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e := &model.CacheEntry{
		INN:       row.INN,
		Provider:  row.Provider,
		Payload:   row.Payload,
		FetchedAt: row.FetchedAt,
	}
	if row.Record.Valid && row.Record.String != "" {
		var rec model.CompanyRecord
		if err := json.Unmarshal([]byte(row.Record.String), &rec); err == nil {
			e.Record = &rec
		}
	}
	return e, nil
}

func (r *CacheRepositoryImpl) Upsert(ctx context.Context, e model.CacheEntry) error {
	var record any
	if e.Record != nil {
		raw, err := json.Marshal(e.Record)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		record = string(raw)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO company_cache (inn, provider, payload, record, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		    provider   = VALUES(provider),
		    payload    = VALUES(payload),
		    record     = VALUES(record),
		    fetched_at = VALUES(fetched_at)
	`, e.INN, e.Provider, []byte(e.Payload), record, e.FetchedAt.UTC())
	return err
}
