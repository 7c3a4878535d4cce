package cache

import (
	"context"
	"time"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmehdipour/innbot/internal/repository"
)

// SQLBackend adapts the company_cache repository. Rows are upserted and never
// purged; the TTL only matters to Cache.
type SQLBackend struct {
	repo repository.CacheRepository
}

func NewSQLBackend(repo repository.CacheRepository) *SQLBackend {
	return &SQLBackend{repo: repo}
}

var _ Backend = (*SQLBackend)(nil)

func (b *SQLBackend) Load(ctx context.Context, inn string) (*model.CacheEntry, error) {
	return b.repo.Get(ctx, inn)
}

func (b *SQLBackend) Store(ctx context.Context, e model.CacheEntry, _ time.Duration) error {
	return b.repo.Upsert(ctx, e)
}
