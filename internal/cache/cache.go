package cache

import (
	"context"
	"time"

	"github.com/jmehdipour/innbot/internal/metrics"
	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmehdipour/innbot/internal/normalize"
	"go.uber.org/zap"
)

// Backend persists entries. Load returns (nil, nil) when nothing is stored.
type Backend interface {
	Load(ctx context.Context, inn string) (*model.CacheEntry, error)
	Store(ctx context.Context, e model.CacheEntry, ttl time.Duration) error
}

// Cache serves provider results younger than ttl. Storage failures degrade to
// a miss on read and are dropped on write.
type Cache struct {
	backend Backend
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func New(backend Backend, ttl time.Duration, log *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{backend: backend, ttl: ttl, log: log, now: time.Now}
}

func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) Get(ctx context.Context, inn string) *model.CacheEntry {
	e, err := c.backend.Load(ctx, inn)
	if err != nil {
		metrics.CacheTotal.WithLabelValues("get", "error").Inc()
		c.log.Warn("cache read failed, treating as miss", zap.String("inn", inn), zap.Error(err))
		return nil
	}
	if e == nil {
		metrics.CacheTotal.WithLabelValues("get", "miss").Inc()
		return nil
	}
	if c.now().Sub(e.FetchedAt) > c.ttl {
		metrics.CacheTotal.WithLabelValues("get", "stale").Inc()
		return nil
	}

	if e.Record == nil {
		e.Record = normalize.Normalize(e.Payload)
	}
	metrics.CacheTotal.WithLabelValues("get", "hit").Inc()
	return e
}

// Put overwrites whatever is stored for e.INN. Callers only pass successful lookups.
func (c *Cache) Put(ctx context.Context, e model.CacheEntry) {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = c.now().UTC()
	}
	if e.Record == nil {
		e.Record = normalize.Normalize(e.Payload)
	}

	if err := c.backend.Store(ctx, e, c.ttl); err != nil {
		metrics.CacheTotal.WithLabelValues("put", "error").Inc()
		c.log.Warn("cache write failed", zap.String("inn", e.INN), zap.Error(err))
		return
	}
	metrics.CacheTotal.WithLabelValues("put", "ok").Inc()
}
