package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmehdipour/innbot/internal/normalize"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `{"name":"ООО Ромашка","status":"ACTIVE"}`

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis, *time.Time) {
	mr, client := setupTestRedis(t)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	c := New(NewRedisBackend(client), ttl, nil)
	c.now = func() time.Time { return now }
	return c, mr, &now
}

func TestCacheRoundTrip(t *testing.T) {
	c, _, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	assert.Nil(t, c.Get(ctx, "7707083893"))

	c.Put(ctx, model.CacheEntry{INN: "7707083893", Provider: "dadata", Payload: []byte(payload)})

	e := c.Get(ctx, "7707083893")
	require.NotNil(t, e)
	assert.Equal(t, "dadata", e.Provider)
	assert.JSONEq(t, payload, string(e.Payload))
	require.NotNil(t, e.Record)
	assert.Equal(t, *normalize.Normalize([]byte(payload)), *e.Record)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c, _, now := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Put(ctx, model.CacheEntry{INN: "7707083893", Provider: "dadata", Payload: []byte(payload)})

	*now = now.Add(59 * time.Minute)
	assert.NotNil(t, c.Get(ctx, "7707083893"))

	*now = now.Add(2 * time.Minute)
	assert.Nil(t, c.Get(ctx, "7707083893"), "stale entry is not served")
}

func TestCacheKeyPhysicallyExpires(t *testing.T) {
	c, mr, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Put(ctx, model.CacheEntry{INN: "7707083893", Payload: []byte(payload)})
	assert.Equal(t, 2*time.Hour, mr.TTL(redisKeyPrefix+"7707083893"))

	mr.FastForward(3 * time.Hour)
	assert.False(t, mr.Exists(redisKeyPrefix+"7707083893"))
}

func TestCachePutOverwrites(t *testing.T) {
	c, _, now := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Put(ctx, model.CacheEntry{INN: "7707083893", Provider: "checko", Payload: []byte(`{"name":"old"}`)})
	*now = now.Add(time.Minute)
	c.Put(ctx, model.CacheEntry{INN: "7707083893", Provider: "dadata", Payload: []byte(`{"name":"new"}`)})

	e := c.Get(ctx, "7707083893")
	require.NotNil(t, e)
	assert.Equal(t, "dadata", e.Provider)
	assert.Equal(t, "new", e.Record.Name)
	assert.Equal(t, *now, e.FetchedAt)
}

func TestCacheBackendFailureIsMiss(t *testing.T) {
	c, mr, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Put(ctx, model.CacheEntry{INN: "7707083893", Payload: []byte(payload)})
	mr.Close()

	assert.Nil(t, c.Get(ctx, "7707083893"))
	assert.NotPanics(t, func() {
		c.Put(ctx, model.CacheEntry{INN: "7707083893", Payload: []byte(payload)})
	})
}

func TestCacheCorruptValueIsMiss(t *testing.T) {
	c, mr, _ := newTestCache(t, time.Hour)
	require.NoError(t, mr.Set(redisKeyPrefix+"7707083893", "{not json"))

	assert.Nil(t, c.Get(context.Background(), "7707083893"))
}

type memRepo struct {
	rows map[string]model.CacheEntry
}

func (m *memRepo) Get(_ context.Context, inn string) (*model.CacheEntry, error) {
	e, ok := m.rows[inn]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *memRepo) Upsert(_ context.Context, e model.CacheEntry) error {
	m.rows[e.INN] = e
	return nil
}

func TestSQLBackendKeepsStaleRowsButHidesThem(t *testing.T) {
	repo := &memRepo{rows: map[string]model.CacheEntry{}}
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	c := New(NewSQLBackend(repo), time.Hour, nil)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Put(ctx, model.CacheEntry{INN: "500100732259", Provider: "checko", Payload: []byte(payload)})
	require.NotNil(t, c.Get(ctx, "500100732259"))

	now = now.Add(25 * time.Hour)
	assert.Nil(t, c.Get(ctx, "500100732259"))
	assert.Contains(t, repo.rows, "500100732259")
}
