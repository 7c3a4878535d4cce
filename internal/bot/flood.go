package bot

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// FloodGuard is a fixed-window per-user message limit. A failing redis lets traffic through.
type FloodGuard struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewFloodGuard allows perMinute updates per user per minute; <= 0 disables the guard.
func NewFloodGuard(rdb *redis.Client, perMinute int) *FloodGuard {
	return &FloodGuard{
		rdb:    rdb,
		limit:  perMinute,
		window: time.Minute,
		prefix: "rl:user:",
		now:    time.Now,
	}
}

func (g *FloodGuard) Allow(ctx context.Context, userID int64) bool {
	if g == nil || g.limit <= 0 || g.rdb == nil {
		return true
	}

	// fixed-window key: rl:user:{id}:{window start}
	slot := g.now().UnixNano() / int64(g.window)
	key := g.prefix + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(slot, 10)

	pipe := g.rdb.Pipeline()
	cnt := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, g.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return true
	}
	return cnt.Val() <= int64(g.limit)
}
