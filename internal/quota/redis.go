package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyTTL = 48 * time.Hour

// KEYS[1] counter, KEYS[2] open reservations; ARGV limit, ttl seconds, reservation id
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
if used >= tonumber(ARGV[1]) then
  return {0, used}
end
used = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('EXPIRE', KEYS[2], ARGV[2])
return {1, used}
`)

// KEYS[1] counter, KEYS[2] open reservations; ARGV reservation id
var releaseScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
if redis.call('SREM', KEYS[2], ARGV[1]) == 0 then
  return used
end
if used > 0 then
  used = redis.call('DECR', KEYS[1])
end
return used
`)

// RedisCounter keeps one counter per user per day plus the set of reservations
// that are still open, so release is idempotent.
type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

var _ Counter = (*RedisCounter)(nil)

func counterKey(userID int64, day string) string {
	return fmt.Sprintf("innbot:quota:%d:%s", userID, day)
}

func openKey(userID int64, day string) string {
	return counterKey(userID, day) + ":open"
}

func (c *RedisCounter) Reserve(ctx context.Context, s Slot) (int, bool, error) {
	res, err := reserveScript.Run(ctx, c.rdb,
		[]string{counterKey(s.UserID, s.Day), openKey(s.UserID, s.Day)},
		s.Limit, int(keyTTL.Seconds()), s.ReservationID,
	).Int64Slice()
	if err != nil {
		return 0, false, err
	}
	if len(res) != 2 {
		return 0, false, errors.New("quota: unexpected script reply")
	}
	return int(res[1]), res[0] == 1, nil
}

func (c *RedisCounter) Capture(ctx context.Context, s Slot) error {
	return c.rdb.SRem(ctx, openKey(s.UserID, s.Day), s.ReservationID).Err()
}

func (c *RedisCounter) Release(ctx context.Context, s Slot) (int, error) {
	used, err := releaseScript.Run(ctx, c.rdb,
		[]string{counterKey(s.UserID, s.Day), openKey(s.UserID, s.Day)},
		s.ReservationID,
	).Int()
	if err != nil {
		return 0, err
	}
	return used, nil
}

func (c *RedisCounter) Used(ctx context.Context, userID int64, day string) (int, error) {
	v, err := c.rdb.Get(ctx, counterKey(userID, day)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}
