package bot

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type State string

const (
	StateIdle          State = "idle"
	StateAwaitingTaxID State = "awaiting_tax_id"
)

const (
	defaultStateTTL = 10 * time.Minute
	stateKeyPrefix  = "innbot:chat:"
)

// StateStore keeps the per-chat conversation state. Anything unreadable is Idle.
type StateStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStateStore(rdb *redis.Client, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateStore{rdb: rdb, ttl: ttl}
}

func stateKey(chatID int64) string {
	return stateKeyPrefix + strconv.FormatInt(chatID, 10) + ":state"
}

func (s *StateStore) Get(ctx context.Context, chatID int64) State {
	v, err := s.rdb.Get(ctx, stateKey(chatID)).Result()
	if err != nil {
		return StateIdle
	}
	if State(v) == StateAwaitingTaxID {
		return StateAwaitingTaxID
	}
	return StateIdle
}

func (s *StateStore) Set(ctx context.Context, chatID int64, st State) error {
	if st == StateIdle {
		return s.rdb.Del(ctx, stateKey(chatID)).Err()
	}
	return s.rdb.Set(ctx, stateKey(chatID), string(st), s.ttl).Err()
}
