package worker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmehdipour/innbot/internal/kafka"
	"github.com/jmehdipour/innbot/internal/model"
	"go.uber.org/zap"
)

// MessageSource is the consumer side of the updates topic.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// UpdatesKafka feeds envelopes from the updates topic into the pool. One partition's
// messages finish out of order across lanes, so only the highest offset below which
// everything is done gets committed (at-least-once).
type UpdatesKafka struct {
	Source MessageSource
	Pool   *Pool
	Log    *zap.Logger

	offsets *offsetTracker
}

func NewUpdatesKafka(source MessageSource, pool *Pool, log *zap.Logger) *UpdatesKafka {
	if log == nil {
		log = zap.NewNop()
	}
	return &UpdatesKafka{Source: source, Pool: pool, Log: log, offsets: newOffsetTracker()}
}

type partitionKey struct {
	topic     string
	partition int
}

// partitionOffsets keeps fetched-but-unfinished offsets in fetch order.
type partitionOffsets struct {
	pending []int64
	done    map[int64]kafka.Message
}

type offsetTracker struct {
	mu    sync.Mutex
	parts map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[partitionKey]*partitionOffsets)}
}

func (t *offsetTracker) part(m kafka.Message) *partitionOffsets {
	k := partitionKey{topic: m.Topic, partition: m.Partition}
	p, ok := t.parts[k]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]kafka.Message)}
		t.parts[k] = p
	}
	return p
}

// start registers m as in flight. Messages of one partition arrive in offset order.
func (t *offsetTracker) start(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.part(m)
	p.pending = append(p.pending, m.Offset)
}

// finish marks m done and returns the message to commit, if the low-water mark moved.
func (t *offsetTracker) finish(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.part(m)
	p.done[m.Offset] = m

	var (
		last  kafka.Message
		moved bool
	)
	for len(p.pending) > 0 {
		head, ok := p.done[p.pending[0]]
		if !ok {
			break
		}
		delete(p.done, p.pending[0])
		p.pending = p.pending[1:]
		last, moved = head, true
	}
	return last, moved
}

// Run blocks until ctx is cancelled.
func (w *UpdatesKafka) Run(ctx context.Context) error {
	for {
		m, err := w.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.Log.Warn("kafka fetch failed", zap.Error(err))
			time.Sleep(200 * time.Millisecond)
			continue
		}

		if err := w.dispatch(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.Log.Error("submit update failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (w *UpdatesKafka) dispatch(ctx context.Context, m kafka.Message) error {
	w.offsets.start(m)
	commit := func() {
		upTo, ok := w.offsets.finish(m)
		if !ok {
			return
		}
		if err := w.Source.Commit(context.WithoutCancel(ctx), upTo); err != nil {
			w.Log.Warn("kafka commit failed", zap.Int64("offset", upTo.Offset), zap.Error(err))
		}
	}

	var env model.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// poison -> commit, skip
		w.Log.Warn("bad envelope json", zap.Int64("offset", m.Offset), zap.Error(err))
		commit()
		return nil
	}

	var upd tgbotapi.Update
	if err := json.Unmarshal(env.Update, &upd); err != nil {
		w.Log.Warn("bad update json", zap.Int("update_id", env.UpdateID), zap.Error(err))
		commit()
		return nil
	}

	return w.Pool.Submit(ctx, env.ChatID, upd, commit)
}
