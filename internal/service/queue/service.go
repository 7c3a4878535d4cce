package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmehdipour/innbot/internal/bot"
	"github.com/jmehdipour/innbot/internal/metrics"
	"github.com/jmehdipour/innbot/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrDuplicate marks an update id that was already accepted within the dedupe window.
var ErrDuplicate = errors.New("duplicate update")

const dedupeKeyPrefix = "innbot:update:"

// Publisher puts envelopes on the updates topic.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Submitter runs updates in-process.
type Submitter interface {
	Submit(ctx context.Context, chatID int64, upd tgbotapi.Update, done func()) error
}

// Service accepts webhook updates exactly once per update id and hands them to
// kafka when a publisher is set, otherwise to the local pool.
type Service struct {
	rdb       *redis.Client
	dedupeTTL time.Duration
	publisher Publisher
	local     Submitter
	log       *zap.Logger
	now       func() time.Time

	// Budget bounds each hand-off (publish, then local submit) so the webhook can ack.
	Budget time.Duration
}

// New builds the intake. publisher may be nil; local may be nil only when publisher is set.
func New(rdb *redis.Client, dedupeTTL time.Duration, publisher Publisher, local Submitter, log *zap.Logger) *Service {
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		rdb:       rdb,
		dedupeTTL: dedupeTTL,
		publisher: publisher,
		local:     local,
		log:       log,
		now:       time.Now,
		Budget:    time.Second,
	}
}

// firstSeen claims the update id; a failing redis lets the update through.
func (s *Service) firstSeen(ctx context.Context, updateID int) bool {
	if s.rdb == nil {
		return true
	}
	ok, err := s.rdb.SetNX(ctx, dedupeKeyPrefix+strconv.Itoa(updateID), 1, s.dedupeTTL).Result()
	if err != nil {
		s.log.Warn("update dedupe unavailable, accepting", zap.Int("update_id", updateID), zap.Error(err))
		return true
	}
	return ok
}

// Enqueue accepts one update. It returns ErrDuplicate for replays.
func (s *Service) Enqueue(ctx context.Context, upd tgbotapi.Update) error {
	kind := "other"
	switch {
	case upd.Message != nil:
		kind = "message"
	case upd.CallbackQuery != nil:
		kind = "callback"
	}

	if !s.firstSeen(ctx, upd.UpdateID) {
		metrics.UpdatesTotal.WithLabelValues("duplicate", kind).Inc()
		return ErrDuplicate
	}
	metrics.UpdatesTotal.WithLabelValues("accepted", kind).Inc()

	chatID := bot.ChatID(upd)

	if s.publisher != nil {
		pctx, cancel := context.WithTimeout(ctx, s.Budget)
		err := s.publish(pctx, chatID, upd)
		cancel()
		if err == nil {
			return nil
		}
		if s.local == nil {
			s.drop(upd, kind, err)
			return err
		}
		s.log.Error("publish update failed, handling locally", zap.Int("update_id", upd.UpdateID), zap.Error(err))
	}

	// a full lane must not hold the webhook response
	lctx, cancel := context.WithTimeout(ctx, s.Budget)
	defer cancel()
	if err := s.local.Submit(lctx, chatID, upd, nil); err != nil {
		err = fmt.Errorf("submit update %d: %w", upd.UpdateID, err)
		s.drop(upd, kind, err)
		return err
	}
	return nil
}

func (s *Service) drop(upd tgbotapi.Update, kind string, err error) {
	metrics.UpdatesTotal.WithLabelValues("dropped", kind).Inc()
	s.log.Error("update dropped", zap.Int("update_id", upd.UpdateID), zap.Int64("chat_id", bot.ChatID(upd)), zap.Error(err))
}

func (s *Service) publish(ctx context.Context, chatID int64, upd tgbotapi.Update) error {
	raw, err := json.Marshal(upd)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	payload, err := json.Marshal(model.Envelope{
		UpdateID:   upd.UpdateID,
		ChatID:     chatID,
		ReceivedAt: s.now().UTC(),
		Update:     raw,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := s.publisher.Publish(ctx, []byte(strconv.FormatInt(chatID, 10)), payload); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}
