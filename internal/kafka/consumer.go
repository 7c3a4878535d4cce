package kafka

import (
	"context"
	"time"

	"github.com/jmehdipour/innbot/internal/config"
	"github.com/segmentio/kafka-go"
)

// UpdatesTopic carries one envelope per accepted Telegram update, keyed by chat id.
const UpdatesTopic = "tg.updates"

type Message = kafka.Message

// Consumer is a thin wrapper around a group Reader with manual commits.
type Consumer struct {
	r *kafka.Reader
}

func topicOf(cfg config.KafkaConfig) string {
	if cfg.Topic == "" {
		return UpdatesTopic
	}
	return cfg.Topic
}

func NewConsumer(cfg config.KafkaConfig) *Consumer {
	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = 1 // updates are small; don't wait to fill a batch
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	ci := time.Duration(cfg.CommitInterval) * time.Millisecond
	if ci <= 0 {
		ci = time.Second
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "innbot-updates"
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        groupID,
		Topic:          topicOf(cfg),
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		CommitInterval: ci,
		MaxWait:        50 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{r: r}
}

func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

func (c *Consumer) Commit(ctx context.Context, m Message) error {
	return c.r.CommitMessages(ctx, m)
}

func (c *Consumer) Close() error { return c.r.Close() }
