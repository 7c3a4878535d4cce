package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/innbot/internal/app"
	"github.com/jmehdipour/innbot/internal/config"
	"github.com/jmehdipour/innbot/internal/db"
	"github.com/jmehdipour/innbot/internal/kafka"
	"github.com/jmehdipour/innbot/internal/logger"
	"github.com/jmehdipour/innbot/internal/metrics"
	"github.com/jmehdipour/innbot/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var updatesCmd = &cobra.Command{
	Use:   "updates",
	Short: "Consume Telegram updates from kafka and handle them",
	RunE:  runUpdates,
}

func runUpdates(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Kafka.Enabled {
		return fmt.Errorf("kafka is disabled; updates are handled inside `serve`")
	}

	log := logger.Init(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) stores
	dbx, err := db.NewMySQLConnection(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	rdb, err := db.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	if chDB != nil {
		defer func() { _ = chDB.Close() }()
	}

	// 3) bot pipeline
	b, err := app.NewBot(cfg, dbx, chDB, rdb, log)
	if err != nil {
		return err
	}

	// 4) kafka consumer
	consumer := kafka.NewConsumer(cfg.Kafka)
	defer consumer.Close()

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b.Start(ctx)
	defer b.Stop()

	log.Info("updates worker started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.GroupID),
		zap.Int("lanes", cfg.Workers.Lanes))

	return worker.NewUpdatesKafka(consumer, b.Pool, log.Named("updates")).Run(ctx)
}
