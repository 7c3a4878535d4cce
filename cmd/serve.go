package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/innbot/internal/app"
	"github.com/jmehdipour/innbot/internal/config"
	"github.com/jmehdipour/innbot/internal/db"
	httpSrv "github.com/jmehdipour/innbot/internal/http"
	"github.com/jmehdipour/innbot/internal/kafka"
	"github.com/jmehdipour/innbot/internal/logger"
	"github.com/jmehdipour/innbot/internal/service/queue"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server (and the in-process update pool)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level)
		defer func() { _ = log.Sync() }()

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		if chDB != nil {
			defer func() { _ = chDB.Close() }()
		} else {
			log.Info("clickhouse dsn empty, reports disabled")
		}

		b, err := app.NewBot(cfg, mysqlDB, chDB, redisClient, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		b.Start(ctx)

		var publisher queue.Publisher
		if cfg.Kafka.Enabled {
			producer := kafka.NewProducer(cfg.Kafka)
			defer func() { _ = producer.Close() }()
			publisher = producer
			log.Info("updates go to kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
		intake := queue.New(redisClient, cfg.Workers.DedupeWindow, publisher, b.Pool, log.Named("intake"))

		server := httpSrv.NewServer(cfg, mysqlDB, chDB, redisClient, intake, log.Named("http"))

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)

		// webhook is closed; finish what is queued
		b.Stop()
		log.Info("stopped")
		return nil
	},
}
