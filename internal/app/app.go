package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmehdipour/innbot/internal/bot"
	"github.com/jmehdipour/innbot/internal/cache"
	"github.com/jmehdipour/innbot/internal/config"
	"github.com/jmehdipour/innbot/internal/normalize"
	"github.com/jmehdipour/innbot/internal/provider"
	"github.com/jmehdipour/innbot/internal/quota"
	"github.com/jmehdipour/innbot/internal/repository"
	"github.com/jmehdipour/innbot/internal/service/lookup"
	"github.com/jmehdipour/innbot/internal/summary"
	"github.com/jmehdipour/innbot/internal/worker"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bot is the update-processing side shared by `serve` and `worker updates`.
type Bot struct {
	API     *tgbotapi.BotAPI
	Handler *bot.Handler
	Pool    *worker.Pool
	Checks  *worker.CheckLogWriter

	stopChecks context.CancelFunc
	checksDone chan struct{}
}

// NewBotAPI connects to the Bot API (or a local Bot API server when api_endpoint is set).
func NewBotAPI(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram token is not set")
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
}

// Providers builds the enabled lookup providers in config order.
func Providers(cfg config.Config, log *zap.Logger) ([]provider.Provider, error) {
	var provs []provider.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		o := provider.Options{
			Name:          pc.Name,
			BaseURL:       pc.BaseURL,
			APIKey:        pc.APIKey,
			Timeout:       time.Duration(pc.TimeoutMs) * time.Millisecond,
			RPS:           pc.RPS,
			FailThreshold: pc.Breaker.FailThreshold,
			OpenFor:       time.Duration(pc.Breaker.OpenForMs) * time.Millisecond,
			Retry: provider.RetryPolicy{
				MaxAttempts:     cfg.Dispatcher.Retry.MaxAttempts,
				InitialInterval: cfg.Dispatcher.Retry.InitialInterval,
				MaxInterval:     cfg.Dispatcher.Retry.MaxInterval,
			},
		}
		switch strings.ToLower(pc.Kind) {
		case "dadata":
			provs = append(provs, provider.NewDaData(o))
		case "checko":
			provs = append(provs, provider.NewChecko(o))
		default:
			return nil, fmt.Errorf("provider %q: unknown kind %q", pc.Name, pc.Kind)
		}
		if strings.TrimSpace(pc.APIKey) == "" {
			log.Warn("provider has no api key", zap.String("provider", pc.Name))
		}
	}
	return provs, nil
}

// Lookup assembles quota, cache, providers and summaries into the check pipeline.
func Lookup(cfg config.Config, mysqlDB *sqlx.DB, rdb *redis.Client, checks lookup.CheckRecorder, log *zap.Logger) (*lookup.Service, error) {
	usersRepo := repository.NewUsersRepository(mysqlDB)

	var counter quota.Counter
	switch strings.ToLower(cfg.Quota.Backend) {
	case "redis":
		counter = quota.NewRedisCounter(rdb)
	case "", "mysql":
		counter = quota.NewSQLCounter(mysqlDB, repository.NewQuotaRepository(mysqlDB), repository.NewLedgerRepository(), usersRepo)
	default:
		return nil, fmt.Errorf("unknown quota backend %q", cfg.Quota.Backend)
	}
	ledger := quota.New(counter, quota.Options{
		DailyLimit: cfg.Quota.DailyFreeLimit,
		FailOpen:   cfg.Quota.FailOpen,
		Location:   quota.LoadLocation(cfg.Quota.Timezone),
	}, log.Named("quota"))

	var backend cache.Backend
	switch strings.ToLower(cfg.Cache.Backend) {
	case "redis":
		backend = cache.NewRedisBackend(rdb)
	case "", "mysql":
		backend = cache.NewSQLBackend(repository.NewCacheRepository(mysqlDB))
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	provs, err := Providers(cfg, log)
	if err != nil {
		return nil, err
	}
	strategy, ok := provider.ParseStrategy(cfg.Dispatcher.Strategy)
	if !ok {
		log.Warn("unknown dispatch strategy, using sequential", zap.String("strategy", cfg.Dispatcher.Strategy))
	}
	disp := provider.NewDispatcher(provs, strategy, normalize.Recognized)

	svc := lookup.New(
		ledger,
		cache.New(backend, cfg.Cache.TTL, log.Named("cache")),
		disp,
		summary.New(cfg.Summary),
		checks,
		log.Named("lookup"),
	)
	if cfg.Workers.UpdateTimeout > 0 {
		svc.FetchTimeout = cfg.Workers.UpdateTimeout
	}
	return svc, nil
}

// NewBot wires the handler, its lane pool and the check-log writer. Call Start before
// submitting updates and Stop on shutdown.
// chDB may be nil; when set, check rows are mirrored into ClickHouse for reports.
func NewBot(cfg config.Config, mysqlDB, chDB *sqlx.DB, rdb *redis.Client, log *zap.Logger) (*Bot, error) {
	api, err := NewBotAPI(cfg.Telegram)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	sinks := repository.CheckLogFanOut{repository.NewCheckLogRepository(mysqlDB)}
	if chDB != nil {
		sinks = append(sinks, repository.NewCHChecksRepository(chDB))
	}
	checks := worker.NewCheckLogWriter(
		sinks,
		cfg.Workers.CheckLogBatch,
		cfg.Workers.CheckLogFlush,
		log.Named("checklog"),
	)

	svc, err := Lookup(cfg, mysqlDB, rdb, checks, log)
	if err != nil {
		return nil, err
	}

	h := bot.NewHandler(
		api,
		repository.NewUsersRepository(mysqlDB),
		svc,
		bot.NewStateStore(rdb, cfg.Workers.ChatStateTTL),
		bot.NewFloodGuard(rdb, cfg.Workers.FloodPerMinute),
		log.Named("bot"),
	)

	pool := worker.NewPool(h, cfg.Workers.Lanes, cfg.Workers.LaneBuffer, cfg.Workers.UpdateTimeout, log.Named("pool"))

	log.Info("bot ready",
		zap.String("username", api.Self.UserName),
		zap.String("strategy", cfg.Dispatcher.Strategy),
		zap.String("quota_backend", cfg.Quota.Backend),
		zap.String("cache_backend", cfg.Cache.Backend))

	return &Bot{API: api, Handler: h, Pool: pool, Checks: checks}, nil
}

// Start launches the lanes and the check-log writer.
func (b *Bot) Start(ctx context.Context) {
	b.Pool.Start(ctx)

	var checksCtx context.Context
	checksCtx, b.stopChecks = context.WithCancel(context.WithoutCancel(ctx))
	b.checksDone = make(chan struct{})
	go func() {
		defer close(b.checksDone)
		b.Checks.Run(checksCtx)
	}()
}

// Stop drains the lanes first so every check they record reaches the writer's last flush.
func (b *Bot) Stop() {
	b.Pool.Stop()
	if b.stopChecks != nil {
		b.stopChecks()
		<-b.checksDone
	}
}
