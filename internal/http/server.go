package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/innbot/internal/config"
	"github.com/jmehdipour/innbot/internal/http/middleware"
	"github.com/jmehdipour/innbot/internal/metrics"
	"github.com/jmehdipour/innbot/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

// NewServer wires the webhook, health/metrics and the admin API. clickhouseDB may be nil.
func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, intake Intake, log *zap.Logger) *Server {
	// repos (MySQL)
	usersRepo := repository.NewUsersRepository(mysqlDB)
	ledgerRepo := repository.NewLedgerRepository()

	// repos (ClickHouse)
	var chChecksRepo repository.CHChecksRepository
	if clickhouseDB != nil {
		chChecksRepo = repository.NewCHChecksRepository(clickhouseDB)
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			log.Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// telegram
	e.POST(cfg.Telegram.WebhookPath, webhookHandler(cfg.Telegram.WebhookSecret, intake, log))

	// middlewares
	authMW := middleware.AdminKeyMiddleware(cfg.Admin.APIKeys)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:admin:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/pro/grant", ProGrantHandler(mysqlDB, usersRepo, ledgerRepo))
	v1.GET("/reports/checks", listChecksHandler(chChecksRepo))

	return &Server{e: e, log: log}
}

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
