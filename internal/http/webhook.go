package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmehdipour/innbot/internal/metrics"
	"github.com/jmehdipour/innbot/internal/service/queue"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Intake accepts decoded updates; *queue.Service in production.
type Intake interface {
	Enqueue(ctx context.Context, upd tgbotapi.Update) error
}

// webhookHandler always answers 200 {"ok":true}; Telegram would otherwise redeliver.
func webhookHandler(secret string, intake Intake, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ack := func() error { return c.JSON(http.StatusOK, map[string]bool{"ok": true}) }

		if secret != "" {
			got := c.Request().Header.Get(secretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				metrics.UpdatesTotal.WithLabelValues("rejected", "other").Inc()
				log.Warn("webhook secret mismatch", zap.String("remote", c.RealIP()))
				return ack()
			}
		}

		var upd tgbotapi.Update
		if err := c.Bind(&upd); err != nil {
			metrics.UpdatesTotal.WithLabelValues("rejected", "other").Inc()
			log.Warn("webhook body undecodable", zap.Error(err))
			return ack()
		}

		// handling must outlive the request
		ctx := context.WithoutCancel(c.Request().Context())
		if err := intake.Enqueue(ctx, upd); err != nil && !errors.Is(err, queue.ErrDuplicate) {
			log.Error("enqueue update failed", zap.Int("update_id", upd.UpdateID), zap.Error(err))
		}
		return ack()
	}
}
