package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmehdipour/innbot/internal/repository"
	"github.com/jmoiron/sqlx"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

type grantReq struct {
	UserID    int64  `json:"user_id"`
	Days      int    `json:"days"`
	RequestID string `json:"request_id"`
}

// extendPro computes the new expiry: grants stack on an active subscription.
func extendPro(u model.User, days int, now time.Time) time.Time {
	base := now
	if u.Plan == model.PlanPro && u.ProUntil != nil && u.ProUntil.After(now) {
		base = *u.ProUntil
	}
	return base.Add(time.Duration(days) * 24 * time.Hour)
}

// ProGrantHandler : grant or extend PRO (idempotent by request_id).
func ProGrantHandler(db *sqlx.DB, users repository.UsersRepository, ledger repository.LedgerRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req grantReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.RequestID = strings.TrimSpace(req.RequestID)
		if req.UserID <= 0 || req.Days <= 0 || req.Days > 3660 || req.RequestID == "" || len(req.RequestID) > 128 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		}

		ctx := c.Request().Context()
		idem := model.LedgerGrant.String() + "-" + req.RequestID

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		defer func() { _ = tx.Rollback() }()

		u, err := users.GetForUpdate(ctx, tx, req.UserID)
		if err != nil {
			log.Errorf("pro grant: load user %d: %v", req.UserID, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if u == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "user not found"})
		}

		exists, err := ledger.ExistsByIdem(ctx, tx, idem)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		if exists {
			if err := tx.Commit(); err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}
			return c.JSON(http.StatusOK, map[string]any{
				"granted":    true,
				"idempotent": true,
				"user_id":    req.UserID,
				"pro_until":  u.ProUntil,
				"request_id": req.RequestID,
			})
		}

		now := time.Now().UTC()
		var until *time.Time
		// a PRO plan without expiry stays unlimited
		if !(u.Plan == model.PlanPro && u.ProUntil == nil) {
			t := extendPro(*u, req.Days, now)
			until = &t
			if err := users.SetPro(ctx, tx, u.ID, t); err != nil {
				log.Errorf("pro grant: update user %d: %v", u.ID, err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}
		}

		if err := ledger.Insert(ctx, tx, repository.LedgerRow{
			UserID:        u.ID,
			Op:            model.LedgerGrant,
			Amount:        req.Days,
			Day:           now.Format("2006-01-02"),
			ReservationID: req.RequestID,
			Idem:          idem,
		}); err != nil {
			log.Errorf("pro grant: ledger %s: %v", idem, err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		if err := tx.Commit(); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"granted":    true,
			"idempotent": false,
			"user_id":    u.ID,
			"pro_until":  until,
			"request_id": req.RequestID,
		})
	}
}
