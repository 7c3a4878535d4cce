package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmehdipour/innbot/internal/repository"
	"github.com/jmehdipour/innbot/internal/util"
	echo "github.com/labstack/echo/v4"
)

func parseChecksFilter(c echo.Context) repository.ChecksFilter {
	f := repository.ChecksFilter{Limit: 50}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			f.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		}
	}
	if v := c.QueryParam("user_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			f.UserID = n
		}
	}
	if raw := strings.TrimSpace(c.QueryParam("outcome")); raw != "" {
		if o := model.CheckOutcome(raw); o.Valid() {
			f.Outcome = o
		}
	}
	if inn := util.NormalizeTaxID(c.QueryParam("inn")); util.ValidTaxID(inn) {
		f.INN = inn
	}
	return f
}

func listChecksHandler(chRepo repository.CHChecksRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if chRepo == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "reports disabled"})
		}

		f := parseChecksFilter(c)
		rows, err := chRepo.List(c.Request().Context(), f)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		totals, err := chRepo.CountByOutcome(c.Request().Context(), f)
		if err != nil {
			c.Logger().Errorf("clickhouse count failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   f.Limit,
			"offset":  f.Offset,
			"count":   len(rows),
			"totals":  totals,
			"results": rows,
		})
	}
}
