package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/innbot/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection opens the reporting store. An empty DSN disables
// reports and returns (nil, nil).
//
// e.g. clickhouse://default:@localhost:9000/innbot?dial_timeout=5s&compress=true
func NewClickHouseConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	return openSQL("clickhouse", cfg, 3*time.Second)
}
