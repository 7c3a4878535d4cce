package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmehdipour/innbot/internal/config"
	"github.com/jmehdipour/innbot/internal/db"
	"github.com/jmehdipour/innbot/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables (MySQL, and ClickHouse when configured)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		if err := apply(cmd.Context(), sqlDB, migrations.MySQL); err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		fmt.Println(">> MySQL migration complete")

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		if chDB == nil {
			return nil
		}
		defer chDB.Close()

		if err := apply(cmd.Context(), chDB, migrations.ClickHouse); err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		fmt.Println(">> ClickHouse migration complete")
		return nil
	},
}

// apply runs the script one statement at a time; the ClickHouse driver refuses multi-statements.
func apply(ctx context.Context, dbx *sqlx.DB, script string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, stmt := range statements(script) {
		if _, err := dbx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func statements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		var lines []string
		for _, l := range strings.Split(part, "\n") {
			if t := strings.TrimSpace(l); t != "" && !strings.HasPrefix(t, "--") {
				lines = append(lines, l)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
