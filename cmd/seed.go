package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmehdipour/innbot/internal/config"
	"github.com/jmehdipour/innbot/internal/db"
	"github.com/jmehdipour/innbot/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo users",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo users...")

		if err := seedUsers(sqlDB, cfg.Quota.DailyFreeLimit); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

// seedUsers inserts deterministic demo users (idempotent). Ids are outside the
// range Telegram hands out to real accounts.
func seedUsers(dbx *sqlx.DB, freeLimit int) error {
	farFuture := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	users := []model.User{
		{ID: -1001, Username: "demo_free", FirstName: "Демо", LastName: "Бесплатный", Plan: model.PlanFree},
		{ID: -1002, Username: "demo_pro", FirstName: "Демо", LastName: "PRO", Plan: model.PlanPro, ProUntil: &farFuture},
		{ID: -1003, Username: "demo_pro_forever", FirstName: "Демо", Plan: model.PlanPro},
	}

	// idempotent upsert based on id (PRIMARY KEY)
	const q = `
INSERT INTO users
    (id, username, first_name, last_name, plan, pro_until, free_checks_left, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    username   = VALUES(username),
    first_name = VALUES(first_name),
    last_name  = VALUES(last_name),
    plan       = VALUES(plan),
    pro_until  = VALUES(pro_until),
    updated_at = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for _, u := range users {
		if _, err := tx.Exec(q, u.ID, u.Username, u.FirstName, u.LastName, u.Plan, u.ProUntil, freeLimit, now, now); err != nil {
			return fmt.Errorf("insert user %d: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit users: %w", err)
	}
	return nil
}
