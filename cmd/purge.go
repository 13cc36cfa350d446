package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/funnelsheet/event-relay/internal/config"
	"github.com/funnelsheet/event-relay/internal/db"
	"github.com/funnelsheet/event-relay/internal/repository"
	"github.com/spf13/cobra"
)

// purgeCmd is the retention sweep: it deletes old sent events and is meant to
// run from cron, off the hot path.
var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete sent events older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		repo := repository.NewEventsRepository(sqlDB)
		n, err := repo.DeleteOlderThan(ctx, cfg.Queue.RetentionDays)
		if err != nil {
			return fmt.Errorf("purge events: %w", err)
		}

		fmt.Printf(">> Purged %d sent events older than %d days\n", n, cfg.Queue.RetentionDays)
		return nil
	},
}
