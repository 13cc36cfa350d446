package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/funnelsheet/event-relay/internal/config"
	"github.com/funnelsheet/event-relay/internal/db"
	"github.com/funnelsheet/event-relay/internal/dispatcher"
	"github.com/funnelsheet/event-relay/internal/logger"
	"github.com/funnelsheet/event-relay/internal/metrics"
	"github.com/funnelsheet/event-relay/internal/repository"
	"github.com/funnelsheet/event-relay/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var processOnce bool

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Drain the event queue (periodic batch worker)",
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().BoolVar(&processOnce, "once", false, "run a single batch and exit")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	var audit repository.DispatchLogRepository = repository.NopDispatchLog{}
	if cfg.ClickHouse.Enabled {
		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() { _ = chDB.Close() }()
		audit = repository.NewDispatchLogRepository(chDB)
	}

	eventsRepo := repository.NewEventsRepository(dbx)
	disp := dispatcher.NewDispatcher(cfg.Destination)
	w := worker.New(eventsRepo, disp, audit, cfg.Destination.Type, cfg.Queue, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if processOnce {
		_, err := w.ProcessBatch(ctx)
		return err
	}

	log.Info("worker started",
		zap.String("destination", cfg.Destination.Type.String()),
		zap.Duration("interval", cfg.Queue.Interval),
		zap.Int("batch_size", cfg.Queue.BatchSize))

	ticker := time.NewTicker(cfg.Queue.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return nil
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				// storage-level failure; next tick retries
				log.Error("batch aborted", zap.Error(err))
			}
		}
	}
}
