package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moneta/internal/config"
	"moneta/internal/db"
	"moneta/internal/econ"

	"github.com/robfig/cron/v3"
)

// The worker runs the scheduled hygiene jobs: expired transfer and
// card-sale confirmations, the Manager vault-draw day buckets after UTC
// midnight, and week-old join requests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	svc := econ.NewService(pool, logger)

	// Schedules run in UTC; the vault-draw cap resets on the UTC day.
	sched := cron.New(cron.WithLocation(time.UTC))
	mustAdd := func(spec, name string, job func(context.Context) (int64, error)) {
		_, err := sched.AddFunc(spec, func() {
			n, err := job(ctx)
			if err != nil {
				logger.Error("job failed", "job", name, "err", err)
				return
			}
			if n > 0 {
				logger.Info("job complete", "job", name, "rows", n)
			}
		})
		if err != nil {
			logger.Error("schedule failed", "job", name, "err", err)
			os.Exit(1)
		}
	}

	mustAdd("* * * * *", "purge_confirmations", svc.PurgeExpiredConfirmations)
	mustAdd("5 0 * * *", "sweep_vault_draws", svc.SweepVaultDraws)
	mustAdd("0 * * * *", "sweep_stale_requests", svc.SweepStaleRequests)

	sched.Start()
	logger.Info("worker started")

	<-ctx.Done()
	stopCtx := sched.Stop()
	<-stopCtx.Done()
	logger.Info("worker shutdown")
}
