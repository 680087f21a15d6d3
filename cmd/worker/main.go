package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/stockrecon/internal/app"
	jobmetrics "github.com/odyssey-erp/stockrecon/internal/jobs"
	"github.com/odyssey-erp/stockrecon/internal/platform/cache"
	"github.com/odyssey-erp/stockrecon/internal/platform/db"
	"github.com/odyssey-erp/stockrecon/internal/reconciliation"
	"github.com/odyssey-erp/stockrecon/internal/shared"
	"github.com/odyssey-erp/stockrecon/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MinConns: cfg.PGMinConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	repo := reconciliation.NewRepository(pool)
	service := reconciliation.NewService(
		repo,
		shared.NewAuditLogger(pool),
		reconciliation.ServiceConfig{
			DefaultThreshold: &cfg.ReconDefaultThreshold,
			BatchSize:        cfg.ReconBatchSize,
			Workers:          cfg.ReconWorkers,
			Metrics:          metrics,
		},
		logger,
	)
	scanJob := reconciliation.NewScanJob(service, redislock.New(redisClient), metrics, logger)

	tenants, err := cfg.ScanTenantIDs()
	if err != nil {
		logger.Error("parse scan tenants", slog.Any("error", err))
		os.Exit(1)
	}
	if len(tenants) == 0 {
		if tenants, err = repo.ListTenants(ctx); err != nil {
			logger.Warn("list tenants for scan schedule", slog.Any("error", err))
		}
	}
	cron, err := scanSchedule(cfg.ReconScanCron, tenants)
	if err != nil {
		logger.Error("build scan schedule", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("reconciliation scans scheduled", slog.String("cron", cfg.ReconScanCron), slog.Int("tenants", len(cron)))
	if cfg.IdempotencyCron != "" {
		cron = append(cron, jobs.CronRegistration{
			Spec:    cfg.IdempotencyCron,
			Task:    jobs.NewIdempotencyCleanupTask(),
			Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(time.Hour)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.Concurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconciliationScan, Handler: scanJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: idempotencyCleanup(shared.NewIdempotencyStore(pool), cfg.IdempotencyRetention, metrics, logger)},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func scanSchedule(spec string, tenants []uuid.UUID) ([]jobs.CronRegistration, error) {
	if spec == "" {
		return nil, nil
	}
	out := make([]jobs.CronRegistration, 0, len(tenants))
	for _, tenantID := range tenants {
		task, err := jobs.NewReconciliationScanTask(jobs.ReconciliationScanPayload{TenantID: tenantID})
		if err != nil {
			return nil, err
		}
		out = append(out, jobs.CronRegistration{
			Spec: spec,
			Task: task,
			Options: []asynq.Option{
				asynq.MaxRetry(3),
				asynq.Timeout(30 * time.Minute),
				asynq.Unique(time.Hour),
			},
		})
	}
	return out, nil
}

type keyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

func idempotencyCleanup(store keyPruner, retention time.Duration, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) (err error) {
		tracker := metrics.Track(jobs.TaskIdempotencyCleanup)
		defer func() {
			err = tracker.End(err)
		}()
		if err = store.Cleanup(ctx, retention); err != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
			return err
		}
		logger.Info("idempotency keys pruned", slog.Duration("retention", retention))
		return nil
	}
}
