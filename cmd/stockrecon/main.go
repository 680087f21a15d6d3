package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockrecon/cmd/stockrecon/cli"
	"github.com/odyssey-erp/stockrecon/internal/app"
	"github.com/odyssey-erp/stockrecon/internal/platform/db"
	"github.com/odyssey-erp/stockrecon/internal/reconciliation"
	"github.com/odyssey-erp/stockrecon/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(cli.Deps{
		Reconciler: buildReconciler,
		Jobs:       buildJobs,
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "stockrecon:", err)
		stop()
		os.Exit(1)
	}
}

func buildReconciler(ctx context.Context) (cli.Reconciler, func(), error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, MinConns: cfg.PGMinConns})
	if err != nil {
		return nil, nil, err
	}
	service := reconciliation.NewService(
		reconciliation.NewRepository(pool),
		shared.NewAuditLogger(pool),
		reconciliation.ServiceConfig{
			DefaultThreshold: &cfg.ReconDefaultThreshold,
			BatchSize:        cfg.ReconBatchSize,
			Workers:          cfg.ReconWorkers,
		},
		logger,
	)
	return service, pool.Close, nil
}

func buildJobs(context.Context) (cli.JobsAPI, func(), error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	jobsCLI, err := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		return nil, nil, err
	}
	return jobsCLI, func() { _ = jobsCLI.Close() }, nil
}
