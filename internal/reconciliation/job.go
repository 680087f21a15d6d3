package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockrecon/internal/jobs"
	"github.com/odyssey-erp/stockrecon/internal/shared"
	"github.com/odyssey-erp/stockrecon/jobs"
)

// Locker obtains distributed locks. *redislock.Client satisfies it.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

const scanLockTTL = 30 * time.Minute

// ScanJob processes reconciliation scan tasks.
type ScanJob struct {
	service *Service
	locker  Locker
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewScanJob constructs a job handler. locker and metrics may be nil.
func NewScanJob(service *Service, locker Locker, metrics *jobmetrics.Metrics, logger *slog.Logger) *ScanJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanJob{service: service, locker: locker, metrics: metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *ScanJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.service == nil {
		return errors.New("reconciliation scan: handler not configured")
	}
	payload, err := jobs.ParseReconciliationScanPayload(task)
	if err != nil {
		j.logger.Warn("reconciliation scan payload", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics.Track(jobs.TaskReconciliationScan)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger.With(slog.String("tenant_id", payload.TenantID.String()))
	if j.locker != nil {
		lock, lockErr := j.locker.Obtain(ctx, shared.ReconciliationScanLockKey(payload.TenantID), scanLockTTL, nil)
		if errors.Is(lockErr, redislock.ErrNotObtained) {
			logger.Info("reconciliation scan already running; skipping")
			return nil
		}
		if lockErr != nil {
			return fmt.Errorf("reconciliation scan: obtain lock: %w", lockErr)
		}
		defer func() {
			// Release with a fresh context so a cancelled run still frees the lock.
			_ = lock.Release(context.WithoutCancel(ctx))
		}()
	}

	req := DefaultRequest()
	req.OnlyWithDiscrepancies = true
	req.DiscrepancyThreshold = payload.Threshold
	if payload.WarehouseID != nil {
		req.WarehouseID = *payload.WarehouseID
	}

	resp, err := j.service.Reconcile(ctx, payload.TenantID, req)
	if err != nil {
		logger.Error("reconciliation scan failed", slog.Any("error", err))
		var validation *ValidationError
		if errors.As(err, &validation) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	for _, severity := range []Severity{SeverityMinor, SeverityMajor, SeverityMissing} {
		j.metrics.AddDiscrepancies(severity.String(), payload.TenantID, resp.Summary.Count(severity))
	}
	logger.Info("reconciliation scan completed",
		slog.Int("items", resp.Summary.TotalItems),
		slog.Int("minor", resp.Summary.Minor),
		slog.Int("major", resp.Summary.Major),
		slog.Int("missing", resp.Summary.Missing),
		slog.Int("skipped", resp.Summary.Skipped),
		slog.String("difference_value", resp.Summary.TotalDifferenceValue.StringFixed(2)))
	return nil
}
