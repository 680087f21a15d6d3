package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/stockrecon/internal/jobs"
	"github.com/odyssey-erp/stockrecon/internal/shared"
	"github.com/odyssey-erp/stockrecon/jobs"
)

func newTestLocker(t *testing.T) *redislock.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client)
}

func gatheredValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestScanJobRecordsDiscrepancies(t *testing.T) {
	f, _ := scenarioOne(t)
	reg := prometheus.NewRegistry()
	job := NewScanJob(f.service(ServiceConfig{}), newTestLocker(t), jobmetrics.NewMetrics(reg), nil)

	task, err := jobs.NewReconciliationScanTask(jobs.ReconciliationScanPayload{TenantID: f.tenant, ScheduledFor: time.Now()})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	major := gatheredValue(t, reg, "stockrecon_discrepancies_total", map[string]string{"severity": "MAJOR", "tenant": f.tenant.String()})
	require.Equal(t, 1.0, major)
	runs := gatheredValue(t, reg, "stockrecon_jobs_total", map[string]string{"job": jobs.TaskReconciliationScan, "status": "success"})
	require.Equal(t, 1.0, runs)
}

func TestScanJobSkipsWhenLocked(t *testing.T) {
	f, _ := scenarioOne(t)
	locker := newTestLocker(t)
	ctx := context.Background()

	held, err := locker.Obtain(ctx, shared.ReconciliationScanLockKey(f.tenant), time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	reg := prometheus.NewRegistry()
	job := NewScanJob(f.service(ServiceConfig{}), locker, jobmetrics.NewMetrics(reg), nil)
	task, err := jobs.NewReconciliationScanTask(jobs.ReconciliationScanPayload{TenantID: f.tenant})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	major := gatheredValue(t, reg, "stockrecon_discrepancies_total", map[string]string{"severity": "MAJOR"})
	require.Zero(t, major)
}

func TestScanJobReleasesLock(t *testing.T) {
	f, _ := scenarioOne(t)
	locker := newTestLocker(t)
	ctx := context.Background()
	job := NewScanJob(f.service(ServiceConfig{}), locker, nil, nil)

	task, err := jobs.NewReconciliationScanTask(jobs.ReconciliationScanPayload{TenantID: f.tenant})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	lock, err := locker.Obtain(ctx, shared.ReconciliationScanLockKey(f.tenant), time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
}

func TestScanJobRejectsBadPayload(t *testing.T) {
	f := newFixture(t)
	job := NewScanJob(f.service(ServiceConfig{}), nil, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(jobs.TaskReconciliationScan, []byte(`{"tenant_id":"nope"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, jobs.ErrInvalidScanPayload)
}

func TestScanJobPropagatesStoreErrors(t *testing.T) {
	f, _ := scenarioOne(t)
	f.repo.st.ledgerErr = errors.New("connection refused")
	job := NewScanJob(f.service(ServiceConfig{}), nil, nil, nil)

	task, err := jobs.NewReconciliationScanTask(jobs.ReconciliationScanPayload{TenantID: f.tenant})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}
