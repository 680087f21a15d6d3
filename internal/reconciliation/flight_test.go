package reconciliation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// countingRepo counts document reads to observe how often the ledger is hit.
type countingRepo struct {
	*memoryRepo
	reads atomic.Int32
}

func (r *countingRepo) DocumentMovements(ctx context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	r.reads.Add(1)
	return r.memoryRepo.DocumentMovements(ctx, tenantID, filter)
}

// gatedRepo holds document reads until release is closed.
type gatedRepo struct {
	*memoryRepo
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	reads   atomic.Int32
}

func (r *gatedRepo) DocumentMovements(ctx context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	r.reads.Add(1)
	r.once.Do(func() { close(r.entered) })
	<-r.release
	return r.memoryRepo.DocumentMovements(ctx, tenantID, filter)
}

func TestFlightKeyDependsOnTenantAndRequest(t *testing.T) {
	tenant := uuid.New()
	req := DefaultRequest()

	k1, err := flightKey(tenant, req)
	require.NoError(t, err)
	k2, err := flightKey(tenant, req)
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	other := req
	other.OnlyWithDiscrepancies = true
	k3, err := flightKey(tenant, other)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)

	threshold := d("5")
	other = req
	other.DiscrepancyThreshold = &threshold
	k4, err := flightKey(tenant, other)
	require.NoError(t, err)
	require.NotEqual(t, k1, k4)

	k5, err := flightKey(uuid.New(), req)
	require.NoError(t, err)
	require.NotEqual(t, k1, k5)
}

func TestServiceRecomputesAfterLedgerChange(t *testing.T) {
	f, _ := scenarioOne(t)
	repo := &countingRepo{memoryRepo: f.repo}
	svc := NewService(repo, f.audit, ServiceConfig{}, nil)
	ctx := context.Background()

	first, err := svc.Reconcile(ctx, f.tenant, DefaultRequest())
	require.NoError(t, err)
	require.True(t, first.Items[0].CalculatedQuantity.Equal(d("7")))

	f.count(f.product, f.location, day(3), "20")

	second, err := svc.Reconcile(ctx, f.tenant, DefaultRequest())
	require.NoError(t, err)
	require.True(t, second.Items[0].CalculatedQuantity.Equal(d("20")), "calculated %s", second.Items[0].CalculatedQuantity)
	require.Equal(t, 1, second.Items[0].InventoryCount)
	require.Equal(t, int32(2), repo.reads.Load())
}

func TestServiceRecomputesAfterApply(t *testing.T) {
	f, stock := scenarioOne(t)
	svc := NewService(f.repo, f.audit, ServiceConfig{}, nil)
	ctx := context.Background()

	before, err := svc.Reconcile(ctx, f.tenant, DefaultRequest())
	require.NoError(t, err)
	require.Equal(t, SeverityMajor, before.Items[0].Severity)

	result, err := svc.Apply(ctx, f.tenant, NewApplyRequest("Recount", stock.ID))
	require.NoError(t, err)
	require.True(t, result.Success)

	after, err := svc.Reconcile(ctx, f.tenant, DefaultRequest())
	require.NoError(t, err)
	require.Equal(t, SeverityCorrect, after.Items[0].Severity)
}

func TestServiceSharesConcurrentIdenticalRuns(t *testing.T) {
	f, _ := scenarioOne(t)
	repo := &gatedRepo{memoryRepo: f.repo, entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(repo, nil, ServiceConfig{}, nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	start := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := svc.Reconcile(context.Background(), f.tenant, DefaultRequest())
			if err == nil && len(resp.Items) != 1 {
				err = errors.New("unexpected item count")
			}
			errs <- err
		}()
	}
	start()
	<-repo.entered
	for i := 1; i < callers; i++ {
		start()
	}
	time.Sleep(100 * time.Millisecond)
	close(repo.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), repo.reads.Load())
}

func TestServiceCancelledCallerDoesNotFailSharedRun(t *testing.T) {
	f, _ := scenarioOne(t)
	repo := &gatedRepo{memoryRepo: f.repo, entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(repo, nil, ServiceConfig{}, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Reconcile(firstCtx, f.tenant, DefaultRequest())
		firstErr <- err
	}()
	<-repo.entered

	type outcome struct {
		resp Response
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		resp, err := svc.Reconcile(context.Background(), f.tenant, DefaultRequest())
		second <- outcome{resp, err}
	}()
	time.Sleep(100 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(repo.release)
	select {
	case out := <-second:
		require.NoError(t, out.err)
		require.Len(t, out.resp.Items, 1)
		require.True(t, out.resp.Items[0].CalculatedQuantity.Equal(d("7")))
	case <-time.After(2 * time.Second):
		t.Fatal("shared run did not complete")
	}
}
