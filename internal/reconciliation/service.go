package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	jobmetrics "github.com/odyssey-erp/stockrecon/internal/jobs"
	"github.com/odyssey-erp/stockrecon/internal/shared"
)

// StockStore reads live stock records outside a transaction.
type StockStore interface {
	FindStock(ctx context.Context, tenantID, productID, locationID uuid.UUID) (Stock, error)
}

// TxRepository exposes the operations available inside the apply transaction.
type TxRepository interface {
	LedgerPort
	LookupPort
	GetStockForUpdate(ctx context.Context, tenantID, stockID uuid.UUID) (Stock, error)
	UpdateStockQuantity(ctx context.Context, tenantID uuid.UUID, stock Stock, quantity decimal.Decimal) error
	InsertAdjustment(ctx context.Context, tenantID uuid.UUID, adj Adjustment) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	LedgerPort
	LookupPort
	StockStore
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// DefaultThreshold applies when a request carries none. Nil means DefaultThreshold.
	DefaultThreshold *decimal.Decimal
	BatchSize        int
	Workers          int
	Metrics          *jobmetrics.Metrics
}

const (
	defaultBatchSize = 200
	defaultWorkers   = 8
	// flightTimeout bounds a shared run once it no longer follows any caller's context.
	flightTimeout = 10 * time.Minute
)

// Service runs reconciliations and applies corrections.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	logger    *slog.Logger
	cfg       ServiceConfig
	threshold decimal.Decimal
	validate  *validator.Validate
	flights   singleflight.Group
	now       func() time.Time
	newID     func() uuid.UUID
}

// NewService builds Service. audit and logger may be nil.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	threshold := DefaultThreshold
	if cfg.DefaultThreshold != nil {
		threshold = *cfg.DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		audit:     audit,
		logger:    logger,
		cfg:       cfg,
		threshold: threshold,
		validate:  newValidator(),
		now:       time.Now,
		newID:     uuid.New,
	}
}

// Reconcile replays the ledger for every product/location in scope and
// classifies each against its recorded stock. Every call reads the current
// ledger; identical calls in flight at the same moment share one computation.
// Problems with individual keys are reported as skipped items; only ledger
// read failures, invalid requests and cancellation return an error.
func (s *Service) Reconcile(ctx context.Context, tenantID uuid.UUID, req Request) (Response, error) {
	if tenantID == uuid.Nil {
		return Response{}, ErrTenantRequired
	}
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	key, err := flightKey(tenantID, req)
	if err != nil {
		s.logger.Warn("reconciliation flight key", slog.Any("error", err))
		return s.reconcile(ctx, tenantID, req)
	}
	// The shared run is detached from the first caller so its cancellation
	// does not fail the others waiting on the same key.
	ch := s.flights.DoChan(key, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return s.reconcile(runCtx, tenantID, req)
	})
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Response{}, res.Err
		}
		return res.Val.(Response), nil
	}
}

func (s *Service) reconcile(ctx context.Context, tenantID uuid.UUID, req Request) (Response, error) {
	started := s.now()
	threshold := s.threshold
	if req.DiscrepancyThreshold != nil {
		threshold = *req.DiscrepancyThreshold
	}

	read, err := NewReader(s.repo, s.repo).Read(ctx, tenantID, ReadFilter{
		From:               req.FromDate,
		To:                 req.ToDate,
		WarehouseID:        req.WarehouseID,
		LocationID:         req.LocationID,
		ProductID:          req.ProductID,
		IncludeDocuments:   req.IncludeDocuments,
		IncludeInventories: req.IncludeInventories,
	})
	if err != nil {
		return Response{}, err
	}

	skipped := make([]SkippedItem, 0, len(read.Unresolved))
	for _, u := range read.Unresolved {
		skipped = append(skipped, SkippedItem{ProductID: u.Key.ProductID, LocationID: u.Key.LocationID, Reason: u.Err.Error()})
	}

	outcomes := make([]itemOutcome, len(read.Groups))
	for start := 0; start < len(read.Groups); start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		end := min(start+s.cfg.BatchSize, len(read.Groups))
		var g errgroup.Group
		g.SetLimit(s.cfg.Workers)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				outcomes[i] = s.evaluate(ctx, tenantID, read.Groups[i], req.StartingQuantity, threshold)
				return nil
			})
		}
		_ = g.Wait()
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	items := make([]Item, 0, len(outcomes))
	for _, out := range outcomes {
		if out.skipped != nil {
			skipped = append(skipped, *out.skipped)
			continue
		}
		items = append(items, out.item)
	}
	for _, sk := range skipped {
		s.logger.Warn("reconciliation item skipped",
			slog.String("tenant_id", tenantID.String()),
			slog.String("product_id", sk.ProductID.String()),
			slog.String("location_id", sk.LocationID.String()),
			slog.String("reason", sk.Reason))
	}

	summary := Summarise(items)
	summary.Skipped = len(skipped)
	summary.ExcludedMovements = read.Excluded
	if req.OnlyWithDiscrepancies {
		items = FilterDiscrepancies(items)
	}

	s.logger.Info("reconciliation completed",
		slog.String("tenant_id", tenantID.String()),
		slog.Int("items", summary.TotalItems),
		slog.Int("minor", summary.Minor),
		slog.Int("major", summary.Major),
		slog.Int("missing", summary.Missing),
		slog.Int("skipped", summary.Skipped),
		slog.Int("excluded_movements", summary.ExcludedMovements),
		slog.Duration("elapsed", s.now().Sub(started)))

	return Response{Items: items, Summary: summary, Skipped: skipped}, nil
}

type itemOutcome struct {
	item    Item
	skipped *SkippedItem
}

func (s *Service) evaluate(ctx context.Context, tenantID uuid.UUID, group MovementGroup, start, threshold decimal.Decimal) itemOutcome {
	skip := func(reason string) itemOutcome {
		return itemOutcome{skipped: &SkippedItem{ProductID: group.Key.ProductID, LocationID: group.Key.LocationID, Reason: reason}}
	}
	stock, err := s.repo.FindStock(ctx, tenantID, group.Key.ProductID, group.Key.LocationID)
	if errors.Is(err, ErrStockNotFound) {
		return skip("stock record not found")
	}
	if err != nil {
		return skip(fmt.Sprintf("load stock: %v", err))
	}
	if stock.Metadata.Deleted() {
		return skip("stock record deleted")
	}
	return itemOutcome{item: BuildItem(group, stock, start, threshold)}
}

// BuildItem replays a group against its stock record and classifies the result.
func BuildItem(group MovementGroup, stock Stock, start, threshold decimal.Decimal) Item {
	calculated := Replay(start, group.Movements)
	cls := Classify(stock.Quantity, calculated, threshold)

	movements := make([]MovementSource, len(group.Movements))
	copy(movements, group.Movements)
	SortMovements(movements)

	item := Item{
		StockID:              stock.ID,
		ProductID:            group.Key.ProductID,
		LocationID:           group.Key.LocationID,
		ProductCode:          group.Product.Code,
		WarehouseName:        group.Location.WarehouseName,
		LocationCode:         group.Location.Code,
		CurrentQuantity:      stock.Quantity,
		CalculatedQuantity:   calculated,
		Difference:           cls.Difference,
		DifferencePercentage: cls.DifferencePercentage,
		Severity:             cls.Severity,
		SourceMovements:      movements,
		UnitCost:             group.Product.UnitCost,
	}
	for _, m := range movements {
		switch m.Kind {
		case KindDocument:
			item.DocumentCount++
		case KindInventory:
			item.InventoryCount++
		case KindManual:
			item.ManualCount++
		}
	}
	return item
}

// Summarise counts items per severity and totals the absolute difference
// weighted by unit cost. Items without a unit cost contribute zero value.
func Summarise(items []Item) Summary {
	summary := Summary{TotalItems: len(items), TotalDifferenceValue: decimal.Zero}
	for _, item := range items {
		switch item.Severity {
		case SeverityCorrect:
			summary.Correct++
		case SeverityMinor:
			summary.Minor++
		case SeverityMajor:
			summary.Major++
		case SeverityMissing:
			summary.Missing++
		}
		if item.UnitCost != nil {
			summary.TotalDifferenceValue = summary.TotalDifferenceValue.Add(item.Difference.Abs().Mul(*item.UnitCost))
		}
	}
	return summary
}

// FilterDiscrepancies drops Correct items.
func FilterDiscrepancies(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Severity != SeverityCorrect {
			out = append(out, item)
		}
	}
	return out
}
