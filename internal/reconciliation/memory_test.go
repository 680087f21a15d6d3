package reconciliation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockrecon/internal/shared"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func day(n int) time.Time {
	return time.Date(2024, time.March, n, 9, 0, 0, 0, time.UTC)
}

type ledgerEntry struct {
	row    LedgerRow
	source string
}

// memoryState is the data set behind memoryRepo; transactions work on a clone.
type memoryState struct {
	tenant      uuid.UUID
	documents   []ledgerEntry
	inventories []ledgerEntry
	manuals     []ledgerEntry
	products    map[uuid.UUID]ProductInfo
	locations   map[uuid.UUID]LocationInfo
	stocks      map[uuid.UUID]Stock
	adjustments []Adjustment
	nextRowID   int64

	ledgerErr  error
	lookupErrs map[uuid.UUID]error
	findErrs   map[uuid.UUID]error
	updateErrs map[uuid.UUID]error
}

func (s *memoryState) clone() *memoryState {
	c := *s
	c.documents = append([]ledgerEntry(nil), s.documents...)
	c.inventories = append([]ledgerEntry(nil), s.inventories...)
	c.manuals = append([]ledgerEntry(nil), s.manuals...)
	c.adjustments = append([]Adjustment(nil), s.adjustments...)
	c.stocks = make(map[uuid.UUID]Stock, len(s.stocks))
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	return &c
}

func (s *memoryState) rows(tenantID uuid.UUID, entries []ledgerEntry, filter LedgerFilter, skipAdjustments bool) ([]LedgerRow, error) {
	if s.ledgerErr != nil {
		return nil, s.ledgerErr
	}
	if tenantID != s.tenant {
		return nil, nil
	}
	var out []LedgerRow
	for _, e := range entries {
		row := e.row
		if skipAdjustments && e.source == AdjustmentSource {
			continue
		}
		if !filter.From.IsZero() && row.OccurredAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && row.OccurredAt.After(filter.To) {
			continue
		}
		if filter.LocationID != uuid.Nil && row.LocationID != filter.LocationID {
			continue
		}
		if filter.ProductID != uuid.Nil && row.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != uuid.Nil && s.locations[row.LocationID].WarehouseID != filter.WarehouseID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *memoryState) DocumentMovements(_ context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	return s.rows(tenantID, s.documents, filter, false)
}

func (s *memoryState) InventoryCounts(_ context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	return s.rows(tenantID, s.inventories, filter, false)
}

func (s *memoryState) ManualMovements(_ context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	return s.rows(tenantID, s.manuals, filter, true)
}

func (s *memoryState) GetProductInfo(_ context.Context, tenantID, productID uuid.UUID) (ProductInfo, error) {
	if err := s.lookupErrs[productID]; err != nil {
		return ProductInfo{}, err
	}
	info, ok := s.products[productID]
	if !ok || tenantID != s.tenant {
		return ProductInfo{}, ErrProductNotFound
	}
	return info, nil
}

func (s *memoryState) GetLocationInfo(_ context.Context, tenantID, locationID uuid.UUID) (LocationInfo, error) {
	if err := s.lookupErrs[locationID]; err != nil {
		return LocationInfo{}, err
	}
	info, ok := s.locations[locationID]
	if !ok || tenantID != s.tenant {
		return LocationInfo{}, ErrLocationNotFound
	}
	return info, nil
}

func (s *memoryState) FindStock(_ context.Context, tenantID, productID, locationID uuid.UUID) (Stock, error) {
	if tenantID != s.tenant {
		return Stock{}, ErrStockNotFound
	}
	for _, stock := range s.stocks {
		if stock.ProductID == productID && stock.LocationID == locationID {
			if err := s.findErrs[stock.ID]; err != nil {
				return Stock{}, err
			}
			return stock, nil
		}
	}
	return Stock{}, ErrStockNotFound
}

func (s *memoryState) GetStockForUpdate(_ context.Context, tenantID, stockID uuid.UUID) (Stock, error) {
	stock, ok := s.stocks[stockID]
	if !ok || tenantID != s.tenant {
		return Stock{}, ErrStockNotFound
	}
	return stock, nil
}

func (s *memoryState) UpdateStockQuantity(_ context.Context, tenantID uuid.UUID, stock Stock, quantity decimal.Decimal) error {
	if err := s.updateErrs[stock.ID]; err != nil {
		return err
	}
	current, ok := s.stocks[stock.ID]
	if !ok || tenantID != s.tenant || current.Version != stock.Version {
		return ErrConcurrentUpdate
	}
	current.Quantity = quantity
	current.Version++
	s.stocks[stock.ID] = current
	return nil
}

func (s *memoryState) InsertAdjustment(_ context.Context, tenantID uuid.UUID, adj Adjustment) error {
	s.nextRowID++
	s.adjustments = append(s.adjustments, adj)
	s.manuals = append(s.manuals, ledgerEntry{
		source: AdjustmentSource,
		row: LedgerRow{
			ID:         s.nextRowID,
			ProductID:  adj.ProductID,
			LocationID: adj.LocationID,
			Reference:  adj.TrackingCode,
			Quantity:   adj.Quantity,
			OccurredAt: adj.OccurredAt,
		},
	})
	return nil
}

// memoryRepo guards memoryState and emulates transactions with copy-on-write.
type memoryRepo struct {
	mu sync.Mutex
	st *memoryState
}

type memoryTx struct {
	*memoryState
}

func (r *memoryRepo) state() *memoryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st
}

func (r *memoryRepo) DocumentMovements(ctx context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	return r.state().DocumentMovements(ctx, tenantID, filter)
}

func (r *memoryRepo) InventoryCounts(ctx context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	return r.state().InventoryCounts(ctx, tenantID, filter)
}

func (r *memoryRepo) ManualMovements(ctx context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	return r.state().ManualMovements(ctx, tenantID, filter)
}

func (r *memoryRepo) GetProductInfo(ctx context.Context, tenantID, productID uuid.UUID) (ProductInfo, error) {
	return r.state().GetProductInfo(ctx, tenantID, productID)
}

func (r *memoryRepo) GetLocationInfo(ctx context.Context, tenantID, locationID uuid.UUID) (LocationInfo, error) {
	return r.state().GetLocationInfo(ctx, tenantID, locationID)
}

func (r *memoryRepo) FindStock(ctx context.Context, tenantID, productID, locationID uuid.UUID) (Stock, error) {
	return r.state().FindStock(ctx, tenantID, productID, locationID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.st.clone()
	if err := fn(ctx, memoryTx{memoryState: work}); err != nil {
		return err
	}
	r.st = work
	return nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

// fixture seeds one tenant with a warehouse, locations and products.
type fixture struct {
	t         testing.TB
	tenant    uuid.UUID
	warehouse uuid.UUID
	location  uuid.UUID
	product   uuid.UUID
	repo      *memoryRepo
	audit     *memoryAudit
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		tenant:    uuid.New(),
		warehouse: uuid.New(),
		location:  uuid.New(),
		product:   uuid.New(),
		audit:     &memoryAudit{},
	}
	st := &memoryState{
		tenant:     f.tenant,
		products:   map[uuid.UUID]ProductInfo{},
		locations:  map[uuid.UUID]LocationInfo{},
		stocks:     map[uuid.UUID]Stock{},
		lookupErrs: map[uuid.UUID]error{},
		findErrs:   map[uuid.UUID]error{},
		updateErrs: map[uuid.UUID]error{},
	}
	f.repo = &memoryRepo{st: st}
	f.addLocation(f.location, "A-01")
	f.addProduct(f.product, "SKU-1", nil)
	return f
}

func (f *fixture) addProduct(id uuid.UUID, code string, unitCost *decimal.Decimal) {
	f.repo.st.products[id] = ProductInfo{ID: id, Code: code, Name: code, UnitCost: unitCost}
}

func (f *fixture) addLocation(id uuid.UUID, code string) {
	f.repo.st.locations[id] = LocationInfo{ID: id, Code: code, WarehouseID: f.warehouse, WarehouseName: "Main"}
}

func (f *fixture) addStock(productID, locationID uuid.UUID, qty string) Stock {
	stock := Stock{ID: uuid.New(), ProductID: productID, LocationID: locationID, Quantity: d(qty), Version: 1}
	f.repo.st.stocks[stock.ID] = stock
	return stock
}

func (f *fixture) nextID() int64 {
	f.repo.st.nextRowID++
	return f.repo.st.nextRowID
}

func (f *fixture) doc(productID, locationID uuid.UUID, at time.Time, dir Direction, qty string) {
	f.repo.st.documents = append(f.repo.st.documents, ledgerEntry{row: LedgerRow{
		ID: f.nextID(), ProductID: productID, LocationID: locationID, Reference: "DOC", Quantity: d(qty), Direction: dir, OccurredAt: at,
	}})
}

func (f *fixture) count(productID, locationID uuid.UUID, at time.Time, qty string) {
	f.repo.st.inventories = append(f.repo.st.inventories, ledgerEntry{row: LedgerRow{
		ID: f.nextID(), ProductID: productID, LocationID: locationID, Reference: "INV", Quantity: d(qty), OccurredAt: at,
	}})
}

func (f *fixture) manual(productID, locationID uuid.UUID, at time.Time, qty string) {
	f.repo.st.manuals = append(f.repo.st.manuals, ledgerEntry{source: "USER", row: LedgerRow{
		ID: f.nextID(), ProductID: productID, LocationID: locationID, Reference: "MAN", Quantity: d(qty), OccurredAt: at,
	}})
}

func (f *fixture) stock(id uuid.UUID) Stock {
	return f.repo.state().stocks[id]
}

func (f *fixture) service(cfg ServiceConfig) *Service {
	return NewService(f.repo, f.audit, cfg, nil)
}
