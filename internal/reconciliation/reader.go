package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// LedgerPort queries raw movement rows for the three origins.
type LedgerPort interface {
	DocumentMovements(ctx context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error)
	InventoryCounts(ctx context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error)
	ManualMovements(ctx context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error)
}

// LookupPort resolves product and location master data.
type LookupPort interface {
	GetProductInfo(ctx context.Context, tenantID, productID uuid.UUID) (ProductInfo, error)
	GetLocationInfo(ctx context.Context, tenantID, locationID uuid.UUID) (LocationInfo, error)
}

// ReadFilter scopes a Reader call.
type ReadFilter struct {
	From               time.Time
	To                 time.Time
	WarehouseID        uuid.UUID
	LocationID         uuid.UUID
	ProductID          uuid.UUID
	IncludeDocuments   bool
	IncludeInventories bool
}

// Key identifies a product at a location.
type Key struct {
	ProductID  uuid.UUID
	LocationID uuid.UUID
}

func (k Key) String() string {
	return k.ProductID.String() + "@" + k.LocationID.String()
}

// MovementGroup holds every movement for one product/location pair.
type MovementGroup struct {
	Key       Key
	Product   ProductInfo
	Location  LocationInfo
	Movements []MovementSource
}

// UnresolvedKey is a product/location whose master data lookup failed for a
// reason other than the record being missing.
type UnresolvedKey struct {
	Key Key
	Err error
}

// ReadResult is the Reader output.
type ReadResult struct {
	Groups     []MovementGroup
	Unresolved []UnresolvedKey
	// Excluded counts movements dropped because their product or location is
	// missing or deleted.
	Excluded int
}

// Reader gathers movements from the ledger and normalises them.
type Reader struct {
	ledger LedgerPort
	lookup LookupPort
}

// NewReader constructs a Reader.
func NewReader(ledger LedgerPort, lookup LookupPort) *Reader {
	return &Reader{ledger: ledger, lookup: lookup}
}

// Read returns the movements in scope grouped per product/location. Groups are
// ordered by key; movements within a group are in ledger order, not replay order.
func (r *Reader) Read(ctx context.Context, tenantID uuid.UUID, filter ReadFilter) (ReadResult, error) {
	if tenantID == uuid.Nil {
		return ReadResult{}, ErrTenantRequired
	}
	ledgerFilter := LedgerFilter{
		From:        filter.From,
		To:          filter.To,
		WarehouseID: filter.WarehouseID,
		LocationID:  filter.LocationID,
		ProductID:   filter.ProductID,
	}

	grouped := make(map[Key][]MovementSource)
	var seq int64
	collect := func(kind MovementKind, rows []LedgerRow) {
		for _, row := range rows {
			seq++
			key := Key{ProductID: row.ProductID, LocationID: row.LocationID}
			grouped[key] = append(grouped[key], normalise(kind, row, seq))
		}
	}

	if filter.IncludeDocuments {
		rows, err := r.ledger.DocumentMovements(ctx, tenantID, ledgerFilter)
		if err != nil {
			return ReadResult{}, &TransientStoreError{Op: "read document movements", Err: err}
		}
		collect(KindDocument, rows)
	}
	if filter.IncludeInventories {
		rows, err := r.ledger.InventoryCounts(ctx, tenantID, ledgerFilter)
		if err != nil {
			return ReadResult{}, &TransientStoreError{Op: "read inventory counts", Err: err}
		}
		collect(KindInventory, rows)
	}
	rows, err := r.ledger.ManualMovements(ctx, tenantID, ledgerFilter)
	if err != nil {
		return ReadResult{}, &TransientStoreError{Op: "read manual movements", Err: err}
	}
	collect(KindManual, rows)

	keys := make([]Key, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	resolver := newResolver(r.lookup, tenantID)
	result := ReadResult{Groups: make([]MovementGroup, 0, len(keys))}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return ReadResult{}, err
		}
		movements := grouped[key]
		product, location, err := resolver.resolve(ctx, key)
		switch {
		case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrLocationNotFound):
			result.Excluded += len(movements)
			continue
		case err != nil:
			result.Unresolved = append(result.Unresolved, UnresolvedKey{Key: key, Err: err})
			continue
		}
		result.Groups = append(result.Groups, MovementGroup{
			Key:       key,
			Product:   product,
			Location:  location,
			Movements: movements,
		})
	}
	return result, nil
}

func normalise(kind MovementKind, row LedgerRow, seq int64) MovementSource {
	m := MovementSource{
		Kind:           kind,
		Reference:      row.Reference,
		SignedQuantity: row.Quantity,
		OccurredAt:     row.OccurredAt,
		Sequence:       seq,
	}
	switch kind {
	case KindDocument:
		if row.Direction == DirectionOut {
			m.SignedQuantity = row.Quantity.Abs().Neg()
		} else {
			m.SignedQuantity = row.Quantity.Abs()
		}
	case KindInventory:
		m.IsReplacement = true
	}
	return m
}

// resolver memoises master data lookups for the duration of one read.
type resolver struct {
	lookup    LookupPort
	tenantID  uuid.UUID
	products  map[uuid.UUID]lookupResult[ProductInfo]
	locations map[uuid.UUID]lookupResult[LocationInfo]
}

type lookupResult[T any] struct {
	value T
	err   error
}

func newResolver(lookup LookupPort, tenantID uuid.UUID) *resolver {
	return &resolver{
		lookup:    lookup,
		tenantID:  tenantID,
		products:  make(map[uuid.UUID]lookupResult[ProductInfo]),
		locations: make(map[uuid.UUID]lookupResult[LocationInfo]),
	}
}

func (r *resolver) resolve(ctx context.Context, key Key) (ProductInfo, LocationInfo, error) {
	product, err := r.product(ctx, key.ProductID)
	if err != nil {
		return ProductInfo{}, LocationInfo{}, err
	}
	location, err := r.location(ctx, key.LocationID)
	if err != nil {
		return ProductInfo{}, LocationInfo{}, err
	}
	return product, location, nil
}

func (r *resolver) product(ctx context.Context, id uuid.UUID) (ProductInfo, error) {
	if cached, ok := r.products[id]; ok {
		return cached.value, cached.err
	}
	info, err := r.lookup.GetProductInfo(ctx, r.tenantID, id)
	if err == nil && info.Metadata.Deleted() {
		err = ErrProductNotFound
	}
	if err != nil && !errors.Is(err, ErrProductNotFound) {
		err = fmt.Errorf("lookup product %s: %w", id, err)
	}
	r.products[id] = lookupResult[ProductInfo]{value: info, err: err}
	return info, err
}

func (r *resolver) location(ctx context.Context, id uuid.UUID) (LocationInfo, error) {
	if cached, ok := r.locations[id]; ok {
		return cached.value, cached.err
	}
	info, err := r.lookup.GetLocationInfo(ctx, r.tenantID, id)
	if err == nil && info.Metadata.Deleted() {
		err = ErrLocationNotFound
	}
	if err != nil && !errors.Is(err, ErrLocationNotFound) {
		err = fmt.Errorf("lookup location %s: %w", id, err)
	}
	r.locations[id] = lookupResult[LocationInfo]{value: info, err: err}
	return info, err
}
