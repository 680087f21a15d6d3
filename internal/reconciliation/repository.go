package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockrecon/internal/platform/db"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists reconciliation data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	queries
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: queries{q: pool}}
}

type txRepo struct {
	queries
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{queries: queries{q: tx}})
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrConcurrentUpdate, err)
	}
	return err
}

type queries struct {
	q querier
}

// ledgerSource describes how one origin table maps onto LedgerRow.
type ledgerSource struct {
	table     string
	reference string
	quantity  string
	direction string
	extra     string
}

var (
	documentSource = ledgerSource{
		table:     "document_movements",
		reference: "m.document_ref",
		quantity:  "m.quantity",
		direction: "m.direction",
	}
	inventorySource = ledgerSource{
		table:     "inventory_counts",
		reference: "m.inventory_ref",
		quantity:  "m.counted_quantity",
		direction: "''",
	}
	// Adjustments written by the applier are corrections of the ledger, not
	// part of it, so they never feed the replay.
	manualSource = ledgerSource{
		table:     "manual_movements",
		reference: "m.tracking_code",
		quantity:  "m.quantity",
		direction: "''",
		extra:     " AND m.source <> '" + AdjustmentSource + "'",
	}
)

func ledgerQuery(src ledgerSource, tenantID uuid.UUID, filter LedgerFilter) (string, []any) {
	sql := fmt.Sprintf(`SELECT m.id, m.product_id, m.location_id, %s, %s::text, %s, m.occurred_at
FROM %s m
JOIN locations l ON l.id = m.location_id AND l.tenant_id = m.tenant_id
WHERE m.tenant_id = $1
  AND ($2::timestamptz IS NULL OR m.occurred_at >= $2)
  AND ($3::timestamptz IS NULL OR m.occurred_at <= $3)
  AND ($4::uuid IS NULL OR l.warehouse_id = $4)
  AND ($5::uuid IS NULL OR m.location_id = $5)
  AND ($6::uuid IS NULL OR m.product_id = $6)%s
ORDER BY m.occurred_at, m.id`, src.reference, src.quantity, src.direction, src.table, src.extra)
	args := []any{
		tenantID,
		timestamptz(filter.From),
		timestamptz(filter.To),
		optionalUUID(filter.WarehouseID),
		optionalUUID(filter.LocationID),
		optionalUUID(filter.ProductID),
	}
	return sql, args
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

func optionalUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func (q queries) ledger(ctx context.Context, src ledgerSource, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	sql, args := ledgerQuery(src, tenantID, filter)
	rows, err := q.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerRow
	for rows.Next() {
		var (
			row       LedgerRow
			quantity  string
			direction string
		)
		if err := rows.Scan(&row.ID, &row.ProductID, &row.LocationID, &row.Reference, &quantity, &direction, &row.OccurredAt); err != nil {
			return nil, err
		}
		row.Quantity, err = decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: parse quantity: %w", src.table, row.ID, err)
		}
		row.Direction = Direction(direction)
		out = append(out, row)
	}
	return out, rows.Err()
}

// DocumentMovements returns warehouse document postings in scope.
func (q queries) DocumentMovements(ctx context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	return q.ledger(ctx, documentSource, tenantID, filter)
}

// InventoryCounts returns physical count lines in scope.
func (q queries) InventoryCounts(ctx context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	return q.ledger(ctx, inventorySource, tenantID, filter)
}

// ManualMovements returns manual movements in scope, excluding reconciliation adjustments.
func (q queries) ManualMovements(ctx context.Context, tenantID uuid.UUID, filter LedgerFilter) ([]LedgerRow, error) {
	return q.ledger(ctx, manualSource, tenantID, filter)
}

// GetProductInfo loads product master data, including soft deleted rows.
func (q queries) GetProductInfo(ctx context.Context, tenantID, productID uuid.UUID) (ProductInfo, error) {
	const sql = `SELECT id, code, name, unit_cost::text, created_at, COALESCE(created_by, '00000000-0000-0000-0000-000000000000'::uuid), deleted_at
FROM products WHERE tenant_id = $1 AND id = $2`
	var (
		info     ProductInfo
		unitCost *string
	)
	err := q.q.QueryRow(ctx, sql, tenantID, productID).Scan(&info.ID, &info.Code, &info.Name, &unitCost,
		&info.Metadata.CreatedAt, &info.Metadata.CreatedBy, &info.Metadata.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductInfo{}, ErrProductNotFound
	}
	if err != nil {
		return ProductInfo{}, err
	}
	if unitCost != nil {
		cost, err := decimal.NewFromString(*unitCost)
		if err != nil {
			return ProductInfo{}, fmt.Errorf("product %s: parse unit cost: %w", productID, err)
		}
		info.UnitCost = &cost
	}
	return info, nil
}

// GetLocationInfo loads location master data with its warehouse name.
func (q queries) GetLocationInfo(ctx context.Context, tenantID, locationID uuid.UUID) (LocationInfo, error) {
	const sql = `SELECT l.id, l.code, l.warehouse_id, w.name, l.created_at, COALESCE(l.created_by, '00000000-0000-0000-0000-000000000000'::uuid), COALESCE(l.deleted_at, w.deleted_at)
FROM locations l
JOIN warehouses w ON w.id = l.warehouse_id
WHERE l.tenant_id = $1 AND l.id = $2`
	var info LocationInfo
	err := q.q.QueryRow(ctx, sql, tenantID, locationID).Scan(&info.ID, &info.Code, &info.WarehouseID, &info.WarehouseName,
		&info.Metadata.CreatedAt, &info.Metadata.CreatedBy, &info.Metadata.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LocationInfo{}, ErrLocationNotFound
	}
	if err != nil {
		return LocationInfo{}, err
	}
	return info, nil
}

const stockColumns = `id, product_id, location_id, quantity::text, version, created_at, COALESCE(created_by, '00000000-0000-0000-0000-000000000000'::uuid), deleted_at`

func scanStock(row pgx.Row) (Stock, error) {
	var (
		stock    Stock
		quantity string
	)
	err := row.Scan(&stock.ID, &stock.ProductID, &stock.LocationID, &quantity, &stock.Version,
		&stock.Metadata.CreatedAt, &stock.Metadata.CreatedBy, &stock.Metadata.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, ErrStockNotFound
	}
	if err != nil {
		return Stock{}, err
	}
	stock.Quantity, err = decimal.NewFromString(quantity)
	if err != nil {
		return Stock{}, fmt.Errorf("stock %s: parse quantity: %w", stock.ID, err)
	}
	return stock, nil
}

// FindStock returns the stock row for a product at a location.
func (q queries) FindStock(ctx context.Context, tenantID, productID, locationID uuid.UUID) (Stock, error) {
	sql := `SELECT ` + stockColumns + ` FROM stocks WHERE tenant_id = $1 AND product_id = $2 AND location_id = $3`
	return scanStock(q.q.QueryRow(ctx, sql, tenantID, productID, locationID))
}

// GetStockForUpdate locks the stock row for the remainder of the transaction.
func (q queries) GetStockForUpdate(ctx context.Context, tenantID, stockID uuid.UUID) (Stock, error) {
	sql := `SELECT ` + stockColumns + ` FROM stocks WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	return scanStock(q.q.QueryRow(ctx, sql, tenantID, stockID))
}

// UpdateStockQuantity overwrites the quantity when the version still matches.
func (q queries) UpdateStockQuantity(ctx context.Context, tenantID uuid.UUID, stock Stock, quantity decimal.Decimal) error {
	tag, err := q.q.Exec(ctx, `UPDATE stocks SET quantity = $3::numeric, version = version + 1, updated_at = NOW()
WHERE tenant_id = $1 AND id = $2 AND version = $4`, tenantID, stock.ID, quantity.String(), stock.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// InsertAdjustment records the compensating manual movement of an applied correction.
func (q queries) InsertAdjustment(ctx context.Context, tenantID uuid.UUID, adj Adjustment) error {
	var createdBy pgtype.UUID
	if adj.CreatedBy != uuid.Nil {
		createdBy = pgtype.UUID{Bytes: adj.CreatedBy, Valid: true}
	}
	_, err := q.q.Exec(ctx, `INSERT INTO manual_movements
(tenant_id, uid, tracking_code, stock_id, product_id, location_id, quantity, movement_type, source, reason, occurred_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12)`,
		tenantID, adj.ID, adj.TrackingCode, adj.StockID, adj.ProductID, adj.LocationID, adj.Quantity.String(),
		MovementTypeAdjustment, AdjustmentSource, adj.Reason, adj.OccurredAt, createdBy)
	return err
}

// ListTenants returns tenants owning at least one stock row. Used by the scan scheduler.
func (r *Repository) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM stocks WHERE deleted_at IS NULL ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
