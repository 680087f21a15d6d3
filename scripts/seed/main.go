package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockrecon/internal/app"
	"github.com/odyssey-erp/stockrecon/internal/platform/db"
)

// demoTenant is fixed so repeated seeds land in the same tenant.
var demoTenant = uuid.MustParse("6f1d3c2a-0000-4000-8000-000000000001")

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Seeding reconciliation demo data...")
	if err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		return seed(ctx, tx)
	}); err != nil {
		log.Fatalf("seed: %v", err)
	}
	fmt.Println("✓ Seed complete for tenant", demoTenant, "at", time.Now().Format(time.RFC3339))
}

type scenario struct {
	code     string
	recorded string
	docs     []docLine
	count    string
	manual   string
}

type docLine struct {
	direction string
	qty       string
}

// Each scenario lands in a different severity tier with the default 10% threshold.
var scenarios = []scenario{
	{code: "SKU-CORRECT", recorded: "7", docs: []docLine{{"IN", "10"}, {"OUT", "3"}}},
	{code: "SKU-MINOR", recorded: "98", docs: []docLine{{"IN", "100"}}},
	{code: "SKU-MAJOR", recorded: "5", docs: []docLine{{"IN", "10"}, {"OUT", "3"}}},
	{code: "SKU-MISSING", recorded: "0", docs: []docLine{{"IN", "10"}}},
	{code: "SKU-COUNTED", recorded: "20", docs: []docLine{{"IN", "10"}}, count: "18", manual: "2"},
}

func seed(ctx context.Context, tx pgx.Tx) error {
	warehouseID := uuid.NewSHA1(demoTenant, []byte("warehouse:MAIN"))
	locationID := uuid.NewSHA1(demoTenant, []byte("location:A-01"))

	if _, err := tx.Exec(ctx, `INSERT INTO warehouses (id, tenant_id, name) VALUES ($1, $2, 'Main')
ON CONFLICT (id) DO NOTHING`, warehouseID, demoTenant); err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO locations (id, tenant_id, warehouse_id, code) VALUES ($1, $2, $3, 'A-01')
ON CONFLICT (id) DO NOTHING`, locationID, demoTenant, warehouseID); err != nil {
		return fmt.Errorf("location: %w", err)
	}

	base := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Hour)
	for _, sc := range scenarios {
		productID := uuid.NewSHA1(demoTenant, []byte("product:"+sc.code))
		stockID := uuid.NewSHA1(demoTenant, []byte("stock:"+sc.code))
		if _, err := tx.Exec(ctx, `INSERT INTO products (id, tenant_id, code, name, unit_cost) VALUES ($1, $2, $3, $3, 12.5)
ON CONFLICT (id) DO NOTHING`, productID, demoTenant, sc.code); err != nil {
			return fmt.Errorf("product %s: %w", sc.code, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO stocks (id, tenant_id, product_id, location_id, quantity) VALUES ($1, $2, $3, $4, $5::numeric)
ON CONFLICT (id) DO UPDATE SET quantity = EXCLUDED.quantity, version = stocks.version + 1, updated_at = NOW()`,
			stockID, demoTenant, productID, locationID, sc.recorded); err != nil {
			return fmt.Errorf("stock %s: %w", sc.code, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM document_movements WHERE tenant_id = $1 AND product_id = $2`, demoTenant, productID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM inventory_counts WHERE tenant_id = $1 AND product_id = $2`, demoTenant, productID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM manual_movements WHERE tenant_id = $1 AND product_id = $2`, demoTenant, productID); err != nil {
			return err
		}
		at := base
		for i, line := range sc.docs {
			if _, err := tx.Exec(ctx, `INSERT INTO document_movements (tenant_id, document_ref, product_id, location_id, quantity, direction, occurred_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`,
				demoTenant, fmt.Sprintf("DOC-%s-%d", sc.code, i+1), productID, locationID, line.qty, line.direction, at); err != nil {
				return fmt.Errorf("document %s: %w", sc.code, err)
			}
			at = at.Add(time.Hour)
		}
		if sc.count != "" {
			if _, err := tx.Exec(ctx, `INSERT INTO inventory_counts (tenant_id, inventory_ref, product_id, location_id, counted_quantity, occurred_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
				demoTenant, "INV-"+sc.code, productID, locationID, sc.count, at); err != nil {
				return fmt.Errorf("count %s: %w", sc.code, err)
			}
			at = at.Add(time.Hour)
		}
		if sc.manual != "" {
			if _, err := tx.Exec(ctx, `INSERT INTO manual_movements (tenant_id, uid, tracking_code, stock_id, product_id, location_id, quantity, movement_type, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, 'Correction', $8)`,
				demoTenant, uuid.New(), "MAN-"+sc.code, stockID, productID, locationID, sc.manual, at); err != nil {
				return fmt.Errorf("manual %s: %w", sc.code, err)
			}
		}
	}
	return nil
}
