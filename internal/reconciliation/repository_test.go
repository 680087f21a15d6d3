package reconciliation

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
)

func TestLedgerQueryExcludesAdjustmentsOnlyForManuals(t *testing.T) {
	tenant := uuid.New()
	manualSQL, _ := ledgerQuery(manualSource, tenant, LedgerFilter{})
	require.Contains(t, manualSQL, "FROM manual_movements m")
	require.Contains(t, manualSQL, "m.source <> 'RECONCILIATION'")

	docSQL, _ := ledgerQuery(documentSource, tenant, LedgerFilter{})
	require.Contains(t, docSQL, "FROM document_movements m")
	require.NotContains(t, docSQL, "RECONCILIATION")

	invSQL, _ := ledgerQuery(inventorySource, tenant, LedgerFilter{})
	require.Contains(t, invSQL, "m.counted_quantity::text")
	require.True(t, strings.HasSuffix(invSQL, "ORDER BY m.occurred_at, m.id"))
}

func TestLedgerQueryArgs(t *testing.T) {
	tenant := uuid.New()
	warehouse := uuid.New()
	from := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	_, args := ledgerQuery(documentSource, tenant, LedgerFilter{From: from, WarehouseID: warehouse})
	require.Len(t, args, 6)
	require.Equal(t, tenant, args[0])
	require.Equal(t, pgtype.Timestamptz{Time: from, Valid: true}, args[1])
	require.False(t, args[2].(pgtype.Timestamptz).Valid)
	require.Equal(t, pgtype.UUID{Bytes: warehouse, Valid: true}, args[3])
	require.False(t, args[4].(pgtype.UUID).Valid)
	require.False(t, args[5].(pgtype.UUID).Valid)
}
