package shared

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestAuditLogValidate(t *testing.T) {
	tenant := uuid.New()
	valid := AuditLog{TenantID: tenant, Action: "reconciliation:apply", Entity: "stock", EntityID: "batch"}
	require.NoError(t, valid.Validate())

	noTenant := valid
	noTenant.TenantID = uuid.Nil
	require.Error(t, noTenant.Validate())

	noEntity := valid
	noEntity.EntityID = ""
	require.Error(t, noEntity.Validate())
}

func TestAuditLoggerRequiresPool(t *testing.T) {
	var logger *AuditLogger
	require.Error(t, logger.Record(context.Background(), AuditLog{}))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	require.False(t, ok)

	p := Principal{TenantID: uuid.New(), ActorID: uuid.New()}
	got, ok := PrincipalFromContext(ContextWithPrincipal(context.Background(), p))
	require.True(t, ok)
	require.Equal(t, p, got)
}

func TestReconciliationScanLockKeyIsPerTenant(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	require.NotEqual(t, ReconciliationScanLockKey(a), ReconciliationScanLockKey(b))
	require.Equal(t, ReconciliationScanLockKey(a), ReconciliationScanLockKey(a))
	require.Contains(t, ReconciliationScanLockKey(a), a.String())
}
