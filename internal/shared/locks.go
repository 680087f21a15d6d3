package shared

import "github.com/google/uuid"

// ReconciliationScanLockKey builds the redis key guarding one scan per tenant.
func ReconciliationScanLockKey(tenantID uuid.UUID) string {
	return "reconciliation:scan:" + tenantID.String() + ":lock"
}
