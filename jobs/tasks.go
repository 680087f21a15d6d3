package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconciliationScan runs a reconciliation for one tenant and reports discrepancies.
	TaskReconciliationScan = "reconciliation:scan"
	// TaskIdempotencyCleanup prunes expired apply idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ReconciliationScanPayload scopes a background scan.
type ReconciliationScanPayload struct {
	TenantID     uuid.UUID        `json:"tenant_id"`
	WarehouseID  *uuid.UUID       `json:"warehouse_id,omitempty"`
	Threshold    *decimal.Decimal `json:"threshold,omitempty"`
	ScheduledFor time.Time        `json:"scheduled_for"`
}

// ErrInvalidScanPayload indicates a payload that can never succeed.
var ErrInvalidScanPayload = errors.New("jobs: invalid reconciliation scan payload")

// Validate checks the payload before enqueueing or processing.
func (p ReconciliationScanPayload) Validate() error {
	if p.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant_id required", ErrInvalidScanPayload)
	}
	if p.Threshold != nil && (p.Threshold.IsNegative() || p.Threshold.GreaterThan(decimal.NewFromInt(100))) {
		return fmt.Errorf("%w: threshold must be between 0 and 100", ErrInvalidScanPayload)
	}
	return nil
}

// NewReconciliationScanTask constructs an Asynq task for a reconciliation scan.
func NewReconciliationScanTask(payload ReconciliationScanPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconciliationScan, body, asynq.Queue(QueueDefault)), nil
}

// ParseReconciliationScanPayload decodes and validates a task body.
func ParseReconciliationScanPayload(t *asynq.Task) (ReconciliationScanPayload, error) {
	var payload ReconciliationScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return ReconciliationScanPayload{}, fmt.Errorf("%w: %v", ErrInvalidScanPayload, err)
	}
	if err := payload.Validate(); err != nil {
		return ReconciliationScanPayload{}, err
	}
	return payload, nil
}

// NewIdempotencyCleanupTask constructs the payload-less cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}
