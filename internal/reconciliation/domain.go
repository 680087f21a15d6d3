package reconciliation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockrecon/internal/platform/httpx"
)

// MovementKind enumerates the ledger origins a movement can come from.
type MovementKind uint8

const (
	// KindInventory is a physical count; it replaces the running quantity.
	KindInventory MovementKind = iota + 1
	// KindDocument is a posting from a warehouse document.
	KindDocument
	// KindManual is a free-form manual movement.
	KindManual
)

// String returns the wire name of the kind.
func (k MovementKind) String() string {
	switch k {
	case KindInventory:
		return "INVENTORY"
	case KindDocument:
		return "DOCUMENT"
	case KindManual:
		return "MANUAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k MovementKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("reconciliation: invalid movement kind %d", k)
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *MovementKind) UnmarshalText(text []byte) error {
	for _, candidate := range []MovementKind{KindInventory, KindDocument, KindManual} {
		if strings.EqualFold(string(text), candidate.String()) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("reconciliation: unknown movement kind %q", text)
}

// Valid reports whether k is one of the declared kinds.
func (k MovementKind) Valid() bool {
	return k >= KindInventory && k <= KindManual
}

// Severity classifies the gap between calculated and recorded quantity.
// Values are ordered: Correct < Minor < Major < Missing.
type Severity uint8

const (
	SeverityCorrect Severity = iota
	SeverityMinor
	SeverityMajor
	SeverityMissing
)

// Severities lists every tier in ascending order.
var Severities = []Severity{SeverityCorrect, SeverityMinor, SeverityMajor, SeverityMissing}

func (s Severity) String() string {
	switch s {
	case SeverityCorrect:
		return "CORRECT"
	case SeverityMinor:
		return "MINOR"
	case SeverityMajor:
		return "MAJOR"
	case SeverityMissing:
		return "MISSING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if s > SeverityMissing {
		return nil, fmt.Errorf("reconciliation: invalid severity %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity resolves a severity from its wire name, case-insensitively.
func ParseSeverity(value string) (Severity, error) {
	for _, s := range Severities {
		if strings.EqualFold(value, s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("reconciliation: unknown severity %q", value)
}

// Direction is the sign recorded on a document posting.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Metadata carries audit columns alongside domain data.
type Metadata struct {
	CreatedAt time.Time
	CreatedBy uuid.UUID
	DeletedAt *time.Time
}

// Deleted reports whether the record has been soft deleted.
func (m Metadata) Deleted() bool {
	return m.DeletedAt != nil
}

// MovementSource is the normalised, read-only projection of a ledger row.
type MovementSource struct {
	Kind           MovementKind    `json:"kind"`
	Reference      string          `json:"reference"`
	SignedQuantity decimal.Decimal `json:"signed_quantity"`
	OccurredAt     time.Time       `json:"occurred_at"`
	IsReplacement  bool            `json:"is_replacement"`
	Sequence       int64           `json:"-"`
}

// LedgerRow is a raw movement row as stored by one of the three origins.
type LedgerRow struct {
	ID         int64
	ProductID  uuid.UUID
	LocationID uuid.UUID
	Reference  string
	Quantity   decimal.Decimal
	Direction  Direction
	OccurredAt time.Time
}

// LedgerFilter scopes ledger queries. Zero values mean "any".
type LedgerFilter struct {
	From        time.Time
	To          time.Time
	WarehouseID uuid.UUID
	LocationID  uuid.UUID
	ProductID   uuid.UUID
}

// ProductInfo is the product master data the engine needs.
type ProductInfo struct {
	ID       uuid.UUID
	Code     string
	Name     string
	UnitCost *decimal.Decimal
	Metadata Metadata
}

// LocationInfo is the location master data the engine needs.
type LocationInfo struct {
	ID            uuid.UUID
	Code          string
	WarehouseID   uuid.UUID
	WarehouseName string
	Metadata      Metadata
}

// Stock is the live stock record for a product at a location.
type Stock struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	LocationID uuid.UUID
	Quantity   decimal.Decimal
	Version    int64
	Metadata   Metadata
}

// Adjustment is the compensating movement written when a correction is applied.
type Adjustment struct {
	ID           uuid.UUID
	StockID      uuid.UUID
	ProductID    uuid.UUID
	LocationID   uuid.UUID
	TrackingCode string
	Quantity     decimal.Decimal
	Reason       string
	OccurredAt   time.Time
	CreatedBy    uuid.UUID
}

// MovementTypeAdjustment tags adjustment movements in the manual ledger.
const MovementTypeAdjustment = "Adjustment"

// AdjustmentSource marks manual movements written by the applier.
const AdjustmentSource = "RECONCILIATION"

// Item is the per product/location reconciliation outcome. Never persisted.
type Item struct {
	StockID              uuid.UUID        `json:"stock_id"`
	ProductID            uuid.UUID        `json:"product_id"`
	LocationID           uuid.UUID        `json:"location_id"`
	ProductCode          string           `json:"product_code"`
	WarehouseName        string           `json:"warehouse_name"`
	LocationCode         string           `json:"location_code"`
	CurrentQuantity      decimal.Decimal  `json:"current_quantity"`
	CalculatedQuantity   decimal.Decimal  `json:"calculated_quantity"`
	Difference           decimal.Decimal  `json:"difference"`
	DifferencePercentage decimal.Decimal  `json:"difference_percentage"`
	Severity             Severity         `json:"severity"`
	SourceMovements      []MovementSource `json:"source_movements"`
	DocumentCount        int              `json:"document_count"`
	InventoryCount       int              `json:"inventory_count"`
	ManualCount          int              `json:"manual_count"`
	UnitCost             *decimal.Decimal `json:"unit_cost,omitempty"`
}

// Summary aggregates a reconciliation run.
type Summary struct {
	TotalItems           int             `json:"total_items"`
	Correct              int             `json:"correct"`
	Minor                int             `json:"minor"`
	Major                int             `json:"major"`
	Missing              int             `json:"missing"`
	Skipped              int             `json:"skipped"`
	ExcludedMovements    int             `json:"excluded_movements"`
	TotalDifferenceValue decimal.Decimal `json:"total_difference_value"`
}

// Count returns the number of items in the given tier.
func (s Summary) Count(severity Severity) int {
	switch severity {
	case SeverityCorrect:
		return s.Correct
	case SeverityMinor:
		return s.Minor
	case SeverityMajor:
		return s.Major
	case SeverityMissing:
		return s.Missing
	}
	return 0
}

// SkippedItem records a product/location that could not be reconciled.
type SkippedItem struct {
	ProductID  uuid.UUID `json:"product_id"`
	LocationID uuid.UUID `json:"location_id"`
	Reason     string    `json:"reason"`
}

// Request scopes a reconciliation run.
type Request struct {
	FromDate              time.Time
	ToDate                time.Time
	WarehouseID           uuid.UUID
	LocationID            uuid.UUID
	ProductID             uuid.UUID
	IncludeDocuments      bool
	IncludeInventories    bool
	OnlyWithDiscrepancies bool
	StartingQuantity      decimal.Decimal
	DiscrepancyThreshold  *decimal.Decimal
}

// DefaultRequest returns a request with the documented defaults.
func DefaultRequest() Request {
	return Request{IncludeDocuments: true, IncludeInventories: true}
}

// Validate ensures the request is well formed.
func (r Request) Validate() error {
	if !r.FromDate.IsZero() && !r.ToDate.IsZero() && r.FromDate.After(r.ToDate) {
		return &ValidationError{Field: "to_date", Message: "must not be before from_date"}
	}
	if r.DiscrepancyThreshold != nil {
		if err := validateThreshold(*r.DiscrepancyThreshold); err != nil {
			return err
		}
	}
	return nil
}

func validateThreshold(threshold decimal.Decimal) error {
	if threshold.IsNegative() || threshold.GreaterThan(decimal.NewFromInt(100)) {
		return &ValidationError{Field: "discrepancy_threshold", Message: "must be between 0 and 100"}
	}
	return nil
}

// Response is the outcome of a reconciliation run.
type Response struct {
	Items   []Item        `json:"items"`
	Summary Summary       `json:"summary"`
	Skipped []SkippedItem `json:"skipped"`
}

// ApplyRequest selects stock rows to correct.
type ApplyRequest struct {
	ItemsToApply              []uuid.UUID `json:"items_to_apply" validate:"required,min=1,dive,required"`
	Reason                    string      `json:"reason" validate:"required,max=500"`
	CreateAdjustmentMovements bool        `json:"create_adjustment_movements"`
	ActorID                   uuid.UUID   `json:"-"`
}

// NewApplyRequest builds an ApplyRequest with adjustment movements enabled.
func NewApplyRequest(reason string, stockIDs ...uuid.UUID) ApplyRequest {
	return ApplyRequest{ItemsToApply: stockIDs, Reason: reason, CreateAdjustmentMovements: true}
}

// ApplyResult reports the outcome of an apply call.
type ApplyResult struct {
	UpdatedCount         int             `json:"updated_count"`
	MovementsCreated     int             `json:"movements_created"`
	TotalAdjustmentValue decimal.Decimal `json:"total_adjustment_value"`
	UpdatedStockIDs      []uuid.UUID     `json:"updated_stock_ids"`
	Success              bool            `json:"success"`
	ErrorMessage         string          `json:"error_message,omitempty"`
}

var (
	// ErrStockNotFound indicates a missing stock row.
	ErrStockNotFound = errors.New("reconciliation: stock not found")
	// ErrProductNotFound indicates a missing or deleted product.
	ErrProductNotFound = errors.New("reconciliation: product not found")
	// ErrLocationNotFound indicates a missing or deleted location.
	ErrLocationNotFound = errors.New("reconciliation: location not found")
	// ErrConcurrentUpdate indicates the stock version changed under the update.
	ErrConcurrentUpdate = errors.New("reconciliation: stock modified concurrently")
	// ErrTenantRequired indicates a call without tenant scope.
	ErrTenantRequired = &ValidationError{Field: "tenant_id", Message: "required"}
)

// ValidationError reports a malformed request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("reconciliation: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return httpx.ErrValidation }

// NotFoundError reports an entity that disappeared before apply.
type NotFoundError struct {
	Entity string
	ID     uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("reconciliation: %s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return httpx.ErrNotFound }

// TransientStoreError wraps a persistence failure. The engine never retries it.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("reconciliation: %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }
