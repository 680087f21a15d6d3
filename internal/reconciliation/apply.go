package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockrecon/internal/shared"
)

// Apply corrects the selected stock rows inside a single transaction. The
// calculated quantity of every row is recomputed under its row lock; values
// from an earlier Reconcile call are never trusted. Validation failures are
// returned as errors. Any other failure rolls the whole transaction back and
// is reported through ApplyResult with Success=false.
func (s *Service) Apply(ctx context.Context, tenantID uuid.UUID, req ApplyRequest) (ApplyResult, error) {
	if tenantID == uuid.Nil {
		return ApplyResult{}, ErrTenantRequired
	}
	if err := s.ValidateApply(req); err != nil {
		return ApplyResult{}, err
	}
	ids := uniqueSorted(req.ItemsToApply)
	reason := strings.TrimSpace(req.Reason)

	var result ApplyResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = ApplyResult{TotalAdjustmentValue: decimal.Zero, UpdatedStockIDs: []uuid.UUID{}}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			stock, err := tx.GetStockForUpdate(ctx, tenantID, id)
			if errors.Is(err, ErrStockNotFound) || (err == nil && stock.Metadata.Deleted()) {
				return &NotFoundError{Entity: "stock", ID: id}
			}
			if err != nil {
				return &TransientStoreError{Op: "lock stock", Err: err}
			}
			calculated, err := s.recompute(ctx, tx, tenantID, stock)
			if err != nil {
				return err
			}
			delta := calculated.Sub(stock.Quantity)
			if delta.IsZero() {
				continue
			}
			if err := tx.UpdateStockQuantity(ctx, tenantID, stock, calculated); err != nil {
				return &TransientStoreError{Op: "update stock", Err: err}
			}
			if req.CreateAdjustmentMovements {
				adjID := s.newID()
				adj := Adjustment{
					ID:           adjID,
					StockID:      stock.ID,
					ProductID:    stock.ProductID,
					LocationID:   stock.LocationID,
					TrackingCode: adjustmentCode(adjID),
					Quantity:     delta,
					Reason:       reason,
					OccurredAt:   s.now().UTC(),
					CreatedBy:    req.ActorID,
				}
				if err := tx.InsertAdjustment(ctx, tenantID, adj); err != nil {
					return &TransientStoreError{Op: "insert adjustment", Err: err}
				}
				result.MovementsCreated++
			}
			result.UpdatedCount++
			result.UpdatedStockIDs = append(result.UpdatedStockIDs, stock.ID)
			result.TotalAdjustmentValue = result.TotalAdjustmentValue.Add(delta.Abs())
		}
		return nil
	})
	if err != nil {
		failed := ApplyResult{TotalAdjustmentValue: decimal.Zero, UpdatedStockIDs: []uuid.UUID{}, Success: false, ErrorMessage: err.Error()}
		s.logger.Error("reconciliation apply failed",
			slog.String("tenant_id", tenantID.String()),
			slog.Int("requested", len(ids)),
			slog.Any("error", err))
		s.recordAudit(ctx, tenantID, req, ids, failed)
		s.cfg.Metrics.ObserveApply(false)
		return failed, nil
	}

	result.Success = true
	s.logger.Info("reconciliation apply committed",
		slog.String("tenant_id", tenantID.String()),
		slog.Int("updated", result.UpdatedCount),
		slog.Int("movements", result.MovementsCreated),
		slog.String("total_adjustment", result.TotalAdjustmentValue.String()))
	s.recordAudit(ctx, tenantID, req, ids, result)
	s.cfg.Metrics.ObserveApply(true)
	return result, nil
}

// ValidateApply checks an ApplyRequest without touching the store.
func (s *Service) ValidateApply(req ApplyRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{Field: fe.Field(), Message: validationMessage(fe)}
		}
		return &ValidationError{Field: "request", Message: err.Error()}
	}
	if strings.TrimSpace(req.Reason) == "" {
		return &ValidationError{Field: "reason", Message: "is required"}
	}
	return nil
}

func (s *Service) recompute(ctx context.Context, tx TxRepository, tenantID uuid.UUID, stock Stock) (decimal.Decimal, error) {
	product, err := tx.GetProductInfo(ctx, tenantID, stock.ProductID)
	if errors.Is(err, ErrProductNotFound) || (err == nil && product.Metadata.Deleted()) {
		return decimal.Zero, &NotFoundError{Entity: "product", ID: stock.ProductID}
	}
	if err != nil {
		return decimal.Zero, &TransientStoreError{Op: "lookup product", Err: err}
	}
	location, err := tx.GetLocationInfo(ctx, tenantID, stock.LocationID)
	if errors.Is(err, ErrLocationNotFound) || (err == nil && location.Metadata.Deleted()) {
		return decimal.Zero, &NotFoundError{Entity: "location", ID: stock.LocationID}
	}
	if err != nil {
		return decimal.Zero, &TransientStoreError{Op: "lookup location", Err: err}
	}

	read, err := NewReader(tx, tx).Read(ctx, tenantID, ReadFilter{
		ProductID:          stock.ProductID,
		LocationID:         stock.LocationID,
		IncludeDocuments:   true,
		IncludeInventories: true,
	})
	if err != nil {
		return decimal.Zero, err
	}
	if len(read.Unresolved) > 0 {
		return decimal.Zero, &TransientStoreError{Op: "resolve movements", Err: read.Unresolved[0].Err}
	}
	key := Key{ProductID: stock.ProductID, LocationID: stock.LocationID}
	for _, group := range read.Groups {
		if group.Key == key {
			return Replay(decimal.Zero, group.Movements), nil
		}
	}
	return decimal.Zero, nil
}

func (s *Service) recordAudit(ctx context.Context, tenantID uuid.UUID, req ApplyRequest, ids []uuid.UUID, result ApplyResult) {
	if s.audit == nil {
		return
	}
	requested := make([]string, len(ids))
	for i, id := range ids {
		requested[i] = id.String()
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		TenantID: tenantID,
		ActorID:  req.ActorID,
		Action:   "reconciliation:apply",
		Entity:   "stock_reconciliation",
		EntityID: s.newID().String(),
		Meta: map[string]any{
			"reason":            strings.TrimSpace(req.Reason),
			"requested":         requested,
			"updated_count":     result.UpdatedCount,
			"movements_created": result.MovementsCreated,
			"total_adjustment":  result.TotalAdjustmentValue.String(),
			"success":           result.Success,
			"error":             result.ErrorMessage,
		},
		At: s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("reconciliation audit", slog.Any("error", err))
	}
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	// Stable lock order across concurrent apply calls.
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func adjustmentCode(id uuid.UUID) string {
	return fmt.Sprintf("ADJ-%s", strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12]))
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s entries", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
