package reconciliation

import (
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// runRequestDTO is the wire form of Request.
type runRequestDTO struct {
	FromDate              string           `json:"from_date"`
	ToDate                string           `json:"to_date"`
	WarehouseID           *uuid.UUID       `json:"warehouse_id"`
	LocationID            *uuid.UUID       `json:"location_id"`
	ProductID             *uuid.UUID       `json:"product_id"`
	IncludeDocuments      *bool            `json:"include_documents"`
	IncludeInventories    *bool            `json:"include_inventories"`
	OnlyWithDiscrepancies bool             `json:"only_with_discrepancies"`
	StartingQuantity      *decimal.Decimal `json:"starting_quantity"`
	DiscrepancyThreshold  *decimal.Decimal `json:"discrepancy_threshold"`
}

func (d runRequestDTO) toRequest() (Request, error) {
	req := DefaultRequest()
	var err error
	if req.FromDate, err = ParseDate("from_date", d.FromDate, false); err != nil {
		return Request{}, err
	}
	if req.ToDate, err = ParseDate("to_date", d.ToDate, true); err != nil {
		return Request{}, err
	}
	if d.WarehouseID != nil {
		req.WarehouseID = *d.WarehouseID
	}
	if d.LocationID != nil {
		req.LocationID = *d.LocationID
	}
	if d.ProductID != nil {
		req.ProductID = *d.ProductID
	}
	if d.IncludeDocuments != nil {
		req.IncludeDocuments = *d.IncludeDocuments
	}
	if d.IncludeInventories != nil {
		req.IncludeInventories = *d.IncludeInventories
	}
	req.OnlyWithDiscrepancies = d.OnlyWithDiscrepancies
	if d.StartingQuantity != nil {
		req.StartingQuantity = *d.StartingQuantity
	}
	req.DiscrepancyThreshold = d.DiscrepancyThreshold
	return req, req.Validate()
}

// ParseDate accepts a calendar date or an RFC3339 timestamp. A calendar date
// used as an upper bound covers the whole day.
func ParseDate(field, value string, endOfDay bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(dateLayout, value); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - 1*time.Nanosecond)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Message: "must be YYYY-MM-DD or RFC3339"}
	}
	return t, nil
}

// runRequestFromQuery reads the same fields as runRequestDTO from a query string.
func runRequestFromQuery(q url.Values) (runRequestDTO, error) {
	d := runRequestDTO{FromDate: q.Get("from_date"), ToDate: q.Get("to_date")}
	ids := []struct {
		field  string
		target **uuid.UUID
	}{
		{"warehouse_id", &d.WarehouseID},
		{"location_id", &d.LocationID},
		{"product_id", &d.ProductID},
	}
	for _, id := range ids {
		raw := q.Get(id.field)
		if raw == "" {
			continue
		}
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return runRequestDTO{}, &ValidationError{Field: id.field, Message: "must be a UUID"}
		}
		*id.target = &parsed
	}
	flags := []struct {
		field  string
		target **bool
	}{
		{"include_documents", &d.IncludeDocuments},
		{"include_inventories", &d.IncludeInventories},
	}
	for _, flag := range flags {
		raw := q.Get(flag.field)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return runRequestDTO{}, &ValidationError{Field: flag.field, Message: "must be a boolean"}
		}
		*flag.target = &v
	}
	if raw := q.Get("only_with_discrepancies"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return runRequestDTO{}, &ValidationError{Field: "only_with_discrepancies", Message: "must be a boolean"}
		}
		d.OnlyWithDiscrepancies = v
	}
	decimals := []struct {
		field  string
		target **decimal.Decimal
	}{
		{"starting_quantity", &d.StartingQuantity},
		{"discrepancy_threshold", &d.DiscrepancyThreshold},
	}
	for _, dec := range decimals {
		raw := q.Get(dec.field)
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return runRequestDTO{}, &ValidationError{Field: dec.field, Message: "must be a number"}
		}
		*dec.target = &v
	}
	return d, nil
}

// applyRequestDTO is the wire form of ApplyRequest.
type applyRequestDTO struct {
	ItemsToApply              []uuid.UUID `json:"items_to_apply"`
	Reason                    string      `json:"reason"`
	CreateAdjustmentMovements *bool       `json:"create_adjustment_movements"`
}

func (d applyRequestDTO) toRequest(actorID uuid.UUID) ApplyRequest {
	req := NewApplyRequest(d.Reason, d.ItemsToApply...)
	if d.CreateAdjustmentMovements != nil {
		req.CreateAdjustmentMovements = *d.CreateAdjustmentMovements
	}
	req.ActorID = actorID
	return req
}

// scanRequestDTO is the body of a scan trigger.
type scanRequestDTO struct {
	WarehouseID *uuid.UUID       `json:"warehouse_id"`
	Threshold   *decimal.Decimal `json:"threshold"`
}
