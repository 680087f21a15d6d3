package reconciliation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// flightKey identifies identical concurrent runs: same tenant, same request.
func flightKey(tenantID uuid.UUID, req Request) (string, error) {
	digest, err := requestDigest(req)
	if err != nil {
		return "", err
	}
	return "reconciliation:run:" + tenantID.String() + ":" + digest, nil
}

type requestFingerprint struct {
	From                  string  `json:"from"`
	To                    string  `json:"to"`
	WarehouseID           string  `json:"warehouse_id"`
	LocationID            string  `json:"location_id"`
	ProductID             string  `json:"product_id"`
	IncludeDocuments      bool    `json:"include_documents"`
	IncludeInventories    bool    `json:"include_inventories"`
	OnlyWithDiscrepancies bool    `json:"only_with_discrepancies"`
	StartingQuantity      string  `json:"starting_quantity"`
	Threshold             *string `json:"threshold"`
}

func requestDigest(req Request) (string, error) {
	fp := requestFingerprint{
		From:                  formatTime(req.FromDate),
		To:                    formatTime(req.ToDate),
		WarehouseID:           req.WarehouseID.String(),
		LocationID:            req.LocationID.String(),
		ProductID:             req.ProductID.String(),
		IncludeDocuments:      req.IncludeDocuments,
		IncludeInventories:    req.IncludeInventories,
		OnlyWithDiscrepancies: req.OnlyWithDiscrepancies,
		StartingQuantity:      req.StartingQuantity.String(),
	}
	if req.DiscrepancyThreshold != nil {
		t := req.DiscrepancyThreshold.String()
		fp.Threshold = &t
	}
	raw, err := json.Marshal(fp)
	if err != nil {
		return "", fmt.Errorf("reconciliation: fingerprint request: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
