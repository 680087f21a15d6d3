package reconciliation

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockrecon/internal/platform/httpx"
)

func TestParseDate(t *testing.T) {
	from, err := ParseDate("from_date", "2024-03-01", false)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), from)

	to, err := ParseDate("to_date", "2024-03-01", true)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.March, 1, 23, 59, 59, 999999999, time.UTC), to)

	ts, err := ParseDate("to_date", "2024-03-01T10:00:00Z", true)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC), ts)

	zero, err := ParseDate("from_date", "", false)
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	_, err = ParseDate("from_date", "03/01/2024", false)
	var validation *ValidationError
	require.True(t, errors.As(err, &validation))
	require.Equal(t, "from_date", validation.Field)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestRunRequestDTODefaults(t *testing.T) {
	req, err := runRequestDTO{}.toRequest()
	require.NoError(t, err)
	require.True(t, req.IncludeDocuments)
	require.True(t, req.IncludeInventories)
	require.False(t, req.OnlyWithDiscrepancies)
	require.Nil(t, req.DiscrepancyThreshold)
	require.True(t, req.StartingQuantity.IsZero())
}

func TestRunRequestFromQuery(t *testing.T) {
	product := uuid.New()
	q := url.Values{}
	q.Set("product_id", product.String())
	q.Set("include_inventories", "false")
	q.Set("only_with_discrepancies", "true")
	q.Set("discrepancy_threshold", "2.5")
	q.Set("from_date", "2024-03-01")

	dto, err := runRequestFromQuery(q)
	require.NoError(t, err)
	req, err := dto.toRequest()
	require.NoError(t, err)
	require.Equal(t, product, req.ProductID)
	require.True(t, req.IncludeDocuments)
	require.False(t, req.IncludeInventories)
	require.True(t, req.OnlyWithDiscrepancies)
	require.True(t, req.DiscrepancyThreshold.Equal(d("2.5")))
	require.Equal(t, 2024, req.FromDate.Year())
}

func TestRunRequestFromQueryRejectsMalformed(t *testing.T) {
	for field, value := range map[string]string{
		"warehouse_id":            "nope",
		"include_documents":       "maybe",
		"only_with_discrepancies": "2x",
		"starting_quantity":       "ten",
	} {
		_, err := runRequestFromQuery(url.Values{field: {value}})
		var validation *ValidationError
		require.True(t, errors.As(err, &validation), field)
		require.Equal(t, field, validation.Field)
	}
}

func TestApplyRequestDTO(t *testing.T) {
	actor := uuid.New()
	id := uuid.New()
	off := false

	req := applyRequestDTO{ItemsToApply: []uuid.UUID{id}, Reason: "Recount"}.toRequest(actor)
	require.True(t, req.CreateAdjustmentMovements)
	require.Equal(t, actor, req.ActorID)

	req = applyRequestDTO{ItemsToApply: []uuid.UUID{id}, Reason: "Recount", CreateAdjustmentMovements: &off}.toRequest(actor)
	require.False(t, req.CreateAdjustmentMovements)
}
