package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/odyssey-erp/stockrecon/internal/reconciliation"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeResponseText(w io.Writer, resp reconciliation.Response) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STOCK\tPRODUCT\tLOCATION\tCURRENT\tCALCULATED\tDIFF\tDIFF%\tSEVERITY")
	for _, item := range resp.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			item.StockID,
			item.ProductCode,
			item.LocationCode,
			item.CurrentQuantity.StringFixed(2),
			item.CalculatedQuantity.StringFixed(2),
			item.Difference.StringFixed(2),
			item.DifferencePercentage.StringFixed(2),
			item.Severity)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	s := resp.Summary
	_, err := fmt.Fprintf(w, "\nitems=%d correct=%d minor=%d major=%d missing=%d skipped=%d difference_value=%s\n",
		s.TotalItems, s.Correct, s.Minor, s.Major, s.Missing, s.Skipped, s.TotalDifferenceValue.StringFixed(2))
	if err != nil {
		return err
	}
	for _, skipped := range resp.Skipped {
		if _, err := fmt.Fprintf(w, "skipped product=%s location=%s: %s\n", skipped.ProductID, skipped.LocationID, skipped.Reason); err != nil {
			return err
		}
	}
	return nil
}

func writeApplyText(w io.Writer, result reconciliation.ApplyResult) error {
	if !result.Success {
		_, err := fmt.Fprintf(w, "apply rolled back: %s\n", result.ErrorMessage)
		return err
	}
	_, err := fmt.Fprintf(w, "updated=%d movements=%d total_adjustment=%s\n",
		result.UpdatedCount, result.MovementsCreated, result.TotalAdjustmentValue.StringFixed(2))
	if err != nil {
		return err
	}
	for _, id := range result.UpdatedStockIDs {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}
