package reconciliation

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Reconciliation"

var exportHeader = []string{
	"stock_id",
	"product_code",
	"warehouse",
	"location_code",
	"current_quantity",
	"calculated_quantity",
	"difference",
	"difference_percentage",
	"severity",
	"documents",
	"inventories",
	"manuals",
	"unit_cost",
}

// ExportItems renders items as tabular rows, header first. Decimals carry two places.
func ExportItems(items []Item) [][]string {
	rows := make([][]string, 0, len(items)+1)
	rows = append(rows, append([]string(nil), exportHeader...))
	for _, item := range items {
		unitCost := ""
		if item.UnitCost != nil {
			unitCost = item.UnitCost.StringFixed(2)
		}
		rows = append(rows, []string{
			item.StockID.String(),
			item.ProductCode,
			item.WarehouseName,
			item.LocationCode,
			item.CurrentQuantity.StringFixed(2),
			item.CalculatedQuantity.StringFixed(2),
			item.Difference.StringFixed(2),
			item.DifferencePercentage.StringFixed(2),
			item.Severity.String(),
			strconv.Itoa(item.DocumentCount),
			strconv.Itoa(item.InventoryCount),
			strconv.Itoa(item.ManualCount),
			unitCost,
		})
	}
	return rows
}

// WriteCSV streams the exported rows as CSV.
func WriteCSV(w io.Writer, items []Item) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(ExportItems(items)); err != nil {
		return fmt.Errorf("reconciliation: write csv: %w", err)
	}
	return nil
}

// WriteXLSX writes the exported rows as a single sheet workbook.
func WriteXLSX(w io.Writer, items []Item) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("reconciliation: xlsx sheet: %w", err)
	}
	for i, row := range ExportItems(items) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return fmt.Errorf("reconciliation: xlsx row %d: %w", i+1, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("reconciliation: write xlsx: %w", err)
	}
	return nil
}
