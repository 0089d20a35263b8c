package receipt

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	receiptsSheet = "Receipts"
	itemsSheet    = "Items"
)

// ExportXLSX writes the current user's receipts and items as a workbook
// with one sheet each
func (s *Service) ExportXLSX(ctx context.Context, w io.Writer) error {
	receipts, err := s.ListReceipts(ctx)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", receiptsSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}

	writeRow(f, receiptsSheet, 1, "ID", "Timestamp", "Store", "Receipt UID", "Street", "Postal Code", "City",
		"Total", "Tax", "Quality", "Items", "Image URL")
	writeRow(f, itemsSheet, 1, "Receipt ID", "Timestamp", "Store", "Item", "Price", "Quantity")

	itemRow := 2
	for i, r := range receipts {
		addr := r.Address
		if addr == nil {
			addr = &Address{}
		}
		writeRow(f, receiptsSheet, i+2, r.ID, r.Timestamp, r.StoreName, r.ReceiptUID,
			addr.Street, addr.PostalCode, addr.City,
			r.Total, optional(r.TaxAmount), optional(r.QualityRating), len(r.Items), r.ImageURL)

		for _, item := range r.Items {
			writeRow(f, itemsSheet, itemRow, r.ID, r.Timestamp, r.StoreName, item.Name, item.Price, item.Quantity)
			itemRow++
		}
	}

	_ = f.SetColWidth(receiptsSheet, "A", "A", 38) // id
	_ = f.SetColWidth(receiptsSheet, "B", "C", 22)
	_ = f.SetColWidth(receiptsSheet, "L", "L", 60) // image
	_ = f.SetColWidth(itemsSheet, "A", "A", 38)
	_ = f.SetColWidth(itemsSheet, "B", "D", 22)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

// optional renders nil pointers as empty cells
func optional[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}
