package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
)

var exportHeaders = []string{
	"product_code", "product_name", "quantity_cartons", "unit_price",
	"line_total", "discount_percent", "discounted_line_total",
}

// ExportConversation writes the conversation's open cart, or with order set
// its latest order draft, to an xlsx file. Totals go below the lines.
func (s *Service) ExportConversation(ctx context.Context, tenantID, conversationID string, order bool, outputPath string) error {
	var (
		lines  []internal.CartLineItem
		totals internal.OrderTotals
	)
	if order {
		d, err := s.db.Queries().LatestOrder(ctx, tenantID, conversationID)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("no order for conversation %s: %w", conversationID, apperr.ErrNotFound)
		}
		lines, totals = d.Lines, d.Totals
	} else {
		c, t, err := s.Cart(ctx, tenantID, conversationID)
		if err != nil {
			return err
		}
		if c == nil || len(c.Lines) == 0 {
			return apperr.ErrCartEmpty
		}
		lines, totals = c.Lines, t
	}
	return ExportLinesToXLSX(lines, totals, outputPath)
}

func ExportLinesToXLSX(lines []internal.CartLineItem, totals internal.OrderTotals, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	r := 1
	set := func(col int, value any) {
		cell, _ := excelize.CoordinatesToCellName(col, r)
		_ = f.SetCellValue(sheet, cell, value)
	}
	for _, l := range lines {
		r++
		set(1, l.ProductCode)
		set(2, l.ProductName)
		set(3, l.QuantityCartons)
		set(4, l.UnitPrice.StringFixed(2))
		set(5, l.LineTotal.StringFixed(2))
		set(6, l.DiscountPercent.StringFixed(2))
		set(7, l.DiscountedLineTotal.StringFixed(2))
	}

	r++
	for _, row := range []struct {
		label string
		value string
	}{
		{"gross_total", totals.GrossTotal.StringFixed(2)},
		{"discount_amount", totals.DiscountAmount.StringFixed(2)},
		{"subtotal", totals.Subtotal.StringFixed(2)},
		{"tax", totals.Tax.StringFixed(2)},
		{"total", totals.Total.StringFixed(2)},
	} {
		r++
		set(6, row.label)
		set(7, row.value)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}
