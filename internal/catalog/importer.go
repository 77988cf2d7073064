package catalog

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"orderdesk/internal"
	"orderdesk/internal/packaging"
)

// RowError is a spreadsheet row that could not be imported. Row is 1-based.
type RowError struct {
	Row int
	Err string
}

type ImportReport struct {
	Sheet    string
	Imported int
	Rejected []RowError
}

type columns struct {
	code, name, description, category, price      int
	unitsPerCarton, unitsPerPacket, packetsPerCtn int
	active                                        int
}

// Probes are matched as substrings of the lowercased header, most specific first.
var headerProbes = map[string][]string{
	"code":           {"product code", "item code", "sku", "code", "article"},
	"name":           {"product name", "item name", "name", "product", "item"},
	"description":    {"description", "desc", "details"},
	"category":       {"category", "group"},
	"price":          {"carton price", "unit price", "price", "rate"},
	"unitsPerPacket": {"units per packet", "pcs per packet", "pieces per packet", "packet qty"},
	"packetsPerCtn":  {"packets per carton", "packets/carton", "packets per ctn"},
	"unitsPerCarton": {"units per carton", "pcs per carton", "pieces per carton", "carton qty", "units/carton", "pcs/ctn"},
	"active":         {"active", "status"},
}

func inferColumns(headers []string) (columns, bool) {
	norm := make([]string, 0, len(headers))
	for _, h := range headers {
		norm = append(norm, strings.ToLower(strings.TrimSpace(h)))
	}
	used := map[int]struct{}{}
	find := func(field string) int {
		for _, probe := range headerProbes[field] {
			for i, h := range norm {
				if _, taken := used[i]; taken {
					continue
				}
				if strings.Contains(h, probe) {
					used[i] = struct{}{}
					return i
				}
			}
		}
		return -1
	}

	// packet columns first so "units per packet" is not taken as a carton column
	c := columns{}
	c.unitsPerPacket = find("unitsPerPacket")
	c.packetsPerCtn = find("packetsPerCtn")
	c.unitsPerCarton = find("unitsPerCarton")
	c.code = find("code")
	c.description = find("description")
	c.name = find("name")
	c.category = find("category")
	c.price = find("price")
	c.active = find("active")
	return c, c.code >= 0 && c.name >= 0 && c.price >= 0
}

// ReadProductsXLSX parses the first sheet that has a recognizable header row
// within its first five rows.
func ReadProductsXLSX(r io.Reader, tenantID string) ([]internal.CatalogProduct, ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, ImportReport{}, err
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		for h := 0; h < len(rows) && h < 5; h++ {
			cols, ok := inferColumns(rows[h])
			if !ok {
				continue
			}
			report := ImportReport{Sheet: sheet}
			var products []internal.CatalogProduct
			for i := h + 1; i < len(rows); i++ {
				if blank(rows[i]) {
					continue
				}
				p, err := cols.product(rows[i], tenantID)
				if err != nil {
					report.Rejected = append(report.Rejected, RowError{Row: i + 1, Err: err.Error()})
					continue
				}
				products = append(products, p)
			}
			report.Imported = len(products)
			return products, report, nil
		}
	}
	return nil, ImportReport{}, fmt.Errorf("no sheet with code, name and price columns")
}

// ImportXLSX reads a spreadsheet and upserts its valid rows.
func ImportXLSX(ctx context.Context, store Store, r io.Reader, tenantID string) (ImportReport, error) {
	products, report, err := ReadProductsXLSX(r, tenantID)
	if err != nil {
		return report, err
	}
	if len(products) > 0 {
		if err := store.UpsertProducts(ctx, products); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (c columns) product(row []string, tenantID string) (internal.CatalogProduct, error) {
	p := internal.CatalogProduct{
		TenantID:    tenantID,
		Code:        cell(row, c.code),
		Name:        cell(row, c.name),
		Description: cell(row, c.description),
		Category:    cell(row, c.category),
		IsActive:    true,
	}
	if p.Code == "" {
		return p, fmt.Errorf("missing code")
	}
	if p.Name == "" {
		return p, fmt.Errorf("%s: missing name", p.Code)
	}

	price, err := decimal.NewFromString(strings.ReplaceAll(cell(row, c.price), ",", ""))
	if err != nil {
		return p, fmt.Errorf("%s: invalid price %q", p.Code, cell(row, c.price))
	}
	if price.IsNegative() {
		return p, fmt.Errorf("%s: negative price", p.Code)
	}
	p.Price = price

	if p.UnitsPerCarton, err = optionalInt(row, c.unitsPerCarton); err != nil {
		return p, fmt.Errorf("%s: units per carton: %w", p.Code, err)
	}
	perPacket, err := optionalInt(row, c.unitsPerPacket)
	if err != nil {
		return p, fmt.Errorf("%s: units per packet: %w", p.Code, err)
	}
	packets, err := optionalInt(row, c.packetsPerCtn)
	if err != nil {
		return p, fmt.Errorf("%s: packets per carton: %w", p.Code, err)
	}
	if perPacket != 0 || packets != 0 {
		p.UnitsPerPacket, p.PacketsPerCarton = &perPacket, &packets
	}
	if err := packaging.Validate(p); err != nil {
		return p, err
	}
	if p.UnitsPerCarton == 0 {
		p.UnitsPerCarton = packaging.UnitsPerCarton(p)
	}

	switch strings.ToLower(cell(row, c.active)) {
	case "0", "no", "n", "false", "inactive", "disabled":
		p.IsActive = false
	}
	return p, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func optionalInt(row []string, idx int) (int, error) {
	v := cell(row, idx)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, fmt.Errorf("%q is not a whole number", v)
		}
		n = int(f)
	}
	if n < 0 {
		return 0, fmt.Errorf("%d is negative", n)
	}
	return n, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
