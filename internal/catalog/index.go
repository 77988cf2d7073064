package catalog

import (
	"strings"

	"orderdesk/internal"
	"orderdesk/internal/util"
)

// Index is a lookup structure over one tenant's active products.
type Index struct {
	TenantID string

	products   []internal.CatalogProduct
	byCode     map[string][]int
	byName     map[string][]int
	byToken    map[string]map[int]struct{}
	names      []string
	searchText []string
}

// BuildIndex keeps only active products of tenantID; the rest are ignored.
func BuildIndex(tenantID string, products []internal.CatalogProduct) *Index {
	idx := &Index{
		TenantID: tenantID,
		byCode:   map[string][]int{},
		byName:   map[string][]int{},
		byToken:  map[string]map[int]struct{}{},
	}

	for _, p := range products {
		if p.TenantID != tenantID || !p.IsActive {
			continue
		}
		i := len(idx.products)
		idx.products = append(idx.products, p)

		if code := util.NormalizeCode(p.Code); code != "" {
			idx.byCode[code] = append(idx.byCode[code], i)
		}
		name := util.NormalizeHeader(p.Name)
		idx.names = append(idx.names, name)
		if name != "" {
			idx.byName[name] = append(idx.byName[name], i)
		}
		text := util.NormalizeHeader(strings.Join([]string{p.Name, p.Code, p.Description}, " "))
		idx.searchText = append(idx.searchText, text)

		for _, token := range util.Tokenize(text) {
			if _, ok := idx.byToken[token]; !ok {
				idx.byToken[token] = map[int]struct{}{}
			}
			idx.byToken[token][i] = struct{}{}
		}
	}

	return idx
}

func (idx *Index) Len() int {
	return len(idx.products)
}

func (idx *Index) pick(ids []int) []internal.CatalogProduct {
	out := make([]internal.CatalogProduct, 0, len(ids))
	for _, i := range ids {
		out = append(out, idx.products[i])
	}
	return out
}
