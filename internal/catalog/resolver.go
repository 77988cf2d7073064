package catalog

import (
	"context"
	"sort"
	"strings"

	"orderdesk/internal"
	"orderdesk/internal/util"
)

// ProductSource lists a tenant's catalog; *storage.Queries implements it.
type ProductSource interface {
	ListProducts(ctx context.Context, tenantID string, activeOnly bool) ([]internal.CatalogProduct, error)
}

// Resolver maps product references to catalog entries, most specific rule
// first: exact code, exact name, substring of name/code/description, then all
// reference tokens present. It never decides ambiguity on the caller's behalf.
type Resolver struct {
	source        ProductSource
	maxCandidates int
}

func NewResolver(source ProductSource, maxCandidates int) *Resolver {
	if maxCandidates <= 0 {
		maxCandidates = 5
	}
	return &Resolver{source: source, maxCandidates: maxCandidates}
}

// Index loads the tenant's active products.
func (r *Resolver) Index(ctx context.Context, tenantID string) (*Index, error) {
	products, err := r.source.ListProducts(ctx, tenantID, true)
	if err != nil {
		return nil, err
	}
	return BuildIndex(tenantID, products), nil
}

// Resolve returns the ranked candidates for one reference.
func (r *Resolver) Resolve(ctx context.Context, reference, tenantID string) ([]internal.CatalogProduct, internal.MatchReason, error) {
	idx, err := r.Index(ctx, tenantID)
	if err != nil {
		return nil, internal.ReasonNone, err
	}
	products, reason := Find(idx, reference)
	return products, reason, nil
}

// ResolveLines resolves every extracted line against one index snapshot.
func (r *Resolver) ResolveLines(ctx context.Context, tenantID string, lines []internal.ExtractedOrderLine) ([]internal.ResolvedLine, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	idx, err := r.Index(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]internal.ResolvedLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, r.ResolveLine(idx, line))
	}
	return out, nil
}

func (r *Resolver) ResolveLine(idx *Index, line internal.ExtractedOrderLine) internal.ResolvedLine {
	products, reason := Find(idx, line.ProductReference)
	res := internal.ResolvedLine{Line: line, Reason: reason}
	switch len(products) {
	case 0:
		res.Status = internal.NotFound
		res.Candidates = []internal.CatalogProduct{}
	case 1:
		res.Status = internal.Resolved
		res.Candidates = products
	default:
		res.Status = internal.Ambiguous
		if len(products) > r.maxCandidates {
			products = products[:r.maxCandidates]
		}
		res.Candidates = products
	}
	return res
}

// Find applies the matching rules in order and stops at the first rule with
// any hit. Candidates of that rule are ranked by similarity to the reference.
func Find(idx *Index, reference string) ([]internal.CatalogProduct, internal.MatchReason) {
	ref := util.NormalizeHeader(reference)
	if ref == "" || idx == nil || idx.Len() == 0 {
		return nil, internal.ReasonNone
	}

	if code := util.NormalizeCode(reference); code != "" {
		if hits := idx.byCode[code]; len(hits) > 0 {
			return idx.rank(ref, hits), internal.ReasonCode
		}
	}
	if hits := idx.byName[ref]; len(hits) > 0 {
		return idx.rank(ref, hits), internal.ReasonName
	}

	var hits []int
	for i, text := range idx.searchText {
		if strings.Contains(text, ref) {
			hits = append(hits, i)
		}
	}
	if len(hits) > 0 {
		return idx.rank(ref, hits), internal.ReasonSubstring
	}

	if hits := idx.allTokens(ref); len(hits) > 0 {
		return idx.rank(ref, hits), internal.ReasonTokens
	}
	return nil, internal.ReasonNone
}

func (idx *Index) allTokens(ref string) []int {
	tokens := util.Tokenize(ref)
	if len(tokens) == 0 {
		return nil
	}
	var hits []int
	for i := range idx.byToken[tokens[0]] {
		ok := true
		for _, t := range tokens[1:] {
			if _, found := idx.byToken[t][i]; !found {
				ok = false
				break
			}
		}
		if ok {
			hits = append(hits, i)
		}
	}
	return hits
}

func (idx *Index) rank(ref string, ids []int) []internal.CatalogProduct {
	type scored struct {
		id    int
		score float64
	}
	queryTokens := util.Tokenize(ref)
	list := make([]scored, 0, len(ids))
	for _, i := range ids {
		list = append(list, scored{id: i, score: scoreName(ref, idx.names[i], queryTokens, util.Tokenize(idx.names[i]))})
	}
	sort.SliceStable(list, func(a, b int) bool {
		if list[a].score != list[b].score {
			return list[a].score > list[b].score
		}
		return idx.products[list[a].id].Code < idx.products[list[b].id].Code
	})
	out := make([]int, 0, len(list))
	for _, s := range list {
		out = append(out, s.id)
	}
	return idx.pick(out)
}

func scoreName(query, candidate string, queryTokens, candidateTokens []string) float64 {
	dice := util.DiceCoefficient(query, candidate)
	if len(queryTokens) == 0 || len(candidateTokens) == 0 {
		return dice
	}

	set := map[string]struct{}{}
	for _, t := range candidateTokens {
		set[t] = struct{}{}
	}
	overlap := 0
	for _, t := range queryTokens {
		if _, ok := set[t]; ok {
			overlap++
		}
	}
	tokenScore := float64(overlap) / float64(len(queryTokens))
	return 0.65*dice + 0.35*tokenScore
}
