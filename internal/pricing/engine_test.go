package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
	"orderdesk/internal/config"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.PricingConfig {
	return config.PricingConfig{
		Slabs:             config.DefaultSlabs(),
		VIPBonus:          decimal.RequireFromString("1.5"),
		HardCeiling:       decimal.NewFromInt(12),
		HistoryStaleAfter: 90 * 24 * time.Hour,
		TaxRatePercent:    decimal.NewFromInt(5),
	}
}

func newEngine(t *testing.T, cfg config.PricingConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return e
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func resolved(p internal.CatalogProduct, hasQty bool) internal.ResolvedLine {
	return internal.ResolvedLine{
		Line:       internal.ExtractedOrderLine{ProductReference: p.Code, HasQuantity: hasQty},
		Status:     internal.Resolved,
		Reason:     internal.ReasonCode,
		Candidates: []internal.CatalogProduct{p},
	}
}

func TestNewEngineRejectsBrokenSlabs(t *testing.T) {
	cfg := testConfig()
	cfg.Slabs = cfg.Slabs[:2]
	_, err := NewEngine(cfg)
	assert.Error(t, err)
}

func TestBaseDiscount(t *testing.T) {
	e := newEngine(t, testConfig())
	tests := []struct {
		cartons int
		want    string
		label   string
	}{
		{0, "0", "standard"},
		{9, "0", "standard"},
		{10, "3", "bulk"},
		{20, "3.75", "bulk"},
		{50, "6", "bulk"},
		{51, "6", "wholesale"},
		{125, "7", "wholesale"},
		{199, "8", "wholesale"},
		{200, "8", "distributor"},
		{5000, "8", "distributor"},
	}
	for _, tt := range tests {
		got, slab, err := e.BaseDiscount(tt.cartons)
		require.NoError(t, err)
		assertDecimal(t, tt.want, got)
		assert.Equal(t, tt.label, slab.TierLabel)
	}

	_, _, err := e.BaseDiscount(-1)
	assert.Equal(t, apperr.CodeInvalidQuantity, apperr.CodeOf(err))
}

func TestBaseDiscountMonotonicWithinSlab(t *testing.T) {
	e := newEngine(t, testConfig())
	for q := 0; q < 400; q++ {
		d1, s1, err := e.BaseDiscount(q)
		require.NoError(t, err)
		d2, s2, err := e.BaseDiscount(q + 1)
		require.NoError(t, err)
		if s1.TierLabel != s2.TierLabel {
			continue
		}
		require.True(t, d1.LessThanOrEqual(d2), "q=%d: %s > %s", q, d1, d2)
		require.True(t, d2.LessThanOrEqual(s2.MaxDiscount))
		require.True(t, d1.GreaterThanOrEqual(s1.MinDiscount))
	}
}

func TestCeiling(t *testing.T) {
	e := newEngine(t, testConfig())

	got, err := e.Ceiling(20, internal.CustomerContext{Tier: internal.TierNew, BestPrice: true})
	require.NoError(t, err)
	assertDecimal(t, "6", got)

	got, err = e.Ceiling(20, internal.CustomerContext{Tier: internal.TierVIP})
	require.NoError(t, err)
	assertDecimal(t, "6", got)

	got, err = e.Ceiling(20, internal.CustomerContext{Tier: internal.TierVIP, BestPrice: true})
	require.NoError(t, err)
	assertDecimal(t, "7.5", got)

	got, err = e.Ceiling(300, internal.CustomerContext{Tier: internal.TierReturning, BestPrice: true})
	require.NoError(t, err)
	assertDecimal(t, "11.5", got)

	cfg := testConfig()
	cfg.HardCeiling = decimal.NewFromInt(10)
	capped := newEngine(t, cfg)
	got, err = capped.Ceiling(300, internal.CustomerContext{Tier: internal.TierVIP, BestPrice: true})
	require.NoError(t, err)
	assertDecimal(t, "10", got)
}

func TestPriceUsesOrderLevelSlab(t *testing.T) {
	e := newEngine(t, testConfig())
	a := internal.CatalogProduct{ID: "a", Code: "8x80", Price: decimal.NewFromInt(100)}
	b := internal.CatalogProduct{ID: "b", Code: "8x100", Price: decimal.RequireFromString("120.50")}

	quotes, err := e.Quote([]Input{
		{Line: resolved(a, true), Cartons: 5},
		{Line: resolved(b, true), Cartons: 15},
	}, 0, internal.CustomerContext{Tier: internal.TierNew})
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	// 20 cartons in total, so both lines sit in the bulk slab even though each is small.
	for _, q := range quotes {
		assertDecimal(t, "3.75", q.DiscountPercent)
		assert.Equal(t, "bulk", q.SlabLabel)
	}
	assertDecimal(t, "500", quotes[0].LineTotal)
	assertDecimal(t, "481.25", quotes[0].DiscountedLineTotal)
	assertDecimal(t, "1807.5", quotes[1].LineTotal)
	assertDecimal(t, "1739.72", quotes[1].DiscountedLineTotal)
	assert.Equal(t, 20, TotalCartons(quotes))
}

func TestQuoteCountsCartCartons(t *testing.T) {
	e := newEngine(t, testConfig())
	a := internal.CatalogProduct{ID: "a", Code: "8x80", Price: decimal.RequireFromString("12.50")}
	b := internal.CatalogProduct{ID: "b", Code: "8x100", Price: decimal.NewFromInt(14)}

	// 40 cartons in the cart plus 2 ordered now; the quote-only line does not count
	quotes, err := e.Quote([]Input{
		{Line: resolved(a, true), Cartons: 2},
		{Line: resolved(b, false), Cartons: 1},
	}, 40, internal.CustomerContext{Tier: internal.TierNew})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assertDecimal(t, "5.4", quotes[0].DiscountPercent)
	assertDecimal(t, "5.4", quotes[1].DiscountPercent)
	assertDecimal(t, "23.65", quotes[0].DiscountedLineTotal)
}

func TestPriceHistoryPrice(t *testing.T) {
	e := newEngine(t, testConfig())
	p := internal.CatalogProduct{ID: "a", Code: "8x80", Price: decimal.NewFromInt(100)}

	fresh := internal.CustomerContext{LastPrices: map[string]internal.PurchasePrice{
		"a": {ProductID: "a", UnitPrice: decimal.NewFromInt(90), PurchasedAt: fixedNow.Add(-10 * 24 * time.Hour)},
	}}
	q, err := e.Price(resolved(p, true), 1, 1, fresh)
	require.NoError(t, err)
	assert.Equal(t, internal.PriceFromHistory, q.PriceSource)
	assertDecimal(t, "90", q.UnitPriceCarton)

	stale := internal.CustomerContext{LastPrices: map[string]internal.PurchasePrice{
		"a": {ProductID: "a", UnitPrice: decimal.NewFromInt(90), PurchasedAt: fixedNow.Add(-100 * 24 * time.Hour)},
	}}
	q, err = e.Price(resolved(p, true), 1, 1, stale)
	require.NoError(t, err)
	assert.Equal(t, internal.PriceFromCatalog, q.PriceSource)
	assertDecimal(t, "100", q.UnitPriceCarton)
}

func TestPriceDiscountOverride(t *testing.T) {
	e := newEngine(t, testConfig())
	p := internal.CatalogProduct{ID: "a", Code: "8x80", Price: decimal.NewFromInt(100)}

	within := decimal.RequireFromString("5.5")
	q, err := e.Price(resolved(p, true), 20, 20, internal.CustomerContext{Tier: internal.TierNew, DiscountPercent: &within})
	require.NoError(t, err)
	assertDecimal(t, "5.5", q.DiscountPercent)
	assertDecimal(t, "1890", q.DiscountedLineTotal)

	above := decimal.NewFromInt(7)
	_, err = e.Price(resolved(p, true), 20, 20, internal.CustomerContext{Tier: internal.TierNew, DiscountPercent: &above})
	require.ErrorIs(t, err, apperr.ErrDiscountCeilingExceeded)

	vip := internal.CustomerContext{Tier: internal.TierVIP, BestPrice: true, DiscountPercent: &above}
	_, err = e.Price(resolved(p, true), 20, 20, vip)
	require.NoError(t, err)
}

func TestPriceRejectsUnresolvedLines(t *testing.T) {
	e := newEngine(t, testConfig())
	line := internal.ResolvedLine{Status: internal.Ambiguous, Candidates: []internal.CatalogProduct{{ID: "a"}, {ID: "b"}}}
	_, err := e.Price(line, 1, 1, internal.CustomerContext{})
	assert.ErrorIs(t, err, apperr.ErrProductAmbiguous)

	p := internal.CatalogProduct{ID: "a", Price: decimal.NewFromInt(1)}
	_, err = e.Price(resolved(p, true), 0, 0, internal.CustomerContext{})
	assert.ErrorIs(t, err, apperr.ErrInvalidQuantity)
}

func TestRoundingIsHalfUp(t *testing.T) {
	assertDecimal(t, "0.13", Discounted(decimal.RequireFromString("2.50"), decimal.NewFromInt(95)))
	assertDecimal(t, "96.24", Discounted(decimal.RequireFromString("99.99"), decimal.RequireFromString("3.75")))
	assertDecimal(t, "2.5", RoundMoney(decimal.RequireFromString("2.495")))
	assertDecimal(t, "99.99", LineTotal(decimal.RequireFromString("33.33"), 3))
}

func TestReprice(t *testing.T) {
	quotes := []internal.PriceQuote{
		{ProductID: "a", QuantityCartons: 20, UnitPriceCarton: decimal.NewFromInt(100)},
	}
	out := Reprice(quotes, decimal.RequireFromString("4.25"))
	require.Len(t, out, 1)
	assertDecimal(t, "2000", out[0].LineTotal)
	assertDecimal(t, "4.25", out[0].DiscountPercent)
	assertDecimal(t, "1915", out[0].DiscountedLineTotal)
	assert.True(t, quotes[0].DiscountPercent.IsZero())
}

func TestTotals(t *testing.T) {
	lines := []internal.CartLineItem{
		{LineTotal: decimal.NewFromInt(500), DiscountedLineTotal: decimal.RequireFromString("481.25")},
		{LineTotal: decimal.RequireFromString("1807.50"), DiscountedLineTotal: decimal.RequireFromString("1739.72")},
	}
	totals := Totals(lines, decimal.NewFromInt(5))

	assertDecimal(t, "2307.5", totals.GrossTotal)
	assertDecimal(t, "2220.97", totals.Subtotal)
	assertDecimal(t, "86.53", totals.DiscountAmount)
	assertDecimal(t, "111.05", totals.Tax)
	assertDecimal(t, "2332.02", totals.Total)
}
