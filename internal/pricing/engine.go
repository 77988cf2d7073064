// Package pricing computes line quotes from catalog or purchase-history prices
// and order-level volume discount slabs. It has no side effects.
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
	"orderdesk/internal/config"
)

type Engine struct {
	slabs       []internal.VolumeDiscountSlab
	vipBonus    decimal.Decimal
	hardCeiling decimal.Decimal
	staleAfter  time.Duration
	taxRate     decimal.Decimal
	now         func() time.Time
}

type Option func(*Engine)

// WithClock replaces time.Now for history staleness checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(cfg config.PricingConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pricing config: %w", err)
	}
	e := &Engine{
		slabs:       cfg.Slabs,
		vipBonus:    cfg.VIPBonus,
		hardCeiling: cfg.HardCeiling,
		staleAfter:  cfg.HistoryStaleAfter,
		taxRate:     cfg.TaxRatePercent,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) TaxRatePercent() decimal.Decimal {
	return e.taxRate
}

// Slab returns the slab covering the total cartons of an order.
func (e *Engine) Slab(totalCartons int) (internal.VolumeDiscountSlab, error) {
	if totalCartons < 0 {
		return internal.VolumeDiscountSlab{}, apperr.New(apperr.CodeInvalidQuantity, "total cartons must not be negative, got %d", totalCartons)
	}
	for _, s := range e.slabs {
		if s.Contains(totalCartons) {
			return s, nil
		}
	}
	// unreachable with a validated partition
	return internal.VolumeDiscountSlab{}, fmt.Errorf("no slab covers %d cartons", totalCartons)
}

// BaseDiscount interpolates linearly between the slab's min and max discount
// by position inside the slab. Unbounded slabs give their min discount.
func (e *Engine) BaseDiscount(totalCartons int) (decimal.Decimal, internal.VolumeDiscountSlab, error) {
	slab, err := e.Slab(totalCartons)
	if err != nil {
		return decimal.Zero, slab, err
	}
	if slab.MaxQty == nil || *slab.MaxQty == slab.MinQty {
		return slab.MinDiscount, slab, nil
	}
	span := slab.MaxDiscount.Sub(slab.MinDiscount)
	pos := decimal.NewFromInt(int64(totalCartons - slab.MinQty)).Div(decimal.NewFromInt(int64(*slab.MaxQty - slab.MinQty)))
	return RoundPercent(slab.MinDiscount.Add(span.Mul(pos))), slab, nil
}

// Ceiling is the highest discount the customer can reach for this order size:
// the slab max, plus the loyalty bonus for returning and VIP customers asking
// for their best price, never above the hard ceiling.
func (e *Engine) Ceiling(totalCartons int, cust internal.CustomerContext) (decimal.Decimal, error) {
	slab, err := e.Slab(totalCartons)
	if err != nil {
		return decimal.Zero, err
	}
	ceiling := slab.MaxDiscount
	if cust.BestPrice && (cust.Tier == internal.TierVIP || cust.Tier == internal.TierReturning) {
		ceiling = ceiling.Add(e.vipBonus)
	}
	if ceiling.GreaterThan(e.hardCeiling) {
		ceiling = e.hardCeiling
	}
	return ceiling, nil
}

// UnitPrice returns the customer's last purchase price for the product when it
// is recent enough, otherwise the catalog price.
func (e *Engine) UnitPrice(p internal.CatalogProduct, cust internal.CustomerContext) (decimal.Decimal, internal.PriceSource) {
	if last, ok := cust.LastPrices[p.ID]; ok && last.UnitPrice.IsPositive() {
		if e.staleAfter <= 0 || e.now().Sub(last.PurchasedAt) < e.staleAfter {
			return last.UnitPrice, internal.PriceFromHistory
		}
	}
	return p.Price, internal.PriceFromCatalog
}

// Price quotes one resolved line. cartons is the line quantity already
// converted to cartons; totalCartons is the sum over the whole order and picks
// the slab. A requested discount above the ceiling is an invariant violation.
func (e *Engine) Price(line internal.ResolvedLine, cartons, totalCartons int, cust internal.CustomerContext) (internal.PriceQuote, error) {
	product, ok := line.Product()
	if !ok {
		return internal.PriceQuote{}, apperr.New(apperr.CodeProductAmbiguous, "line %q is not resolved to one product", line.Line.ProductReference)
	}
	if cartons <= 0 {
		return internal.PriceQuote{}, apperr.New(apperr.CodeInvalidQuantity, "cartons must be positive, got %d", cartons)
	}

	discount, slab, err := e.BaseDiscount(totalCartons)
	if err != nil {
		return internal.PriceQuote{}, err
	}
	if cust.DiscountPercent != nil {
		ceiling, err := e.Ceiling(totalCartons, cust)
		if err != nil {
			return internal.PriceQuote{}, err
		}
		if cust.DiscountPercent.GreaterThan(ceiling) {
			return internal.PriceQuote{}, apperr.New(apperr.CodeDiscountCeilingExceeded, "discount %s%% above ceiling %s%% for %d cartons", cust.DiscountPercent, ceiling, totalCartons)
		}
		discount = RoundPercent(*cust.DiscountPercent)
	}

	unit, source := e.UnitPrice(product, cust)
	lineTotal := LineTotal(unit, cartons)
	return internal.PriceQuote{
		ProductID:           product.ID,
		ProductCode:         product.Code,
		ProductName:         product.Name,
		Reference:           line.Line.ProductReference,
		QuantityCartons:     cartons,
		HasQuantity:         line.Line.HasQuantity,
		UnitPriceCarton:     unit,
		LineTotal:           lineTotal,
		DiscountPercent:     discount,
		DiscountedLineTotal: Discounted(lineTotal, discount),
		PriceSource:         source,
		SlabLabel:           slab.TierLabel,
	}, nil
}

// Input is one line to be quoted as part of an order.
type Input struct {
	Line    internal.ResolvedLine
	Cartons int
}

// Quote prices all lines of one order against the slab of the order total:
// inCart cartons already held plus the lines with a quantity. Quote-only lines
// count toward the total only when no line has a quantity.
func (e *Engine) Quote(inputs []Input, inCart int, cust internal.CustomerContext) ([]internal.PriceQuote, error) {
	total := 0
	for _, in := range inputs {
		if in.Line.Line.HasQuantity {
			total += in.Cartons
		}
	}
	if total == 0 {
		for _, in := range inputs {
			total += in.Cartons
		}
	}
	total += inCart

	out := make([]internal.PriceQuote, 0, len(inputs))
	for _, in := range inputs {
		q, err := e.Price(in.Line, in.Cartons, total, cust)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// Reprice applies a new discount percent to already quoted lines, keeping
// their unit prices and quantities.
func Reprice(quotes []internal.PriceQuote, percent decimal.Decimal) []internal.PriceQuote {
	out := make([]internal.PriceQuote, len(quotes))
	for i, q := range quotes {
		q.LineTotal = LineTotal(q.UnitPriceCarton, q.QuantityCartons)
		q.DiscountPercent = RoundPercent(percent)
		q.DiscountedLineTotal = Discounted(q.LineTotal, q.DiscountPercent)
		out[i] = q
	}
	return out
}

// TotalCartons sums the quoted quantities.
func TotalCartons(quotes []internal.PriceQuote) int {
	total := 0
	for _, q := range quotes {
		total += q.QuantityCartons
	}
	return total
}
