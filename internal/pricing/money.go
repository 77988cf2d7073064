package pricing

import (
	"github.com/shopspring/decimal"

	"orderdesk/internal"
)

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half up to currency precision. Amounts are never negative
// here, so decimal's half-away-from-zero rounding is half up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// RoundPercent keeps discount percents at two places.
func RoundPercent(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// LineTotal is unit price times cartons.
func LineTotal(unitPrice decimal.Decimal, cartons int) decimal.Decimal {
	return RoundMoney(unitPrice.Mul(decimal.NewFromInt(int64(cartons))))
}

// Discounted applies a percent discount to a line total.
func Discounted(lineTotal, percent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(percent.Div(hundred))
	return RoundMoney(lineTotal.Mul(factor))
}

// Totals derives order totals from persisted line items only. The subtotal is
// the exact sum of discounted line totals.
func Totals(lines []internal.CartLineItem, taxRatePercent decimal.Decimal) internal.OrderTotals {
	gross := decimal.Zero
	subtotal := decimal.Zero
	for _, l := range lines {
		gross = gross.Add(l.LineTotal)
		subtotal = subtotal.Add(l.DiscountedLineTotal)
	}
	tax := RoundMoney(subtotal.Mul(taxRatePercent).Div(hundred))
	return internal.OrderTotals{
		GrossTotal:     gross,
		DiscountAmount: gross.Sub(subtotal),
		Subtotal:       subtotal,
		Tax:            tax,
		Total:          subtotal.Add(tax),
	}
}
