package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
)

func TestParsePriceRequestWithoutQuantity(t *testing.T) {
	res := Parse("price for 8x80, 8x100")

	require.Len(t, res.Lines, 2)
	assert.True(t, res.PriceInquiry)
	assert.False(t, res.HasOrderQuantities())
	assert.Equal(t, "8x80", res.Lines[0].ProductReference)
	assert.Equal(t, "8x100", res.Lines[1].ProductReference)
	for _, l := range res.Lines {
		assert.False(t, l.HasQuantity)
		assert.Equal(t, 1, l.Quantity)
		assert.True(t, l.IsMultiProduct)
	}
}

func TestParseSharedEachQuantifier(t *testing.T) {
	cases := []string{
		"8x80, 8x100 10 ctns each",
		"each 10 ctns 8x80, 8x100",
		"8X80\n8*100 10 cartons each",
	}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			res := Parse(input)
			require.Len(t, res.Lines, 2)
			require.NotNil(t, res.Shared)
			for _, l := range res.Lines {
				assert.Equal(t, 10, l.Quantity)
				assert.Equal(t, internal.UnitCartons, l.Unit)
				assert.True(t, l.HasQuantity)
				assert.True(t, l.SharedQuantity)
			}
		})
	}
}

func TestExtractDelimiterEquivalence(t *testing.T) {
	a := Extract("10x100 5 ctns")
	b := Extract("10*100 5 ctns")

	require.Len(t, a, 1)
	assert.Equal(t, a, b)
	assert.Equal(t, "10x100", a[0].ProductReference)
	assert.Equal(t, 5, a[0].Quantity)
}

func TestParseLineQuantityBeatsShared(t *testing.T) {
	res := Parse("each 10 ctns 8x80, 8x100 3 ctns")

	require.Len(t, res.Lines, 2)
	assert.Equal(t, 10, res.Lines[0].Quantity)
	assert.True(t, res.Lines[0].SharedQuantity)
	assert.Equal(t, 3, res.Lines[1].Quantity)
	assert.False(t, res.Lines[1].SharedQuantity)
}

func TestParseUnits(t *testing.T) {
	tests := []struct {
		input string
		qty   int
		unit  internal.Unit
	}{
		{"8x80 500 pcs", 500, internal.UnitPieces},
		{"8x80 500 pieces", 500, internal.UnitPieces},
		{"8x80 12 ctns", 12, internal.UnitCartons},
		{"8x80 12ctns", 12, internal.UnitCartons},
		{"8x80 7", 7, internal.UnitCartons},
		{"4 cartons 8x80", 4, internal.UnitCartons},
		{"8x80 1,000 pcs", 1000, internal.UnitPieces},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lines := Extract(tt.input)
			require.Len(t, lines, 1)
			assert.Equal(t, "8x80", lines[0].ProductReference)
			assert.Equal(t, tt.qty, lines[0].Quantity)
			assert.Equal(t, tt.unit, lines[0].Unit)
			assert.True(t, lines[0].HasQuantity)
			assert.False(t, lines[0].IsMultiProduct)
		})
	}
}

func TestParseMultipleLinesWithOwnQuantities(t *testing.T) {
	res := Parse("8x80 5 ctns and 8x100 3 ctns\n10x100 200 pcs")

	require.Len(t, res.Lines, 3)
	assert.Equal(t, []int{5, 3, 200}, []int{res.Lines[0].Quantity, res.Lines[1].Quantity, res.Lines[2].Quantity})
	assert.Equal(t, internal.UnitPieces, res.Lines[2].Unit)
	assert.Nil(t, res.Shared)
}

func TestParseInvalidQuantity(t *testing.T) {
	for _, input := range []string{"8x80 0 ctns", "8x80 -5 ctns", "8x80 2.5 ctns", "8x80 1.500 ctns", "8x80 2.0 ctns"} {
		t.Run(input, func(t *testing.T) {
			res := Parse(input)
			assert.Empty(t, res.Lines)
			require.Len(t, res.Issues, 1)
			assert.Equal(t, apperr.CodeInvalidQuantity, res.Issues[0].Code)
			assert.Equal(t, "8x80", res.Issues[0].Reference)
		})
	}
}

func TestParseInvalidQuantityKeepsOtherLines(t *testing.T) {
	res := Parse("8x80 0 ctns, 8x100 4 ctns")

	require.Len(t, res.Lines, 1)
	assert.Equal(t, "8x100", res.Lines[0].ProductReference)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, apperr.CodeInvalidQuantity, res.Issues[0].Code)
}

func TestParseBareQuantity(t *testing.T) {
	res := Parse("i need 100 cartons")

	assert.Empty(t, res.Lines)
	require.NotNil(t, res.BareQuantity)
	assert.Equal(t, 100, res.BareQuantity.Value)
	assert.Equal(t, internal.UnitCartons, res.BareQuantity.Unit)
}

func TestParseNoProducts(t *testing.T) {
	for _, input := range []string{"", "hello there", "ok thanks", "yes go ahead"} {
		t.Run(input, func(t *testing.T) {
			res := Parse(input)
			assert.True(t, res.Empty())
			assert.Nil(t, res.BareQuantity)
			assert.Empty(t, Extract(input))
		})
	}
}

func TestParseWordReferences(t *testing.T) {
	t.Run("price inquiry keeps names", func(t *testing.T) {
		res := Parse("price of blue tape")
		require.Len(t, res.Lines, 1)
		assert.Equal(t, "blue tape", res.Lines[0].ProductReference)
		assert.False(t, res.Lines[0].HasQuantity)
	})

	t.Run("quantity binds to name", func(t *testing.T) {
		lines := Extract("5 ctns masking tape")
		require.Len(t, lines, 1)
		assert.Equal(t, "masking tape", lines[0].ProductReference)
		assert.Equal(t, 5, lines[0].Quantity)
		assert.Equal(t, "5 ctns masking tape", lines[0].RawSpan)
	})

	t.Run("names next to a code are ignored", func(t *testing.T) {
		lines := Extract("need tape 8x80 10 ctns")
		require.Len(t, lines, 1)
		assert.Equal(t, "8x80", lines[0].ProductReference)
	})
}
