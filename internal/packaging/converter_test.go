package packaging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
	"orderdesk/internal/util"
)

func product(perCarton int) internal.CatalogProduct {
	return internal.CatalogProduct{ID: "p1", Code: "8x80", UnitsPerCarton: perCarton}
}

func TestToCartons(t *testing.T) {
	tests := []struct {
		name      string
		qty       int
		unit      internal.Unit
		cartons   int
		remainder int
		warning   bool
	}{
		{"cartons pass through", 7, internal.UnitCartons, 7, 0, false},
		{"default unit is cartons", 3, "", 3, 0, false},
		{"exact pieces", 500, internal.UnitPieces, 5, 0, false},
		{"pieces with remainder", 550, internal.UnitPieces, 5, 50, true},
		{"less than one carton", 99, internal.UnitPieces, 0, 99, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToCartons(product(100), tt.qty, tt.unit)
			require.NoError(t, err)
			assert.Equal(t, tt.cartons, got.Cartons)
			assert.Equal(t, tt.remainder, got.PiecesRemainder)
			assert.Equal(t, tt.warning, got.Warning != "")
		})
	}
}

func TestToCartonsWarningText(t *testing.T) {
	got, err := ToCartons(product(100), 550, internal.UnitPieces)
	require.NoError(t, err)
	assert.Equal(t, "550 pcs rounds down to 5 cartons, 50 pieces short of a full carton", got.Warning)
}

func TestToCartonsRejectsBadInput(t *testing.T) {
	for _, qty := range []int{0, -1, -500} {
		_, err := ToCartons(product(100), qty, internal.UnitPieces)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrInvalidQuantity))
	}

	_, err := ToCartons(product(0), 10, internal.UnitPieces)
	assert.Equal(t, apperr.CodeInvalidQuantity, apperr.CodeOf(err))

	_, err = ToCartons(product(100), 10, internal.Unit("DOZEN"))
	assert.Equal(t, apperr.CodeInvalidQuantity, apperr.CodeOf(err))
}

func TestUnitsPerCartonFromPackets(t *testing.T) {
	p := internal.CatalogProduct{Code: "tape", UnitsPerPacket: util.IntPtr(6), PacketsPerCarton: util.IntPtr(12)}
	assert.Equal(t, 72, UnitsPerCarton(p))

	got, err := ToCartons(p, 144, internal.UnitPieces)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Cartons)
}

func TestValidate(t *testing.T) {
	ok := internal.CatalogProduct{Code: "a", UnitsPerCarton: 72, UnitsPerPacket: util.IntPtr(6), PacketsPerCarton: util.IntPtr(12)}
	assert.NoError(t, Validate(ok))
	assert.NoError(t, Validate(product(100)))

	bad := ok
	bad.UnitsPerCarton = 70
	assert.Error(t, Validate(bad))

	zeroPacket := ok
	zeroPacket.UnitsPerPacket = util.IntPtr(0)
	assert.Error(t, Validate(zeroPacket))
}

func TestRoundTrip(t *testing.T) {
	for _, per := range []int{1, 6, 24, 100, 144, 1000} {
		p := product(per)
		for n := 1; n <= 250; n++ {
			pieces, err := CartonsToPieces(p, n)
			require.NoError(t, err)
			got, err := ToCartons(p, pieces, internal.UnitPieces)
			require.NoError(t, err)
			require.Equal(t, n, got.Cartons, "per=%d n=%d", per, n)
			require.Zero(t, got.PiecesRemainder)
		}
	}

	pieces, err := CartonsToPieces(product(24), 0)
	require.NoError(t, err)
	assert.Zero(t, pieces)
}
