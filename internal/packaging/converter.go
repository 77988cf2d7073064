// Package packaging converts order quantities to cartons using per-product
// packaging metadata.
package packaging

import (
	"fmt"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
)

// Conversion is the carton count for a line. PiecesRemainder is non-zero when
// a piece quantity does not fill whole cartons; Warning then explains the shortfall.
type Conversion struct {
	Cartons         int    `json:"cartons"`
	PiecesRemainder int    `json:"piecesRemainder"`
	Warning         string `json:"warning,omitempty"`
}

// UnitsPerCarton returns the pieces in one carton, deriving it from the packet
// fields when the carton count itself is missing.
func UnitsPerCarton(p internal.CatalogProduct) int {
	if p.UnitsPerCarton > 0 {
		return p.UnitsPerCarton
	}
	if p.UnitsPerPacket != nil && p.PacketsPerCarton != nil {
		return *p.UnitsPerPacket * *p.PacketsPerCarton
	}
	return 0
}

// Validate checks unitsPerCarton = unitsPerPacket * packetsPerCarton when all
// three are present.
func Validate(p internal.CatalogProduct) error {
	if p.UnitsPerCarton < 0 {
		return fmt.Errorf("product %s: units per carton must not be negative", p.Code)
	}
	if p.UnitsPerPacket == nil || p.PacketsPerCarton == nil {
		return nil
	}
	if *p.UnitsPerPacket <= 0 || *p.PacketsPerCarton <= 0 {
		return fmt.Errorf("product %s: packet fields must be positive", p.Code)
	}
	derived := *p.UnitsPerPacket * *p.PacketsPerCarton
	if p.UnitsPerCarton != 0 && p.UnitsPerCarton != derived {
		return fmt.Errorf("product %s: units per carton %d != %d x %d", p.Code, p.UnitsPerCarton, *p.UnitsPerPacket, *p.PacketsPerCarton)
	}
	return nil
}

func ToCartons(p internal.CatalogProduct, quantity int, unit internal.Unit) (Conversion, error) {
	if quantity <= 0 {
		return Conversion{}, apperr.New(apperr.CodeInvalidQuantity, "quantity must be positive, got %d", quantity)
	}
	switch unit {
	case internal.UnitCartons, "":
		return Conversion{Cartons: quantity}, nil
	case internal.UnitPieces:
	default:
		return Conversion{}, apperr.New(apperr.CodeInvalidQuantity, "unknown unit %q", unit)
	}

	per := UnitsPerCarton(p)
	if per <= 0 {
		return Conversion{}, apperr.New(apperr.CodeInvalidQuantity, "%s has no carton size, order in cartons", p.Code)
	}
	conv := Conversion{Cartons: quantity / per, PiecesRemainder: quantity % per}
	if conv.PiecesRemainder != 0 {
		conv.Warning = fmt.Sprintf("%d pcs rounds down to %d cartons, %d pieces short of a full carton", quantity, conv.Cartons, per-conv.PiecesRemainder)
	}
	return conv, nil
}

// CartonsToPieces is the inverse of ToCartons for whole cartons.
func CartonsToPieces(p internal.CatalogProduct, cartons int) (int, error) {
	if cartons < 0 {
		return 0, apperr.New(apperr.CodeInvalidQuantity, "cartons must not be negative, got %d", cartons)
	}
	per := UnitsPerCarton(p)
	if per <= 0 {
		return 0, apperr.New(apperr.CodeInvalidQuantity, "%s has no carton size", p.Code)
	}
	return cartons * per, nil
}
