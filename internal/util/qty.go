package util

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	unitPattern   = regexp.MustCompile(`(?i)\b(pcs|pieces|piece|pc|ctns|ctn|cartons|carton|cs|boxes|box)\b`)
	numberPattern = regexp.MustCompile(`(?i)(?:^|[^0-9.,x])(\d{1,3}(?:[\s.,]\d{3})+|\d+(?:[.,]\d+)?)(?:[^0-9x]|$)`)
	withUnit      = regexp.MustCompile(`(?i)(?:^|[^0-9.,x])(\d{1,3}(?:[\s.,]\d{3})+|\d+(?:[.,]\d+)?)\s*(pcs|pieces|piece|pc|ctns|ctn|cartons|carton|cs|boxes|box)\b`)
	reDotThousand = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	reComThousand = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
)

type ParsedQty struct {
	Qty    *float64
	Unit   *string
	QtyRaw *string
}

// ParseQty finds the last quantity in a spreadsheet cell or table row. A number
// followed by a unit wins over a bare number; dimension codes like 8x80 are skipped.
func ParseQty(input string) ParsedQty {
	line := strings.ReplaceAll(input, "\u00A0", " ")
	line = NormalizeDimensions(line)

	qtyRaw := ""
	qtyToken := ""

	wm := withUnit.FindAllStringSubmatch(line, -1)
	if len(wm) > 0 {
		last := wm[len(wm)-1]
		qtyRaw = strings.TrimSpace(last[1] + " " + last[2])
		qtyToken = strings.TrimSpace(last[1])
	} else {
		nm := numberPattern.FindAllStringSubmatch(line, -1)
		if len(nm) > 0 {
			last := nm[len(nm)-1]
			qtyRaw = strings.TrimSpace(last[1])
			qtyToken = strings.TrimSpace(last[1])
		}
	}

	var qtyPtr *float64
	if qtyToken != "" {
		if parsed, ok := ParseNumber(qtyToken); ok {
			qtyPtr = FloatPtr(parsed)
		}
	}

	var unitPtr *string
	if um := unitPattern.FindStringSubmatch(line); len(um) > 1 {
		u := NormalizeUnit(um[1])
		unitPtr = &u
	}

	var qtyRawPtr *string
	if qtyRaw != "" {
		qtyRawPtr = &qtyRaw
	}

	return ParsedQty{Qty: qtyPtr, Unit: unitPtr, QtyRaw: qtyRawPtr}
}

// NormalizeUnit maps unit spellings to "pcs" or "ctns". Unknown units are returned lowercased.
func NormalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	switch u {
	case "pcs", "pieces", "piece", "pc":
		return "pcs"
	case "ctns", "ctn", "cartons", "carton", "cs", "box", "boxes":
		return "ctns"
	default:
		return u
	}
}

// ParseNumber accepts "1,000", "1.000", "1 000" and "1,5" style numbers.
func ParseNumber(token string) (float64, bool) {
	parsed, err := strconv.ParseFloat(normalizeNumericToken(token), 64)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func normalizeNumericToken(token string) string {
	compact := strings.ReplaceAll(token, " ", "")
	if reDotThousand.MatchString(compact) {
		return strings.ReplaceAll(compact, ".", "")
	}
	if reComThousand.MatchString(compact) {
		return strings.ReplaceAll(compact, ",", "")
	}
	if strings.Contains(compact, ",") && !strings.Contains(compact, ".") {
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}
