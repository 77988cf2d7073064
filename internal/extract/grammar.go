// Package extract turns chat text into order lines.
//
// The message is tokenized and then read with a fixed rule order:
//
//  1. shared quantifier: "<qty> <unit>? each" or "each <qty> <unit>?" anywhere in the message
//  2. prefix line quantity: "<qty> <unit>? <product>"
//  3. postfix line quantity: "<product> <qty> <unit>?"
//  4. the shared quantifier, for products without a line quantity
//  5. no quantity: the line is quote-only
//
// A line quantity always beats the shared quantifier for that line.
package extract

import (
	"fmt"
	"math"
	"strings"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
	"orderdesk/internal/util"
)

type Quantity struct {
	Value int
	Unit  internal.Unit
	Each  bool
}

// Issue is a line rejected during extraction.
type Issue struct {
	Code      apperr.Code
	Reference string
	Message   string
}

type Result struct {
	Lines []internal.ExtractedOrderLine
	// Shared is the "each" quantifier, when present.
	Shared *Quantity
	// BareQuantity is a quantity stated without any product ("i need 100 cartons").
	BareQuantity *Quantity
	PriceInquiry bool
	Issues       []Issue
}

func (r Result) Empty() bool {
	return len(r.Lines) == 0 && len(r.Issues) == 0
}

// HasOrderQuantities reports whether any extracted line carries a quantity.
func (r Result) HasOrderQuantities() bool {
	for _, l := range r.Lines {
		if l.HasQuantity {
			return true
		}
	}
	return false
}

// Extract returns the order lines found in text. An empty slice means no
// product-like tokens were found and the caller should fall back to intent classification.
func Extract(text string) []internal.ExtractedOrderLine {
	return Parse(text).Lines
}

type rawQty struct {
	value string
	unit  string
	start int
	end   int
}

type pendingLine struct {
	ref      string
	start    int
	end      int
	qty      *rawQty
	wordOnly bool
}

func Parse(text string) Result {
	normalized := normalize(text)
	tokens := tokenize(normalized)
	result := Result{PriceInquiry: hasPriceWord(tokens, normalized)}

	shared, tokens := takeSharedQuantifier(tokens)
	if shared != nil {
		q, err := toQuantity(*shared, true)
		if err != nil {
			result.Issues = append(result.Issues, Issue{Code: apperr.CodeInvalidQuantity, Reference: shared.value, Message: err.Error()})
		} else {
			result.Shared = &q
		}
	}

	var lines []pendingLine
	var leftover *rawQty
	for _, segment := range splitSegments(tokens) {
		segLines, rest := readSegment(segment)
		lines = append(lines, segLines...)
		if rest != nil && leftover == nil {
			leftover = rest
		}
	}

	for _, pl := range lines {
		line := internal.ExtractedOrderLine{
			ProductReference: pl.ref,
			RawSpan:          strings.TrimSpace(normalized[pl.start:pl.end]),
			Quantity:         1,
			Unit:             internal.UnitCartons,
		}
		switch {
		case pl.qty != nil:
			q, err := toQuantity(*pl.qty, false)
			if err != nil {
				result.Issues = append(result.Issues, Issue{Code: apperr.CodeInvalidQuantity, Reference: pl.ref, Message: err.Error()})
				continue
			}
			line.Quantity, line.Unit, line.HasQuantity = q.Value, q.Unit, true
		case result.Shared != nil:
			line.Quantity, line.Unit, line.HasQuantity, line.SharedQuantity = result.Shared.Value, result.Shared.Unit, true, true
		case shared != nil:
			// The shared quantifier was invalid; the line cannot be ordered.
			continue
		}
		if pl.wordOnly && !line.HasQuantity && !result.PriceInquiry {
			continue
		}
		result.Lines = append(result.Lines, line)
	}

	multi := len(result.Lines) > 1
	for i := range result.Lines {
		result.Lines[i].IsMultiProduct = multi
	}

	if len(result.Lines) == 0 {
		switch {
		case leftover != nil:
			if q, err := toQuantity(*leftover, false); err == nil {
				result.BareQuantity = &q
			} else {
				result.Issues = append(result.Issues, Issue{Code: apperr.CodeInvalidQuantity, Reference: leftover.value, Message: err.Error()})
			}
		case result.Shared != nil:
			bare := *result.Shared
			result.BareQuantity = &bare
		}
	}

	return result
}

// takeSharedQuantifier removes the first "<qty> <unit>? each" or
// "each <qty> <unit>?" group from the stream.
func takeSharedQuantifier(tokens []token) (*rawQty, []token) {
	for i, t := range tokens {
		if t.kind != tokEach {
			continue
		}
		// suffix form: number [unit] each
		j := i - 1
		unit := ""
		if j >= 0 && tokens[j].kind == tokUnit {
			unit = tokens[j].text
			j--
		}
		if j >= 0 && tokens[j].kind == tokNumber {
			q := &rawQty{value: tokens[j].text, unit: unit, start: tokens[j].start, end: t.end}
			return q, splice(tokens, j, i+1)
		}
		// prefix form: each number [unit]
		if i+1 < len(tokens) && tokens[i+1].kind == tokNumber {
			end := i + 2
			unit = ""
			if end < len(tokens) && tokens[end].kind == tokUnit {
				unit = tokens[end].text
				end++
			}
			q := &rawQty{value: tokens[i+1].text, unit: unit, start: t.start, end: tokens[end-1].end}
			return q, splice(tokens, i, end)
		}
	}
	return nil, tokens
}

func splice(tokens []token, from, to int) []token {
	out := make([]token, 0, len(tokens)-(to-from)+1)
	out = append(out, tokens[:from]...)
	// keep a break so words on both sides do not merge into one name
	out = append(out, token{kind: tokBreak, start: tokens[from].start, end: tokens[to-1].end})
	return append(out, tokens[to:]...)
}

func splitSegments(tokens []token) [][]token {
	var out [][]token
	current := []token{}
	for _, t := range tokens {
		if t.kind == tokSep {
			if len(current) > 0 {
				out = append(out, current)
			}
			current = []token{}
			continue
		}
		current = append(current, t)
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

// readSegment applies the prefix and postfix rules inside one comma/newline segment.
// A quantity that binds to no product is returned as rest.
func readSegment(seg []token) ([]pendingLine, *rawQty) {
	hasCode := false
	for _, t := range seg {
		if t.kind == tokCode {
			hasCode = true
			break
		}
	}

	var out []pendingLine
	var pending *rawQty
	var rest *rawQty

	for i := 0; i < len(seg); i++ {
		t := seg[i]
		switch t.kind {
		case tokNumber:
			q := &rawQty{value: t.text, start: t.start, end: t.end}
			if next := nextSignificant(seg, i+1); next >= 0 && seg[next].kind == tokUnit {
				q.unit = seg[next].text
				q.end = seg[next].end
				i = next
			}
			if pending != nil && rest == nil {
				rest = pending
			}
			pending = q
		case tokCode, tokWord:
			if t.kind == tokWord && hasCode {
				continue
			}
			line := pendingLine{ref: t.text, start: t.start, end: t.end, wordOnly: t.kind == tokWord}
			if t.kind == tokWord {
				for i+1 < len(seg) && seg[i+1].kind == tokWord {
					i++
					line.ref += " " + seg[i].text
					line.end = seg[i].end
				}
			}
			if pending != nil {
				line.qty = pending
				line.start = pending.start
				pending = nil
			} else if next := nextSignificant(seg, i+1); next >= 0 && seg[next].kind == tokNumber {
				q := &rawQty{value: seg[next].text, start: seg[next].start, end: seg[next].end}
				i = next
				if unit := nextSignificant(seg, i+1); unit >= 0 && seg[unit].kind == tokUnit {
					q.unit = seg[unit].text
					q.end = seg[unit].end
					i = unit
				}
				line.qty = q
				line.end = q.end
			}
			out = append(out, line)
		}
	}
	if pending != nil && rest == nil {
		rest = pending
	}
	return out, rest
}

// nextSignificant skips filler words between a product and its quantity.
func nextSignificant(seg []token, from int) int {
	for i := from; i < len(seg); i++ {
		if seg[i].kind == tokBreak {
			continue
		}
		return i
	}
	return -1
}

func toQuantity(q rawQty, each bool) (Quantity, error) {
	value, ok := util.ParseNumber(q.value)
	if !ok {
		return Quantity{}, fmt.Errorf("quantity %q is not a number", q.value)
	}
	if value <= 0 {
		return Quantity{}, fmt.Errorf("quantity must be positive, got %s", q.value)
	}
	// "1.500" reads as 1.5 or 1500 depending on locale; ask instead of guessing
	if value != math.Trunc(value) || strings.Contains(q.value, ".") {
		return Quantity{}, fmt.Errorf("quantity must be a whole number, got %s", q.value)
	}
	unit := internal.UnitCartons
	if util.NormalizeUnit(q.unit) == "pcs" {
		unit = internal.UnitPieces
	}
	return Quantity{Value: int(value), Unit: unit, Each: each}, nil
}
