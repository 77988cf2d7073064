package pipeline

import (
	"context"
	"errors"
	"fmt"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
	"orderdesk/internal/extract"
	"orderdesk/internal/packaging"
	"orderdesk/internal/pricing"
)

type pricedLines struct {
	quotes   []internal.PriceQuote
	issues   []LineIssue
	warnings []string
}

func (p pricedLines) quantified() []internal.PriceQuote {
	var out []internal.PriceQuote
	for _, q := range p.quotes {
		if q.HasQuantity {
			out = append(out, q)
		}
	}
	return out
}

func (p pricedLines) quoteOnly() []internal.PriceQuote {
	var out []internal.PriceQuote
	for _, q := range p.quotes {
		if !q.HasQuantity {
			out = append(out, q)
		}
	}
	return out
}

// priceMessage resolves, converts and prices every extracted line. Lines that
// fail are reported as issues and never block the others. The slab is picked
// by the order total: the cartons already in the cart plus the lines of this
// message with a quantity. Quote-only lines count one carton each only when no
// line has a quantity.
func (s *Service) priceMessage(ctx context.Context, tenantID string, parsed extract.Result, inCart int, cust internal.CustomerContext) (pricedLines, error) {
	out := pricedLines{}
	for _, is := range parsed.Issues {
		out.issues = append(out.issues, LineIssue{Code: is.Code, Reference: is.Reference, Message: is.Message})
	}

	resolved, err := s.resolver.ResolveLines(ctx, tenantID, parsed.Lines)
	if err != nil {
		return out, err
	}

	var inputs []pricing.Input
	for _, rl := range resolved {
		ref := rl.Line.ProductReference
		switch rl.Status {
		case internal.NotFound:
			out.issues = append(out.issues, LineIssue{
				Code:      apperr.CodeProductNotFound,
				Reference: ref,
				Message:   fmt.Sprintf("no product matches %q", ref),
			})
		case internal.Ambiguous:
			out.issues = append(out.issues, LineIssue{
				Code:       apperr.CodeProductAmbiguous,
				Reference:  ref,
				Candidates: rl.Candidates,
				Message:    fmt.Sprintf("%q matches several products, which one do you mean?", ref),
			})
		case internal.Resolved:
			cartons, warning, issue := convert(rl)
			if issue != nil {
				out.issues = append(out.issues, *issue)
				continue
			}
			if warning != "" {
				out.warnings = append(out.warnings, ref+": "+warning)
			}
			inputs = append(inputs, pricing.Input{Line: rl, Cartons: cartons})
		}
	}
	if len(inputs) == 0 {
		return out, nil
	}

	out.quotes, err = s.engine.Quote(inputs, inCart, cust)
	return out, err
}

// convert turns a resolved line's quantity into cartons. Quote-only lines are
// priced for one carton.
func convert(rl internal.ResolvedLine) (int, string, *LineIssue) {
	if !rl.Line.HasQuantity {
		return 1, "", nil
	}
	p, _ := rl.Product()
	conv, err := packaging.ToCartons(p, rl.Line.Quantity, rl.Line.Unit)
	if err != nil {
		issue := issueFromErr(rl.Line.ProductReference, err)
		return 0, "", &issue
	}
	if conv.Cartons == 0 {
		return 0, "", &LineIssue{
			Code:      apperr.CodeInvalidQuantity,
			Reference: rl.Line.ProductReference,
			Message:   fmt.Sprintf("%d pcs is less than one carton of %d pcs", rl.Line.Quantity, packaging.UnitsPerCarton(p)),
		}
	}
	return conv.Cartons, conv.Warning, nil
}

func issueFromErr(reference string, err error) LineIssue {
	issue := LineIssue{Code: apperr.CodeOf(err), Reference: reference, Message: err.Error()}
	var coded *apperr.Error
	if errors.As(err, &coded) {
		issue.Message = coded.Message
	}
	return issue
}

// requantify prices a previously quoted product for a new quantity.
func (s *Service) requantify(ctx context.Context, tenantID string, quoted internal.PriceQuote, qty extract.Quantity, inCart int, cust internal.CustomerContext) (pricedLines, error) {
	out := pricedLines{}
	p, err := s.db.Queries().GetProduct(ctx, tenantID, quoted.ProductID)
	if err != nil {
		return out, err
	}
	if p == nil || !p.IsActive {
		out.issues = append(out.issues, LineIssue{
			Code:      apperr.CodeProductNotFound,
			Reference: quoted.Reference,
			Message:   fmt.Sprintf("%s is no longer available", quoted.ProductName),
		})
		return out, nil
	}

	line := internal.ResolvedLine{
		Line: internal.ExtractedOrderLine{
			ProductReference: quoted.Reference,
			Quantity:         qty.Value,
			Unit:             qty.Unit,
			HasQuantity:      true,
		},
		Status:     internal.Resolved,
		Reason:     internal.ReasonCode,
		Candidates: []internal.CatalogProduct{*p},
	}
	cartons, warning, issue := convert(line)
	if issue != nil {
		out.issues = append(out.issues, *issue)
		return out, nil
	}
	if warning != "" {
		out.warnings = append(out.warnings, quoted.Reference+": "+warning)
	}
	out.quotes, err = s.engine.Quote([]pricing.Input{{Line: line, Cartons: cartons}}, inCart, cust)
	return out, err
}

func allQuantified(quotes []internal.PriceQuote) bool {
	if len(quotes) == 0 {
		return false
	}
	for _, q := range quotes {
		if !q.HasQuantity || q.QuantityCartons <= 0 {
			return false
		}
	}
	return true
}
