package pipeline

import (
	"orderdesk/internal"
	"orderdesk/internal/apperr"
	"orderdesk/internal/classifier"
)

type Kind string

const (
	KindQuote            Kind = "QUOTE"
	KindClarification    Kind = "CLARIFICATION_NEEDED"
	KindCartUpdated      Kind = "CART_UPDATED"
	KindNegotiationOffer Kind = "NEGOTIATION_OFFER"
	KindError            Kind = "ERROR"
)

// fallbackMessage is the only text an end user sees for internal failures.
const fallbackMessage = "let me check that for you"

// LineIssue reports one product reference that could not be priced.
type LineIssue struct {
	Code       apperr.Code               `json:"code"`
	Reference  string                    `json:"reference"`
	Candidates []internal.CatalogProduct `json:"candidates,omitempty"`
	Message    string                    `json:"message"`
}

// Offer is the customer-facing view of an open negotiation.
type Offer struct {
	Stage           internal.Stage `json:"stage"`
	DiscountPercent string         `json:"discountPercent"`
	CeilingPercent  string         `json:"ceilingPercent"`
	TurnsUsed       int            `json:"turnsUsed"`
	Final           bool           `json:"final"`
}

type Payload struct {
	Intent     classifier.Intent     `json:"intent"`
	Confidence float64               `json:"confidence"`
	Quotes     []internal.PriceQuote `json:"quotes,omitempty"`
	Issues     []LineIssue           `json:"issues,omitempty"`
	Warnings   []string              `json:"warnings,omitempty"`
	Offer      *Offer                `json:"offer,omitempty"`
	Cart       *internal.Cart        `json:"cart,omitempty"`
	Totals     *internal.OrderTotals `json:"totals,omitempty"`
	Order      *internal.OrderDraft  `json:"order,omitempty"`
	Question   string                `json:"question,omitempty"`
	Notice     string                `json:"notice,omitempty"`
	Message    string                `json:"message,omitempty"`
	Stale      bool                  `json:"stale,omitempty"`
	ErrorCode  apperr.Code           `json:"errorCode,omitempty"`
}

// Result is what the messaging layer turns into a reply.
type Result struct {
	Kind    Kind    `json:"kind"`
	TraceID string  `json:"traceId"`
	Payload Payload `json:"payload"`
}

// Retryable reports an error result caused by a concurrent write; the same
// message can be processed again once the other writer is done.
func (r Result) Retryable() bool {
	return r.Kind == KindError && r.Payload.ErrorCode == apperr.CodeCartMergeConflict
}

func offerOf(state internal.NegotiationState) *Offer {
	return &Offer{
		Stage:           state.Stage,
		DiscountPercent: state.CurrentOfferPercent.StringFixed(2),
		CeilingPercent:  state.CeilingPercent.StringFixed(2),
		TurnsUsed:       state.TurnsUsed,
		Final:           state.FinalOffer,
	}
}
