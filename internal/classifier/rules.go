package classifier

import (
	"context"
	"regexp"
	"strings"

	"orderdesk/internal"
	"orderdesk/internal/extract"
)

// Rules scores keyword groups and the extracted order structure.
type Rules struct{}

func NewRules() *Rules { return &Rules{} }

var (
	cancelPhrases   = []string{"cancel", "clear cart", "clear my cart", "empty cart", "empty my cart", "remove all", "start over", "delete cart"}
	checkoutPhrases = []string{"checkout", "check out", "place order", "place the order", "place my order", "confirm order", "confirm the order", "finalize", "finalise", "thats all", "that is all", "send invoice", "bill it"}
	confirmPhrases  = []string{"yes", "yeah", "yep", "ok", "okay", "go ahead", "deal", "done", "confirm", "confirmed", "accept", "accepted", "i accept", "take it", "ill take it", "we will take it", "lets do it", "go for it", "sounds good", "agreed", "fine", "proceed"}
	rejectPhrases   = []string{"no thanks", "no thank you", "not interested", "forget it", "reject", "nevermind", "never mind", "leave it", "not now", "no deal"}
	counterPhrases  = []string{"any more", "anymore", "more discount", "better", "lower", "can you do", "best you can", "still high", "too high", "too much", "too expensive", "little more", "bit more", "extra discount", "reduce"}
	discountPhrases = []string{"discount", "best price", "best rate", "cheaper", "less price", "good price", "special price", "offer"}
	pricePhrases    = []string{"price", "prices", "rate", "rates", "cost", "quote", "quotation", "how much"}
	bestPhrases     = []string{"best price", "best rate", "best offer", "best deal", "best you can", "lowest price", "final price", "rock bottom"}
)

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

func hits(padded string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			n++
		}
	}
	return n
}

// score grows with keyword hits the same way for every intent.
func score(base float64, n int) float64 {
	s := base + 0.1*float64(n-1)
	if s > 1 {
		s = 1
	}
	return s
}

// AsksBestPrice reports whether the customer explicitly asks for their best
// price, which unlocks the loyalty bonus on the discount ceiling.
func AsksBestPrice(text string) bool {
	lower := strings.ToLower(strings.ReplaceAll(text, "'", ""))
	padded := " " + strings.TrimSpace(nonWord.ReplaceAllString(lower, " ")) + " "
	return hits(padded, bestPhrases) > 0
}

func (r *Rules) Classify(_ context.Context, text string, cc ConversationContext) (Classification, error) {
	lower := strings.ToLower(strings.ReplaceAll(text, "'", ""))
	padded := " " + strings.TrimSpace(nonWord.ReplaceAllString(lower, " ")) + " "
	parsed := extract.Parse(text)

	result := func(intent Intent, confidence float64) (Classification, error) {
		return Classification{Intent: intent, Confidence: confidence, Source: "rules"}, nil
	}

	cancel := hits(padded, cancelPhrases)
	checkout := hits(padded, checkoutPhrases)
	confirm := hits(padded, confirmPhrases)
	reject := hits(padded, rejectPhrases)
	counter := hits(padded, counterPhrases)
	discount := hits(padded, discountPhrases)
	quantities := parsed.HasOrderQuantities() || parsed.BareQuantity != nil

	switch {
	case cancel > 0 && len(parsed.Lines) == 0:
		return result(IntentCancelCart, score(0.8, cancel))
	case checkout > 0 && len(parsed.Lines) == 0:
		return result(IntentCheckout, score(0.8, checkout))
	}

	if cc.negotiating() {
		switch {
		case reject > 0:
			return result(IntentReject, score(0.8, reject))
		case quantities:
			return result(IntentQuantityUpdate, 0.85)
		case counter > 0:
			return result(IntentCounter, score(0.8, counter))
		case confirm > 0:
			// "ok I accept your offer" mentions the offer but accepts it
			return result(IntentConfirm, score(0.8, confirm))
		case discount > 0:
			return result(IntentCounter, score(0.7, discount))
		}
	}

	switch {
	case discount > 0:
		return result(IntentDiscountRequest, score(0.8, discount))
	case parsed.HasOrderQuantities() && !parsed.PriceInquiry:
		return result(IntentOrder, 0.85)
	case parsed.PriceInquiry || (len(parsed.Lines) > 0 && !parsed.HasOrderQuantities()):
		return result(IntentPriceRequest, score(0.8, hits(padded, pricePhrases)))
	case parsed.BareQuantity != nil:
		return result(IntentQuantityUpdate, 0.75)
	case reject > 0:
		return result(IntentReject, score(0.7, reject))
	case confirm > 0 && (cc.HasQuotedLines || cc.Stage == internal.StageRequested):
		return result(IntentConfirm, score(0.7, confirm))
	case confirm > 0:
		return result(IntentConfirm, 0.5)
	case len(parsed.Issues) > 0:
		return result(IntentOrder, 0.5)
	}
	return result(IntentUnknown, 0)
}
