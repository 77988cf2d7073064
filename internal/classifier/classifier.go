// Package classifier labels a chat message with a purchase intent. An external
// service can be consulted; keyword rules over the extracted order text are
// the fallback whenever it is absent, unsure, failing or over quota.
package classifier

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"orderdesk/internal"
	"orderdesk/internal/quota"
)

type Intent string

const (
	IntentOrder           Intent = "ORDER"
	IntentPriceRequest    Intent = "PRICE_REQUEST"
	IntentDiscountRequest Intent = "DISCOUNT_REQUEST"
	IntentCounter         Intent = "COUNTER"
	IntentConfirm         Intent = "CONFIRM"
	IntentReject          Intent = "REJECT"
	IntentQuantityUpdate  Intent = "QUANTITY_UPDATE"
	IntentCheckout        Intent = "CHECKOUT"
	IntentCancelCart      Intent = "CANCEL_CART"
	IntentUnknown         Intent = "UNKNOWN"
)

var knownIntents = map[Intent]struct{}{
	IntentOrder: {}, IntentPriceRequest: {}, IntentDiscountRequest: {}, IntentCounter: {},
	IntentConfirm: {}, IntentReject: {}, IntentQuantityUpdate: {}, IntentCheckout: {},
	IntentCancelCart: {}, IntentUnknown: {},
}

// ParseIntent maps a label to an Intent; unknown labels become IntentUnknown.
func ParseIntent(label string) Intent {
	i := Intent(strings.ToUpper(strings.TrimSpace(label)))
	if _, ok := knownIntents[i]; ok {
		return i
	}
	return IntentUnknown
}

// ConversationContext is what a classifier may know about the conversation.
type ConversationContext struct {
	Stage          internal.Stage `json:"stage"`
	HasQuotedLines bool           `json:"hasQuotedLines"`
	HasCart        bool           `json:"hasCart"`
}

func (c ConversationContext) negotiating() bool {
	return c.Stage == internal.StageOffered || c.Stage == internal.StageCountered
}

type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

type Client interface {
	Classify(ctx context.Context, text string, cc ConversationContext) (Classification, error)
}

// Gate consults the external client when the tenant still has quota and keeps
// its label only at or above the confidence threshold.
type Gate struct {
	external  Client
	rules     *Rules
	quota     *quota.Service
	threshold float64
	logger    *zap.Logger
}

// NewGate builds a Gate. external may be nil, in which case rules always decide.
func NewGate(external Client, rules *Rules, q *quota.Service, threshold float64, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{external: external, rules: rules, quota: q, threshold: threshold, logger: logger}
}

func (g *Gate) Classify(ctx context.Context, tenantID, text string, cc ConversationContext) Classification {
	if g.external != nil && g.quota.Allow(tenantID) {
		got, err := g.external.Classify(ctx, text, cc)
		switch {
		case err != nil:
			g.logger.Warn("external classifier failed, using rules", zap.String("tenant", tenantID), zap.Error(err))
		case got.Confidence >= g.threshold && got.Intent != IntentUnknown:
			got.Source = "external"
			return got
		default:
			g.logger.Debug("external classification below threshold",
				zap.String("intent", string(got.Intent)), zap.Float64("confidence", got.Confidence))
		}
	}
	// rules never fail
	got, _ := g.rules.Classify(ctx, text, cc)
	return got
}
