package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
	"orderdesk/internal/cart"
	"orderdesk/internal/classifier"
	"orderdesk/internal/extract"
	"orderdesk/internal/locker"
	"orderdesk/internal/negotiation"
	"orderdesk/internal/storage"
)

// turn carries one message through dispatch; the write fields are applied
// together in a single transaction.
type turn struct {
	tenantID       string
	conversationID string
	state          internal.NegotiationState
	cust           internal.CustomerContext
	parsed         extract.Result
	priced         pricedLines
	cartID         string
	cartLines      int
	cartCartons    int

	res        Result
	addToCart  []internal.PriceQuote
	cancelCart bool
	checkout   bool
}

// ProcessMessage handles one inbound chat message. Messages of the same
// conversation are serialized; a lost compare-and-swap is retried once.
// Internal failures never leak: they come back as an ERROR result with a
// generic message and are logged.
func (s *Service) ProcessMessage(ctx context.Context, tenantID, conversationID, text string) Result {
	traceID := uuid.NewString()
	start := s.now()
	log := s.logger.With(
		zap.String("trace", traceID),
		zap.String("tenant", tenantID),
		zap.String("conversation", conversationID))

	unlock, err := s.locks.Lock(ctx, locker.ConversationKey(tenantID, conversationID))
	if err != nil {
		log.Warn("conversation lock not acquired", zap.Error(err))
		res := failure(err)
		res.TraceID = traceID
		return res
	}
	defer unlock()

	var res Result
	for attempt := 1; ; attempt++ {
		res, err = s.handle(ctx, tenantID, conversationID, text)
		if err == nil || !apperr.Transient(err) || attempt == 2 {
			break
		}
		log.Info("retrying after concurrent update", zap.Error(err))
	}
	if err != nil {
		log.Error("message processing failed",
			zap.String("code", string(apperr.CodeOf(err))),
			zap.String("intent", string(res.Payload.Intent)),
			zap.Error(err))
		intent := res.Payload.Intent
		res = failure(err)
		res.Payload.Intent = intent
	}
	res.TraceID = traceID

	elapsed := s.now().Sub(start)
	run := storage.Run{
		TraceID:        traceID,
		TenantID:       tenantID,
		ConversationID: conversationID,
		Intent:         string(res.Payload.Intent),
		Kind:           string(res.Kind),
		Timings:        map[string]float64{"totalMs": float64(elapsed.Milliseconds())},
	}
	if err := s.db.Queries().InsertRun(ctx, run); err != nil {
		log.Warn("failed to record run", zap.Error(err))
	}
	log.Debug("message processed", zap.String("kind", string(res.Kind)), zap.Duration("elapsed", elapsed))
	return res
}

func failure(err error) Result {
	return Result{
		Kind: KindError,
		Payload: Payload{
			Message:   fallbackMessage,
			ErrorCode: apperr.CodeOf(err),
		},
	}
}

func (s *Service) handle(ctx context.Context, tenantID, conversationID, text string) (Result, error) {
	q := s.db.Queries()
	state, err := q.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return Result{}, err
	}
	cust, err := s.customer(ctx, q, tenantID, conversationID)
	if err != nil {
		return Result{}, err
	}
	t := &turn{tenantID: tenantID, conversationID: conversationID, state: state, cust: cust}

	existing, err := q.GetCartByConversation(ctx, tenantID, conversationID)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		t.cartID = existing.ID
		items, err := q.ListCartItems(ctx, existing.ID)
		if err != nil {
			return Result{}, err
		}
		t.cartLines = len(items)
		t.cartCartons = cart.Cartons(items)
	}
	t.cust.BestPrice = classifier.AsksBestPrice(text)

	cls := s.classifier.Classify(ctx, tenantID, text, classifier.ConversationContext{
		Stage:          state.Stage,
		HasQuotedLines: len(state.QuotedLines) > 0,
		HasCart:        t.cartLines > 0,
	})
	t.parsed = extract.Parse(text)
	t.res.Payload.Intent = cls.Intent
	t.res.Payload.Confidence = cls.Confidence

	t.priced, err = s.priceMessage(ctx, tenantID, t.parsed, t.cartCartons, t.cust)
	if err != nil {
		return t.res, err
	}
	t.res.Payload.Issues = t.priced.issues
	t.res.Payload.Warnings = t.priced.warnings

	if err := s.dispatch(ctx, t, route(cls.Intent, t.parsed)); err != nil {
		return t.res, err
	}
	if err := s.commit(ctx, t); err != nil {
		return t.res, err
	}
	return t.res, nil
}

// route falls back to the message structure when no intent was recognized.
func route(intent classifier.Intent, parsed extract.Result) classifier.Intent {
	if intent != classifier.IntentUnknown {
		return intent
	}
	switch {
	case parsed.HasOrderQuantities() && !parsed.PriceInquiry:
		return classifier.IntentOrder
	case len(parsed.Lines) > 0:
		return classifier.IntentPriceRequest
	case parsed.BareQuantity != nil:
		return classifier.IntentQuantityUpdate
	}
	return classifier.IntentUnknown
}

func (s *Service) dispatch(ctx context.Context, t *turn, intent classifier.Intent) error {
	switch intent {
	case classifier.IntentPriceRequest:
		return s.onPriceRequest(t)
	case classifier.IntentOrder:
		return s.onOrder(ctx, t)
	case classifier.IntentDiscountRequest:
		return s.onDiscountRequest(ctx, t)
	case classifier.IntentCounter:
		return s.onCounter(ctx, t)
	case classifier.IntentQuantityUpdate:
		return s.onQuantityUpdate(ctx, t)
	case classifier.IntentConfirm:
		return s.onConfirm(ctx, t)
	case classifier.IntentReject:
		return s.onReject(t)
	case classifier.IntentCheckout:
		return s.onCheckout(t)
	case classifier.IntentCancelCart:
		return s.onCancel(t)
	}
	if len(t.res.Payload.Issues) == 0 {
		t.res.Payload.Issues = []LineIssue{{Code: apperr.CodeParseEmpty, Message: apperr.ErrParseEmpty.Error()}}
	}
	clarify(t, "Which products do you need, and how many cartons?")
	return nil
}

func clarify(t *turn, question string) {
	t.res.Kind = KindClarification
	t.res.Payload.Question = question
}

func (s *Service) onPriceRequest(t *turn) error {
	if len(t.priced.quotes) == 0 {
		clarify(t, "Which products would you like a price for?")
		return nil
	}
	if t.state.Active() {
		t.state = negotiation.Clear(t.state)
	}
	t.state.QuotedLines = t.priced.quotes
	t.res.Kind = KindQuote
	t.res.Payload.Quotes = t.priced.quotes
	return nil
}

func (s *Service) onOrder(ctx context.Context, t *turn) error {
	ordered := t.priced.quantified()
	if len(ordered) == 0 {
		if len(t.priced.quotes) > 0 {
			return s.onPriceRequest(t)
		}
		if t.parsed.BareQuantity != nil {
			return s.onQuantityUpdate(ctx, t)
		}
		clarify(t, "Which products do you need, and how many cartons?")
		return nil
	}
	t.addToCart = ordered
	if !t.state.Active() {
		t.state.QuotedLines = t.priced.quoteOnly()
	}
	t.res.Kind = KindCartUpdated
	t.res.Payload.Quotes = t.priced.quotes
	return nil
}

// lastQuoteWithQuantity applies a bare quantity to the single product of the
// conversation's last quote.
func (s *Service) lastQuoteWithQuantity(ctx context.Context, t *turn) ([]internal.PriceQuote, bool, error) {
	qty := t.parsed.BareQuantity
	if qty == nil || len(t.state.QuotedLines) == 0 {
		return nil, false, nil
	}
	if len(t.state.QuotedLines) > 1 {
		clarify(t, fmt.Sprintf("Which product should be %d %s?", qty.Value, unitWord(qty.Unit)))
		return nil, true, nil
	}
	priced, err := s.requantify(ctx, t.tenantID, t.state.QuotedLines[0], *qty, t.cartCartons, t.cust)
	if err != nil {
		return nil, true, err
	}
	t.res.Payload.Issues = append(t.res.Payload.Issues, priced.issues...)
	t.res.Payload.Warnings = append(t.res.Payload.Warnings, priced.warnings...)
	if len(priced.quotes) == 0 {
		clarify(t, "How many cartons do you need?")
		return nil, true, nil
	}
	return priced.quotes, false, nil
}

func (s *Service) onDiscountRequest(ctx context.Context, t *turn) error {
	quotes := t.priced.quotes
	if len(quotes) == 0 {
		requoted, answered, err := s.lastQuoteWithQuantity(ctx, t)
		if err != nil || answered {
			return err
		}
		quotes = requoted
	}
	out, err := s.machine.Request(t.state, quotes, t.cartCartons, t.cust)
	if err != nil {
		return err
	}
	s.applyOutcome(t, out)
	return nil
}

func (s *Service) onCounter(ctx context.Context, t *turn) error {
	if !t.state.Active() {
		return s.onDiscountRequest(ctx, t)
	}
	out, err := s.machine.Counter(t.state)
	if err != nil {
		return err
	}
	s.applyOutcome(t, out)
	return nil
}

func (s *Service) onQuantityUpdate(ctx context.Context, t *turn) error {
	quotes := t.priced.quantified()
	if len(quotes) == 0 {
		requoted, answered, err := s.lastQuoteWithQuantity(ctx, t)
		if err != nil || answered {
			return err
		}
		quotes = requoted
	}
	if len(quotes) == 0 {
		if len(t.priced.quotes) > 0 {
			return s.onPriceRequest(t)
		}
		clarify(t, "Which product is that quantity for?")
		return nil
	}

	switch {
	case s.machine.Expired(t.state):
		out, err := s.machine.Request(t.state, quotes, t.cartCartons, t.cust)
		if err != nil {
			return err
		}
		s.applyOutcome(t, out)
	case t.state.Active():
		out, err := s.machine.Requote(t.state, quotes, t.cartCartons, t.cust)
		if err != nil {
			return err
		}
		s.applyOutcome(t, out)
	default:
		t.state.QuotedLines = quotes
		t.res.Kind = KindQuote
		t.res.Payload.Quotes = quotes
	}
	return nil
}

func (s *Service) onConfirm(ctx context.Context, t *turn) error {
	switch t.state.Stage {
	case internal.StageOffered, internal.StageCountered:
		out, err := s.machine.Accept(t.state)
		if err != nil {
			return err
		}
		s.applyOutcome(t, out)
		return nil
	case internal.StageRequested:
		if s.machine.Expired(t.state) {
			t.state = negotiation.Clear(t.state)
			t.res.Payload.Stale = true
		}
		clarify(t, "How many cartons of each product do you need?")
		return nil
	}

	switch {
	case allQuantified(t.state.QuotedLines):
		t.addToCart = t.state.QuotedLines
		t.res.Payload.Quotes = t.state.QuotedLines
		t.state.QuotedLines = nil
		t.res.Kind = KindCartUpdated
	case len(t.state.QuotedLines) > 0:
		t.res.Payload.Quotes = t.state.QuotedLines
		clarify(t, "How many cartons of each product do you need?")
	case len(t.priced.quantified()) > 0:
		return s.onOrder(ctx, t)
	default:
		clarify(t, "What would you like to order?")
	}
	return nil
}

func (s *Service) onReject(t *turn) error {
	if t.state.Active() {
		out, err := s.machine.Reject(t.state)
		if err != nil {
			return err
		}
		t.state = out.State
		t.res.Payload.Notice = "Offer withdrawn, your cart is unchanged."
	} else {
		t.state.QuotedLines = nil
	}
	clarify(t, "Anything else I can help you with?")
	return nil
}

func (s *Service) onCheckout(t *turn) error {
	if t.cartLines == 0 {
		t.res.Payload.Issues = append(t.res.Payload.Issues, LineIssue{Code: apperr.CodeCartEmpty, Message: apperr.ErrCartEmpty.Error()})
		clarify(t, "Your cart is empty. What would you like to order?")
		return nil
	}
	t.checkout = true
	t.res.Kind = KindCartUpdated
	return nil
}

func (s *Service) onCancel(t *turn) error {
	t.cancelCart = t.cartID != ""
	t.state = negotiation.Clear(t.state)
	t.res.Kind = KindCartUpdated
	if t.cancelCart {
		t.res.Payload.Notice = "Your cart has been cleared."
	} else {
		t.res.Payload.Notice = "Your cart is already empty."
	}
	return nil
}

// applyOutcome maps a negotiation outcome onto the result.
func (s *Service) applyOutcome(t *turn, out negotiation.Outcome) {
	t.state = out.State
	if out.Stale {
		t.res.Payload.Stale = true
		t.res.Payload.Issues = append(t.res.Payload.Issues, LineIssue{
			Code:    apperr.CodeNegotiationStale,
			Message: "the earlier offer expired",
		})
	}
	switch {
	case out.NeedsQuantity:
		t.res.Payload.Quotes = out.State.QuotedLines
		clarify(t, "How many cartons of each product do you need?")
	case len(out.Commit) > 0:
		t.addToCart = out.Commit
		t.res.Kind = KindCartUpdated
		t.res.Payload.Quotes = out.Commit
	default:
		t.res.Kind = KindNegotiationOffer
		t.res.Payload.Quotes = out.State.QuotedLines
		t.res.Payload.Offer = offerOf(out.State)
	}
}

// commit writes the cart changes and the conversation state atomically. A
// stale conversation version aborts everything.
func (s *Service) commit(ctx context.Context, t *turn) error {
	t.state.TenantID = t.tenantID
	t.state.ConversationID = t.conversationID
	t.state.UpdatedAt = s.now()

	return s.db.WithTx(ctx, func(tx *storage.Queries) error {
		if t.cancelCart {
			if _, err := s.carts.Cancel(ctx, tx, t.tenantID, t.conversationID); err != nil {
				return err
			}
		}
		if len(t.addToCart) > 0 {
			c, err := s.carts.AddQuotes(ctx, tx, t.tenantID, t.conversationID, t.addToCart)
			if err != nil {
				return err
			}
			// the slab is order-level: every line gets at least the base of the whole cart
			floor, _, err := s.engine.BaseDiscount(cart.Cartons(c.Lines))
			if err != nil {
				return err
			}
			if c.Lines, err = s.carts.RaiseToFloor(ctx, tx, c.Lines, floor); err != nil {
				return err
			}
			totals := s.carts.Totals(c.Lines)
			t.res.Payload.Cart = &c
			t.res.Payload.Totals = &totals
		}
		if t.checkout {
			draft, err := s.carts.Checkout(ctx, tx, t.cartID)
			if err != nil {
				return err
			}
			t.res.Payload.Order = &draft
			t.res.Payload.Totals = &draft.Totals
		}
		_, err := tx.SaveConversation(ctx, t.state)
		return err
	})
}

func unitWord(u internal.Unit) string {
	if u == internal.UnitPieces {
		return "pcs"
	}
	return "cartons"
}
