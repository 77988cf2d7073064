// Package cart owns the per-conversation cart: idempotent line merges and
// checkout into an order draft with totals derived from the stored lines.
package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
	"orderdesk/internal/pricing"
)

// Store is the persistence the cart needs; *storage.Queries implements it.
// Callers pass a transaction-bound store so a merge or checkout is atomic.
type Store interface {
	EnsureCart(ctx context.Context, tenantID, conversationID string) (internal.Cart, error)
	GetCart(ctx context.Context, cartID string) (*internal.Cart, error)
	GetCartByConversation(ctx context.Context, tenantID, conversationID string) (*internal.Cart, error)
	TouchCart(ctx context.Context, cartID string) error
	GetCartItem(ctx context.Context, cartID, productID string) (*internal.CartLineItem, error)
	ListCartItems(ctx context.Context, cartID string) ([]internal.CartLineItem, error)
	PutCartItem(ctx context.Context, item internal.CartLineItem) error
	DeleteCart(ctx context.Context, cartID string) error
	InsertOrder(ctx context.Context, d internal.OrderDraft) error
	RecordPurchasePrices(ctx context.Context, tenantID, customerID string, lines []internal.CartLineItem, at time.Time) error
	PromoteCustomer(ctx context.Context, tenantID, customerID string) error
}

type Service struct {
	taxRatePercent decimal.Decimal
	now            func() time.Time
}

func NewService(taxRatePercent decimal.Decimal) *Service {
	return &Service{taxRatePercent: taxRatePercent, now: time.Now}
}

// Line is one product to add to a cart.
type Line struct {
	ProductID       string
	ProductCode     string
	ProductName     string
	QuantityCartons int
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
}

// LineFromQuote converts a priced quote line.
func LineFromQuote(q internal.PriceQuote) Line {
	return Line{
		ProductID:       q.ProductID,
		ProductCode:     q.ProductCode,
		ProductName:     q.ProductName,
		QuantityCartons: q.QuantityCartons,
		UnitPrice:       q.UnitPriceCarton,
		DiscountPercent: q.DiscountPercent,
	}
}

// AddOrMerge adds a line to the cart. An existing row for the same product
// gets the quantities summed and the latest unit price applied to the merged
// quantity; there is never a second row. A merge never lowers the discount the
// row already carries, so an accepted offer survives a follow-up add.
func (s *Service) AddOrMerge(ctx context.Context, store Store, cartID string, line Line) (internal.CartLineItem, error) {
	if line.QuantityCartons <= 0 {
		return internal.CartLineItem{}, apperr.New(apperr.CodeInvalidQuantity, "cartons must be positive, got %d", line.QuantityCartons)
	}
	existing, err := store.GetCartItem(ctx, cartID, line.ProductID)
	if err != nil {
		return internal.CartLineItem{}, err
	}

	qty := line.QuantityCartons
	discount := line.DiscountPercent
	if existing != nil {
		qty += existing.QuantityCartons
		discount = decimal.Max(discount, existing.DiscountPercent)
	}
	item := priced(internal.CartLineItem{
		CartID:          cartID,
		ProductID:       line.ProductID,
		ProductCode:     line.ProductCode,
		ProductName:     line.ProductName,
		QuantityCartons: qty,
		UnitPrice:       line.UnitPrice,
	}, discount)
	if err := store.PutCartItem(ctx, item); err != nil {
		return internal.CartLineItem{}, err
	}
	return item, store.TouchCart(ctx, cartID)
}

// RaiseToFloor lifts every line below floor to floor, the base discount of
// the slab the whole cart falls in. Lines already above it keep their discount.
func (s *Service) RaiseToFloor(ctx context.Context, store Store, lines []internal.CartLineItem, floor decimal.Decimal) ([]internal.CartLineItem, error) {
	out := make([]internal.CartLineItem, len(lines))
	for i, l := range lines {
		if l.DiscountPercent.LessThan(floor) {
			l = priced(l, floor)
			if err := store.PutCartItem(ctx, l); err != nil {
				return nil, err
			}
		}
		out[i] = l
	}
	return out, nil
}

// Cartons sums the carton quantities of lines.
func Cartons(lines []internal.CartLineItem) int {
	n := 0
	for _, l := range lines {
		n += l.QuantityCartons
	}
	return n
}

func priced(item internal.CartLineItem, discount decimal.Decimal) internal.CartLineItem {
	item.DiscountPercent = pricing.RoundPercent(discount)
	item.LineTotal = pricing.LineTotal(item.UnitPrice, item.QuantityCartons)
	item.DiscountedLineTotal = pricing.Discounted(item.LineTotal, item.DiscountPercent)
	return item
}

// AddQuotes merges quoted lines into the conversation's cart, creating the
// cart on first add, and returns the cart with all its lines.
func (s *Service) AddQuotes(ctx context.Context, store Store, tenantID, conversationID string, quotes []internal.PriceQuote) (internal.Cart, error) {
	c, err := store.EnsureCart(ctx, tenantID, conversationID)
	if err != nil {
		return internal.Cart{}, err
	}
	for _, q := range quotes {
		if _, err := s.AddOrMerge(ctx, store, c.ID, LineFromQuote(q)); err != nil {
			return internal.Cart{}, err
		}
	}
	c.Lines, err = store.ListCartItems(ctx, c.ID)
	return c, err
}

// Get returns the conversation's cart with lines, or nil when there is none.
func (s *Service) Get(ctx context.Context, store Store, tenantID, conversationID string) (*internal.Cart, error) {
	c, err := store.GetCartByConversation(ctx, tenantID, conversationID)
	if err != nil || c == nil {
		return c, err
	}
	c.Lines, err = store.ListCartItems(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Totals recomputes order totals from the cart's stored lines.
func (s *Service) Totals(lines []internal.CartLineItem) internal.OrderTotals {
	return pricing.Totals(lines, s.taxRatePercent)
}

// Checkout turns the cart into an order draft, records the purchase prices,
// promotes a new customer to returning and removes the cart. The customer of a
// conversation is the conversation id.
func (s *Service) Checkout(ctx context.Context, store Store, cartID string) (internal.OrderDraft, error) {
	c, err := store.GetCart(ctx, cartID)
	if err != nil {
		return internal.OrderDraft{}, err
	}
	if c == nil {
		return internal.OrderDraft{}, fmt.Errorf("cart %s: %w", cartID, apperr.ErrNotFound)
	}
	lines, err := store.ListCartItems(ctx, cartID)
	if err != nil {
		return internal.OrderDraft{}, err
	}
	if len(lines) == 0 {
		return internal.OrderDraft{}, apperr.New(apperr.CodeCartEmpty, "cart %s has no lines", cartID)
	}

	at := s.now().UTC()
	draft := internal.OrderDraft{
		ID:             uuid.NewString(),
		TenantID:       c.TenantID,
		ConversationID: c.ConversationID,
		CartID:         c.ID,
		Lines:          lines,
		Totals:         s.Totals(lines),
		CreatedAt:      at,
	}
	if err := store.InsertOrder(ctx, draft); err != nil {
		return internal.OrderDraft{}, err
	}
	if err := store.RecordPurchasePrices(ctx, c.TenantID, c.ConversationID, lines, at); err != nil {
		return internal.OrderDraft{}, err
	}
	if err := store.PromoteCustomer(ctx, c.TenantID, c.ConversationID); err != nil {
		return internal.OrderDraft{}, err
	}
	if err := store.DeleteCart(ctx, c.ID); err != nil {
		return internal.OrderDraft{}, err
	}
	return draft, nil
}

// Cancel drops the conversation's cart. It reports whether there was one.
func (s *Service) Cancel(ctx context.Context, store Store, tenantID, conversationID string) (bool, error) {
	c, err := store.GetCartByConversation(ctx, tenantID, conversationID)
	if err != nil || c == nil {
		return false, err
	}
	return true, store.DeleteCart(ctx, c.ID)
}
