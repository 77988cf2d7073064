// Package pipeline runs one chat message through extraction, resolution,
// conversion, pricing and negotiation, and commits the outcome to the
// conversation state and cart under a per-conversation lock.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
	"orderdesk/internal/cart"
	"orderdesk/internal/catalog"
	"orderdesk/internal/classifier"
	"orderdesk/internal/config"
	"orderdesk/internal/locker"
	"orderdesk/internal/negotiation"
	"orderdesk/internal/pricing"
	"orderdesk/internal/storage"
)

type Service struct {
	db         *storage.DB
	resolver   *catalog.Resolver
	engine     *pricing.Engine
	machine    *negotiation.Machine
	carts      *cart.Service
	classifier *classifier.Gate
	locks      *locker.Keyed
	logger     *zap.Logger
	now        func() time.Time
}

type options struct {
	now   func() time.Time
	locks *locker.Keyed
}

type Option func(*options)

// WithClock replaces the clock used for pricing history, negotiation expiry
// and run timings.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocker shares a conversation lock table with other services.
func WithLocker(l *locker.Keyed) Option {
	return func(o *options) { o.locks = l }
}

// NewService wires the pipeline. A nil gate classifies with rules only.
func NewService(db *storage.DB, cfg config.Config, gate *classifier.Gate, logger *zap.Logger, opts ...Option) (*Service, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.locks == nil {
		o.locks = locker.NewKeyed()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	engine, err := pricing.NewEngine(cfg.Pricing, pricing.WithClock(o.now))
	if err != nil {
		return nil, fmt.Errorf("pricing engine: %w", err)
	}
	if gate == nil {
		gate = classifier.NewGate(nil, classifier.NewRules(), nil, cfg.ClassifierConfidenceThreshold, logger)
	}

	return &Service{
		db:         db,
		resolver:   catalog.NewResolver(db.Queries(), cfg.MatchMaxCandidates),
		engine:     engine,
		machine:    negotiation.New(engine, cfg.Negotiation, negotiation.WithClock(o.now)),
		carts:      cart.NewService(cfg.Pricing.TaxRatePercent),
		classifier: gate,
		locks:      o.locks,
		logger:     logger,
		now:        o.now,
	}, nil
}

// CommitCartToOrder checks a cart out into an order draft. Totals come from
// the stored line items only.
func (s *Service) CommitCartToOrder(ctx context.Context, cartID string) (internal.OrderDraft, error) {
	c, err := s.db.Queries().GetCart(ctx, cartID)
	if err != nil {
		return internal.OrderDraft{}, err
	}
	if c == nil {
		return internal.OrderDraft{}, fmt.Errorf("cart %s: %w", cartID, apperr.ErrNotFound)
	}

	unlock, err := s.locks.Lock(ctx, locker.ConversationKey(c.TenantID, c.ConversationID))
	if err != nil {
		return internal.OrderDraft{}, err
	}
	defer unlock()

	var draft internal.OrderDraft
	err = s.db.WithTx(ctx, func(tx *storage.Queries) error {
		var err error
		draft, err = s.carts.Checkout(ctx, tx, cartID)
		return err
	})
	if err != nil {
		return internal.OrderDraft{}, err
	}
	s.logger.Info("cart committed to order",
		zap.String("tenant", draft.TenantID),
		zap.String("conversation", draft.ConversationID),
		zap.String("order", draft.ID),
		zap.String("total", draft.Totals.Total.StringFixed(2)))
	return draft, nil
}

// Cart returns the conversation's cart with recomputed totals, or nil.
func (s *Service) Cart(ctx context.Context, tenantID, conversationID string) (*internal.Cart, internal.OrderTotals, error) {
	c, err := s.carts.Get(ctx, s.db.Queries(), tenantID, conversationID)
	if err != nil || c == nil {
		return c, internal.OrderTotals{}, err
	}
	return c, s.carts.Totals(c.Lines), nil
}

func (s *Service) customer(ctx context.Context, q *storage.Queries, tenantID, conversationID string) (internal.CustomerContext, error) {
	tier, err := q.GetCustomerTier(ctx, tenantID, conversationID)
	if err != nil {
		return internal.CustomerContext{}, err
	}
	prices, err := q.LastPurchasePrices(ctx, tenantID, conversationID)
	if err != nil {
		return internal.CustomerContext{}, err
	}
	return internal.CustomerContext{
		TenantID:   tenantID,
		CustomerID: conversationID,
		Tier:       tier,
		LastPrices: prices,
	}, nil
}

// CancelCart drops the conversation's cart and any open negotiation. It
// reports whether there was a cart.
func (s *Service) CancelCart(ctx context.Context, tenantID, conversationID string) (bool, error) {
	unlock, err := s.locks.Lock(ctx, locker.ConversationKey(tenantID, conversationID))
	if err != nil {
		return false, err
	}
	defer unlock()

	var had bool
	err = s.db.WithTx(ctx, func(tx *storage.Queries) error {
		state, err := tx.GetConversation(ctx, tenantID, conversationID)
		if err != nil {
			return err
		}
		if had, err = s.carts.Cancel(ctx, tx, tenantID, conversationID); err != nil {
			return err
		}
		cleared := negotiation.Clear(state)
		cleared.TenantID, cleared.ConversationID = tenantID, conversationID
		cleared.UpdatedAt = s.now()
		_, err = tx.SaveConversation(ctx, cleared)
		return err
	})
	return had, err
}
