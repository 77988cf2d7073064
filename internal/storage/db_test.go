package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
	"orderdesk/internal/util"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	assert.Error(t, err)
	_, err = Open("pgx", "")
	assert.Error(t, err)
}

func TestProductsUpsertKeepsPackaging(t *testing.T) {
	ctx := context.Background()
	q := openTestDB(t).Queries()

	require.NoError(t, q.UpsertProducts(ctx, []internal.CatalogProduct{
		{TenantID: "t1", Code: "8x80", Name: "Bolt 8x80", Price: decimal.RequireFromString("12.50"), UnitsPerCarton: 100, IsActive: true},
		{TenantID: "t1", Code: "8x100", Name: "Bolt 8x100", Price: decimal.NewFromInt(14), UnitsPerCarton: 50, UnitsPerPacket: util.IntPtr(10), PacketsPerCarton: util.IntPtr(5), IsActive: true},
		{TenantID: "t2", Code: "8x80", Name: "Other tenant", Price: decimal.NewFromInt(1), UnitsPerCarton: 1, IsActive: true},
	}))

	before, err := q.GetProductByCode(ctx, "t1", "8x80")
	require.NoError(t, err)
	require.NotNil(t, before)

	require.NoError(t, q.UpsertProducts(ctx, []internal.CatalogProduct{
		{TenantID: "t1", Code: "8x80", Name: "Bolt 8x80 zinc", Price: decimal.NewFromInt(13), UnitsPerCarton: 200, IsActive: false},
	}))

	after, err := q.GetProductByCode(ctx, "t1", "8x80")
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, "Bolt 8x80 zinc", after.Name)
	assert.True(t, decimal.NewFromInt(13).Equal(after.Price))
	assert.Equal(t, 100, after.UnitsPerCarton)
	assert.False(t, after.IsActive)

	active, err := q.ListProducts(ctx, "t1", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "8x100", active[0].Code)
	require.NotNil(t, active[0].UnitsPerPacket)
	assert.Equal(t, 10, *active[0].UnitsPerPacket)

	all, err := q.ListProducts(ctx, "t1", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	found, err := q.SearchProducts(ctx, "t1", "BOLT", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "8x100", found[0].Code)

	missing, err := q.GetProductByCode(ctx, "t1", "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCustomersAndPurchasePrices(t *testing.T) {
	ctx := context.Background()
	q := openTestDB(t).Queries()

	tier, err := q.GetCustomerTier(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, internal.TierNew, tier)

	require.NoError(t, q.PromoteCustomer(ctx, "t1", "c1"))
	tier, err = q.GetCustomerTier(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, internal.TierReturning, tier)

	require.NoError(t, q.SetCustomerTier(ctx, "t1", "c2", internal.TierVIP))
	require.NoError(t, q.PromoteCustomer(ctx, "t1", "c2"))
	tier, err = q.GetCustomerTier(ctx, "t1", "c2")
	require.NoError(t, err)
	assert.Equal(t, internal.TierVIP, tier)

	at := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, q.RecordPurchasePrices(ctx, "t1", "c1", []internal.CartLineItem{
		{ProductID: "p1", UnitPrice: decimal.RequireFromString("9.75")},
	}, at))
	prices, err := q.LastPurchasePrices(ctx, "t1", "c1")
	require.NoError(t, err)
	require.Contains(t, prices, "p1")
	assert.True(t, decimal.RequireFromString("9.75").Equal(prices["p1"].UnitPrice))
	assert.True(t, at.Equal(prices["p1"].PurchasedAt))
}

func TestConversationCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	q := openTestDB(t).Queries()

	state, err := q.GetConversation(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Version)
	assert.Equal(t, internal.StageNone, state.Stage)

	state.Stage = internal.StageOffered
	state.CurrentOfferPercent = decimal.RequireFromString("3.75")
	state.QuotedLines = []internal.PriceQuote{{ProductID: "p1", QuantityCartons: 20}}
	v, err := q.SaveConversation(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// a second writer that read version 0 loses
	_, err = q.SaveConversation(ctx, state)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrCartMergeConflict))

	loaded, err := q.GetConversation(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	assert.Equal(t, internal.StageOffered, loaded.Stage)
	assert.True(t, decimal.RequireFromString("3.75").Equal(loaded.CurrentOfferPercent))
	require.Len(t, loaded.QuotedLines, 1)

	loaded.Stage = internal.StageCountered
	v, err = q.SaveConversation(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = q.SaveConversation(ctx, loaded)
	assert.True(t, errors.Is(err, apperr.ErrCartMergeConflict))
}

func TestCartItemsOneRowPerProduct(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	var cartID string
	err := db.WithTx(ctx, func(q *Queries) error {
		cart, err := q.EnsureCart(ctx, "t1", "c1")
		if err != nil {
			return err
		}
		again, err := q.EnsureCart(ctx, "t1", "c1")
		if err != nil {
			return err
		}
		require.Equal(t, cart.ID, again.ID)
		cartID = cart.ID

		item := internal.CartLineItem{
			CartID: cart.ID, ProductID: "p1", ProductCode: "8x80", ProductName: "Bolt",
			QuantityCartons: 5, UnitPrice: decimal.NewFromInt(10), DiscountPercent: decimal.Zero,
			LineTotal: decimal.NewFromInt(50), DiscountedLineTotal: decimal.NewFromInt(50),
		}
		if err := q.PutCartItem(ctx, item); err != nil {
			return err
		}
		item.QuantityCartons = 8
		item.LineTotal = decimal.NewFromInt(80)
		item.DiscountedLineTotal = decimal.NewFromInt(80)
		return q.PutCartItem(ctx, item)
	})
	require.NoError(t, err)

	q := db.Queries()
	items, err := q.ListCartItems(ctx, cartID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 8, items[0].QuantityCartons)
	assert.True(t, decimal.NewFromInt(80).Equal(items[0].DiscountedLineTotal))

	require.NoError(t, q.DeleteCart(ctx, cartID))
	cart, err := q.GetCart(ctx, cartID)
	require.NoError(t, err)
	assert.Nil(t, cart)
	items, err = q.ListCartItems(ctx, cartID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(q *Queries) error {
		if _, err := q.EnsureCart(ctx, "t1", "c1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	cart, err := db.Queries().GetCartByConversation(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Nil(t, cart)
}

func TestOrdersRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := openTestDB(t).Queries()

	draft := internal.OrderDraft{
		ID: "o1", TenantID: "t1", ConversationID: "c1", CartID: "cart1",
		Lines: []internal.CartLineItem{{ProductID: "p1", QuantityCartons: 2, DiscountedLineTotal: decimal.NewFromInt(20)}},
		Totals: internal.OrderTotals{
			GrossTotal: decimal.NewFromInt(20), DiscountAmount: decimal.Zero,
			Subtotal: decimal.NewFromInt(20), Tax: decimal.NewFromInt(1), Total: decimal.NewFromInt(21),
		},
		CreatedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, q.InsertOrder(ctx, draft))

	got, err := q.LatestOrder(ctx, "t1", "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "o1", got.ID)
	assert.True(t, decimal.NewFromInt(21).Equal(got.Totals.Total))
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 2, got.Lines[0].QuantityCartons)
	assert.True(t, draft.CreatedAt.Equal(got.CreatedAt))

	none, err := q.LatestOrder(ctx, "t1", "other")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInboundMessages(t *testing.T) {
	ctx := context.Background()
	q := openTestDB(t).Queries()

	msg := internal.InboundMessage{
		Provider: "imap", MessageID: "42", TenantID: "t1", ConversationID: "buyer@example.com",
		Subject: "order", ReceivedAt: "2026-02-01T10:00:00Z", Hash: "h", RawRef: "/tmp/42.eml",
	}
	row, err := q.UpsertInboundMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, StatusFetched, row.Status)

	require.NoError(t, q.UpdateInboundStatus(ctx, row.ID, StatusProcessed, `{"kind":"QUOTE"}`))

	again, err := q.UpsertInboundMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, row.ID, again.ID)
	assert.Equal(t, StatusProcessed, again.Status)

	pending, err := q.ListInboundByStatus(ctx, StatusFetched, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMetadataAndRuns(t *testing.T) {
	ctx := context.Background()
	q := openTestDB(t).Queries()

	v, err := q.GetMetadata(ctx, "catalog_sync:t1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, q.SetMetadata(ctx, "catalog_sync:t1", "a"))
	require.NoError(t, q.SetMetadata(ctx, "catalog_sync:t1", "b"))
	v, err = q.GetMetadata(ctx, "catalog_sync:t1")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "b", *v)

	require.NoError(t, q.InsertRun(ctx, Run{TraceID: "tr", TenantID: "t1", ConversationID: "c1", Intent: "ORDER", Kind: "QUOTE", Timings: map[string]float64{"total": 1.5}}))
	n, err := q.CountRuns(ctx, "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
