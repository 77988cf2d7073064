package internal

import (
	"time"

	"github.com/shopspring/decimal"
)

type Unit string

const (
	UnitPieces  Unit = "PIECES"
	UnitCartons Unit = "CARTONS"
)

// ExtractedOrderLine is one product reference pulled out of a chat message.
// Quantity is 1 when HasQuantity is false; such lines are quote-only.
type ExtractedOrderLine struct {
	ProductReference string `json:"productReference"`
	RawSpan          string `json:"rawSpan"`
	Quantity         int    `json:"quantity"`
	Unit             Unit   `json:"unit"`
	HasQuantity      bool   `json:"hasQuantity"`
	SharedQuantity   bool   `json:"sharedQuantity"`
	IsMultiProduct   bool   `json:"isMultiProduct"`
}

type CatalogProduct struct {
	ID               string          `db:"id" json:"id"`
	TenantID         string          `db:"tenant_id" json:"tenantId"`
	Code             string          `db:"code" json:"code"`
	Name             string          `db:"name" json:"name"`
	Description      string          `db:"description" json:"description"`
	Category         string          `db:"category" json:"category"`
	Price            decimal.Decimal `db:"price" json:"price"`
	UnitsPerCarton   int             `db:"units_per_carton" json:"unitsPerCarton"`
	UnitsPerPacket   *int            `db:"units_per_packet" json:"unitsPerPacket,omitempty"`
	PacketsPerCarton *int            `db:"packets_per_carton" json:"packetsPerCarton,omitempty"`
	IsActive         bool            `db:"is_active" json:"isActive"`
	UpdatedAt        string          `db:"updated_at" json:"updatedAt"`
}

type ResolveStatus string

type MatchReason string

const (
	Resolved  ResolveStatus = "RESOLVED"
	NotFound  ResolveStatus = "NOT_FOUND"
	Ambiguous ResolveStatus = "AMBIGUOUS"

	ReasonCode      MatchReason = "CODE"
	ReasonName      MatchReason = "NAME"
	ReasonSubstring MatchReason = "SUBSTRING"
	ReasonTokens    MatchReason = "TOKENS"
	ReasonNone      MatchReason = "NONE"
)

type ResolvedLine struct {
	Line       ExtractedOrderLine `json:"line"`
	Status     ResolveStatus      `json:"status"`
	Reason     MatchReason        `json:"reason"`
	Candidates []CatalogProduct   `json:"candidates"`
}

// Product returns the single matched product of a resolved line.
func (r ResolvedLine) Product() (CatalogProduct, bool) {
	if r.Status != Resolved || len(r.Candidates) != 1 {
		return CatalogProduct{}, false
	}
	return r.Candidates[0], true
}

type PriceSource string

const (
	PriceFromCatalog PriceSource = "CATALOG"
	PriceFromHistory PriceSource = "HISTORY"
)

type PriceQuote struct {
	ProductID           string          `json:"productId"`
	ProductCode         string          `json:"productCode"`
	ProductName         string          `json:"productName"`
	Reference           string          `json:"reference"`
	QuantityCartons     int             `json:"quantityCartons"`
	HasQuantity         bool            `json:"hasQuantity"`
	UnitPriceCarton     decimal.Decimal `json:"unitPriceCarton"`
	LineTotal           decimal.Decimal `json:"lineTotal"`
	DiscountPercent     decimal.Decimal `json:"discountPercent"`
	DiscountedLineTotal decimal.Decimal `json:"discountedLineTotal"`
	PriceSource         PriceSource     `json:"priceSource"`
	SlabLabel           string          `json:"slabLabel"`
}

// VolumeDiscountSlab covers [MinQty, MaxQty] cartons; a nil MaxQty is unbounded.
type VolumeDiscountSlab struct {
	MinQty      int             `json:"minQty"`
	MaxQty      *int            `json:"maxQty,omitempty"`
	MinDiscount decimal.Decimal `json:"minDiscount"`
	MaxDiscount decimal.Decimal `json:"maxDiscount"`
	TierLabel   string          `json:"tierLabel"`
}

func (s VolumeDiscountSlab) Contains(qty int) bool {
	if qty < s.MinQty {
		return false
	}
	return s.MaxQty == nil || qty <= *s.MaxQty
}

type CustomerTier string

const (
	TierNew       CustomerTier = "NEW"
	TierReturning CustomerTier = "RETURNING"
	TierVIP       CustomerTier = "VIP"
)

type PurchasePrice struct {
	ProductID   string          `db:"product_id" json:"productId"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unitPrice"`
	PurchasedAt time.Time       `db:"-" json:"purchasedAt"`
}

// CustomerContext is everything the pricing engine knows about the buyer.
type CustomerContext struct {
	TenantID        string
	CustomerID      string
	Tier            CustomerTier
	LastPrices      map[string]PurchasePrice
	BestPrice       bool
	DiscountPercent *decimal.Decimal
}

type Stage string

const (
	StageNone      Stage = "NONE"
	StageRequested Stage = "REQUESTED"
	StageOffered   Stage = "OFFERED"
	StageCountered Stage = "COUNTERED"
	StageAccepted  Stage = "ACCEPTED"
	StageRejected  Stage = "REJECTED"
)

// NegotiationState is the versioned per-conversation scratch state. While
// Stage is NONE, QuotedLines holds the last quote given to the customer.
type NegotiationState struct {
	TenantID            string          `json:"tenantId"`
	ConversationID      string          `json:"conversationId"`
	QuotedLines         []PriceQuote    `json:"quotedLines"`
	Stage               Stage           `json:"stage"`
	Tier                CustomerTier    `json:"tier"`
	BestPrice           bool            `json:"bestPrice,omitempty"`
	TotalCartons        int             `json:"totalCartons"`
	CurrentOfferPercent decimal.Decimal `json:"currentOfferPercent"`
	CeilingPercent      decimal.Decimal `json:"ceilingPercent"`
	FloorPercent        decimal.Decimal `json:"floorPercent"`
	TurnsUsed           int             `json:"turnsUsed"`
	FinalOffer          bool            `json:"finalOffer"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	ExpiresAt           *time.Time      `json:"expiresAt,omitempty"`
	Version             int64           `json:"-"`
}

func (s NegotiationState) Active() bool {
	switch s.Stage {
	case StageRequested, StageOffered, StageCountered:
		return true
	default:
		return false
	}
}

type CartLineItem struct {
	CartID              string          `db:"cart_id" json:"cartId"`
	ProductID           string          `db:"product_id" json:"productId"`
	ProductCode         string          `db:"product_code" json:"productCode"`
	ProductName         string          `db:"product_name" json:"productName"`
	QuantityCartons     int             `db:"quantity_cartons" json:"quantityCartons"`
	UnitPrice           decimal.Decimal `db:"unit_price" json:"unitPrice"`
	DiscountPercent     decimal.Decimal `db:"discount_percent" json:"discountPercent"`
	LineTotal           decimal.Decimal `db:"line_total" json:"lineTotal"`
	DiscountedLineTotal decimal.Decimal `db:"discounted_line_total" json:"discountedLineTotal"`
	UpdatedAt           string          `db:"updated_at" json:"updatedAt"`
}

type Cart struct {
	ID             string         `db:"id" json:"id"`
	TenantID       string         `db:"tenant_id" json:"tenantId"`
	ConversationID string         `db:"conversation_id" json:"conversationId"`
	CreatedAt      string         `db:"created_at" json:"createdAt"`
	UpdatedAt      string         `db:"updated_at" json:"updatedAt"`
	Lines          []CartLineItem `db:"-" json:"lines"`
}

type OrderTotals struct {
	GrossTotal     decimal.Decimal `json:"grossTotal"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
}

// OrderDraft is the handoff to the order/invoice pipeline.
type OrderDraft struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenantId"`
	ConversationID string         `json:"conversationId"`
	CartID         string         `json:"cartId"`
	Lines          []CartLineItem `json:"lines"`
	Totals         OrderTotals    `json:"totals"`
	CreatedAt      time.Time      `json:"createdAt"`
}

type InboundMessage struct {
	ID             string `db:"id"`
	Provider       string `db:"provider"`
	MessageID      string `db:"message_id"`
	TenantID       string `db:"tenant_id"`
	ConversationID string `db:"conversation_id"`
	Subject        string `db:"subject"`
	ReceivedAt     string `db:"received_at"`
	Hash           string `db:"hash"`
	Status         string `db:"status"`
	RawRef         string `db:"raw_ref"`
}

type FetchedMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}
