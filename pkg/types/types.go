// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the exchange — order and trade
// records, ledger entries, order book snapshots, and outbox event payloads.
// It has no dependencies on internal packages, so it can be imported by any
// layer. All monetary values are integer cents; share quantities are whole
// integers (no fractional shares).
package types

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET" // sweep best available prices, discard residue
	OrderTypeLimit  OrderType = "LIMIT"  // match while crossable, rest the remainder
	OrderTypeIOC    OrderType = "IOC"    // immediate-or-cancel: never rests
)

// OrderStatus tracks an order through its lifecycle.
// FILLED, CANCELLED and EXPIRED are terminal.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPartial   OrderStatus = "PARTIAL"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusExpired   OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusExpired
}

// CancelReason records why an order left the book before filling.
type CancelReason string

const (
	CancelUser              CancelReason = "USER"
	CancelExpired           CancelReason = "EXPIRED"
	CancelIOCUnfilled       CancelReason = "IOC_UNFILLED"
	CancelInsufficientFunds CancelReason = "INSUFFICIENT_FUNDS"
)

// EventType classifies outbox events.
type EventType string

const (
	EventTrade EventType = "TRADE"
	EventQuote EventType = "QUOTE"
	EventDepth EventType = "DEPTH"
)

// Ledger account names. Share accounts are namespaced per symbol, e.g.
// "SHARES:@elonmusk"; the debit/credit columns then hold share counts
// rather than cents.
const (
	AccountCash        = "CASH"
	AccountSharePrefix = "SHARES:"
)

// ShareAccount returns the ledger account name for a symbol's shares.
func ShareAccount(symbol string) string {
	return AccountSharePrefix + symbol
}

// ————————————————————————————————————————————————————————————————————————
// Errors (validation errors surface synchronously to callers)
// ————————————————————————————————————————————————————————————————————————

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrTraderNotFound     = errors.New("trader not found")
	ErrOrderTerminal      = errors.New("order already in terminal state")
	ErrNotOwner           = errors.New("order not owned by trader")
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrInsufficientFunds  = errors.New("insufficient cash")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrOverfill           = errors.New("fill exceeds order quantity")
)

// ————————————————————————————————————————————————————————————————————————
// Durable records
// ————————————————————————————————————————————————————————————————————————

// Trader is an account permitted to trade. At most one trader may carry the
// admin flag (enforced by a partial unique index); the admin account acts as
// the treasury that issues initial shares.
type Trader struct {
	TraderID  uuid.UUID `db:"trader_id" json:"trader_id"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	IsAdmin   bool      `db:"is_admin" json:"is_admin"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order is the durable order row. Sequence is a per-symbol monotonic counter
// assigned atomically at insert time; it is the authoritative time component
// of price–time priority.
type Order struct {
	OrderID        uuid.UUID     `db:"order_id" json:"order_id"`
	TraderID       uuid.UUID     `db:"trader_id" json:"trader_id"`
	Symbol         string        `db:"symbol" json:"symbol"`
	Side           Side          `db:"side" json:"side"`
	Type           OrderType     `db:"order_type" json:"order_type"`
	Quantity       int64         `db:"quantity" json:"quantity"`
	LimitPrice     *int64        `db:"limit_price" json:"limit_price,omitempty"` // cents; required iff LIMIT
	FilledQuantity int64         `db:"filled_quantity" json:"filled_quantity"`
	Status         OrderStatus   `db:"status" json:"status"`
	CancelReason   *CancelReason `db:"cancel_reason" json:"cancel_reason,omitempty"`
	Sequence       int64         `db:"sequence" json:"sequence"`
	TIFSeconds     int64         `db:"tif_seconds" json:"tif_seconds"`
	ExpiresAt      time.Time     `db:"expires_at" json:"expires_at"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// OrderRequest carries the validated parameters for a new order.
type OrderRequest struct {
	TraderID   uuid.UUID `json:"trader_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Type       OrderType `json:"order_type"`
	Quantity   int64     `json:"quantity"`
	LimitPrice *int64    `json:"limit_price,omitempty"`
	TIFSeconds int64     `json:"tif_seconds"`
}

// Trade is the durable execution record. Price is the maker's resting price.
type Trade struct {
	TradeID      uuid.UUID `db:"trade_id" json:"trade_id"`
	BuyOrderID   uuid.UUID `db:"buy_order_id" json:"buy_order_id"`
	SellOrderID  uuid.UUID `db:"sell_order_id" json:"sell_order_id"`
	Symbol       string    `db:"symbol" json:"symbol"`
	Price        int64     `db:"price" json:"price"` // cents
	Quantity     int64     `db:"quantity" json:"quantity"`
	BuyerID      uuid.UUID `db:"buyer_id" json:"buyer_id"`
	SellerID     uuid.UUID `db:"seller_id" json:"seller_id"`
	TakerOrderID uuid.UUID `db:"taker_order_id" json:"taker_order_id"`
	MakerOrderID uuid.UUID `db:"maker_order_id" json:"maker_order_id"`
	ExecutedAt   time.Time `db:"executed_at" json:"executed_at"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Position is the denormalized holding for (trader, symbol). Quantity never
// goes negative; AvgCost is recomputed on buys only, as a floor-divided
// weighted average over the accumulated position.
type Position struct {
	TraderID  uuid.UUID `db:"trader_id" json:"trader_id"`
	Symbol    string    `db:"symbol" json:"symbol"`
	Quantity  int64     `db:"quantity" json:"quantity"`
	AvgCost   int64     `db:"avg_cost" json:"avg_cost"` // cents per share
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LedgerEntry is one side of a double-entry posting. Exactly one of Debit or
// Credit is positive. A trader's cash balance is Σdebits − Σcredits over the
// CASH account; share balances use the same convention on SHARES:<symbol>
// accounts, where the numeric fields hold share counts.
type LedgerEntry struct {
	EntryID     uuid.UUID  `db:"entry_id" json:"entry_id"`
	TradeID     *uuid.UUID `db:"trade_id" json:"trade_id,omitempty"` // nil for funding/issuance
	TraderID    uuid.UUID  `db:"trader_id" json:"trader_id"`
	Account     string     `db:"account" json:"account"`
	Debit       int64      `db:"debit" json:"debit"`
	Credit      int64      `db:"credit" json:"credit"`
	Description string     `db:"description" json:"description"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// OutboxEvent is a durable event row written in the same transaction as the
// state it describes. Published transitions false→true exactly once.
type OutboxEvent struct {
	EventID   uuid.UUID `db:"event_id" json:"event_id"`
	Type      EventType `db:"event_type" json:"event_type"`
	Symbol    string    `db:"symbol" json:"symbol"`
	Payload   []byte    `db:"payload" json:"payload"`
	Published bool      `db:"published" json:"published"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Channel returns the pub/sub channel this event is delivered on,
// e.g. "TRADE.@elonmusk". Ordering is guaranteed only within one channel.
func (e *OutboxEvent) Channel() string {
	return string(e.Type) + "." + e.Symbol
}

// ————————————————————————————————————————————————————————————————————————
// Derived / wire shapes
// ————————————————————————————————————————————————————————————————————————

// TradeData is the matching engine's in-flight trade record, persisted by the
// trade repository inside the settlement transaction.
type TradeData struct {
	BuyOrderID   uuid.UUID `json:"buy_order_id"`
	SellOrderID  uuid.UUID `json:"sell_order_id"`
	Symbol       string    `json:"symbol"`
	Price        int64     `json:"price"`
	Quantity     int64     `json:"quantity"`
	BuyerID      uuid.UUID `json:"buyer_id"`
	SellerID     uuid.UUID `json:"seller_id"`
	TakerOrderID uuid.UUID `json:"taker_order_id"`
	MakerOrderID uuid.UUID `json:"maker_order_id"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// BookState is the top-of-book summary attached to every TRADE event.
// Nil pointers mean the side is empty.
type BookState struct {
	BestBid *int64 `json:"best_bid"`
	BestAsk *int64 `json:"best_ask"`
	BidSize *int64 `json:"bid_size"`
	AskSize *int64 `json:"ask_size"`
}

// BookSnapshot is the aggregated depth view: total resting quantity per
// price on each side, plus the last trade price if any.
type BookSnapshot struct {
	Symbol    string          `json:"symbol"`
	Bids      map[int64]int64 `json:"bids"` // price → quantity
	Asks      map[int64]int64 `json:"asks"`
	LastPrice *int64          `json:"last_price,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TradeEventPayload is the JSON payload of a TRADE outbox event.
type TradeEventPayload struct {
	Trade TradeEventBody `json:"trade"`
	Book  BookState      `json:"book"`
}

// TradeEventBody is the trade portion of a TRADE event payload.
type TradeEventBody struct {
	Price     int64     `json:"price"`
	Quantity  int64     `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// Candle is one OHLC bucket aggregated from trades.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      int64     `json:"open"`
	High      int64     `json:"high"`
	Low       int64     `json:"low"`
	Close     int64     `json:"close"`
	Volume    int64     `json:"volume"`
}

// Portfolio combines a trader's cash with their non-zero positions.
type Portfolio struct {
	TraderID  uuid.UUID      `json:"trader_id"`
	Cash      int64          `json:"cash"` // cents
	Positions []PositionInfo `json:"positions"`
}

// PositionInfo is the portfolio view of one holding.
type PositionInfo struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
	AvgCost  int64  `json:"avg_cost"`
}

// PriceInfo is the current market view for one symbol: the last trade plus
// top-of-book from the in-memory book.
type PriceInfo struct {
	Symbol    string    `json:"symbol"`
	LastPrice *int64    `json:"last_price"`
	BestBid   *int64    `json:"best_bid"`
	BestAsk   *int64    `json:"best_ask"`
	BidSize   *int64    `json:"bid_size"`
	AskSize   *int64    `json:"ask_size"`
	Spread    *int64    `json:"spread"`
	Timestamp time.Time `json:"timestamp"`
}
