// Package match implements price–time priority matching for one symbol.
//
// The matcher owns the in-memory book and applies incoming orders against
// it, producing trades at the maker's resting price. It is deliberately free
// of persistence concerns: the symbol processor drives it inside a database
// transaction and is responsible for recording whatever it produces.
//
// Order type semantics:
//
//   - LIMIT:  walk the opposite side while the best price is crossable
//     relative to the limit; the remainder rests in the book.
//   - MARKET: same sweep with no price guard; the remainder is discarded
//     (market orders never rest).
//   - IOC:    MARKET sweep (or LIMIT sweep when a price is supplied); a
//     non-zero remainder means the order expires as IOC_UNFILLED. The
//     matcher reports the true remainder and leaves the status change to
//     the caller.
package match

import (
	"time"

	"handlex/internal/book"
	"handlex/pkg/types"
)

// Matcher applies orders to the book for a single symbol.
// It must only be driven by one goroutine: the symbol processor.
type Matcher struct {
	symbol string
	book   *book.Book
}

// New creates a matcher with an empty book.
func New(symbol string) *Matcher {
	return &Matcher{symbol: symbol, book: book.New(symbol)}
}

// Book returns the book the matcher maintains.
func (m *Matcher) Book() *book.Book {
	return m.book
}

// Match applies an incoming order against the opposite side of the book and
// returns the produced trades plus the unfilled remainder. The book is
// mutated as makers are consumed; the taker itself is never added here —
// use AddToBook for LIMIT residue.
func (m *Matcher) Match(order *types.Order) ([]types.TradeData, int64) {
	switch order.Type {
	case types.OrderTypeLimit:
		return m.sweep(order, order.LimitPrice)
	case types.OrderTypeIOC:
		// An IOC may carry a limit; without one it sweeps like a market order.
		return m.sweep(order, order.LimitPrice)
	default: // MARKET
		return m.sweep(order, nil)
	}
}

// sweep consumes FIFO makers from the opposite side, best price first,
// until the taker is filled, the book side empties, or the limit (if any)
// stops crossing.
func (m *Matcher) sweep(order *types.Order, limit *int64) ([]types.TradeData, int64) {
	var trades []types.TradeData
	remaining := order.Remaining()
	makerSide := order.Side.Opposite()

	for remaining > 0 {
		price, makers, ok := m.bestOpposite(order.Side)
		if !ok {
			break
		}
		if limit != nil && !crosses(order.Side, price, *limit) {
			break
		}

		for _, maker := range makers {
			if remaining == 0 {
				break
			}
			fillQty := min(remaining, maker.Remaining)
			trades = append(trades, m.newTrade(order, maker, fillQty, price))
			remaining -= fillQty
			m.book.Reduce(makerSide, price, maker.OrderID, fillQty)
		}
	}

	return trades, remaining
}

// bestOpposite returns the best price level the taker matches against:
// the lowest ask for a BUY, the highest bid for a SELL.
func (m *Matcher) bestOpposite(taker types.Side) (int64, []book.Entry, bool) {
	if taker == types.BUY {
		return m.book.BestAsk()
	}
	return m.book.BestBid()
}

// crosses reports whether the best opposite price is executable against the
// taker's limit: BUY crosses when ask ≤ limit, SELL when bid ≥ limit.
func crosses(taker types.Side, bookPrice, limit int64) bool {
	if taker == types.BUY {
		return bookPrice <= limit
	}
	return bookPrice >= limit
}

// newTrade builds the trade record for one fill. The trade executes at the
// maker's resting price; buyer and seller are derived from the taker's side.
func (m *Matcher) newTrade(taker *types.Order, maker book.Entry, qty, price int64) types.TradeData {
	trade := types.TradeData{
		Symbol:       m.symbol,
		Price:        price,
		Quantity:     qty,
		TakerOrderID: taker.OrderID,
		MakerOrderID: maker.OrderID,
		ExecutedAt:   time.Now().UTC(),
	}
	if taker.Side == types.BUY {
		trade.BuyOrderID = taker.OrderID
		trade.SellOrderID = maker.OrderID
		trade.BuyerID = taker.TraderID
		trade.SellerID = maker.TraderID
	} else {
		trade.BuyOrderID = maker.OrderID
		trade.SellOrderID = taker.OrderID
		trade.BuyerID = maker.TraderID
		trade.SellerID = taker.TraderID
	}
	return trade
}

// AddToBook rests the unfilled portion of a LIMIT order. Market and IOC
// orders never rest; fully filled orders have nothing to rest.
func (m *Matcher) AddToBook(order *types.Order) {
	if order.Type != types.OrderTypeLimit || order.LimitPrice == nil {
		return
	}
	if order.Remaining() <= 0 {
		return
	}

	m.book.Add(order.Side, *order.LimitPrice, book.Entry{
		OrderID:   order.OrderID,
		TraderID:  order.TraderID,
		Quantity:  order.Quantity,
		Remaining: order.Remaining(),
		Price:     *order.LimitPrice,
		Sequence:  order.Sequence,
		CreatedAt: order.CreatedAt,
	})
}

// CancelInBook removes a resting order from the book. Only LIMIT orders
// rest, so anything else reports false.
func (m *Matcher) CancelInBook(order *types.Order) bool {
	if order.Type != types.OrderTypeLimit || order.LimitPrice == nil {
		return false
	}
	return m.book.Remove(order.Side, *order.LimitPrice, order.OrderID)
}
