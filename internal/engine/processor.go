// Package engine hosts the per-symbol order processors, the router that
// feeds them, and the order expiration daemon.
//
// Every symbol gets exactly one processor goroutine draining a bounded
// inbox. All writes for a symbol flow through that goroutine, which makes
// matching serial per symbol without any cross-symbol locking: two symbols
// never contend, and within a symbol the arrival order of commands is the
// processing order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"handlex/internal/book"
	"handlex/internal/match"
	"handlex/pkg/types"
)

const (
	maxSettleAttempts = 3
	retryBackoff      = 50 * time.Millisecond
)

// Store is the durable surface the processor settles against. Implemented
// by *store.Store; tests substitute an in-memory fake.
type Store interface {
	DB() *sqlx.DB
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error

	GetOrder(ctx context.Context, ext sqlx.ExtContext, orderID uuid.UUID) (*types.Order, error)
	ApplyFill(ctx context.Context, ext sqlx.ExtContext, orderID uuid.UUID, fillQty int64) (*types.Order, error)
	CancelOrder(ctx context.Context, ext sqlx.ExtContext, orderID uuid.UUID, reason types.CancelReason) (*types.Order, error)
	UnfilledOrders(ctx context.Context, ext sqlx.ExtContext, symbol string) ([]types.Order, error)

	RecordTrade(ctx context.Context, ext sqlx.ExtContext, td types.TradeData) (*types.Trade, error)
	PostTrade(ctx context.Context, ext sqlx.ExtContext, trade *types.Trade) error
	ApplyBuy(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, symbol string, qty, price int64) error
	ApplySell(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, symbol string, qty int64) error
	CashBalance(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID) (int64, error)
	GetTrader(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID) (*types.Trader, error)
	QueueEvent(ctx context.Context, ext sqlx.ExtContext, eventType types.EventType, symbol string, payload any) error

	LastTradePrice(ctx context.Context, symbol string) (*int64, error)
}

type cmdKind int

const (
	cmdSubmit cmdKind = iota
	cmdCancel
)

// command is one unit of work for a processor. Submits are fire-and-forget;
// cancels carry a reply channel so callers can surface not-found and
// already-terminal errors synchronously.
type command struct {
	kind    cmdKind
	orderID uuid.UUID
	reason  types.CancelReason
	reply   chan error
}

// Processor is the single writer for one symbol. It owns the matcher (and
// through it the in-memory book) and settles every match in one database
// transaction spanning orders, trades, ledger, positions and the outbox.
type Processor struct {
	symbol  string
	store   Store
	matcher *match.Matcher
	inbox   chan command
	logger  *slog.Logger
}

// NewProcessor creates a processor with an empty book and a bounded inbox.
func NewProcessor(symbol string, st Store, inboxSize int, logger *slog.Logger) *Processor {
	return &Processor{
		symbol:  symbol,
		store:   st,
		matcher: match.New(symbol),
		inbox:   make(chan command, inboxSize),
		logger:  logger.With("component", "processor", "symbol", symbol),
	}
}

// Book exposes the in-memory book for read services.
func (p *Processor) Book() *book.Book {
	return p.matcher.Book()
}

// Run drains the inbox until the context is cancelled. The book must be
// rebuilt before Run starts; Router.Start does that and refuses to launch
// processors when any rebuild fails.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("processor started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("processor stopped")
			return
		case cmd := <-p.inbox:
			p.dispatch(ctx, cmd)
		}
	}
}

// enqueue places a command in the inbox, blocking if it is full.
func (p *Processor) enqueue(ctx context.Context, cmd command) error {
	select {
	case p.inbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) dispatch(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdSubmit:
		p.handleSubmit(ctx, cmd.orderID)
	case cmdCancel:
		err := p.handleCancel(ctx, cmd.orderID, cmd.reason)
		if cmd.reply != nil {
			cmd.reply <- err
		}
	}
}

// handleSubmit matches and settles one accepted order. Transient settlement
// failures are retried a few times with the book rebuilt in between, since a
// rolled-back transaction leaves the in-memory book ahead of durable state.
// A funds or shares violation detected during settlement cancels the order
// with INSUFFICIENT_FUNDS and produces no fills.
func (p *Processor) handleSubmit(ctx context.Context, orderID uuid.UUID) {
	for attempt := 1; attempt <= maxSettleAttempts; attempt++ {
		err := p.settle(ctx, orderID)
		if err == nil {
			return
		}
		if errors.Is(err, types.ErrOrderNotFound) || errors.Is(err, types.ErrOrderTerminal) {
			return
		}

		if errors.Is(err, types.ErrInsufficientFunds) || errors.Is(err, types.ErrInsufficientShares) {
			p.logger.Warn("order rejected at settlement", "order_id", orderID, "error", err)
			// The order must be terminal before the rebuild, or the
			// rebuild replays its still-PENDING row into the book as
			// live liquidity.
			if _, cErr := p.cancelDurable(ctx, orderID, types.CancelInsufficientFunds); cErr != nil {
				p.logger.Error("cancel after rejection failed", "order_id", orderID, "error", cErr)
			}
			if rbErr := p.rebuild(ctx); rbErr != nil {
				p.logger.Error("book rebuild failed", "error", rbErr)
			}
			return
		}

		if rbErr := p.rebuild(ctx); rbErr != nil {
			p.logger.Error("book rebuild failed", "error", rbErr)
		}
		p.logger.Error("settlement failed", "order_id", orderID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	p.logger.Error("order dropped after repeated settlement failures", "order_id", orderID)
}

// settle runs one match-and-settle attempt: match in memory, then persist
// every consequence in a single transaction. The matcher mutates the book
// before the transaction commits; on rollback the caller rebuilds.
func (p *Processor) settle(ctx context.Context, orderID uuid.UUID) error {
	order, err := p.store.GetOrder(ctx, p.store.DB(), orderID)
	if err != nil {
		return err
	}
	if order.Status.IsTerminal() {
		return types.ErrOrderTerminal
	}

	trades, remaining := p.matcher.Match(order)

	err = p.store.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, td := range trades {
			if err := p.settleTrade(ctx, tx, order, td); err != nil {
				return err
			}
		}

		if len(trades) > 0 && order.Side == types.BUY {
			if err := p.checkBuyerCash(ctx, tx, order.TraderID); err != nil {
				return err
			}
		}

		if order.Type == types.OrderTypeIOC && remaining > 0 {
			if _, err := p.store.CancelOrder(ctx, tx, order.OrderID, types.CancelIOCUnfilled); err != nil {
				return fmt.Errorf("expire unfilled ioc: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Durable state is committed; finish the in-memory side.
	if order.Type == types.OrderTypeLimit && remaining > 0 {
		p.matcher.AddToBook(order)
	}
	if n := len(trades); n > 0 {
		p.matcher.Book().SetLastPrice(trades[n-1].Price)
	}
	return nil
}

// settleTrade persists one fill: the trade row, its four ledger postings,
// both position moves, the fill on both orders, and the TRADE outbox event
// carrying the post-trade top-of-book.
func (p *Processor) settleTrade(ctx context.Context, tx *sqlx.Tx, taker *types.Order, td types.TradeData) error {
	trade, err := p.store.RecordTrade(ctx, tx, td)
	if err != nil {
		return err
	}
	if err := p.store.PostTrade(ctx, tx, trade); err != nil {
		return err
	}
	if err := p.store.ApplyBuy(ctx, tx, td.BuyerID, td.Symbol, td.Quantity, td.Price); err != nil {
		return err
	}
	if err := p.store.ApplySell(ctx, tx, td.SellerID, td.Symbol, td.Quantity); err != nil {
		return err
	}

	if _, err := p.store.ApplyFill(ctx, tx, td.MakerOrderID, td.Quantity); err != nil {
		return err
	}
	updated, err := p.store.ApplyFill(ctx, tx, taker.OrderID, td.Quantity)
	if err != nil {
		return err
	}
	taker.FilledQuantity = updated.FilledQuantity
	taker.Status = updated.Status

	payload := types.TradeEventPayload{
		Trade: types.TradeEventBody{
			Price:     trade.Price,
			Quantity:  trade.Quantity,
			Timestamp: trade.ExecutedAt,
		},
		Book: p.matcher.Book().State(),
	}
	return p.store.QueueEvent(ctx, tx, types.EventTrade, td.Symbol, payload)
}

// checkBuyerCash rejects settlements that would take a non-treasury buyer's
// cash negative. Submission-time validation covers LIMIT buys; this catches
// market sweeps and balance changes that raced in after acceptance.
func (p *Processor) checkBuyerCash(ctx context.Context, tx *sqlx.Tx, traderID uuid.UUID) error {
	trader, err := p.store.GetTrader(ctx, tx, traderID)
	if err != nil {
		return err
	}
	if trader.IsAdmin {
		return nil
	}
	balance, err := p.store.CashBalance(ctx, tx, traderID)
	if err != nil {
		return err
	}
	if balance < 0 {
		return fmt.Errorf("buyer %s cash %d after fills: %w",
			traderID, balance, types.ErrInsufficientFunds)
	}
	return nil
}

// handleCancel terminates a resting order durably, then removes it from the
// book. The durable cancel is the authority; a book miss after a successful
// cancel is fine (MARKET and IOC orders never rest).
func (p *Processor) handleCancel(ctx context.Context, orderID uuid.UUID, reason types.CancelReason) error {
	order, err := p.cancelDurable(ctx, orderID, reason)
	if err != nil {
		return err
	}
	p.matcher.CancelInBook(order)
	p.logger.Info("order cancelled", "order_id", orderID, "reason", reason)
	return nil
}

func (p *Processor) cancelDurable(ctx context.Context, orderID uuid.UUID, reason types.CancelReason) (*types.Order, error) {
	var order *types.Order
	err := p.store.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		order, err = p.store.CancelOrder(ctx, tx, orderID, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// rebuild resets the in-memory book to the durable set of resting orders,
// replayed in sequence order, and restores the last trade price. Replaying
// is idempotent: running it twice yields the same book.
func (p *Processor) rebuild(ctx context.Context) error {
	p.matcher.Book().Clear()

	orders, err := p.store.UnfilledOrders(ctx, p.store.DB(), p.symbol)
	if err != nil {
		return fmt.Errorf("load unfilled orders: %w", err)
	}
	for i := range orders {
		p.matcher.AddToBook(&orders[i])
	}

	last, err := p.store.LastTradePrice(ctx, p.symbol)
	if err != nil {
		return fmt.Errorf("load last trade price: %w", err)
	}
	if last != nil {
		p.matcher.Book().SetLastPrice(*last)
	}

	p.logger.Info("book rebuilt", "resting_orders", len(orders))
	return nil
}
