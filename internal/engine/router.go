package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"handlex/internal/book"
	"handlex/pkg/types"
)

// RouterStore extends the processor's durable surface with order creation.
type RouterStore interface {
	Store
	CreateOrder(ctx context.Context, ext sqlx.ExtContext, req types.OrderRequest) (*types.Order, error)
}

// Router accepts orders and cancels and hands them to the processor owning
// the symbol. Acceptance is durable-first: the order row (with its sequence)
// commits before the command is enqueued, so a crash between the two leaves
// a PENDING order the rebuild path picks up.
type Router struct {
	store  RouterStore
	procs  map[string]*Processor
	logger *slog.Logger
}

// NewRouter builds one processor per configured symbol.
func NewRouter(st RouterStore, symbols []string, inboxSize int, logger *slog.Logger) *Router {
	procs := make(map[string]*Processor, len(symbols))
	for _, sym := range symbols {
		procs[sym] = NewProcessor(sym, st, inboxSize, logger)
	}
	return &Router{
		store:  st,
		procs:  procs,
		logger: logger.With("component", "router"),
	}
}

// Start rebuilds every book from durable state and then launches the symbol
// processors. A failed rebuild aborts startup: matching against a book that
// is missing resting liquidity would silently mis-trade.
func (r *Router) Start(ctx context.Context, wg *sync.WaitGroup) error {
	for _, p := range r.procs {
		if err := p.rebuild(ctx); err != nil {
			return fmt.Errorf("rebuild %s book: %w", p.symbol, err)
		}
	}
	for _, p := range r.procs {
		wg.Add(1)
		go func(p *Processor) {
			defer wg.Done()
			p.Run(ctx)
		}(p)
	}
	r.logger.Info("router started", "symbols", len(r.procs))
	return nil
}

// Symbols returns the configured symbols, sorted.
func (r *Router) Symbols() []string {
	symbols := make([]string, 0, len(r.procs))
	for sym := range r.procs {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

func (r *Router) processor(symbol string) (*Processor, error) {
	p, ok := r.procs[symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %q: %w", symbol, types.ErrUnknownSymbol)
	}
	return p, nil
}

// Book returns the in-memory book for a symbol.
func (r *Router) Book(symbol string) (*book.Book, error) {
	p, err := r.processor(symbol)
	if err != nil {
		return nil, err
	}
	return p.Book(), nil
}

// SubmitOrder durably accepts an order and enqueues it for matching. The
// returned order is PENDING; matching happens asynchronously on the symbol's
// processor goroutine.
func (r *Router) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	p, err := r.processor(req.Symbol)
	if err != nil {
		return nil, err
	}

	var order *types.Order
	err = r.store.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		order, err = r.store.CreateOrder(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("accept order: %w", err)
	}

	if err := p.enqueue(ctx, command{kind: cmdSubmit, orderID: order.OrderID}); err != nil {
		// The order stays PENDING; the rebuild path replays it on restart.
		return nil, fmt.Errorf("enqueue order %s: %w", order.OrderID, err)
	}
	return order, nil
}

// CancelOrder routes a cancel to the symbol's processor and waits for the
// outcome, so callers see not-found and already-terminal errors directly.
func (r *Router) CancelOrder(ctx context.Context, symbol string, orderID uuid.UUID, reason types.CancelReason) error {
	p, err := r.processor(symbol)
	if err != nil {
		return err
	}

	reply := make(chan error, 1)
	if err := p.enqueue(ctx, command{kind: cmdCancel, orderID: orderID, reason: reason, reply: reply}); err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
