package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"handlex/pkg/types"
)

// ExpiryStore is the slice of the store the expiration daemon reads.
type ExpiryStore interface {
	ExpiredOrders(ctx context.Context, limit int) ([]types.Order, error)
}

// Expirer scans for orders whose time in force has lapsed and routes an
// EXPIRED cancel for each through the owning symbol processor, so expiry
// serializes with matching like every other command.
type Expirer struct {
	store    ExpiryStore
	router   *Router
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewExpirer builds the expiration daemon.
func NewExpirer(st ExpiryStore, router *Router, interval time.Duration, batch int, logger *slog.Logger) *Expirer {
	return &Expirer{
		store:    st,
		router:   router,
		interval: interval,
		batch:    batch,
		logger:   logger.With("component", "expirer"),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (e *Expirer) Run(ctx context.Context) {
	e.logger.Info("expirer started", "interval", e.interval, "batch", e.batch)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("expirer stopped")
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Expirer) sweep(ctx context.Context) {
	orders, err := e.store.ExpiredOrders(ctx, e.batch)
	if err != nil {
		e.logger.Error("expired order scan failed", "error", err)
		return
	}

	for i := range orders {
		o := &orders[i]
		err := e.router.CancelOrder(ctx, o.Symbol, o.OrderID, types.CancelExpired)
		switch {
		case err == nil:
			e.logger.Info("order expired", "order_id", o.OrderID, "symbol", o.Symbol)
		case errors.Is(err, types.ErrOrderTerminal):
			// Lost the race to a fill or user cancel between scan and route.
		case errors.Is(err, types.ErrUnknownSymbol):
			e.logger.Warn("expired order on unconfigured symbol", "order_id", o.OrderID, "symbol", o.Symbol)
		default:
			e.logger.Error("expire cancel failed", "order_id", o.OrderID, "error", err)
		}
	}
}
