package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"handlex/pkg/types"
)

// nextSequence atomically advances and returns the per-symbol order sequence.
// The upsert makes the first order for a new symbol create its counter row.
func nextSequence(ctx context.Context, ext sqlx.ExtContext, symbol string) (int64, error) {
	const q = `
		INSERT INTO sequence_counters (symbol, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (symbol) DO UPDATE
		SET last_sequence = sequence_counters.last_sequence + 1
		RETURNING last_sequence`

	var seq int64
	if err := sqlx.GetContext(ctx, ext, &seq, q, symbol); err != nil {
		return 0, fmt.Errorf("next sequence for %s: %w", symbol, err)
	}
	return seq, nil
}

// CreateOrder inserts a new PENDING order, assigning its per-symbol sequence
// in the same transaction. The sequence is the time component of price–time
// priority, so callers must hold the insert and any subsequent matching in
// one transaction to keep arrival order and book order consistent.
func (s *Store) CreateOrder(ctx context.Context, ext sqlx.ExtContext, req types.OrderRequest) (*types.Order, error) {
	seq, err := nextSequence(ctx, ext, req.Symbol)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &types.Order{
		OrderID:    uuid.New(),
		TraderID:   req.TraderID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		Status:     types.StatusPending,
		Sequence:   seq,
		TIFSeconds: req.TIFSeconds,
		ExpiresAt:  now.Add(time.Duration(req.TIFSeconds) * time.Second),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	const q = `
		INSERT INTO orders (
			order_id, trader_id, symbol, side, order_type, quantity,
			limit_price, filled_quantity, status, sequence, tif_seconds,
			expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, $12, $12)`

	_, err = ext.ExecContext(ctx, q,
		order.OrderID, order.TraderID, order.Symbol, order.Side, order.Type,
		order.Quantity, order.LimitPrice, order.Status, order.Sequence,
		order.TIFSeconds, order.ExpiresAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	return order, nil
}

// GetOrder fetches one order, returning types.ErrOrderNotFound if absent.
func (s *Store) GetOrder(ctx context.Context, ext sqlx.ExtContext, orderID uuid.UUID) (*types.Order, error) {
	var order types.Order
	err := sqlx.GetContext(ctx, ext, &order,
		`SELECT * FROM orders WHERE order_id = $1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return &order, nil
}

// lockOrder fetches an order with a row lock held for the rest of the
// enclosing transaction.
func lockOrder(ctx context.Context, ext sqlx.ExtContext, orderID uuid.UUID) (*types.Order, error) {
	var order types.Order
	err := sqlx.GetContext(ctx, ext, &order,
		`SELECT * FROM orders WHERE order_id = $1 FOR UPDATE`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	return &order, nil
}

// fillResult computes the filled quantity and status a fill moves an order
// to. Terminal statuses are final: an order that was cancelled or expired
// takes no further fills, even if a stale book entry still points at it.
func fillResult(order *types.Order, fillQty int64) (int64, types.OrderStatus, error) {
	if order.Status.IsTerminal() {
		return 0, "", fmt.Errorf("order %s is %s: %w",
			order.OrderID, order.Status, types.ErrOrderTerminal)
	}

	filled := order.FilledQuantity + fillQty
	if filled > order.Quantity {
		return 0, "", fmt.Errorf("order %s: fill %d over remaining %d: %w",
			order.OrderID, fillQty, order.Remaining(), types.ErrOverfill)
	}

	status := types.StatusPartial
	if filled == order.Quantity {
		status = types.StatusFilled
	}
	return filled, status, nil
}

// ApplyFill increments an order's filled quantity under a row lock and
// recomputes its status: FILLED when nothing remains, PARTIAL otherwise.
// Fills against terminal orders and fills that would exceed the order
// quantity return an error without writing, which aborts the enclosing
// settlement transaction.
func (s *Store) ApplyFill(ctx context.Context, ext sqlx.ExtContext, orderID uuid.UUID, fillQty int64) (*types.Order, error) {
	order, err := lockOrder(ctx, ext, orderID)
	if err != nil {
		return nil, err
	}

	filled, status, err := fillResult(order, fillQty)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = ext.ExecContext(ctx,
		`UPDATE orders SET filled_quantity = $2, status = $3, updated_at = $4 WHERE order_id = $1`,
		orderID, filled, status, now)
	if err != nil {
		return nil, fmt.Errorf("apply fill to %s: %w", orderID, err)
	}

	order.FilledQuantity = filled
	order.Status = status
	order.UpdatedAt = now
	return order, nil
}

// cancelStatus maps a cancel reason onto the terminal status it produces.
func cancelStatus(reason types.CancelReason) types.OrderStatus {
	switch reason {
	case types.CancelExpired, types.CancelIOCUnfilled:
		return types.StatusExpired
	default: // USER, INSUFFICIENT_FUNDS
		return types.StatusCancelled
	}
}

// CancelOrder moves a non-terminal order to its terminal cancel state,
// recording the reason. Terminal orders return types.ErrOrderTerminal;
// any partial fills the order accumulated remain settled.
func (s *Store) CancelOrder(ctx context.Context, ext sqlx.ExtContext, orderID uuid.UUID, reason types.CancelReason) (*types.Order, error) {
	order, err := lockOrder(ctx, ext, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("order %s is %s: %w", orderID, order.Status, types.ErrOrderTerminal)
	}

	status := cancelStatus(reason)
	now := time.Now().UTC()
	_, err = ext.ExecContext(ctx,
		`UPDATE orders SET status = $2, cancel_reason = $3, updated_at = $4 WHERE order_id = $1`,
		orderID, status, reason, now)
	if err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	order.Status = status
	order.CancelReason = &reason
	order.UpdatedAt = now
	return order, nil
}

// UnfilledOrders returns a symbol's PENDING and PARTIAL orders in sequence
// order. The symbol processor replays these to rebuild its in-memory book.
func (s *Store) UnfilledOrders(ctx context.Context, ext sqlx.ExtContext, symbol string) ([]types.Order, error) {
	var orders []types.Order
	err := sqlx.SelectContext(ctx, ext, &orders, `
		SELECT * FROM orders
		WHERE symbol = $1 AND status IN ('PENDING', 'PARTIAL')
		ORDER BY sequence ASC`, symbol)
	if err != nil {
		return nil, fmt.Errorf("unfilled orders for %s: %w", symbol, err)
	}
	return orders, nil
}

// TraderOpenOrders returns a trader's non-terminal orders, newest first.
func (s *Store) TraderOpenOrders(ctx context.Context, traderID uuid.UUID) ([]types.Order, error) {
	var orders []types.Order
	err := sqlx.SelectContext(ctx, s.db, &orders, `
		SELECT * FROM orders
		WHERE trader_id = $1 AND status IN ('PENDING', 'PARTIAL')
		ORDER BY created_at DESC`, traderID)
	if err != nil {
		return nil, fmt.Errorf("open orders for trader %s: %w", traderID, err)
	}
	return orders, nil
}

// ExpiredOrders returns up to limit non-terminal orders whose time in force
// has lapsed, oldest deadline first.
func (s *Store) ExpiredOrders(ctx context.Context, limit int) ([]types.Order, error) {
	var orders []types.Order
	err := sqlx.SelectContext(ctx, s.db, &orders, `
		SELECT * FROM orders
		WHERE status IN ('PENDING', 'PARTIAL') AND expires_at <= now()
		ORDER BY expires_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("expired orders: %w", err)
	}
	return orders, nil
}
