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

// lockPosition fetches a position with a row lock, or nil if the trader has
// never held the symbol.
func lockPosition(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, symbol string) (*types.Position, error) {
	var pos types.Position
	err := sqlx.GetContext(ctx, ext, &pos,
		`SELECT * FROM positions WHERE trader_id = $1 AND symbol = $2 FOR UPDATE`,
		traderID, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock position %s/%s: %w", traderID, symbol, err)
	}
	return &pos, nil
}

// ApplyBuy adds qty shares bought at price to the trader's position and
// recomputes the average cost as the floor-divided weighted average over the
// accumulated position. Buys are the only operation that moves the average.
func (s *Store) ApplyBuy(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, symbol string, qty, price int64) error {
	pos, err := lockPosition(ctx, ext, traderID, symbol)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if pos == nil {
		_, err = ext.ExecContext(ctx, `
			INSERT INTO positions (trader_id, symbol, quantity, avg_cost, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)`,
			traderID, symbol, qty, price, now)
		if err != nil {
			return fmt.Errorf("insert position %s/%s: %w", traderID, symbol, err)
		}
		return nil
	}

	newQty := pos.Quantity + qty
	newAvg := (pos.Quantity*pos.AvgCost + qty*price) / newQty

	_, err = ext.ExecContext(ctx, `
		UPDATE positions SET quantity = $3, avg_cost = $4, updated_at = $5
		WHERE trader_id = $1 AND symbol = $2`,
		traderID, symbol, newQty, newAvg, now)
	if err != nil {
		return fmt.Errorf("update position %s/%s: %w", traderID, symbol, err)
	}
	return nil
}

// ApplySell removes qty shares from the trader's position, leaving the
// average cost untouched. Selling more than held returns
// types.ErrInsufficientShares, which aborts the enclosing settlement.
func (s *Store) ApplySell(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, symbol string, qty int64) error {
	pos, err := lockPosition(ctx, ext, traderID, symbol)
	if err != nil {
		return err
	}
	if pos == nil || pos.Quantity < qty {
		var held int64
		if pos != nil {
			held = pos.Quantity
		}
		return fmt.Errorf("sell %d of %s with %d held: %w",
			qty, symbol, held, types.ErrInsufficientShares)
	}

	_, err = ext.ExecContext(ctx, `
		UPDATE positions SET quantity = quantity - $3, updated_at = $4
		WHERE trader_id = $1 AND symbol = $2`,
		traderID, symbol, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update position %s/%s: %w", traderID, symbol, err)
	}
	return nil
}

// GetPosition returns the trader's holding for one symbol, or nil if none.
func (s *Store) GetPosition(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, symbol string) (*types.Position, error) {
	var pos types.Position
	err := sqlx.GetContext(ctx, ext, &pos,
		`SELECT * FROM positions WHERE trader_id = $1 AND symbol = $2`,
		traderID, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", traderID, symbol, err)
	}
	return &pos, nil
}

// Positions returns the trader's non-empty holdings.
func (s *Store) Positions(ctx context.Context, traderID uuid.UUID) ([]types.Position, error) {
	var positions []types.Position
	err := sqlx.SelectContext(ctx, s.db, &positions, `
		SELECT * FROM positions
		WHERE trader_id = $1 AND quantity > 0
		ORDER BY symbol ASC`, traderID)
	if err != nil {
		return nil, fmt.Errorf("positions for %s: %w", traderID, err)
	}
	return positions, nil
}

// TotalShares returns the total shares of a symbol across all holders.
// A non-zero total means the symbol's shares were already issued, which
// makes treasury seeding idempotent.
func (s *Store) TotalShares(ctx context.Context, symbol string) (int64, error) {
	var total int64
	err := sqlx.GetContext(ctx, s.db, &total, `
		SELECT COALESCE(SUM(quantity), 0) FROM positions WHERE symbol = $1`, symbol)
	if err != nil {
		return 0, fmt.Errorf("total shares of %s: %w", symbol, err)
	}
	return total, nil
}
