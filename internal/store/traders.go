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

// CreateTrader inserts a new active trader. The partial unique index on
// is_admin rejects a second admin at the database level.
func (s *Store) CreateTrader(ctx context.Context, ext sqlx.ExtContext, isAdmin bool) (*types.Trader, error) {
	now := time.Now().UTC()
	trader := &types.Trader{
		TraderID:  uuid.New(),
		IsActive:  true,
		IsAdmin:   isAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := ext.ExecContext(ctx, `
		INSERT INTO traders (trader_id, is_active, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)`,
		trader.TraderID, trader.IsActive, trader.IsAdmin, now)
	if err != nil {
		return nil, fmt.Errorf("insert trader: %w", err)
	}
	return trader, nil
}

// GetTrader fetches one trader, returning types.ErrTraderNotFound if absent.
func (s *Store) GetTrader(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID) (*types.Trader, error) {
	var trader types.Trader
	err := sqlx.GetContext(ctx, ext, &trader,
		`SELECT * FROM traders WHERE trader_id = $1`, traderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrTraderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trader %s: %w", traderID, err)
	}
	return &trader, nil
}

// AdminTrader returns the treasury account, or nil if none exists yet.
func (s *Store) AdminTrader(ctx context.Context) (*types.Trader, error) {
	var trader types.Trader
	err := sqlx.GetContext(ctx, s.db, &trader,
		`SELECT * FROM traders WHERE is_admin LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get admin trader: %w", err)
	}
	return &trader, nil
}

// Traders returns all active traders.
func (s *Store) Traders(ctx context.Context) ([]types.Trader, error) {
	var traders []types.Trader
	err := sqlx.SelectContext(ctx, s.db, &traders,
		`SELECT * FROM traders WHERE is_active ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list traders: %w", err)
	}
	return traders, nil
}
