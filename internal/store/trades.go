package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"handlex/pkg/types"
)

// RecordTrade persists one execution produced by the matching engine.
func (s *Store) RecordTrade(ctx context.Context, ext sqlx.ExtContext, td types.TradeData) (*types.Trade, error) {
	trade := &types.Trade{
		TradeID:      uuid.New(),
		BuyOrderID:   td.BuyOrderID,
		SellOrderID:  td.SellOrderID,
		Symbol:       td.Symbol,
		Price:        td.Price,
		Quantity:     td.Quantity,
		BuyerID:      td.BuyerID,
		SellerID:     td.SellerID,
		TakerOrderID: td.TakerOrderID,
		MakerOrderID: td.MakerOrderID,
		ExecutedAt:   td.ExecutedAt,
		CreatedAt:    time.Now().UTC(),
	}

	const q = `
		INSERT INTO trades (
			trade_id, buy_order_id, sell_order_id, symbol, price, quantity,
			buyer_id, seller_id, taker_order_id, maker_order_id, executed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := ext.ExecContext(ctx, q,
		trade.TradeID, trade.BuyOrderID, trade.SellOrderID, trade.Symbol,
		trade.Price, trade.Quantity, trade.BuyerID, trade.SellerID,
		trade.TakerOrderID, trade.MakerOrderID, trade.ExecutedAt, trade.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert trade: %w", err)
	}
	return trade, nil
}

// RecentTrades returns a symbol's latest executions, newest first.
func (s *Store) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	var trades []types.Trade
	err := sqlx.SelectContext(ctx, s.db, &trades, `
		SELECT * FROM trades
		WHERE symbol = $1
		ORDER BY executed_at DESC
		LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades for %s: %w", symbol, err)
	}
	return trades, nil
}

// TraderTrades returns executions where the trader was buyer or seller,
// newest first.
func (s *Store) TraderTrades(ctx context.Context, traderID uuid.UUID, limit int) ([]types.Trade, error) {
	var trades []types.Trade
	err := sqlx.SelectContext(ctx, s.db, &trades, `
		SELECT * FROM trades
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY executed_at DESC
		LIMIT $2`, traderID, limit)
	if err != nil {
		return nil, fmt.Errorf("trades for trader %s: %w", traderID, err)
	}
	return trades, nil
}

// LastTradePrice returns the most recent execution price for a symbol, or
// nil when the symbol has never traded.
func (s *Store) LastTradePrice(ctx context.Context, symbol string) (*int64, error) {
	var prices []int64
	err := sqlx.SelectContext(ctx, s.db, &prices, `
		SELECT price FROM trades
		WHERE symbol = $1
		ORDER BY executed_at DESC
		LIMIT 1`, symbol)
	if err != nil {
		return nil, fmt.Errorf("last trade price for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return nil, nil
	}
	return &prices[0], nil
}

// candleRow is the raw aggregation row for one time bucket.
type candleRow struct {
	Bucket time.Time `db:"bucket"`
	Open   int64     `db:"open"`
	High   int64     `db:"high"`
	Low    int64     `db:"low"`
	Close  int64     `db:"close"`
	Volume int64     `db:"volume"`
}

// OHLC aggregates a symbol's trades since the given time into candles of the
// requested width. Postgres date_trunc has no six-hour unit, so 6h candles
// are built from hourly buckets and coalesced in groups anchored at
// 00/06/12/18 UTC. Buckets with no trades are omitted.
func (s *Store) OHLC(ctx context.Context, symbol string, width time.Duration, since time.Time) ([]types.Candle, error) {
	unit, coalesceTo := truncUnit(width)

	q := fmt.Sprintf(`
		SELECT date_trunc('%s', executed_at) AS bucket,
		       (array_agg(price ORDER BY executed_at ASC, trade_id ASC))[1]  AS open,
		       (array_agg(price ORDER BY executed_at DESC, trade_id DESC))[1] AS close,
		       MAX(price) AS high,
		       MIN(price) AS low,
		       SUM(quantity) AS volume
		FROM trades
		WHERE symbol = $1 AND executed_at >= $2
		GROUP BY bucket
		ORDER BY bucket ASC`, unit)

	var rows []candleRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, q, symbol, since); err != nil {
		return nil, fmt.Errorf("ohlc for %s: %w", symbol, err)
	}

	candles := make([]types.Candle, len(rows))
	for i, r := range rows {
		candles[i] = types.Candle{
			Timestamp: r.Bucket.UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		}
	}

	if coalesceTo > 0 {
		candles = coalesceCandles(candles, coalesceTo)
	}
	return candles, nil
}

// truncUnit maps a candle width to the date_trunc unit that produces it,
// plus a coalescing width when SQL alone cannot (the 6h case).
func truncUnit(width time.Duration) (unit string, coalesceTo time.Duration) {
	switch {
	case width <= time.Hour:
		return "hour", 0
	case width <= 6*time.Hour:
		return "hour", 6 * time.Hour
	case width <= 24*time.Hour:
		return "day", 0
	default:
		return "week", 0
	}
}

// coalesceCandles merges fine-grained candles into coarser ones whose
// timestamps are truncated to the target width. Input must be sorted
// ascending; merged open is the first open, close the last close.
func coalesceCandles(candles []types.Candle, width time.Duration) []types.Candle {
	var out []types.Candle
	for _, c := range candles {
		bucket := c.Timestamp.Truncate(width)
		if len(out) > 0 && out[len(out)-1].Timestamp.Equal(bucket) {
			last := &out[len(out)-1]
			last.Close = c.Close
			last.Volume += c.Volume
			if c.High > last.High {
				last.High = c.High
			}
			if c.Low < last.Low {
				last.Low = c.Low
			}
			continue
		}
		c.Timestamp = bucket
		out = append(out, c)
	}
	return out
}
