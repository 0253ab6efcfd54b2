package store

import (
	"context"
	"fmt"
)

// schema is applied at startup. Every statement is idempotent so repeated
// boots against the same database are safe.
const schema = `
CREATE TABLE IF NOT EXISTS traders (
    trader_id   UUID PRIMARY KEY,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    is_admin    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- At most one admin (treasury) account.
CREATE UNIQUE INDEX IF NOT EXISTS uq_traders_single_admin
    ON traders (is_admin) WHERE is_admin;

CREATE TABLE IF NOT EXISTS orders (
    order_id        UUID PRIMARY KEY,
    trader_id       UUID NOT NULL REFERENCES traders (trader_id),
    symbol          TEXT NOT NULL,
    side            TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
    order_type      TEXT NOT NULL CHECK (order_type IN ('MARKET', 'LIMIT', 'IOC')),
    quantity        BIGINT NOT NULL CHECK (quantity > 0),
    limit_price     BIGINT CHECK (limit_price IS NULL OR limit_price > 0),
    filled_quantity BIGINT NOT NULL DEFAULT 0 CHECK (filled_quantity >= 0 AND filled_quantity <= quantity),
    status          TEXT NOT NULL DEFAULT 'PENDING'
                    CHECK (status IN ('PENDING', 'PARTIAL', 'FILLED', 'CANCELLED', 'EXPIRED')),
    cancel_reason   TEXT,
    sequence        BIGINT NOT NULL,
    tif_seconds     BIGINT NOT NULL CHECK (tif_seconds > 0),
    expires_at      TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_symbol_sequence
    ON orders (symbol, sequence);

-- The expiration daemon scans unfilled orders past their deadline.
CREATE INDEX IF NOT EXISTS idx_orders_open_expiry
    ON orders (expires_at) WHERE status IN ('PENDING', 'PARTIAL');

-- Book rebuilds and open-order listings scan by symbol and status.
CREATE INDEX IF NOT EXISTS idx_orders_symbol_status_side
    ON orders (symbol, status, side);

CREATE INDEX IF NOT EXISTS idx_orders_trader ON orders (trader_id);

CREATE TABLE IF NOT EXISTS sequence_counters (
    symbol        TEXT PRIMARY KEY,
    last_sequence BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS trades (
    trade_id       UUID PRIMARY KEY,
    buy_order_id   UUID NOT NULL REFERENCES orders (order_id),
    sell_order_id  UUID NOT NULL REFERENCES orders (order_id),
    symbol         TEXT NOT NULL,
    price          BIGINT NOT NULL CHECK (price > 0),
    quantity       BIGINT NOT NULL CHECK (quantity > 0),
    buyer_id       UUID NOT NULL REFERENCES traders (trader_id),
    seller_id      UUID NOT NULL REFERENCES traders (trader_id),
    taker_order_id UUID NOT NULL,
    maker_order_id UUID NOT NULL,
    executed_at    TIMESTAMPTZ NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol_executed
    ON trades (symbol, executed_at DESC);

CREATE TABLE IF NOT EXISTS positions (
    trader_id  UUID NOT NULL REFERENCES traders (trader_id),
    symbol     TEXT NOT NULL,
    quantity   BIGINT NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    avg_cost   BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (trader_id, symbol)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    entry_id    UUID PRIMARY KEY,
    trade_id    UUID REFERENCES trades (trade_id),
    trader_id   UUID NOT NULL REFERENCES traders (trader_id),
    account     TEXT NOT NULL,
    debit       BIGINT NOT NULL DEFAULT 0 CHECK (debit >= 0),
    credit      BIGINT NOT NULL DEFAULT 0 CHECK (credit >= 0),
    description TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    -- Exactly one positive side per posting.
    CHECK ((debit > 0 AND credit = 0) OR (credit > 0 AND debit = 0))
);

CREATE INDEX IF NOT EXISTS idx_ledger_trader_account
    ON ledger_entries (trader_id, account);

CREATE TABLE IF NOT EXISTS outbox_events (
    event_id   UUID PRIMARY KEY,
    event_type TEXT NOT NULL CHECK (event_type IN ('TRADE', 'QUOTE', 'DEPTH')),
    symbol     TEXT NOT NULL,
    payload    JSONB NOT NULL,
    published  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- Publisher claims oldest unpublished events first.
CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
    ON outbox_events (created_at) WHERE NOT published;
`

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}
