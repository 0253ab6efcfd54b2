package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"handlex/pkg/types"
)

// dollars renders an integer cent amount as a dollar string for ledger
// descriptions, e.g. 12345 → "$123.45".
func dollars(cents int64) string {
	return "$" + decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

func insertEntry(ctx context.Context, ext sqlx.ExtContext, e types.LedgerEntry) error {
	const q = `
		INSERT INTO ledger_entries (
			entry_id, trade_id, trader_id, account, debit, credit, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := ext.ExecContext(ctx, q,
		e.EntryID, e.TradeID, e.TraderID, e.Account,
		e.Debit, e.Credit, e.Description, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// PostTrade writes the four double-entry postings for one execution: cash
// leaves the buyer and arrives at the seller, shares move the other way.
// Balances are Σdebits − Σcredits, so a debit increases what the trader
// holds on that account.
func (s *Store) PostTrade(ctx context.Context, ext sqlx.ExtContext, trade *types.Trade) error {
	notional := trade.Price * trade.Quantity
	shareAcct := types.ShareAccount(trade.Symbol)
	now := time.Now().UTC()

	buyDesc := fmt.Sprintf("Buy %d %s @ %s", trade.Quantity, trade.Symbol, dollars(trade.Price))
	sellDesc := fmt.Sprintf("Sell %d %s @ %s", trade.Quantity, trade.Symbol, dollars(trade.Price))

	entries := []types.LedgerEntry{
		{TraderID: trade.BuyerID, Account: types.AccountCash, Credit: notional, Description: buyDesc},
		{TraderID: trade.BuyerID, Account: shareAcct, Debit: trade.Quantity, Description: buyDesc},
		{TraderID: trade.SellerID, Account: types.AccountCash, Debit: notional, Description: sellDesc},
		{TraderID: trade.SellerID, Account: shareAcct, Credit: trade.Quantity, Description: sellDesc},
	}

	for _, e := range entries {
		e.EntryID = uuid.New()
		e.TradeID = &trade.TradeID
		e.CreatedAt = now
		if err := insertEntry(ctx, ext, e); err != nil {
			return err
		}
	}
	return nil
}

// InitializeCash posts the opening cash funding for a new trader.
func (s *Store) InitializeCash(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, cents int64) error {
	return insertEntry(ctx, ext, types.LedgerEntry{
		EntryID:     uuid.New(),
		TraderID:    traderID,
		Account:     types.AccountCash,
		Debit:       cents,
		Description: fmt.Sprintf("Initial funding %s", dollars(cents)),
		CreatedAt:   time.Now().UTC(),
	})
}

// IssueShares posts the treasury's share issuance for a symbol. The shares
// appear from nothing, so only the treasury side is recorded.
func (s *Store) IssueShares(ctx context.Context, ext sqlx.ExtContext, treasuryID uuid.UUID, symbol string, qty int64) error {
	return insertEntry(ctx, ext, types.LedgerEntry{
		EntryID:     uuid.New(),
		TraderID:    treasuryID,
		Account:     types.ShareAccount(symbol),
		Debit:       qty,
		Description: fmt.Sprintf("Issue %d %s to treasury", qty, symbol),
		CreatedAt:   time.Now().UTC(),
	})
}

// CashBalance returns a trader's cash in cents: Σdebits − Σcredits on the
// CASH account.
func (s *Store) CashBalance(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID) (int64, error) {
	var balance int64
	err := sqlx.GetContext(ctx, ext, &balance, `
		SELECT COALESCE(SUM(debit) - SUM(credit), 0) FROM ledger_entries
		WHERE trader_id = $1 AND account = $2`,
		traderID, types.AccountCash)
	if err != nil {
		return 0, fmt.Errorf("cash balance for %s: %w", traderID, err)
	}
	return balance, nil
}

// ShareBalance returns a trader's ledger share count for one symbol.
// It should always agree with the positions table; positions are the
// denormalized fast path, this is the audit path.
func (s *Store) ShareBalance(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, symbol string) (int64, error) {
	var balance int64
	err := sqlx.GetContext(ctx, ext, &balance, `
		SELECT COALESCE(SUM(debit) - SUM(credit), 0) FROM ledger_entries
		WHERE trader_id = $1 AND account = $2`,
		traderID, types.ShareAccount(symbol))
	if err != nil {
		return 0, fmt.Errorf("share balance for %s/%s: %w", traderID, symbol, err)
	}
	return balance, nil
}
