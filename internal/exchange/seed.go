package exchange

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"handlex/pkg/types"
)

// SeedConfig controls treasury bootstrap: the share float issued per symbol
// and the sell ladder offered against it.
type SeedConfig struct {
	Shares   int64 `json:"shares"`    // float issued per symbol
	ParPrice int64 `json:"par_price"` // cents, price of the first ladder rung
	RungStep int64 `json:"rung_step"` // cents between ladder rungs
	Rungs    int   `json:"rungs"`     // number of sell orders the float is split across
	AskTIF   int64 `json:"ask_tif"`   // seconds the ladder rests
}

// SeedTreasury bootstraps the market maker of last resort: it ensures the
// single admin (treasury) account exists, issues each symbol's share float
// to it, and rests a ladder of sell orders starting at par. Seeding is
// idempotent per symbol: any shares already in existence mean the float was
// issued before, and the symbol is skipped entirely.
func (s *Service) SeedTreasury(ctx context.Context, cfg SeedConfig) error {
	treasury, err := s.ensureTreasury(ctx)
	if err != nil {
		return err
	}

	for _, symbol := range s.router.Symbols() {
		total, err := s.store.TotalShares(ctx, symbol)
		if err != nil {
			return err
		}
		if total > 0 {
			s.logger.Info("symbol already seeded", "symbol", symbol, "shares", total)
			continue
		}

		err = s.store.InTx(ctx, func(tx *sqlx.Tx) error {
			if err := s.store.IssueShares(ctx, tx, treasury.TraderID, symbol, cfg.Shares); err != nil {
				return err
			}
			return s.store.ApplyBuy(ctx, tx, treasury.TraderID, symbol, cfg.Shares, cfg.ParPrice)
		})
		if err != nil {
			return fmt.Errorf("issue %s float: %w", symbol, err)
		}

		if err := s.restLadder(ctx, treasury, symbol, cfg); err != nil {
			return err
		}
		s.logger.Info("symbol seeded", "symbol", symbol, "shares", cfg.Shares, "par", cfg.ParPrice)
	}
	return nil
}

// ensureTreasury returns the admin account, creating it on first boot. The
// partial unique index makes concurrent creation race-safe: one boot wins,
// the other fails and re-reads.
func (s *Service) ensureTreasury(ctx context.Context) (*types.Trader, error) {
	treasury, err := s.store.AdminTrader(ctx)
	if err != nil {
		return nil, err
	}
	if treasury != nil {
		return treasury, nil
	}

	err = s.store.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		treasury, err = s.store.CreateTrader(ctx, tx, true)
		return err
	})
	if err != nil {
		if existing, readErr := s.store.AdminTrader(ctx); readErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create treasury: %w", err)
	}
	s.logger.Info("treasury created", "trader_id", treasury.TraderID)
	return treasury, nil
}

// restLadder splits the float across ascending sell rungs, cheapest first,
// so early buyers pay par and depth thickens above it.
func (s *Service) restLadder(ctx context.Context, treasury *types.Trader, symbol string, cfg SeedConfig) error {
	rungs := cfg.Rungs
	if rungs < 1 {
		rungs = 1
	}
	per := cfg.Shares / int64(rungs)
	first := per + cfg.Shares%int64(rungs)

	for i := 0; i < rungs; i++ {
		qty := per
		if i == 0 {
			qty = first
		}
		if qty == 0 {
			continue
		}
		price := cfg.ParPrice + int64(i)*cfg.RungStep

		_, err := s.SubmitOrder(ctx, types.OrderRequest{
			TraderID:   treasury.TraderID,
			Symbol:     symbol,
			Side:       types.SELL,
			Type:       types.OrderTypeLimit,
			Quantity:   qty,
			LimitPrice: &price,
			TIFSeconds: cfg.AskTIF,
		})
		if err != nil {
			return fmt.Errorf("rest %s ladder rung %d: %w", symbol, i, err)
		}
	}
	return nil
}
