// Package exchange is the trading service: it validates requests, delegates
// accepted orders to the engine, and serves the read surface (portfolios,
// books, prices, trades, candles).
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"handlex/internal/book"
	"handlex/pkg/types"
)

const (
	defaultTIFSeconds = 24 * 60 * 60
	defaultTradeLimit = 100
	maxTradeLimit     = 500
)

// Store is the durable surface the service reads and provisions against.
// Implemented by *store.Store.
type Store interface {
	DB() *sqlx.DB
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error

	CreateTrader(ctx context.Context, ext sqlx.ExtContext, isAdmin bool) (*types.Trader, error)
	GetTrader(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID) (*types.Trader, error)
	AdminTrader(ctx context.Context) (*types.Trader, error)
	Traders(ctx context.Context) ([]types.Trader, error)

	InitializeCash(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, cents int64) error
	CashBalance(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID) (int64, error)
	IssueShares(ctx context.Context, ext sqlx.ExtContext, treasuryID uuid.UUID, symbol string, qty int64) error

	GetPosition(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, symbol string) (*types.Position, error)
	Positions(ctx context.Context, traderID uuid.UUID) ([]types.Position, error)
	TotalShares(ctx context.Context, symbol string) (int64, error)
	ApplyBuy(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, symbol string, qty, price int64) error

	GetOrder(ctx context.Context, ext sqlx.ExtContext, orderID uuid.UUID) (*types.Order, error)
	TraderOpenOrders(ctx context.Context, traderID uuid.UUID) ([]types.Order, error)

	RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error)
	TraderTrades(ctx context.Context, traderID uuid.UUID, limit int) ([]types.Trade, error)
	OHLC(ctx context.Context, symbol string, width time.Duration, since time.Time) ([]types.Candle, error)
}

// Router is the order entry surface, implemented by *engine.Router.
type Router interface {
	SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID uuid.UUID, reason types.CancelReason) error
	Book(symbol string) (*book.Book, error)
	Symbols() []string
}

// Service wires validation and reads over the store and the engine.
type Service struct {
	store       Store
	router      Router
	initialCash int64 // cents granted to each new trader
	logger      *slog.Logger
}

// New creates the trading service.
func New(st Store, router Router, initialCash int64, logger *slog.Logger) *Service {
	return &Service{
		store:       st,
		router:      router,
		initialCash: initialCash,
		logger:      logger.With("component", "exchange"),
	}
}

// SubmitOrder validates and accepts a new order. Validation failures leave
// no state behind; an accepted order returns as PENDING and matches
// asynchronously. Treasury buys skip the cash check.
func (s *Service) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	if req.TIFSeconds == 0 {
		req.TIFSeconds = defaultTIFSeconds
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if _, err := s.router.Book(req.Symbol); err != nil {
		return nil, err
	}

	trader, err := s.store.GetTrader(ctx, s.store.DB(), req.TraderID)
	if err != nil {
		return nil, err
	}
	if !trader.IsActive {
		return nil, fmt.Errorf("trader %s inactive: %w", req.TraderID, types.ErrTraderNotFound)
	}

	if err := s.checkFunding(ctx, trader, req); err != nil {
		return nil, err
	}

	order, err := s.router.SubmitOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("order accepted",
		"order_id", order.OrderID, "symbol", order.Symbol,
		"side", order.Side, "type", order.Type, "quantity", order.Quantity)
	return order, nil
}

func validateRequest(req types.OrderRequest) error {
	if req.Side != types.BUY && req.Side != types.SELL {
		return fmt.Errorf("invalid side %q", req.Side)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", req.Quantity)
	}
	if req.TIFSeconds <= 0 {
		return fmt.Errorf("tif_seconds must be positive, got %d", req.TIFSeconds)
	}

	switch req.Type {
	case types.OrderTypeLimit:
		if req.LimitPrice == nil || *req.LimitPrice <= 0 {
			return fmt.Errorf("limit order requires a positive limit price")
		}
	case types.OrderTypeIOC:
		if req.LimitPrice != nil && *req.LimitPrice <= 0 {
			return fmt.Errorf("limit price must be positive")
		}
	case types.OrderTypeMarket:
		if req.LimitPrice != nil {
			return fmt.Errorf("market order must not carry a limit price")
		}
	default:
		return fmt.Errorf("invalid order type %q", req.Type)
	}
	return nil
}

// checkFunding applies the pre-acceptance funding rules: a LIMIT buy must be
// coverable in cash at its limit, and any sell must be covered by the
// current position. The treasury has unlimited buy power but still needs
// the shares it sells. Market buys cannot be priced here; the processor
// re-checks the buyer's balance at settlement.
func (s *Service) checkFunding(ctx context.Context, trader *types.Trader, req types.OrderRequest) error {
	switch req.Side {
	case types.BUY:
		if trader.IsAdmin || req.Type != types.OrderTypeLimit {
			return nil
		}
		cash, err := s.store.CashBalance(ctx, s.store.DB(), req.TraderID)
		if err != nil {
			return err
		}
		if cost := req.Quantity * *req.LimitPrice; cash < cost {
			return fmt.Errorf("need %d cents, have %d: %w", cost, cash, types.ErrInsufficientFunds)
		}
	case types.SELL:
		pos, err := s.store.GetPosition(ctx, s.store.DB(), req.TraderID, req.Symbol)
		if err != nil {
			return err
		}
		var held int64
		if pos != nil {
			held = pos.Quantity
		}
		if held < req.Quantity {
			return fmt.Errorf("sell %d with %d held: %w", req.Quantity, held, types.ErrInsufficientShares)
		}
	}
	return nil
}

// CancelOrder cancels a trader's own non-terminal order.
func (s *Service) CancelOrder(ctx context.Context, traderID, orderID uuid.UUID) error {
	order, err := s.store.GetOrder(ctx, s.store.DB(), orderID)
	if err != nil {
		return err
	}
	if order.TraderID != traderID {
		return fmt.Errorf("order %s: %w", orderID, types.ErrNotOwner)
	}
	return s.router.CancelOrder(ctx, order.Symbol, orderID, types.CancelUser)
}

// GetOrder returns one order by ID.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*types.Order, error) {
	return s.store.GetOrder(ctx, s.store.DB(), orderID)
}

// OpenOrders returns a trader's non-terminal orders.
func (s *Service) OpenOrders(ctx context.Context, traderID uuid.UUID) ([]types.Order, error) {
	if _, err := s.store.GetTrader(ctx, s.store.DB(), traderID); err != nil {
		return nil, err
	}
	return s.store.TraderOpenOrders(ctx, traderID)
}

// CreateTrader provisions a new trader funded with the configured opening
// cash.
func (s *Service) CreateTrader(ctx context.Context) (*types.Trader, error) {
	var trader *types.Trader
	err := s.store.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		trader, err = s.store.CreateTrader(ctx, tx, false)
		if err != nil {
			return err
		}
		return s.store.InitializeCash(ctx, tx, trader.TraderID, s.initialCash)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("trader created", "trader_id", trader.TraderID, "initial_cash", s.initialCash)
	return trader, nil
}

// Traders lists all active traders.
func (s *Service) Traders(ctx context.Context) ([]types.Trader, error) {
	return s.store.Traders(ctx)
}

// Symbols lists the tradable symbols.
func (s *Service) Symbols() []string {
	return s.router.Symbols()
}

// GetPortfolio returns a trader's cash and non-empty positions.
func (s *Service) GetPortfolio(ctx context.Context, traderID uuid.UUID) (*types.Portfolio, error) {
	if _, err := s.store.GetTrader(ctx, s.store.DB(), traderID); err != nil {
		return nil, err
	}

	cash, err := s.store.CashBalance(ctx, s.store.DB(), traderID)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.Positions(ctx, traderID)
	if err != nil {
		return nil, err
	}

	portfolio := &types.Portfolio{
		TraderID:  traderID,
		Cash:      cash,
		Positions: make([]types.PositionInfo, len(positions)),
	}
	for i, p := range positions {
		portfolio.Positions[i] = types.PositionInfo{
			Symbol:   p.Symbol,
			Quantity: p.Quantity,
			AvgCost:  p.AvgCost,
		}
	}
	return portfolio, nil
}

// GetBook returns the aggregated depth snapshot for a symbol.
func (s *Service) GetBook(symbol string) (types.BookSnapshot, error) {
	b, err := s.router.Book(symbol)
	if err != nil {
		return types.BookSnapshot{}, err
	}
	return b.Snapshot(), nil
}

// GetPrice returns the current market view for one symbol.
func (s *Service) GetPrice(symbol string) (types.PriceInfo, error) {
	b, err := s.router.Book(symbol)
	if err != nil {
		return types.PriceInfo{}, err
	}

	st := b.State()
	info := types.PriceInfo{
		Symbol:    symbol,
		LastPrice: b.LastPrice(),
		BestBid:   st.BestBid,
		BestAsk:   st.BestAsk,
		BidSize:   st.BidSize,
		AskSize:   st.AskSize,
		Timestamp: time.Now().UTC(),
	}
	if st.BestBid != nil && st.BestAsk != nil {
		spread := *st.BestAsk - *st.BestBid
		info.Spread = &spread
	}
	return info, nil
}

// AllPrices returns the market view for every configured symbol.
func (s *Service) AllPrices() []types.PriceInfo {
	symbols := s.router.Symbols()
	prices := make([]types.PriceInfo, 0, len(symbols))
	for _, sym := range symbols {
		info, err := s.GetPrice(sym)
		if err != nil {
			continue
		}
		prices = append(prices, info)
	}
	return prices
}

// RecentTrades returns a symbol's latest executions, clamped to the
// permitted window.
func (s *Service) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	if _, err := s.router.Book(symbol); err != nil {
		return nil, err
	}
	return s.store.RecentTrades(ctx, symbol, clampLimit(limit))
}

// TraderTrades returns a trader's executions, clamped to the permitted
// window.
func (s *Service) TraderTrades(ctx context.Context, traderID uuid.UUID, limit int) ([]types.Trade, error) {
	if _, err := s.store.GetTrader(ctx, s.store.DB(), traderID); err != nil {
		return nil, err
	}
	return s.store.TraderTrades(ctx, traderID, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultTradeLimit
	}
	if limit > maxTradeLimit {
		return maxTradeLimit
	}
	return limit
}

// ohlcRange maps a named chart range to its candle width and lookback.
type ohlcRange struct {
	width    time.Duration
	lookback time.Duration
}

var ohlcRanges = map[string]ohlcRange{
	"1d": {time.Hour, 24 * time.Hour},
	"1w": {6 * time.Hour, 7 * 24 * time.Hour},
	"1m": {24 * time.Hour, 30 * 24 * time.Hour},
	"6m": {7 * 24 * time.Hour, 26 * 7 * 24 * time.Hour},
	"1y": {7 * 24 * time.Hour, 52 * 7 * 24 * time.Hour},
}

// GetOHLC returns candles for a named chart range ("1d", "1w", "1m", "6m",
// "1y").
func (s *Service) GetOHLC(ctx context.Context, symbol, rangeName string) ([]types.Candle, error) {
	if _, err := s.router.Book(symbol); err != nil {
		return nil, err
	}
	r, ok := ohlcRanges[rangeName]
	if !ok {
		return nil, fmt.Errorf("invalid chart range %q", rangeName)
	}
	since := time.Now().UTC().Add(-r.lookback)
	return s.store.OHLC(ctx, symbol, r.width, since)
}
