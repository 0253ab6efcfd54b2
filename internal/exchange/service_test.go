package exchange

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"handlex/internal/book"
	"handlex/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	traders     map[uuid.UUID]types.Trader
	cash        map[uuid.UUID]int64
	positions   map[string]types.Position
	orders      map[uuid.UUID]types.Order
	totalShares map[string]int64

	issued    []string
	funded    []uuid.UUID
	ohlcWidth time.Duration
}

func newStore() *fakeStore {
	return &fakeStore{
		traders:     make(map[uuid.UUID]types.Trader),
		cash:        make(map[uuid.UUID]int64),
		positions:   make(map[string]types.Position),
		orders:      make(map[uuid.UUID]types.Order),
		totalShares: make(map[string]int64),
	}
}

func (s *fakeStore) addTrader(isAdmin bool) uuid.UUID {
	id := uuid.New()
	s.traders[id] = types.Trader{TraderID: id, IsActive: true, IsAdmin: isAdmin}
	return id
}

func (s *fakeStore) DB() *sqlx.DB { return nil }

func (s *fakeStore) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

func (s *fakeStore) CreateTrader(ctx context.Context, ext sqlx.ExtContext, isAdmin bool) (*types.Trader, error) {
	id := s.addTrader(isAdmin)
	tr := s.traders[id]
	return &tr, nil
}

func (s *fakeStore) GetTrader(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID) (*types.Trader, error) {
	tr, ok := s.traders[traderID]
	if !ok {
		return nil, types.ErrTraderNotFound
	}
	return &tr, nil
}

func (s *fakeStore) AdminTrader(ctx context.Context) (*types.Trader, error) {
	for _, tr := range s.traders {
		if tr.IsAdmin {
			return &tr, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Traders(ctx context.Context) ([]types.Trader, error) {
	var out []types.Trader
	for _, tr := range s.traders {
		out = append(out, tr)
	}
	return out, nil
}

func (s *fakeStore) InitializeCash(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, cents int64) error {
	s.cash[traderID] += cents
	s.funded = append(s.funded, traderID)
	return nil
}

func (s *fakeStore) CashBalance(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID) (int64, error) {
	return s.cash[traderID], nil
}

func (s *fakeStore) IssueShares(ctx context.Context, ext sqlx.ExtContext, treasuryID uuid.UUID, symbol string, qty int64) error {
	s.issued = append(s.issued, symbol)
	return nil
}

func (s *fakeStore) GetPosition(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, symbol string) (*types.Position, error) {
	pos, ok := s.positions[traderID.String()+"/"+symbol]
	if !ok {
		return nil, nil
	}
	return &pos, nil
}

func (s *fakeStore) Positions(ctx context.Context, traderID uuid.UUID) ([]types.Position, error) {
	var out []types.Position
	for _, pos := range s.positions {
		if pos.TraderID == traderID && pos.Quantity > 0 {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *fakeStore) TotalShares(ctx context.Context, symbol string) (int64, error) {
	return s.totalShares[symbol], nil
}

func (s *fakeStore) ApplyBuy(ctx context.Context, ext sqlx.ExtContext, traderID uuid.UUID, symbol string, qty, price int64) error {
	s.positions[traderID.String()+"/"+symbol] = types.Position{
		TraderID: traderID, Symbol: symbol, Quantity: qty, AvgCost: price,
	}
	s.totalShares[symbol] += qty
	return nil
}

func (s *fakeStore) GetOrder(ctx context.Context, ext sqlx.ExtContext, orderID uuid.UUID) (*types.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, types.ErrOrderNotFound
	}
	return &o, nil
}

func (s *fakeStore) TraderOpenOrders(ctx context.Context, traderID uuid.UUID) ([]types.Order, error) {
	return nil, nil
}

func (s *fakeStore) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	return make([]types.Trade, 0, limit), nil
}

func (s *fakeStore) TraderTrades(ctx context.Context, traderID uuid.UUID, limit int) ([]types.Trade, error) {
	return nil, nil
}

func (s *fakeStore) OHLC(ctx context.Context, symbol string, width time.Duration, since time.Time) ([]types.Candle, error) {
	s.ohlcWidth = width
	return nil, nil
}

type fakeRouter struct {
	books     map[string]*book.Book
	submitted []types.OrderRequest
	cancelled []uuid.UUID
}

func newRouter(symbols ...string) *fakeRouter {
	books := make(map[string]*book.Book, len(symbols))
	for _, sym := range symbols {
		books[sym] = book.New(sym)
	}
	return &fakeRouter{books: books}
}

func (r *fakeRouter) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	r.submitted = append(r.submitted, req)
	return &types.Order{
		OrderID:  uuid.New(),
		TraderID: req.TraderID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Quantity: req.Quantity,
		Status:   types.StatusPending,
	}, nil
}

func (r *fakeRouter) CancelOrder(ctx context.Context, symbol string, orderID uuid.UUID, reason types.CancelReason) error {
	r.cancelled = append(r.cancelled, orderID)
	return nil
}

func (r *fakeRouter) Book(symbol string) (*book.Book, error) {
	b, ok := r.books[symbol]
	if !ok {
		return nil, types.ErrUnknownSymbol
	}
	return b, nil
}

func (r *fakeRouter) Symbols() []string {
	var out []string
	for sym := range r.books {
		out = append(out, sym)
	}
	return out
}

func newService(st *fakeStore, rt *fakeRouter) *Service {
	return New(st, rt, 1_000_000, testLogger())
}

func price(p int64) *int64 { return &p }

func TestSubmitOrderValidation(t *testing.T) {
	t.Parallel()

	st := newStore()
	trader := st.addTrader(false)
	st.cash[trader] = 1_000_000
	rt := newRouter("X")
	svc := newService(st, rt)
	ctx := context.Background()

	tests := []struct {
		name string
		req  types.OrderRequest
	}{
		{"bad side", types.OrderRequest{TraderID: trader, Symbol: "X", Side: "LONG", Type: types.OrderTypeLimit, Quantity: 1, LimitPrice: price(100)}},
		{"zero quantity", types.OrderRequest{TraderID: trader, Symbol: "X", Side: types.BUY, Type: types.OrderTypeLimit, Quantity: 0, LimitPrice: price(100)}},
		{"negative quantity", types.OrderRequest{TraderID: trader, Symbol: "X", Side: types.BUY, Type: types.OrderTypeLimit, Quantity: -5, LimitPrice: price(100)}},
		{"limit without price", types.OrderRequest{TraderID: trader, Symbol: "X", Side: types.BUY, Type: types.OrderTypeLimit, Quantity: 1}},
		{"limit with zero price", types.OrderRequest{TraderID: trader, Symbol: "X", Side: types.BUY, Type: types.OrderTypeLimit, Quantity: 1, LimitPrice: price(0)}},
		{"market with price", types.OrderRequest{TraderID: trader, Symbol: "X", Side: types.BUY, Type: types.OrderTypeMarket, Quantity: 1, LimitPrice: price(100)}},
		{"bad type", types.OrderRequest{TraderID: trader, Symbol: "X", Side: types.BUY, Type: "STOP", Quantity: 1}},
		{"negative tif", types.OrderRequest{TraderID: trader, Symbol: "X", Side: types.BUY, Type: types.OrderTypeMarket, Quantity: 1, TIFSeconds: -1}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.SubmitOrder(ctx, tt.req); err == nil {
				t.Fatal("want validation error, got nil")
			}
		})
	}
	if len(rt.submitted) != 0 {
		t.Fatalf("router received %d orders from invalid requests", len(rt.submitted))
	}
}

func TestSubmitOrderUnknownSymbol(t *testing.T) {
	t.Parallel()

	st := newStore()
	trader := st.addTrader(false)
	svc := newService(st, newRouter("X"))

	_, err := svc.SubmitOrder(context.Background(), types.OrderRequest{
		TraderID: trader, Symbol: "Z", Side: types.BUY,
		Type: types.OrderTypeMarket, Quantity: 1,
	})
	if !errors.Is(err, types.ErrUnknownSymbol) {
		t.Fatalf("err = %v, want ErrUnknownSymbol", err)
	}
}

func TestSubmitOrderDefaultsTIF(t *testing.T) {
	t.Parallel()

	st := newStore()
	trader := st.addTrader(false)
	st.cash[trader] = 1_000_000
	rt := newRouter("X")
	svc := newService(st, rt)

	_, err := svc.SubmitOrder(context.Background(), types.OrderRequest{
		TraderID: trader, Symbol: "X", Side: types.BUY,
		Type: types.OrderTypeLimit, Quantity: 1, LimitPrice: price(100),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(rt.submitted) != 1 || rt.submitted[0].TIFSeconds != defaultTIFSeconds {
		t.Fatalf("tif = %d, want default %d", rt.submitted[0].TIFSeconds, defaultTIFSeconds)
	}
}

func TestSubmitOrderFundingChecks(t *testing.T) {
	t.Parallel()

	st := newStore()
	trader := st.addTrader(false)
	st.cash[trader] = 500
	rt := newRouter("X")
	svc := newService(st, rt)
	ctx := context.Background()

	_, err := svc.SubmitOrder(ctx, types.OrderRequest{
		TraderID: trader, Symbol: "X", Side: types.BUY,
		Type: types.OrderTypeLimit, Quantity: 10, LimitPrice: price(100),
	})
	if !errors.Is(err, types.ErrInsufficientFunds) {
		t.Fatalf("underfunded buy = %v, want ErrInsufficientFunds", err)
	}

	_, err = svc.SubmitOrder(ctx, types.OrderRequest{
		TraderID: trader, Symbol: "X", Side: types.SELL,
		Type: types.OrderTypeLimit, Quantity: 3, LimitPrice: price(100),
	})
	if !errors.Is(err, types.ErrInsufficientShares) {
		t.Fatalf("uncovered sell = %v, want ErrInsufficientShares", err)
	}

	// Exactly affordable passes.
	if _, err := svc.SubmitOrder(ctx, types.OrderRequest{
		TraderID: trader, Symbol: "X", Side: types.BUY,
		Type: types.OrderTypeLimit, Quantity: 5, LimitPrice: price(100),
	}); err != nil {
		t.Fatalf("affordable buy rejected: %v", err)
	}
}

func TestSubmitOrderAdminSkipsFunding(t *testing.T) {
	t.Parallel()

	st := newStore()
	admin := st.addTrader(true)
	st.positions[admin.String()+"/X"] = types.Position{TraderID: admin, Symbol: "X", Quantity: 1}
	rt := newRouter("X")
	svc := newService(st, rt)

	// No cash at all, still accepted.
	if _, err := svc.SubmitOrder(context.Background(), types.OrderRequest{
		TraderID: admin, Symbol: "X", Side: types.BUY,
		Type: types.OrderTypeLimit, Quantity: 1_000_000, LimitPrice: price(100),
	}); err != nil {
		t.Fatalf("treasury buy rejected: %v", err)
	}
}

func TestAdminSellStillRequiresShares(t *testing.T) {
	t.Parallel()

	st := newStore()
	admin := st.addTrader(true)
	st.positions[admin.String()+"/X"] = types.Position{TraderID: admin, Symbol: "X", Quantity: 2}
	rt := newRouter("X")
	svc := newService(st, rt)
	ctx := context.Background()

	// Unlimited cash does not mean unlimited shares.
	_, err := svc.SubmitOrder(ctx, types.OrderRequest{
		TraderID: admin, Symbol: "X", Side: types.SELL,
		Type: types.OrderTypeLimit, Quantity: 5, LimitPrice: price(100),
	})
	if !errors.Is(err, types.ErrInsufficientShares) {
		t.Fatalf("uncovered treasury sell = %v, want ErrInsufficientShares", err)
	}

	if _, err := svc.SubmitOrder(ctx, types.OrderRequest{
		TraderID: admin, Symbol: "X", Side: types.SELL,
		Type: types.OrderTypeLimit, Quantity: 2, LimitPrice: price(100),
	}); err != nil {
		t.Fatalf("covered treasury sell rejected: %v", err)
	}
}

func TestCancelOrderOwnership(t *testing.T) {
	t.Parallel()

	st := newStore()
	owner := st.addTrader(false)
	other := st.addTrader(false)
	rt := newRouter("X")
	svc := newService(st, rt)

	orderID := uuid.New()
	st.orders[orderID] = types.Order{OrderID: orderID, TraderID: owner, Symbol: "X"}

	err := svc.CancelOrder(context.Background(), other, orderID)
	if !errors.Is(err, types.ErrNotOwner) {
		t.Fatalf("foreign cancel = %v, want ErrNotOwner", err)
	}
	if len(rt.cancelled) != 0 {
		t.Fatal("router saw a cancel that failed ownership")
	}

	if err := svc.CancelOrder(context.Background(), owner, orderID); err != nil {
		t.Fatalf("own cancel: %v", err)
	}
	if len(rt.cancelled) != 1 || rt.cancelled[0] != orderID {
		t.Fatalf("router cancels = %v, want [%s]", rt.cancelled, orderID)
	}

	err = svc.CancelOrder(context.Background(), owner, uuid.New())
	if !errors.Is(err, types.ErrOrderNotFound) {
		t.Fatalf("cancel of unknown order = %v, want ErrOrderNotFound", err)
	}
}

func TestGetPrice(t *testing.T) {
	t.Parallel()

	rt := newRouter("X")
	svc := newService(newStore(), rt)

	// Empty book: everything nil.
	info, err := svc.GetPrice("X")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if info.BestBid != nil || info.BestAsk != nil || info.Spread != nil || info.LastPrice != nil {
		t.Fatalf("empty book price = %+v, want all nil", info)
	}

	b := rt.books["X"]
	b.Add(types.BUY, 95, book.Entry{OrderID: uuid.New(), Remaining: 10})
	b.Add(types.SELL, 100, book.Entry{OrderID: uuid.New(), Remaining: 4})
	b.SetLastPrice(98)

	info, err = svc.GetPrice("X")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if *info.BestBid != 95 || *info.BestAsk != 100 || *info.Spread != 5 || *info.LastPrice != 98 {
		t.Fatalf("price = %+v, want bid 95 ask 100 spread 5 last 98", info)
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want int }{
		{0, defaultTradeLimit},
		{-3, defaultTradeLimit},
		{50, 50},
		{maxTradeLimit, maxTradeLimit},
		{maxTradeLimit + 1, maxTradeLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Fatalf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGetOHLCRanges(t *testing.T) {
	t.Parallel()

	st := newStore()
	svc := newService(st, newRouter("X"))
	ctx := context.Background()

	if _, err := svc.GetOHLC(ctx, "X", "2h"); err == nil {
		t.Fatal("invalid range accepted")
	}
	if _, err := svc.GetOHLC(ctx, "Z", "1d"); !errors.Is(err, types.ErrUnknownSymbol) {
		t.Fatalf("unknown symbol = %v, want ErrUnknownSymbol", err)
	}

	if _, err := svc.GetOHLC(ctx, "X", "1w"); err != nil {
		t.Fatalf("1w range: %v", err)
	}
	if st.ohlcWidth != 6*time.Hour {
		t.Fatalf("1w candle width = %s, want 6h", st.ohlcWidth)
	}
}

func TestSeedTreasuryIdempotent(t *testing.T) {
	t.Parallel()

	st := newStore()
	rt := newRouter("X", "Y")
	svc := newService(st, rt)
	st.totalShares["Y"] = 500 // Y was seeded on a previous boot

	cfg := SeedConfig{Shares: 100, ParPrice: 100, RungStep: 5, Rungs: 4, AskTIF: 3600}
	if err := svc.SeedTreasury(context.Background(), cfg); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if len(st.issued) != 1 || st.issued[0] != "X" {
		t.Fatalf("issued = %v, want only X", st.issued)
	}

	var total int64
	lastPrice := int64(0)
	for _, req := range rt.submitted {
		if req.Symbol != "X" || req.Side != types.SELL || req.Type != types.OrderTypeLimit {
			t.Fatalf("unexpected ladder order %+v", req)
		}
		if *req.LimitPrice < lastPrice {
			t.Fatal("ladder rungs not ascending")
		}
		lastPrice = *req.LimitPrice
		total += req.Quantity
	}
	if len(rt.submitted) != 4 || total != 100 {
		t.Fatalf("ladder = %d orders totalling %d, want 4 totalling 100", len(rt.submitted), total)
	}
	if lastPrice != 115 {
		t.Fatalf("top rung = %d, want 115", lastPrice)
	}

	// Second run finds X seeded and does nothing more.
	st.totalShares["X"] = 100
	before := len(rt.submitted)
	if err := svc.SeedTreasury(context.Background(), cfg); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if len(rt.submitted) != before || len(st.issued) != 1 {
		t.Fatal("second seeding run was not a no-op")
	}
}
