package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"handlex/internal/config"
	"handlex/internal/exchange"
	"handlex/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExchange returns canned values; err, when set, is returned by every
// operation so the status mapping can be exercised.
type fakeExchange struct {
	err   error
	order types.Order
}

func (f *fakeExchange) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	o := f.order
	return &o, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, traderID, orderID uuid.UUID) error {
	return f.err
}

func (f *fakeExchange) GetOrder(ctx context.Context, orderID uuid.UUID) (*types.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	o := f.order
	return &o, nil
}

func (f *fakeExchange) OpenOrders(ctx context.Context, traderID uuid.UUID) ([]types.Order, error) {
	return nil, f.err
}

func (f *fakeExchange) CreateTrader(ctx context.Context) (*types.Trader, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Trader{TraderID: uuid.New(), IsActive: true}, nil
}

func (f *fakeExchange) Traders(ctx context.Context) ([]types.Trader, error) {
	return nil, f.err
}

func (f *fakeExchange) GetPortfolio(ctx context.Context, traderID uuid.UUID) (*types.Portfolio, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Portfolio{TraderID: traderID}, nil
}

func (f *fakeExchange) GetBook(symbol string) (types.BookSnapshot, error) {
	return types.BookSnapshot{Symbol: symbol}, f.err
}

func (f *fakeExchange) GetPrice(symbol string) (types.PriceInfo, error) {
	return types.PriceInfo{Symbol: symbol}, f.err
}

func (f *fakeExchange) AllPrices() []types.PriceInfo { return nil }

func (f *fakeExchange) Symbols() []string { return []string{"@elonmusk"} }

func (f *fakeExchange) SeedTreasury(ctx context.Context, cfg exchange.SeedConfig) error {
	return f.err
}

func (f *fakeExchange) RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	return nil, f.err
}

func (f *fakeExchange) TraderTrades(ctx context.Context, traderID uuid.UUID, limit int) ([]types.Trade, error) {
	return nil, f.err
}

func (f *fakeExchange) GetOHLC(ctx context.Context, symbol, rangeName string) ([]types.Candle, error) {
	return nil, f.err
}

func newTestServer(fake *fakeExchange) *httptest.Server {
	srv := NewServer(config.ServerConfig{Addr: ":0"}, fake, nil, testLogger())
	return httptest.NewServer(srv.server.Handler)
}

func TestErrorStatusMapping(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", types.ErrOrderNotFound, http.StatusNotFound},
		{"not owner", types.ErrNotOwner, http.StatusForbidden},
		{"terminal", types.ErrOrderTerminal, http.StatusConflict},
		{"insufficient funds", types.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestServer(&fakeExchange{err: tt.err})
			defer ts.Close()

			resp, err := http.Get(ts.URL + "/api/orders/" + orderID.String())
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSubmitOrderAccepted(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	fake := &fakeExchange{order: types.Order{OrderID: orderID, Status: types.StatusPending}}
	ts := newTestServer(fake)
	defer ts.Close()

	body := `{"trader_id":"` + uuid.NewString() + `","symbol":"@elonmusk","side":"BUY","order_type":"LIMIT","quantity":4,"limit_price":120}`
	resp, err := http.Post(ts.URL+"/api/orders", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var got types.Order
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OrderID != orderID || got.Status != types.StatusPending {
		t.Fatalf("order = %+v, want PENDING %s", got, orderID)
	}
}

func TestCancelTerminalOrderReportsFalse(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeExchange{err: types.ErrOrderTerminal})
	defer ts.Close()

	url := ts.URL + "/api/orders/" + uuid.NewString() + "?trader_id=" + uuid.NewString()
	req, _ := http.NewRequest(http.MethodDelete, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["cancelled"] {
		t.Fatal("terminal order reported cancelled = true, want false")
	}
}

func TestCancelRequiresTraderID(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeExchange{})
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/orders/"+uuid.NewString(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeExchange{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.ServerConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.ServerConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8080",
			cfg:     config.ServerConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.ServerConfig{},
			reqHost: "localhost:8080",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://app.example.com",
			cfg:     config.ServerConfig{AllowedOrigins: []string{"https://app.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.ServerConfig{AllowedOrigins: []string{"https://app.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://hx.internal:8080",
			cfg:     config.ServerConfig{},
			reqHost: "hx.internal:8080",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
