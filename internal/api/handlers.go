package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"handlex/internal/config"
	"handlex/internal/exchange"
	"handlex/pkg/types"
)

// Exchange is the trading surface the handlers expose over HTTP.
// Implemented by *exchange.Service.
type Exchange interface {
	SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.Order, error)
	CancelOrder(ctx context.Context, traderID, orderID uuid.UUID) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*types.Order, error)
	OpenOrders(ctx context.Context, traderID uuid.UUID) ([]types.Order, error)

	CreateTrader(ctx context.Context) (*types.Trader, error)
	Traders(ctx context.Context) ([]types.Trader, error)
	GetPortfolio(ctx context.Context, traderID uuid.UUID) (*types.Portfolio, error)

	Symbols() []string
	GetBook(symbol string) (types.BookSnapshot, error)
	GetPrice(symbol string) (types.PriceInfo, error)
	AllPrices() []types.PriceInfo
	SeedTreasury(ctx context.Context, cfg exchange.SeedConfig) error
	RecentTrades(ctx context.Context, symbol string, limit int) ([]types.Trade, error)
	TraderTrades(ctx context.Context, traderID uuid.UUID, limit int) ([]types.Trade, error)
	GetOHLC(ctx context.Context, symbol, rangeName string) ([]types.Candle, error)
}

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	exchange Exchange
	cfg      config.ServerConfig
	hub      *Hub
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(exchange Exchange, cfg config.ServerConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		exchange: exchange,
		cfg:      cfg,
		hub:      hub,
		logger:   logger.With("component", "api-handlers"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the service errors onto HTTP status codes.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, types.ErrOrderNotFound),
		errors.Is(err, types.ErrTraderNotFound),
		errors.Is(err, types.ErrUnknownSymbol):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, types.ErrOrderTerminal):
		status = http.StatusConflict
	case errors.Is(err, types.ErrInsufficientFunds),
		errors.Is(err, types.ErrInsufficientShares):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HandleHealth returns a simple health check response
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCreateTrader provisions a funded trader account
func (h *Handlers) HandleCreateTrader(w http.ResponseWriter, r *http.Request) {
	trader, err := h.exchange.CreateTrader(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trader)
}

// HandleListTraders returns all active traders
func (h *Handlers) HandleListTraders(w http.ResponseWriter, r *http.Request) {
	traders, err := h.exchange.Traders(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, traders)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}

// HandlePortfolio returns a trader's cash and positions
func (h *Handlers) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	traderID, err := pathUUID(r, "trader_id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	portfolio, err := h.exchange.GetPortfolio(r.Context(), traderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

// HandleOpenOrders returns a trader's non-terminal orders
func (h *Handlers) HandleOpenOrders(w http.ResponseWriter, r *http.Request) {
	traderID, err := pathUUID(r, "trader_id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	orders, err := h.exchange.OpenOrders(r.Context(), traderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// HandleTraderTrades returns a trader's executions
func (h *Handlers) HandleTraderTrades(w http.ResponseWriter, r *http.Request) {
	traderID, err := pathUUID(r, "trader_id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	trades, err := h.exchange.TraderTrades(r.Context(), traderID, queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// HandleSubmitOrder accepts a new order; the response is the PENDING order,
// matching happens asynchronously
func (h *Handlers) HandleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req types.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, err)
		return
	}
	order, err := h.exchange.SubmitOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, order)
}

// HandleGetOrder returns one order by ID
func (h *Handlers) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "order_id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	order, err := h.exchange.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleCancelOrder cancels the caller's own order. The caller identifies
// itself with the trader_id query parameter. An order that is already
// terminal is reported as cancelled=false rather than an error; missing
// orders and ownership mismatches are errors.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "order_id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	traderID, err := uuid.Parse(r.URL.Query().Get("trader_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.exchange.CancelOrder(r.Context(), traderID, orderID); err != nil {
		if errors.Is(err, types.ErrOrderTerminal) {
			writeJSON(w, http.StatusOK, map[string]bool{"cancelled": false})
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// HandleBook returns the aggregated depth for a symbol
func (h *Handlers) HandleBook(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.exchange.GetBook(r.PathValue("symbol"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// HandlePrice returns the market view for one symbol
func (h *Handlers) HandlePrice(w http.ResponseWriter, r *http.Request) {
	info, err := h.exchange.GetPrice(r.PathValue("symbol"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleSymbols lists the tradable symbols
func (h *Handlers) HandleSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"symbols": h.exchange.Symbols()})
}

// HandleAllPrices returns the market view for every symbol
func (h *Handlers) HandleAllPrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.exchange.AllPrices())
}

// HandleSeedTreasury bootstraps the treasury account and the initial share
// float. Seeding is idempotent, so operators can re-run it safely.
func (h *Handlers) HandleSeedTreasury(w http.ResponseWriter, r *http.Request) {
	var cfg exchange.SeedConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeError(w, err)
		return
	}
	if cfg.Shares <= 0 || cfg.ParPrice <= 0 || cfg.AskTIF <= 0 {
		writeJSON(w, http.StatusBadRequest,
			map[string]string{"error": "shares, par_price and ask_tif must be positive"})
		return
	}
	if err := h.exchange.SeedTreasury(r.Context(), cfg); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

// HandleSymbolTrades returns a symbol's recent executions
func (h *Handlers) HandleSymbolTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.exchange.RecentTrades(r.Context(), r.PathValue("symbol"), queryLimit(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// HandleOHLC returns candles for a named chart range
func (h *Handlers) HandleOHLC(w http.ResponseWriter, r *http.Request) {
	rangeName := r.URL.Query().Get("range")
	if rangeName == "" {
		rangeName = "1d"
	}
	candles, err := h.exchange.GetOHLC(r.Context(), r.PathValue("symbol"), rangeName)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

// HandleWebSocket upgrades the connection and attaches the client to the
// market data hub
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), h.cfg, r.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn)
}

// isOriginAllowed implements the WebSocket origin policy: same host and
// localhost are always fine, anything else needs an allowlist entry.
func isOriginAllowed(origin string, cfg config.ServerConfig, reqHost string) bool {
	if origin == "" {
		return true
	}

	for _, allowed := range cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	if len(cfg.AllowedOrigins) > 0 {
		return false
	}

	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if host == reqHost {
		return true
	}
	bare := host
	if i := strings.LastIndex(bare, ":"); i >= 0 {
		bare = bare[:i]
	}
	return bare == "localhost" || bare == "127.0.0.1"
}
