// Package api runs the HTTP and WebSocket surface of the exchange.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"handlex/internal/config"
)

// Server runs the REST API and the market data stream.
type Server struct {
	cfg      config.ServerConfig
	hub      *Hub
	handlers *Handlers
	rdb      *redis.Client
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, exchange Exchange, rdb *redis.Client, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(exchange, cfg, hub, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.HandleHealth)

	mux.HandleFunc("POST /api/traders", handlers.HandleCreateTrader)
	mux.HandleFunc("GET /api/traders", handlers.HandleListTraders)
	mux.HandleFunc("GET /api/traders/{trader_id}/portfolio", handlers.HandlePortfolio)
	mux.HandleFunc("GET /api/traders/{trader_id}/orders", handlers.HandleOpenOrders)
	mux.HandleFunc("GET /api/traders/{trader_id}/trades", handlers.HandleTraderTrades)

	mux.HandleFunc("POST /api/orders", handlers.HandleSubmitOrder)
	mux.HandleFunc("GET /api/orders/{order_id}", handlers.HandleGetOrder)
	mux.HandleFunc("DELETE /api/orders/{order_id}", handlers.HandleCancelOrder)

	mux.HandleFunc("GET /api/symbols", handlers.HandleSymbols)
	mux.HandleFunc("GET /api/prices", handlers.HandleAllPrices)
	mux.HandleFunc("GET /api/symbols/{symbol}/book", handlers.HandleBook)
	mux.HandleFunc("GET /api/symbols/{symbol}/price", handlers.HandlePrice)
	mux.HandleFunc("GET /api/symbols/{symbol}/trades", handlers.HandleSymbolTrades)
	mux.HandleFunc("GET /api/symbols/{symbol}/ohlc", handlers.HandleOHLC)

	mux.HandleFunc("POST /admin/seed", handlers.HandleSeedTreasury)

	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		hub:      hub,
		handlers: handlers,
		rdb:      rdb,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start launches the hub, the Redis market data bridge, and the listener.
func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup) error {
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.hub.RunBridge(ctx, s.rdb)
	}()

	s.logger.Info("api server starting", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
