// handlex exchange daemon — a continuous limit order book for personality
// token markets, with one serial matching processor per symbol.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires everything, waits for SIGINT/SIGTERM
//	book/book.go         — in-memory per-symbol book: B-tree price levels, FIFO queues within a level
//	match/matcher.go     — price–time priority matching for MARKET / LIMIT / IOC orders
//	engine/processor.go  — one goroutine per symbol: matches and settles in a single transaction
//	engine/router.go     — durably accepts orders, routes commands to the owning processor
//	engine/expiry.go     — sweeps lapsed orders and cancels them through the router
//	store/               — PostgreSQL repositories; writes never commit, callers own the transaction
//	outbox/publisher.go  — drains the transactional outbox into Redis pub/sub
//	exchange/service.go  — request validation, portfolios, prices, candles, treasury seeding
//	api/                 — REST surface plus a WebSocket hub bridging the Redis market data channels
//
// Settlement is atomic by construction: every fill writes the trade, four
// ledger postings, both position moves, both order updates and the TRADE
// outbox event in one transaction, so money, shares and events can never
// disagree.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"handlex/internal/api"
	"handlex/internal/config"
	"handlex/internal/engine"
	"handlex/internal/exchange"
	"handlex/internal/outbox"
	"handlex/internal/store"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("HX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable state
	st, err := store.Open(ctx, cfg.Database.DSN, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	// Event fabric
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to reach redis", "error", err, "addr", cfg.Redis.Addr)
		os.Exit(1)
	}
	defer rdb.Close()

	var wg sync.WaitGroup

	// Matching engine: one processor per symbol, books rebuilt before any
	// traffic is accepted
	router := engine.NewRouter(st, cfg.Engine.Symbols, cfg.Engine.InboxSize, logger)
	if err := router.Start(ctx, &wg); err != nil {
		logger.Error("failed to start matching engine", "error", err)
		os.Exit(1)
	}

	svc := exchange.New(st, router, cfg.Trading.InitialCashCents, logger)

	if cfg.Trading.SeedOnStart {
		err := svc.SeedTreasury(ctx, exchange.SeedConfig{
			Shares:   cfg.Trading.SeedShares,
			ParPrice: cfg.Trading.SeedParCents,
			RungStep: cfg.Trading.SeedRungStep,
			Rungs:    cfg.Trading.SeedRungs,
			AskTIF:   cfg.Trading.SeedAskTIF,
		})
		if err != nil {
			logger.Error("treasury seeding failed", "error", err)
			os.Exit(1)
		}
	}

	// Daemons
	publisher := outbox.New(st, rdb, cfg.Outbox.BatchSize, cfg.Outbox.Workers, logger)
	publisher.Start(ctx, &wg)

	expirer := engine.NewExpirer(st, router, cfg.Engine.ExpiryInterval, cfg.Engine.ExpiryBatch, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		expirer.Run(ctx)
	}()

	// API surface
	apiServer := api.NewServer(cfg.Server, svc, rdb, logger)
	if err := apiServer.Start(ctx, &wg); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("exchange started",
		"symbols", len(cfg.Engine.Symbols),
		"addr", cfg.Server.Addr,
		"outbox_workers", cfg.Outbox.Workers,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop taking requests first, then wind down the daemons
	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	cancel()
	wg.Wait()
	logger.Info("exchange stopped")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
