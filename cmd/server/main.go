package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/winback-gateway/internal/api"
	"github.com/atmx/winback-gateway/internal/config"
	"github.com/atmx/winback-gateway/internal/gateway"
	"github.com/atmx/winback-gateway/internal/identity"
	"github.com/atmx/winback-gateway/internal/ledger"
	"github.com/atmx/winback-gateway/internal/metrics"
	"github.com/atmx/winback-gateway/internal/settlement"
	"github.com/atmx/winback-gateway/internal/store"
	"github.com/atmx/winback-gateway/internal/xrpl"
)

func main() {
	cfg, err := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize receipt store ---
	var receipts store.ReceiptStore
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("receipt migration failed", "err", err)
			os.Exit(1)
		}
		receipts = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			receipts = store.NewCachedStore(receipts, rdb, cfg.ReceiptCacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory receipt store (receipts will not persist)")
		receipts = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Ledger client and faucet ---
	node := xrpl.NewClient(cfg.RPCURL,
		xrpl.WithPollInterval(cfg.PollInterval),
		xrpl.WithWaitTimeout(cfg.WaitTimeout),
	)
	faucet := xrpl.NewFaucet(cfg.FaucetURL, node, xrpl.WithFaucetRate(cfg.FaucetRatePerMinute))

	registry := identity.NewRegistry(faucet)
	lg := ledger.New(node,
		ledger.WithNetwork(cfg.Network, cfg.RPCURL),
		ledger.WithExplorer(ledger.NewExplorer(cfg.ExplorerURL)),
		ledger.WithFeedPaging(cfg.FeedPageLimit, cfg.FeedMaxPages),
	)

	policy, err := settlement.ParseSignPolicy(cfg.SignPolicy)
	if err != nil {
		slog.Error("invalid SETTLE_SIGN_POLICY", "err", err)
		os.Exit(1)
	}
	engine := settlement.NewEngine(registry, lg,
		settlement.WithRate(cfg.CashbackRate),
		settlement.WithSignPolicy(policy),
		settlement.WithReceipts(receipts),
	)

	// --- WebSocket hub ---
	hub := api.NewHub()
	go hub.Run(ctx)

	svc := gateway.New(registry, lg, engine, gateway.WithNotifier(hub))

	// Platform wallets are funded in the background: the faucet takes
	// seconds and every operation provisions them on demand anyway.
	go func() {
		if err := svc.Init(ctx); err != nil {
			slog.Error("platform identity provisioning failed", "err", err)
		}
	}()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"winback-gateway"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	api.NewHandlers(svc, hub).Routes(r)

	// --- Server ---
	// Settlements wait on ledger validation, so writes get the full
	// ledger wait plus headroom.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2*cfg.WaitTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("winback-gateway listening", "port", cfg.Port, "network", cfg.Network, "rpc", cfg.RPCURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down winback-gateway...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("winback-gateway stopped")
}
