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
	"github.com/shopspring/decimal"

	"github.com/fundx/fund-engine/internal/api"
	"github.com/fundx/fund-engine/internal/asset"
	"github.com/fundx/fund-engine/internal/ledger"
	"github.com/fundx/fund-engine/internal/metrics"
	"github.com/fundx/fund-engine/internal/order"
	"github.com/fundx/fund-engine/internal/settle"
	"github.com/fundx/fund-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Ledgers and settlement engine ---
	balances := ledger.NewBalanceLedger()
	shares := ledger.NewShareLedger()
	book := order.NewBook(st)
	assets := asset.NewAggregator(balances, shares, st)
	engine := settle.NewEngine(balances, shares, st, book, assets)

	if rate := os.Getenv("FEE_RATE"); rate != "" {
		feeRate, err := decimal.NewFromString(rate)
		if err != nil {
			slog.Error("invalid FEE_RATE", "err", err)
			os.Exit(1)
		}
		engine.SetFeeRate(feeRate)
		slog.Info("settlement fee rate set", "rate", feeRate.String())
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()
	engine.SetNotifier(wsHub)

	// --- Recovery sweep ---
	sweepInterval := durationEnv("SWEEP_INTERVAL", time.Minute)
	staleAfter := durationEnv("STALE_AFTER", 5*time.Minute)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				n, err := engine.ResolveStale(sweepCtx, staleAfter)
				if err != nil {
					slog.Error("recovery sweep failed", "err", err)
				} else if n > 0 {
					slog.Info("recovery sweep resolved stale entrusts", "count", n)
				}
			}
		}
	}()

	// --- API service ---
	apiSvc := api.NewService(st, balances, shares, engine, assets)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"fund-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time confirmation updates.
		r.Get("/ws", wsHub.HandleWS)
		apiSvc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("fund-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down fund-engine...")
	stopSweep()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("fund-engine stopped")
}

// durationEnv reads a duration env var (e.g. "90s", "5m"), falling back to
// def when unset or invalid.
func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", def.String())
		return def
	}
	return d
}
