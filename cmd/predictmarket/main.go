// Command predictmarket wires the full core (ledger, order-book and AMM
// engines, coordinator, settlement, and the resilience substrate) into one
// process, following pincex_unified's cmd/pincex/main.go shape: load
// config/logger, construct services in dependency order, start background
// loops, serve metrics, then wait for SIGINT/SIGTERM and shut down in
// reverse order.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aidin1998/predictmarket/internal/amm"
	"github.com/Aidin1998/predictmarket/internal/breaker"
	"github.com/Aidin1998/predictmarket/internal/cache"
	"github.com/Aidin1998/predictmarket/internal/config"
	"github.com/Aidin1998/predictmarket/internal/coordinator"
	"github.com/Aidin1998/predictmarket/internal/events"
	"github.com/Aidin1998/predictmarket/internal/ledger"
	"github.com/Aidin1998/predictmarket/internal/orderbook"
	"github.com/Aidin1998/predictmarket/internal/persistence"
	"github.com/Aidin1998/predictmarket/internal/settlement"
	"github.com/Aidin1998/predictmarket/internal/slo"
	"github.com/Aidin1998/predictmarket/internal/taskqueue"
	"github.com/Aidin1998/predictmarket/pkg/logger"
	"github.com/Aidin1998/predictmarket/pkg/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	logLevel := os.Getenv("PREDICTMARKET_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	zapLogger, err := logger.New(logLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	cfg, err := config.Load(os.Getenv("PREDICTMARKET_CONFIG"))
	if err != nil {
		zapLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	dbPath := os.Getenv("PREDICTMARKET_DB_PATH")
	if dbPath == "" {
		dbPath = "predictmarket.db"
	}
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		zapLogger.Fatal("failed to open database", zap.Error(err))
	}
	store, err := persistence.Open(db)
	if err != nil {
		zapLogger.Fatal("failed to initialize persistence", zap.Error(err))
	}

	led := ledger.New(zapLogger, os.Getenv("PREDICTMARKET_DEBUG_INVARIANTS") == "true")
	marketStore := newInMemoryMarketStore()
	userStore := newInMemoryUserStore()

	book := orderbook.NewEngine(zapLogger, led, orderbook.Config{
		PriceTickBound:    int64(cfg.Book.PriceTicks),
		MarketOrderPolicy: models.MarketOrderPolicy(cfg.Book.MarketOrderPolicy),
	})
	pool := amm.NewEngine(zapLogger, led)
	bus := events.NewInProcessBus(zapLogger)
	settler := settlement.New(zapLogger, led)

	queue := taskqueue.New(zapLogger, taskqueue.RetryPolicy{
		MaxAttempts:     cfg.TaskQueue.MaxAttempts,
		BaseDelay:       cfg.TaskQueue.Backoff.Base,
		MaxDelay:        cfg.TaskQueue.Backoff.Cap,
		ExponentialBase: cfg.TaskQueue.Backoff.Factor,
	})
	queue.RegisterHandler(coordinator.SettleMarketTaskKind, func(ctx context.Context, payload any) error {
		marketID, ok := payload.(uuid.UUID)
		if !ok {
			return fmt.Errorf("settle-market: unexpected payload %T", payload)
		}
		m, err := marketStore.Get(marketID)
		if err != nil {
			return err
		}
		return settler.SettleMarket(m)
	})

	coord := coordinator.New(zapLogger, led, marketStore, userStore, book, pool, bus, store, queue)

	breakers := breaker.NewRegistry(zapLogger)
	redisClient := newOptionalRedisClient()
	cacheDeps := cache.New(zapLogger, cache.Config{
		L1Capacity:    cfg.Cache.L1Capacity,
		L1TTL:         cfg.Cache.L1TTL,
		L2TTL:         cfg.Cache.L2TTL,
		CompressionMin: 1024,
	}, redisClient, breakers.GetOrCreate(breaker.DefaultConfig("cache-l2")))

	sloMonitor := slo.NewMonitor()
	for name, target := range cfg.SLO.Targets {
		sloMonitor.Register(slo.Target{Name: name, TargetPercentage: target, WindowHours: int(cfg.SLO.Window.Hours())})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coord.Recover(ctx, marketStore.allIDs()); err != nil {
		zapLogger.Error("crash recovery failed", zap.Error(err))
	}

	queueDone := make(chan error, 1)
	go func() {
		queueDone <- queue.Run(ctx, cfg.TaskQueue.Workers, func(ev taskqueue.DeadLetterEvent) {
			zapLogger.Warn("task moved to dead letter", zap.String("task", ev.Task.ID.String()), zap.String("kind", ev.Task.Kind))
		})
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/markets/", newMarketHandler(marketStore, cacheDeps))
	mux.HandleFunc("/orders", newOrderHandler(coord, sloMonitor))

	metricsAddr := os.Getenv("PREDICTMARKET_METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}
	httpServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		zapLogger.Info("serving metrics", zap.String("addr", metricsAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Error("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("metrics server shutdown error", zap.Error(err))
	}
	<-queueDone
	zapLogger.Info("shutdown complete")
}
