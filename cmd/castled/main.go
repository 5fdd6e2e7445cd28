package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"log/slog"

	"github.com/big-kim/castle-sub001/internal/config"
	"github.com/big-kim/castle-sub001/internal/engine"
	"github.com/big-kim/castle-sub001/internal/handlers"
	"github.com/big-kim/castle-sub001/internal/ledger"
	"github.com/big-kim/castle-sub001/internal/service"
	"github.com/big-kim/castle-sub001/internal/storage"
	"github.com/big-kim/castle-sub001/internal/worker"
	"github.com/big-kim/castle-sub001/libs/health"
	"github.com/big-kim/castle-sub001/libs/httpmiddleware"
	"github.com/big-kim/castle-sub001/libs/kafka"
	"github.com/big-kim/castle-sub001/libs/logging"
	"github.com/big-kim/castle-sub001/libs/metrics"
)

type persister interface {
	engine.Store
	ledger.WalletPersister
	ledger.TransactionPersister
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	serviceMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	var store persister
	pool, err := connectDB(cfg)
	if err != nil {
		logger.Warn("db unavailable, running with in-memory storage", "error", err)
		store = storage.NewMemory()
	} else {
		defer pool.Close()
		pg := storage.NewPostgres(pool, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pg.EnsureSchema(ctx); err != nil {
			cancel()
			logger.Error("schema init failed", "error", err)
			os.Exit(1)
		}
		cancel()
		store = pg
	}

	txLog := ledger.NewTransactionLog(store, logger)
	assetLedger := ledger.New(txLog, store, logger, serviceMetrics)
	matchingEngine := engine.New(assetLedger, store, nil, logger, serviceMetrics)

	confirmer := worker.NewConfirmer(matchingEngine, logger, worker.Options{
		QueueSize: cfg.Worker.QueueSize,
		Retries:   cfg.Worker.ConfirmRetries,
		Backoff:   cfg.Worker.ConfirmBackoff,
	})
	matchingEngine.SetConfirmer(confirmer)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if n, err := assetLedger.LoadSnapshot(loadCtx); err != nil {
		logger.Error("wallet snapshot load failed", "error", err)
	} else {
		logger.Info("wallet snapshot loaded", "wallets", n)
	}
	if n, err := matchingEngine.LoadSnapshot(loadCtx); err != nil {
		logger.Error("order snapshot load failed", "error", err)
	} else {
		logger.Info("order snapshot loaded", "orders", n)
	}
	loadCancel()

	var publisher kafka.Publisher
	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Warn("kafka unavailable, event publishing disabled", "error", err)
	} else {
		defer producer.Close()
		publisher = producer
		if strings.TrimSpace(cfg.Kafka.Topics.DLQ) != "" {
			publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DLQ, logger)
		}
	}

	exchange := service.New(matchingEngine, assetLedger, publisher, logger, serviceMetrics, service.Topics{
		OrdersAccepted:  cfg.Kafka.Topics.OrdersAccepted,
		OrdersCancelled: cfg.Kafka.Topics.OrdersCancelled,
		TradesExecuted:  cfg.Kafka.Topics.TradesExecuted,
		Transactions:    cfg.Kafka.Topics.Transactions,
	})

	httpServer := buildHTTPServer(cfg, exchange, ready, registry, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	go confirmer.Run(workerCtx)

	ready.SetReady(true)

	go func() {
		logger.Info("castled http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, workerCancel, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildHTTPServer(cfg *config.Config, exchange *service.ExchangeService, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler := handlers.New(exchange, logger)
	handler.Register(router, []byte(cfg.Auth.JWTSecret))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
