package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/cartaway/checkout/internal/config"
	"github.com/cartaway/checkout/migrations"
	"github.com/cartaway/checkout/pkg/idempotency"
	"github.com/cartaway/checkout/pkg/logging"
	"github.com/cartaway/checkout/pkg/outbox"
	"github.com/cartaway/checkout/pkg/shutdown"
	"github.com/cartaway/checkout/pkg/tracing"

	cartpg "github.com/cartaway/checkout/internal/cart/infrastructure/postgres"
	invapp "github.com/cartaway/checkout/internal/inventory/application"
	invhttp "github.com/cartaway/checkout/internal/inventory/infrastructure/http"
	invpg "github.com/cartaway/checkout/internal/inventory/infrastructure/postgres"
	orderapp "github.com/cartaway/checkout/internal/order/application"
	orderhttp "github.com/cartaway/checkout/internal/order/infrastructure/http"
	orderkafka "github.com/cartaway/checkout/internal/order/infrastructure/kafka"
	orderpg "github.com/cartaway/checkout/internal/order/infrastructure/postgres"
	paymentkafka "github.com/cartaway/checkout/internal/payment/infrastructure/kafka"
	shipapp "github.com/cartaway/checkout/internal/shipping/application"
	shiphttp "github.com/cartaway/checkout/internal/shipping/infrastructure/http"
	shippg "github.com/cartaway/checkout/internal/shipping/infrastructure/postgres"
	taxapp "github.com/cartaway/checkout/internal/tax/application"
	taxhttp "github.com/cartaway/checkout/internal/tax/infrastructure/http"
	taxpg "github.com/cartaway/checkout/internal/tax/infrastructure/postgres"
)

func main() {
	log := logging.New("checkout-service")

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}
	defaultTaxRate, err := decimal.NewFromString(cfg.DefaultTaxRate)
	if err != nil {
		log.Error("invalid DEFAULT_TAX_RATE", "value", cfg.DefaultTaxRate, "err", err)
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "checkout-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	if err := migrations.Up(cfg.PostgresURL); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	idem := idempotency.NewStore(rdb, cfg.IdempotencyTTL)

	// Kafka producer and notification relay
	writer := orderkafka.NewWriter([]string{cfg.KafkaAddr})
	defer writer.Close()
	outboxStore := orderpg.NewOutboxStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, cfg.NotifyTopic)
	// per-instance relay id; the outbox lease keeps replicas from double-sending
	relay := outbox.NewRelay(log, outboxStore, dispatch, "relay-"+uuid.NewString())

	// Wiring
	ledger := invpg.NewLedger(log)
	invStore := invpg.NewStore(log, pool, ledger)
	invSvc := invapp.NewService(log, invStore)

	taxEngine := taxapp.NewEngine(log, taxpg.NewRepository(log, pool), defaultTaxRate)
	shipEngine := shipapp.NewEngine(log, shippg.NewRepository(log, pool))

	orderRepo := orderpg.NewRepository(log, pool, ledger)
	orderSvc := orderapp.NewService(log, cartpg.NewRepository(log, pool),
		taxEngine, shipEngine, orderRepo, cfg.CheckoutTimeout)

	paymentConsumer := paymentkafka.NewConsumer(log, []string{cfg.KafkaAddr},
		cfg.PaymentTopic, cfg.PaymentGroup, orderSvc, idem)

	// HTTP server
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	orderhttp.NewHandler(log, orderSvc, idem).Register(r)
	invhttp.NewHandler(log, invSvc).Register(r)
	taxhttp.NewHandler(log, taxEngine).Register(r)
	shiphttp.NewHandler(log, shipEngine).Register(r)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	go func() {
		if err := paymentConsumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("payment consumer stopped with error", "err", err)
			cancel()
		}
	}()

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("checkout-service shutdown complete")
}
