package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ecomstack/checkout-core/internal/catalog"
	"github.com/ecomstack/checkout-core/internal/checkout"
	"github.com/ecomstack/checkout-core/internal/config"
	"github.com/ecomstack/checkout-core/internal/coupon"
	"github.com/ecomstack/checkout-core/internal/httpx"
	"github.com/ecomstack/checkout-core/internal/inventory"
	"github.com/ecomstack/checkout-core/internal/logging"
	"github.com/ecomstack/checkout-core/internal/metrics"
	"github.com/ecomstack/checkout-core/internal/notify"
	"github.com/ecomstack/checkout-core/internal/orders"
	"github.com/ecomstack/checkout-core/internal/payment"
	"github.com/ecomstack/checkout-core/internal/postgres"
	"github.com/ecomstack/checkout-core/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Bootstrap(ctx, db); err != nil {
		log.Fatal("db bootstrap", zap.Error(err))
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pub := notify.NewPublisher(cfg.KafkaBrokers, cfg.ServiceName, 1024, log)
	pub.Start(ctx)

	m := metrics.New(nil)

	ledger := &inventory.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db}
	couponRepo := &coupon.Repo{DB: db}

	machine := &orders.Machine{
		Store:   orderRepo,
		Ledger:  ledger,
		Coupons: couponRepo,
		Notify:  pub,
		Log:     log,
	}
	builder := &checkout.Builder{
		Carts:          &checkout.CartRepo{DB: db},
		Catalog:        &catalog.Repo{DB: db},
		Coupons:        coupon.NewEvaluator(couponRepo),
		Ledger:         ledger,
		Pricing:        checkout.FlatPricing{ShippingCents: cfg.ShippingCents, TaxBasisPoints: cfg.TaxBasisPoints},
		ReservationTTL: cfg.ReservationTTL,
	}
	gateway := payment.NewGateway(cfg.ProcessorURL, payment.Policy{
		MaxAttempts: cfg.InitiateRetries,
		Backoff:     cfg.InitiateBackoff,
	}, log)
	reconciler := &payment.Reconciler{
		Secret:     cfg.WebhookSecret,
		Events:     &payment.EventRepo{DB: db},
		Orders:     orderRepo,
		Machine:    machine,
		Redis:      rdb,
		MaxRetries: cfg.ReconcileRetry,
		Log:        log,
	}

	router := httpx.NewRouter()
	ch := &httpx.CheckoutHandler{
		Builder: builder,
		Orders:  orderRepo,
		Machine: machine,
		Gateway: gateway,
		Ledger:  ledger,
		Redis:   rdb,
		Metrics: m,
		Log:     log,
	}
	ch.Register(router)
	wh := &httpx.WebhookHandler{Reconciler: reconciler, Metrics: m, Log: log}
	wh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	pub.Close() // flush outstanding events, then stop
}
