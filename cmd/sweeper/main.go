package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ecomstack/checkout-core/internal/config"
	"github.com/ecomstack/checkout-core/internal/coupon"
	"github.com/ecomstack/checkout-core/internal/inventory"
	"github.com/ecomstack/checkout-core/internal/logging"
	"github.com/ecomstack/checkout-core/internal/metrics"
	"github.com/ecomstack/checkout-core/internal/notify"
	"github.com/ecomstack/checkout-core/internal/orders"
	"github.com/ecomstack/checkout-core/internal/postgres"
	"github.com/ecomstack/checkout-core/internal/sweep"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName+"-sweeper", cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	pub := notify.NewPublisher(cfg.KafkaBrokers, cfg.ServiceName+"-sweeper", 256, log)
	pub.Start(ctx)

	ledger := &inventory.Repo{DB: db}
	orderRepo := &orders.Repo{DB: db}
	machine := &orders.Machine{
		Store:   orderRepo,
		Ledger:  ledger,
		Coupons: &coupon.Repo{DB: db},
		Notify:  pub,
		Log:     log,
	}

	s := &sweep.Sweeper{
		Ledger:  ledger,
		Orders:  orderRepo,
		Machine: machine,
		Window:  cfg.PaymentWindow,
		Metrics: metrics.New(nil),
		Log:     log,
	}

	go s.Run(ctx, cfg.SweepInterval)
	log.Info("sweeper started",
		zap.Duration("interval", cfg.SweepInterval),
		zap.Duration("payment_window", cfg.PaymentWindow))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()
	pub.Close()
}
