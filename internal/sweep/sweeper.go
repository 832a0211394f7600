package sweep

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ecomstack/checkout-core/internal/inventory"
	"github.com/ecomstack/checkout-core/internal/metrics"
	"github.com/ecomstack/checkout-core/internal/orders"
)

const timeoutBatch = 100

// Sweeper catches everything that never got its webhook or its release:
// HELD reservations past expiry and orders stuck in PENDING_PAYMENT past the
// configured window. Both passes are idempotent per target and safe to run
// while the API is live; a racing commit or webhook simply wins the version
// check and the sweep moves on.
type Sweeper struct {
	Ledger  inventory.Ledger
	Orders  orders.Store
	Machine *orders.Machine
	Window  time.Duration
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepReservations(ctx)
			s.SweepPaymentTimeouts(ctx)
		}
	}
}

func (s *Sweeper) SweepReservations(ctx context.Context) {
	n, err := s.Ledger.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		s.Log.Error("reservation sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.Metrics.ReservationsExpired.Add(float64(n))
		s.Log.Info("expired reservations released", zap.Int("count", n))
	}
}

func (s *Sweeper) SweepPaymentTimeouts(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.Window)
	stale, err := s.Orders.PendingPaymentBefore(ctx, cutoff, timeoutBatch)
	if err != nil {
		s.Log.Error("timeout scan failed", zap.Error(err))
		return
	}
	for _, o := range stale {
		_, err := s.Machine.Apply(ctx, o.ID, o.Version, orders.EvPaymentTimeout, "pending payment window elapsed")
		switch {
		case errors.Is(err, orders.ErrStaleVersion), errors.Is(err, orders.ErrIllegalTransition):
			// A webhook got there between our read and our write. Its outcome stands.
			continue
		case err != nil:
			s.Log.Error("timeout transition failed", zap.String("order_id", o.ID), zap.Error(err))
		default:
			s.Metrics.OrdersTimedOut.Inc()
			s.Log.Info("order cancelled on payment timeout", zap.String("order_id", o.ID))
		}
	}
}
