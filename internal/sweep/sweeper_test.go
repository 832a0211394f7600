package sweep_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecomstack/checkout-core/internal/inventory"
	"github.com/ecomstack/checkout-core/internal/memory"
	"github.com/ecomstack/checkout-core/internal/metrics"
	"github.com/ecomstack/checkout-core/internal/orders"
	"github.com/ecomstack/checkout-core/internal/sweep"
)

type sweepFixture struct {
	store   *memory.OrderStore
	ledger  *memory.Ledger
	machine *orders.Machine
	sweeper *sweep.Sweeper
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	f := &sweepFixture{
		store:  memory.NewOrderStore(),
		ledger: memory.NewLedger(),
	}
	f.machine = &orders.Machine{
		Store:   f.store,
		Ledger:  f.ledger,
		Coupons: memory.NewCouponStore(),
		Notify:  &memory.NotifyRecorder{},
		Log:     zap.NewNop(),
	}
	f.sweeper = &sweep.Sweeper{
		Ledger:  f.ledger,
		Orders:  f.store,
		Machine: f.machine,
		Window:  30 * time.Minute,
		Metrics: metrics.New(prometheus.NewRegistry()),
		Log:     zap.NewNop(),
	}
	return f
}

func (f *sweepFixture) pendingOrder(t *testing.T, id string, ttl time.Duration) *orders.Order {
	t.Helper()
	ctx := context.Background()
	res, err := f.ledger.Reserve(ctx, id, []inventory.Item{{ProductID: "p1", Qty: 2}}, ttl)
	require.NoError(t, err)
	o := &orders.Order{
		ID:            id,
		CustomerID:    "cust-1",
		State:         orders.StateDraft,
		ReservationID: res.ID,
		Items:         []orders.LineItem{{ProductID: "p1", Qty: 2, UnitPriceCents: 1000}},
		TotalCents:    2000,
	}
	require.NoError(t, f.store.Create(ctx, o))
	_, err = f.machine.Apply(ctx, id, 1, orders.EvCheckoutConfirmed, "checkout confirmed")
	require.NoError(t, err)
	o.Version = 2
	return o
}

func TestSweepReservationsReleasesExpiredOnly(t *testing.T) {
	f := newSweepFixture(t)
	f.ledger.SetStock("p1", 10)
	expired := f.pendingOrder(t, "ord-old", -time.Minute)
	live := f.pendingOrder(t, "ord-new", time.Hour)

	f.sweeper.SweepReservations(context.Background())

	st, _ := f.ledger.ReservationStatus(expired.ReservationID)
	assert.Equal(t, inventory.StatusReleased, st)
	st, _ = f.ledger.ReservationStatus(live.ReservationID)
	assert.Equal(t, inventory.StatusHeld, st)

	avail, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 8, avail)
	assert.Equal(t, 2, reserved)
}

func TestSweepPaymentTimeoutsCancelsStaleOrders(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	f.ledger.SetStock("p1", 10)
	old := f.pendingOrder(t, "ord-old", time.Hour)
	fresh := f.pendingOrder(t, "ord-new", time.Hour)
	f.store.Backdate(old.ID, time.Now().UTC().Add(-time.Hour))

	f.sweeper.SweepPaymentTimeouts(ctx)

	got, err := f.store.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateCancelled, got.State)
	st, _ := f.ledger.ReservationStatus(old.ReservationID)
	assert.Equal(t, inventory.StatusReleased, st)

	got, err = f.store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatePendingPayment, got.State, "orders inside the window are untouched")

	avail, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 8, avail)
	assert.Equal(t, 2, reserved)
}

func TestSweepSkipsOrdersAWebhookJustWon(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	f.ledger.SetStock("p1", 10)
	o := f.pendingOrder(t, "ord-1", time.Hour)
	f.store.Backdate(o.ID, time.Now().UTC().Add(-time.Hour))

	// Payment lands between the sweeper's scan and its write.
	_, err := f.machine.Apply(ctx, o.ID, o.Version, orders.EvPaymentSucceeded, "webhook")
	require.NoError(t, err)
	f.store.Backdate(o.ID, time.Now().UTC().Add(-time.Hour))

	f.sweeper.SweepPaymentTimeouts(ctx)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatePaid, got.State, "the webhook outcome stands")
	st, _ := f.ledger.ReservationStatus(o.ReservationID)
	assert.Equal(t, inventory.StatusCommitted, st)
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newSweepFixture(t)
	ctx := context.Background()
	f.ledger.SetStock("p1", 10)
	o := f.pendingOrder(t, "ord-1", -time.Minute)
	f.store.Backdate(o.ID, time.Now().UTC().Add(-time.Hour))

	for i := 0; i < 3; i++ {
		f.sweeper.SweepReservations(ctx)
		f.sweeper.SweepPaymentTimeouts(ctx)
	}

	avail, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 10, avail, "stock released exactly once")
	assert.Equal(t, 0, reserved)
	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateCancelled, got.State)
}
