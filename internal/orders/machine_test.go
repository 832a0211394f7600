package orders_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecomstack/checkout-core/internal/coupon"
	"github.com/ecomstack/checkout-core/internal/inventory"
	"github.com/ecomstack/checkout-core/internal/memory"
	"github.com/ecomstack/checkout-core/internal/orders"
)

type fixture struct {
	store   *memory.OrderStore
	ledger  *memory.Ledger
	coupons *memory.CouponStore
	notify  *memory.NotifyRecorder
	machine *orders.Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewOrderStore(),
		ledger:  memory.NewLedger(),
		coupons: memory.NewCouponStore(),
		notify:  &memory.NotifyRecorder{},
	}
	f.machine = &orders.Machine{
		Store:   f.store,
		Ledger:  f.ledger,
		Coupons: f.coupons,
		Notify:  f.notify,
		Log:     zap.NewNop(),
	}
	return f
}

// pendingOrder creates an order in PENDING_PAYMENT holding a live reservation.
func (f *fixture) pendingOrder(t *testing.T, couponCode string) *orders.Order {
	t.Helper()
	ctx := context.Background()
	f.ledger.SetStock("p1", 10)
	res, err := f.ledger.Reserve(ctx, "ord-1", []inventory.Item{{ProductID: "p1", Qty: 3}}, time.Minute)
	require.NoError(t, err)

	o := &orders.Order{
		ID:            "ord-1",
		CustomerID:    "cust-1",
		State:         orders.StateDraft,
		ReservationID: res.ID,
		CouponCode:    couponCode,
		Items:         []orders.LineItem{{ProductID: "p1", Qty: 3, UnitPriceCents: 1000}},
		SubtotalCents: 3000,
		TotalCents:    3000,
	}
	require.NoError(t, f.store.Create(ctx, o))
	_, err = f.machine.Apply(ctx, o.ID, 1, orders.EvCheckoutConfirmed, "checkout confirmed")
	require.NoError(t, err)
	o.Version = 2
	return o
}

func TestMachinePaymentSuccessCommitsAndRedeems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coupons.Put(&coupon.Coupon{
		Code: "SAVE10", Type: coupon.TypePercentage, Value: 10,
		ValidFrom: time.Now().Add(-time.Hour), ValidUntil: time.Now().Add(time.Hour),
	})
	o := f.pendingOrder(t, "SAVE10")

	upd, err := f.machine.Apply(ctx, o.ID, o.Version, orders.EvPaymentSucceeded, "webhook")
	require.NoError(t, err)
	assert.Equal(t, orders.StatePaid, upd.State)
	assert.Equal(t, int64(3), upd.Version)

	// committed: reserved burned, available untouched beyond the reserve
	available, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 7, available)
	assert.Equal(t, 0, reserved)

	c, err := f.coupons.Get(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)

	assert.Contains(t, f.notify.OrderEvents, orders.EvPaymentSucceeded)
	assert.Contains(t, f.notify.StockChange, "committed")
}

func TestMachinePaymentFailureReleasesWithoutRedeeming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coupons.Put(&coupon.Coupon{
		Code: "SAVE10", Type: coupon.TypePercentage, Value: 10,
		ValidFrom: time.Now().Add(-time.Hour), ValidUntil: time.Now().Add(time.Hour),
	})
	o := f.pendingOrder(t, "SAVE10")

	upd, err := f.machine.Apply(ctx, o.ID, o.Version, orders.EvPaymentFailed, "webhook")
	require.NoError(t, err)
	assert.Equal(t, orders.StatePaymentFailed, upd.State)

	available, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 10, available)
	assert.Equal(t, 0, reserved)

	c, err := f.coupons.Get(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 0, c.UsedCount, "failed payment must not consume the coupon")
}

func TestMachineStaleVersionRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "")

	_, err := f.machine.Apply(ctx, o.ID, o.Version-1, orders.EvPaymentSucceeded, "stale reader")
	assert.ErrorIs(t, err, orders.ErrStaleVersion)

	cur, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatePendingPayment, cur.State)
	assert.Equal(t, o.Version, cur.Version)
}

func TestMachineIllegalTransitionLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "")

	_, err := f.machine.Apply(ctx, o.ID, o.Version, orders.EvRefundProcessed, "nonsense")
	assert.ErrorIs(t, err, orders.ErrIllegalTransition)

	cur, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatePendingPayment, cur.State)
	assert.Equal(t, o.Version, cur.Version)

	_, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 3, reserved, "no side effects on a rejected transition")
}

func TestMachineRefundRestocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "")

	for _, ev := range []orders.Event{
		orders.EvPaymentSucceeded, orders.EvFulfillmentConfirmed,
		orders.EvReturnRequested, orders.EvRefundProcessed,
	} {
		upd, err := f.machine.Apply(ctx, o.ID, o.Version, ev, string(ev))
		require.NoError(t, err)
		o = upd
	}
	assert.Equal(t, orders.StateRefunded, o.State)

	available, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 10, available, "refund restores the committed quantity")
	assert.Equal(t, 0, reserved)

	hist, err := f.store.History(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 6) // created + confirmed + 4 transitions
}

// faultyCommitLedger fails the first n Commit calls, standing in for a ledger
// that went away between the state write and the effect.
type faultyCommitLedger struct {
	*memory.Ledger
	failCommits int
}

func (l *faultyCommitLedger) Commit(ctx context.Context, reservationID string) error {
	if l.failCommits > 0 {
		l.failCommits--
		return errors.New("ledger unavailable")
	}
	return l.Ledger.Commit(ctx, reservationID)
}

func TestMachineReplayFinishesInterruptedEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.coupons.Put(&coupon.Coupon{
		Code: "SAVE10", Type: coupon.TypePercentage, Value: 10,
		ValidFrom: time.Now().Add(-time.Hour), ValidUntil: time.Now().Add(time.Hour),
	})
	o := f.pendingOrder(t, "SAVE10")
	f.machine.Ledger = &faultyCommitLedger{Ledger: f.ledger, failCommits: 1}

	// The state write lands, the commit effect dies.
	_, err := f.machine.Apply(ctx, o.ID, o.Version, orders.EvPaymentSucceeded, "webhook")
	require.Error(t, err)
	cur, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, orders.StatePaid, cur.State)
	st, _ := f.ledger.ReservationStatus(o.ReservationID)
	require.Equal(t, inventory.StatusHeld, st, "commit effect was lost")

	// Replay re-derives the effects from history and finishes the job.
	upd, err := f.machine.Replay(ctx, o.ID, orders.EvPaymentSucceeded)
	require.NoError(t, err)
	assert.Equal(t, orders.StatePaid, upd.State)

	available, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 7, available)
	assert.Equal(t, 0, reserved)
	c, err := f.coupons.Get(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)

	// Replaying again converges: every effect is a no-op the second time.
	_, err = f.machine.Replay(ctx, o.ID, orders.EvPaymentSucceeded)
	require.NoError(t, err)
	available, _ = f.ledger.Stock("p1")
	assert.Equal(t, 7, available)
	c, _ = f.coupons.Get(ctx, "SAVE10")
	assert.Equal(t, 1, c.UsedCount)
}

func TestMachineReplayRejectsEventNotInHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "")

	_, err := f.machine.Apply(ctx, o.ID, o.Version, orders.EvPaymentSucceeded, "webhook")
	require.NoError(t, err)

	// PAID was reached by a success, not a failure: no effects to re-run.
	_, err = f.machine.Replay(ctx, o.ID, orders.EvPaymentFailed)
	assert.ErrorIs(t, err, orders.ErrIllegalTransition)

	available, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 7, available)
	assert.Equal(t, 0, reserved)
}
