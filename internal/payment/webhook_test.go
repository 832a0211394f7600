package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ecomstack/checkout-core/internal/inventory"
	"github.com/ecomstack/checkout-core/internal/memory"
	"github.com/ecomstack/checkout-core/internal/orders"
	"github.com/ecomstack/checkout-core/internal/payment"
)

const testSecret = "whsec-test"

type webhookFixture struct {
	store      *memory.OrderStore
	ledger     *memory.Ledger
	events     *memory.EventStore
	reconciler *payment.Reconciler
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	f := &webhookFixture{
		store:  memory.NewOrderStore(),
		ledger: memory.NewLedger(),
		events: memory.NewEventStore(),
	}
	machine := &orders.Machine{
		Store:   f.store,
		Ledger:  f.ledger,
		Coupons: memory.NewCouponStore(),
		Notify:  &memory.NotifyRecorder{},
		Log:     zap.NewNop(),
	}
	f.reconciler = &payment.Reconciler{
		Secret:     testSecret,
		Events:     f.events,
		Orders:     f.store,
		Machine:    machine,
		MaxRetries: 3,
		Log:        zap.NewNop(),
	}
	return f
}

// pendingOrder seeds stock, holds a reservation and parks an order in
// PENDING_PAYMENT, ready for a processor callback.
func (f *webhookFixture) pendingOrder(t *testing.T, id string) *orders.Order {
	t.Helper()
	ctx := context.Background()
	f.ledger.SetStock("p1", 10)
	res, err := f.ledger.Reserve(ctx, id, []inventory.Item{{ProductID: "p1", Qty: 3}}, time.Minute)
	require.NoError(t, err)

	o := &orders.Order{
		ID:            id,
		CustomerID:    "cust-1",
		State:         orders.StateDraft,
		ReservationID: res.ID,
		Items:         []orders.LineItem{{ProductID: "p1", Qty: 3, UnitPriceCents: 1000}},
		TotalCents:    3000,
		PaymentRef:    "tx-" + id,
	}
	require.NoError(t, f.store.Create(ctx, o))
	_, err = f.reconciler.Machine.Apply(ctx, id, 1, orders.EvCheckoutConfirmed, "checkout confirmed")
	require.NoError(t, err)
	return o
}

func signedBody(t *testing.T, p payment.WebhookPayload) (body []byte, sig string) {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return body, payment.Sign(testSecret, body)
}

func TestHandleRejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	body, _ := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: "ord-1", Status: "success"})

	_, err := f.reconciler.Handle(context.Background(), body, "deadbeef")
	assert.ErrorIs(t, err, payment.ErrSignatureInvalid)

	_, err = f.reconciler.Handle(context.Background(), body, "")
	assert.ErrorIs(t, err, payment.ErrSignatureInvalid)
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	raw := []byte(`{"event_id": 42}`)
	_, err := f.reconciler.Handle(ctx, raw, payment.Sign(testSecret, raw))
	assert.ErrorIs(t, err, payment.ErrMalformedPayload)

	// Well-formed JSON but no way to locate the order.
	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", Status: "success"})
	_, err = f.reconciler.Handle(ctx, body, sig)
	assert.ErrorIs(t, err, payment.ErrMalformedPayload)
}

func TestHandleUnknownOrder(t *testing.T) {
	f := newWebhookFixture(t)
	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: "ghost", Status: "success"})

	_, err := f.reconciler.Handle(context.Background(), body, sig)
	assert.ErrorIs(t, err, payment.ErrUnknownOrder)
}

func TestHandleSuccessCommitsAndMarksProcessed(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "ord-1")

	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: o.ID, Status: "success"})
	ack, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, o.ID, ack.OrderID)
	assert.False(t, ack.Duplicate)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatePaid, got.State)

	st, _ := f.ledger.ReservationStatus(o.ReservationID)
	assert.Equal(t, inventory.StatusCommitted, st)

	stored, err := f.events.Get(ctx, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Processed)
}

func TestHandleResolvesOrderByTxRef(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "ord-1")

	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", TxRef: o.PaymentRef, Status: "success"})
	ack, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, o.ID, ack.OrderID)
}

func TestHandleDuplicateEventTransitionsOnce(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "ord-1")

	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: o.ID, Status: "success"})
	_, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)

	first, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)

	ack, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.True(t, ack.Duplicate)

	second, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version, "replay must not move the order")
	assert.Equal(t, orders.StatePaid, second.State)

	evs, err := f.events.ByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestHandleFinishesHalfProcessedDuplicate(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "ord-1")

	// Simulate a crash after recording but before the transition landed.
	inserted, err := f.events.Record(ctx, payment.Event{EventID: "ev-1", OrderID: o.ID, Type: "success"})
	require.NoError(t, err)
	require.True(t, inserted)

	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: o.ID, Status: "success"})
	ack, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.True(t, ack.Duplicate)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatePaid, got.State)

	stored, err := f.events.Get(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
}

func TestHandleFailureReleasesStock(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "ord-1")

	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: o.ID, Status: "failed"})
	_, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatePaymentFailed, got.State)

	avail, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)
}

func TestHandleReversalOnFulfilledRefunds(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "ord-1")

	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: o.ID, Status: "success"})
	_, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	_, err = f.reconciler.Machine.Apply(ctx, o.ID, 3, orders.EvFulfillmentConfirmed, "shipped")
	require.NoError(t, err)

	body, sig = signedBody(t, payment.WebhookPayload{EventID: "ev-2", OrderID: o.ID, Status: "reversal"})
	ack, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.False(t, ack.Duplicate)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateRefunded, got.State)

	avail, _ := f.ledger.Stock("p1")
	assert.Equal(t, 10, avail, "refund restocks the committed units")
}

// flakyLedger fails the first n Commit calls, standing in for a ledger that
// dropped out between the state write and the effect.
type flakyLedger struct {
	*memory.Ledger
	failCommits int
}

func (l *flakyLedger) Commit(ctx context.Context, reservationID string) error {
	if l.failCommits > 0 {
		l.failCommits--
		return errors.New("ledger unavailable")
	}
	return l.Ledger.Commit(ctx, reservationID)
}

func TestHandleRedeliveryReplaysLostEffects(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "ord-1")
	f.reconciler.Machine.Ledger = &flakyLedger{Ledger: f.ledger, failCommits: 1}

	// First delivery: the transition lands, the commit effect dies, the
	// processor gets an error and will redeliver.
	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: o.ID, Status: "success"})
	_, err := f.reconciler.Handle(ctx, body, sig)
	require.Error(t, err)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, orders.StatePaid, got.State)
	st, _ := f.ledger.ReservationStatus(o.ReservationID)
	require.Equal(t, inventory.StatusHeld, st, "commit effect was lost")
	stored, err := f.events.Get(ctx, "ev-1")
	require.NoError(t, err)
	require.False(t, stored.Processed)

	// Redelivery finds the order already in PAID and re-runs the effects
	// instead of writing the delivery off as a mismatch.
	ack, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.True(t, ack.Duplicate)

	st, _ = f.ledger.ReservationStatus(o.ReservationID)
	assert.Equal(t, inventory.StatusCommitted, st)
	avail, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 7, avail)
	assert.Equal(t, 0, reserved)
	stored, err = f.events.Get(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, stored.Processed)

	// The paid-for units are committed, so the expiry sweep has nothing to
	// release and cannot resell them.
	n, err := f.ledger.ExpireStale(ctx, time.Now().UTC().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
	avail, _ = f.ledger.Stock("p1")
	assert.Equal(t, 7, avail)
}

func TestHandleReversalOnPaidCancelsAndRestocks(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "ord-1")

	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: o.ID, Status: "success"})
	_, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)

	// Chargeback before fulfilment: the order cancels and the sold units
	// come back to available.
	body, sig = signedBody(t, payment.WebhookPayload{EventID: "ev-2", OrderID: o.ID, Status: "reversal"})
	ack, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.False(t, ack.Duplicate)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateCancelled, got.State)

	avail, reserved := f.ledger.Stock("p1")
	assert.Equal(t, 10, avail)
	assert.Equal(t, 0, reserved)
	st, _ := f.ledger.ReservationStatus(o.ReservationID)
	assert.Equal(t, inventory.StatusRestocked, st)

	stored, err := f.events.Get(ctx, "ev-2")
	require.NoError(t, err)
	assert.True(t, stored.Processed)
}

// staleStore fails the first n ApplyTransition calls, standing in for a
// racing writer bumping the version between read and write.
type staleStore struct {
	orders.Store
	stale int
}

func (s *staleStore) ApplyTransition(ctx context.Context, orderID string, expectedVersion int64, to orders.State, comment string) error {
	if s.stale > 0 {
		s.stale--
		return orders.ErrStaleVersion
	}
	return s.Store.ApplyTransition(ctx, orderID, expectedVersion, to, comment)
}

func TestHandleRetriesStaleVersion(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "ord-1")

	wrapped := &staleStore{Store: f.store, stale: 1}
	f.reconciler.Orders = wrapped
	f.reconciler.Machine.Store = wrapped

	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: o.ID, Status: "success"})
	ack, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.False(t, ack.Duplicate)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatePaid, got.State)
}

func TestHandleGivesUpAfterBoundedRetries(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "ord-1")

	wrapped := &staleStore{Store: f.store, stale: 100}
	f.reconciler.Orders = wrapped
	f.reconciler.Machine.Store = wrapped

	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: o.ID, Status: "success"})
	_, err := f.reconciler.Handle(ctx, body, sig)
	assert.ErrorIs(t, err, payment.ErrReconciliationConflict)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatePendingPayment, got.State)
}

func TestHandleAcksImpossibleEvent(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	o := f.pendingOrder(t, "ord-1")

	// Timeout sweep wins the race; the late success webhook cannot apply.
	_, err := f.reconciler.Machine.Apply(ctx, o.ID, 2, orders.EvPaymentTimeout, "payment window elapsed")
	require.NoError(t, err)

	body, sig := signedBody(t, payment.WebhookPayload{EventID: "ev-1", OrderID: o.ID, Status: "success"})
	ack, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err, "permanent mismatches are acked so the processor stops retrying")
	assert.False(t, ack.Duplicate)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateCancelled, got.State)

	stored, err := f.events.Get(ctx, "ev-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Processed)
}
