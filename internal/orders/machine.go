package orders

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// InventoryOps is the slice of the ledger the machine drives as transition
// side effects. All three calls are idempotent per reservation: each is
// gated on the reservation's status row, so a replayed effect is a no-op.
type InventoryOps interface {
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
	Restock(ctx context.Context, reservationID string) error
}

// CouponRedeemer burns one use of a coupon. Must be idempotent per order id:
// the machine may replay the effect after a crash or a duplicate delivery.
type CouponRedeemer interface {
	IncrementUsage(ctx context.Context, code, customerID, orderID string) error
}

// Notifier fans transitions out to the notification and search collaborators.
// Fire-and-forget: delivery failure never blocks or rolls back a transition.
type Notifier interface {
	OrderEvent(ctx context.Context, o *Order, ev Event)
	StockChanged(ctx context.Context, orderID, change string, items []StockChangeItem)
}

// Machine owns lifecycle transitions: it validates them against the legality
// table, persists them under the optimistic version check, then runs the
// declared effects. Effects run after the state is durable and are idempotent
// at their targets, so replaying a half-finished transition converges.
type Machine struct {
	Store   Store
	Ledger  InventoryOps
	Coupons CouponRedeemer
	Notify  Notifier
	Log     *zap.Logger
}

// Apply drives one transition. expectedVersion is the version the caller
// read; if another writer got in between, ErrStaleVersion comes back and the
// caller re-reads and retries.
func (m *Machine) Apply(ctx context.Context, orderID string, expectedVersion int64, ev Event, comment string) (*Order, error) {
	o, err := m.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Version != expectedVersion {
		return nil, ErrStaleVersion
	}

	next, effects, err := Next(o.State, ev)
	if err != nil {
		return nil, err
	}

	if err := m.Store.ApplyTransition(ctx, orderID, expectedVersion, next, comment); err != nil {
		return nil, err
	}
	o.State = next
	o.Version = expectedVersion + 1
	m.Log.Info("order transitioned",
		zap.String("order_id", o.ID),
		zap.String("event", string(ev)),
		zap.String("state", string(next)),
		zap.Int64("version", o.Version))

	if err := m.runEffects(ctx, o, ev, effects); err != nil {
		return o, err
	}
	return o, nil
}

// Replay re-runs the effects of a transition whose state write already
// landed. This is the crash/redelivery path: a delivery that applied ev and
// then died mid-effects comes back as an "illegal" transition from the new
// state, so the caller hands the event here instead. Replay checks the
// history that the order really did just move under ev before re-running
// the effects; they are idempotent at their targets, so repeats converge.
func (m *Machine) Replay(ctx context.Context, orderID string, ev Event) (*Order, error) {
	o, err := m.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	hist, err := m.Store.History(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(hist) < 2 || hist[len(hist)-1].State != o.State {
		return nil, fmt.Errorf("%w: %s not reached by %s", ErrIllegalTransition, o.State, ev)
	}
	prev := hist[len(hist)-2].State
	next, effects, err := Next(prev, ev)
	if err != nil || next != o.State {
		return nil, fmt.Errorf("%w: %s not reached from %s by %s", ErrIllegalTransition, o.State, prev, ev)
	}

	m.Log.Info("replaying transition effects",
		zap.String("order_id", o.ID),
		zap.String("event", string(ev)),
		zap.String("state", string(o.State)))
	if err := m.runEffects(ctx, o, ev, effects); err != nil {
		return o, err
	}
	return o, nil
}

func (m *Machine) runEffects(ctx context.Context, o *Order, ev Event, effects []Effect) error {
	for _, ef := range effects {
		switch ef {
		case EffectCommitReservation:
			if err := m.Ledger.Commit(ctx, o.ReservationID); err != nil {
				return fmt.Errorf("commit reservation %s: %w", o.ReservationID, err)
			}
			m.Notify.StockChanged(ctx, o.ID, "committed", stockItems(o))
		case EffectReleaseReservation:
			if err := m.Ledger.Release(ctx, o.ReservationID); err != nil {
				return fmt.Errorf("release reservation %s: %w", o.ReservationID, err)
			}
			m.Notify.StockChanged(ctx, o.ID, "released", stockItems(o))
		case EffectRedeemCoupon:
			if o.CouponCode == "" {
				continue
			}
			if err := m.Coupons.IncrementUsage(ctx, o.CouponCode, o.CustomerID, o.ID); err != nil {
				return fmt.Errorf("redeem coupon %s: %w", o.CouponCode, err)
			}
		case EffectRestock:
			if err := m.Ledger.Restock(ctx, o.ReservationID); err != nil {
				return fmt.Errorf("restock reservation %s: %w", o.ReservationID, err)
			}
			m.Notify.StockChanged(ctx, o.ID, "restocked", stockItems(o))
		case EffectNotify:
			m.Notify.OrderEvent(ctx, o, ev)
		}
	}
	return nil
}

func stockItems(o *Order) []StockChangeItem {
	out := make([]StockChangeItem, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, StockChangeItem{ProductID: it.ProductID, Qty: it.Qty})
	}
	return out
}
