package orders

import (
	"errors"
	"fmt"
)

type State string

const (
	StateDraft           State = "DRAFT"
	StatePendingPayment  State = "PENDING_PAYMENT"
	StatePaid            State = "PAID"
	StateFulfilled       State = "FULFILLED"
	StateCancelled       State = "CANCELLED"
	StatePaymentFailed   State = "PAYMENT_FAILED"
	StateReturnRequested State = "RETURN_REQUESTED"
	StateRefunded        State = "REFUNDED"
)

// Event is the external stimulus driving a lifecycle transition.
type Event string

const (
	EvCheckoutConfirmed    Event = "checkout_confirmed"
	EvPaymentSucceeded     Event = "payment_succeeded"
	EvPaymentFailed        Event = "payment_failed"
	EvPaymentTimeout       Event = "payment_timeout"
	EvCancelRequested      Event = "cancel_requested"
	EvFulfillmentConfirmed Event = "fulfillment_confirmed"
	EvReturnRequested      Event = "return_requested"
	EvRefundProcessed      Event = "refund_processed"
)

// Effect is a side effect the machine must run after a transition is
// durably recorded. All effects are idempotent at their target, so a crash
// between the state write and the effect is recoverable by replay.
type Effect int

const (
	EffectCommitReservation Effect = iota
	EffectReleaseReservation
	EffectRedeemCoupon
	EffectRestock
	EffectNotify
)

var (
	ErrNotFound          = errors.New("orders: not found")
	ErrStaleVersion      = errors.New("orders: stale version")
	ErrIllegalTransition = errors.New("orders: illegal transition")
)

type transition struct {
	to      State
	effects []Effect
}

// validNext is the full legality table. Anything absent here is rejected.
var validNext = map[State]map[Event]transition{
	StateDraft: {
		EvCheckoutConfirmed: {to: StatePendingPayment},
		EvCancelRequested:   {to: StateCancelled, effects: []Effect{EffectReleaseReservation}},
	},
	StatePendingPayment: {
		EvPaymentSucceeded: {to: StatePaid, effects: []Effect{EffectCommitReservation, EffectRedeemCoupon, EffectNotify}},
		EvPaymentFailed:    {to: StatePaymentFailed, effects: []Effect{EffectReleaseReservation}},
		EvPaymentTimeout:   {to: StateCancelled, effects: []Effect{EffectReleaseReservation, EffectNotify}},
		EvCancelRequested:  {to: StateCancelled, effects: []Effect{EffectReleaseReservation, EffectNotify}},
	},
	StatePaymentFailed: {
		EvCancelRequested: {to: StateCancelled, effects: []Effect{EffectNotify}},
		EvPaymentTimeout:  {to: StateCancelled, effects: []Effect{EffectNotify}},
	},
	StatePaid: {
		EvFulfillmentConfirmed: {to: StateFulfilled, effects: []Effect{EffectNotify}},
		// Stock was committed on payment, so cancelling a paid order puts it back.
		EvCancelRequested: {to: StateCancelled, effects: []Effect{EffectRestock, EffectNotify}},
	},
	StateFulfilled: {
		EvReturnRequested: {to: StateReturnRequested},
	},
	StateReturnRequested: {
		EvRefundProcessed: {to: StateRefunded, effects: []Effect{EffectRestock, EffectNotify}},
	},
	StateCancelled: {},
	StateRefunded:  {},
}

// Next is the pure transition function: no I/O, no mutation. The machine
// persists the result and runs the effects.
func Next(from State, ev Event) (State, []Effect, error) {
	t, ok := validNext[from][ev]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
	}
	return t.to, t.effects, nil
}

// Terminal reports whether no event can move the order out of s.
func Terminal(s State) bool {
	return len(validNext[s]) == 0
}
