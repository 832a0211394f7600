package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ecomstack/checkout-core/internal/orders"
	"github.com/ecomstack/checkout-core/internal/redisx"
)

var (
	ErrSignatureInvalid       = errors.New("payment: invalid signature")
	ErrMalformedPayload       = errors.New("payment: malformed payload")
	ErrUnknownOrder           = errors.New("payment: order not found for event")
	ErrReconciliationConflict = errors.New("payment: reconciliation conflict")
)

// WebhookPayload is the processor's callback body.
type WebhookPayload struct {
	EventID     string `json:"event_id"`
	TxRef       string `json:"tx_ref"`
	OrderID     string `json:"order_id"`
	Status      string `json:"status"` // success | failed | reversal
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// Ack is the result of an accepted delivery.
type Ack struct {
	OrderID   string
	Duplicate bool
}

// Reconciler consumes processor webhooks idempotently and drives the order
// state machine. Duplicated and out-of-order deliveries are the normal case,
// not the exception: the payment_events table dedups by event id, and the
// version check on the machine serialises racing deliveries.
type Reconciler struct {
	Secret     string
	Events     EventStore
	Orders     orders.Store
	Machine    *orders.Machine
	Redis      *redis.Client // optional fast-path dedup; DB stays authoritative
	MaxRetries int           // re-read attempts on a stale version
	Log        *zap.Logger
}

func (r *Reconciler) Handle(ctx context.Context, raw []byte, signature string) (*Ack, error) {
	if !VerifySignature(r.Secret, raw, signature) {
		return nil, ErrSignatureInvalid
	}

	var p WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.EventID == "" || p.Status == "" || (p.OrderID == "" && p.TxRef == "") {
		return nil, ErrMalformedPayload
	}

	dkey := fmt.Sprintf(redisx.KeyWebhookDedup, p.EventID)
	if r.Redis != nil {
		if seen, _ := redisx.Exists(ctx, r.Redis, dkey); seen {
			return &Ack{OrderID: p.OrderID, Duplicate: true}, nil
		}
	}

	o, err := r.findOrder(ctx, p)
	if err != nil {
		return nil, err
	}

	inserted, err := r.Events.Record(ctx, Event{
		EventID:      p.EventID,
		OrderID:      o.ID,
		Type:         p.Status,
		RawSignature: signature,
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		// The processor retried a delivery we already own. If the earlier
		// attempt crashed between recording and transitioning, finish the
		// job now; either way ack so the retries stop.
		stored, err := r.Events.Get(ctx, p.EventID)
		if err != nil {
			return nil, err
		}
		if stored != nil && !stored.Processed {
			if err := r.process(ctx, o, p, dkey); err != nil {
				return nil, err
			}
		}
		r.markSeen(ctx, dkey)
		return &Ack{OrderID: o.ID, Duplicate: true}, nil
	}

	if err := r.process(ctx, o, p, dkey); err != nil {
		return nil, err
	}
	return &Ack{OrderID: o.ID}, nil
}

func (r *Reconciler) process(ctx context.Context, o *orders.Order, p WebhookPayload, dkey string) error {
	if err := r.reconcile(ctx, o, p.Status); err != nil {
		if !errors.Is(err, orders.ErrIllegalTransition) {
			return err
		}
		// The event doesn't apply from the order's current state. Before
		// calling that permanent, check whether an earlier delivery already
		// made this transition and died mid-effects: then the order sits in
		// the event's target state and the effects still need replaying.
		replayed, rerr := r.replay(ctx, o, p.Status)
		if rerr != nil {
			return rerr
		}
		if !replayed {
			// Permanent: the order cannot take this event (e.g. a success
			// webhook after the timeout sweep cancelled it). Retrying will
			// never help, so record, alert and ack.
			r.Log.Error("payment event cannot apply",
				zap.String("order_id", o.ID),
				zap.String("event_id", p.EventID),
				zap.String("status", p.Status),
				zap.Error(err))
		}
	}

	if err := r.Events.MarkProcessed(ctx, p.EventID); err != nil {
		r.Log.Warn("mark processed failed", zap.String("event_id", p.EventID), zap.Error(err))
	}
	r.markSeen(ctx, dkey)
	return nil
}

// replay retries the side effects of a transition this event already made.
// It offers the machine each event the status can map to; the machine checks
// the order's history before re-running anything, so a genuinely impossible
// event falls through with replayed=false.
func (r *Reconciler) replay(ctx context.Context, o *orders.Order, status string) (bool, error) {
	var candidates []orders.Event
	switch status {
	case "success":
		candidates = []orders.Event{orders.EvPaymentSucceeded}
	case "failed":
		candidates = []orders.Event{orders.EvPaymentFailed}
	case "reversal":
		candidates = []orders.Event{orders.EvRefundProcessed, orders.EvCancelRequested}
	}
	for _, ev := range candidates {
		if _, err := r.Machine.Replay(ctx, o.ID, ev); err != nil {
			if errors.Is(err, orders.ErrIllegalTransition) {
				continue
			}
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (r *Reconciler) findOrder(ctx context.Context, p WebhookPayload) (*orders.Order, error) {
	var (
		o   *orders.Order
		err error
	)
	if p.OrderID != "" {
		o, err = r.Orders.Get(ctx, p.OrderID)
	} else {
		o, err = r.Orders.GetByPaymentRef(ctx, p.TxRef)
	}
	if errors.Is(err, orders.ErrNotFound) {
		return nil, fmt.Errorf("%w: order_id=%q tx_ref=%q", ErrUnknownOrder, p.OrderID, p.TxRef)
	}
	return o, err
}

// reconcile applies the event with a bounded read-apply retry: if an expiry
// sweep or a racing delivery bumps the version between our read and our
// write, re-read and try again.
func (r *Reconciler) reconcile(ctx context.Context, o *orders.Order, status string) error {
	attempts := r.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			var err error
			if o, err = r.Orders.Get(ctx, o.ID); err != nil {
				return err
			}
		}
		lastErr = r.applyOnce(ctx, o, status)
		if !errors.Is(lastErr, orders.ErrStaleVersion) {
			return lastErr
		}
	}
	return fmt.Errorf("%w: order %s after %d attempts: %v", ErrReconciliationConflict, o.ID, attempts, lastErr)
}

func (r *Reconciler) applyOnce(ctx context.Context, o *orders.Order, status string) error {
	switch status {
	case "success":
		_, err := r.Machine.Apply(ctx, o.ID, o.Version, orders.EvPaymentSucceeded, "payment success webhook")
		return err
	case "failed":
		_, err := r.Machine.Apply(ctx, o.ID, o.Version, orders.EvPaymentFailed, "payment failure webhook")
		return err
	case "reversal":
		// A reversal before fulfilment (a chargeback on a paid order) cancels
		// it outright, which restocks. A reversal on a fulfilled order opens
		// the return first, then refunds.
		switch o.State {
		case orders.StatePaid:
			_, err := r.Machine.Apply(ctx, o.ID, o.Version, orders.EvCancelRequested, "reversal webhook")
			return err
		case orders.StateFulfilled:
			upd, err := r.Machine.Apply(ctx, o.ID, o.Version, orders.EvReturnRequested, "reversal webhook")
			if err != nil {
				return err
			}
			o = upd
		}
		_, err := r.Machine.Apply(ctx, o.ID, o.Version, orders.EvRefundProcessed, "reversal webhook")
		return err
	default:
		return fmt.Errorf("%w: status %q", ErrMalformedPayload, status)
	}
}

func (r *Reconciler) markSeen(ctx context.Context, key string) {
	if r.Redis == nil {
		return
	}
	_ = r.Redis.Set(ctx, key, "1", redisx.TTLDedup).Err()
}
