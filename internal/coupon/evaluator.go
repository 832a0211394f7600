package coupon

import (
	"context"
	"errors"
	"time"
)

// Evaluator validates a coupon against a cart snapshot. Evaluation is pure
// pricing: usage counters move only when the order state machine confirms a
// paid order, so abandoned checkouts never consume a limited-use code.
type Evaluator struct {
	Store Store
	Now   func() time.Time
}

func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// Evaluate runs the checks in fixed order and reports the first failure:
// code exists -> validity window -> minimum cart value -> global usage ->
// per-customer usage.
func (e *Evaluator) Evaluate(ctx context.Context, cartCents int64, code, customerID string) (*DiscountResult, error) {
	c, err := e.Store.Get(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil, &Error{Code: code, Reason: ReasonUnknownCode}
	}
	if err != nil {
		return nil, err
	}

	now := e.Now()
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return nil, &Error{Code: code, Reason: ReasonExpired}
	}
	if cartCents < c.MinCartCents {
		return nil, &Error{Code: code, Reason: ReasonMinimumNotMet}
	}
	if c.MaxUses > 0 && c.UsedCount >= c.MaxUses {
		return nil, &Error{Code: code, Reason: ReasonUsageLimitReached}
	}
	if c.PerUserLimit > 0 {
		uses, err := e.Store.CustomerUses(ctx, code, customerID)
		if err != nil {
			return nil, err
		}
		if uses >= c.PerUserLimit {
			return nil, &Error{Code: code, Reason: ReasonPerUserLimitReached}
		}
	}

	return &DiscountResult{Code: code, DiscountCents: c.Discount(cartCents)}, nil
}
