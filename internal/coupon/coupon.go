package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

// Coupon rules are immutable; only UsedCount moves, and only when an order
// that applied the code reaches PAID.
type Coupon struct {
	Code             string
	Type             Type
	Value            int64 // percent for percentage, cents for fixed
	MinCartCents     int64
	MaxDiscountCents int64 // 0 = uncapped
	MaxUses          int   // 0 = unlimited
	PerUserLimit     int   // 0 = unlimited
	ValidFrom        time.Time
	ValidUntil       time.Time
	UsedCount        int
}

// Discount computes the discount for a cart subtotal. Pure; never mutates.
func (c *Coupon) Discount(cartCents int64) int64 {
	var d int64
	switch c.Type {
	case TypePercentage:
		d = cartCents * c.Value / 100
	case TypeFixed:
		d = c.Value
	}
	if c.MaxDiscountCents > 0 && d > c.MaxDiscountCents {
		d = c.MaxDiscountCents
	}
	if d > cartCents {
		d = cartCents
	}
	return d
}

type Reason string

const (
	ReasonUnknownCode         Reason = "UnknownCode"
	ReasonExpired             Reason = "ExpiredCoupon"
	ReasonMinimumNotMet       Reason = "MinimumNotMet"
	ReasonUsageLimitReached   Reason = "UsageLimitReached"
	ReasonPerUserLimitReached Reason = "PerUserLimitReached"
)

// Error carries the first failing check so callers can tell the customer
// exactly why the code was refused.
type Error struct {
	Code   string
	Reason Reason
}

func (e *Error) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason)
}

var ErrNotFound = errors.New("coupon: not found")

type DiscountResult struct {
	Code          string
	DiscountCents int64
}

type Store interface {
	Get(ctx context.Context, code string) (*Coupon, error)
	// CustomerUses counts redemptions of code by one customer.
	CustomerUses(ctx context.Context, code, customerID string) (int, error)
	// IncrementUsage records a redemption. Idempotent per (code, orderID).
	IncrementUsage(ctx context.Context, code, customerID, orderID string) error
}
