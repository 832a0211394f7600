package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ecomstack/checkout-core/internal/catalog"
	"github.com/ecomstack/checkout-core/internal/coupon"
	"github.com/ecomstack/checkout-core/internal/inventory"
	"github.com/ecomstack/checkout-core/internal/orders"
)

var (
	ErrEmptyCart      = errors.New("checkout: cart is empty")
	ErrInvalidQty     = errors.New("checkout: quantity must be positive")
	ErrUnknownProduct = errors.New("checkout: unknown product")
)

// Draft is a priced, validated, inventory-backed order proposal. The
// reservation referenced here is already HELD when BuildDraft returns.
type Draft struct {
	OrderID         string
	CustomerID      string
	Items           []orders.LineItem
	ReservationID   string
	ReservationExp  time.Time
	CouponCode      string
	SubtotalCents   int64
	DiscountCents   int64
	ShippingCents   int64
	TaxCents        int64
	TotalCents      int64
	ShippingAddress string
	BillingAddress  string
}

// Builder assembles drafts. Step order matters: everything that can fail
// cheaply runs before Reserve, so a failed checkout never leaves a hold
// behind, and the atomic Reserve is the last gate.
type Builder struct {
	Carts          CartStore
	Catalog        catalog.Catalog
	Coupons        *coupon.Evaluator
	Ledger         inventory.Ledger
	Pricing        PricingPolicy
	ReservationTTL time.Duration
}

func (b *Builder) BuildDraft(ctx context.Context, cartID, shippingAddr, billingAddr, couponCode string) (*Draft, error) {
	cart, err := b.Carts.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}
	ids := make([]string, 0, len(cart.Items))
	for _, it := range cart.Items {
		if it.Qty <= 0 {
			return nil, fmt.Errorf("%w: product %s qty %d", ErrInvalidQty, it.ProductID, it.Qty)
		}
		ids = append(ids, it.ProductID)
	}

	// Price snapshot at draft time; later catalog changes don't touch this order.
	products, err := b.Catalog.Snapshot(ctx, ids)
	if err != nil {
		return nil, err
	}

	var subtotal int64
	lines := make([]orders.LineItem, 0, len(cart.Items))
	resItems := make([]inventory.Item, 0, len(cart.Items))
	for _, it := range cart.Items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, it.ProductID)
		}
		lines = append(lines, orders.LineItem{
			ProductID:      it.ProductID,
			Qty:            it.Qty,
			UnitPriceCents: p.PriceCents,
			ProductName:    p.Name,
			ProductSKU:     p.SKU,
		})
		resItems = append(resItems, inventory.Item{ProductID: it.ProductID, Qty: it.Qty})
		subtotal += p.PriceCents * int64(it.Qty)
	}

	var discount int64
	if couponCode != "" {
		res, err := b.Coupons.Evaluate(ctx, subtotal, couponCode, cart.CustomerID)
		if err != nil {
			return nil, err
		}
		discount = res.DiscountCents
	}

	shipping, tax, err := b.Pricing.Quote(ctx, subtotal-discount, shippingAddr)
	if err != nil {
		return nil, err
	}

	orderID := uuid.NewString()
	res, err := b.Ledger.Reserve(ctx, orderID, resItems, b.ReservationTTL)
	if err != nil {
		return nil, err
	}

	if billingAddr == "" {
		billingAddr = shippingAddr
	}
	return &Draft{
		OrderID:         orderID,
		CustomerID:      cart.CustomerID,
		Items:           lines,
		ReservationID:   res.ID,
		ReservationExp:  res.ExpiresAt,
		CouponCode:      couponCode,
		SubtotalCents:   subtotal,
		DiscountCents:   discount,
		ShippingCents:   shipping,
		TaxCents:        tax,
		TotalCents:      subtotal - discount + shipping + tax,
		ShippingAddress: shippingAddr,
		BillingAddress:  billingAddr,
	}, nil
}

// Order materialises the draft as a DRAFT-state order row.
func (d *Draft) Order() *orders.Order {
	return &orders.Order{
		ID:              d.OrderID,
		CustomerID:      d.CustomerID,
		State:           orders.StateDraft,
		ReservationID:   d.ReservationID,
		CouponCode:      d.CouponCode,
		Items:           d.Items,
		SubtotalCents:   d.SubtotalCents,
		DiscountCents:   d.DiscountCents,
		ShippingCents:   d.ShippingCents,
		TaxCents:        d.TaxCents,
		TotalCents:      d.TotalCents,
		ShippingAddress: d.ShippingAddress,
		BillingAddress:  d.BillingAddress,
	}
}
