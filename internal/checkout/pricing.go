package checkout

import "context"

// PricingPolicy quotes shipping and tax for a discounted subtotal. The real
// pricing service lives elsewhere; the builder only composes its answer.
type PricingPolicy interface {
	Quote(ctx context.Context, discountedSubtotalCents int64, shippingAddress string) (shippingCents, taxCents int64, err error)
}

// FlatPricing is the default policy: flat-rate shipping plus a basis-point
// tax on the discounted subtotal.
type FlatPricing struct {
	ShippingCents  int64
	TaxBasisPoints int64
}

func (p FlatPricing) Quote(_ context.Context, subtotal int64, _ string) (int64, int64, error) {
	tax := subtotal * p.TaxBasisPoints / 10000
	return p.ShippingCents, tax, nil
}
