package orders

import "time"

type Order struct {
	ID              string
	CustomerID      string
	State           State
	Version         int64
	ReservationID   string
	CouponCode      string // empty when no coupon was applied
	Items           []LineItem
	SubtotalCents   int64
	DiscountCents   int64
	ShippingCents   int64
	TaxCents        int64
	TotalCents      int64
	ShippingAddress string
	BillingAddress  string
	PaymentRef      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LineItem carries the unit price snapshotted at draft time; later catalog
// price changes never touch an existing order.
type LineItem struct {
	ProductID      string
	Qty            int
	UnitPriceCents int64
	ProductName    string
	ProductSKU     string
}

// HistoryEntry is one row of the append-only per-order transition audit.
type HistoryEntry struct {
	OrderID   string
	State     State
	Comment   string
	CreatedAt time.Time
}
