package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusHeld      Status = "HELD"
	StatusCommitted Status = "COMMITTED"
	StatusReleased  Status = "RELEASED"
	StatusRestocked Status = "RESTOCKED"
)

type Item struct {
	ProductID string
	Qty       int
}

// Reservation is a time-bounded hold on stock tied to one checkout.
type Reservation struct {
	ID        string
	OrderID   string
	Items     []Item
	Status    Status
	ExpiresAt time.Time
}

type StockRecord struct {
	ID        string
	SKU       string
	Name      string
	Available int
	Reserved  int
}

var (
	ErrNotFound = errors.New("inventory: reservation not found")
	// ErrLedgerCorrupt signals a computed negative quantity. The operation
	// aborts instead of clamping; this is an internal-consistency alert.
	ErrLedgerCorrupt = errors.New("inventory: ledger corrupt")
)

type ShortageDetail struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// InsufficientStockError reports every shortfall in the rejected request so
// the client can fix the whole cart in one pass.
type InsufficientStockError struct {
	Details []ShortageDetail
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, fmt.Sprintf("%s need %d have %d", d.ProductID, d.Required, d.Available))
	}
	return "inventory: insufficient stock: " + strings.Join(parts, ", ")
}

// Ledger owns stock records; available and reserved are mutated only here.
//
// Reserve is all-or-nothing across every item in the request. Commit and
// Release are idempotent: repeating either is a no-op, and whichever of
// Commit, Release and the expiry sweep reaches a HELD reservation first
// decides its fate while the losers observe a no-op.
type Ledger interface {
	Reserve(ctx context.Context, orderID string, items []Item, ttl time.Duration) (*Reservation, error)
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	// Restock returns a COMMITTED reservation's quantities to available,
	// used when refunded or cancelled-after-payment stock comes back.
	// Idempotent under the same status gate as Commit and Release.
	Restock(ctx context.Context, reservationID string) error
}
