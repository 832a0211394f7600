package orders

import (
	"context"
	"time"
)

// Store is the durable home of orders. Orders are never deleted; cancelled
// and refunded are terminal states, not tombstones.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByPaymentRef(ctx context.Context, ref string) (*Order, error)

	// ApplyTransition writes the new state and appends the history row in one
	// transaction, guarded by the version check: the update only lands when
	// the stored version equals expectedVersion, otherwise ErrStaleVersion.
	ApplyTransition(ctx context.Context, orderID string, expectedVersion int64, to State, comment string) error

	SetPaymentRef(ctx context.Context, orderID, ref string) error

	// PendingPaymentBefore lists orders still in PENDING_PAYMENT whose last
	// update is older than cutoff; input for the timeout sweep.
	PendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)

	History(ctx context.Context, orderID string) ([]HistoryEntry, error)
}
