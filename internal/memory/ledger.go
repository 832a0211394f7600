// Package memory holds in-memory implementations of the storage interfaces.
// They mirror the Postgres semantics closely enough to back the test suite
// and local development without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecomstack/checkout-core/internal/inventory"
)

type stockRec struct {
	available int
	reserved  int
}

type resRec struct {
	orderID   string
	items     []inventory.Item
	status    inventory.Status
	expiresAt time.Time
}

// Ledger is the in-memory inventory.Ledger. A single mutex stands in for the
// database transaction boundary; items are still walked in sorted order so
// shortage reporting matches the Postgres implementation.
type Ledger struct {
	mu           sync.Mutex
	stock        map[string]*stockRec
	reservations map[string]*resRec
}

var _ inventory.Ledger = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		stock:        map[string]*stockRec{},
		reservations: map[string]*resRec{},
	}
}

// SetStock seeds a stock record.
func (l *Ledger) SetStock(productID string, available int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stock[productID] = &stockRec{available: available}
}

// Stock reports (available, reserved) for a product.
func (l *Ledger) Stock(productID string) (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stock[productID]
	if !ok {
		return 0, 0
	}
	return s.available, s.reserved
}

func (l *Ledger) Reserve(_ context.Context, orderID string, items []inventory.Item, ttl time.Duration) (*inventory.Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sorted := make([]inventory.Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	var shortages []inventory.ShortageDetail
	for _, it := range sorted {
		s, ok := l.stock[it.ProductID]
		available := 0
		if ok {
			available = s.available
		}
		if available < it.Qty {
			shortages = append(shortages, inventory.ShortageDetail{
				ProductID: it.ProductID, Required: it.Qty, Available: available,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, &inventory.InsufficientStockError{Details: shortages}
	}

	for _, it := range sorted {
		s := l.stock[it.ProductID]
		s.available -= it.Qty
		s.reserved += it.Qty
		if s.available < 0 || s.reserved < 0 {
			return nil, inventory.ErrLedgerCorrupt
		}
	}

	res := &inventory.Reservation{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Items:     sorted,
		Status:    inventory.StatusHeld,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	l.reservations[res.ID] = &resRec{
		orderID:   orderID,
		items:     sorted,
		status:    inventory.StatusHeld,
		expiresAt: res.ExpiresAt,
	}
	return res, nil
}

func (l *Ledger) Commit(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.settleLocked(reservationID, inventory.StatusCommitted)
	return err
}

func (l *Ledger) Release(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.settleLocked(reservationID, inventory.StatusReleased)
	return err
}

func (l *Ledger) settleLocked(reservationID string, target inventory.Status) (bool, error) {
	r, ok := l.reservations[reservationID]
	if !ok {
		return false, inventory.ErrNotFound
	}
	if r.status != inventory.StatusHeld {
		return false, nil // already settled
	}
	for _, it := range r.items {
		s := l.stock[it.ProductID]
		s.reserved -= it.Qty
		if target == inventory.StatusReleased {
			s.available += it.Qty
		}
		if s.available < 0 || s.reserved < 0 {
			return false, inventory.ErrLedgerCorrupt
		}
	}
	r.status = target
	return true, nil
}

func (l *Ledger) ExpireStale(_ context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	released := 0
	for id, r := range l.reservations {
		if r.status == inventory.StatusHeld && !r.expiresAt.After(now) {
			acted, err := l.settleLocked(id, inventory.StatusReleased)
			if err != nil {
				return released, err
			}
			if acted {
				released++
			}
		}
	}
	return released, nil
}

func (l *Ledger) Restock(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reservations[reservationID]
	if !ok {
		return inventory.ErrNotFound
	}
	if r.status != inventory.StatusCommitted {
		return nil // not sold, or already restocked
	}
	for _, it := range r.items {
		l.stock[it.ProductID].available += it.Qty
	}
	r.status = inventory.StatusRestocked
	return nil
}

// ReservationStatus exposes the current status for assertions.
func (l *Ledger) ReservationStatus(id string) (inventory.Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reservations[id]
	if !ok {
		return "", false
	}
	return r.status, true
}
