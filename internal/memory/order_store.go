package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ecomstack/checkout-core/internal/orders"
)

// OrderStore is the in-memory orders.Store.
type OrderStore struct {
	mu      sync.Mutex
	byID    map[string]*orders.Order
	history map[string][]orders.HistoryEntry
}

var _ orders.Store = (*OrderStore)(nil)

func NewOrderStore() *OrderStore {
	return &OrderStore{
		byID:    map[string]*orders.Order{},
		history: map[string][]orders.HistoryEntry{},
	}
}

func clone(o *orders.Order) *orders.Order {
	c := *o
	c.Items = append([]orders.LineItem(nil), o.Items...)
	return &c
}

func (s *OrderStore) Create(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	o.Version = 1
	o.CreatedAt = now
	o.UpdatedAt = now
	s.byID[o.ID] = clone(o)
	s.history[o.ID] = append(s.history[o.ID], orders.HistoryEntry{
		OrderID: o.ID, State: o.State, Comment: "order created", CreatedAt: now,
	})
	return nil
}

func (s *OrderStore) Get(_ context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return clone(o), nil
}

func (s *OrderStore) GetByPaymentRef(_ context.Context, ref string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.byID {
		if o.PaymentRef == ref {
			return clone(o), nil
		}
	}
	return nil, orders.ErrNotFound
}

func (s *OrderStore) ApplyTransition(_ context.Context, orderID string, expectedVersion int64, to orders.State, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	if o.Version != expectedVersion {
		return orders.ErrStaleVersion
	}
	o.State = to
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	s.history[orderID] = append(s.history[orderID], orders.HistoryEntry{
		OrderID: orderID, State: to, Comment: comment, CreatedAt: o.UpdatedAt,
	})
	return nil
}

func (s *OrderStore) SetPaymentRef(_ context.Context, orderID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byID[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	o.PaymentRef = ref
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *OrderStore) PendingPaymentBefore(_ context.Context, cutoff time.Time, limit int) ([]*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*orders.Order
	for _, o := range s.byID {
		if o.State == orders.StatePendingPayment && o.UpdatedAt.Before(cutoff) {
			out = append(out, clone(o))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *OrderStore) History(_ context.Context, orderID string) ([]orders.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.HistoryEntry(nil), s.history[orderID]...), nil
}

// Backdate rewinds an order's updated_at so timeout-sweep tests can age it.
func (s *OrderStore) Backdate(orderID string, to time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.byID[orderID]; ok {
		o.UpdatedAt = to
	}
}
