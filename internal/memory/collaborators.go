package memory

import (
	"context"
	"sync"

	"github.com/ecomstack/checkout-core/internal/catalog"
	"github.com/ecomstack/checkout-core/internal/checkout"
	"github.com/ecomstack/checkout-core/internal/orders"
	"github.com/ecomstack/checkout-core/internal/payment"
)

// CartStore is the in-memory checkout.CartStore.
type CartStore struct {
	mu    sync.Mutex
	carts map[string]*checkout.Cart
}

var _ checkout.CartStore = (*CartStore)(nil)

func NewCartStore() *CartStore {
	return &CartStore{carts: map[string]*checkout.Cart{}}
}

func (s *CartStore) Put(c *checkout.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Items = append([]checkout.CartItem(nil), c.Items...)
	s.carts[c.ID] = &cp
}

func (s *CartStore) Get(_ context.Context, id string) (*checkout.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[id]
	if !ok {
		return nil, checkout.ErrCartNotFound
	}
	cp := *c
	cp.Items = append([]checkout.CartItem(nil), c.Items...)
	return &cp, nil
}

// Catalog is the in-memory catalog.Catalog.
type Catalog struct {
	mu       sync.Mutex
	products map[string]catalog.Product
}

var _ catalog.Catalog = (*Catalog)(nil)

func NewCatalog() *Catalog {
	return &Catalog{products: map[string]catalog.Product{}}
}

func (c *Catalog) Put(p catalog.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *Catalog) Snapshot(_ context.Context, ids []string) (map[string]catalog.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]catalog.Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// EventStore is the in-memory payment.EventStore.
type EventStore struct {
	mu     sync.Mutex
	events map[string]*payment.Event
}

var _ payment.EventStore = (*EventStore)(nil)

func NewEventStore() *EventStore {
	return &EventStore{events: map[string]*payment.Event{}}
}

func (s *EventStore) Record(_ context.Context, ev payment.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ev.EventID]; ok {
		return false, nil
	}
	cp := ev
	s.events[ev.EventID] = &cp
	return true, nil
}

func (s *EventStore) Get(_ context.Context, eventID string) (*payment.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (s *EventStore) MarkProcessed(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.events[eventID]; ok {
		ev.Processed = true
	}
	return nil
}

func (s *EventStore) ByOrder(_ context.Context, orderID string) ([]payment.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Event
	for _, ev := range s.events {
		if ev.OrderID == orderID {
			out = append(out, *ev)
		}
	}
	return out, nil
}

// NotifyRecorder captures fan-out calls for assertions.
type NotifyRecorder struct {
	mu          sync.Mutex
	OrderEvents []orders.Event
	StockChange []string
}

var _ orders.Notifier = (*NotifyRecorder)(nil)

func (n *NotifyRecorder) OrderEvent(_ context.Context, _ *orders.Order, ev orders.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.OrderEvents = append(n.OrderEvents, ev)
}

func (n *NotifyRecorder) StockChanged(_ context.Context, _ string, change string, _ []orders.StockChangeItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.StockChange = append(n.StockChange, change)
}
