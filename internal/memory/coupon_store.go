package memory

import (
	"context"
	"sync"

	"github.com/ecomstack/checkout-core/internal/coupon"
)

// CouponStore is the in-memory coupon.Store.
type CouponStore struct {
	mu          sync.Mutex
	coupons     map[string]*coupon.Coupon
	redemptions map[string]map[string]string // code -> orderID -> customerID
}

var _ coupon.Store = (*CouponStore)(nil)

func NewCouponStore() *CouponStore {
	return &CouponStore{
		coupons:     map[string]*coupon.Coupon{},
		redemptions: map[string]map[string]string{},
	}
}

func (s *CouponStore) Put(c *coupon.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.coupons[c.Code] = &cp
}

func (s *CouponStore) Get(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *CouponStore) CustomerUses(_ context.Context, code, customerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, cust := range s.redemptions[code] {
		if cust == customerID {
			n++
		}
	}
	return n, nil
}

func (s *CouponStore) IncrementUsage(_ context.Context, code, customerID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[code]
	if !ok {
		return coupon.ErrNotFound
	}
	if s.redemptions[code] == nil {
		s.redemptions[code] = map[string]string{}
	}
	if _, seen := s.redemptions[code][orderID]; seen {
		return nil // replay
	}
	s.redemptions[code][orderID] = customerID
	c.UsedCount++
	return nil
}
