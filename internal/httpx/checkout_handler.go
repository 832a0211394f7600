package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ecomstack/checkout-core/internal/checkout"
	"github.com/ecomstack/checkout-core/internal/coupon"
	"github.com/ecomstack/checkout-core/internal/inventory"
	"github.com/ecomstack/checkout-core/internal/metrics"
	"github.com/ecomstack/checkout-core/internal/orders"
	"github.com/ecomstack/checkout-core/internal/payment"
	"github.com/ecomstack/checkout-core/internal/redisx"
)

type CheckoutHandler struct {
	Builder *checkout.Builder
	Orders  orders.Store
	Machine *orders.Machine
	Gateway *payment.Gateway
	Ledger  inventory.Ledger
	Redis   *redis.Client
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

type CheckoutReq struct {
	CartID          string `json:"cart_id"`
	ShippingAddress string `json:"shipping_address"`
	BillingAddress  string `json:"billing_address,omitempty"`
	CouponCode      string `json:"coupon_code,omitempty"`
}

type CheckoutResp struct {
	OrderID     string `json:"order_id"`
	State       string `json:"state"`
	TotalCents  int64  `json:"total_cents"`
	PaymentRef  string `json:"payment_ref"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	Idempotent  bool   `json:"idempotent,omitempty"`
}

type orderStatusResp struct {
	OrderID    string `json:"order_id"`
	State      string `json:"state"`
	Version    int64  `json:"version"`
	TotalCents int64  `json:"total_cents"`
	PaymentRef string `json:"payment_ref,omitempty"`
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.createCheckout)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.lifecycle(orders.EvCancelRequested, "cancel requested"))
	r.Post("/orders/{id}/fulfill", h.lifecycle(orders.EvFulfillmentConfirmed, "fulfillment confirmed"))
	r.Post("/orders/{id}/return", h.lifecycle(orders.EvReturnRequested, "return requested"))
}

func (h *CheckoutHandler) createCheckout(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.CartID == "" || req.ShippingAddress == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// Retried checkout for the same cart returns the order already made.
	idemKey := fmt.Sprintf(redisx.KeyIdemCheckout, req.CartID)
	if h.Redis != nil {
		if orderID, err := h.Redis.Get(ctx, idemKey).Result(); err == nil && orderID != "" {
			if o, err := h.Orders.Get(ctx, orderID); err == nil {
				writeJSON(w, http.StatusOK, CheckoutResp{
					OrderID: o.ID, State: string(o.State), TotalCents: o.TotalCents,
					PaymentRef: o.PaymentRef, Idempotent: true,
				})
				return
			}
		}
	}

	draft, err := h.Builder.BuildDraft(ctx, req.CartID, req.ShippingAddress, req.BillingAddress, req.CouponCode)
	if err != nil {
		h.Metrics.CheckoutTotal.WithLabelValues(metrics.ResultRejected).Inc()
		h.writeCheckoutError(w, err)
		return
	}

	o := draft.Order()
	if err := h.Orders.Create(ctx, o); err != nil {
		h.abandonDraft(ctx, draft)
		h.fail(w, "create order", err)
		return
	}
	if _, err := h.Machine.Apply(ctx, o.ID, o.Version, orders.EvCheckoutConfirmed, "checkout confirmed"); err != nil {
		h.abandonDraft(ctx, draft)
		h.fail(w, "confirm checkout", err)
		return
	}
	o.Version++

	handle, err := h.Gateway.Initiate(ctx, o)
	if err != nil {
		h.Metrics.PaymentInitiateTotal.WithLabelValues(metrics.ResultError).Inc()
		// Cancelling releases the hold through the machine's effects.
		if _, cErr := h.Machine.Apply(ctx, o.ID, o.Version, orders.EvCancelRequested, "payment initiation failed"); cErr != nil {
			h.Log.Error("cancel after failed initiate", zap.String("order_id", o.ID), zap.Error(cErr))
		}
		h.Metrics.CheckoutTotal.WithLabelValues(metrics.ResultError).Inc()
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment processor unavailable"})
		return
	}
	h.Metrics.PaymentInitiateTotal.WithLabelValues(metrics.ResultOK).Inc()

	if err := h.Orders.SetPaymentRef(ctx, o.ID, handle.Reference); err != nil {
		h.Log.Error("set payment ref", zap.String("order_id", o.ID), zap.Error(err))
	}
	o.PaymentRef = handle.Reference

	if h.Redis != nil {
		_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}
	h.cacheStatus(ctx, o)

	h.Metrics.CheckoutTotal.WithLabelValues(metrics.ResultOK).Inc()
	h.Metrics.CheckoutDuration.Observe(time.Since(started).Seconds())
	writeJSON(w, http.StatusCreated, CheckoutResp{
		OrderID:     o.ID,
		State:       string(orders.StatePendingPayment),
		TotalCents:  o.TotalCents,
		PaymentRef:  handle.Reference,
		CheckoutURL: handle.CheckoutURL,
	})
}

// abandonDraft releases the reservation held by a draft whose order never
// made it to PENDING_PAYMENT. No hold may outlive the failure boundary.
func (h *CheckoutHandler) abandonDraft(ctx context.Context, d *checkout.Draft) {
	if err := h.Ledger.Release(ctx, d.ReservationID); err != nil {
		h.Log.Error("release abandoned reservation",
			zap.String("reservation_id", d.ReservationID), zap.Error(err))
	}
}

func (h *CheckoutHandler) writeCheckoutError(w http.ResponseWriter, err error) {
	var cErr *coupon.Error
	var sErr *inventory.InsufficientStockError
	switch {
	case errors.Is(err, checkout.ErrCartNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cart not found"})
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrInvalidQty),
		errors.Is(err, checkout.ErrUnknownProduct):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.As(err, &cErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "coupon_rejected",
			"code":   cErr.Code,
			"reason": string(cErr.Reason),
		})
	case errors.As(err, &sErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "insufficient_stock",
			"details": sErr.Details,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "checkout failed"})
	}
}

func (h *CheckoutHandler) fail(w http.ResponseWriter, op string, err error) {
	h.Log.Error(op, zap.Error(err))
	h.Metrics.CheckoutTotal.WithLabelValues(metrics.ResultError).Inc()
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "checkout failed"})
}

func (h *CheckoutHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(s))
			return
		}
	}

	o, err := h.Orders.Get(ctx, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, statusOf(o))
}

func (h *CheckoutHandler) lifecycle(ev orders.Event, comment string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "id")
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		o, err := h.Orders.Get(ctx, orderID)
		if errors.Is(err, orders.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}

		upd, err := h.Machine.Apply(ctx, o.ID, o.Version, ev, comment)
		switch {
		case errors.Is(err, orders.ErrIllegalTransition):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "illegal transition", "state": string(o.State),
			})
			return
		case errors.Is(err, orders.ErrStaleVersion):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict, retry"})
			return
		case err != nil:
			h.Log.Error("lifecycle transition", zap.String("order_id", orderID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "transition failed"})
			return
		}
		h.cacheStatus(ctx, upd)
		writeJSON(w, http.StatusOK, statusOf(upd))
	}
}

func (h *CheckoutHandler) cacheStatus(ctx context.Context, o *orders.Order) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	b, _ := json.Marshal(statusOf(o))
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}

func statusOf(o *orders.Order) orderStatusResp {
	return orderStatusResp{
		OrderID:    o.ID,
		State:      string(o.State),
		Version:    o.Version,
		TotalCents: o.TotalCents,
		PaymentRef: o.PaymentRef,
	}
}
