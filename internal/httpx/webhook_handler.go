package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ecomstack/checkout-core/internal/metrics"
	"github.com/ecomstack/checkout-core/internal/payment"
)

// SignatureHeader carries the processor's HMAC over the raw body.
const SignatureHeader = "X-Payment-Signature"

type WebhookHandler struct {
	Reconciler *payment.Reconciler
	Metrics    *metrics.Metrics
	Log        *zap.Logger
}

func (h *WebhookHandler) Register(r *chi.Mux) {
	r.Post("/webhooks/payment", h.handle)
}

// handle acks duplicates with 200 so the processor stops retrying, rejects
// bad signatures without detail, and answers 503 on transient failures so
// the processor's own retry schedule carries the delivery to completion.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	ack, err := h.Reconciler.Handle(r.Context(), raw, r.Header.Get(SignatureHeader))
	switch {
	case errors.Is(err, payment.ErrSignatureInvalid):
		h.Metrics.WebhookTotal.WithLabelValues(metrics.ResultRejected).Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	case errors.Is(err, payment.ErrMalformedPayload):
		h.Metrics.WebhookTotal.WithLabelValues(metrics.ResultRejected).Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed payload"})
	case errors.Is(err, payment.ErrUnknownOrder):
		h.Metrics.WebhookTotal.WithLabelValues(metrics.ResultRejected).Inc()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown order"})
	case err != nil:
		// Transient (store failure, exhausted version retries). Never shown
		// to a customer; the processor redelivers and idempotency absorbs it.
		h.Metrics.WebhookTotal.WithLabelValues(metrics.ResultError).Inc()
		h.Log.Error("webhook processing failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily unavailable"})
	case ack.Duplicate:
		h.Metrics.WebhookTotal.WithLabelValues(metrics.ResultDuplicate).Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "already processed"})
	default:
		h.Metrics.WebhookTotal.WithLabelValues(metrics.ResultOK).Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
