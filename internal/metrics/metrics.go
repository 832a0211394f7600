package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters the checkout core exposes on /metrics.
type Metrics struct {
	CheckoutTotal        *prometheus.CounterVec
	CheckoutDuration     prometheus.Histogram
	WebhookTotal         *prometheus.CounterVec
	PaymentInitiateTotal *prometheus.CounterVec
	ReservationsExpired  prometheus.Counter
	OrdersTimedOut       prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CheckoutTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_requests_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"result"}),
		CheckoutDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkout_duration_seconds",
			Help:    "End-to-end checkout latency including reserve and payment initiation.",
			Buckets: prometheus.DefBuckets,
		}),
		WebhookTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Inbound payment webhook deliveries by outcome.",
		}, []string{"result"}),
		PaymentInitiateTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_initiate_total",
			Help: "Outbound payment initiation calls by outcome.",
		}, []string{"result"}),
		ReservationsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "reservations_expired_total",
			Help: "HELD reservations released by the expiry sweep.",
		}),
		OrdersTimedOut: f.NewCounter(prometheus.CounterOpts{
			Name: "orders_payment_timeout_total",
			Help: "Orders cancelled after the pending-payment window elapsed.",
		}),
	}
}

// Outcome labels shared by the counters above.
const (
	ResultOK        = "ok"
	ResultRejected  = "rejected"
	ResultDuplicate = "duplicate"
	ResultError     = "error"
)
