package redisx

import "time"

const (
	// Idempotency shortcut for checkout: idem:checkout:{cart_id} -> order_id.
	// The orders table is the source of truth; this only short-circuits retries.
	KeyIdemCheckout = "idem:checkout:%s"

	// Order status cache: order_status:{order_id} -> {"state": "...", ...}
	KeyOrderStatus = "order_status:%s"

	// Webhook dedup fast path: dedup:payment:{event_id}. The payment_events
	// table is authoritative; this just avoids a DB round trip on hot retries.
	KeyWebhookDedup = "dedup:payment:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
