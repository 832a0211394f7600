package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPaid          = "OrderPaid"
	EventOrderPaymentFailed = "OrderPaymentFailed"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderFulfilled     = "OrderFulfilled"
	EventOrderRefunded      = "OrderRefunded"
	EventStockChanged       = "StockChanged"
)

// Envelope is the wire format for every outbound event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type OrderEventPayload struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	State      string `json:"state"`
	TotalCents int64  `json:"total_cents"`
	PaymentRef string `json:"payment_ref,omitempty"`
}

type StockChangeItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type StockChangedPayload struct {
	OrderID string            `json:"order_id,omitempty"`
	Change  string            `json:"change"` // committed | released | restocked
	Items   []StockChangeItem `json:"items"`
}
