package orders

const (
	TopicOrderPaid          = "order.paid"
	TopicOrderPaymentFailed = "order.payment.failed"
	TopicOrderCancelled     = "order.cancelled"
	TopicOrderFulfilled     = "order.fulfilled"
	TopicOrderRefunded      = "order.refunded"
	TopicStockChanged       = "stock.changed"
)

// Partition key = order_id so all events for one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
