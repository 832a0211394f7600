package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ecomstack/checkout-core/internal/kafka"
	"github.com/ecomstack/checkout-core/internal/orders"
)

// Publisher fans order lifecycle and stock-change events out to Kafka for
// the notification and search-index collaborators. Fire-and-forget by
// contract: a broker outage is logged by the producer, never propagated.
type Publisher struct {
	service   string
	log       *zap.Logger
	producers map[string]*kafkax.Producer
}

var _ orders.Notifier = (*Publisher)(nil)

var eventTopics = map[orders.Event]struct {
	topic     string
	eventType string
}{
	orders.EvPaymentSucceeded:     {orders.TopicOrderPaid, orders.EventOrderPaid},
	orders.EvPaymentFailed:        {orders.TopicOrderPaymentFailed, orders.EventOrderPaymentFailed},
	orders.EvPaymentTimeout:       {orders.TopicOrderCancelled, orders.EventOrderCancelled},
	orders.EvCancelRequested:      {orders.TopicOrderCancelled, orders.EventOrderCancelled},
	orders.EvFulfillmentConfirmed: {orders.TopicOrderFulfilled, orders.EventOrderFulfilled},
	orders.EvRefundProcessed:      {orders.TopicOrderRefunded, orders.EventOrderRefunded},
}

func NewPublisher(brokers []string, service string, buf int, log *zap.Logger) *Publisher {
	p := &Publisher{service: service, log: log, producers: map[string]*kafkax.Producer{}}
	topics := []string{
		orders.TopicOrderPaid,
		orders.TopicOrderPaymentFailed,
		orders.TopicOrderCancelled,
		orders.TopicOrderFulfilled,
		orders.TopicOrderRefunded,
		orders.TopicStockChanged,
	}
	for _, t := range topics {
		p.producers[t] = kafkax.NewProducer(brokers, t, buf, log)
	}
	return p
}

func (p *Publisher) Start(ctx context.Context) {
	for _, pr := range p.producers {
		pr.Start(ctx)
	}
}

func (p *Publisher) Close() {
	for _, pr := range p.producers {
		pr.Close()
	}
	for _, pr := range p.producers {
		pr.WaitClosed()
	}
}

func (p *Publisher) OrderEvent(_ context.Context, o *orders.Order, ev orders.Event) {
	m, ok := eventTopics[ev]
	if !ok {
		return
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     m.eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.service,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderEventPayload{
			OrderID:    o.ID,
			CustomerID: o.CustomerID,
			State:      string(o.State),
			TotalCents: o.TotalCents,
			PaymentRef: o.PaymentRef,
		}),
	}
	p.publish(m.topic, o.ID, m.eventType, env)
}

func (p *Publisher) StockChanged(_ context.Context, orderID, change string, items []orders.StockChangeItem) {
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventStockChanged,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.service,
		CorrelationID: orderID,
		Payload: kafkax.MustMarshal(orders.StockChangedPayload{
			OrderID: orderID,
			Change:  change,
			Items:   items,
		}),
	}
	p.publish(orders.TopicStockChanged, orderID, orders.EventStockChanged, env)
}

func (p *Publisher) publish(topic, orderID, eventType string, env orders.Envelope) {
	pr, ok := p.producers[topic]
	if !ok {
		return
	}
	pr.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
