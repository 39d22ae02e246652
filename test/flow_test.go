package test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storeflow/internal/cart"
	"github.com/joao-fontenele/storeflow/internal/checkout"
	"github.com/joao-fontenele/storeflow/internal/domain"
	"github.com/joao-fontenele/storeflow/internal/messaging"
	"github.com/joao-fontenele/storeflow/internal/metrics"
	"github.com/joao-fontenele/storeflow/internal/orders"
	"github.com/joao-fontenele/storeflow/internal/shipping"
)

// topicLog is a single-partition topic shared by one writer and any number of
// consumer groups.
type topicLog struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (l *topicLog) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range msgs {
		m.Offset = int64(len(l.messages))
		l.messages = append(l.messages, m)
	}
	return nil
}

func (l *topicLog) Close() error { return nil }

func (l *topicLog) group() *groupReader {
	return &groupReader{log: l, committed: -1}
}

type groupReader struct {
	log       *topicLog
	next      int
	committed int64
}

func (r *groupReader) FetchMessage(_ context.Context) (kafka.Message, error) {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	if r.next >= len(r.log.messages) {
		return kafka.Message{}, io.EOF
	}
	msg := r.log.messages[r.next]
	r.next++
	return msg, nil
}

func (r *groupReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = m.Offset
	}
	return nil
}

func (r *groupReader) Close() error { return nil }

func drain(t *testing.T, queue *messaging.Consumer, handler messaging.Handler) {
	t.Helper()
	err := queue.Consume(context.Background(), handler)
	require.ErrorIs(t, err, io.EOF)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckoutFlow_Broker(t *testing.T) {
	ctx := context.Background()
	logger := discard()
	recorder := metrics.NewRecorder()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	store := cart.NewRedisStore(client, 0)

	log := &topicLog{}
	producer := messaging.NewProducerFromWriter("orders", log)
	publisher := checkout.NewPublisher(store, recorder, logger, checkout.NewBrokerDeliverer(producer))

	price := decimal.RequireFromString("49.99")
	_, err := store.Add(ctx, "u1", domain.CartItem{ProductID: "chair01", Qty: 1, UnitPrice: &price})
	require.NoError(t, err)

	event, err := publisher.Checkout(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, log.messages, 1)
	assert.Equal(t, "u1", string(log.messages[0].Key))

	snapshot, err := store.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snapshot.Empty(), "cart should be cleared after checkout")

	orderRepo := orders.NewMemoryRepository()
	orderService := orders.NewService(orderRepo, recorder, logger)
	orderReader := log.group()
	drain(t, messaging.NewConsumerFromReader(orderReader, "orders", "order-service", messaging.WithLogger(logger)),
		orders.NewConsumer(orderService, recorder, logger).Handle)

	shipmentRepo := shipping.NewMemoryRepository()
	shippingService := shipping.NewService(shipmentRepo, recorder, logger)
	shippingReader := log.group()
	drain(t, messaging.NewConsumerFromReader(shippingReader, "orders", "shipping-service", messaging.WithLogger(logger)),
		shipping.NewConsumer(shippingService, recorder, logger).Handle)

	assert.Equal(t, int64(0), orderReader.committed)
	assert.Equal(t, int64(0), shippingReader.committed)

	order, err := orderService.Get(ctx, event.OrderID())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusReceived, order.Status)
	assert.True(t, order.Total.Equal(price), "expected total 49.99, got %s", order.Total)

	shipment, err := shippingService.Get(ctx, event.OrderID())
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentStatusProcessing, shipment.Status)
	assert.True(t, shipment.TotalAmount.Equal(price))

	snap := recorder.Snapshot()
	assert.Equal(t, float64(1), snap.Counter("checkouts_total"))
	assert.Equal(t, float64(1), snap.Counter("orders_total"))
	assert.Equal(t, float64(1), snap.Counter("shipments_processed_total"))
}

func TestCheckoutFlow_RedeliveryCreatesOneRecord(t *testing.T) {
	ctx := context.Background()
	logger := discard()

	log := &topicLog{}
	producer := messaging.NewProducerFromWriter("orders", log)

	price := decimal.RequireFromString("19.99")
	event := domain.OrderEvent{
		EventID: "evt-dup",
		OwnerID: "u2",
		Items:   []domain.EventItem{{ProductID: "lamp", Qty: 2, UnitPrice: &price}},
	}
	require.NoError(t, producer.Publish(ctx, event.OwnerID, event))
	require.NoError(t, producer.Publish(ctx, event.OwnerID, event))

	orderRepo := orders.NewMemoryRepository()
	orderService := orders.NewService(orderRepo, metrics.Nop{}, logger)
	drain(t, messaging.NewConsumerFromReader(log.group(), "orders", "order-service", messaging.WithLogger(logger)),
		orders.NewConsumer(orderService, metrics.Nop{}, logger).Handle)

	shippingService := shipping.NewService(shipping.NewMemoryRepository(), metrics.Nop{}, logger)
	drain(t, messaging.NewConsumerFromReader(log.group(), "orders", "shipping-service", messaging.WithLogger(logger)),
		shipping.NewConsumer(shippingService, metrics.Nop{}, logger).Handle)

	stored, err := orderService.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Equal(t, "39.98", stored[0].Total.StringFixed(2))

	shipments, err := shippingService.List(ctx)
	require.NoError(t, err)
	assert.Len(t, shipments, 1)
}

type downPublisher struct{}

func (downPublisher) Publish(context.Context, string, any) error {
	return errors.New("broker unavailable")
}

func TestCheckoutFlow_WebhookFallback(t *testing.T) {
	ctx := context.Background()
	logger := discard()
	recorder := metrics.NewRecorder()

	orderService := orders.NewService(orders.NewMemoryRepository(), recorder, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/order", orders.NewHandler(orderService, logger).HandleWebhook)
	server := httptest.NewServer(mux)
	defer server.Close()

	store := cart.NewMemoryStore()
	publisher := checkout.NewPublisher(store, recorder, logger,
		checkout.NewBrokerDeliverer(downPublisher{}),
		checkout.NewWebhookDeliverer(server.URL, server.Client(), checkout.DefaultWebhookTimeout),
	)

	price := decimal.RequireFromString("49.99")
	_, err := store.Add(ctx, "u1", domain.CartItem{ProductID: "chair01", Qty: 1, UnitPrice: &price})
	require.NoError(t, err)

	event, err := publisher.Checkout(ctx, "u1")
	require.NoError(t, err)

	order, err := orderService.Get(ctx, event.OrderID())
	require.NoError(t, err)
	assert.Equal(t, "49.99", order.Total.StringFixed(2))

	snap := recorder.Snapshot()
	assert.Equal(t, float64(1), snap.Counter(metrics.Key("checkout_delivery_failures_total", metrics.L("transport", "broker"))))
	assert.Equal(t, float64(1), snap.Counter(metrics.Key("checkouts_total", metrics.L("transport", "webhook"))))
	assert.Equal(t, float64(1), snap.Counter(metrics.Key("orders_received_total", metrics.L("source", "webhook"))))

	snapshot, err := store.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, snapshot.Empty())
}
