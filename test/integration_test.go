//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/shopflow/internal/domain"
	"github.com/joao-fontenele/shopflow/internal/inventory"
	"github.com/joao-fontenele/shopflow/internal/lock"
	"github.com/joao-fontenele/shopflow/internal/messaging"
	"github.com/joao-fontenele/shopflow/internal/orders"
	"github.com/joao-fontenele/shopflow/internal/payments"
	"github.com/joao-fontenele/shopflow/internal/paystack"
	"github.com/joao-fontenele/shopflow/internal/store"
)

var (
	customer = domain.Actor{UserID: "u-ama", Email: "ama@example.com"}
	address  = domain.ShippingAddress{Address: "12 Oxford St", City: "Accra", PostalCode: "GA-100", Country: "Ghana"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePaystack answers every verify as a success of amount minor units.
func fakePaystack(t *testing.T, amount func() int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":true,"message":"ok","data":{"id":1001,"status":"success","reference":%q,"amount":%d,"currency":"GHS","customer":{"email":"ama@example.com"}}}`,
			ref, amount())
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPlaceAndPayOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := store.NewPostgresStore(SetupPostgres(ctx, t), testLogger())
	svc := orders.NewService(s, inventory.NewLedger(testLogger()), testLogger())

	order, err := svc.PlaceOrder(ctx, customer, orders.PlaceOrderRequest{
		Items:           []orders.ItemRequest{{ProductID: "PROD-001", Quantity: 2}},
		ShippingAddress: address,
		PaymentMethod:   "Paystack",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	// 179.98 items, 27.00 tax, free shipping
	if !order.TotalPrice.Equal(decimal.RequireFromString("206.98")) {
		t.Errorf("expected total 206.98, got %s", order.TotalPrice)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Errorf("expected Pending Payment, got %q", order.Status)
	}

	p, err := s.GetProduct(ctx, "PROD-001")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.CountInStock != 8 {
		t.Errorf("expected stock 8, got %d", p.CountInStock)
	}

	gateway := fakePaystack(t, func() int64 { return domain.ToMinor(order.TotalPrice) })
	client := paystack.NewClient(gateway.URL, "sk_test", gateway.Client())
	rec := payments.NewReconciler(s, client, lock.NewLocal(), payments.Config{}, testLogger())

	reference := fmt.Sprintf("order_%s_%d", order.ID, time.Now().UnixMilli())
	res, err := rec.Reconcile(ctx, customer, order.ID, reference)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.Order.IsPaid || res.Order.Status != domain.OrderStatusConfirmed {
		t.Errorf("unexpected order after payment %+v", res.Order)
	}

	if _, err := rec.Reconcile(ctx, customer, order.ID, reference); !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Errorf("expected ErrAlreadyPaid, got %v", err)
	}

	stored, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !stored.IsPaid || stored.PaymentResult == nil || stored.PaymentResult.Reference != reference {
		t.Errorf("payment not persisted on order: %+v", stored)
	}
	if len(stored.Items) != 1 || stored.Items[0].Name != "Airpods Wireless Bluetooth Headphones" {
		t.Errorf("unexpected items %+v", stored.Items)
	}

	list, err := s.ListPaymentsByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(list) != 1 || list[0].Status != domain.PaymentStatusSuccess || !list[0].Amount.Equal(order.TotalPrice) {
		t.Errorf("expected one success payment of the total, got %+v", list)
	}
}

func TestConcurrentPlacement(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := store.NewPostgresStore(SetupPostgres(ctx, t), testLogger(), store.WithMaxAttempts(20))
	svc := orders.NewService(s, inventory.NewLedger(testLogger()), testLogger())

	// PROD-003 starts with 5 units.
	const buyers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   int
		rejected int
	)
	for i := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := domain.Actor{UserID: fmt.Sprintf("u-%d", i)}
			_, err := svc.PlaceOrder(ctx, actor, orders.PlaceOrderRequest{
				Items:           []orders.ItemRequest{{ProductID: "PROD-003", Quantity: 1}},
				ShippingAddress: address,
				PaymentMethod:   "COD",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				placed++
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if placed != 5 || rejected != 3 {
		t.Errorf("expected 5 placed and 3 rejected, got %d and %d", placed, rejected)
	}
	p, err := s.GetProduct(ctx, "PROD-003")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.CountInStock != 0 || p.IsLowStock {
		t.Errorf("expected stock 0 and not flagged low, got %d low=%v", p.CountInStock, p.IsLowStock)
	}
}

func TestPlacementRollsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := store.NewPostgresStore(SetupPostgres(ctx, t), testLogger())
	svc := orders.NewService(s, inventory.NewLedger(testLogger()), testLogger())

	// PROD-006 is out of stock, so nothing of PROD-002 may be taken either.
	_, err := svc.PlaceOrder(ctx, customer, orders.PlaceOrderRequest{
		Items: []orders.ItemRequest{
			{ProductID: "PROD-002", Quantity: 1},
			{ProductID: "PROD-006", Quantity: 1},
		},
		ShippingAddress: address,
		PaymentMethod:   "Paystack",
	})
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.ProductID != "PROD-006" || stockErr.Available != 0 {
		t.Fatalf("expected insufficient stock for PROD-006, got %v", err)
	}

	p, err := s.GetProduct(ctx, "PROD-002")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if p.CountInStock != 7 {
		t.Errorf("expected PROD-002 stock to stay 7, got %d", p.CountInStock)
	}
	list, err := s.ListOrders(ctx, store.OrderFilter{UserID: customer.UserID})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no orders, got %d", len(list))
	}
}

func TestRepairPass(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s := store.NewPostgresStore(SetupPostgres(ctx, t), testLogger())
	svc := orders.NewService(s, inventory.NewLedger(testLogger()), testLogger())

	order, err := svc.PlaceOrder(ctx, customer, orders.PlaceOrderRequest{
		Items:           []orders.ItemRequest{{ProductID: "PROD-005", Quantity: 1}},
		ShippingAddress: address,
		PaymentMethod:   "Paystack",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	// A success record written without the matching order update.
	now := time.Now().UTC()
	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.UpsertPayment(ctx, &domain.Payment{
			UserID:    customer.UserID,
			OrderID:   order.ID,
			Reference: "order_" + order.ID + "_1",
			Amount:    order.TotalPrice,
			Currency:  payments.DefaultCurrency,
			Status:    domain.PaymentStatusSuccess,
			Method:    payments.MethodPaystack,
			CreatedAt: now,
			UpdatedAt: now,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	n, err := payments.NewRepairer(s, nil, testLogger()).RunOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one repair, got %d, %v", n, err)
	}

	stored, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if !stored.IsPaid || stored.Status != domain.OrderStatusConfirmed {
		t.Errorf("expected repaired order to be paid and confirmed, got %+v", stored)
	}
}

func TestRedisLock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	locker := lock.NewRedis(SetupRedis(ctx, t), "shop:verify:")

	release, err := locker.Acquire(ctx, "ref-1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, "ref-1", time.Minute); !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := locker.Acquire(ctx, "ref-1", 100*time.Millisecond); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if _, err := locker.Acquire(ctx, "ref-1", time.Minute); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
}

func TestOrderEventsRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	brokers := SetupKafka(ctx, t)
	const topic = "order.events"

	producer := messaging.NewProducer(brokers, topic)
	defer func() { _ = producer.Close() }()

	o := &domain.Order{
		ID:            "0b4c8a52-7f0e-4c39-9d6b-1d1f1f6c2a10",
		UserID:        customer.UserID,
		CustomerEmail: customer.Email,
		Status:        domain.OrderStatusConfirmed,
		Totals:        domain.Totals{TotalPrice: decimal.RequireFromString("206.98")},
	}

	// The first write may race topic auto-creation.
	var err error
	for range 10 {
		if err = producer.Publish(ctx, o.ID, domain.EventOrderPaid, domain.NewOrderEvent(domain.EventOrderPaid, o, time.Now())); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, topic, "integration-test", messaging.WithStartOffset(kafka.FirstOffset), messaging.WithRetry(1, 0))
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	var got messaging.Message
	errDone := errors.New("done")
	err = consumer.Consume(consumeCtx, func(_ context.Context, msg messaging.Message) error {
		got = msg
		return errDone
	})
	if !errors.Is(err, errDone) {
		t.Fatalf("consume: %v", err)
	}

	if got.Key != o.ID || got.EventType != domain.EventOrderPaid {
		t.Errorf("unexpected message key=%q type=%q", got.Key, got.EventType)
	}
	var event domain.OrderEvent
	if err := json.Unmarshal(got.Value, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.OrderID != o.ID || event.Email != customer.Email || !event.Total.Equal(o.TotalPrice) {
		t.Errorf("unexpected event %+v", event)
	}
}
