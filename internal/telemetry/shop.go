package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/joao-fontenele/shopflow"

// ShopMetrics records order and payment outcomes. A nil *ShopMetrics is a
// valid no-op recorder.
type ShopMetrics struct {
	ordersPlaced       metric.Int64Counter
	ordersRejected     metric.Int64Counter
	paymentsReconciled metric.Int64Counter
	gatewayVerify      metric.Float64Histogram
}

func NewShopMetrics(mp metric.MeterProvider) (*ShopMetrics, error) {
	meter := mp.Meter(meterName)

	placed, err := meter.Int64Counter("shop.orders.placed",
		metric.WithDescription("Orders committed by the placement transaction"))
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter("shop.orders.rejected",
		metric.WithDescription("Order placements rolled back, by reason"))
	if err != nil {
		return nil, err
	}

	reconciled, err := meter.Int64Counter("shop.payments.reconciled",
		metric.WithDescription("Payment verifications, by outcome"))
	if err != nil {
		return nil, err
	}

	verify, err := meter.Float64Histogram("shop.gateway.verify.duration",
		metric.WithDescription("Latency of payment gateway verify calls"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &ShopMetrics{
		ordersPlaced:       placed,
		ordersRejected:     rejected,
		paymentsReconciled: reconciled,
		gatewayVerify:      verify,
	}, nil
}

func (m *ShopMetrics) OrderPlaced(ctx context.Context, paymentMethod string) {
	if m == nil {
		return
	}
	m.ordersPlaced.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", paymentMethod)))
}

func (m *ShopMetrics) OrderRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *ShopMetrics) PaymentReconciled(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.paymentsReconciled.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *ShopMetrics) GatewayVerify(ctx context.Context, elapsed time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.gatewayVerify.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}
