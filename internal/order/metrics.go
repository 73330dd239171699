package order

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const metricNamespace = "github.com/vasiliy-maslov/order-lifecycle/internal/order"

type metrics struct {
	approvals   metric.Int64Counter
	transitions metric.Int64Counter
	expired     metric.Int64Counter
}

func newMetrics(meter metric.Meter) *metrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	m := &metrics{}
	var err error

	m.approvals, err = meter.Int64Counter(
		"orders.payment.approvals",
		metric.WithDescription("Payment approval attempts by outcome"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("order: unable to register approvals metric")
		m.approvals = noop.Int64Counter{}
	}

	m.transitions, err = meter.Int64Counter(
		"orders.status.transitions",
		metric.WithDescription("Applied order status transitions by target status"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("order: unable to register transitions metric")
		m.transitions = noop.Int64Counter{}
	}

	m.expired, err = meter.Int64Counter(
		"orders.sweeper.expired",
		metric.WithDescription("Orders cancelled by the expiry sweeper"),
	)
	if err != nil {
		log.Warn().Err(err).Msg("order: unable to register expiry metric")
		m.expired = noop.Int64Counter{}
	}

	return m
}

func (m *metrics) approval(ctx context.Context, outcome string) {
	m.approvals.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) transition(ctx context.Context, target Status) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", target.String())))
}

func (m *metrics) expiredOrders(ctx context.Context, n int) {
	if n > 0 {
		m.expired.Add(ctx, int64(n))
	}
}
