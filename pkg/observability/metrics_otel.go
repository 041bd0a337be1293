package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds the OpenTelemetry instruments exported over OTLP
// alongside the Prometheus registry
type OTelMetrics struct {
	reconcileTotal    metric.Int64Counter
	reconcileDuration metric.Float64Histogram
	membershipsTotal  metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithProvider(otel.GetMeterProvider())
}

// NewOTelMetricsWithProvider creates instruments on provider
func NewOTelMetricsWithProvider(provider metric.MeterProvider) (*OTelMetrics, error) {
	meter := provider.Meter("github.com/platinummonkey/people")

	m := &OTelMetrics{}
	var err error

	m.reconcileTotal, err = meter.Int64Counter(
		"people.registration.reconciles",
		metric.WithDescription("Registration reconciliations by result"),
		metric.WithUnit("{reconcile}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile counter: %w", err)
	}

	m.reconcileDuration, err = meter.Float64Histogram(
		"people.registration.duration",
		metric.WithDescription("Registration reconciliation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile histogram: %w", err)
	}

	m.membershipsTotal, err = meter.Int64Counter(
		"people.registration.memberships",
		metric.WithDescription("Membership writes by result"),
		metric.WithUnit("{membership}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create membership counter: %w", err)
	}

	return m, nil
}

// RecordReconcile records one reconciliation and its membership writes
func (m *OTelMetrics) RecordReconcile(ctx context.Context, result string, d time.Duration, created, failed, skipped int) {
	if m == nil {
		return
	}
	m.reconcileTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	m.reconcileDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("result", result)))

	for res, n := range map[string]int{
		MembershipCreated: created,
		MembershipFailed:  failed,
		MembershipSkipped: skipped,
	} {
		if n > 0 {
			m.membershipsTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("result", res)))
		}
	}
}
