package tagging

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics counts tag-search pages and throttling retries.
type Metrics struct {
	pages   metric.Int64Counter
	retries metric.Int64Counter
}

// NewMetrics creates tagging metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("kartta.tagging")

	pages, err := meter.Int64Counter(
		"kartta.tagging.pages",
		metric.WithDescription("Number of tag search pages fetched"),
		metric.WithUnit("{page}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"kartta.tagging.retries",
		metric.WithDescription("Number of throttled tag search calls retried"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{pages: pages, retries: retries}, nil
}

func (m *Metrics) recordPage(ctx context.Context, region string) {
	if m == nil {
		return
	}
	m.pages.Add(ctx, 1, metric.WithAttributes(attribute.String("cloud.region", region)))
}

func (m *Metrics) recordRetry(ctx context.Context, region string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("cloud.region", region)))
}
