package discovery

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/kartta/pkg/resource"
)

// Metrics holds discovery metrics using OTEL semantic conventions.
type Metrics struct {
	runs                metric.Int64Counter
	runDuration         metric.Float64Histogram
	resourcesDiscovered metric.Int64Gauge
	regionErrors        metric.Int64Counter
	enrichmentFailures  metric.Int64Counter
	storageOperations   metric.Int64Counter
	resourceChanges     metric.Int64Counter
}

// NewMetrics creates discovery metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates discovery metrics on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("kartta.discovery")

	runs, err := meter.Int64Counter(
		"kartta.discovery.runs",
		metric.WithDescription("Number of discovery runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"kartta.discovery.run.duration",
		metric.WithDescription("Duration of discovery runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	resourcesDiscovered, err := meter.Int64Gauge(
		"kartta.resources.discovered",
		metric.WithDescription("Number of cloud resources found by the last run"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	regionErrors, err := meter.Int64Counter(
		"kartta.discovery.region.errors",
		metric.WithDescription("Number of regions abandoned during discovery"),
		metric.WithUnit("{region}"),
	)
	if err != nil {
		return nil, err
	}

	enrichmentFailures, err := meter.Int64Counter(
		"kartta.enrichment.failures",
		metric.WithDescription("Number of resources whose enrichment failed"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	storageOperations, err := meter.Int64Counter(
		"kartta.storage.operations",
		metric.WithDescription("Number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	resourceChanges, err := meter.Int64Counter(
		"kartta.resource.changes",
		metric.WithDescription("Number of resource changes detected on upsert"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		runs:                runs,
		runDuration:         runDuration,
		resourcesDiscovered: resourcesDiscovered,
		regionErrors:        regionErrors,
		enrichmentFailures:  enrichmentFailures,
		storageOperations:   storageOperations,
		resourceChanges:     resourceChanges,
	}, nil
}

// RecordRun records a finished run with its status and duration.
func (m *Metrics) RecordRun(ctx context.Context, status string, durationSeconds float64, discovered int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, durationSeconds, attrs)
	m.resourcesDiscovered.Record(ctx, int64(discovered),
		metric.WithAttributes(attribute.String("cloud.provider", "aws")),
	)
}

// RecordRegionError records an abandoned region.
func (m *Metrics) RecordRegionError(ctx context.Context, accountName, region string) {
	if m == nil {
		return
	}
	m.regionErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("account.name", accountName),
			attribute.String("cloud.region", region),
		),
	)
}

// RecordEnrichmentFailures records failed enrichments for one account.
func (m *Metrics) RecordEnrichmentFailures(ctx context.Context, accountName string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.enrichmentFailures.Add(ctx, int64(count),
		metric.WithAttributes(attribute.String("account.name", accountName)),
	)
}

// RecordStorageOperations records upsert outcomes.
func (m *Metrics) RecordStorageOperations(ctx context.Context, operation, status string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.storageOperations.Add(ctx, int64(count),
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordChange records each tracked field of a diff.
func (m *Metrics) RecordChange(ctx context.Context, d resource.Diff) {
	if m == nil {
		return
	}
	if d.Type == resource.DiffAdded {
		m.resourceChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("change.type", string(d.Type))))
		return
	}
	for field := range d.Changes {
		m.resourceChanges.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("change.type", string(d.Type)),
				attribute.String("change.field", field),
			),
		)
	}
}
