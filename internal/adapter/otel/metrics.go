package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "thermal-memory"

// Metrics holds all thermal memory metric instruments.
type Metrics struct {
	Writes              metric.Int64Counter
	Touches             metric.Int64Counter
	Promotions          metric.Int64Counter
	FederationPublished metric.Int64Counter
	FederationDropped   metric.Int64Counter
	FederationReceived  metric.Int64Counter
	SweepDecayed        metric.Int64Counter
	CacheLookups        metric.Int64Counter
	TouchTemperature    metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(meterName))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Writes, err = meter.Int64Counter("thermal.writes",
		metric.WithDescription("Number of memory writes, by outcome (inserted, updated)"))
	if err != nil {
		return nil, err
	}

	m.Touches, err = meter.Int64Counter("thermal.touches",
		metric.WithDescription("Number of read-with-touch operations"))
	if err != nil {
		return nil, err
	}

	m.Promotions, err = meter.Int64Counter("thermal.promotions",
		metric.WithDescription("Number of promotions to sacred"))
	if err != nil {
		return nil, err
	}

	m.FederationPublished, err = meter.Int64Counter("thermal.federation.published",
		metric.WithDescription("Federation events published to peers"))
	if err != nil {
		return nil, err
	}

	m.FederationDropped, err = meter.Int64Counter("thermal.federation.dropped",
		metric.WithDescription("Federation events dropped, by reason"))
	if err != nil {
		return nil, err
	}

	m.FederationReceived, err = meter.Int64Counter("thermal.federation.received",
		metric.WithDescription("Federation events received from peer triads"))
	if err != nil {
		return nil, err
	}

	m.SweepDecayed, err = meter.Int64Counter("thermal.sweep.decayed",
		metric.WithDescription("Records cooled by the decay sweeper"))
	if err != nil {
		return nil, err
	}

	m.CacheLookups, err = meter.Int64Counter("thermal.cache.lookups",
		metric.WithDescription("Record cache lookups, by result (hit, miss)"))
	if err != nil {
		return nil, err
	}

	m.TouchTemperature, err = meter.Float64Histogram("thermal.touch.temperature",
		metric.WithDescription("Temperature after a touch"),
		metric.WithExplicitBucketBoundaries(10, 20, 30, 40, 50, 60, 70, 75, 80, 90, 100))
	if err != nil {
		return nil, err
	}

	return m, nil
}
