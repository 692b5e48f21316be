package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "respondmesh"

// Metrics holds all mesh metric instruments.
type Metrics struct {
	DelegationsStarted      metric.Int64Counter
	DelegationsDeduplicated metric.Int64Counter
	DelegationsFailedOver   metric.Int64Counter
	DelegationDuration      metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.DelegationsStarted, err = meter.Int64Counter("respondmesh.delegations.started",
		metric.WithDescription("Number of delegations started"))
	if err != nil {
		return nil, err
	}

	m.DelegationsDeduplicated, err = meter.Int64Counter("respondmesh.delegations.deduplicated",
		metric.WithDescription("Number of delegations skipped as already handled"))
	if err != nil {
		return nil, err
	}

	m.DelegationsFailedOver, err = meter.Int64Counter("respondmesh.delegations.failedover",
		metric.WithDescription("Number of delegations handled by a backup agent"))
	if err != nil {
		return nil, err
	}

	m.DelegationDuration, err = meter.Float64Histogram("respondmesh.delegation.duration_seconds",
		metric.WithDescription("Delegation duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
