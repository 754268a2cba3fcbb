// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exports benchmark metrics and round traces over OTLP.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the benchmark instruments. It implements the pool and
// orchestrator recorders.
type Metrics struct {
	meter metric.Meter

	// Counters
	roundsTotal         metric.Int64Counter
	connectionsTotal    metric.Int64Counter
	disconnectionsTotal metric.Int64Counter
	deliveriesTotal     metric.Int64Counter
	errorsTotal         metric.Int64Counter

	// UpDownCounters (Gauges)
	connectionsCurrent metric.Int64UpDownCounter

	// Histograms
	roundLatency    metric.Float64Histogram
	connectDuration metric.Float64Histogram
	publishDuration metric.Float64Histogram
	deliverySize    metric.Int64Histogram
}

// NewMetrics creates the instruments on provider, or on the global provider
// when provider is nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	m := &Metrics{
		meter: provider.Meter("fluxbench"),
	}

	var err error

	m.roundsTotal, err = m.meter.Int64Counter(
		"fluxbench.rounds.total",
		metric.WithDescription("Rounds finished by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create roundsTotal counter: %w", err)
	}

	m.connectionsTotal, err = m.meter.Int64Counter(
		"fluxbench.connections.total",
		metric.WithDescription("Client connections established"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsTotal counter: %w", err)
	}

	m.disconnectionsTotal, err = m.meter.Int64Counter(
		"fluxbench.disconnections.total",
		metric.WithDescription("Client disconnections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create disconnectionsTotal counter: %w", err)
	}

	m.deliveriesTotal, err = m.meter.Int64Counter(
		"fluxbench.deliveries.total",
		metric.WithDescription("Messages delivered to benchmark clients"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deliveriesTotal counter: %w", err)
	}

	m.errorsTotal, err = m.meter.Int64Counter(
		"fluxbench.errors.total",
		metric.WithDescription("Errors by type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errorsTotal counter: %w", err)
	}

	m.connectionsCurrent, err = m.meter.Int64UpDownCounter(
		"fluxbench.connections.current",
		metric.WithDescription("Currently connected benchmark clients"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsCurrent gauge: %w", err)
	}

	m.roundLatency, err = m.meter.Float64Histogram(
		"fluxbench.round.latency.ms",
		metric.WithDescription("Trigger to completion latency of completed rounds in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create roundLatency histogram: %w", err)
	}

	m.connectDuration, err = m.meter.Float64Histogram(
		"fluxbench.connect.duration.ms",
		metric.WithDescription("Client connect duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectDuration histogram: %w", err)
	}

	m.publishDuration, err = m.meter.Float64Histogram(
		"fluxbench.publish.duration.ms",
		metric.WithDescription("Trigger publish duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishDuration histogram: %w", err)
	}

	m.deliverySize, err = m.meter.Int64Histogram(
		"fluxbench.delivery.size.bytes",
		metric.WithDescription("Delivered payload size distribution"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deliverySize histogram: %w", err)
	}

	return m, nil
}

// RecordRound records a finished round. Latency is recorded for completed
// rounds only.
func (m *Metrics) RecordRound(mode, status string, latency time.Duration) {
	ctx := context.Background()
	m.roundsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	))
	if status == "completed" {
		m.roundLatency.Record(ctx, float64(latency.Microseconds())/1000, metric.WithAttributes(
			attribute.String("mode", mode),
		))
	}
}

// RecordPublishDuration records how long a trigger publish took.
func (m *Metrics) RecordPublishDuration(durationMs float64) {
	m.publishDuration.Record(context.Background(), durationMs)
}

// RecordConnection records a client that connected.
func (m *Metrics) RecordConnection(role string, d time.Duration) {
	ctx := context.Background()
	m.connectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
	))
	m.connectionsCurrent.Add(ctx, 1)
	m.connectDuration.Record(ctx, float64(d.Microseconds())/1000)
}

// RecordDisconnection records a client disconnect.
func (m *Metrics) RecordDisconnection(reason string) {
	ctx := context.Background()
	m.disconnectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
	m.connectionsCurrent.Add(ctx, -1)
}

// RecordDelivery records a message handed to a client.
func (m *Metrics) RecordDelivery(role string, qos byte, sizeBytes int) {
	ctx := context.Background()
	m.deliveriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.Int("qos", int(qos)),
	))
	m.deliverySize.Record(ctx, int64(sizeBytes))
}

// RecordError records an error by type.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", errorType),
	))
}
