// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies routerchat's tracer and meter.
const InstrumentationName = "github.com/jeranaias/routerchat"

// Attribute keys shared by spans and metrics.
var (
	AttrModel         = attribute.Key("routerchat.model")
	AttrGenerationID  = attribute.Key("routerchat.generation_id")
	AttrTokenKind     = attribute.Key("routerchat.token.kind")
	AttrOutcome       = attribute.Key("routerchat.outcome")
	AttrStreamFailed  = attribute.Key("routerchat.stream.failed")
	AttrMessageLength = attribute.Key("routerchat.message.length")
)

// Tracer returns the routerchat tracer from tp, or from the global
// provider when tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName)
}

// Metrics holds the metric instruments. The zero value is not usable; a
// nil *Metrics is, and records nothing.
type Metrics struct {
	tokens   metric.Int64Counter
	cost     metric.Float64Counter
	attempts metric.Int64Histogram
	duration metric.Float64Histogram
}

// NewMetrics creates the instruments on mp, or on the global provider
// when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(InstrumentationName)

	m := &Metrics{}
	var err error

	m.tokens, err = meter.Int64Counter(
		"routerchat.tokens",
		metric.WithDescription("Tokens billed by the provider"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tokens counter: %w", err)
	}

	m.cost, err = meter.Float64Counter(
		"routerchat.cost",
		metric.WithDescription("Authoritative cost reported by the provider"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cost counter: %w", err)
	}

	m.attempts, err = meter.Int64Histogram(
		"routerchat.reconcile.attempts",
		metric.WithDescription("Generation lookups needed to reconcile one reply"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create attempts histogram: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		"routerchat.stream.duration",
		metric.WithDescription("Time from request to end of stream"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return m, nil
}

// RecordUsage records billed tokens and cost for one reply.
func (m *Metrics) RecordUsage(ctx context.Context, model string, cost float64, prompt, completion int) {
	if m == nil {
		return
	}
	modelAttr := AttrModel.String(model)
	m.tokens.Add(ctx, int64(prompt), metric.WithAttributes(modelAttr, AttrTokenKind.String("prompt")))
	m.tokens.Add(ctx, int64(completion), metric.WithAttributes(modelAttr, AttrTokenKind.String("completion")))
	m.cost.Add(ctx, cost, metric.WithAttributes(modelAttr))
}

// RecordReconcile records how many lookups a reconciliation took and how
// it ended.
func (m *Metrics) RecordReconcile(ctx context.Context, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.attempts.Record(ctx, int64(attempts), metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordStream records the wall time of one streamed reply.
func (m *Metrics) RecordStream(ctx context.Context, model string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, float64(d)/float64(time.Millisecond),
		metric.WithAttributes(AttrModel.String(model), AttrStreamFailed.Bool(failed)))
}
