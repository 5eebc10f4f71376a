// Package metrics exposes the engine's OpenTelemetry counters. Without an SDK
// provider installed the global no-op meter is used.
package metrics

import (
	"context"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/bcrosbie/quoteengine"

const (
	QuoteKindInitial = "quote"
	QuoteKindRequote = "requote"
)

type Metrics struct {
	transitions   metric.Int64Counter
	quotes        metric.Int64Counter
	flushFailures metric.Int64Counter
	swept         metric.Int64Counter
}

// New registers the counters on provider, or on the global provider when nil.
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	transitions, err := meter.Int64Counter("quoteengine.transitions",
		metric.WithDescription("Committed workflow stage transitions"))
	if err != nil {
		return nil, domain.Internal("failed to create transitions counter", err)
	}
	quotes, err := meter.Int64Counter("quoteengine.quotes",
		metric.WithDescription("Quotes and requotes produced"))
	if err != nil {
		return nil, domain.Internal("failed to create quotes counter", err)
	}
	flushFailures, err := meter.Int64Counter("quoteengine.flush.failures",
		metric.WithDescription("Record store flushes that failed and will be retried"))
	if err != nil {
		return nil, domain.Internal("failed to create flush failure counter", err)
	}
	swept, err := meter.Int64Counter("quoteengine.records.swept",
		metric.WithDescription("Expired records removed by the sweeper"))
	if err != nil {
		return nil, domain.Internal("failed to create sweep counter", err)
	}

	return &Metrics{
		transitions:   transitions,
		quotes:        quotes,
		flushFailures: flushFailures,
		swept:         swept,
	}, nil
}

// The record methods are safe on a nil receiver.

func (m *Metrics) RecordTransition(ctx context.Context, from, to domain.Stage, trigger domain.TriggerKind) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
		attribute.String("trigger", string(trigger)),
	))
}

func (m *Metrics) RecordQuote(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.quotes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordFlushFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.flushFailures.Add(ctx, 1)
}

func (m *Metrics) RecordSwept(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.swept.Add(ctx, int64(count))
}
