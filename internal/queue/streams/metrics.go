package streams

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	queueMetricsOnce sync.Once
	queuePublished   otelmetric.Int64Counter
	queueConsumed    otelmetric.Int64Counter
	queueAbsorbed    otelmetric.Int64Counter
)

func initQueueMetrics() {
	meter := otel.Meter("researcher/queue/streams")
	var err error
	queuePublished, err = meter.Int64Counter(
		"queue_published_total",
		otelmetric.WithDescription("Envelopes appended to streams"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: queue_published_total: %v", err)
	}
	queueConsumed, err = meter.Int64Counter(
		"queue_consumed_total",
		otelmetric.WithDescription("Envelopes decoded by consumers"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: queue_consumed_total: %v", err)
	}
	queueAbsorbed, err = meter.Int64Counter(
		"queue_absorbed_total",
		otelmetric.WithDescription("Undecodable entries acked and dropped"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: queue_absorbed_total: %v", err)
	}
}

func recordPublished(ctx context.Context, eventType string) {
	queueMetricsOnce.Do(initQueueMetrics)
	if queuePublished == nil {
		return
	}
	queuePublished.Add(contextOrBackground(ctx), 1,
		otelmetric.WithAttributes(attribute.String("event_type", eventType)))
}

func recordConsumed(ctx context.Context, eventType string) {
	queueMetricsOnce.Do(initQueueMetrics)
	if queueConsumed == nil {
		return
	}
	queueConsumed.Add(contextOrBackground(ctx), 1,
		otelmetric.WithAttributes(attribute.String("event_type", eventType)))
}

func recordAbsorbed(ctx context.Context) {
	queueMetricsOnce.Do(initQueueMetrics)
	if queueAbsorbed == nil {
		return
	}
	queueAbsorbed.Add(contextOrBackground(ctx), 1)
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
