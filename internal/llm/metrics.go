package llm

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	llmMetricsOnce sync.Once
	completions    otelmetric.Int64Counter
	completionTime otelmetric.Float64Histogram
	tokensUsed     otelmetric.Int64Counter
)

func initLLMMetrics() {
	meter := otel.Meter("researcher/llm")
	var err error
	completions, err = meter.Int64Counter(
		"llm_completions_total",
		otelmetric.WithDescription("Chat completions by model and outcome"),
	)
	if err != nil {
		log.Printf("llm metrics init: llm_completions_total: %v", err)
	}
	completionTime, err = meter.Float64Histogram(
		"llm_completion_duration_seconds",
		otelmetric.WithDescription("Chat completion latency including retries"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("llm metrics init: llm_completion_duration_seconds: %v", err)
	}
	tokensUsed, err = meter.Int64Counter(
		"llm_tokens_total",
		otelmetric.WithDescription("Tokens consumed by chat completions"),
	)
	if err != nil {
		log.Printf("llm metrics init: llm_tokens_total: %v", err)
	}
}

func recordCompletion(ctx context.Context, model, outcome string, d time.Duration, tokens int) {
	llmMetricsOnce.Do(initLLMMetrics)
	if ctx == nil {
		ctx = context.Background()
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	)
	if completions != nil {
		completions.Add(ctx, 1, attrs)
	}
	if completionTime != nil {
		completionTime.Record(ctx, d.Seconds(), attrs)
	}
	if tokensUsed != nil && tokens > 0 {
		tokensUsed.Add(ctx, int64(tokens), otelmetric.WithAttributes(attribute.String("model", model)))
	}
}
