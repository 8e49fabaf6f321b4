package research

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
	runMetricsOnce  sync.Once
	runsTotal       otelmetric.Int64Counter
	runDuration     otelmetric.Float64Histogram
	sectionFailures otelmetric.Int64Counter
	surfaceWords    otelmetric.Int64Counter
)

func initRunMetrics() {
	meter := otel.Meter("researcher/research")
	var err error
	runsTotal, err = meter.Int64Counter(
		"research_runs_total",
		otelmetric.WithDescription("Research runs by terminal outcome"),
	)
	if err != nil {
		log.Printf("research metrics init: research_runs_total: %v", err)
	}
	runDuration, err = meter.Float64Histogram(
		"research_run_duration_seconds",
		otelmetric.WithDescription("Wall time of a research run from request to terminal event"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("research metrics init: research_run_duration_seconds: %v", err)
	}
	sectionFailures, err = meter.Int64Counter(
		"research_section_failures_total",
		otelmetric.WithDescription("Section generations that failed and were left pending"),
	)
	if err != nil {
		log.Printf("research metrics init: research_section_failures_total: %v", err)
	}
	surfaceWords, err = meter.Int64Counter(
		"research_surface_words_total",
		otelmetric.WithDescription("Words written across completed research surfaces"),
	)
	if err != nil {
		log.Printf("research metrics init: research_surface_words_total: %v", err)
	}
}

func recordRunOutcome(ctx context.Context, d time.Duration, outcome string, words int) {
	runMetricsOnce.Do(initRunMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("outcome", outcome))
	if runsTotal != nil {
		runsTotal.Add(contextOrBackground(ctx), 1, attrs)
	}
	if runDuration != nil {
		runDuration.Record(contextOrBackground(ctx), d.Seconds(), attrs)
	}
	if surfaceWords != nil && words > 0 {
		surfaceWords.Add(contextOrBackground(ctx), int64(words))
	}
}

func recordSectionFailure(ctx context.Context) {
	runMetricsOnce.Do(initRunMetrics)
	if sectionFailures != nil {
		sectionFailures.Add(contextOrBackground(ctx), 1)
	}
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
