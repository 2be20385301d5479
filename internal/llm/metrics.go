package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ethanteng/finsight-sub001/internal/llm"

var (
	costHistogram     metric.Float64Histogram
	tokenCounter      metric.Int64Counter
	metricsOnce       sync.Once
	metricsRegistered bool
)

func initMetrics() {
	meter := otel.Meter(meterName)
	var err error
	costHistogram, err = meter.Float64Histogram(
		"finsight.llm.cost",
		metric.WithDescription("Estimated cost in USD per model call"),
		metric.WithUnit("usd"),
	)
	if err != nil {
		return
	}
	tokenCounter, err = meter.Int64Counter(
		"finsight.llm.tokens",
		metric.WithDescription("Model tokens by direction"),
	)
	if err != nil {
		return
	}
	metricsRegistered = true
}

// RecordUsage records cost and token counts after a successful call.
func RecordUsage(ctx context.Context, provider Provider, resp *Response) {
	metricsOnce.Do(initMetrics)
	if !metricsRegistered || resp == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider.Name()),
		attribute.String("model", resp.Model),
	}
	costHistogram.Record(ctx, provider.EstimateCost(resp.Model, resp.InputTokens, resp.OutputTokens), metric.WithAttributes(attrs...))
	tokenCounter.Add(ctx, int64(resp.InputTokens), metric.WithAttributes(append(attrs, attribute.String("direction", "input"))...))
	tokenCounter.Add(ctx, int64(resp.OutputTokens), metric.WithAttributes(append(attrs, attribute.String("direction", "output"))...))
}
