package aggregator

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
)

const meterName = "github.com/ethanteng/finsight-sub001/internal/aggregator"

var (
	failureCounter    metric.Int64Counter
	metricsOnce       sync.Once
	metricsRegistered bool
)

func initMetrics() {
	var err error
	failureCounter, err = otel.Meter(meterName).Int64Counter(
		"finsight.source.failures",
		metric.WithDescription("External source fetches that failed or were short-circuited"),
	)
	if err != nil {
		return
	}
	metricsRegistered = true
}

func recordFailure(ctx context.Context, sourceID string) {
	metricsOnce.Do(initMetrics)
	if !metricsRegistered {
		return
	}
	failureCounter.Add(ctx, 1, metric.WithAttributes(fsotel.SourceID.String(sourceID)))
}
