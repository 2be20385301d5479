package cache

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ethanteng/finsight-sub001/internal/cache"

var (
	lookupCounter     metric.Int64Counter
	evictionCounter   metric.Int64Counter
	metricsOnce       sync.Once
	metricsRegistered bool
)

func initMetrics() {
	var err error
	lookupCounter, err = otel.Meter(meterName).Int64Counter(
		"finsight.cache.lookups",
		metric.WithDescription("Source cache lookups by outcome (hit, miss, expired)"),
	)
	if err != nil {
		return
	}
	evictionCounter, err = otel.Meter(meterName).Int64Counter(
		"finsight.cache.evictions",
		metric.WithDescription("Entries dropped because the cache was full"),
	)
	if err != nil {
		return
	}
	metricsRegistered = true
}

func recordLookup(ctx context.Context, cacheName, key, outcome string) {
	metricsOnce.Do(initMetrics)
	if !metricsRegistered {
		return
	}
	lookupCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cacheName),
		attribute.String("key", key),
		attribute.String("outcome", outcome),
	))
}

func recordEviction(cacheName string) {
	metricsOnce.Do(initMetrics)
	if !metricsRegistered {
		return
	}
	evictionCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("cache", cacheName)))
}
