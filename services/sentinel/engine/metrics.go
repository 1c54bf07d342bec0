// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("sentinel.engine")

var (
	evaluationsTotal   metric.Int64Counter
	evaluationDuration metric.Float64Histogram
	verdictScore       metric.Float64Histogram
	verdictConfidence  metric.Float64Histogram
	cacheEventsTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		evaluationsTotal, err = meter.Int64Counter(
			"sentinel_evaluations_total",
			metric.WithDescription("Evaluations by decision, band, and cache status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evaluationDuration, err = meter.Float64Histogram(
			"sentinel_evaluation_duration_seconds",
			metric.WithDescription("End-to-end evaluation wall time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		verdictScore, err = meter.Float64Histogram(
			"sentinel_verdict_score",
			metric.WithDescription("Fused evidence score distribution"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		verdictConfidence, err = meter.Float64Histogram(
			"sentinel_verdict_confidence",
			metric.WithDescription("Verdict confidence distribution"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheEventsTotal, err = meter.Int64Counter(
			"sentinel_verdict_cache_events_total",
			metric.WithDescription("Verdict cache lookups by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordEvaluation records one completed evaluation.
func recordEvaluation(ctx context.Context, v *Verdict, duration time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("decision", string(v.Decision)),
		attribute.String("band", string(v.Band)),
		attribute.Bool("cached", v.Cached),
	)
	evaluationsTotal.Add(ctx, 1, attrs)
	evaluationDuration.Record(ctx, duration.Seconds(), attrs)
	if !v.Cached {
		verdictScore.Record(ctx, v.Score)
		verdictConfidence.Record(ctx, v.Confidence)
	}
}

// recordCacheEvent records one verdict cache lookup outcome.
func recordCacheEvent(ctx context.Context, outcome string) {
	if initMetrics() != nil {
		return
	}
	cacheEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
