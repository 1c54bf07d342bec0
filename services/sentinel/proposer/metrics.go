// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proposer

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("sentinel.proposer")

var (
	proposalsTotal   metric.Int64Counter
	proposalDuration metric.Float64Histogram
	signalsIngested  metric.Int64Counter
	wavesTotal       metric.Int64Counter
	waveDuration     metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		proposalsTotal, err = meter.Int64Counter(
			"sentinel_proposals_total",
			metric.WithDescription("Total Propose calls by proposer and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		proposalDuration, err = meter.Float64Histogram(
			"sentinel_proposal_duration_seconds",
			metric.WithDescription("Propose call duration by proposer"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		signalsIngested, err = meter.Int64Counter(
			"sentinel_signals_ingested_total",
			metric.WithDescription("Signals offered to the consensus space by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		wavesTotal, err = meter.Int64Counter(
			"sentinel_waves_total",
			metric.WithDescription("Proposer waves by name and disposition"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		waveDuration, err = meter.Float64Histogram(
			"sentinel_wave_duration_seconds",
			metric.WithDescription("Wave wall time by name"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordProposal records one Propose call.
func recordProposal(ctx context.Context, name string, signals int, duration time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case signals == 0:
		outcome = "no_opinion"
	}
	attrs := metric.WithAttributes(
		attribute.String("proposer", name),
		attribute.String("outcome", outcome),
	)
	proposalsTotal.Add(ctx, 1, attrs)
	proposalDuration.Record(ctx, duration.Seconds(), attrs)
}

// recordIngestion records one consensus-space ingestion outcome.
func recordIngestion(ctx context.Context, name string, accepted bool) {
	if initMetrics() != nil {
		return
	}
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	signalsIngested.Add(ctx, 1, metric.WithAttributes(
		attribute.String("proposer", name),
		attribute.String("outcome", outcome),
	))
}

// recordWave records one wave's disposition ("ran", "gated", "skipped").
func recordWave(ctx context.Context, name, disposition string, duration time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("wave", name),
		attribute.String("disposition", disposition),
	)
	wavesTotal.Add(ctx, 1, attrs)
	if disposition == "ran" {
		waveDuration.Record(ctx, duration.Seconds(), attrs)
	}
}
