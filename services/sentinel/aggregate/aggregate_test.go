// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregate

import (
	"math"
	"testing"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/signal"
)

func newTestAggregator(t *testing.T, cfg Config) *Aggregator {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative default score", func(c *Config) { c.DefaultScore = -0.1 }},
		{"default score above one", func(c *Config) { c.DefaultScore = 1.1 }},
		{"zero divisor", func(c *Config) { c.ConfidenceWeightDivisor = 0 }},
		{"negative low-confidence threshold", func(c *Config) { c.LowConfidenceThreshold = -1 }},
		{"non-finite schema weight", func(c *Config) {
			c.SchemaWeights = map[string]float64{"facts.v1": math.NaN()}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("expected construction error")
			}
		})
	}
}

func TestAggregate_EmptyInput(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	res := a.Aggregate(nil)

	if res.Score != 0.5 || res.Confidence != 0 || res.Band != BandUnknown {
		t.Errorf("got score=%f conf=%f band=%s, want 0.5/0/unknown", res.Score, res.Confidence, res.Band)
	}
	if len(res.ContributingProposers) != 0 {
		t.Error("expected no contributors for empty input")
	}
}

func TestAggregate_SingleHighConfidenceSignal(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	res := a.Aggregate([]signal.Signal{
		signal.New("det.a", "facts.v1", nil, 0.95),
	})

	// delta = 0.9, weight 1 -> sigmoid(0.9) ~ 0.711
	want := 1 / (1 + math.Exp(-0.9))
	if math.Abs(res.Score-want) > 1e-9 {
		t.Errorf("score = %f, want %f", res.Score, want)
	}
	if res.Band != BandHigh && res.Band != BandVeryHigh {
		t.Errorf("band = %s, want high or very_high", res.Band)
	}
}

func TestAggregate_SingleLowConfidenceSignal(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	res := a.Aggregate([]signal.Signal{
		signal.New("det.a", "facts.v1", nil, 0.05),
	})

	want := 1 / (1 + math.Exp(0.9)) // sigmoid(-0.9) ~ 0.289
	if math.Abs(res.Score-want) > 1e-9 {
		t.Errorf("score = %f, want %f", res.Score, want)
	}
	if res.Band != BandVeryLow && res.Band != BandLow {
		t.Errorf("band = %s, want very_low or low", res.Band)
	}
}

func TestAggregate_MonotonicAccumulation(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	one := a.Aggregate([]signal.Signal{
		signal.New("det.a", "facts.v1", nil, 0.98),
	})
	other := a.Aggregate([]signal.Signal{
		signal.New("det.b", "facts.v1", nil, 0.95),
	})
	both := a.Aggregate([]signal.Signal{
		signal.New("det.a", "facts.v1", nil, 0.98),
		signal.New("det.b", "facts.v1", nil, 0.95),
	})

	if both.Score <= one.Score || both.Score <= other.Score {
		t.Errorf("fused score %f not greater than singles %f, %f", both.Score, one.Score, other.Score)
	}
	if both.Band != BandVeryHigh {
		t.Errorf("band = %s, want very_high", both.Band)
	}
}

func TestAggregate_EarlyExitOverridesEverything(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	signals := []signal.Signal{
		signal.New("det.a", "facts.v1", nil, 0.1),
		signal.New("det.allowlist", "facts.v1", nil, 0.02, signal.WithEarlyExitFlag("whitelisted")),
		signal.New("det.b", "facts.v1", nil, 0.99, signal.WithEarlyExitFlag("blacklisted")),
	}
	res := a.Aggregate(signals)

	if !res.EarlyExit {
		t.Fatal("expected early exit")
	}
	if res.EarlyExitClassification != "whitelisted" {
		t.Errorf("classification = %q, want first early-exit signal's", res.EarlyExitClassification)
	}
	if res.Score != 0.02 {
		t.Errorf("score = %f, want the early-exit signal's own confidence", res.Score)
	}
	if res.Confidence != 1.0 || res.Band != BandVerified {
		t.Errorf("conf=%f band=%s, want 1.0/verified", res.Confidence, res.Band)
	}
	// Audit fields still reflect the full set.
	if len(res.Signals) != 3 || len(res.ContributingProposers) != 3 {
		t.Error("early exit must not hide signals from the audit trail")
	}
}

func TestAggregate_WeightCascade(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SchemaWeights = map[string]float64{"facts.weighted": 3.0}
	a := newTestAggregator(t, cfg)

	t.Run("schema table beats default", func(t *testing.T) {
		light := a.Aggregate([]signal.Signal{signal.New("d", "facts.v1", nil, 0.9)})
		heavy := a.Aggregate([]signal.Signal{signal.New("d", "facts.weighted", nil, 0.9)})
		if heavy.Score <= light.Score {
			t.Errorf("schema-weighted score %f not above default-weighted %f", heavy.Score, light.Score)
		}
	})

	t.Run("metadata beats schema table", func(t *testing.T) {
		res := a.Aggregate([]signal.Signal{
			signal.New("d", "facts.weighted", nil, 0.9, signal.WithWeight(0.5)),
		})
		want := sigmoid(0.8 * 0.5)
		if math.Abs(res.Score-want) > 1e-9 {
			t.Errorf("score = %f, want metadata-weighted %f", res.Score, want)
		}
	})

	t.Run("resolver beats metadata", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.WeightResolver = func(sig signal.Signal) (float64, bool) { return 2.0, true }
		a := newTestAggregator(t, cfg)

		res := a.Aggregate([]signal.Signal{
			signal.New("d", "facts.v1", nil, 0.9, signal.WithWeight(0.5)),
		})
		want := sigmoid(0.8 * 2.0)
		if math.Abs(res.Score-want) > 1e-9 {
			t.Errorf("score = %f, want resolver-weighted %f", res.Score, want)
		}
	})

	t.Run("resolver decline falls through", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.WeightResolver = func(sig signal.Signal) (float64, bool) { return 0, false }
		a := newTestAggregator(t, cfg)

		res := a.Aggregate([]signal.Signal{
			signal.New("d", "facts.v1", nil, 0.9, signal.WithWeight(0.5)),
		})
		want := sigmoid(0.8 * 0.5)
		if math.Abs(res.Score-want) > 1e-9 {
			t.Errorf("score = %f, want metadata-weighted %f", res.Score, want)
		}
	})
}

func TestAggregate_ZeroWeightExcludedFromMathNotAudit(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	res := a.Aggregate([]signal.Signal{
		signal.New("det.a", "facts.v1", nil, 0.9),
		signal.New("det.muted", "facts.v1", nil, 0.99, signal.WithWeight(0)),
	})

	want := sigmoid(0.8) // only det.a contributes
	if math.Abs(res.Score-want) > 1e-9 {
		t.Errorf("score = %f, want %f with muted signal excluded", res.Score, want)
	}
	if len(res.ContributingProposers) != 2 {
		t.Error("muted signal must stay visible in contributors")
	}
	if res.SchemaBreakdown["facts.v1"].SignalCount != 2 {
		t.Error("muted signal must stay visible in schema breakdown")
	}
}

func TestAggregate_AllWeightsExcludedYieldsDefault(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	res := a.Aggregate([]signal.Signal{
		signal.New("det.a", "facts.v1", nil, 0.9, signal.WithWeight(0)),
		signal.New("det.b", "facts.v1", nil, 0.2, signal.WithWeight(-1)),
	})

	if res.Score != 0.5 || res.Confidence != 0 || res.Band != BandUnknown {
		t.Errorf("got score=%f conf=%f band=%s, want default 0.5/0/unknown", res.Score, res.Confidence, res.Band)
	}
	if len(res.ContributingProposers) != 2 {
		t.Error("excluded signals must remain in contributors")
	}
}

func TestAggregate_LowConfidenceClampsBandToMedium(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceWeightDivisor = 100 // keep weightFactor tiny
	a := newTestAggregator(t, cfg)

	// One barely-positive signal: evidence strength and weight factor both low.
	res := a.Aggregate([]signal.Signal{
		signal.New("det.a", "facts.v1", nil, 0.55),
	})

	if res.Confidence >= cfg.LowConfidenceThreshold {
		t.Fatalf("test setup: confidence %f not below threshold", res.Confidence)
	}
	if res.Band != BandMedium {
		t.Errorf("band = %s, want medium under low confidence", res.Band)
	}
}

func TestAggregate_ConfidenceIsMaxOfWeightAndEvidence(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	// Five default-weight signals at neutral confidence: zero evidence
	// strength but full weight factor (totalWeight/divisor = 1).
	var signals []signal.Signal
	for i := 0; i < 5; i++ {
		signals = append(signals, signal.New("det.a", "facts.v1", nil, 0.5))
	}
	res := a.Aggregate(signals)

	if res.Confidence != 1.0 {
		t.Errorf("confidence = %f, want 1.0 from weight factor alone", res.Confidence)
	}
	if res.Score != 0.5 {
		t.Errorf("score = %f, want neutral 0.5", res.Score)
	}
}

func TestAggregate_SchemaBreakdown(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())

	res := a.Aggregate([]signal.Signal{
		signal.New("det.a", "facts.v1", nil, 0.2),
		signal.New("det.b", "facts.v1", nil, 0.4),
		signal.New("det.c", "facts.v2", nil, 0.9),
	})

	v1 := res.SchemaBreakdown["facts.v1"]
	if v1.SignalCount != 2 || math.Abs(v1.MeanConfidence-0.3) > 1e-9 {
		t.Errorf("facts.v1 breakdown = %+v, want count=2 mean=0.3", v1)
	}
	v2 := res.SchemaBreakdown["facts.v2"]
	if v2.SignalCount != 1 || v2.MeanConfidence != 0.9 {
		t.Errorf("facts.v2 breakdown = %+v, want count=1 mean=0.9", v2)
	}
}

func TestAggregate_DoesNotMutateInput(t *testing.T) {
	a := newTestAggregator(t, DefaultConfig())
	in := []signal.Signal{signal.New("det.a", "facts.v1", nil, 0.9)}

	res := a.Aggregate(in)
	res.Signals[0].SourceID = "mutated"

	if in[0].SourceID != "det.a" {
		t.Error("aggregation mutated or aliased the input slice")
	}
}
