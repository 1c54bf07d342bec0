// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate fuses an unordered signal set into one calibrated
// judgment.
//
// Aggregation is a pure function: no I/O, no hidden state, safe to call
// concurrently. Each signal's confidence is mapped to a log-odds-like
// delta around 0.5, weighted by an ordered resolution cascade, summed,
// and squashed through a logistic sigmoid. Early-exit signals bypass the
// math entirely and force a Verified result.
package aggregate

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/signal"
)

// Band is the coarse classification bucket derived from fused score and
// confidence.
type Band string

const (
	BandUnknown  Band = "unknown"
	BandVeryLow  Band = "very_low"
	BandLow      Band = "low"
	BandMedium   Band = "medium"
	BandHigh     Band = "high"
	BandVeryHigh Band = "very_high"

	// BandVerified is reserved for early-exit results; fusion never
	// produces it on its own.
	BandVerified Band = "verified"
)

// WeightResolver externally overrides all other weight sources for a
// signal. The boolean reports whether the resolver has an opinion; false
// falls through to the next source in the cascade.
type WeightResolver func(sig signal.Signal) (float64, bool)

// Config controls fusion behavior. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// DefaultScore is returned for an empty (or fully weight-excluded)
	// signal set.
	DefaultScore float64 `yaml:"default_score"`

	// DefaultWeight is the final fallback of the weight cascade.
	DefaultWeight float64 `yaml:"default_weight"`

	// SchemaWeights maps FactsSchemaID to a weight, consulted after the
	// resolver and the signal's own metadata.
	SchemaWeights map[string]float64 `yaml:"schema_weights"`

	// ConfidenceWeightDivisor scales how much accumulated weight is
	// needed before weight alone yields full confidence.
	ConfidenceWeightDivisor float64 `yaml:"confidence_weight_divisor"`

	// LowConfidenceThreshold forces BandMedium below this confidence,
	// regardless of score.
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`

	// WeightResolver, when non-nil, is consulted first for every signal.
	WeightResolver WeightResolver `yaml:"-"`
}

// DefaultConfig returns the calibration used in production.
func DefaultConfig() Config {
	return Config{
		DefaultScore:            0.5,
		DefaultWeight:           1.0,
		ConfidenceWeightDivisor: 5.0,
		LowConfidenceThreshold:  0.3,
	}
}

// Validate fails fast on misconfiguration.
func (c Config) Validate() error {
	if c.DefaultScore < 0 || c.DefaultScore > 1 {
		return fmt.Errorf("aggregate: DefaultScore must be in [0,1], got %f", c.DefaultScore)
	}
	if c.ConfidenceWeightDivisor <= 0 {
		return fmt.Errorf("aggregate: ConfidenceWeightDivisor must be positive, got %f", c.ConfidenceWeightDivisor)
	}
	if c.LowConfidenceThreshold < 0 || c.LowConfidenceThreshold > 1 {
		return fmt.Errorf("aggregate: LowConfidenceThreshold must be in [0,1], got %f", c.LowConfidenceThreshold)
	}
	for schemaID, w := range c.SchemaWeights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("aggregate: schema weight for %q is not finite", schemaID)
		}
	}
	return nil
}

// SchemaStats is the per-schema explainability breakdown.
type SchemaStats struct {
	// SignalCount is the number of signals carrying this schema.
	SignalCount int `json:"signal_count"`

	// MeanConfidence is the unweighted average confidence of those
	// signals.
	MeanConfidence float64 `json:"mean_confidence"`
}

// Result is one calibrated judgment over a signal set. Created fresh per
// Aggregate call and never mutated after.
type Result struct {
	// Signals are all signals that were considered, in input order,
	// including any excluded from the weighted sum.
	Signals []signal.Signal `json:"signals,omitempty"`

	// Score is the fused score in [0,1]; 0.5 is neutral.
	Score float64 `json:"score"`

	// Confidence is how much the engine trusts Score, in [0,1].
	Confidence float64 `json:"confidence"`

	// Band is the coarse classification bucket.
	Band Band `json:"band"`

	// EarlyExit is true when a short-circuit signal bypassed fusion.
	EarlyExit bool `json:"early_exit"`

	// EarlyExitClassification is copied from the short-circuit signal.
	EarlyExitClassification string `json:"early_exit_classification,omitempty"`

	// SchemaBreakdown groups the considered signals by FactsSchemaID.
	SchemaBreakdown map[string]SchemaStats `json:"schema_breakdown,omitempty"`

	// ContributingProposers is the set of distinct SourceIDs across all
	// considered signals, including weight-excluded ones. Exclusion from
	// the math does not hide a proposer from the audit trail.
	ContributingProposers []string `json:"contributing_proposers,omitempty"`
}

// Aggregator fuses signals according to one fixed configuration.
//
// Thread Safety: Safe for concurrent use; Aggregate is pure.
type Aggregator struct {
	cfg Config
}

// New creates an aggregator, validating the configuration fail-fast.
func New(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{cfg: cfg}, nil
}

// Aggregate fuses a signal set into one Result.
//
// Description:
//
//	Empty input yields the configured default (DefaultScore, zero
//	confidence, BandUnknown). If any signal carries TriggerEarlyExit,
//	the first one in input order wins: Score becomes that signal's own
//	confidence, Confidence is forced to 1.0 and Band to BandVerified,
//	and all other signals contribute to the audit fields only.
//	Otherwise the weighted sigmoid fusion of the package doc runs.
//
// Inputs:
//
//	signals - The signal set, in ingestion order. Not mutated.
//
// Outputs:
//
//	*Result - Fresh result; never shared between calls.
func (a *Aggregator) Aggregate(signals []signal.Signal) *Result {
	if len(signals) == 0 {
		return a.defaultResult(nil)
	}

	res := &Result{
		Signals:               append([]signal.Signal(nil), signals...),
		SchemaBreakdown:       schemaBreakdown(signals),
		ContributingProposers: distinctSources(signals),
	}

	for _, sig := range signals {
		if sig.TriggerEarlyExit {
			res.Score = sig.Confidence
			res.Confidence = 1.0
			res.Band = BandVerified
			res.EarlyExit = true
			res.EarlyExitClassification = sig.EarlyExitClassification
			return res
		}
	}

	var weightedSum, totalWeight float64
	fused := 0
	for _, sig := range signals {
		weight := a.resolveWeight(sig)
		if weight <= 0 {
			// Excluded from the math, visible for audit.
			continue
		}
		delta := (sig.Confidence - 0.5) * 2
		weightedSum += delta * weight
		totalWeight += weight
		fused++
	}

	if fused == 0 {
		return a.defaultResult(res)
	}

	res.Score = sigmoid(weightedSum)

	evidenceStrength := math.Abs(res.Score-0.5) * 2
	weightFactor := math.Min(1, totalWeight/a.cfg.ConfidenceWeightDivisor)
	res.Confidence = math.Max(weightFactor, evidenceStrength)

	res.Band = a.band(res.Score, res.Confidence)
	return res
}

// defaultResult fills the configured no-evidence judgment, preserving
// any audit fields already collected.
func (a *Aggregator) defaultResult(res *Result) *Result {
	if res == nil {
		res = &Result{}
	}
	res.Score = a.cfg.DefaultScore
	res.Confidence = 0
	res.Band = BandUnknown
	return res
}

// resolveWeight walks the cascade: resolver fn, metadata bag, schema
// table, global default. Resolution is a pure function of the signal and
// the configuration.
func (a *Aggregator) resolveWeight(sig signal.Signal) float64 {
	if a.cfg.WeightResolver != nil {
		if w, ok := a.cfg.WeightResolver(sig); ok {
			return w
		}
	}
	if w, ok := sig.MetadataWeight(); ok {
		return w
	}
	if w, ok := a.cfg.SchemaWeights[sig.FactsSchemaID]; ok {
		return w
	}
	return a.cfg.DefaultWeight
}

// band maps fused score and confidence to a bucket. Low confidence
// clamps to BandMedium so an uncertain judgment never reads as extreme.
func (a *Aggregator) band(score, confidence float64) Band {
	if confidence < a.cfg.LowConfidenceThreshold {
		return BandMedium
	}
	switch {
	case score < 0.1:
		return BandVeryLow
	case score < 0.3:
		return BandLow
	case score < 0.5:
		return BandMedium
	case score < 0.7:
		return BandHigh
	default:
		return BandVeryHigh
	}
}

// sigmoid is the logistic squash used for fusion.
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// schemaBreakdown groups signals by schema with unweighted mean
// confidence per group.
func schemaBreakdown(signals []signal.Signal) map[string]SchemaStats {
	confidences := make(map[string][]float64)
	for _, sig := range signals {
		confidences[sig.FactsSchemaID] = append(confidences[sig.FactsSchemaID], sig.Confidence)
	}

	out := make(map[string]SchemaStats, len(confidences))
	for schemaID, values := range confidences {
		mean, err := stats.Mean(values)
		if err != nil {
			mean = 0
		}
		out[schemaID] = SchemaStats{
			SignalCount:    len(values),
			MeanConfidence: mean,
		}
	}
	return out
}

// distinctSources returns the set of SourceIDs in first-seen order.
func distinctSources(signals []signal.Signal) []string {
	seen := make(map[string]struct{}, len(signals))
	var out []string
	for _, sig := range signals {
		if _, ok := seen[sig.SourceID]; ok {
			continue
		}
		seen[sig.SourceID] = struct{}{}
		out = append(out, sig.SourceID)
	}
	return out
}
