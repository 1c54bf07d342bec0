// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package signal defines the immutable evidence record exchanged between
// proposers and the consensus space.
//
// A Signal is one confidence-scored observation about a subject, produced
// by exactly one proposer. Signals are created through New, which stamps
// the id and timestamp and clamps the confidence into [0,1]. After
// construction a Signal is never modified in place; derivation helpers
// (WithMetadata, WithEarlyExit, ...) return copies.
package signal

import (
	"time"

	"github.com/google/uuid"
)

// EvidenceKind categorizes what an evidence reference points at.
type EvidenceKind string

const (
	// EvidenceDocument points at a stored document or payload.
	EvidenceDocument EvidenceKind = "document"

	// EvidenceLogRecord points at a log entry in an external store.
	EvidenceLogRecord EvidenceKind = "log_record"

	// EvidenceModelOutput points at a raw model response.
	EvidenceModelOutput EvidenceKind = "model_output"

	// EvidenceExternal points at an arbitrary external resource.
	EvidenceExternal EvidenceKind = "external"
)

// EvidenceRef is a pointer-like reference to supporting evidence.
//
// Evidence is never embedded raw in a signal; it is always referenced by
// store and id so the audit trail stays small and the consensus space
// never has to interpret payloads.
type EvidenceRef struct {
	// Kind is the category of evidence.
	Kind EvidenceKind `json:"kind"`

	// Store names the system holding the evidence (e.g. "badger", "gcs").
	Store string `json:"store"`

	// ID is the identifier within the store.
	ID string `json:"id"`

	// Locator optionally narrows the reference (offset, path, query).
	Locator string `json:"locator,omitempty"`

	// ContentHash optionally pins the referenced content (hex SHA-256).
	ContentHash string `json:"content_hash,omitempty"`
}

// Signal is one immutable unit of evidence about a subject.
type Signal struct {
	// ID uniquely identifies this signal.
	ID string `json:"id"`

	// SourceID identifies the proposer that produced this signal.
	SourceID string `json:"source_id"`

	// FactsSchemaID names the shape/version of Facts. Validation against
	// it happens once, at ingestion, and never again.
	FactsSchemaID string `json:"facts_schema_id"`

	// At is the creation timestamp stamped by the factory.
	At time.Time `json:"at"`

	// CorrelationID optionally links signals across an evaluation flow.
	CorrelationID string `json:"correlation_id,omitempty"`

	// SubjectID optionally names the subject this signal is about.
	SubjectID string `json:"subject_id,omitempty"`

	// Facts is the opaque schema-tagged payload. The core never
	// interprets it; registered validators do.
	Facts map[string]any `json:"facts,omitempty"`

	// Evidence references supporting material by pointer, never by value.
	Evidence []EvidenceRef `json:"evidence,omitempty"`

	// Confidence is the producer's confidence in [0,1]. 0.5 is neutral;
	// above is evidence toward a positive finding, below toward negative.
	Confidence float64 `json:"confidence"`

	// Embeddings optionally carries vector representations.
	Embeddings [][]float32 `json:"embeddings,omitempty"`

	// Metadata is an open key/value bag. The aggregator consults the
	// "weight" key during weight resolution.
	Metadata map[string]any `json:"metadata,omitempty"`

	// TriggerEarlyExit short-circuits fusion when set.
	TriggerEarlyExit bool `json:"trigger_early_exit,omitempty"`

	// EarlyExitClassification labels the short-circuit outcome
	// (e.g. "whitelisted", "verified-bad").
	EarlyExitClassification string `json:"early_exit_classification,omitempty"`
}

// MetadataWeightKey is the metadata key consulted during weight resolution.
const MetadataWeightKey = "weight"

// Option customizes a signal at construction time.
type Option func(*Signal)

// WithSubject sets the subject id.
func WithSubject(subjectID string) Option {
	return func(s *Signal) { s.SubjectID = subjectID }
}

// WithCorrelation sets the correlation id.
func WithCorrelation(correlationID string) Option {
	return func(s *Signal) { s.CorrelationID = correlationID }
}

// WithEvidence appends evidence references.
func WithEvidence(refs ...EvidenceRef) Option {
	return func(s *Signal) { s.Evidence = append(s.Evidence, refs...) }
}

// WithEmbeddings attaches embedding vectors.
func WithEmbeddings(vectors ...[]float32) Option {
	return func(s *Signal) { s.Embeddings = append(s.Embeddings, vectors...) }
}

// WithMetadataValue sets one metadata key at construction.
func WithMetadataValue(key string, value any) Option {
	return func(s *Signal) {
		if s.Metadata == nil {
			s.Metadata = make(map[string]any)
		}
		s.Metadata[key] = value
	}
}

// WithWeight sets the metadata weight consulted by the aggregator.
func WithWeight(weight float64) Option {
	return WithMetadataValue(MetadataWeightKey, weight)
}

// WithEarlyExitFlag marks the signal as an early-exit trigger.
func WithEarlyExitFlag(classification string) Option {
	return func(s *Signal) {
		s.TriggerEarlyExit = true
		s.EarlyExitClassification = classification
	}
}

// New creates a signal with a fresh id and timestamp.
//
// Description:
//
//	Stamps a uuid and the current time, clamps confidence into [0,1],
//	and applies the given options. This is the only way signals are
//	meant to be created; it guarantees every signal in the system
//	satisfies the confidence invariant.
//
// Inputs:
//
//	sourceID - Identity of the producing proposer.
//	schemaID - FactsSchemaID naming the shape of facts.
//	facts - Opaque payload. May be nil.
//	confidence - Raw confidence; values outside [0,1] are clamped.
//	opts - Optional construction hooks.
//
// Outputs:
//
//	Signal - The constructed signal (by value; signals are immutable).
func New(sourceID, schemaID string, facts map[string]any, confidence float64, opts ...Option) Signal {
	s := Signal{
		ID:            uuid.NewString(),
		SourceID:      sourceID,
		FactsSchemaID: schemaID,
		At:            time.Now().UTC(),
		Facts:         facts,
		Confidence:    ClampConfidence(confidence),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// ClampConfidence forces a raw confidence value into [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// WithMetadata returns a copy of the signal with one metadata key set.
//
// The receiver is not modified. The metadata map is copied so the original
// signal can never observe the change.
func (s Signal) WithMetadata(key string, value any) Signal {
	meta := make(map[string]any, len(s.Metadata)+1)
	for k, v := range s.Metadata {
		meta[k] = v
	}
	meta[key] = value
	s.Metadata = meta
	return s
}

// WithEarlyExit returns a copy marked as an early-exit trigger.
func (s Signal) WithEarlyExit(classification string) Signal {
	s.TriggerEarlyExit = true
	s.EarlyExitClassification = classification
	return s
}

// MetadataWeight reads the numeric weight from the metadata bag.
//
// Outputs:
//
//	float64 - The weight, if present and numeric.
//	bool - False when the key is absent or not a number.
func (s Signal) MetadataWeight() (float64, bool) {
	raw, ok := s.Metadata[MetadataWeightKey]
	if !ok {
		return 0, false
	}
	switch w := raw.(type) {
	case float64:
		return w, true
	case float32:
		return float64(w), true
	case int:
		return float64(w), true
	case int64:
		return float64(w), true
	default:
		return 0, false
	}
}
