// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package consensus implements the shared signal store for one evaluation
// session.
//
// The Space is a bus and memory, not an arbiter: it validates and stores
// signals, and it remembers the first early-exit signal, but it never
// makes decisions. It is the only component in the engine with shared
// mutable state; everything downstream (aggregation, constraining,
// trigger evaluation) is pure.
package consensus

import (
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/schema"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/signal"
)

// Config controls space behavior.
type Config struct {
	// MaxSignals bounds the number of signals stored per session.
	MaxSignals int `yaml:"max_signals"`

	// RequireRegisteredSchema rejects signals whose FactsSchemaID has no
	// registered validator instead of accepting them unvalidated.
	RequireRegisteredSchema bool `yaml:"require_registered_schema"`
}

// DefaultConfig returns sensible defaults for a single evaluation session.
func DefaultConfig() Config {
	return Config{
		MaxSignals:              256,
		RequireRegisteredSchema: false,
	}
}

// Validate fails fast on misconfiguration.
func (c Config) Validate() error {
	if c.MaxSignals <= 0 {
		return fmt.Errorf("consensus: MaxSignals must be positive, got %d", c.MaxSignals)
	}
	return nil
}

// Space is the concurrent, capacity-bounded, schema-validating signal
// store for one evaluation session.
//
// The capacity check, the append, and the early-exit bookkeeping form a
// single critical section, so under concurrent ingesters the list never
// exceeds MaxSignals and "first early-exit wins" is defined by the order
// in which ingesters win that section.
//
// Thread Safety: Safe for concurrent use.
type Space struct {
	cfg   Config
	audit AuditSink

	mu         sync.RWMutex
	signals    []signal.Signal
	validators map[string]schema.Validator
	earlyExit  *signal.Signal
}

// Option customizes a Space at construction.
type Option func(*Space)

// WithAuditSink attaches a best-effort audit sink. Sink failures never
// affect ingestion outcomes.
func WithAuditSink(sink AuditSink) Option {
	return func(s *Space) { s.audit = sink }
}

// NewSpace creates a space for one evaluation session.
//
// Inputs:
//
//	cfg - Space configuration. Validated fail-fast.
//	opts - Optional hooks (audit sink).
//
// Outputs:
//
//	*Space - The empty space.
//	error - Non-nil on invalid configuration.
func NewSpace(cfg Config, opts ...Option) (*Space, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Space{
		cfg:        cfg,
		audit:      NopSink{},
		validators: make(map[string]schema.Validator),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterSchema installs or replaces the validator for a schema id.
//
// Registration is typically a startup-time concern; last writer wins.
//
// Thread Safety: Safe under concurrent ingestion and reads.
func (s *Space) RegisterSchema(schemaID string, v schema.Validator) {
	if v == nil {
		v = schema.PassThrough()
	}
	s.mu.Lock()
	s.validators[schemaID] = v
	s.mu.Unlock()
}

// Ingest validates and stores one signal.
//
// Description:
//
//	Validation order: a registered validator for the signal's schema runs
//	first (a panicking validator is recovered and treated as a rejection);
//	otherwise RequireRegisteredSchema may reject; then the capacity check,
//	append, and early-exit bookkeeping happen atomically. Rejections are
//	returned as data, never as errors — ingestion has no error path.
//
// Inputs:
//
//	sig - The signal to store.
//
// Outputs:
//
//	accepted - True when the signal was appended.
//	reason - Non-empty rejection reason when accepted is false.
//
// Thread Safety: Safe for concurrent use.
func (s *Space) Ingest(sig signal.Signal) (accepted bool, reason string) {
	defer func() {
		s.recordAudit(sig, accepted, reason)
	}()

	v, registered := s.lookupValidator(sig.FactsSchemaID)
	if registered {
		if err := runValidator(v, sig.Facts); err != nil {
			return false, fmt.Sprintf("schema validation failed for %q: %v", sig.FactsSchemaID, err)
		}
	} else if s.cfg.RequireRegisteredSchema {
		return false, fmt.Sprintf("no validator registered for schema %q", sig.FactsSchemaID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.signals) >= s.cfg.MaxSignals {
		return false, fmt.Sprintf("space at capacity (%d signals)", s.cfg.MaxSignals)
	}

	s.signals = append(s.signals, sig)
	if sig.TriggerEarlyExit && s.earlyExit == nil {
		// First writer wins; later early-exit signals are stored
		// normally but never displace the recorded one.
		recorded := sig
		s.earlyExit = &recorded
	}
	return true, ""
}

// lookupValidator fetches the registered validator under the read lock.
func (s *Space) lookupValidator(schemaID string) (schema.Validator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.validators[schemaID]
	return v, ok
}

// runValidator executes a validator, converting panics into errors so a
// faulting custom validator can never corrupt space state.
func runValidator(v schema.Validator, facts map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panicked: %v", r)
		}
	}()
	return v.Validate(facts)
}

// recordAudit notifies the sink, swallowing panics; auditing is a
// best-effort side channel and must never affect ingestion outcomes.
func (s *Space) recordAudit(sig signal.Signal, accepted bool, reason string) {
	defer func() { _ = recover() }()
	if accepted {
		s.audit.SignalAccepted(sig)
	} else {
		s.audit.SignalRejected(sig, reason)
	}
}

// GetSignals returns a snapshot of all signals in append order.
//
// The returned slice is an independent copy; callers never hold the
// space lock while iterating.
func (s *Space) GetSignals() []signal.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]signal.Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

// GetSignalsFrom returns signals produced by one source.
func (s *Space) GetSignalsFrom(sourceID string) []signal.Signal {
	return s.filter(func(sig signal.Signal) bool { return sig.SourceID == sourceID })
}

// GetSignalsBySchema returns signals carrying one facts schema.
func (s *Space) GetSignalsBySchema(schemaID string) []signal.Signal {
	return s.filter(func(sig signal.Signal) bool { return sig.FactsSchemaID == schemaID })
}

// GetSignalsForSubject returns signals about one subject.
func (s *Space) GetSignalsForSubject(subjectID string) []signal.Signal {
	return s.filter(func(sig signal.Signal) bool { return sig.SubjectID == subjectID })
}

// GetSignalsByCorrelation returns signals sharing one correlation id.
func (s *Space) GetSignalsByCorrelation(correlationID string) []signal.Signal {
	return s.filter(func(sig signal.Signal) bool { return sig.CorrelationID == correlationID })
}

// filter snapshots matching signals under the read lock.
func (s *Space) filter(match func(signal.Signal) bool) []signal.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []signal.Signal
	for _, sig := range s.signals {
		if match(sig) {
			out = append(out, sig)
		}
	}
	return out
}

// Count returns the current number of stored signals.
func (s *Space) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.signals)
}

// HasEarlyExit reports whether an early-exit signal has been recorded.
func (s *Space) HasEarlyExit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.earlyExit != nil
}

// EarlyExitSignal returns a copy of the first-recorded early-exit signal.
//
// Outputs:
//
//	signal.Signal - The recorded signal (zero value when absent).
//	bool - False when no early-exit signal has been recorded.
func (s *Space) EarlyExitSignal() (signal.Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.earlyExit == nil {
		return signal.Signal{}, false
	}
	return *s.earlyExit, true
}

// Clear atomically empties the signal list and resets early-exit state,
// readying the space for the next session. Registered validators survive.
func (s *Space) Clear() {
	s.mu.Lock()
	s.signals = nil
	s.earlyExit = nil
	s.mu.Unlock()
}
