// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package consensus

import (
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/signal"
)

// AuditSink receives ingestion outcomes as a best-effort side channel.
//
// # Description
//
// The space notifies the sink after every Ingest call. Sinks exist for
// observability and compliance trails only; they must never influence
// whether a signal is accepted. A panicking sink is swallowed by the
// space.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple
// ingesting goroutines.
type AuditSink interface {
	// SignalAccepted is called after a signal is appended.
	SignalAccepted(sig signal.Signal)

	// SignalRejected is called after a signal is refused, with the
	// rejection reason that was returned to the ingester.
	SignalRejected(sig signal.Signal, reason string)
}

// NopSink discards all audit events.
type NopSink struct{}

func (NopSink) SignalAccepted(signal.Signal)         {}
func (NopSink) SignalRejected(signal.Signal, string) {}

// SlogSink logs ingestion outcomes through a structured logger.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) SignalAccepted(sig signal.Signal) {
	s.Logger.Debug("signal accepted",
		"signal_id", sig.ID,
		"source_id", sig.SourceID,
		"schema_id", sig.FactsSchemaID,
		"confidence", sig.Confidence,
		"early_exit", sig.TriggerEarlyExit,
	)
}

func (s SlogSink) SignalRejected(sig signal.Signal, reason string) {
	s.Logger.Warn("signal rejected",
		"signal_id", sig.ID,
		"source_id", sig.SourceID,
		"schema_id", sig.FactsSchemaID,
		"reason", reason,
	)
}

// RecordingSink buffers audit events in memory. Intended for tests and
// one-shot CLI evaluations that want to print the ingestion trail.
type RecordingSink struct {
	mu       sync.Mutex
	accepted []signal.Signal
	rejected []RejectedSignal
}

// RejectedSignal pairs a refused signal with its rejection reason.
type RejectedSignal struct {
	Signal signal.Signal
	Reason string
}

func (r *RecordingSink) SignalAccepted(sig signal.Signal) {
	r.mu.Lock()
	r.accepted = append(r.accepted, sig)
	r.mu.Unlock()
}

func (r *RecordingSink) SignalRejected(sig signal.Signal, reason string) {
	r.mu.Lock()
	r.rejected = append(r.rejected, RejectedSignal{Signal: sig, Reason: reason})
	r.mu.Unlock()
}

// Accepted returns a copy of the accepted-signal trail.
func (r *RecordingSink) Accepted() []signal.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signal.Signal, len(r.accepted))
	copy(out, r.accepted)
	return out
}

// Rejected returns a copy of the rejection trail.
func (r *RecordingSink) Rejected() []RejectedSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RejectedSignal, len(r.rejected))
	copy(out, r.rejected)
	return out
}
