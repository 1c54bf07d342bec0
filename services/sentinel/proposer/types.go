// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proposer contains the evidence producers and the wave
// orchestrator that drives them.
//
// Proposers are the only components in the system that perform I/O or
// block on external latency. Each proposer examines a subject and emits
// zero or more confidence-scored signals into the consensus space; the
// orchestrator runs proposers in priority-grouped waves, aggregates
// between waves, and consults trigger conditions before launching the
// next wave.
package proposer

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/signal"
)

// Subject is the opaque evaluation target handed to every proposer.
type Subject struct {
	// ID identifies the subject (request id, account id, message id).
	ID string `json:"id"`

	// Kind labels what the subject is ("http_request", "message", ...).
	Kind string `json:"kind,omitempty"`

	// Content is the free-text body proposers scan.
	Content string `json:"content,omitempty"`

	// Attributes carries structured subject properties (ip, user agent,
	// account age, ...). Keys are proposer-defined.
	Attributes map[string]string `json:"attributes,omitempty"`

	// CorrelationID links the signals of one evaluation flow.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Proposer produces signals about a subject.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the orchestrator may
// run the same proposer against different subjects simultaneously.
//
// # Error Handling
//
// A proposer error means the proposer could not form an opinion; the
// orchestrator logs it and carries on with the remaining proposers. It
// never aborts the evaluation.
type Proposer interface {
	// Name identifies the proposer; it becomes the SourceID of every
	// signal it emits.
	Name() string

	// Priority orders proposers into waves; higher runs earlier. Cheap
	// heuristics belong in high-priority waves so expensive proposers
	// can be skipped when the early waves already decide.
	Priority() int

	// Timeout bounds one Propose call. Zero means the orchestrator
	// default applies.
	Timeout() time.Duration

	// Propose examines the subject and returns signals. An empty slice
	// with nil error means "no opinion".
	Propose(ctx context.Context, subject *Subject) ([]signal.Signal, error)
}
