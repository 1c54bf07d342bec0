// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package constrain turns an aggregated judgment into an actionable
// decision.
//
// The constrainer is the only component permitted to emit a decision and
// contains zero probabilistic logic: a fixed threshold ladder, evaluated
// top to bottom, first match wins. Keeping this stage deterministic and
// auditable is the point of the architecture — no side-effecting action
// can ever be triggered directly by a probabilistic judgment.
//
// The decision vocabulary is generic; hosts substitute their own type by
// instantiating Constrainer with a different Vocabulary.
package constrain

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/aggregate"
)

// Action is the default decision vocabulary.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionBlock     Action = "block"
	ActionChallenge Action = "challenge"
	ActionThrottle  Action = "throttle"
	ActionEscalate  Action = "escalate"
)

// Rule names recorded in Result.TriggeredBy.
const (
	RuleEarlyExit      = "early-exit"
	RuleImmediateBlock = "immediate-block"
	RuleImmediateAllow = "immediate-allow"
	RuleChallenge      = "challenge"
	RuleEscalate       = "escalate"
	RuleDefaultAllow   = "default-allow"
)

// Vocabulary maps the ladder's abstract outcomes onto a host decision
// type.
type Vocabulary[D any] struct {
	Allow     D
	Block     D
	Challenge D
	Escalate  D
}

// DefaultVocabulary returns the shipped five-action vocabulary (Throttle
// is available to hosts composing their own rules but the default ladder
// never emits it).
func DefaultVocabulary() Vocabulary[Action] {
	return Vocabulary[Action]{
		Allow:     ActionAllow,
		Block:     ActionBlock,
		Challenge: ActionChallenge,
		Escalate:  ActionEscalate,
	}
}

// Config holds the threshold ladder. Defaults per DefaultConfig.
type Config struct {
	// ImmediateBlockThreshold blocks at or above this score.
	ImmediateBlockThreshold float64 `yaml:"immediate_block_threshold"`

	// ImmediateAllowThreshold allows at or below this score, provided
	// confidence is at least MinConfidenceForAllow.
	ImmediateAllowThreshold float64 `yaml:"immediate_allow_threshold"`

	// ChallengeThreshold challenges at or above this score.
	ChallengeThreshold float64 `yaml:"challenge_threshold"`

	// EscalateThreshold escalates at or above this score when
	// confidence is below MinConfidenceForDecision.
	EscalateThreshold float64 `yaml:"escalate_threshold"`

	// MinConfidenceForAllow gates the immediate-allow rule.
	MinConfidenceForAllow float64 `yaml:"min_confidence_for_allow"`

	// MinConfidenceForDecision gates the escalate rule.
	MinConfidenceForDecision float64 `yaml:"min_confidence_for_decision"`
}

// DefaultConfig returns the production threshold ladder.
func DefaultConfig() Config {
	return Config{
		ImmediateBlockThreshold:  0.85,
		ImmediateAllowThreshold:  0.15,
		ChallengeThreshold:       0.70,
		EscalateThreshold:        0.40,
		MinConfidenceForAllow:    0.5,
		MinConfidenceForDecision: 0.3,
	}
}

// Validate fails fast on ladders that cannot be evaluated sensibly.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"ImmediateBlockThreshold":  c.ImmediateBlockThreshold,
		"ImmediateAllowThreshold":  c.ImmediateAllowThreshold,
		"ChallengeThreshold":       c.ChallengeThreshold,
		"EscalateThreshold":        c.EscalateThreshold,
		"MinConfidenceForAllow":    c.MinConfidenceForAllow,
		"MinConfidenceForDecision": c.MinConfidenceForDecision,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("constrain: %s must be in [0,1], got %f", name, v)
		}
	}
	if c.ImmediateAllowThreshold >= c.ImmediateBlockThreshold {
		return fmt.Errorf("constrain: ImmediateAllowThreshold (%f) must be below ImmediateBlockThreshold (%f)",
			c.ImmediateAllowThreshold, c.ImmediateBlockThreshold)
	}
	if c.EscalateThreshold > c.ChallengeThreshold {
		return fmt.Errorf("constrain: EscalateThreshold (%f) must not exceed ChallengeThreshold (%f)",
			c.EscalateThreshold, c.ChallengeThreshold)
	}
	return nil
}

// Result is one deterministic decision. Created fresh per Evaluate call.
type Result[D any] struct {
	// Decision is the actionable outcome in the host vocabulary.
	Decision D `json:"decision"`

	// ShouldContinue is true when the orchestrator may run further
	// proposer waves to accumulate more evidence.
	ShouldContinue bool `json:"should_continue"`

	// Reason records the numeric values that fired the rule.
	Reason string `json:"reason"`

	// TriggeredBy names the rule that produced the decision.
	TriggeredBy string `json:"triggered_by"`

	// Context echoes the evaluation context passed to Evaluate, for
	// audit trails. Never consulted by the ladder itself.
	Context map[string]any `json:"context,omitempty"`
}

// Constrainer applies the threshold ladder for one vocabulary.
//
// Thread Safety: Safe for concurrent use; Evaluate is pure.
type Constrainer[D any] struct {
	cfg   Config
	vocab Vocabulary[D]
}

// New creates a constrainer, validating the ladder fail-fast.
func New[D any](cfg Config, vocab Vocabulary[D]) (*Constrainer[D], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Constrainer[D]{cfg: cfg, vocab: vocab}, nil
}

// NewDefault creates a constrainer over the shipped Action vocabulary.
func NewDefault(cfg Config) (*Constrainer[Action], error) {
	return New(cfg, DefaultVocabulary())
}

// Evaluate maps an aggregated result to a decision.
//
// Description:
//
//	Rules are evaluated top to bottom; the first match wins:
//
//	 1. Early exit: classification maps directly to a terminal decision.
//	 2. Score at or above the block threshold: terminal block.
//	 3. Score at or below the allow threshold with enough confidence:
//	    terminal allow.
//	 4. Score at or above the challenge threshold: terminal challenge.
//	 5. Score at or above the escalate threshold with low confidence:
//	    escalate, continue accumulating.
//	 6. Otherwise: allow, continue accumulating.
//
// Inputs:
//
//	res - The aggregated judgment. Must be non-nil and well-formed
//	      (scores/confidences already in [0,1] by construction upstream).
//	evalCtx - Opaque host context (subject attributes, session data).
//	      Echoed into Result.Context for audit; never read by the
//	      ladder, so it cannot change the decision. May be nil.
//
// Outputs:
//
//	Result[D] - Decision plus continue flag, reason, and rule name.
func (c *Constrainer[D]) Evaluate(res *aggregate.Result, evalCtx map[string]any) Result[D] {
	out := c.decide(res)
	if len(evalCtx) > 0 {
		out.Context = make(map[string]any, len(evalCtx))
		for k, v := range evalCtx {
			out.Context[k] = v
		}
	}
	return out
}

// decide runs the ladder proper. First match wins.
func (c *Constrainer[D]) decide(res *aggregate.Result) Result[D] {
	if res.EarlyExit {
		return Result[D]{
			Decision:       c.earlyExitDecision(res.EarlyExitClassification),
			ShouldContinue: false,
			Reason: fmt.Sprintf("early exit with classification %q (confidence=%.2f)",
				res.EarlyExitClassification, res.Confidence),
			TriggeredBy: RuleEarlyExit,
		}
	}

	score, conf := res.Score, res.Confidence

	if score >= c.cfg.ImmediateBlockThreshold {
		return Result[D]{
			Decision:       c.vocab.Block,
			ShouldContinue: false,
			Reason: fmt.Sprintf("score %.3f >= block threshold %.2f",
				score, c.cfg.ImmediateBlockThreshold),
			TriggeredBy: RuleImmediateBlock,
		}
	}

	if score <= c.cfg.ImmediateAllowThreshold && conf >= c.cfg.MinConfidenceForAllow {
		return Result[D]{
			Decision:       c.vocab.Allow,
			ShouldContinue: false,
			Reason: fmt.Sprintf("score %.3f <= allow threshold %.2f with confidence %.2f >= %.2f",
				score, c.cfg.ImmediateAllowThreshold, conf, c.cfg.MinConfidenceForAllow),
			TriggeredBy: RuleImmediateAllow,
		}
	}

	if score >= c.cfg.ChallengeThreshold {
		return Result[D]{
			Decision:       c.vocab.Challenge,
			ShouldContinue: false,
			Reason: fmt.Sprintf("score %.3f >= challenge threshold %.2f",
				score, c.cfg.ChallengeThreshold),
			TriggeredBy: RuleChallenge,
		}
	}

	if score >= c.cfg.EscalateThreshold && conf < c.cfg.MinConfidenceForDecision {
		return Result[D]{
			Decision:       c.vocab.Escalate,
			ShouldContinue: true,
			Reason: fmt.Sprintf("score %.3f >= escalate threshold %.2f with confidence %.2f < %.2f; need more evidence",
				score, c.cfg.EscalateThreshold, conf, c.cfg.MinConfidenceForDecision),
			TriggeredBy: RuleEscalate,
		}
	}

	return Result[D]{
		Decision:       c.vocab.Allow,
		ShouldContinue: true,
		Reason: fmt.Sprintf("no threshold crossed (score %.3f, confidence %.2f); keep accumulating",
			score, conf),
		TriggeredBy: RuleDefaultAllow,
	}
}

// earlyExitDecision maps a classification string onto the vocabulary.
// Unrecognized classifications default to Allow.
func (c *Constrainer[D]) earlyExitDecision(classification string) D {
	switch strings.ToLower(classification) {
	case "verified-bad", "blacklisted", "block":
		return c.vocab.Block
	case "challenge":
		return c.vocab.Challenge
	case "verified-good", "whitelisted", "allow":
		return c.vocab.Allow
	default:
		return c.vocab.Allow
	}
}
