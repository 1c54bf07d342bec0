// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package constrain

import (
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/aggregate"
)

func newDefaultConstrainer(t *testing.T) *Constrainer[Action] {
	t.Helper()
	c, err := NewDefault(DefaultConfig())
	if err != nil {
		t.Fatalf("NewDefault: %v", err)
	}
	return c
}

func result(score, confidence float64) *aggregate.Result {
	return &aggregate.Result{Score: score, Confidence: confidence}
}

func TestNew_InvalidLadders(t *testing.T) {
	t.Run("threshold out of range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ChallengeThreshold = 1.7
		if _, err := NewDefault(cfg); err == nil {
			t.Error("expected construction error")
		}
	})

	t.Run("allow above block", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ImmediateAllowThreshold = 0.9
		if _, err := NewDefault(cfg); err == nil {
			t.Error("expected construction error for inverted allow/block")
		}
	})

	t.Run("escalate above challenge", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.EscalateThreshold = 0.8
		if _, err := NewDefault(cfg); err == nil {
			t.Error("expected construction error for escalate above challenge")
		}
	})
}

func TestEvaluate_RuleLadder(t *testing.T) {
	c := newDefaultConstrainer(t)

	tests := []struct {
		name         string
		score        float64
		confidence   float64
		wantDecision Action
		wantContinue bool
		wantRule     string
	}{
		{"immediate block", 0.90, 0.8, ActionBlock, false, RuleImmediateBlock},
		{"block wins at exact threshold", 0.85, 0.1, ActionBlock, false, RuleImmediateBlock},
		{"immediate allow", 0.10, 0.6, ActionAllow, false, RuleImmediateAllow},
		{"low score low confidence falls through", 0.10, 0.3, ActionAllow, true, RuleDefaultAllow},
		{"challenge", 0.75, 0.9, ActionChallenge, false, RuleChallenge},
		{"escalate on uncertain mid score", 0.45, 0.2, ActionEscalate, true, RuleEscalate},
		{"confident mid score keeps accumulating", 0.45, 0.6, ActionAllow, true, RuleDefaultAllow},
		{"neutral default", 0.50, 0.1, ActionEscalate, true, RuleEscalate},
		{"below escalate keeps accumulating", 0.30, 0.1, ActionAllow, true, RuleDefaultAllow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Evaluate(result(tt.score, tt.confidence), nil)
			if got.Decision != tt.wantDecision {
				t.Errorf("decision = %s, want %s", got.Decision, tt.wantDecision)
			}
			if got.ShouldContinue != tt.wantContinue {
				t.Errorf("continue = %v, want %v", got.ShouldContinue, tt.wantContinue)
			}
			if got.TriggeredBy != tt.wantRule {
				t.Errorf("rule = %s, want %s", got.TriggeredBy, tt.wantRule)
			}
			if got.Reason == "" {
				t.Error("every branch must record a reason")
			}
		})
	}
}

func TestEvaluate_ContextEchoedNotConsulted(t *testing.T) {
	c := newDefaultConstrainer(t)

	evalCtx := map[string]any{"subject_kind": "login", "region": "us-east"}
	got := c.Evaluate(result(0.90, 0.8), evalCtx)

	if got.Decision != ActionBlock || got.TriggeredBy != RuleImmediateBlock {
		t.Errorf("context must not change the decision, got %s via %s", got.Decision, got.TriggeredBy)
	}
	if got.Context["subject_kind"] != "login" || got.Context["region"] != "us-east" {
		t.Errorf("context not echoed into the result: %v", got.Context)
	}

	// The echo is a copy; mutating the caller's map afterward must not
	// reach the recorded result.
	evalCtx["region"] = "eu-west"
	if got.Context["region"] != "us-east" {
		t.Error("result context must snapshot the input map")
	}

	if nilCtx := c.Evaluate(result(0.90, 0.8), nil); nilCtx.Context != nil {
		t.Errorf("nil context must stay nil, got %v", nilCtx.Context)
	}
}

func TestEvaluate_ReasonCarriesNumbers(t *testing.T) {
	c := newDefaultConstrainer(t)

	got := c.Evaluate(result(0.90, 0.8), nil)
	if !strings.Contains(got.Reason, "0.900") || !strings.Contains(got.Reason, "0.85") {
		t.Errorf("reason %q missing the numeric values that fired the rule", got.Reason)
	}
}

func TestEvaluate_EarlyExitMapping(t *testing.T) {
	c := newDefaultConstrainer(t)

	tests := []struct {
		classification string
		want           Action
	}{
		{"whitelisted", ActionAllow},
		{"verified-good", ActionAllow},
		{"allow", ActionAllow},
		{"WHITELISTED", ActionAllow}, // case-insensitive
		{"blacklisted", ActionBlock},
		{"verified-bad", ActionBlock},
		{"block", ActionBlock},
		{"challenge", ActionChallenge},
		{"anything-else", ActionAllow},
		{"", ActionAllow},
	}

	for _, tt := range tests {
		t.Run("classification "+tt.classification, func(t *testing.T) {
			res := &aggregate.Result{
				Score:                   0.99, // must be ignored under early exit
				Confidence:              1.0,
				EarlyExit:               true,
				EarlyExitClassification: tt.classification,
			}
			got := c.Evaluate(res, nil)
			if got.Decision != tt.want {
				t.Errorf("decision = %s, want %s", got.Decision, tt.want)
			}
			if got.ShouldContinue {
				t.Error("early exit must be terminal")
			}
			if got.TriggeredBy != RuleEarlyExit {
				t.Errorf("rule = %s, want %s", got.TriggeredBy, RuleEarlyExit)
			}
		})
	}
}

func TestEvaluate_CustomVocabulary(t *testing.T) {
	type verdict int
	const (
		pass verdict = iota
		deny
		verify
		review
	)

	c, err := New(DefaultConfig(), Vocabulary[verdict]{
		Allow:     pass,
		Block:     deny,
		Challenge: verify,
		Escalate:  review,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got := c.Evaluate(result(0.9, 0.8), nil); got.Decision != deny {
		t.Errorf("decision = %v, want deny", got.Decision)
	}
	if got := c.Evaluate(result(0.45, 0.1), nil); got.Decision != review {
		t.Errorf("decision = %v, want review", got.Decision)
	}
}
