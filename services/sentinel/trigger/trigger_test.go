// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trigger

import "testing"

// literal is a test condition with a fixed truth value.
type literal bool

func (l literal) IsSatisfied(State) bool { return bool(l) }
func (l literal) Describe() string {
	if l {
		return "true"
	}
	return "false"
}

func TestKeyExists(t *testing.T) {
	c := KeyExists("wave")

	if !c.IsSatisfied(State{"wave": 1}) {
		t.Error("expected satisfied when key present")
	}
	if c.IsSatisfied(State{}) {
		t.Error("expected unsatisfied when key missing")
	}
	if c.IsSatisfied(nil) {
		t.Error("must be total over a nil state")
	}
}

func TestKeyEquals_TypeChecked(t *testing.T) {
	c := KeyEquals("mode", "strict")

	if !c.IsSatisfied(State{"mode": "strict"}) {
		t.Error("expected match on equal string")
	}
	if c.IsSatisfied(State{"mode": "lenient"}) {
		t.Error("expected mismatch on different value")
	}
	if c.IsSatisfied(State{}) {
		t.Error("missing key must fail, not panic")
	}

	// Same textual value, different dynamic type: never matches.
	n := KeyEquals("count", 3)
	if n.IsSatisfied(State{"count": int64(3)}) {
		t.Error("expected type-checked comparison to reject int64 vs int")
	}
	if !n.IsSatisfied(State{"count": 3}) {
		t.Error("expected match on identical type and value")
	}
}

func TestKeySatisfies(t *testing.T) {
	c := KeySatisfies("score", "above_half", func(v any) bool {
		f, ok := v.(float64)
		return ok && f > 0.5
	})

	if !c.IsSatisfied(State{"score": 0.7}) {
		t.Error("expected predicate to accept 0.7")
	}
	if c.IsSatisfied(State{"score": 0.2}) {
		t.Error("expected predicate to reject 0.2")
	}
	if c.IsSatisfied(State{}) {
		t.Error("missing key must fail the predicate")
	}
}

func TestMinProposersCompleted(t *testing.T) {
	c := MinProposersCompleted(3)

	if !c.IsSatisfied(State{StateKeyProposersCompleted: 3}) {
		t.Error("expected satisfied at exactly n")
	}
	if c.IsSatisfied(State{StateKeyProposersCompleted: 2}) {
		t.Error("expected unsatisfied below n")
	}
	if c.IsSatisfied(State{}) {
		t.Error("expected unsatisfied with no count recorded")
	}
	if c.IsSatisfied(State{StateKeyProposersCompleted: "three"}) {
		t.Error("mistyped value must fail, not panic")
	}
}

func TestMinAggregatedScore(t *testing.T) {
	c := MinAggregatedScore(0.4)

	if !c.IsSatisfied(State{StateKeyAggregatedScore: 0.4}) {
		t.Error("expected satisfied at exactly the threshold")
	}
	if c.IsSatisfied(State{StateKeyAggregatedScore: 0.39}) {
		t.Error("expected unsatisfied below the threshold")
	}
	if c.IsSatisfied(State{}) {
		t.Error("expected unsatisfied with no score recorded")
	}
}

func TestAnyOf(t *testing.T) {
	if !AnyOf(literal(false), literal(false), literal(true)).IsSatisfied(nil) {
		t.Error("AnyOf(false,false,true) must be true")
	}
	if AnyOf(literal(false), literal(false)).IsSatisfied(nil) {
		t.Error("AnyOf(false,false) must be false")
	}
	if AnyOf().IsSatisfied(nil) {
		t.Error("empty AnyOf must be false")
	}
}

func TestAllOf(t *testing.T) {
	if AllOf(literal(true), literal(false), literal(true)).IsSatisfied(nil) {
		t.Error("AllOf(true,false,true) must be false")
	}
	if !AllOf(literal(true), literal(true)).IsSatisfied(nil) {
		t.Error("AllOf(true,true) must be true")
	}
	if !AllOf().IsSatisfied(nil) {
		t.Error("empty AllOf must be true")
	}
}

func TestNestedCombinators(t *testing.T) {
	state := State{
		StateKeyProposersCompleted: 4,
		StateKeyAggregatedScore:    0.55,
		"llm_enabled":              true,
	}

	// (completed>=3 AND score>=0.4) OR exists(override)
	c := AnyOf(
		AllOf(
			MinProposersCompleted(3),
			MinAggregatedScore(0.4),
		),
		KeyExists("override"),
	)
	if !c.IsSatisfied(state) {
		t.Error("expected nested tree to be satisfied via the AllOf branch")
	}

	// AND over an unsatisfied OR must fail.
	c2 := AllOf(
		KeyEquals("llm_enabled", true),
		AnyOf(
			KeyExists("override"),
			MinAggregatedScore(0.9),
		),
	)
	if c2.IsSatisfied(state) {
		t.Error("expected nested tree to be unsatisfied via the AnyOf branch")
	}
}

func TestDescribe(t *testing.T) {
	c := AllOf(MinProposersCompleted(2), AnyOf(KeyExists("a"), KeyEquals("b", 1)))
	got := c.Describe()
	want := "all(proposers_completed >= 2, any(exists(a), b == 1))"
	if got != want {
		t.Errorf("Describe() = %q, want %q", got, want)
	}
}
