// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trigger evaluates boolean conditions over a flat orchestration
// state map.
//
// The orchestrator consults these conditions between proposer waves to
// decide whether another wave should run. Conditions are pure and total:
// a missing key simply fails key-dependent predicates, never panics.
// Combinators (AnyOf, AllOf) are themselves conditions, so trees nest
// arbitrarily and are evaluated by structural recursion.
package trigger

import (
	"fmt"
	"reflect"
	"strings"
)

// Well-known state keys maintained by the wave orchestrator.
const (
	// StateKeyProposersCompleted holds the int count of proposers that
	// have finished (successfully or not) so far.
	StateKeyProposersCompleted = "proposers_completed"

	// StateKeyAggregatedScore holds the float64 score of the most
	// recent aggregation.
	StateKeyAggregatedScore = "aggregated_score"
)

// State is the flat key/value orchestration state a condition reads.
type State map[string]any

// Condition is one node of a boolean expression tree.
//
// Thread Safety: Implementations must be pure; the same condition may be
// evaluated concurrently against different states.
type Condition interface {
	// IsSatisfied evaluates the condition against the state. Total:
	// never panics on missing or mistyped keys.
	IsSatisfied(state State) bool

	// Describe renders the condition for logs and audit trails.
	Describe() string
}

// keyExists is satisfied when the key is present, whatever its value.
type keyExists struct{ key string }

// KeyExists returns a condition satisfied when key is present.
func KeyExists(key string) Condition { return keyExists{key: key} }

func (c keyExists) IsSatisfied(state State) bool {
	_, ok := state[c.key]
	return ok
}

func (c keyExists) Describe() string { return fmt.Sprintf("exists(%s)", c.key) }

// keyEquals is satisfied when the key holds exactly the expected value.
type keyEquals struct {
	key      string
	expected any
}

// KeyEquals returns a condition satisfied when key holds expected.
// Comparison is type-checked: a value of a different dynamic type never
// matches, even if it would compare loosely equal.
func KeyEquals(key string, expected any) Condition {
	return keyEquals{key: key, expected: expected}
}

func (c keyEquals) IsSatisfied(state State) bool {
	actual, ok := state[c.key]
	if !ok {
		return false
	}
	if reflect.TypeOf(actual) != reflect.TypeOf(c.expected) {
		return false
	}
	return reflect.DeepEqual(actual, c.expected)
}

func (c keyEquals) Describe() string { return fmt.Sprintf("%s == %v", c.key, c.expected) }

// keySatisfies delegates to an arbitrary predicate over the raw value.
type keySatisfies struct {
	key  string
	name string
	pred func(any) bool
}

// KeySatisfies returns a condition satisfied when key is present and the
// predicate accepts its value. The name is used in Describe output only.
func KeySatisfies(key, name string, pred func(value any) bool) Condition {
	return keySatisfies{key: key, name: name, pred: pred}
}

func (c keySatisfies) IsSatisfied(state State) bool {
	value, ok := state[c.key]
	if !ok {
		return false
	}
	return c.pred(value)
}

func (c keySatisfies) Describe() string { return fmt.Sprintf("%s(%s)", c.name, c.key) }

// minProposersCompleted is satisfied when at least n proposers finished.
type minProposersCompleted struct{ n int }

// MinProposersCompleted returns a condition satisfied when the completed
// proposer count under StateKeyProposersCompleted is at least n.
func MinProposersCompleted(n int) Condition { return minProposersCompleted{n: n} }

func (c minProposersCompleted) IsSatisfied(state State) bool {
	count, ok := intValue(state[StateKeyProposersCompleted])
	return ok && count >= c.n
}

func (c minProposersCompleted) Describe() string {
	return fmt.Sprintf("%s >= %d", StateKeyProposersCompleted, c.n)
}

// minAggregatedScore is satisfied when the last fused score reached a
// threshold.
type minAggregatedScore struct{ threshold float64 }

// MinAggregatedScore returns a condition satisfied when the score under
// StateKeyAggregatedScore is at least threshold.
func MinAggregatedScore(threshold float64) Condition {
	return minAggregatedScore{threshold: threshold}
}

func (c minAggregatedScore) IsSatisfied(state State) bool {
	score, ok := floatValue(state[StateKeyAggregatedScore])
	return ok && score >= c.threshold
}

func (c minAggregatedScore) Describe() string {
	return fmt.Sprintf("%s >= %.3f", StateKeyAggregatedScore, c.threshold)
}

// anyOf is the OR combinator.
type anyOf struct{ children []Condition }

// AnyOf returns a condition satisfied when any child is satisfied.
// Evaluation short-circuits on the first satisfied child. With no
// children it is never satisfied.
func AnyOf(children ...Condition) Condition { return anyOf{children: children} }

func (c anyOf) IsSatisfied(state State) bool {
	for _, child := range c.children {
		if child.IsSatisfied(state) {
			return true
		}
	}
	return false
}

func (c anyOf) Describe() string { return describeCombinator("any", c.children) }

// allOf is the AND combinator.
type allOf struct{ children []Condition }

// AllOf returns a condition satisfied when every child is satisfied.
// Evaluation short-circuits on the first unsatisfied child. With no
// children it is always satisfied.
func AllOf(children ...Condition) Condition { return allOf{children: children} }

func (c allOf) IsSatisfied(state State) bool {
	for _, child := range c.children {
		if !child.IsSatisfied(state) {
			return false
		}
	}
	return true
}

func (c allOf) Describe() string { return describeCombinator("all", c.children) }

func describeCombinator(name string, children []Condition) string {
	parts := make([]string, len(children))
	for i, child := range children {
		parts[i] = child.Describe()
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

// intValue coerces the numeric types a state map realistically carries.
func intValue(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func floatValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
