// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema provides pluggable validators for signal facts.
//
// A validator owns the shape discipline for one FactsSchemaID. The
// consensus space runs the registered validator exactly once, at
// ingestion; facts are opaque to every other component.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator checks that a facts payload conforms to its declared schema.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Validator interface {
	// Validate returns nil when facts conform, or an error describing
	// the first problems found. Implementations must not retain facts.
	Validate(facts map[string]any) error
}

// Func adapts a plain function to the Validator interface.
type Func func(facts map[string]any) error

// Validate implements Validator.
func (f Func) Validate(facts map[string]any) error { return f(facts) }

// passThrough accepts everything.
type passThrough struct{}

func (passThrough) Validate(map[string]any) error { return nil }

// PassThrough returns a validator that accepts any payload.
//
// Useful for schemas whose discipline lives entirely in the producer,
// and as the default stand-in when a space allows unregistered schemas.
func PassThrough() Validator { return passThrough{} }

// RuleMap validates facts against go-playground/validator tag rules.
//
// Rules are keyed by field name; values are either a tag string
// ("required,min=1") or a nested rule map for nested fact objects.
//
// Thread Safety: Safe for concurrent use after construction.
type RuleMap struct {
	rules    map[string]any
	validate *validator.Validate
}

// NewRuleMap builds a rule-map validator.
//
// Inputs:
//
//	rules - Field name to tag string (or nested map). Must not be empty.
//
// Outputs:
//
//	*RuleMap - The validator.
//	error - Non-nil when rules is empty.
func NewRuleMap(rules map[string]any) (*RuleMap, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("schema: rule map must not be empty")
	}
	return &RuleMap{
		rules:    rules,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Validate implements Validator.
//
// Field errors are reported sorted by field name so rejection reasons
// are deterministic.
func (r *RuleMap) Validate(facts map[string]any) error {
	if facts == nil {
		facts = map[string]any{}
	}
	errsByField := r.validate.ValidateMap(facts, r.rules)
	if len(errsByField) == 0 {
		return nil
	}

	fields := make([]string, 0, len(errsByField))
	for field := range errsByField {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %v", field, flattenFieldError(errsByField[field])))
	}
	return fmt.Errorf("schema: invalid facts: %s", strings.Join(parts, "; "))
}

// flattenFieldError renders a single ValidateMap entry compactly.
func flattenFieldError(raw any) string {
	switch e := raw.(type) {
	case validator.ValidationErrors:
		tags := make([]string, 0, len(e))
		for _, fe := range e {
			tags = append(tags, fmt.Sprintf("failed %q", fe.Tag()))
		}
		return strings.Join(tags, ", ")
	case error:
		return e.Error()
	default:
		return fmt.Sprintf("%v", raw)
	}
}
