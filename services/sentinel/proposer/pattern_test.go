// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proposer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPatternProposer_Validation(t *testing.T) {
	t.Run("missing name", func(t *testing.T) {
		_, err := NewPatternProposer(PatternConfig{Patterns: []Pattern{{Name: "p", Expr: "x", Confidence: 0.5}}})
		require.Error(t, err)
	})

	t.Run("no patterns", func(t *testing.T) {
		_, err := NewPatternProposer(PatternConfig{Name: "det.pattern"})
		require.Error(t, err)
	})

	t.Run("bad regexp", func(t *testing.T) {
		_, err := NewPatternProposer(PatternConfig{
			Name:     "det.pattern",
			Patterns: []Pattern{{Name: "broken", Expr: "([", Confidence: 0.5}},
		})
		require.Error(t, err)
	})

	t.Run("confidence out of range", func(t *testing.T) {
		_, err := NewPatternProposer(PatternConfig{
			Name:     "det.pattern",
			Patterns: []Pattern{{Name: "p", Expr: "x", Confidence: 1.5}},
		})
		require.Error(t, err)
	})
}

func TestPatternProposer_MatchesContentAndAttributes(t *testing.T) {
	p, err := NewPatternProposer(PatternConfig{
		Name:     "det.pattern",
		Priority: 100,
		Patterns: []Pattern{
			{Name: "script_tag", Expr: `(?i)<script`, Confidence: 0.9},
			{Name: "tor_exit", Expr: `^tor$`, Confidence: 0.7},
			{Name: "never", Expr: `zzz-never-matches`, Confidence: 0.99},
		},
	})
	require.NoError(t, err)

	subject := &Subject{
		ID:            "req-1",
		Content:       `GET /?q=<SCRIPT>alert(1)</script>`,
		Attributes:    map[string]string{"network": "tor"},
		CorrelationID: "corr-1",
	}
	signals, err := p.Propose(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	byPattern := map[string]int{}
	for _, sig := range signals {
		assert.Equal(t, "det.pattern", sig.SourceID)
		assert.Equal(t, PatternSchemaID, sig.FactsSchemaID)
		assert.Equal(t, "req-1", sig.SubjectID)
		assert.Equal(t, "corr-1", sig.CorrelationID)
		byPattern[sig.Facts["pattern"].(string)]++
	}
	assert.Equal(t, 1, byPattern["script_tag"])
	assert.Equal(t, 1, byPattern["tor_exit"])
}

func TestPatternProposer_EarlyExitPattern(t *testing.T) {
	p, err := NewPatternProposer(PatternConfig{
		Name: "det.blocklist",
		Patterns: []Pattern{
			{Name: "known_bad_ip", Expr: `^203\.0\.113\.`, Confidence: 0.99,
				EarlyExit: true, Classification: "blacklisted"},
		},
	})
	require.NoError(t, err)

	signals, err := p.Propose(context.Background(), &Subject{
		ID:         "req-2",
		Attributes: map[string]string{"ip": "203.0.113.9"},
	})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.True(t, signals[0].TriggerEarlyExit)
	assert.Equal(t, "blacklisted", signals[0].EarlyExitClassification)
	assert.Equal(t, 0.99, signals[0].Confidence)
}

func TestPatternProposer_NoMatchesNoOpinion(t *testing.T) {
	p, err := NewPatternProposer(PatternConfig{
		Name:     "det.pattern",
		Patterns: []Pattern{{Name: "p", Expr: `nope`, Confidence: 0.5}},
	})
	require.NoError(t, err)

	signals, err := p.Propose(context.Background(), &Subject{ID: "req-3", Content: "benign"})
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestPatternProposer_OneSignalPerPattern(t *testing.T) {
	// Pattern present in both content and an attribute: only one signal.
	p, err := NewPatternProposer(PatternConfig{
		Name:     "det.pattern",
		Patterns: []Pattern{{Name: "token", Expr: `secret`, Confidence: 0.8}},
	})
	require.NoError(t, err)

	signals, err := p.Propose(context.Background(), &Subject{
		ID:         "req-4",
		Content:    "secret in body",
		Attributes: map[string]string{"header": "secret in header"},
	})
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}
