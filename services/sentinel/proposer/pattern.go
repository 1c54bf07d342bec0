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
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/signal"
)

// PatternSchemaID tags facts emitted by pattern proposers.
const PatternSchemaID = "sentinel.pattern.v1"

// Pattern is one compiled heuristic rule.
type Pattern struct {
	// Name identifies the rule in facts and logs.
	Name string `yaml:"name"`

	// Expr is the regular expression matched against the subject's
	// content and attribute values.
	Expr string `yaml:"expr"`

	// Confidence is the signal confidence emitted on a match.
	Confidence float64 `yaml:"confidence"`

	// EarlyExit marks matches that short-circuit the whole evaluation
	// (allowlist/blocklist rules).
	EarlyExit bool `yaml:"early_exit"`

	// Classification labels the early-exit outcome ("whitelisted",
	// "blacklisted", "challenge"). Ignored unless EarlyExit is set.
	Classification string `yaml:"classification"`

	re *regexp.Regexp
}

// PatternConfig configures a heuristic pattern proposer.
type PatternConfig struct {
	// Name becomes the SourceID of emitted signals.
	Name string `yaml:"name"`

	// Priority orders this proposer into a wave. Heuristics are cheap;
	// they default high so they run before model-backed proposers.
	Priority int `yaml:"priority"`

	// Timeout bounds one scan. Zero falls back to the orchestrator
	// default; pattern scans are local and fast, so this rarely matters.
	Timeout time.Duration `yaml:"timeout"`

	// Patterns are the rules to scan with. Must not be empty.
	Patterns []Pattern `yaml:"patterns"`
}

// DefaultPatternConfig returns a config skeleton with sane ordering.
func DefaultPatternConfig(name string) PatternConfig {
	return PatternConfig{
		Name:     name,
		Priority: 100,
	}
}

// PatternProposer is a regex/heuristic detector over subject content and
// attributes.
//
// Thread Safety: Safe for concurrent use after construction.
type PatternProposer struct {
	cfg PatternConfig
}

// NewPatternProposer compiles the rules, failing fast on bad expressions
// or out-of-range confidences.
func NewPatternProposer(cfg PatternConfig) (*PatternProposer, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("proposer: pattern proposer needs a name")
	}
	if len(cfg.Patterns) == 0 {
		return nil, fmt.Errorf("proposer: pattern proposer %q has no patterns", cfg.Name)
	}
	for i := range cfg.Patterns {
		p := &cfg.Patterns[i]
		if p.Confidence < 0 || p.Confidence > 1 {
			return nil, fmt.Errorf("proposer: pattern %q confidence must be in [0,1], got %f", p.Name, p.Confidence)
		}
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, fmt.Errorf("proposer: pattern %q: %w", p.Name, err)
		}
		p.re = re
	}
	return &PatternProposer{cfg: cfg}, nil
}

func (p *PatternProposer) Name() string           { return p.cfg.Name }
func (p *PatternProposer) Priority() int          { return p.cfg.Priority }
func (p *PatternProposer) Timeout() time.Duration { return p.cfg.Timeout }

// Propose scans the subject and emits one signal per matched pattern.
//
// Attribute fields are scanned in sorted key order so signal order is
// deterministic for a given subject.
func (p *PatternProposer) Propose(ctx context.Context, subject *Subject) ([]signal.Signal, error) {
	fields := scanFields(subject)

	var out []signal.Signal
	for _, pattern := range p.cfg.Patterns {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		for _, f := range fields {
			loc := pattern.re.FindStringIndex(f.value)
			if loc == nil {
				continue
			}
			facts := map[string]any{
				"pattern": pattern.Name,
				"field":   f.name,
				"match":   excerpt(f.value, loc[0], loc[1]),
			}
			opts := []signal.Option{
				signal.WithSubject(subject.ID),
				signal.WithCorrelation(subject.CorrelationID),
			}
			if pattern.EarlyExit {
				opts = append(opts, signal.WithEarlyExitFlag(pattern.Classification))
			}
			out = append(out, signal.New(p.cfg.Name, PatternSchemaID, facts, pattern.Confidence, opts...))
			break // one signal per pattern, first matching field wins
		}
	}
	return out, nil
}

// field is one scannable piece of a subject.
type field struct {
	name  string
	value string
}

func scanFields(subject *Subject) []field {
	fields := []field{{name: "content", value: subject.Content}}
	keys := make([]string, 0, len(subject.Attributes))
	for k := range subject.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, field{name: "attr:" + k, value: subject.Attributes[k]})
	}
	return fields
}

// excerpt trims a match to a bounded window for the facts payload.
func excerpt(s string, start, end int) string {
	const window = 64
	if end-start > window {
		end = start + window
	}
	return s[start:end]
}
