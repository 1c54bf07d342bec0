// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine is the session facade over the evidence pipeline.
//
// One Engine is built per process from configuration; each Evaluate
// call runs a fresh session: a new consensus space, the configured
// proposer waves, fusion, and a deterministic verdict. Nothing from
// one evaluation leaks into the next except the optional verdict
// cache, which lets repeat subjects skip the proposer waves entirely.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/aggregate"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/consensus"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/constrain"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/proposer"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/schema"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/verdictcache"
)

// Verdict is the final outcome of one evaluation.
type Verdict struct {
	// SessionID identifies this evaluation run.
	SessionID string `json:"session_id"`

	// SubjectID echoes the evaluated subject.
	SubjectID string `json:"subject_id"`

	// Decision is the actionable outcome.
	Decision constrain.Action `json:"decision"`

	// Score is the fused evidence score in [0,1].
	Score float64 `json:"score"`

	// Confidence is how much the engine trusts Score.
	Confidence float64 `json:"confidence"`

	// Band is the coarse classification bucket.
	Band aggregate.Band `json:"band"`

	// Reason records the numeric values behind the decision.
	Reason string `json:"reason"`

	// TriggeredBy names the constraint rule that fired.
	TriggeredBy string `json:"triggered_by"`

	// EarlyExit is true when a short-circuit signal decided the run.
	EarlyExit bool `json:"early_exit"`

	// EarlyExitClassification is copied from the short-circuit signal.
	EarlyExitClassification string `json:"early_exit_classification,omitempty"`

	// ContributingProposers lists the distinct detectors that emitted
	// signals, in first-seen order.
	ContributingProposers []string `json:"contributing_proposers,omitempty"`

	// SignalCount is how many signals the session accumulated.
	SignalCount int `json:"signal_count"`

	// Cached is true when this verdict was served from the cache
	// rather than evaluated.
	Cached bool `json:"cached"`

	// EvaluatedAt is when the verdict was originally computed.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Engine wires the pipeline together. Build one with New and share it;
// it is safe for concurrent Evaluate calls.
type Engine struct {
	cfg         Config
	aggregator  *aggregate.Aggregator
	constrainer *constrain.Constrainer[constrain.Action]
	waves       []proposer.Wave
	schemas     map[string]schema.Validator
	cache       *verdictcache.Cache
	chat        proposer.ChatCompleter
	logger      *slog.Logger
}

// Option customizes engine construction.
type Option func(*Engine)

// WithWaves replaces the config-built detector waves.
func WithWaves(waves []proposer.Wave) Option {
	return func(e *Engine) { e.waves = waves }
}

// WithSchemas registers facts validators by schema id on every
// session's consensus space.
func WithSchemas(schemas map[string]schema.Validator) Option {
	return func(e *Engine) { e.schemas = schemas }
}

// WithCache installs a verdict cache. Overrides the Cache section of
// the configuration; the engine takes ownership and closes it on
// Close.
func WithCache(c *verdictcache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithChatClient injects the chat client used by the model-backed
// detector. Without it, New builds a client from OPENAI_API_KEY when
// the detector is enabled.
func WithChatClient(c proposer.ChatCompleter) Option {
	return func(e *Engine) { e.chat = c }
}

// New builds an engine from configuration.
//
// Description:
//
//	Validates the configuration, constructs the aggregator and
//	constrainer, builds proposer waves from the detectors section
//	(pattern proposers plus the optional model-backed proposer with a
//	pattern fallback), and opens the verdict cache if enabled.
//
// Inputs:
//
//	cfg - Engine configuration. Validated fail-fast.
//	opts - Engine options (injected waves, schemas, cache, chat client,
//	logger). Applied before config-driven construction so injected
//	dependencies win.
//
// Outputs:
//
//	*Engine - Ready for Evaluate. Caller must Close() when done.
//	error - Non-nil on invalid config or construction failure.
//
// Thread Safety: The returned Engine is safe for concurrent use.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	agg, err := aggregate.New(cfg.Aggregator)
	if err != nil {
		return nil, fmt.Errorf("build aggregator: %w", err)
	}
	con, err := constrain.NewDefault(cfg.Constrainer)
	if err != nil {
		return nil, fmt.Errorf("build constrainer: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		aggregator:  agg,
		constrainer: con,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.waves == nil {
		waves, err := buildWaves(cfg.Detectors, e.chat)
		if err != nil {
			return nil, err
		}
		e.waves = waves
	}
	if len(e.waves) == 0 {
		return nil, errors.New("engine: no detectors configured")
	}

	if e.cache == nil && cfg.Cache.Enabled {
		cache, err := verdictcache.New(verdictcache.Config{
			Path:     cfg.Cache.Path,
			InMemory: cfg.Cache.InMemory,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("open verdict cache: %w", err)
		}
		e.cache = cache
	}

	return e, nil
}

// buildWaves turns the detectors config into priority-grouped waves.
func buildWaves(cfg DetectorsConfig, chat proposer.ChatCompleter) ([]proposer.Wave, error) {
	var proposers []proposer.Proposer

	var firstPattern proposer.Proposer
	for _, pc := range cfg.Patterns {
		p, err := proposer.NewPatternProposer(pc)
		if err != nil {
			return nil, fmt.Errorf("build pattern detector: %w", err)
		}
		proposers = append(proposers, p)
		if firstPattern == nil {
			firstPattern = p
		}
	}

	if cfg.LLM.Enabled {
		if chat == nil {
			key := os.Getenv("OPENAI_API_KEY")
			if key == "" {
				return nil, errors.New("engine: llm detector enabled but no chat client and OPENAI_API_KEY unset")
			}
			chat = openai.NewClient(key)
		}
		var llmOpts []proposer.LLMOption
		if firstPattern != nil {
			// Degrade to heuristics when the model is unavailable.
			llmOpts = append(llmOpts, proposer.WithFallback(firstPattern))
		}
		p, err := proposer.NewLLMProposer(cfg.LLM.LLMConfig, chat, llmOpts...)
		if err != nil {
			return nil, fmt.Errorf("build llm detector: %w", err)
		}
		proposers = append(proposers, p)
	}

	if len(proposers) == 0 {
		return nil, nil
	}
	return proposer.WavesByPriority(proposers...), nil
}

// Evaluate runs one evaluation session.
//
// Description:
//
//	Checks the verdict cache, and on a miss runs the configured
//	proposer waves against a fresh consensus space, fuses the
//	resulting signals, applies the constraint ladder, and caches the
//	verdict.
//
// Inputs:
//
//	ctx - Cancels in-flight proposer calls.
//	subject - The thing being judged. Must not be nil.
//
// Outputs:
//
//	*Verdict - The decision with its audit fields.
//	error - Non-nil on nil subject, cancelled context, or pipeline
//	construction failure. Individual proposer errors are absorbed.
//
// Thread Safety: Safe for concurrent use.
func (e *Engine) Evaluate(ctx context.Context, subject *proposer.Subject) (*Verdict, error) {
	if subject == nil {
		return nil, errors.New("engine: subject must not be nil")
	}
	start := time.Now()

	key := cacheKey(subject)
	if e.cache != nil {
		var cached Verdict
		found, err := e.cache.Get(key, &cached)
		if err != nil {
			e.logger.Warn("verdict cache read failed", "error", err)
		} else if found {
			cached.Cached = true
			recordCacheEvent(ctx, "hit")
			recordEvaluation(ctx, &cached, time.Since(start))
			return &cached, nil
		}
		recordCacheEvent(ctx, "miss")
	}

	space, err := consensus.NewSpace(e.cfg.Space,
		consensus.WithAuditSink(consensus.SlogSink{Logger: e.logger}))
	if err != nil {
		return nil, fmt.Errorf("build consensus space: %w", err)
	}
	for id, v := range e.schemas {
		space.RegisterSchema(id, v)
	}

	orch, err := proposer.NewOrchestrator(e.cfg.Orchestrator, space, e.aggregator, e.waves,
		proposer.WithContinueFunc(func(res *aggregate.Result) bool {
			return e.constrainer.Evaluate(res, nil).ShouldContinue
		}),
		proposer.WithLogger(e.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	res, err := orch.Run(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("run detector waves: %w", err)
	}
	var evalCtx map[string]any
	if subject.Kind != "" || len(subject.Attributes) > 0 {
		evalCtx = make(map[string]any, len(subject.Attributes)+1)
		for k, v := range subject.Attributes {
			evalCtx[k] = v
		}
		if subject.Kind != "" {
			evalCtx["subject_kind"] = subject.Kind
		}
	}
	outcome := e.constrainer.Evaluate(res, evalCtx)

	verdict := &Verdict{
		SessionID:               uuid.NewString(),
		SubjectID:               subject.ID,
		Decision:                outcome.Decision,
		Score:                   res.Score,
		Confidence:              res.Confidence,
		Band:                    res.Band,
		Reason:                  outcome.Reason,
		TriggeredBy:             outcome.TriggeredBy,
		EarlyExit:               res.EarlyExit,
		EarlyExitClassification: res.EarlyExitClassification,
		ContributingProposers:   res.ContributingProposers,
		SignalCount:             len(res.Signals),
		EvaluatedAt:             time.Now().UTC(),
	}

	if e.cache != nil {
		if err := e.cache.Put(key, verdict); err != nil {
			e.logger.Warn("verdict cache write failed", "error", err)
		}
	}

	recordEvaluation(ctx, verdict, time.Since(start))
	e.logger.Info("evaluation complete",
		"session_id", verdict.SessionID,
		"subject_id", verdict.SubjectID,
		"decision", verdict.Decision,
		"score", verdict.Score,
		"confidence", verdict.Confidence,
		"band", verdict.Band,
		"rule", verdict.TriggeredBy,
		"signals", verdict.SignalCount,
	)
	return verdict, nil
}

// Close releases the engine's resources (currently the verdict cache).
func (e *Engine) Close() error {
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}

// cacheKey derives a stable key from everything evaluation can see
// about a subject.
func cacheKey(subject *proposer.Subject) string {
	parts := []string{subject.Kind, subject.ID, subject.Content}
	keys := make([]string, 0, len(subject.Attributes))
	for k := range subject.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k, subject.Attributes[k])
	}
	return verdictcache.Key(parts...)
}
