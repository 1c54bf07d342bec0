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
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/aggregate"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/consensus"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/trigger"
)

// Wave is one staged group of proposers.
type Wave struct {
	// Name identifies the wave in logs and metrics.
	Name string

	// Gate, when non-nil, must be satisfied by the orchestration state
	// for the wave to run. The first wave usually has no gate.
	Gate trigger.Condition

	// Proposers run concurrently within the wave.
	Proposers []Proposer
}

// OrchestratorConfig bounds wave execution.
type OrchestratorConfig struct {
	// MaxConcurrent caps concurrent Propose calls within a wave.
	MaxConcurrent int `yaml:"max_concurrent"`

	// DefaultTimeout bounds proposers that report a zero Timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// DefaultOrchestratorConfig returns production defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxConcurrent:  8,
		DefaultTimeout: 10 * time.Second,
	}
}

// Validate fails fast on misconfiguration.
func (c OrchestratorConfig) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("proposer: MaxConcurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("proposer: DefaultTimeout must be positive, got %s", c.DefaultTimeout)
	}
	return nil
}

// ContinueFunc lets the caller stop wave execution after any aggregation
// (typically by wiring in the constrainer's ShouldContinue).
type ContinueFunc func(res *aggregate.Result) bool

// Orchestrator drives proposers in waves against one consensus space.
//
// Between waves it aggregates the space, refreshes the orchestration
// state consulted by wave gates, and stops early when the space records
// an early exit or the continue callback says the evidence suffices.
//
// Thread Safety: One orchestrator drives one evaluation session; do not
// share a running orchestrator across sessions. The proposers it holds
// may be shared freely.
type Orchestrator struct {
	cfg        OrchestratorConfig
	space      *consensus.Space
	aggregator *aggregate.Aggregator
	waves      []Wave
	continueFn ContinueFunc
	logger     *slog.Logger
}

// OrchestratorOption customizes construction.
type OrchestratorOption func(*Orchestrator)

// WithContinueFunc installs the between-waves continue decision.
func WithContinueFunc(fn ContinueFunc) OrchestratorOption {
	return func(o *Orchestrator) { o.continueFn = fn }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires waves to a space and an aggregator.
//
// Inputs:
//
//	cfg - Execution bounds. Validated fail-fast.
//	space - The session's consensus space. Must not be nil.
//	aggregator - Used between waves and for the final result.
//	waves - Executed in order. Must not be empty.
//	opts - Optional hooks.
//
// Outputs:
//
//	*Orchestrator - Ready to run.
//	error - Non-nil on invalid wiring.
func NewOrchestrator(
	cfg OrchestratorConfig,
	space *consensus.Space,
	aggregator *aggregate.Aggregator,
	waves []Wave,
	opts ...OrchestratorOption,
) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if space == nil {
		return nil, fmt.Errorf("proposer: orchestrator needs a consensus space")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("proposer: orchestrator needs an aggregator")
	}
	if len(waves) == 0 {
		return nil, fmt.Errorf("proposer: orchestrator needs at least one wave")
	}
	o := &Orchestrator{
		cfg:        cfg,
		space:      space,
		aggregator: aggregator,
		waves:      waves,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// WavesByPriority groups a flat proposer list into waves, one wave per
// distinct priority, highest priority first.
func WavesByPriority(proposers ...Proposer) []Wave {
	byPriority := make(map[int][]Proposer)
	for _, p := range proposers {
		byPriority[p.Priority()] = append(byPriority[p.Priority()], p)
	}
	priorities := make([]int, 0, len(byPriority))
	for prio := range byPriority {
		priorities = append(priorities, prio)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	waves := make([]Wave, 0, len(priorities))
	for _, prio := range priorities {
		waves = append(waves, Wave{
			Name:      fmt.Sprintf("priority-%d", prio),
			Proposers: byPriority[prio],
		})
	}
	return waves
}

// Run executes the waves and returns the final aggregation.
//
// Description:
//
//	For each wave: the gate is checked against the orchestration state;
//	gated-out waves are skipped. Wave proposers run concurrently under
//	MaxConcurrent, each bounded by its own timeout (or the default).
//	Proposer errors are logged and skipped, never fatal. Every emitted
//	signal is offered to the consensus space; rejections are logged.
//	After each wave the space is aggregated, the state is refreshed,
//	and execution stops early on a recorded early exit or when the
//	continue callback returns false.
//
// Inputs:
//
//	ctx - Cancels the whole run between and within waves.
//	subject - The evaluation target handed to every proposer.
//
// Outputs:
//
//	*aggregate.Result - Aggregation over everything the space holds.
//	error - Non-nil only when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, subject *Subject) (*aggregate.Result, error) {
	state := trigger.State{}
	completed := 0

	for _, wave := range o.waves {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if wave.Gate != nil && !wave.Gate.IsSatisfied(state) {
			o.logger.Debug("wave gated out",
				"wave", wave.Name, "gate", wave.Gate.Describe())
			recordWave(ctx, wave.Name, "gated", 0)
			continue
		}

		start := time.Now()
		completed += o.runWave(ctx, wave, subject)
		recordWave(ctx, wave.Name, "ran", time.Since(start))

		res := o.aggregator.Aggregate(o.space.GetSignals())
		state[trigger.StateKeyProposersCompleted] = completed
		state[trigger.StateKeyAggregatedScore] = res.Score

		if o.space.HasEarlyExit() {
			o.logger.Info("stopping waves on early exit",
				"wave", wave.Name, "classification", res.EarlyExitClassification)
			break
		}
		if o.continueFn != nil && !o.continueFn(res) {
			o.logger.Debug("stopping waves on terminal judgment",
				"wave", wave.Name, "score", res.Score, "confidence", res.Confidence)
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return o.aggregator.Aggregate(o.space.GetSignals()), nil
}

// runWave executes one wave's proposers concurrently and returns how
// many finished (with or without an opinion).
func (o *Orchestrator) runWave(ctx context.Context, wave Wave, subject *Subject) int {
	g, waveCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrent)

	var mu sync.Mutex
	finished := 0

	for _, p := range wave.Proposers {
		g.Go(func() error {
			timeout := p.Timeout()
			if timeout <= 0 {
				timeout = o.cfg.DefaultTimeout
			}
			callCtx, cancel := context.WithTimeout(waveCtx, timeout)
			defer cancel()

			start := time.Now()
			signals, err := p.Propose(callCtx, subject)
			recordProposal(ctx, p.Name(), len(signals), time.Since(start), err)

			if err != nil {
				o.logger.Warn("proposer failed",
					"proposer", p.Name(), "wave", wave.Name, "error", err)
			}
			for _, sig := range signals {
				accepted, reason := o.space.Ingest(sig)
				recordIngestion(ctx, p.Name(), accepted)
				if !accepted {
					o.logger.Warn("signal rejected",
						"proposer", p.Name(), "signal_id", sig.ID, "reason", reason)
				}
			}

			mu.Lock()
			finished++
			mu.Unlock()
			// Proposer errors never abort the wave.
			return nil
		})
	}

	_ = g.Wait()
	return finished
}
