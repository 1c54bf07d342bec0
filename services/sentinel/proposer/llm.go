// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proposer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"text/template"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/signal"
)

// LLMSchemaID tags facts emitted by the LLM proposer.
const LLMSchemaID = "sentinel.llm.v1"

// assessmentPromptTemplate asks for a strict-JSON risk assessment.
// Kept short: the subject dominates the token budget.
const assessmentPromptTemplate = `You are a risk assessor for an evidence-fusion engine.

Assess the subject below. Risk 0.0 means certainly benign, 1.0 means
certainly malicious, 0.5 means no opinion.

Subject kind: {{.Kind}}
Subject content:
{{.Content}}
{{if .Attributes}}
Attributes:
{{range $k, $v := .Attributes}}- {{$k}}: {{$v}}
{{end}}{{end}}
Respond with ONLY valid JSON (no markdown, no preamble):
{"risk":0.0-1.0,"reasons":["brief"],"certainty":0.0-1.0}`

// ChatCompleter is the slice of the OpenAI client the proposer needs.
// *openai.Client satisfies it; tests substitute fakes.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// assessment is the strict-JSON shape the model must return.
type assessment struct {
	Risk      float64  `json:"risk"`
	Reasons   []string `json:"reasons"`
	Certainty float64  `json:"certainty"`
}

// LLMConfig configures the model-backed proposer.
type LLMConfig struct {
	// Name becomes the SourceID of emitted signals.
	Name string `yaml:"name"`

	// Model is the chat model to use.
	Model string `yaml:"model"`

	// Priority orders this proposer into a wave. Model calls are
	// expensive; they default low so heuristics run first.
	Priority int `yaml:"priority"`

	// Timeout bounds one assessment call.
	Timeout time.Duration `yaml:"timeout"`

	// Temperature for the chat completion.
	Temperature float32 `yaml:"temperature"`

	// CacheTTL keeps assessments for identical subjects. Zero disables
	// the cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CacheMaxSize bounds the cache entry count.
	CacheMaxSize int `yaml:"cache_max_size"`
}

// DefaultLLMConfig returns production defaults.
func DefaultLLMConfig(name, model string) LLMConfig {
	return LLMConfig{
		Name:         name,
		Model:        model,
		Priority:     10,
		Timeout:      20 * time.Second,
		Temperature:  0,
		CacheTTL:     10 * time.Minute,
		CacheMaxSize: 1024,
	}
}

// Validate fails fast on misconfiguration.
func (c LLMConfig) Validate() error {
	if c.Name == "" {
		return errors.New("proposer: llm proposer needs a name")
	}
	if c.Model == "" {
		return errors.New("proposer: llm proposer needs a model")
	}
	if c.CacheTTL > 0 && c.CacheMaxSize <= 0 {
		return errors.New("proposer: llm cache enabled but CacheMaxSize not positive")
	}
	return nil
}

// LLMProposer asks a chat model for a risk assessment of the subject.
//
// Identical subjects are coalesced in flight and cached by prompt hash.
// On model failure the proposer consults its fallback (when set) so the
// evaluation still gets a heuristic opinion instead of silence.
//
// Thread Safety: Safe for concurrent use after construction.
type LLMProposer struct {
	cfg      LLMConfig
	client   ChatCompleter
	fallback Proposer
	tmpl     *template.Template
	inflight singleflight.Group

	mu    sync.Mutex
	cache map[string]cachedAssessment
}

type cachedAssessment struct {
	value     assessment
	expiresAt time.Time
}

// LLMOption customizes the proposer at construction.
type LLMOption func(*LLMProposer)

// WithFallback installs a proposer consulted when the model errors.
func WithFallback(p Proposer) LLMOption {
	return func(l *LLMProposer) { l.fallback = p }
}

// NewLLMProposer creates the model-backed proposer.
//
// Inputs:
//
//	cfg - Configuration. Validated fail-fast.
//	client - Chat client. Must not be nil.
//	opts - Optional hooks (fallback).
//
// Outputs:
//
//	*LLMProposer - Ready to use.
//	error - Non-nil on nil client or invalid config.
func NewLLMProposer(cfg LLMConfig, client ChatCompleter, opts ...LLMOption) (*LLMProposer, error) {
	if client == nil {
		return nil, errors.New("proposer: llm client must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tmpl, err := template.New("assess").Parse(assessmentPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("proposer: compile prompt template: %w", err)
	}
	l := &LLMProposer{
		cfg:    cfg,
		client: client,
		tmpl:   tmpl,
		cache:  make(map[string]cachedAssessment),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *LLMProposer) Name() string           { return l.cfg.Name }
func (l *LLMProposer) Priority() int          { return l.cfg.Priority }
func (l *LLMProposer) Timeout() time.Duration { return l.cfg.Timeout }

// Propose asks the model for an assessment and converts it to a signal.
//
// The signal's confidence is the model's risk; the model's certainty
// lands in the metadata weight so the aggregator can discount hedged
// assessments. Context cancellation is returned as-is; every other model
// failure is routed to the fallback.
func (l *LLMProposer) Propose(ctx context.Context, subject *Subject) ([]signal.Signal, error) {
	prompt, err := l.renderPrompt(subject)
	if err != nil {
		return nil, fmt.Errorf("proposer: render prompt: %w", err)
	}
	key := promptHash(l.cfg.Model, prompt)

	if a, ok := l.cachedResult(key); ok {
		return l.toSignals(subject, a), nil
	}

	raw, err, _ := l.inflight.Do(key, func() (any, error) {
		return l.assess(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if l.fallback != nil {
			slog.Warn("llm proposer falling back to heuristics",
				"proposer", l.cfg.Name, "error", err)
			return l.fallback.Propose(ctx, subject)
		}
		return nil, err
	}

	a := raw.(assessment)
	l.storeResult(key, a)
	return l.toSignals(subject, a), nil
}

// assess performs one chat completion and parses the strict JSON reply.
func (l *LLMProposer) assess(ctx context.Context, prompt string) (assessment, error) {
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       l.cfg.Model,
		Temperature: l.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return assessment{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return assessment{}, errors.New("model returned no choices")
	}
	return parseAssessment(resp.Choices[0].Message.Content)
}

func (l *LLMProposer) renderPrompt(subject *Subject) (string, error) {
	var buf bytes.Buffer
	if err := l.tmpl.Execute(&buf, subject); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// toSignals converts an assessment into exactly one signal.
func (l *LLMProposer) toSignals(subject *Subject, a assessment) []signal.Signal {
	facts := map[string]any{
		"risk":      a.Risk,
		"certainty": a.Certainty,
		"model":     l.cfg.Model,
	}
	if len(a.Reasons) > 0 {
		facts["reasons"] = a.Reasons
	}
	opts := []signal.Option{
		signal.WithSubject(subject.ID),
		signal.WithCorrelation(subject.CorrelationID),
	}
	if a.Certainty > 0 {
		opts = append(opts, signal.WithWeight(a.Certainty))
	}
	return []signal.Signal{
		signal.New(l.cfg.Name, LLMSchemaID, facts, a.Risk, opts...),
	}
}

func (l *LLMProposer) cachedResult(key string) (assessment, bool) {
	if l.cfg.CacheTTL <= 0 {
		return assessment{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(l.cache, key)
		return assessment{}, false
	}
	return entry.value, true
}

func (l *LLMProposer) storeResult(key string, a assessment) {
	if l.cfg.CacheTTL <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.cache) >= l.cfg.CacheMaxSize {
		l.pruneLocked()
	}
	l.cache[key] = cachedAssessment{value: a, expiresAt: time.Now().Add(l.cfg.CacheTTL)}
}

// pruneLocked drops expired entries; if none expired, drops an arbitrary
// entry to stay within bounds. Callers hold l.mu.
func (l *LLMProposer) pruneLocked() {
	now := time.Now()
	for k, v := range l.cache {
		if now.After(v.expiresAt) {
			delete(l.cache, k)
		}
	}
	if len(l.cache) >= l.cfg.CacheMaxSize {
		for k := range l.cache {
			delete(l.cache, k)
			break
		}
	}
}

// parseAssessment extracts and decodes the JSON object from a model
// reply, tolerating markdown fences and prose around the object.
func parseAssessment(content string) (assessment, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return assessment{}, fmt.Errorf("no JSON object in model reply (%d bytes)", len(content))
	}
	var a assessment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return assessment{}, fmt.Errorf("decode assessment: %w", err)
	}
	a.Risk = signal.ClampConfidence(a.Risk)
	a.Certainty = signal.ClampConfidence(a.Certainty)
	return a, nil
}

// extractJSONObject returns the outermost {...} span of a reply.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func promptHash(model, prompt string) string {
	h := sha256.Sum256([]byte(model + "\x00" + prompt))
	return hex.EncodeToString(h[:])
}
