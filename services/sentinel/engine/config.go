// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/aggregate"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/consensus"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/constrain"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/proposer"
)

// Config is the top-level engine configuration, loadable from a YAML
// or JSON file with environment overrides.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Space configures the per-evaluation consensus space.
	Space consensus.Config `json:"space" yaml:"space"`

	// Aggregator configures evidence fusion.
	Aggregator aggregate.Config `json:"aggregator" yaml:"aggregator"`

	// Constrainer configures the decision threshold ladder.
	Constrainer constrain.Config `json:"constrainer" yaml:"constrainer"`

	// Orchestrator configures proposer wave execution.
	Orchestrator proposer.OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`

	// Cache configures the verdict cache.
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Detectors configures the built-in proposers.
	Detectors DetectorsConfig `json:"detectors" yaml:"detectors"`
}

// CacheConfig configures the verdict cache.
type CacheConfig struct {
	// Enabled turns verdict caching on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the cache directory. Required when Enabled unless
	// InMemory is set.
	Path string `json:"path" yaml:"path"`

	// InMemory avoids disk persistence. Useful for testing.
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// TTL is how long a cached verdict stays valid.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DetectorsConfig configures the built-in proposers.
type DetectorsConfig struct {
	// Patterns are regex/heuristic detectors, one proposer each.
	Patterns []proposer.PatternConfig `json:"patterns" yaml:"patterns"`

	// LLM configures the optional model-backed detector.
	LLM LLMDetectorConfig `json:"llm" yaml:"llm"`
}

// LLMDetectorConfig wraps the model proposer config with an enable
// switch so deployments without an API key can run pattern-only.
type LLMDetectorConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	proposer.LLMConfig `json:",inline" yaml:",inline"`
}

// DefaultConfig returns a pattern-only configuration with caching
// disabled and all core defaults.
func DefaultConfig() Config {
	return Config{
		Space:        consensus.DefaultConfig(),
		Aggregator:   aggregate.DefaultConfig(),
		Constrainer:  constrain.DefaultConfig(),
		Orchestrator: proposer.DefaultOrchestratorConfig(),
		Cache: CacheConfig{
			Enabled: false,
			TTL:     10 * time.Minute,
		},
		Detectors: DetectorsConfig{
			LLM: LLMDetectorConfig{
				Enabled:   false,
				LLMConfig: proposer.DefaultLLMConfig("det.llm", "gpt-4o-mini"),
			},
		},
	}
}

// Validate checks the full configuration tree.
func (c Config) Validate() error {
	if err := c.Space.Validate(); err != nil {
		return fmt.Errorf("space: %w", err)
	}
	if err := c.Aggregator.Validate(); err != nil {
		return fmt.Errorf("aggregator: %w", err)
	}
	if err := c.Constrainer.Validate(); err != nil {
		return fmt.Errorf("constrainer: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if c.Cache.Enabled {
		if !c.Cache.InMemory && c.Cache.Path == "" {
			return fmt.Errorf("cache: path is required when caching is enabled")
		}
		if c.Cache.TTL < time.Second {
			return fmt.Errorf("cache: ttl must be at least one second")
		}
	}
	if c.Detectors.LLM.Enabled {
		if err := c.Detectors.LLM.LLMConfig.Validate(); err != nil {
			return fmt.Errorf("detectors.llm: %w", err)
		}
	}
	return nil
}

// LoadConfig loads engine configuration.
//
// Description:
//
//	Starts from defaults, overlays the config file if one exists at
//	configPath, applies environment overrides, then validates.
//	A missing file is not an error; an unparsable one is.
//
// Inputs:
//
//	configPath - Path to a YAML or JSON config file. Empty skips the
//	file step.
//
// Outputs:
//
//	Config - Merged configuration.
//	error - Non-nil if the file is invalid or validation fails.
func LoadConfig(configPath string) (Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}

	return nil
}

func loadConfigFromEnv(config *Config) {
	if v := os.Getenv("SENTINEL_MAX_SIGNALS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Space.MaxSignals = i
		}
	}
	if v := os.Getenv("SENTINEL_BLOCK_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Constrainer.ImmediateBlockThreshold = f
		}
	}
	if v := os.Getenv("SENTINEL_ALLOW_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Constrainer.ImmediateAllowThreshold = f
		}
	}
	if v := os.Getenv("SENTINEL_CACHE_PATH"); v != "" {
		config.Cache.Path = v
		config.Cache.Enabled = true
	}
	if v := os.Getenv("SENTINEL_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Cache.TTL = d
		}
	}
	if v := os.Getenv("SENTINEL_LLM_MODEL"); v != "" {
		config.Detectors.LLM.Model = v
	}
	if v := os.Getenv("SENTINEL_LLM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Detectors.LLM.Enabled = b
		}
	}
}
