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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Space.MaxSignals)
	assert.InDelta(t, 0.85, cfg.Constrainer.ImmediateBlockThreshold, 1e-9)
	assert.False(t, cfg.Cache.Enabled)
	assert.False(t, cfg.Detectors.LLM.Enabled)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Space.MaxSignals)
}

func TestLoadConfig_YAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	doc := `
space:
  max_signals: 32
constrainer:
  immediate_block_threshold: 0.9
detectors:
  patterns:
    - name: det.blocklist
      priority: 100
      patterns:
        - name: bad-host
          expr: 'evil\.example'
          confidence: 0.99
          early_exit: true
          classification: blacklisted
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Space.MaxSignals)
	assert.InDelta(t, 0.9, cfg.Constrainer.ImmediateBlockThreshold, 1e-9)
	require.Len(t, cfg.Detectors.Patterns, 1)
	assert.Equal(t, "det.blocklist", cfg.Detectors.Patterns[0].Name)
	require.Len(t, cfg.Detectors.Patterns[0].Patterns, 1)
	assert.True(t, cfg.Detectors.Patterns[0].Patterns[0].EarlyExit)
}

func TestLoadConfig_GarbageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{not config"), 0600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_MAX_SIGNALS", "64")
	t.Setenv("SENTINEL_BLOCK_THRESHOLD", "0.95")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Space.MaxSignals)
	assert.InDelta(t, 0.95, cfg.Constrainer.ImmediateBlockThreshold, 1e-9)
}

func TestConfig_Validate(t *testing.T) {
	t.Run("cache enabled without path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.Enabled = true
		assert.Error(t, cfg.Validate())
	})

	t.Run("cache ttl below a second", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.Enabled = true
		cfg.Cache.InMemory = true
		cfg.Cache.TTL = 100 * time.Millisecond
		assert.Error(t, cfg.Validate())
	})

	t.Run("inverted constrainer ladder", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Constrainer.ImmediateAllowThreshold = 0.9
		cfg.Constrainer.ImmediateBlockThreshold = 0.2
		assert.Error(t, cfg.Validate())
	})

	t.Run("llm enabled without model", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Detectors.LLM.Enabled = true
		cfg.Detectors.LLM.Model = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
	})
}
