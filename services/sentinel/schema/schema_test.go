// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassThrough_AcceptsAnything(t *testing.T) {
	v := PassThrough()

	assert.NoError(t, v.Validate(nil))
	assert.NoError(t, v.Validate(map[string]any{"anything": 42}))
}

func TestFunc_Adapter(t *testing.T) {
	sentinel := errors.New("nope")
	v := Func(func(facts map[string]any) error {
		if facts["ok"] == true {
			return nil
		}
		return sentinel
	})

	assert.NoError(t, v.Validate(map[string]any{"ok": true}))
	assert.ErrorIs(t, v.Validate(map[string]any{"ok": false}), sentinel)
}

func TestNewRuleMap_EmptyRules(t *testing.T) {
	_, err := NewRuleMap(nil)
	require.Error(t, err)
}

func TestRuleMap_Validate(t *testing.T) {
	v, err := NewRuleMap(map[string]any{
		"pattern":    "required",
		"confidence": "required,min=0,max=1",
	})
	require.NoError(t, err)

	t.Run("conforming facts accepted", func(t *testing.T) {
		err := v.Validate(map[string]any{
			"pattern":    "ssn",
			"confidence": 0.9,
		})
		assert.NoError(t, err)
	})

	t.Run("missing field rejected", func(t *testing.T) {
		err := v.Validate(map[string]any{"confidence": 0.9})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pattern")
	})

	t.Run("out of range rejected", func(t *testing.T) {
		err := v.Validate(map[string]any{
			"pattern":    "ssn",
			"confidence": 1.7,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "confidence")
	})

	t.Run("nil facts treated as empty", func(t *testing.T) {
		err := v.Validate(nil)
		require.Error(t, err)
	})
}
