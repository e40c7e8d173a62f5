// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "local", cfg.BackendType)
	assert.Equal(t, "Aleutian Chat", cfg.PersonaName)
	assert.Equal(t, "You are a helpful assistant.", cfg.SystemPrompt)
	assert.Equal(t, 6, cfg.WindowTurns)
	assert.Equal(t, time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, 5*time.Minute, cfg.EmptySessionGrace)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)

	assert.InDelta(t, 0.7, cfg.Sampling.Temperature, 0.001)
	assert.InDelta(t, 0.95, cfg.Sampling.TopP, 0.001)
	assert.Equal(t, 40, cfg.Sampling.TopK)
	assert.InDelta(t, 1.1, cfg.Sampling.RepeatPenalty, 0.001)
	assert.Equal(t, 1024, cfg.Sampling.MaxTokens)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "9090")
	t.Setenv("LLM_BACKEND_TYPE", "ollama")
	t.Setenv("GATEWAY_PERSONA_NAME", "Harbor Bot")
	t.Setenv("SYSTEM_ROLE_PROMPT_PERSONA", "You are a terse pirate.")
	t.Setenv("HISTORY_WINDOW_TURNS", "10")
	t.Setenv("SESSION_MAX_AGE_SECONDS", "120")
	t.Setenv("SESSION_SWEEP_INTERVAL_SECONDS", "30")
	t.Setenv("GEN_TEMPERATURE", "0.2")
	t.Setenv("GEN_MAX_TOKENS", "256")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "ollama", cfg.BackendType)
	assert.Equal(t, "Harbor Bot", cfg.PersonaName)
	assert.Equal(t, "You are a terse pirate.", cfg.SystemPrompt)
	assert.Equal(t, 10, cfg.WindowTurns)
	assert.Equal(t, 2*time.Minute, cfg.SessionMaxAge)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.InDelta(t, 0.2, cfg.Sampling.Temperature, 0.001)
	assert.Equal(t, 256, cfg.Sampling.MaxTokens)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "not-a-port")
	t.Setenv("HISTORY_WINDOW_TURNS", "-3")
	t.Setenv("SESSION_MAX_AGE_SECONDS", "0")
	t.Setenv("GEN_TEMPERATURE", "warm")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port, "invalid port should fall back to default")
	assert.Equal(t, 6, cfg.WindowTurns, "non-positive window should fall back to default")
	assert.Equal(t, time.Hour, cfg.SessionMaxAge, "non-positive max age should fall back to default")
	assert.InDelta(t, 0.7, cfg.Sampling.Temperature, 0.001)
}

func TestConfig_Params(t *testing.T) {
	cfg := Load()
	params := cfg.Params()

	require.NotNil(t, params.Temperature)
	require.NotNil(t, params.TopP)
	require.NotNil(t, params.TopK)
	require.NotNil(t, params.RepeatPenalty)
	require.NotNil(t, params.MaxTokens)

	assert.InDelta(t, 0.7, float64(*params.Temperature), 0.001)
	assert.InDelta(t, 0.95, float64(*params.TopP), 0.001)
	assert.Equal(t, 40, *params.TopK)
	assert.InDelta(t, 1.1, float64(*params.RepeatPenalty), 0.001)
	assert.Equal(t, 1024, *params.MaxTokens)
}

func TestConfig_Params_PointersAreIndependent(t *testing.T) {
	cfg := Load()

	a := cfg.Params()
	b := cfg.Params()

	*a.MaxTokens = 1
	assert.Equal(t, 1024, *b.MaxTokens, "params must not share backing storage")
}
