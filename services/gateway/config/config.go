// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads gateway configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianChat/services/gateway/prompt"
	"github.com/AleutianAI/AleutianChat/services/llm"
)

// Config holds all gateway runtime configuration.
//
// # Description
//
// Populated once at startup from environment variables. Everything has a
// sensible default so a bare `docker compose up` produces a working
// gateway against a local llama.cpp server.
//
// # Fields
//
//   - Host: Bind address for the HTTP server.
//   - Port: Listen port for the HTTP server.
//   - BackendType: Completion backend selector (local, ollama, openai).
//   - PersonaName: Human-readable gateway name for the status endpoint.
//   - SystemPrompt: Persona text prepended to every prompt.
//   - WindowTurns: Trailing conversation turns included per prompt.
//   - SessionMaxAge: Idle lifetime before a session is reclaimed.
//   - EmptySessionGrace: Lifetime for sessions that never got a turn.
//   - SweepInterval: Interval between background reclaim sweeps.
//   - Sampling: Generation sampling parameters.
type Config struct {
	Host              string
	Port              int
	BackendType       string
	PersonaName       string
	SystemPrompt      string
	WindowTurns       int
	SessionMaxAge     time.Duration
	EmptySessionGrace time.Duration
	SweepInterval     time.Duration
	Sampling          SamplingConfig
}

// SamplingConfig holds generation sampling parameters.
type SamplingConfig struct {
	Temperature   float32
	TopP          float32
	TopK          int
	RepeatPenalty float32
	MaxTokens     int
}

// DefaultSamplingConfig returns conversational sampling defaults.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Temperature:   0.7,
		TopP:          0.95,
		TopK:          40,
		RepeatPenalty: 1.1,
		MaxTokens:     1024,
	}
}

// Load reads gateway configuration from the environment.
//
// # Description
//
// Environment variables (all optional):
//
//   - GATEWAY_HOST (default: "0.0.0.0")
//   - GATEWAY_PORT (default: 8080)
//   - LLM_BACKEND_TYPE (default: "local")
//   - GATEWAY_PERSONA_NAME (default: "Aleutian Chat")
//   - SYSTEM_ROLE_PROMPT_PERSONA (default: "You are a helpful assistant.")
//   - HISTORY_WINDOW_TURNS (default: 6)
//   - SESSION_MAX_AGE_SECONDS (default: 3600)
//   - EMPTY_SESSION_GRACE_SECONDS (default: 300)
//   - SESSION_SWEEP_INTERVAL_SECONDS (default: 300)
//   - GEN_TEMPERATURE, GEN_TOP_P, GEN_TOP_K, GEN_REPEAT_PENALTY,
//     GEN_MAX_TOKENS (sampling overrides)
//
// Invalid values fall back to defaults with a warning rather than failing
// startup.
func Load() Config {
	sampling := SamplingConfig{
		Temperature:   getEnvFloat32("GEN_TEMPERATURE", DefaultSamplingConfig().Temperature),
		TopP:          getEnvFloat32("GEN_TOP_P", DefaultSamplingConfig().TopP),
		TopK:          getEnvInt("GEN_TOP_K", DefaultSamplingConfig().TopK),
		RepeatPenalty: getEnvFloat32("GEN_REPEAT_PENALTY", DefaultSamplingConfig().RepeatPenalty),
		MaxTokens:     getEnvInt("GEN_MAX_TOKENS", DefaultSamplingConfig().MaxTokens),
	}

	cfg := Config{
		Host:              getEnvString("GATEWAY_HOST", "0.0.0.0"),
		Port:              getEnvInt("GATEWAY_PORT", 8080),
		BackendType:       getEnvString("LLM_BACKEND_TYPE", "local"),
		PersonaName:       getEnvString("GATEWAY_PERSONA_NAME", "Aleutian Chat"),
		SystemPrompt:      getEnvString("SYSTEM_ROLE_PROMPT_PERSONA", "You are a helpful assistant."),
		WindowTurns:       getEnvInt("HISTORY_WINDOW_TURNS", prompt.DefaultWindowTurns),
		SessionMaxAge:     getEnvSeconds("SESSION_MAX_AGE_SECONDS", 3600),
		EmptySessionGrace: getEnvSeconds("EMPTY_SESSION_GRACE_SECONDS", 300),
		SweepInterval:     getEnvSeconds("SESSION_SWEEP_INTERVAL_SECONDS", 300),
		Sampling:          sampling,
	}

	if cfg.WindowTurns < 1 {
		slog.Warn("HISTORY_WINDOW_TURNS below 1, using default",
			"requested", cfg.WindowTurns,
			"default", prompt.DefaultWindowTurns,
		)
		cfg.WindowTurns = prompt.DefaultWindowTurns
	}
	if cfg.SessionMaxAge <= 0 {
		slog.Warn("SESSION_MAX_AGE_SECONDS must be positive, using default",
			"default_seconds", 3600,
		)
		cfg.SessionMaxAge = 3600 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		slog.Warn("SESSION_SWEEP_INTERVAL_SECONDS must be positive, using default",
			"default_seconds", 300,
		)
		cfg.SweepInterval = 300 * time.Second
	}

	return cfg
}

// Params converts the sampling configuration into generation parameters.
func (c Config) Params() llm.GenerationParams {
	temperature := c.Sampling.Temperature
	topP := c.Sampling.TopP
	topK := c.Sampling.TopK
	repeatPenalty := c.Sampling.RepeatPenalty
	maxTokens := c.Sampling.MaxTokens

	return llm.GenerationParams{
		Temperature:   &temperature,
		TopP:          &topP,
		TopK:          &topK,
		RepeatPenalty: &repeatPenalty,
		MaxTokens:     &maxTokens,
	}
}

// getEnvString returns an environment variable as string, or defaultVal if not set.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
		slog.Warn("Invalid integer in environment, using default",
			"key", key,
			"value", val,
			"default", defaultVal,
		)
	}
	return defaultVal
}

// getEnvFloat32 returns an environment variable as float32, or defaultVal if
// not set/invalid.
func getEnvFloat32(key string, defaultVal float32) float32 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 32); err == nil {
			return float32(floatVal)
		}
		slog.Warn("Invalid float in environment, using default",
			"key", key,
			"value", val,
			"default", defaultVal,
		)
	}
	return defaultVal
}

// getEnvSeconds returns an environment variable as a duration in seconds.
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
