// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides clients for the completion engines the gateway can
// run against: a local llama.cpp server, Ollama, or the OpenAI API. All
// backends satisfy LLMClient so the gateway never knows which one it has.
package llm

import "context"

// GenerationParams carries per-request sampling parameters. Nil pointer
// fields mean "use the backend's default".
type GenerationParams struct {
	Temperature   *float32 `json:"temperature"`
	TopK          *int     `json:"top_k"`
	TopP          *float32 `json:"top_p"`
	RepeatPenalty *float32 `json:"repeat_penalty"`
	MaxTokens     *int     `json:"max_tokens"`
	Stop          []string `json:"stop"`
}

// StreamEventType identifies the kind of event emitted during streaming.
type StreamEventType string

const (
	// StreamEventToken is an incremental piece of generated text.
	StreamEventToken StreamEventType = "token"
)

// StreamEvent is a single event from a streaming generation.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
}

// StreamCallback receives streaming events as they arrive. Returning a
// non-nil error aborts the stream; the client stops reading and returns the
// callback's error wrapped.
type StreamCallback func(event StreamEvent) error

// LLMClient defines the standard interface for any completion backend.
//
// # Thread Safety
//
// Implementations are safe for concurrent calls, but single-slot local
// engines should be wrapped with NewSerializedClient so concurrent requests
// queue instead of contending inside the engine.
type LLMClient interface {
	// Generate runs a blocking completion and returns the full text.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// GenerateStream runs a streaming completion, invoking callback once per
	// token fragment in generation order. Returns nil after the backend
	// signals completion, ctx.Err() when the context ends first, and the
	// backend or callback error otherwise.
	GenerateStream(ctx context.Context, prompt string, params GenerationParams,
		callback StreamCallback) error
}
