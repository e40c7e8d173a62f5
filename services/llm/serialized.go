// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "context"

// =============================================================================
// Struct Definition
// =============================================================================

// SerializedClient wraps an LLMClient so at most one generation runs at a
// time.
//
// # Description
//
// Local single-model engines (llama.cpp, Ollama with one loaded model)
// thrash when hit concurrently. SerializedClient queues callers on a
// one-slot semaphore: requests proceed in acquisition order, and a caller
// whose context ends while waiting leaves the queue with ctx.Err() instead
// of occupying the engine.
//
// # Thread Safety
//
// Safe for concurrent use. That is its whole job.
type SerializedClient struct {
	inner LLMClient
	slot  chan struct{}
}

// =============================================================================
// Constructor
// =============================================================================

// NewSerializedClient wraps inner with single-flight admission.
//
// # Inputs
//
//   - inner: The backend to protect. Must be non-nil.
//
// # Examples
//
//	client, _ := llm.NewLocalLlamaCppClient()
//	serialized := llm.NewSerializedClient(client)
func NewSerializedClient(inner LLMClient) *SerializedClient {
	if inner == nil {
		panic("llm: NewSerializedClient requires a non-nil inner client")
	}
	return &SerializedClient{
		inner: inner,
		slot:  make(chan struct{}, 1),
	}
}

// =============================================================================
// Methods
// =============================================================================

// acquire takes the generation slot or gives up when ctx ends first.
func (s *SerializedClient) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SerializedClient) release() {
	<-s.slot
}

// Generate implements the LLMClient interface.
func (s *SerializedClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()
	return s.inner.Generate(ctx, prompt, params)
}

// GenerateStream implements the LLMClient interface.
func (s *SerializedClient) GenerateStream(ctx context.Context, prompt string,
	params GenerationParams, callback StreamCallback) error {

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.inner.GenerateStream(ctx, prompt, params, callback)
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ LLMClient = (*SerializedClient)(nil)
