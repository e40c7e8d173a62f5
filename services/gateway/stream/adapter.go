// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/AleutianAI/AleutianChat/services/llm"
)

// =============================================================================
// Constants
// =============================================================================

// ErrorFragmentText is the sanitized text surfaced to the client when the
// engine fails mid-generation. Backend details never cross this boundary.
const ErrorFragmentText = "I apologize, but I encountered an error while generating a response. Please try again."

// stopMarker prevents the model from continuing the conversation past its
// own reply. Matches the turn label the prompt composer renders.
const stopMarker = "User:"

// =============================================================================
// Types
// =============================================================================

// Fragment is one unit of streamed output.
//
// # Fields
//
//   - Content: Text to forward to the client.
//   - Err: True for the terminal sanitized error fragment. An error
//     fragment is always the last one on the channel.
type Fragment struct {
	Content string
	Err     bool
}

// Adapter turns a callback-driven LLMClient into a pull-based fragment
// stream.
//
// # Description
//
// The handler ranges over a channel of fragments instead of nesting its SSE
// writes inside the backend's callback. The adapter owns the producer
// goroutine, the token accumulator, and the failure policy: on an engine
// error the partial reply is discarded and a single sanitized error
// fragment terminates the stream.
type Adapter struct {
	client llm.LLMClient
}

// Generation is one in-flight streaming run.
//
// # Thread Safety
//
// Fragments must be consumed by a single goroutine. Result may only be
// called after the fragment channel is closed.
type Generation struct {
	fragments chan Fragment

	// Written by the producer goroutine before closing fragments,
	// read by the consumer after the close. The channel close is the
	// happens-before edge.
	answer string
	hash   string
	ok     bool
}

// =============================================================================
// Constructor
// =============================================================================

// NewAdapter wraps a completion backend.
//
// # Inputs
//
//   - client: Backend to stream from. Must be non-nil.
func NewAdapter(client llm.LLMClient) *Adapter {
	if client == nil {
		panic("stream: NewAdapter requires a non-nil client")
	}
	return &Adapter{client: client}
}

// =============================================================================
// Methods
// =============================================================================

// Stream starts a generation and returns its fragment stream.
//
// # Description
//
// A producer goroutine drives the backend's streaming callback and relays
// each non-empty token fragment onto an unbuffered channel, so production
// is paced by consumption. Ends one of three ways:
//
//   - Success: the channel closes after the last token; Result returns the
//     full reply.
//   - Engine failure: one Fragment with Err=true is delivered, the channel
//     closes, and the partial reply is discarded.
//   - Context cancellation: the channel closes with no terminal fragment;
//     the partial reply is discarded.
//
// # Inputs
//
//   - ctx: Cancels the generation when the client disconnects.
//   - prompt: Fully composed prompt text.
//   - params: Sampling parameters. The conversational stop marker is added
//     when absent.
//
// # Outputs
//
//   - *Generation: Stream handle. Consume Fragments() fully, then call
//     Result().
func (a *Adapter) Stream(ctx context.Context, prompt string,
	params llm.GenerationParams) *Generation {

	if !slices.Contains(params.Stop, stopMarker) {
		params.Stop = append(slices.Clone(params.Stop), stopMarker)
	}

	gen := &Generation{fragments: make(chan Fragment)}
	go a.produce(ctx, gen, prompt, params)
	return gen
}

// produce runs the backend stream and settles the generation.
func (a *Adapter) produce(ctx context.Context, gen *Generation, prompt string,
	params llm.GenerationParams) {

	defer close(gen.fragments)

	acc, err := NewTokenAccumulator()
	if err != nil {
		slog.Error("Failed to create token accumulator", "error", err)
		gen.deliverError(ctx)
		return
	}
	defer acc.Destroy()

	streamErr := a.client.GenerateStream(ctx, prompt, params,
		func(event llm.StreamEvent) error {
			if event.Type != llm.StreamEventToken || event.Content == "" {
				return nil
			}
			if err := acc.Write(event.Content); err != nil {
				return err
			}
			select {
			case gen.fragments <- Fragment{Content: event.Content}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

	if streamErr != nil {
		if errors.Is(streamErr, context.Canceled) || ctx.Err() != nil {
			slog.Info("Generation cancelled by client", "accumulator_id", acc.ID())
			return
		}
		slog.Error("Generation failed mid-stream",
			"accumulator_id", acc.ID(),
			"error", streamErr,
		)
		gen.deliverError(ctx)
		return
	}

	answer, hashStr, err := acc.Finalize()
	if err != nil {
		slog.Error("Failed to finalize accumulated reply", "error", err)
		gen.deliverError(ctx)
		return
	}
	gen.answer = answer
	gen.hash = hashStr
	gen.ok = true
}

// deliverError sends the terminal sanitized fragment unless the consumer is
// already gone.
func (g *Generation) deliverError(ctx context.Context) {
	select {
	case g.fragments <- Fragment{Content: ErrorFragmentText, Err: true}:
	case <-ctx.Done():
	}
}

// Fragments returns the stream of output fragments. Closed when the
// generation settles.
func (g *Generation) Fragments() <-chan Fragment {
	return g.fragments
}

// Result returns the full reply, its SHA-256 hash, and whether the
// generation completed. Only valid after Fragments() is closed. A false
// second return means the partial output was discarded.
func (g *Generation) Result() (string, string, bool) {
	return g.answer, g.hash, g.ok
}
