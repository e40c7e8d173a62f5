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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChat/services/llm"
)

// scriptedClient replays a fixed sequence of events, optionally failing
// partway through.
type scriptedClient struct {
	tokens    []string
	failAfter int // -1 means never fail
	failErr   error
	gotParams llm.GenerationParams
}

func (s *scriptedClient) Generate(ctx context.Context, prompt string,
	params llm.GenerationParams) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedClient) GenerateStream(ctx context.Context, prompt string,
	params llm.GenerationParams, callback llm.StreamCallback) error {

	s.gotParams = params
	for i, token := range s.tokens {
		if s.failAfter >= 0 && i == s.failAfter {
			return s.failErr
		}
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: token}); err != nil {
			return err
		}
	}
	return nil
}

func collect(gen *Generation) []Fragment {
	var out []Fragment
	for fragment := range gen.Fragments() {
		out = append(out, fragment)
	}
	return out
}

func TestStream_SuccessDeliversAllFragmentsInOrder(t *testing.T) {
	client := &scriptedClient{tokens: []string{"Hel", "lo", " world"}, failAfter: -1}
	adapter := NewAdapter(client)

	gen := adapter.Stream(context.Background(), "prompt", llm.GenerationParams{})
	fragments := collect(gen)

	require.Len(t, fragments, 3)
	assert.Equal(t, "Hel", fragments[0].Content)
	assert.Equal(t, "lo", fragments[1].Content)
	assert.Equal(t, " world", fragments[2].Content)
	for _, fragment := range fragments {
		assert.False(t, fragment.Err)
	}

	answer, hashStr, ok := gen.Result()
	assert.True(t, ok)
	assert.Equal(t, "Hello world", answer)
	assert.Len(t, hashStr, 64)
}

func TestStream_EmptyFragmentsAreSkipped(t *testing.T) {
	client := &scriptedClient{tokens: []string{"", "a", "", "b"}, failAfter: -1}
	adapter := NewAdapter(client)

	gen := adapter.Stream(context.Background(), "prompt", llm.GenerationParams{})
	fragments := collect(gen)

	require.Len(t, fragments, 2)
	assert.Equal(t, "a", fragments[0].Content)
	assert.Equal(t, "b", fragments[1].Content)
}

func TestStream_EngineFailureEmitsTerminalErrorFragment(t *testing.T) {
	client := &scriptedClient{
		tokens:    []string{"partial ", "output ", "never seen"},
		failAfter: 2,
		failErr:   errors.New("engine exploded"),
	}
	adapter := NewAdapter(client)

	gen := adapter.Stream(context.Background(), "prompt", llm.GenerationParams{})
	fragments := collect(gen)

	// Two real fragments, then exactly one terminal error fragment.
	require.Len(t, fragments, 3)
	assert.False(t, fragments[0].Err)
	assert.False(t, fragments[1].Err)
	assert.True(t, fragments[2].Err)
	assert.Equal(t, ErrorFragmentText, fragments[2].Content)
	assert.NotContains(t, fragments[2].Content, "exploded",
		"backend detail leaked to the client")

	// Partial output is discarded.
	answer, _, ok := gen.Result()
	assert.False(t, ok)
	assert.Empty(t, answer)
}

func TestStream_ImmediateFailureStillTerminates(t *testing.T) {
	client := &scriptedClient{tokens: []string{"x"}, failAfter: 0,
		failErr: errors.New("boom")}
	adapter := NewAdapter(client)

	gen := adapter.Stream(context.Background(), "prompt", llm.GenerationParams{})
	fragments := collect(gen)

	require.Len(t, fragments, 1)
	assert.True(t, fragments[0].Err)

	_, _, ok := gen.Result()
	assert.False(t, ok)
}

func TestStream_CancellationClosesWithoutErrorFragment(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &scriptedClient{tokens: []string{"a", "b", "c", "d"}, failAfter: -1}
	adapter := NewAdapter(client)

	gen := adapter.Stream(ctx, "prompt", llm.GenerationParams{})

	// Take one fragment, then walk away.
	first := <-gen.Fragments()
	assert.Equal(t, "a", first.Content)
	cancel()

	fragments := collect(gen)
	for _, fragment := range fragments {
		assert.False(t, fragment.Err,
			"cancellation must not surface an error fragment")
	}

	_, _, ok := gen.Result()
	assert.False(t, ok)
}

func TestStream_ForcesConversationalStopMarker(t *testing.T) {
	client := &scriptedClient{tokens: []string{"hi"}, failAfter: -1}
	adapter := NewAdapter(client)

	gen := adapter.Stream(context.Background(), "prompt", llm.GenerationParams{})
	collect(gen)

	assert.Contains(t, client.gotParams.Stop, "User:")
}

func TestStream_DoesNotDuplicateStopMarker(t *testing.T) {
	client := &scriptedClient{tokens: []string{"hi"}, failAfter: -1}
	adapter := NewAdapter(client)

	gen := adapter.Stream(context.Background(), "prompt",
		llm.GenerationParams{Stop: []string{"User:"}})
	collect(gen)

	assert.Equal(t, []string{"User:"}, client.gotParams.Stop)
}

func TestNewAdapter_NilClientPanics(t *testing.T) {
	assert.Panics(t, func() { NewAdapter(nil) })
}
