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

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowClient counts how many generations run at once.
type slowClient struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (s *slowClient) run() {
	current := s.active.Add(1)
	for {
		seen := s.maxSeen.Load()
		if current <= seen || s.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}
	time.Sleep(s.delay)
	s.active.Add(-1)
}

func (s *slowClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {
	s.run()
	return "done", nil
}

func (s *slowClient) GenerateStream(ctx context.Context, prompt string,
	params GenerationParams, callback StreamCallback) error {
	s.run()
	return callback(StreamEvent{Type: StreamEventToken, Content: "done"})
}

func TestSerializedClient_NeverOverlaps(t *testing.T) {
	t.Parallel()

	inner := &slowClient{delay: 10 * time.Millisecond}
	client := NewSerializedClient(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Generate(context.Background(), "p", GenerationParams{})
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := client.GenerateStream(context.Background(), "p", GenerationParams{},
				func(StreamEvent) error { return nil })
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inner.maxSeen.Load(),
		"serialized client let generations overlap")
}

func TestSerializedClient_WaiterHonorsContext(t *testing.T) {
	t.Parallel()

	inner := &slowClient{delay: 200 * time.Millisecond}
	client := NewSerializedClient(inner)

	started := make(chan struct{})
	go func() {
		close(started)
		client.Generate(context.Background(), "long", GenerationParams{})
	}()
	<-started
	time.Sleep(20 * time.Millisecond) // let the first caller take the slot

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, "queued", GenerationParams{})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewSerializedClient_NilInnerPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewSerializedClient(nil) })
}
