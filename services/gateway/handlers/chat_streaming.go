// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianChat/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianChat/services/gateway/observability"
	"github.com/AleutianAI/AleutianChat/services/gateway/prompt"
	"github.com/AleutianAI/AleutianChat/services/gateway/session"
	"github.com/AleutianAI/AleutianChat/services/gateway/stream"
	"github.com/AleutianAI/AleutianChat/services/gateway/ttl"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
	heartbeatInterval = 15 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// ChatStreamHandler defines the contract for handling streaming chat HTTP
// requests.
//
// # Description
//
// ChatStreamHandler abstracts the streaming chat endpoint, enabling different
// implementations and facilitating testing via mocks. The endpoint streams
// the assistant's reply over Server-Sent Events while persisting both sides
// of the exchange into the session store.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// HTTP handlers are called concurrently by the Gin framework.
//
// # Assumptions
//
//   - All dependencies are properly initialized before handler use
//   - Client supports SSE (EventSource or similar)
type ChatStreamHandler interface {
	// HandleChatStream processes chat requests with SSE streaming.
	//
	// # Description
	//
	// Handles POST /v1/chat/stream requests. Appends the user turn to the
	// session, composes the prompt from the persona and the trailing
	// conversation window, then streams tokens as they are generated.
	//
	// # Outputs
	//
	// SSE stream with events:
	//   - status: Processing status updates
	//   - token: Generated tokens
	//   - done: Stream completion with session ID
	//   - error: Sanitized error event (if generation fails)
	//
	// HTTP Status (before streaming starts):
	//   - 400 Bad Request: Invalid request body or validation failure
	//   - 500 Internal Server Error: SSE setup failure
	HandleChatStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// chatStreamHandler implements ChatStreamHandler for production use.
//
// # Description
//
// chatStreamHandler coordinates between the HTTP layer and the generation
// stream. It performs HTTP-related tasks and delegates the backend callback
// plumbing to the stream adapter:
//   - Request parsing and validation
//   - Session turn persistence
//   - Prompt composition
//   - SSE event emission and keepalives
//
// # Fields
//
//   - store: Session store for conversation history
//   - adapter: Generation stream adapter over the completion backend
//   - sweeper: Session reclaimer triggered after each completed exchange
//   - systemPrompt: Persona text prepended to every prompt
//   - windowTurns: Number of trailing turns included in the prompt
//   - params: Sampling parameters applied to every generation
//   - tracer: OpenTelemetry tracer for distributed tracing
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction.
// No shared mutable state between requests.
type chatStreamHandler struct {
	store        session.Store
	adapter      *stream.Adapter
	sweeper      ttl.Sweeper
	systemPrompt string
	windowTurns  int
	params       llm.GenerationParams
	tracer       trace.Tracer
}

// =============================================================================
// Constructor
// =============================================================================

// NewChatStreamHandler creates a ChatStreamHandler with the provided
// dependencies.
//
// # Inputs
//
//   - store: Session store. Must not be nil.
//   - adapter: Generation stream adapter. Must not be nil.
//   - sweeper: Session reclaimer. Must not be nil.
//   - systemPrompt: Persona text for prompt composition.
//   - windowTurns: Trailing turns included per prompt. Values below one
//     fall back to the composer default.
//   - params: Sampling parameters applied to every generation.
//
// # Outputs
//
//   - ChatStreamHandler: Ready for use with the Gin router.
//
// # Limitations
//
//   - Panics on nil store or adapter (programming errors).
func NewChatStreamHandler(
	store session.Store,
	adapter *stream.Adapter,
	sweeper ttl.Sweeper,
	systemPrompt string,
	windowTurns int,
	params llm.GenerationParams,
) ChatStreamHandler {
	if store == nil {
		panic("NewChatStreamHandler: store must not be nil")
	}
	if adapter == nil {
		panic("NewChatStreamHandler: adapter must not be nil")
	}
	if sweeper == nil {
		panic("NewChatStreamHandler: sweeper must not be nil")
	}
	if windowTurns < 1 {
		windowTurns = prompt.DefaultWindowTurns
	}
	return &chatStreamHandler{
		store:        store,
		adapter:      adapter,
		sweeper:      sweeper,
		systemPrompt: systemPrompt,
		windowTurns:  windowTurns,
		params:       params,
		tracer:       otel.Tracer("aleutian.gateway.handlers.chat_streaming"),
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleChatStream processes chat requests with SSE streaming.
//
// # Description
//
// The flow is:
//  1. Parse and validate the request body
//  2. Append the user turn and snapshot the conversation
//  3. Compose the prompt from persona plus trailing window
//  4. Set SSE headers and create writer
//  5. Emit status event, start heartbeat
//  6. Relay generation fragments as token events
//  7. On success, persist the assistant turn, emit done, and trigger a
//     reclaim sweep
//
// Failures after streaming starts are sent as SSE error events, not HTTP
// errors: the status line is already on the wire. A mid-stream engine
// failure discards the partial reply, so the session never records a turn
// the client saw truncated.
//
// # Security References
//
//   - Message size limits enforced via validation
//   - Internal errors not exposed to client
func (h *chatStreamHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	// Track active stream (for metrics)
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	// Step 1: Parse request body
	var req datatypes.ChatStreamRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse streaming chat request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	span.SetAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.Int("request.message_bytes", len(req.Message)),
	)

	// Step 2: Validate request. Nothing touches the session store until the
	// request is known to be well formed.
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		slog.Error("Streaming request validation failed",
			"error", err,
			"sessionId", req.SessionID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}

	// Step 3: Persist the user turn and compose the prompt
	h.store.GetOrCreate(req.SessionID)
	h.store.AppendTurn(req.SessionID, session.Turn{
		Role:      session.RoleUser,
		Content:   req.Message,
		Timestamp: time.Now(),
	})
	turns := h.store.Snapshot(req.SessionID)
	promptText := prompt.Compose(h.systemPrompt, turns, h.windowTurns)

	span.SetAttributes(
		attribute.Int("session.turn_count", len(turns)),
		attribute.Int("prompt.bytes", len(promptText)),
	)

	// Step 4: Set SSE headers and create writer
	SetSSEHeaders(c.Writer)
	sseWriter, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer",
			"error", err,
			"sessionId", req.SessionID,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	// Step 5: Emit status event
	if err := sseWriter.WriteStatus("Generating response..."); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write status event",
			"error", err,
			"sessionId", req.SessionID,
		)
		return
	}

	// Step 6: Start heartbeat goroutine to prevent connection timeouts
	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, sseWriter, endpoint, heartbeatDone)

	// Step 7: Stream fragments from the generation
	genCtx, cancelGen := context.WithCancel(ctx)
	defer cancelGen()

	gen := h.adapter.Stream(genCtx, promptText, h.params)

	tokenCount := 0
	firstTokenTime := time.Time{}
	engineFailed := false
	clientGone := false

	for frag := range gen.Fragments() {
		if frag.Err {
			engineFailed = true
			if writeErr := sseWriter.WriteError(frag.Content); writeErr != nil {
				slog.Debug("Failed to write error event", "error", writeErr)
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeLLMError)
			}
			continue
		}

		if writeErr := sseWriter.WriteToken(frag.Content); writeErr != nil {
			// The client hung up. Cancel the generation and drain the
			// channel so the producer can exit.
			clientGone = true
			cancelGen()
			for range gen.Fragments() {
			}
			break
		}

		tokenCount++
		if firstTokenTime.IsZero() {
			firstTokenTime = time.Now()
		}
	}

	// Stop heartbeat
	close(heartbeatDone)

	span.SetAttributes(attribute.Int("stream.token_count", tokenCount))

	if clientGone {
		span.SetStatus(codes.Error, "client disconnected")
		slog.Info("Client disconnected mid-stream",
			"sessionId", req.SessionID,
			"tokenCount", tokenCount,
		)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
			m.RecordClientDisconnect(endpoint)
		}
		return
	}

	if !firstTokenTime.IsZero() {
		ttft := firstTokenTime.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstToken(endpoint, ttft)
		}
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordTokensStreamed(endpoint, tokenCount)
	}

	// Step 8: Settle the generation
	answer, answerHash, ok := gen.Result()
	if !ok {
		// The terminal error event already went out (engine failure), or
		// the request context ended. The partial reply is discarded and
		// the session keeps only the user turn.
		if engineFailed {
			span.SetStatus(codes.Error, "generation failed")
		}
		slog.Warn("Generation did not complete",
			"sessionId", req.SessionID,
			"engineFailed", engineFailed,
			"tokenCount", tokenCount,
		)
		return
	}

	span.SetAttributes(attribute.String("answer.sha256", answerHash))

	// Step 9: Persist the assistant turn
	if !h.store.AppendTurn(req.SessionID, session.Turn{
		Role:      session.RoleAssistant,
		Content:   answer,
		Timestamp: time.Now(),
	}) {
		// Session was reclaimed mid-generation. The client still gets the
		// reply it watched stream; only continuity is lost.
		slog.Warn("Session vanished before assistant turn could persist",
			"sessionId", req.SessionID,
		)
	}

	// Step 10: Emit done event
	if err := sseWriter.WriteDone(req.SessionID); err != nil {
		span.RecordError(err)
		slog.Debug("Failed to write done event", "error", err)
		return
	}

	success = true

	// Step 11: Reclaim stale sessions now that this exchange settled. The
	// background scheduler also sweeps, but sweeping at completion keeps an
	// idle-but-busy gateway from hoarding dead sessions between ticks.
	if _, err := h.sweeper.SweepNow(); err != nil {
		slog.Warn("Post-generation session sweep skipped", "error", err)
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// runHeartbeat sends periodic keepalive pings until done or context cancel.
func (h *chatStreamHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	done <-chan struct{},
) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}

// Compile-time check.
var _ ChatStreamHandler = (*chatStreamHandler)(nil)
