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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianChat/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianChat/services/gateway/session"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/gin-gonic/gin"
)

// healthProbeTimeout bounds the health check's round trip to the engine.
const healthProbeTimeout = 30 * time.Second

// MiscHandler serves the status and health endpoints.
//
// # Description
//
// Status reports gateway identity plus live session count without touching
// the completion backend. Health performs a real end-to-end probe: a tiny
// generation request proves the engine is loaded and answering, not merely
// that its port is open.
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction.
type MiscHandler struct {
	store    session.Store
	client   llm.LLMClient
	identity string
	model    string
	version  string
}

// NewMiscHandler creates a MiscHandler.
//
// # Inputs
//
//   - store: Session store for the active session count. Must not be nil.
//   - client: Completion backend for the health probe. Must not be nil.
//   - identity: Human-readable gateway name reported by Status.
//   - model: Model name reported by Status.
//   - version: Build version reported by Status.
func NewMiscHandler(
	store session.Store,
	client llm.LLMClient,
	identity string,
	model string,
	version string,
) *MiscHandler {
	if store == nil {
		panic("NewMiscHandler: store must not be nil")
	}
	if client == nil {
		panic("NewMiscHandler: client must not be nil")
	}
	return &MiscHandler{
		store:    store,
		client:   client,
		identity: identity,
		model:    model,
		version:  version,
	}
}

// HandleStatus reports gateway identity and live session count.
func (h *MiscHandler) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, datatypes.StatusResponse{
		Status:         h.identity + " is running",
		Model:          h.model,
		Version:        h.version,
		ActiveSessions: h.store.Count(),
	})
}

// HandleHealthCheck probes the completion backend.
//
// # Description
//
// Sends a minimal generation request with a hard timeout. A responsive
// engine returns 200 with status "healthy" and model_loaded true; any
// failure returns 503 with status "unhealthy" and a short classified
// reason. Raw engine errors are logged server-side but never forwarded.
func (h *MiscHandler) HandleHealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	maxTokens := 5
	_, err := h.client.Generate(ctx, "Test", llm.GenerationParams{
		MaxTokens: &maxTokens,
	})
	if err != nil {
		slog.Error("Health check probe failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, datatypes.HealthResponse{
			Status:      "unhealthy",
			ModelLoaded: false,
			Error:       classifyProbeFailure(err),
		})
		return
	}

	c.JSON(http.StatusOK, datatypes.HealthResponse{
		Status:      "healthy",
		ModelLoaded: true,
	})
}

// classifyProbeFailure maps a probe error to a short caller-safe reason.
// The returned text names the failure mode only; engine internals stay in
// the server log.
func classifyProbeFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "completion engine timed out"
	case errors.Is(err, context.Canceled):
		return "health check canceled"
	default:
		return "completion engine not responding"
	}
}
