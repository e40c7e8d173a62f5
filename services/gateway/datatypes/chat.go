// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides request and response types for the chat
// gateway's HTTP surface.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single chat message.
	// Unbounded message input mitigation.
	MaxMessageContentBytes = 32 * 1024 // 32KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) against
// MaxMessageContentBytes, so multibyte payloads cannot dodge the limit.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Stream Request Types
// =============================================================================

// ChatStreamRequest is the body of POST /v1/chat/stream.
//
// # Fields
//
//   - Message: Required. The user's message text, limited to 32KB.
//   - SessionID: Required. Opaque caller-chosen conversation identifier.
//     Reusing an identifier continues that conversation; a new one starts
//     fresh.
//
// # Validation
//
// Uses go-playground/validator:
//   - Message: required, max 32768 bytes
//   - SessionID: required, non-empty
//
// # Examples
//
//	{"message": "What is Go?", "session_id": "sess-42"}
type ChatStreamRequest struct {
	Message   string `json:"message" validate:"required,maxbytes"`
	SessionID string `json:"session_id" validate:"required"`
}

// Validate validates the ChatStreamRequest fields.
//
// # Outputs
//
//   - error: Non-nil if validation failed, with details about which field.
func (r *ChatStreamRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Stream Event Types
// =============================================================================

// StreamEvent is one Server-Sent Event on the chat stream.
//
// # Description
//
// Events carry their payload in exactly one of Content, Message, or Error
// depending on Type. Metadata fields (Id, CreatedAt, Hash, PrevHash) are
// populated by the SSE writer; Hash chains to the previous event's Hash so
// a client can verify no event was dropped or reordered.
//
// # Fields
//
//   - Type: "status", "token", "error", or "done".
//   - Content: Token text (Type="token").
//   - Message: Status text (Type="status").
//   - Error: Sanitized error text (Type="error").
//   - SessionId: Echoed session identifier (Type="done").
//   - Id: UUID v4 for ordering and deduplication.
//   - CreatedAt: Unix timestamp in milliseconds.
//   - Hash: SHA-256 of this event's content.
//   - PrevHash: Hash of the previous event, "" for the first.
type StreamEvent struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	SessionId string `json:"session_id,omitempty"`
	Id        string `json:"id,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`
}

// =============================================================================
// Status Response Types
// =============================================================================

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Status         string `json:"status"`
	Model          string `json:"model"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
}

// HealthResponse is the body of GET /health. Status is "healthy" or
// "unhealthy"; ModelLoaded reports whether the engine answered the probe.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Error       string `json:"error,omitempty"`
}
