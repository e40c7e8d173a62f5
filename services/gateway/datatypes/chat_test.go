// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatStreamRequest_Valid(t *testing.T) {
	req := ChatStreamRequest{Message: "hello", SessionID: "sess-1"}
	assert.NoError(t, req.Validate())
}

func TestChatStreamRequest_MissingMessage(t *testing.T) {
	req := ChatStreamRequest{SessionID: "sess-1"}
	assert.Error(t, req.Validate())
}

func TestChatStreamRequest_MissingSessionID(t *testing.T) {
	req := ChatStreamRequest{Message: "hello"}
	assert.Error(t, req.Validate())
}

func TestChatStreamRequest_MessageAtLimit(t *testing.T) {
	req := ChatStreamRequest{
		Message:   strings.Repeat("a", MaxMessageContentBytes),
		SessionID: "sess-1",
	}
	assert.NoError(t, req.Validate())
}

func TestChatStreamRequest_MessageOverLimit(t *testing.T) {
	req := ChatStreamRequest{
		Message:   strings.Repeat("a", MaxMessageContentBytes+1),
		SessionID: "sess-1",
	}
	assert.Error(t, req.Validate())
}

func TestChatStreamRequest_MultibyteLimitIsBytes(t *testing.T) {
	// Each rune is 3 bytes; a rune count check would pass this.
	overLimit := strings.Repeat("気", MaxMessageContentBytes/3+1)
	require.Greater(t, len(overLimit), MaxMessageContentBytes)

	req := ChatStreamRequest{Message: overLimit, SessionID: "sess-1"}
	assert.Error(t, req.Validate())
}
