// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt renders conversation history into the flat text prompt the
// completion engines consume.
package prompt

import (
	"strings"

	"github.com/AleutianAI/AleutianChat/services/gateway/session"
)

// DefaultWindowTurns is the number of most-recent turns included in the
// prompt when no override is configured. Keeps prompt growth bounded for
// long-running sessions.
const DefaultWindowTurns = 6

// Compose renders a generation prompt from the system prompt and history.
//
// # Description
//
// The prompt is the system prompt, followed by the last window turns of the
// conversation rendered one per line, followed by a trailing assistant cue
// that positions the model to answer:
//
//	<system prompt>
//
//	Previous conversation:
//	User: <content>
//	Assistant: <content>
//
//	Assistant:
//
// The "Previous conversation:" block is present even when the window is
// empty, so the engine's stop marker ("User:") and the prompt shape stay
// consistent across the first and later requests of a session.
//
// # Inputs
//
//   - systemPrompt: Persona preamble. Used verbatim.
//   - turns: Full session history in insertion order. The caller passes a
//     snapshot; Compose never mutates it.
//   - window: Maximum number of trailing turns to render. Values below one
//     render no history.
//
// # Outputs
//
//   - string: The assembled prompt. Pure function of its inputs.
func Compose(systemPrompt string, turns []session.Turn, window int) string {
	if window < 0 {
		window = 0
	}
	if len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nPrevious conversation:\n")
	for i, turn := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(speaker(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Content)
	}
	b.WriteString("\n\nAssistant:")
	return b.String()
}

// speaker maps a turn role to its prompt label. Unknown roles render as
// "User" so a malformed turn can never impersonate the assistant.
func speaker(role session.Role) string {
	if role == session.RoleAssistant {
		return "Assistant"
	}
	return "User"
}
