// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianChat/services/gateway/session"
)

func TestCompose_ExactFormat(t *testing.T) {
	turns := []session.Turn{
		{Role: session.RoleUser, Content: "What is Go?"},
		{Role: session.RoleAssistant, Content: "A programming language."},
	}

	got := Compose("You are a helpful assistant.", turns, DefaultWindowTurns)

	want := "You are a helpful assistant.\n\nPrevious conversation:\n" +
		"User: What is Go?\n" +
		"Assistant: A programming language." +
		"\n\nAssistant:"
	assert.Equal(t, want, got)
}

func TestCompose_EmptyHistory(t *testing.T) {
	got := Compose("Persona.", nil, DefaultWindowTurns)

	assert.Equal(t, "Persona.\n\nPrevious conversation:\n\n\nAssistant:", got)
}

func TestCompose_WindowTruncation(t *testing.T) {
	var turns []session.Turn
	for i := 0; i < 10; i++ {
		turns = append(turns, session.Turn{
			Role:    session.RoleUser,
			Content: fmt.Sprintf("turn-%d", i),
		})
	}

	got := Compose("sys", turns, 6)

	// Only the last six turns appear.
	assert.NotContains(t, got, "turn-3")
	assert.Contains(t, got, "turn-4")
	assert.Contains(t, got, "turn-9")
}

func TestCompose_ZeroAndNegativeWindow(t *testing.T) {
	turns := []session.Turn{{Role: session.RoleUser, Content: "hello"}}

	for _, window := range []int{0, -1} {
		got := Compose("sys", turns, window)
		assert.NotContains(t, got, "hello")
		assert.Contains(t, got, "Previous conversation:")
	}
}

func TestCompose_DoesNotMutateInput(t *testing.T) {
	turns := []session.Turn{
		{Role: session.RoleUser, Content: "a"},
		{Role: session.RoleUser, Content: "b"},
	}

	Compose("sys", turns, 1)

	assert.Equal(t, "a", turns[0].Content)
	assert.Equal(t, "b", turns[1].Content)
}

func TestCompose_Deterministic(t *testing.T) {
	turns := []session.Turn{
		{Role: session.RoleUser, Content: "q"},
		{Role: session.RoleAssistant, Content: "a"},
	}

	first := Compose("sys", turns, 6)
	second := Compose("sys", turns, 6)

	assert.Equal(t, first, second)
}

func TestCompose_UnknownRoleRendersAsUser(t *testing.T) {
	turns := []session.Turn{{Role: session.Role("system"), Content: "sneaky"}}

	got := Compose("sys", turns, 6)

	assert.Contains(t, got, "User: sneaky")
}
