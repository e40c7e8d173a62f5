// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session provides the in-memory conversation store for the chat
// gateway. Sessions are volatile: they live for the process lifetime only and
// are reclaimed once idle beyond a configured age.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Turn Types
// =============================================================================

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn authored by the caller.
	RoleUser Role = "user"

	// RoleAssistant marks a turn authored by the model.
	RoleAssistant Role = "assistant"
)

// Turn is a single conversational event. Immutable once created.
//
// # Fields
//
//   - Role: Author of the turn (user or assistant).
//   - Content: The message text.
//   - Timestamp: Wall-clock instant the turn was created.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// Interface Definition
// =============================================================================

// Store defines the contract for per-session conversation state.
//
// # Description
//
// Store maps opaque caller-supplied session identifiers to ordered,
// append-only turn logs. It is constructed once at process start and handed
// to the request handler and the reclaimer by reference; tests create fresh
// instances for isolation.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// Appends to the same session serialize in arrival order; operations on
// different sessions do not interfere.
//
// # Limitations
//
//   - No persistence: state is lost on process exit.
//
// # Assumptions
//
//   - Session identifiers are opaque non-empty strings chosen by the caller.
type Store interface {
	// GetOrCreate returns metadata for the session, creating an empty one if
	// the identifier has not been seen. Two concurrent calls with the same
	// unseen identifier never create two sessions.
	GetOrCreate(sessionID string) Info

	// AppendTurn appends a turn to the session's log. If the session vanished
	// concurrently (evicted mid-request) the turn is dropped: the loss is
	// logged and false is returned, but the caller's request is never
	// aborted. History is best-effort by contract.
	AppendTurn(sessionID string, turn Turn) bool

	// Snapshot returns a read-consistent copy of the session's turns, in
	// insertion order. Concurrent appends after the snapshot do not mutate
	// the returned slice. Returns nil for an unknown session.
	Snapshot(sessionID string) []Turn

	// EvictIfStale removes every session whose last turn is older than
	// maxAge at the given instant, plus empty sessions older than the
	// store's empty-session grace period. Returns the number of sessions
	// removed. Safe to call concurrently with appends; idempotent when no
	// new turns arrive between calls.
	EvictIfStale(now time.Time, maxAge time.Duration) int

	// Count returns the number of live sessions. Diagnostic signal for the
	// status endpoint and metrics.
	Count() int
}

// Info describes a session at a point in time.
type Info struct {
	SessionID string
	Turns     int
	CreatedAt time.Time
}

// =============================================================================
// Configuration
// =============================================================================

// StoreConfig contains tunables for the in-memory store.
//
// # Fields
//
//   - EmptySessionGrace: How long a session with zero turns may exist before
//     EvictIfStale removes it. Sessions gain a turn on the first append and
//     from then on are judged by last-turn age only.
type StoreConfig struct {
	EmptySessionGrace time.Duration
}

// DefaultStoreConfig returns production defaults.
//
// # Outputs
//
//   - StoreConfig: 5 minute grace for never-written sessions, which bounds
//     growth from callers that open a session and disconnect before the
//     first reply.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		EmptySessionGrace: 5 * time.Minute,
	}
}

// =============================================================================
// Struct Definition
// =============================================================================

// memoryStore implements Store with a mutex-guarded map and per-session locks.
//
// # Description
//
// The map itself is guarded by an RWMutex; each session carries its own
// mutex so appends to one session never block reads or appends on another.
// Lock order is always map lock before session lock, so eviction (which
// holds the map write lock while inspecting sessions) cannot deadlock with
// an in-flight append.
//
// # Thread Safety
//
// Safe for concurrent use. An append that loses the race with eviction
// observes the session's evicted flag and reports the dropped turn.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	config   StoreConfig
}

// memorySession is one session's state. turns is append-only; evicted is set
// exactly once, under mu, when the reclaimer removes the session from the map.
type memorySession struct {
	mu        sync.Mutex
	turns     []Turn
	createdAt time.Time
	evicted   bool
}

// =============================================================================
// Constructor
// =============================================================================

// NewMemoryStore creates an empty in-memory session store.
//
// # Inputs
//
//   - config: Store tunables. Zero EmptySessionGrace disables empty-session
//     eviction entirely.
//
// # Outputs
//
//   - Store: Ready for concurrent use.
//
// # Examples
//
//	store := session.NewMemoryStore(session.DefaultStoreConfig())
//	store.GetOrCreate("sess-1")
//	store.AppendTurn("sess-1", session.Turn{Role: session.RoleUser, Content: "hi", Timestamp: time.Now()})
func NewMemoryStore(config StoreConfig) Store {
	return &memoryStore{
		sessions: make(map[string]*memorySession),
		config:   config,
	}
}

// =============================================================================
// Methods
// =============================================================================

// GetOrCreate returns metadata for the session, creating it if unseen.
//
// # Description
//
// Uses double-checked locking: the common case (session exists) takes only
// the read lock. Creation upgrades to the write lock and re-checks, so two
// racing creators converge on a single session.
func (s *memoryStore) GetOrCreate(sessionID string) Info {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		entry, ok = s.sessions[sessionID]
		if !ok {
			entry = &memorySession{createdAt: time.Now()}
			s.sessions[sessionID] = entry
			slog.Info("created new chat session", "session_id", sessionID)
		}
		s.mu.Unlock()
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return Info{
		SessionID: sessionID,
		Turns:     len(entry.turns),
		CreatedAt: entry.createdAt,
	}
}

// AppendTurn appends a turn to the session, serializing with other appenders.
//
// # Description
//
// Appends serialize on the session mutex: the log order is the order in
// which appenders acquired the lock, and both of two racing turns are kept.
// If the session was evicted between the map lookup and acquiring the
// session lock, the turn is dropped and logged rather than resurrected into
// an orphaned log.
func (s *memoryStore) AppendTurn(sessionID string, turn Turn) bool {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		slog.Warn("append dropped: session no longer exists",
			"session_id", sessionID,
			"role", string(turn.Role),
		)
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.evicted {
		slog.Warn("append dropped: session evicted mid-request",
			"session_id", sessionID,
			"role", string(turn.Role),
		)
		return false
	}
	entry.turns = append(entry.turns, turn)
	return true
}

// Snapshot returns a copy of the session's turn log.
func (s *memoryStore) Snapshot(sessionID string) []Turn {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]Turn, len(entry.turns))
	copy(out, entry.turns)
	return out
}

// EvictIfStale removes stale sessions.
//
// # Description
//
// Holds the map write lock for the duration of the sweep so no session can
// be created or looked up mid-sweep. Each candidate's own lock is taken
// before inspecting its last turn, which serializes the decision against an
// in-flight append to the same session: the append either lands before the
// staleness check (and may rescue the session) or observes the evicted flag
// afterwards.
//
// Staleness rules:
//   - Sessions with turns: last turn older than maxAge.
//   - Sessions without turns: created more than EmptySessionGrace ago
//     (skipped entirely when the grace is zero).
func (s *memoryStore) EvictIfStale(now time.Time, maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for sessionID, entry := range s.sessions {
		entry.mu.Lock()
		stale := false
		if n := len(entry.turns); n > 0 {
			stale = now.Sub(entry.turns[n-1].Timestamp) > maxAge
		} else if s.config.EmptySessionGrace > 0 {
			stale = now.Sub(entry.createdAt) > s.config.EmptySessionGrace
		}
		if stale {
			entry.evicted = true
			delete(s.sessions, sessionID)
			evicted++
			slog.Info("evicted stale session",
				"session_id", sessionID,
				"turns", len(entry.turns),
			)
		}
		entry.mu.Unlock()
	}
	return evicted
}

// Count returns the number of live sessions.
func (s *memoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ Store = (*memoryStore)(nil)
