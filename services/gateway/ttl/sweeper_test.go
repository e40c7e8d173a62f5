// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianChat/services/gateway/session"
)

// failingClock always fails its sanity check.
type failingClock struct{}

func (f *failingClock) CheckClockSanity() error {
	return errors.New("clock is insane")
}

func (f *failingClock) Now() (time.Time, error) {
	return time.Time{}, errors.New("clock is insane")
}

func (f *failingClock) ResetJumpDetection() {}

// seedSession creates a session with a single turn stamped at the given time.
func seedSession(store session.Store, id string, at time.Time) {
	store.GetOrCreate(id)
	store.AppendTurn(id, session.Turn{
		Role:      session.RoleUser,
		Content:   "hello",
		Timestamp: at,
	})
}

// TestSweeper_Sweep_EvictsOnlyStale tests that sessions past the maximum age
// are evicted while fresh ones survive.
func TestSweeper_Sweep_EvictsOnlyStale(t *testing.T) {
	store := session.NewMemoryStore(session.DefaultStoreConfig())
	now := time.Now()

	seedSession(store, "stale-1", now.Add(-2*time.Hour))
	seedSession(store, "stale-2", now.Add(-90*time.Minute))
	seedSession(store, "fresh", now.Add(-5*time.Minute))

	sweeper := NewSweeper(store, 1*time.Hour, NewNoopClockChecker())

	evicted := sweeper.Sweep(now)
	if evicted != 2 {
		t.Errorf("Expected 2 evictions, got %d", evicted)
	}
	if count := store.Count(); count != 1 {
		t.Errorf("Expected 1 session remaining, got %d", count)
	}
	if turns := store.Snapshot("fresh"); len(turns) != 1 {
		t.Errorf("Fresh session should survive the sweep, got %d turns", len(turns))
	}
}

// TestSweeper_Sweep_NothingStale tests that a sweep over fresh sessions
// evicts nothing.
func TestSweeper_Sweep_NothingStale(t *testing.T) {
	store := session.NewMemoryStore(session.DefaultStoreConfig())
	now := time.Now()

	seedSession(store, "a", now.Add(-1*time.Minute))
	seedSession(store, "b", now.Add(-2*time.Minute))

	sweeper := NewSweeper(store, 1*time.Hour, NewNoopClockChecker())

	if evicted := sweeper.Sweep(now); evicted != 0 {
		t.Errorf("Expected 0 evictions, got %d", evicted)
	}
	if count := store.Count(); count != 2 {
		t.Errorf("Expected 2 sessions remaining, got %d", count)
	}
}

// TestSweeper_SweepNow_UsesCheckedClock tests that SweepNow sweeps against
// the sanity-checked system clock.
func TestSweeper_SweepNow_UsesCheckedClock(t *testing.T) {
	store := session.NewMemoryStore(session.DefaultStoreConfig())

	seedSession(store, "stale", time.Now().Add(-2*time.Hour))
	seedSession(store, "fresh", time.Now())

	sweeper := NewSweeper(store, 1*time.Hour, NewNoopClockChecker())

	evicted, err := sweeper.SweepNow()
	if err != nil {
		t.Fatalf("SweepNow should succeed with a sane clock, got: %v", err)
	}
	if evicted != 1 {
		t.Errorf("Expected 1 eviction, got %d", evicted)
	}
}

// TestSweeper_SweepNow_SkipsOnInsaneClock tests that no sessions are evicted
// when the clock fails its sanity check.
func TestSweeper_SweepNow_SkipsOnInsaneClock(t *testing.T) {
	store := session.NewMemoryStore(session.DefaultStoreConfig())

	seedSession(store, "stale", time.Now().Add(-2*time.Hour))

	sweeper := NewSweeper(store, 1*time.Hour, &failingClock{})

	evicted, err := sweeper.SweepNow()
	if err == nil {
		t.Error("SweepNow should propagate the clock error")
	}
	if evicted != 0 {
		t.Errorf("Expected 0 evictions with an insane clock, got %d", evicted)
	}
	if count := store.Count(); count != 1 {
		t.Errorf("Stale session should survive a skipped sweep, got count %d", count)
	}
}

// TestNewSweeper_NilStorePanics tests constructor validation.
func TestNewSweeper_NilStorePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewSweeper with nil store should panic")
		}
	}()
	NewSweeper(nil, time.Hour, NewNoopClockChecker())
}

// TestNewSweeper_NilClockPanics tests constructor validation.
func TestNewSweeper_NilClockPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewSweeper with nil clock should panic")
		}
	}()
	NewSweeper(session.NewMemoryStore(session.DefaultStoreConfig()), time.Hour, nil)
}
