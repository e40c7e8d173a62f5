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
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianChat/services/gateway/observability"
	"github.com/AleutianAI/AleutianChat/services/gateway/session"
)

// Sweeper evicts sessions that have exceeded their maximum age.
//
// # Description
//
// Wraps the session store's eviction primitive with clock sanity gating
// and metrics reporting. When the system clock fails its sanity check the
// sweep is skipped entirely: evicting nothing for one cycle is harmless,
// evicting live sessions because the clock jumped forward is not.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Sweeper interface {
	// Sweep evicts sessions older than the configured maximum age,
	// treating now as the current time. Returns the number evicted.
	Sweep(now time.Time) int

	// SweepNow runs a sweep against the checked system clock. Returns the
	// number evicted, or an error if the clock failed its sanity check
	// (in which case nothing was evicted).
	SweepNow() (int, error)
}

// sweeper implements Sweeper over a session.Store.
type sweeper struct {
	store  session.Store
	maxAge time.Duration
	clock  ClockChecker
}

// NewSweeper creates a sweeper that evicts sessions older than maxAge.
//
// # Inputs
//
//   - store: The session store to sweep. Must not be nil.
//   - maxAge: Maximum session lifetime, measured from last activity.
//   - clock: Clock sanity checker. Must not be nil.
func NewSweeper(store session.Store, maxAge time.Duration, clock ClockChecker) Sweeper {
	if store == nil {
		panic("ttl: NewSweeper requires a non-nil store")
	}
	if clock == nil {
		panic("ttl: NewSweeper requires a non-nil clock checker")
	}
	return &sweeper{
		store:  store,
		maxAge: maxAge,
		clock:  clock,
	}
}

// Sweep evicts sessions older than maxAge relative to now.
func (s *sweeper) Sweep(now time.Time) int {
	evicted := s.store.EvictIfStale(now, s.maxAge)
	remaining := s.store.Count()

	if evicted > 0 {
		slog.Info("session sweep complete",
			"evicted", evicted,
			"remaining", remaining,
			"max_age", s.maxAge,
		)
	}

	if m := observability.DefaultMetrics; m != nil {
		m.SetActiveSessions(remaining)
		if evicted > 0 {
			m.RecordSessionEvictions(evicted)
		}
	}

	return evicted
}

// SweepNow runs a clock-checked sweep.
func (s *sweeper) SweepNow() (int, error) {
	now, err := s.clock.Now()
	if err != nil {
		slog.Error("session sweep skipped: clock sanity check failed", "error", err)
		return 0, err
	}
	return s.Sweep(now), nil
}

// Compile-time check.
var _ Sweeper = (*sweeper)(nil)
