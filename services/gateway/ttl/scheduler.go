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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs periodic session sweeps in the background.
//
// # Description
//
// Owns a goroutine that triggers the sweeper on a fixed interval. The
// first sweep runs immediately on Start so a restarted gateway reclaims
// stale sessions without waiting a full interval.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Scheduler interface {
	// Start begins periodic sweeps. Returns an error if already running.
	Start(ctx context.Context) error

	// Stop halts periodic sweeps. Safe to call multiple times.
	Stop()

	// RunNow triggers an immediate sweep outside the regular schedule.
	RunNow() (int, error)
}

// SchedulerConfig contains configuration for the sweep scheduler.
type SchedulerConfig struct {
	// Interval between sweeps. Defaults to 5 minutes if zero.
	Interval time.Duration
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval: 5 * time.Minute,
	}
}

// sweepScheduler implements Scheduler.
type sweepScheduler struct {
	sweeper  Sweeper
	config   SchedulerConfig
	done     chan struct{}
	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
}

// NewScheduler creates a scheduler that drives the given sweeper.
func NewScheduler(sweeper Sweeper, config SchedulerConfig) Scheduler {
	if sweeper == nil {
		panic("ttl: NewScheduler requires a non-nil sweeper")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	return &sweepScheduler{
		sweeper: sweeper,
		config:  config,
		done:    make(chan struct{}),
	}
}

// Start begins periodic sweeps.
func (s *sweepScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweep scheduler already running")
	}

	// Reset the done channel in case Stop was called on a previous run.
	s.done = make(chan struct{})
	s.stopOnce = sync.Once{}
	s.running = true

	// Capture the channel so a future restart cannot swap it out from under
	// this run's loop.
	go s.runLoop(ctx, s.done)

	slog.Info("session sweep scheduler started", "interval", s.config.Interval)
	return nil
}

// Stop halts periodic sweeps.
func (s *sweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.running = false

	slog.Info("session sweep scheduler stopped")
}

// RunNow triggers an immediate sweep.
func (s *sweepScheduler) RunNow() (int, error) {
	return s.sweeper.SweepNow()
}

// runLoop is the scheduler goroutine body.
func (s *sweepScheduler) runLoop(ctx context.Context, done <-chan struct{}) {
	// Sweep once on startup, then settle into the interval.
	if _, err := s.sweeper.SweepNow(); err != nil {
		slog.Warn("initial session sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweep scheduler: context cancelled")
			return
		case <-done:
			return
		case <-ticker.C:
			if _, err := s.sweeper.SweepNow(); err != nil {
				slog.Warn("scheduled session sweep failed", "error", err)
			}
		}
	}
}

// Compile-time check.
var _ Scheduler = (*sweepScheduler)(nil)
