// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl reclaims idle chat sessions. It pairs a clock sanity checker
// with a sweeper over the session store and a background scheduler that
// runs the sweep on an interval.
package ttl

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Clock Sanity Checking
// =============================================================================

// ClockChecker provides sanity checking for system time.
//
// # Description
//
// Validates that the system clock is within acceptable bounds before
// time-sensitive eviction decisions. If the clock is set to the future,
// live conversations get reclaimed prematurely; set to the past, sessions
// never expire and the store grows without bound. This checker is
// defense-in-depth against both.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type ClockChecker interface {
	// CheckClockSanity verifies the system clock is reasonable: within the
	// configured bounds and not jumped suspiciously since the last check.
	CheckClockSanity() error

	// Now returns the current time if the clock is sane. Use this instead
	// of time.Now() in eviction code paths.
	Now() (time.Time, error)

	// ResetJumpDetection resets the jump detection baseline. Call after a
	// known legitimate time change (NTP sync, resume from sleep).
	ResetJumpDetection()
}

// ClockConfig contains configuration for the clock checker.
//
// # Fields
//
//   - MinValidTime: Earliest acceptable time.
//   - MaxValidTime: Latest acceptable time.
//   - MaxBackwardJump: Maximum allowed backward time jump between checks.
//   - MaxForwardJump: Maximum allowed forward time jump between checks.
type ClockConfig struct {
	MinValidTime    time.Time
	MaxValidTime    time.Time
	MaxBackwardJump time.Duration
	MaxForwardJump  time.Duration
}

// DefaultClockConfig returns bounds suitable for production use.
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		MinValidTime:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2035, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
}

// clockChecker implements ClockChecker.
//
// # Thread Safety
//
// All methods are thread-safe via mutex protection.
type clockChecker struct {
	config            ClockConfig
	lastKnownGoodTime time.Time
	mu                sync.RWMutex
	checkCount        int64
}

// NewClockChecker creates a clock checker with default configuration.
func NewClockChecker() ClockChecker {
	return NewClockCheckerWithConfig(DefaultClockConfig())
}

// NewClockCheckerWithConfig creates a clock checker with custom bounds.
func NewClockCheckerWithConfig(config ClockConfig) ClockChecker {
	return &clockChecker{
		config:            config,
		lastKnownGoodTime: time.Now(),
	}
}

// CheckClockSanity verifies the system clock is reasonable.
//
// # Description
//
// Performs three validations:
//  1. Current time >= MinValidTime (not in distant past)
//  2. Current time <= MaxValidTime (not in distant future)
//  3. No suspicious jumps from the last known good time
//
// On the first call or after ResetJumpDetection(), jump detection is
// skipped.
//
// # Limitations
//
//   - Cannot detect slow drift within acceptable bounds.
func (c *clockChecker) CheckClockSanity() error {
	now := time.Now()

	if now.Before(c.config.MinValidTime) {
		return fmt.Errorf("clock sanity: time %v is before minimum valid time %v (possible clock set to past)",
			now.Format(time.RFC3339), c.config.MinValidTime.Format(time.RFC3339))
	}
	if now.After(c.config.MaxValidTime) {
		return fmt.Errorf("clock sanity: time %v is after maximum valid time %v (possible clock set to future)",
			now.Format(time.RFC3339), c.config.MaxValidTime.Format(time.RFC3339))
	}

	c.mu.RLock()
	lastGood := c.lastKnownGoodTime
	checkCount := c.checkCount
	c.mu.RUnlock()

	if checkCount > 0 {
		timeDiff := now.Sub(lastGood)
		if timeDiff < -c.config.MaxBackwardJump {
			return fmt.Errorf("clock sanity: suspicious backward jump of %v detected (max allowed: %v)",
				-timeDiff, c.config.MaxBackwardJump)
		}
		if timeDiff > c.config.MaxForwardJump {
			return fmt.Errorf("clock sanity: suspicious forward jump of %v detected (max allowed: %v)",
				timeDiff, c.config.MaxForwardJump)
		}
	}

	c.mu.Lock()
	c.lastKnownGoodTime = now
	c.checkCount++
	c.mu.Unlock()

	return nil
}

// Now returns the current time if the clock is sane.
func (c *clockChecker) Now() (time.Time, error) {
	if err := c.CheckClockSanity(); err != nil {
		slog.Warn("clock sanity check failed", "error", err)
		return time.Time{}, err
	}
	return time.Now(), nil
}

// ResetJumpDetection resets the jump detection baseline.
func (c *clockChecker) ResetJumpDetection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastKnownGoodTime = time.Now()
	c.checkCount = 0

	slog.Info("clock checker: jump detection reset",
		"new_baseline", c.lastKnownGoodTime.Format(time.RFC3339),
	)
}

// =============================================================================
// No-op Clock Checker (for testing)
// =============================================================================

// noopClockChecker always passes sanity checks. Used in tests or when clock
// checking should be disabled.
type noopClockChecker struct{}

// NewNoopClockChecker creates a clock checker that always passes.
func NewNoopClockChecker() ClockChecker {
	return &noopClockChecker{}
}

func (n *noopClockChecker) CheckClockSanity() error { return nil }

func (n *noopClockChecker) Now() (time.Time, error) { return time.Now(), nil }

func (n *noopClockChecker) ResetJumpDetection() {}
