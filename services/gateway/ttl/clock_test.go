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
	"testing"
	"time"
)

// TestClockChecker_CheckClockSanity_ValidTime tests that a valid system clock
// passes the sanity check.
func TestClockChecker_CheckClockSanity_ValidTime(t *testing.T) {
	checker := NewClockChecker()

	err := checker.CheckClockSanity()
	if err != nil {
		t.Errorf("Valid system clock should pass sanity check, got: %v", err)
	}
}

// TestClockChecker_CheckClockSanity_PastTime tests that a clock set before
// the minimum valid time is rejected.
func TestClockChecker_CheckClockSanity_PastTime(t *testing.T) {
	config := ClockConfig{
		MinValidTime:    time.Now().Add(1 * time.Hour), // Min is in the future = current time is "in the past"
		MaxValidTime:    time.Now().Add(10 * time.Hour),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
	checker := NewClockCheckerWithConfig(config)

	err := checker.CheckClockSanity()
	if err == nil {
		t.Error("Clock before minimum valid time should fail sanity check")
	}
}

// TestClockChecker_CheckClockSanity_FutureTime tests that a clock set after
// the maximum valid time is rejected.
func TestClockChecker_CheckClockSanity_FutureTime(t *testing.T) {
	config := ClockConfig{
		MinValidTime:    time.Now().Add(-10 * time.Hour),
		MaxValidTime:    time.Now().Add(-1 * time.Hour), // Max is in the past = current time is "in the future"
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
	checker := NewClockCheckerWithConfig(config)

	err := checker.CheckClockSanity()
	if err == nil {
		t.Error("Clock after maximum valid time should fail sanity check")
	}
}

// TestClockChecker_CheckClockSanity_DetectsBackwardJump tests that a backward
// time jump beyond the threshold is detected.
func TestClockChecker_CheckClockSanity_DetectsBackwardJump(t *testing.T) {
	config := ClockConfig{
		MinValidTime:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2040, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}

	checker := &clockChecker{
		config:            config,
		lastKnownGoodTime: time.Now().Add(2 * time.Hour), // Last check was "2 hours from now"
		checkCount:        1,                             // Not first check
	}

	err := checker.CheckClockSanity()
	if err == nil {
		t.Error("Backward time jump of 2 hours (threshold: 1 hour) should fail")
	}
}

// TestClockChecker_CheckClockSanity_DetectsForwardJump tests that a forward
// time jump beyond the threshold is detected.
func TestClockChecker_CheckClockSanity_DetectsForwardJump(t *testing.T) {
	config := ClockConfig{
		MinValidTime:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		MaxValidTime:    time.Date(2040, 12, 31, 23, 59, 59, 0, time.UTC),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}

	checker := &clockChecker{
		config:            config,
		lastKnownGoodTime: time.Now().Add(-3 * time.Hour), // Last check was 3 hours ago
		checkCount:        1,                              // Not first check
	}

	err := checker.CheckClockSanity()
	if err == nil {
		t.Error("Forward time jump of 3 hours (threshold: 2 hours) should fail")
	}
}

// TestClockChecker_CheckClockSanity_AllowsSmallJumps tests that time changes
// within the acceptable threshold are allowed.
func TestClockChecker_CheckClockSanity_AllowsSmallJumps(t *testing.T) {
	checker := &clockChecker{
		config:            DefaultClockConfig(),
		lastKnownGoodTime: time.Now().Add(-30 * time.Minute),
		checkCount:        1,
	}

	err := checker.CheckClockSanity()
	if err != nil {
		t.Errorf("Time jump of 30 minutes should be within threshold, got: %v", err)
	}
}

// TestClockChecker_CheckClockSanity_FirstCheckSkipsJumpDetection tests that
// the first check establishes a baseline without rejecting jumps.
func TestClockChecker_CheckClockSanity_FirstCheckSkipsJumpDetection(t *testing.T) {
	checker := &clockChecker{
		config:            DefaultClockConfig(),
		lastKnownGoodTime: time.Now().Add(-24 * time.Hour),
		checkCount:        0, // First check
	}

	err := checker.CheckClockSanity()
	if err != nil {
		t.Errorf("First check should skip jump detection, got: %v", err)
	}
}

// TestClockChecker_Now_ReturnsTimeWhenSane tests that Now returns a current
// timestamp when the clock passes its checks.
func TestClockChecker_Now_ReturnsTimeWhenSane(t *testing.T) {
	checker := NewClockChecker()

	before := time.Now()
	now, err := checker.Now()
	after := time.Now()

	if err != nil {
		t.Fatalf("Now() should succeed with a sane clock, got: %v", err)
	}
	if now.Before(before) || now.After(after) {
		t.Errorf("Now() returned %v, expected between %v and %v", now, before, after)
	}
}

// TestClockChecker_Now_FailsWhenInsane tests that Now returns an error and a
// zero time when the clock is outside valid bounds.
func TestClockChecker_Now_FailsWhenInsane(t *testing.T) {
	config := ClockConfig{
		MinValidTime:    time.Now().Add(1 * time.Hour),
		MaxValidTime:    time.Now().Add(10 * time.Hour),
		MaxBackwardJump: 1 * time.Hour,
		MaxForwardJump:  2 * time.Hour,
	}
	checker := NewClockCheckerWithConfig(config)

	now, err := checker.Now()
	if err == nil {
		t.Error("Now() should fail when the clock is outside valid bounds")
	}
	if !now.IsZero() {
		t.Errorf("Now() should return zero time on failure, got: %v", now)
	}
}

// TestClockChecker_ResetJumpDetection tests that resetting the baseline
// allows a previously suspicious jump to pass.
func TestClockChecker_ResetJumpDetection(t *testing.T) {
	checker := &clockChecker{
		config:            DefaultClockConfig(),
		lastKnownGoodTime: time.Now().Add(-3 * time.Hour),
		checkCount:        1,
	}

	if err := checker.CheckClockSanity(); err == nil {
		t.Fatal("Expected jump detection to fail before reset")
	}

	checker.ResetJumpDetection()

	if err := checker.CheckClockSanity(); err != nil {
		t.Errorf("Check after reset should pass, got: %v", err)
	}
}

// TestNoopClockChecker tests that the no-op checker always passes.
func TestNoopClockChecker(t *testing.T) {
	checker := NewNoopClockChecker()

	if err := checker.CheckClockSanity(); err != nil {
		t.Errorf("Noop checker should always pass, got: %v", err)
	}

	now, err := checker.Now()
	if err != nil {
		t.Errorf("Noop checker Now() should always succeed, got: %v", err)
	}
	if now.IsZero() {
		t.Error("Noop checker Now() should return a real timestamp")
	}

	checker.ResetJumpDetection() // Should not panic
}
