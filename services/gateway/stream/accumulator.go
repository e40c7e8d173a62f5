// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream adapts callback-driven completion backends into the
// channel-of-fragments shape the request handler consumes, and accumulates
// the full reply in locked memory while it streams.
package stream

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// SecureBufferSize is the size of the mlocked buffer for token
	// accumulation. 512 KB comfortably holds the longest reply the sampling
	// defaults allow.
	SecureBufferSize = 512 * 1024

	// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
	MinMlockLimitKB = 512
)

// =============================================================================
// Package Variables
// =============================================================================

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// =============================================================================
// Interfaces
// =============================================================================

// TokenAccumulator collects streamed token fragments into a full reply.
//
// # Description
//
// Fragments are hashed incrementally as they arrive, so the final hash is
// available the moment the stream ends. The secure implementation keeps the
// growing reply in mlocked memory; Finalize or Destroy wipes it.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Limitations
//
//   - Buffer size is fixed (cannot grow dynamically)
//   - Accumulator cannot be reused after Finalize() or Destroy()
type TokenAccumulator interface {
	// Write appends a token fragment. Returns an error on overflow or after
	// the accumulator was finalized or destroyed.
	Write(token string) error

	// Finalize returns the accumulated reply and its SHA-256 hash (hex
	// encoded), then wipes the buffer. Can only be called once.
	Finalize() (answer string, hash string, err error)

	// Destroy wipes memory without returning data. Idempotent; use on error
	// paths where the partial reply should not survive.
	Destroy()

	// ID returns a unique identifier for this accumulator, for logging.
	ID() string

	// CreatedAt returns when this accumulator was created.
	CreatedAt() time.Time
}

// =============================================================================
// Struct Definitions
// =============================================================================

// secureAccumulator stores fragments in mlocked memory with incremental
// hashing.
//
// # Description
//
// Uses a memguard LockedBuffer so the partial reply never swaps to disk and
// is zeroed explicitly when the stream ends. SHA-256 is updated per write,
// never over data sitting unhashed.
//
// # Thread Safety
//
// Safe for concurrent use.
type secureAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// plainAccumulator is the fallback for systems without sufficient mlock.
//
// # Security Warning
//
// Data may be swapped to disk; wiping is best-effort under Go's GC. Only
// used when ALEUTIAN_INSECURE_MEMORY=true acknowledges the tradeoff.
type plainAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// =============================================================================
// Constructors
// =============================================================================

// NewTokenAccumulator creates an accumulator, secure when the system allows.
//
// # Description
//
// Allocates a mlocked buffer of SecureBufferSize bytes. If the mlock limit
// is insufficient and ALEUTIAN_INSECURE_MEMORY is not set, returns an
// error; with the override set, falls back to plain memory with a warning.
//
// # Outputs
//
//   - TokenAccumulator: Ready for use.
//   - error: Non-nil when no secure buffer could be allocated and no
//     fallback was authorized.
//
// # Examples
//
//	acc, err := stream.NewTokenAccumulator()
//	if err != nil {
//	    return err
//	}
//	defer acc.Destroy()
//	acc.Write("Hello ")
//	acc.Write("world!")
//	answer, hash, _ := acc.Finalize()
func NewTokenAccumulator() (TokenAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		if os.Getenv("ALEUTIAN_INSECURE_MEMORY") == "true" {
			slog.Warn("Using insecure memory accumulator due to mlock limits",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
			return newPlainAccumulator(), nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB. "+
				"Configure system limits or set ALEUTIAN_INSECURE_MEMORY=true",
			currentMlockLimitKB, MinMlockLimitKB,
		)
	}

	buf := memguard.NewBuffer(SecureBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", SecureBufferSize)
	}
	buf.Melt()

	accID := uuid.New().String()
	slog.Debug("Created secure token accumulator",
		"accumulator_id", accID,
		"buffer_size", SecureBufferSize,
	)
	return &secureAccumulator{
		id:        accID,
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

func newPlainAccumulator() TokenAccumulator {
	accID := uuid.New().String()
	slog.Warn("Created INSECURE token accumulator - data may be swapped to disk",
		"accumulator_id", accID,
	)
	return &plainAccumulator{
		id:        accID,
		createdAt: time.Now(),
		data:      make([]byte, 0, SecureBufferSize),
		hasher:    sha256.New(),
	}
}

// =============================================================================
// secureAccumulator Methods
// =============================================================================

func (a *secureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow - response too large")
	}

	tokenBytes := []byte(token)
	if a.offset+len(tokenBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), SecureBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], tokenBytes)
	a.offset += len(tokenBytes)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized secure token accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
		"hash", hashStr[:16]+"...",
	)
	return answer, hashStr, nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("Destroyed secure token accumulator", "accumulator_id", a.id)
}

func (a *secureAccumulator) ID() string { return a.id }

func (a *secureAccumulator) CreatedAt() time.Time { return a.createdAt }

// wipe destroys the secure buffer and marks the accumulator unusable.
// Callers hold a.mu.
func (a *secureAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// plainAccumulator Methods
// =============================================================================

func (a *plainAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow - response too large")
	}

	tokenBytes := []byte(token)
	if len(a.data)+len(tokenBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(tokenBytes), SecureBufferSize-len(a.data))
	}

	a.data = append(a.data, tokenBytes...)
	a.hasher.Write(tokenBytes)
	return nil
}

func (a *plainAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()

	slog.Debug("Finalized insecure token accumulator",
		"accumulator_id", a.id,
		"answer_length", len(answer),
	)
	return answer, hashStr, nil
}

func (a *plainAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}
	a.wipe()
	slog.Debug("Destroyed insecure token accumulator", "accumulator_id", a.id)
}

func (a *plainAccumulator) ID() string { return a.id }

func (a *plainAccumulator) CreatedAt() time.Time { return a.createdAt }

// wipe zeros the data slice (best effort). Callers hold a.mu.
func (a *plainAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// Package Initialization
// =============================================================================

// initMemguard initializes memguard and checks the mlock limit once.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
				"status", "sufficient",
			)
		} else {
			slog.Error("mlock limit insufficient for secure memory",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
				"help", "Raise RLIMIT_MEMLOCK or set ALEUTIAN_INSECURE_MEMORY=true",
			)
		}
	})
}

// checkMlockLimit queries the kernel's mlock resource limit.
//
// # Outputs
//
//   - bool: True if the limit is sufficient (>= MinMlockLimitKB).
//   - int64: Current limit in kilobytes (-1 if unlimited).
//
// # Limitations
//
//   - Only works on Unix-like systems (Linux, macOS, BSD)
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// PurgeAllSecureMemory wipes all memguard-allocated memory. Call during
// graceful shutdown; after this every existing LockedBuffer is invalid.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}

// =============================================================================
// Compile-time Interface Checks
// =============================================================================

var (
	_ TokenAccumulator = (*secureAccumulator)(nil)
	_ TokenAccumulator = (*plainAccumulator)(nil)
)
