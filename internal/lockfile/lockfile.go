// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package lockfile provides process-level mutual exclusion for one backup
// root, so concurrent snapkeep invocations can never interleave destructive
// operations.
//
// The lock is an advisory flock on a well-known file inside the backup
// root. A lock held by a dead process is not reclaimed automatically; the
// kernel drops advisory locks when the holder exits, so a leftover lock
// file alone never blocks acquisition, and an actually held lock requires
// operator intervention rather than a liveness guess.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/snapkeep/snapkeep/internal/logging"
)

// LockFileName is the lock file inside the backup root.
const LockFileName = ".snapkeep.lock"

// ErrLockHeld means another snapkeep process holds the lock. It is distinct
// from filesystem errors so callers can tell "already running" apart from
// "backup root unusable".
var ErrLockHeld = errors.New("another snapkeep instance is already running")

// Lock is the process-wide singleton guarding one backup root.
type Lock struct {
	fl         *flock.Flock
	path       string
	holderPID  int
	acquiredAt time.Time
}

// Acquire attempts a non-blocking exclusive acquisition of the lock for
// backupRoot. Returns ErrLockHeld when the lock is taken.
func Acquire(backupRoot string) (*Lock, error) {
	path := filepath.Join(backupRoot, LockFileName)
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock file: %s)", ErrLockHeld, path)
	}

	l := &Lock{
		fl:         fl,
		path:       path,
		holderPID:  os.Getpid(),
		acquiredAt: time.Now(),
	}
	l.writeHolder()

	logging.Debug().Str("lock", path).Int("pid", l.holderPID).Msg("lock acquired")
	return l, nil
}

// writeHolder records pid and acquisition time in the lock file for
// operator diagnosis. Best effort: the flock itself is the exclusion.
func (l *Lock) writeHolder() {
	info := strconv.Itoa(l.holderPID) + " " + l.acquiredAt.Format(time.RFC3339) + "\n"
	if err := os.WriteFile(l.path, []byte(info), 0o600); err != nil {
		logging.Warn().Err(err).Str("lock", l.path).Msg("could not record lock holder")
	}
}

// HolderPID returns the pid recorded at acquisition.
func (l *Lock) HolderPID() int {
	return l.holderPID
}

// AcquiredAt returns the acquisition time.
func (l *Lock) AcquiredAt() time.Time {
	return l.acquiredAt
}

// Release drops the lock. Safe to call exactly once on every exit path;
// callers defer it immediately after Acquire succeeds.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.path, err)
	}

	// The empty file is left behind; removing it would race a concurrent
	// Acquire that already opened it.
	if err := os.Truncate(l.path, 0); err != nil && !os.IsNotExist(err) {
		logging.Warn().Err(err).Str("lock", l.path).Msg("could not clear lock holder")
	}

	logging.Debug().Str("lock", l.path).Msg("lock released")
	return nil
}
