// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package contentstore

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/snapkeep/snapkeep/internal/backupset"
	"github.com/snapkeep/snapkeep/internal/logging"
)

// spaceSafetyFactor pads the space estimate; running the disk to the last
// byte mid-transfer is exactly what preflight exists to avoid.
const spaceSafetyFactor = 1.2

// minEstimateBytes floors the prediction when the previous run moved
// almost nothing. An unchanged source still needs working room for
// directory structure and any new files since the last run.
const minEstimateBytes = 64 << 20

// preflight aborts the run before transferring anything when the estimate
// does not fit the free space of the backup filesystem.
func (e *Engine) preflight() error {
	required := e.estimateRequiredBytes()
	free, err := freeBytes(e.opts.BackupRoot)
	if err != nil {
		return fmt.Errorf("probing free space: %w", err)
	}

	padded := int64(float64(required) * spaceSafetyFactor)
	if free < padded {
		return fmt.Errorf("%w: need ~%d bytes, %d free", ErrInsufficientSpace, padded, free)
	}

	logging.Debug().
		Int64("required_bytes", padded).
		Int64("free_bytes", free).
		Msg("preflight space check passed")
	return nil
}

// estimateRequiredBytes predicts the disk consumption of the next run.
// With a dedupe anchor and a prior complete run, the previous transferred
// delta is the best predictor; otherwise the whole apparent source size
// will be copied.
func (e *Engine) estimateRequiredBytes() int64 {
	if _, ok := backupset.CurrentPointer(e.opts.BackupRoot, backupset.KindContentstore); ok {
		if sets, err := backupset.ListComplete(e.opts.BackupRoot, backupset.KindContentstore); err == nil && len(sets) > 0 {
			if m := sets[0].Manifest; m != nil {
				// A zero delta means the source was unchanged, not that
				// the full tree must fit again.
				if m.TransferredBytes < minEstimateBytes {
					return minEstimateBytes
				}
				return m.TransferredBytes
			}
		}
	}
	apparent, _ := treeSizes(e.opts.Source)
	return apparent
}

// freeBytes returns the bytes available to unprivileged writes on the
// filesystem holding path.
func freeBytes(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil //nolint:gosec // sizes fit int64
}

// treeSizes walks a tree and returns its apparent size plus the size of
// files not hardlink-shared with any other set (nlink == 1). Unreadable
// entries are skipped; an estimate must never fail the run.
func treeSizes(root string) (apparent, unique int64) {
	filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error { //nolint:errcheck
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // skip unreadable entries
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr
		}
		apparent += info.Size()
		if st, ok := info.Sys().(*syscall.Stat_t); ok && st.Nlink == 1 {
			unique += info.Size()
		}
		return nil
	})
	return apparent, unique
}
