// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package backupset

import (
	"fmt"
	"os"
	"path/filepath"
)

// PointerName is the current-pointer symlink inside each kind directory.
// It only ever references a complete set.
const PointerName = "last"

// CurrentPointer resolves the current pointer for a kind. ok is false when
// no pointer exists or its target vanished.
func CurrentPointer(backupRoot string, kind Kind) (target string, ok bool) {
	link := filepath.Join(KindDir(backupRoot, kind), PointerName)
	dest, err := os.Readlink(link)
	if err != nil {
		return "", false
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(KindDir(backupRoot, kind), dest)
	}
	if _, err := os.Stat(dest); err != nil {
		return "", false
	}
	return dest, true
}

// AdvancePointer atomically swaps the current pointer to setPath. A new
// symlink is created beside the old one and renamed over it, so a reader
// sees either the previous target or the new one, never a half state.
func AdvancePointer(backupRoot string, kind Kind, setPath string) error {
	dir := KindDir(backupRoot, kind)
	link := filepath.Join(dir, PointerName)
	tmp := filepath.Join(dir, PointerName+".new")

	// Leftover temp link from a crashed run.
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing stale pointer temp: %w", err)
	}

	if err := os.Symlink(setPath, tmp); err != nil {
		return fmt.Errorf("creating pointer: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("swapping pointer: %w", err)
	}
	return nil
}
