// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package retention prunes expired backup sets and archived WAL segments.
//
// A set is deletion-eligible iff its age exceeds the horizon. Ages come
// from the identifier timestamp, falling back to modification time for
// names outside the convention; the fallback is total and never raises.
// One failed deletion never blocks the others, and the set referenced by
// the current pointer is never pruned regardless of age.
package retention

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/snapkeep/snapkeep/internal/backupset"
	"github.com/snapkeep/snapkeep/internal/logging"
)

// WALDirName is the archived WAL directory under the backup root.
const WALDirName = "pg_wal"

// Engine applies the retention policy to one backup root.
type Engine struct {
	backupRoot  string
	horizon     time.Duration
	parallelism int

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates a retention engine with a horizon in days.
func NewEngine(backupRoot string, horizonDays, parallelism int) *Engine {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Engine{
		backupRoot:  backupRoot,
		horizon:     time.Duration(horizonDays) * 24 * time.Hour,
		parallelism: parallelism,
		now:         time.Now,
	}
}

// Item is the per-set outcome of one retention pass.
type Item struct {
	Kind   backupset.Kind `json:"kind"`
	Name   string         `json:"name"`
	Reason string         `json:"reason"`
}

// Report is the outcome of one retention pass. Failed entries mark the
// phase as failed without having blocked the remaining deletions.
type Report struct {
	Deleted []Item `json:"deleted"`
	Skipped []Item `json:"skipped"`
	Failed  []Item `json:"failed"`

	// WALDeleted counts pruned WAL segment files.
	WALDeleted int `json:"wal_deleted"`
}

// Apply prunes both backup kinds and the WAL archive.
func (e *Engine) Apply(ctx context.Context) (*Report, error) {
	report := &Report{}

	for _, kind := range []backupset.Kind{backupset.KindDatabase, backupset.KindContentstore} {
		if err := e.applyKind(ctx, kind, report); err != nil {
			return report, err
		}
	}

	e.pruneWAL(report)

	logging.Info().
		Int("deleted", len(report.Deleted)).
		Int("skipped", len(report.Skipped)).
		Int("failed", len(report.Failed)).
		Int("wal_deleted", report.WALDeleted).
		Msg("retention pass finished")
	return report, nil
}

// applyKind prunes one backup kind into the report.
func (e *Engine) applyKind(ctx context.Context, kind backupset.Kind, report *Report) error {
	sets, err := backupset.List(e.backupRoot, kind)
	if err != nil {
		return err
	}
	pointer, _ := backupset.CurrentPointer(e.backupRoot, kind)
	now := e.now()

	for _, s := range sets {
		switch {
		case s.Path == pointer:
			report.Skipped = append(report.Skipped, Item{Kind: kind, Name: s.Name, Reason: "current pointer target"})
		case s.Age(now) <= e.horizon:
			report.Skipped = append(report.Skipped, Item{Kind: kind, Name: s.Name, Reason: "within retention horizon"})
		default:
			e.deleteSet(ctx, s, report)
		}
	}
	return nil
}

// deleteSet removes one expired set, isolating its failure to one report
// entry.
func (e *Engine) deleteSet(ctx context.Context, s *backupset.Set, report *Report) {
	if err := e.removeTree(ctx, s.Path); err != nil {
		logging.Warn().Err(err).Str("set", s.Name).Msg("retention delete failed")
		report.Failed = append(report.Failed, Item{Kind: s.Kind, Name: s.Name, Reason: err.Error()})
		return
	}
	logging.Info().Str("set", s.Name).Msg("expired set deleted")
	report.Deleted = append(report.Deleted, Item{Kind: s.Kind, Name: s.Name, Reason: "older than horizon"})
}

// pruneWAL deletes archived WAL files older than the horizon. Failures
// are recorded per file, never fatal.
func (e *Engine) pruneWAL(report *Report) {
	dir := filepath.Join(e.backupRoot, WALDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			report.Failed = append(report.Failed, Item{Name: WALDirName, Reason: err.Error()})
		}
		return
	}

	cutoff := e.now().Add(-e.horizon)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			report.Failed = append(report.Failed, Item{Name: filepath.Join(WALDirName, entry.Name()), Reason: err.Error()})
			continue
		}
		report.WALDeleted++
	}
}
