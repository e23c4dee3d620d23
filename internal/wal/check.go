// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package wal inspects the archived write-ahead log directory under the
// backup root. The archive is written by the database server's own
// archive_command; snapkeep only verifies that archiving is alive and
// reports its footprint. Every failure here is advisory.
package wal

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/snapkeep/snapkeep/internal/logging"
)

// DirName is the archived WAL directory under the backup root.
const DirName = "pg_wal"

// recentSample caps how many newest segment names a report carries.
const recentSample = 5

// staleThreshold flags an archive whose newest segment is older than
// this; a healthy server under write load archives far more often.
const staleThreshold = 24 * time.Hour

// Report describes the state of the WAL archive at check time.
type Report struct {
	// Present is false when the archive directory does not exist, which
	// is normal for dump-mode deployments.
	Present bool `json:"present"`

	SegmentCount int      `json:"segment_count"`
	TotalBytes   int64    `json:"total_bytes"`
	Recent       []string `json:"recent,omitempty"`

	// Stale means the newest segment is older than the freshness
	// threshold while the archive itself is non-empty.
	Stale bool `json:"stale"`

	NewestModTime time.Time `json:"newest_mod_time"`
}

// Check inspects the WAL archive under backupRoot.
func Check(backupRoot string) (*Report, error) {
	dir := filepath.Join(backupRoot, DirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Debug().Str("dir", dir).Msg("no WAL archive present")
			return &Report{}, nil
		}
		return nil, err
	}

	report := &Report{Present: true}
	type segment struct {
		name string
		mod  time.Time
	}
	var segments []segment

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		report.SegmentCount++
		report.TotalBytes += info.Size()
		segments = append(segments, segment{name: entry.Name(), mod: info.ModTime()})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].mod.After(segments[j].mod)
	})
	for i, s := range segments {
		if i >= recentSample {
			break
		}
		report.Recent = append(report.Recent, s.name)
	}
	if len(segments) > 0 {
		report.NewestModTime = segments[0].mod
		report.Stale = time.Since(report.NewestModTime) > staleThreshold
	}

	logging.Info().
		Int("segments", report.SegmentCount).
		Int64("total_bytes", report.TotalBytes).
		Bool("stale", report.Stale).
		Msg("WAL archive checked")
	return report, nil
}
