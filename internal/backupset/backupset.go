// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package backupset models timestamped backup sets on disk.
//
// Layout: {backup_root}/{kind}/{kind}-{2006-01-02_15-04-05}. A set
// directory is complete once it holds a manifest.json with completed
// status; everything else is an in-progress or failed attempt and is never
// treated as restorable. The "last" symlink in each kind directory is the
// current pointer, the dedupe anchor for the next contentstore run.
package backupset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Kind distinguishes the two backup set families.
type Kind string

const (
	// KindContentstore is a snapshot of the binary content tree.
	KindContentstore Kind = "contentstore"

	// KindDatabase is a full-database backup artifact.
	KindDatabase Kind = "database"
)

// TimestampLayout is the identifier timestamp convention shared by both
// kinds. Second granularity makes identifiers unique per kind in practice.
const TimestampLayout = "2006-01-02_15-04-05"

// Set is one timestamped backup set directory.
type Set struct {
	// Kind of the set.
	Kind Kind

	// Name is the directory base name, e.g. contentstore-2025-01-01_02-00-00.
	Name string

	// Path is the absolute set directory.
	Path string

	// CreatedAt is the effective timestamp: parsed from the name when the
	// name matches the convention, otherwise the directory mtime.
	CreatedAt time.Time

	// ParsedFromName reports which timestamp source CreatedAt came from.
	ParsedFromName bool

	// Manifest is the completion record, nil for incomplete sets.
	Manifest *Manifest
}

// Complete reports whether the set finished successfully and is safe to
// restore from or deduplicate against.
func (s *Set) Complete() bool {
	return s.Manifest != nil && s.Manifest.Status == StatusComplete
}

// Age returns the set age relative to now.
func (s *Set) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// KindDir returns the directory holding all sets of one kind.
func KindDir(backupRoot string, kind Kind) string {
	return filepath.Join(backupRoot, string(kind))
}

// NewSetPath returns the directory path for a set started at ts.
func NewSetPath(backupRoot string, kind Kind, ts time.Time) string {
	name := fmt.Sprintf("%s-%s", kind, ts.Format(TimestampLayout))
	return filepath.Join(KindDir(backupRoot, kind), name)
}

// NewUniqueSetPath returns a set path for ts that does not exist yet,
// bumping the timestamp by whole seconds when two runs land in the same
// second. Identifiers stay unique per kind at the layout's granularity.
func NewUniqueSetPath(backupRoot string, kind Kind, ts time.Time) (string, time.Time) {
	for {
		path := NewSetPath(backupRoot, kind, ts)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, ts
		}
		ts = ts.Add(time.Second)
	}
}

// ParseTimestamp extracts the timestamp from a set directory name. Total:
// a name that does not match the convention yields ok=false, never an
// error, and callers fall back to modification time.
func ParseTimestamp(name string, kind Kind) (time.Time, bool) {
	prefix := string(kind) + "-"
	if !strings.HasPrefix(name, prefix) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimPrefix(name, prefix), time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// List returns all sets of one kind, newest first. Directories that do not
// carry the kind prefix are ignored; a malformed timestamp falls back to
// mtime. A missing kind directory yields an empty list.
func List(backupRoot string, kind Kind) ([]*Set, error) {
	dir := KindDir(backupRoot, kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s sets: %w", kind, err)
	}

	var sets []*Set
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), string(kind)+"-") {
			continue
		}

		s := &Set{
			Kind: kind,
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
		}
		s.CreatedAt, s.ParsedFromName = ParseTimestamp(e.Name(), kind)
		if !s.ParsedFromName {
			if info, err := e.Info(); err == nil {
				s.CreatedAt = info.ModTime()
			}
		}

		if m, err := ReadManifest(s.Path); err == nil {
			s.Manifest = m
		}

		sets = append(sets, s)
	}

	sort.Slice(sets, func(i, j int) bool {
		return sets[i].CreatedAt.After(sets[j].CreatedAt)
	})
	return sets, nil
}

// ListComplete returns only complete sets of one kind, newest first.
func ListComplete(backupRoot string, kind Kind) ([]*Set, error) {
	all, err := List(backupRoot, kind)
	if err != nil {
		return nil, err
	}
	var complete []*Set
	for _, s := range all {
		if s.Complete() {
			complete = append(complete, s)
		}
	}
	return complete, nil
}
