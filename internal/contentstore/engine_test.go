// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package contentstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/snapkeep/snapkeep/internal/backupset"
)

// fakeSyncer records requests and fails selected chunk paths. It copies
// nothing; the engine only observes stats and errors.
type fakeSyncer struct {
	mu       sync.Mutex
	requests []SyncRequest
	failRel  map[string]bool
	stats    SyncStats
}

func (f *fakeSyncer) Sync(_ context.Context, req SyncRequest) (*SyncStats, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	for rel := range f.failRel {
		if strings.HasSuffix(req.Source, rel) {
			return nil, errors.New("simulated transfer failure")
		}
	}
	s := f.stats
	return &s, nil
}

// newTestEngine builds an engine over a 12-directory source tree.
func newTestEngine(t *testing.T, syncer Syncer) (*Engine, string, string) {
	t.Helper()
	root := t.TempDir()
	source := t.TempDir()
	for i := 0; i < 12; i++ {
		dir := filepath.Join(source, fmt.Sprintf("store%02d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "blob"), []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	e := NewEngine(Options{
		BackupRoot:   root,
		Source:       source,
		Parallelism:  3,
		ChunkTimeout: time.Minute,
		SafetyWindow: time.Hour,
	}, syncer)
	return e, root, source
}

func TestRunFirstBackupFullCopy(t *testing.T) {
	syncer := &fakeSyncer{stats: SyncStats{TransferredBytes: 100, FileCount: 1}}
	e, root, _ := newTestEngine(t, syncer)

	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Manifest.Status != backupset.StatusComplete {
		t.Errorf("status = %q, want complete", res.Manifest.Status)
	}

	// No prior pointer: every chunk must be a full copy.
	for _, req := range syncer.requests {
		if req.LinkDest != "" {
			t.Errorf("first run chunk got dedupe anchor %q, want none", req.LinkDest)
		}
	}

	// Pointer now references the new complete set.
	target, ok := backupset.CurrentPointer(root, backupset.KindContentstore)
	if !ok || target != res.Set.Path {
		t.Errorf("pointer = %q, %v, want %q", target, ok, res.Set.Path)
	}

	if res.Manifest.TransferredBytes != int64(100*len(syncer.requests)) {
		t.Errorf("TransferredBytes = %d, want aggregated chunk stats", res.Manifest.TransferredBytes)
	}
}

func TestRunSecondBackupUsesAnchor(t *testing.T) {
	syncer := &fakeSyncer{}
	e, root, _ := newTestEngine(t, syncer)

	first, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	syncer.requests = nil

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	for _, req := range syncer.requests {
		if !strings.HasPrefix(req.LinkDest, first.Set.Path) {
			t.Errorf("chunk anchor = %q, want under previous set %q", req.LinkDest, first.Set.Path)
		}
	}
	_ = root
}

func TestRunChunkFailureIsPartialAndKeepsPointer(t *testing.T) {
	syncer := &fakeSyncer{}
	e, root, _ := newTestEngine(t, syncer)

	first, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}

	syncer.failRel = map[string]bool{"store05": true}
	res, err := e.Run(context.Background())
	if !errors.Is(err, ErrPartialBackup) {
		t.Fatalf("Run() error = %v, want ErrPartialBackup", err)
	}
	if res.Manifest.Status != backupset.StatusPartial {
		t.Errorf("status = %q, want partial", res.Manifest.Status)
	}

	// One chunk failed, the rest succeeded, nothing silently promoted.
	var failed int
	for _, rec := range res.Manifest.Chunks {
		if !rec.Success {
			failed++
			if rec.Error == "" {
				t.Error("failed chunk must carry its error")
			}
		}
	}
	if failed != 1 {
		t.Errorf("failed chunks = %d, want 1", failed)
	}

	// Pointer still references the last complete set.
	target, ok := backupset.CurrentPointer(root, backupset.KindContentstore)
	if !ok || target != first.Set.Path {
		t.Errorf("pointer = %q, want unchanged %q", target, first.Set.Path)
	}
}

func TestRunAllChunksFailedIsFailed(t *testing.T) {
	syncer := &fakeSyncer{failRel: map[string]bool{"store": true}}
	syncer.failRel = map[string]bool{}
	for i := 0; i < 12; i++ {
		syncer.failRel[fmt.Sprintf("store%02d", i)] = true
	}
	e, _, _ := newTestEngine(t, syncer)

	res, err := e.Run(context.Background())
	if !errors.Is(err, ErrPartialBackup) {
		t.Fatalf("Run() error = %v, want ErrPartialBackup", err)
	}
	if res.Manifest.Status != backupset.StatusFailed {
		t.Errorf("status = %q, want failed", res.Manifest.Status)
	}
}

func TestSelfHealRemovesStaleIncompleteSets(t *testing.T) {
	syncer := &fakeSyncer{}
	e, root, _ := newTestEngine(t, syncer)

	// A stale incomplete set, older than the safety window.
	stale := filepath.Join(root, "contentstore", "contentstore-2020-01-01_00-00-00")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}

	// A fresh incomplete set inside the safety window.
	freshTS := time.Now().Add(-time.Minute)
	fresh := backupset.NewSetPath(root, backupset.KindContentstore, freshTS)
	if err := os.MkdirAll(fresh, 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale incomplete set should have been removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("incomplete set inside safety window must be kept")
	}
}

func TestSelfHealKeepsPointerTarget(t *testing.T) {
	syncer := &fakeSyncer{}
	e, _, _ := newTestEngine(t, syncer)

	first, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Strip the manifest so the pointer target looks incomplete and old.
	if err := os.Remove(filepath.Join(first.Set.Path, backupset.ManifestFileName)); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(first.Set.Path, old, old); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error: %v", err)
	}

	if _, err := os.Stat(first.Set.Path); err != nil {
		t.Error("self-heal must never remove the pointer target")
	}
}

func TestParseRsyncStats(t *testing.T) {
	out := `
Number of files: 10,234 (reg: 10,000, dir: 234)
Number of created files: 1
Total file size: 5,000,000,000 bytes
Total transferred file size: 1,234,567 bytes
`
	stats := parseRsyncStats(out)
	if stats.TransferredBytes != 1234567 {
		t.Errorf("TransferredBytes = %d, want 1234567", stats.TransferredBytes)
	}
	if stats.FileCount != 10234 {
		t.Errorf("FileCount = %d, want 10234", stats.FileCount)
	}
}

func TestParseRsyncStatsGarbage(t *testing.T) {
	stats := parseRsyncStats("no stats here")
	if stats.TransferredBytes != 0 || stats.FileCount != 0 {
		t.Errorf("garbage stats should parse to zeros, got %+v", stats)
	}
}
