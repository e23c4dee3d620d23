// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package contentstore

import (
	"os"
	"testing"
	"time"

	"github.com/snapkeep/snapkeep/internal/backupset"
)

// anchorWithDelta publishes a complete contentstore set carrying the
// given transferred delta and points "last" at it.
func anchorWithDelta(t *testing.T, root string, transferred int64) {
	t.Helper()
	setPath := backupset.NewSetPath(root, backupset.KindContentstore, time.Now().Add(-time.Hour))
	if err := os.MkdirAll(setPath, 0o755); err != nil {
		t.Fatal(err)
	}
	m := &backupset.Manifest{
		Kind:             backupset.KindContentstore,
		Status:           backupset.StatusComplete,
		TransferredBytes: transferred,
	}
	if err := backupset.WriteManifest(setPath, m); err != nil {
		t.Fatal(err)
	}
	if err := backupset.AdvancePointer(root, backupset.KindContentstore, setPath); err != nil {
		t.Fatal(err)
	}
}

func TestEstimateFirstRunUsesSourceSize(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeSyncer{})

	// 12 dirs x 4-byte blob from the test tree.
	if got := e.estimateRequiredBytes(); got != 48 {
		t.Errorf("estimateRequiredBytes() = %d, want the apparent source size 48", got)
	}
}

func TestEstimateUsesPreviousDelta(t *testing.T) {
	e, root, _ := newTestEngine(t, &fakeSyncer{})
	anchorWithDelta(t, root, 2*minEstimateBytes)

	if got := e.estimateRequiredBytes(); got != 2*minEstimateBytes {
		t.Errorf("estimateRequiredBytes() = %d, want the previous delta %d", got, 2*minEstimateBytes)
	}
}

func TestEstimateZeroDeltaFloorsNotFullTree(t *testing.T) {
	e, root, _ := newTestEngine(t, &fakeSyncer{})
	anchorWithDelta(t, root, 0)

	// An unchanged-source run must estimate the floor, never fall back
	// to the full apparent source size.
	if got := e.estimateRequiredBytes(); got != minEstimateBytes {
		t.Errorf("estimateRequiredBytes() = %d, want floor %d", got, minEstimateBytes)
	}
}

func TestFreeBytesProbesFilesystem(t *testing.T) {
	free, err := freeBytes(t.TempDir())
	if err != nil {
		t.Fatalf("freeBytes() error: %v", err)
	}
	if free <= 0 {
		t.Errorf("freeBytes() = %d, want positive", free)
	}
}
