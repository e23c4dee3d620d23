// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package backupset

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// ManifestFileName marks a set directory as finished. Its presence with
// completed status is the only thing that makes a set visible as complete.
const ManifestFileName = "manifest.json"

// Status of a finished set as recorded in its manifest.
type Status string

const (
	// StatusComplete means every unit of the set succeeded.
	StatusComplete Status = "complete"

	// StatusPartial means at least one chunk failed; the set is kept for
	// inspection but never used as a dedupe anchor or restore source.
	StatusPartial Status = "partial"

	// StatusFailed means the set produced no usable data.
	StatusFailed Status = "failed"
)

// Manifest is the completion record of one backup set.
type Manifest struct {
	Kind        Kind      `json:"kind"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Duration of the producing run.
	Duration time.Duration `json:"duration_ms"`

	// ApparentBytes is the full logical size of the snapshot, including
	// hardlinked content shared with older sets.
	ApparentBytes int64 `json:"apparent_bytes"`

	// TransferredBytes is what this run actually copied; with an unchanged
	// source and a valid dedupe anchor this approaches zero.
	TransferredBytes int64 `json:"transferred_bytes"`

	// UniqueBytes is the disk space not shared with any other set via
	// hardlinks; after an unchanged re-run this approaches zero.
	UniqueBytes int64 `json:"unique_bytes,omitempty"`

	// FileCount is the number of files in the snapshot.
	FileCount int64 `json:"file_count"`

	// Chunks records per-chunk outcomes for contentstore sets.
	Chunks []ChunkRecord `json:"chunks,omitempty"`

	// Artifact describes the single artifact of database sets.
	Artifact *ArtifactRecord `json:"artifact,omitempty"`

	// Warnings carries tolerated tool warnings for the run summary.
	Warnings []string `json:"warnings,omitempty"`
}

// ChunkRecord is the aggregated outcome of one chunk transfer.
type ChunkRecord struct {
	Path             string `json:"path"`
	Worker           int    `json:"worker"`
	Success          bool   `json:"success"`
	TransferredBytes int64  `json:"transferred_bytes"`
	FileCount        int64  `json:"file_count"`
	Error            string `json:"error,omitempty"`
}

// ArtifactRecord describes a database backup artifact.
type ArtifactRecord struct {
	Path              string `json:"path"`
	CompressedBytes   int64  `json:"compressed_bytes"`
	UncompressedBytes int64  `json:"uncompressed_bytes,omitempty"`
}

// WriteManifest atomically writes the manifest into setPath. Write-new-
// then-rename so a reader never observes a torn manifest, and a crash
// mid-write leaves the set incomplete rather than half-complete.
func WriteManifest(setPath string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	tmp := filepath.Join(setPath, ManifestFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(setPath, ManifestFileName)); err != nil {
		return fmt.Errorf("publishing manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of a set directory.
func ReadManifest(setPath string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(setPath, ManifestFileName))
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decoding manifest in %s: %w", setPath, err)
	}
	return m, nil
}
