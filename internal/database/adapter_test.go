// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/snapkeep/snapkeep/internal/backupset"
	"github.com/snapkeep/snapkeep/internal/config"
)

// writeScript installs an executable fake tool.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faketool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newAdapter(t *testing.T, mode config.DatabaseMode, toolOverride string) (*Adapter, string) {
	t.Helper()
	root := t.TempDir()
	tools := config.ToolConfig{}
	if mode == config.ModeDump {
		tools.PgDump = toolOverride
	} else {
		tools.PgBaseBackup = toolOverride
	}
	db := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "alfresco",
		Password: "secret",
		Name:     "alfresco",
		Mode:     mode,
	}
	return NewAdapter(root, db, tools, time.Minute), root
}

func TestRunBaseBackupSuccess(t *testing.T) {
	// $8 is the -D target directory; emit a gzip-magic artifact.
	tool := writeScript(t, `printf '\037\213rest' > "$8/base.tar.gz"`)
	a, root := newAdapter(t, config.ModeBaseBackup, tool)

	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Manifest.Status != backupset.StatusComplete {
		t.Errorf("status = %q, want complete", res.Manifest.Status)
	}
	if res.Manifest.Artifact == nil || res.Manifest.Artifact.CompressedBytes == 0 {
		t.Errorf("artifact record missing or empty: %+v", res.Manifest.Artifact)
	}

	sets, err := backupset.ListComplete(root, backupset.KindDatabase)
	if err != nil || len(sets) != 1 {
		t.Fatalf("ListComplete() = %d sets, err %v; want 1", len(sets), err)
	}
}

func TestRunDumpSuccess(t *testing.T) {
	// $9 is the -f artifact path; emit a PGDMP-magic artifact.
	tool := writeScript(t, `printf 'PGDMPrest' > "$9"`)
	a, _ := newAdapter(t, config.ModeDump, tool)

	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Manifest.Artifact == nil {
		t.Fatal("manifest lacks artifact record")
	}
	if filepath.Base(res.Manifest.Artifact.Path) != "alfresco.dump" {
		t.Errorf("artifact = %q, want alfresco.dump", res.Manifest.Artifact.Path)
	}
}

func TestRunZeroByteArtifactFails(t *testing.T) {
	tool := writeScript(t, `: > "$8/base.tar.gz"`)
	a, root := newAdapter(t, config.ModeBaseBackup, tool)

	_, err := a.Run(context.Background())
	if !errors.Is(err, ErrArtifactInvalid) {
		t.Errorf("Run() error = %v, want ErrArtifactInvalid", err)
	}

	// The failed set must not become visible as complete.
	sets, _ := backupset.ListComplete(root, backupset.KindDatabase)
	if len(sets) != 0 {
		t.Errorf("failed run produced %d complete sets, want 0", len(sets))
	}
}

func TestRunMissingArtifactFails(t *testing.T) {
	tool := writeScript(t, `exit 0`)
	a, _ := newAdapter(t, config.ModeBaseBackup, tool)

	_, err := a.Run(context.Background())
	if !errors.Is(err, ErrArtifactInvalid) {
		t.Errorf("Run() error = %v, want ErrArtifactInvalid", err)
	}
}

func TestRunWrongMagicFails(t *testing.T) {
	tool := writeScript(t, `printf 'NOTGZIP' > "$8/base.tar.gz"`)
	a, _ := newAdapter(t, config.ModeBaseBackup, tool)

	_, err := a.Run(context.Background())
	if !errors.Is(err, ErrArtifactInvalid) {
		t.Errorf("Run() error = %v, want ErrArtifactInvalid", err)
	}
}

func TestRunToolFailureSurfacesStderr(t *testing.T) {
	tool := writeScript(t, `echo "pg_basebackup: error: connection refused" >&2; exit 1`)
	a, _ := newAdapter(t, config.ModeBaseBackup, tool)

	_, err := a.Run(context.Background())
	if err == nil {
		t.Fatal("Run() should fail on nonzero tool exit")
	}
	if errors.Is(err, ErrArtifactInvalid) {
		t.Errorf("tool failure should not map to ErrArtifactInvalid: %v", err)
	}
}

func TestRunToleratesBenignWarnings(t *testing.T) {
	tool := writeScript(t, `
echo "NOTICE:  checkpoint starting" >&2
echo "WARNING:  skipping special file ./postmaster.opts" >&2
printf '\037\213rest' > "$8/base.tar.gz"
`)
	a, _ := newAdapter(t, config.ModeBaseBackup, tool)

	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() with benign warnings error: %v", err)
	}
	if len(res.Manifest.Warnings) != 2 {
		t.Errorf("Warnings = %v, want both benign lines recorded", res.Manifest.Warnings)
	}
}

func TestClassifyStderr(t *testing.T) {
	warnings, hard := classifyStderr(`NOTICE:  something routine
pg_basebackup: error: could not connect

WARNING:  skipping special file ./x`)
	if len(warnings) != 2 {
		t.Errorf("warnings = %v, want 2 benign lines", warnings)
	}
	if len(hard) != 1 || hard[0] != "pg_basebackup: error: could not connect" {
		t.Errorf("hard = %v, want the connection error", hard)
	}
}
