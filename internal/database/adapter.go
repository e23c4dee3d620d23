// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package database wraps the full-database backup primitives. One run
// produces a single verifiable artifact inside a timestamped backup set,
// using either pg_basebackup (binary base backup) or pg_dump (logical
// dump) depending on the deployment mode.
package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/snapkeep/snapkeep/internal/backupset"
	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/execx"
	"github.com/snapkeep/snapkeep/internal/logging"
)

// ErrArtifactInvalid means the backup tool exited cleanly but the artifact
// failed verification (missing, empty or wrong format).
var ErrArtifactInvalid = errors.New("database backup artifact failed verification")

// benignStderrPrefixes are tool warnings that do not invalidate a backup.
// Everything else on stderr is reported alongside a failure.
var benignStderrPrefixes = []string{
	"NOTICE:",
	"WARNING:  skipping special file",
	"pg_basebackup: NOTICE:",
}

// baseBackupCandidates are the ordered locations tried for pg_basebackup
// when no override is configured: platform-bundled installs first, then
// the system package location, then $PATH.
var baseBackupCandidates = []string{
	"/usr/local/pgsql/bin/pg_basebackup",
	"/usr/lib/postgresql/bin/pg_basebackup",
}

// dumpCandidates mirrors baseBackupCandidates for pg_dump.
var dumpCandidates = []string{
	"/usr/local/pgsql/bin/pg_dump",
	"/usr/lib/postgresql/bin/pg_dump",
}

// Adapter invokes one full-database backup primitive per run.
type Adapter struct {
	db         config.DatabaseConfig
	tools      config.ToolConfig
	backupRoot string
	timeout    time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewAdapter creates a database backup adapter.
func NewAdapter(backupRoot string, db config.DatabaseConfig, tools config.ToolConfig, timeout time.Duration) *Adapter {
	return &Adapter{
		db:         db,
		tools:      tools,
		backupRoot: backupRoot,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Result is the outcome of one database backup run.
type Result struct {
	Set      *backupset.Set
	Manifest *backupset.Manifest
}

// Run produces and verifies one database backup artifact.
func (a *Adapter) Run(ctx context.Context) (*Result, error) {
	setPath, started := backupset.NewUniqueSetPath(a.backupRoot, backupset.KindDatabase, a.now())
	if err := os.MkdirAll(setPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating set directory: %w", err)
	}

	logging.Info().
		Str("set", filepath.Base(setPath)).
		Str("mode", string(a.db.Mode)).
		Msg("database backup started")

	var artifact string
	var warnings []string
	var err error
	switch a.db.Mode {
	case config.ModeDump:
		artifact, warnings, err = a.runDump(ctx, setPath)
	default:
		artifact, warnings, err = a.runBaseBackup(ctx, setPath)
	}
	if err != nil {
		return nil, err
	}

	if err := a.verifyArtifact(artifact); err != nil {
		return nil, err
	}

	manifest := &backupset.Manifest{
		Kind:        backupset.KindDatabase,
		Status:      backupset.StatusComplete,
		StartedAt:   started,
		CompletedAt: a.now(),
		Warnings:    warnings,
		Artifact: &backupset.ArtifactRecord{
			Path:            artifact,
			CompressedBytes: fileSize(artifact),
		},
	}
	manifest.Duration = manifest.CompletedAt.Sub(started)
	manifest.ApparentBytes = manifest.Artifact.CompressedBytes
	manifest.FileCount = 1

	if err := backupset.WriteManifest(setPath, manifest); err != nil {
		return nil, err
	}

	logging.Info().
		Str("set", filepath.Base(setPath)).
		Int64("compressed_bytes", manifest.Artifact.CompressedBytes).
		Dur("duration", manifest.Duration).
		Msg("database backup complete")

	return &Result{
		Set: &backupset.Set{
			Kind:           backupset.KindDatabase,
			Name:           filepath.Base(setPath),
			Path:           setPath,
			CreatedAt:      started,
			ParsedFromName: true,
			Manifest:       manifest,
		},
		Manifest: manifest,
	}, nil
}

// runBaseBackup invokes pg_basebackup in tar+gzip format.
func (a *Adapter) runBaseBackup(ctx context.Context, setPath string) (string, []string, error) {
	tool, err := execx.ResolveTool("pg_basebackup", a.tools.PgBaseBackup, baseBackupCandidates...)
	if err != nil {
		return "", nil, err
	}

	args := []string{
		"-h", a.db.Host,
		"-p", strconv.Itoa(a.db.Port),
		"-U", a.db.User,
		"-D", setPath,
		"-Ft", "-z", "-P",
	}
	warnings, err := a.invoke(ctx, tool, args)
	if err != nil {
		return "", nil, err
	}
	return filepath.Join(setPath, "base.tar.gz"), warnings, nil
}

// runDump invokes pg_dump with the custom archive format.
func (a *Adapter) runDump(ctx context.Context, setPath string) (string, []string, error) {
	tool, err := execx.ResolveTool("pg_dump", a.tools.PgDump, dumpCandidates...)
	if err != nil {
		return "", nil, err
	}

	artifact := filepath.Join(setPath, a.db.Name+".dump")
	args := []string{
		"-h", a.db.Host,
		"-p", strconv.Itoa(a.db.Port),
		"-U", a.db.User,
		"-Fc",
		"-f", artifact,
		a.db.Name,
	}
	warnings, err := a.invoke(ctx, tool, args)
	if err != nil {
		return "", nil, err
	}
	return artifact, warnings, nil
}

// invoke runs the tool with PGPASSWORD in the child environment only, and
// classifies its stderr into tolerated warnings or a hard failure.
func (a *Adapter) invoke(ctx context.Context, tool string, args []string) ([]string, error) {
	res, err := execx.Run(ctx, execx.Command{
		Path:    tool,
		Args:    args,
		Timeout: a.timeout,
		Env:     []string{"PGPASSWORD=" + a.db.Password},
	})
	if err != nil {
		return nil, err
	}

	warnings, hard := classifyStderr(res.Stderr)
	if res.ExitCode != 0 {
		detail := firstNonEmpty(hard, warnings)
		return nil, fmt.Errorf("%s exit %d: %s", filepath.Base(tool), res.ExitCode, detail)
	}
	for _, w := range warnings {
		logging.Warn().Str("tool", filepath.Base(tool)).Msg(w)
	}
	return warnings, nil
}

// classifyStderr splits stderr lines into benign warnings and hard
// diagnostics per the allow-list.
func classifyStderr(stderr string) (warnings, hard []string) {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isBenign(line) {
			warnings = append(warnings, line)
		} else {
			hard = append(hard, line)
		}
	}
	return warnings, hard
}

// isBenign reports whether a stderr line matches the allow-list.
func isBenign(line string) bool {
	for _, prefix := range benignStderrPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// verifyArtifact fails hard on missing or zero-byte output and checks the
// leading magic per mode: gzip for base backups, PGDMP for custom dumps.
func (a *Adapter) verifyArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s missing", ErrArtifactInvalid, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is zero bytes", ErrArtifactInvalid, path)
	}

	magic := make([]byte, 5)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrArtifactInvalid, path, err)
	}
	defer f.Close() //nolint:errcheck
	if _, err := f.Read(magic); err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrArtifactInvalid, path, err)
	}

	switch a.db.Mode {
	case config.ModeDump:
		if string(magic) != "PGDMP" {
			return fmt.Errorf("%w: %s lacks PGDMP header", ErrArtifactInvalid, path)
		}
	default:
		if magic[0] != 0x1f || magic[1] != 0x8b {
			return fmt.Errorf("%w: %s lacks gzip header", ErrArtifactInvalid, path)
		}
	}
	return nil
}

// fileSize returns the size of path, 0 on error.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// firstNonEmpty prefers hard diagnostics over warnings for error text.
func firstNonEmpty(hard, warnings []string) string {
	if len(hard) > 0 {
		return hard[0]
	}
	if len(warnings) > 0 {
		return warnings[0]
	}
	return "no diagnostics on stderr"
}
