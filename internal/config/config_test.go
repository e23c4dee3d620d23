// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTestConfig writes a minimal valid config file and returns its path
// plus the directories it references.
func writeTestConfig(t *testing.T) (string, string, string) {
	t.Helper()

	root := t.TempDir()
	source := t.TempDir()

	content := `backup_root: ` + root + `
source:
  contentstore: ` + source + `
database:
  host: db.internal
  user: alfresco
  password: secret
retention:
  days: 14
parallelism: 3
`
	path := filepath.Join(t.TempDir(), "snapkeep.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, root, source
}

func TestLoadFromFile(t *testing.T) {
	path, root, source := writeTestConfig(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.BackupRoot != root {
		t.Errorf("BackupRoot = %q, want %q", cfg.BackupRoot, root)
	}
	if cfg.Source.Contentstore != source {
		t.Errorf("Source.Contentstore = %q, want %q", cfg.Source.Contentstore, source)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %q, want db.internal", cfg.Database.Host)
	}
	if cfg.Retention.Days != 14 {
		t.Errorf("Retention.Days = %d, want 14", cfg.Retention.Days)
	}
	if cfg.Parallelism != 3 {
		t.Errorf("Parallelism = %d, want 3", cfg.Parallelism)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path, _, _ := writeTestConfig(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want default 5432", cfg.Database.Port)
	}
	if cfg.Database.Mode != ModeBaseBackup {
		t.Errorf("Database.Mode = %q, want default basebackup", cfg.Database.Mode)
	}
	if cfg.Alerts.Mode != AlertFailureOnly {
		t.Errorf("Alerts.Mode = %q, want default failure_only", cfg.Alerts.Mode)
	}
	if cfg.Retention.SafetyWindow != time.Hour {
		t.Errorf("Retention.SafetyWindow = %v, want default 1h", cfg.Retention.SafetyWindow)
	}
	if cfg.Restore.AutoRollback {
		t.Error("Restore.AutoRollback should default to false")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path, _, _ := writeTestConfig(t)

	t.Setenv("SNAPKEEP_DATABASE__HOST", "override.internal")
	t.Setenv("SNAPKEEP_PARALLELISM", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Database.Host != "override.internal" {
		t.Errorf("Database.Host = %q, want env override", cfg.Database.Host)
	}
	if cfg.Parallelism != 7 {
		t.Errorf("Parallelism = %d, want env override 7", cfg.Parallelism)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load("/nonexistent/snapkeep.yaml")
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestLoadRejectsMissingBackupRoot(t *testing.T) {
	source := t.TempDir()
	content := `backup_root: /does/not/exist
source:
  contentstore: ` + source + `
database:
  user: alfresco
`
	path := filepath.Join(t.TempDir(), "snapkeep.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestLoadRejectsBadParallelism(t *testing.T) {
	path, _, _ := writeTestConfig(t)
	t.Setenv("SNAPKEEP_PARALLELISM", "99")

	_, err := Load(path)
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid for parallelism 99", err)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SNAPKEEP_BACKUP_ROOT", "backup_root"},
		{"SNAPKEEP_DATABASE__HOST", "database.host"},
		{"SNAPKEEP_RETENTION__SAFETY_WINDOW", "retention.safety_window"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
