// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package config loads and validates snapkeep configuration.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML config file, then SNAPKEEP_* environment variables. Environment
// variables map to config paths by lowercasing and replacing "__" with ".",
// so SNAPKEEP_DATABASE__HOST overrides database.host.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrInvalid is wrapped by every configuration validation failure. The
// orchestrator aborts before any side effect when it sees this error.
var ErrInvalid = errors.New("invalid configuration")

// AlertMode controls when the notifier is invoked after a backup run.
type AlertMode string

const (
	// AlertFailureOnly sends a notification only when a phase failed.
	AlertFailureOnly AlertMode = "failure_only"

	// AlertAll sends a notification after every run.
	AlertAll AlertMode = "all"

	// AlertNone disables notifications.
	AlertNone AlertMode = "none"
)

// DatabaseMode selects the full-database backup primitive.
type DatabaseMode string

const (
	// ModeBaseBackup uses pg_basebackup (binary base backup, tar + gzip).
	ModeBaseBackup DatabaseMode = "basebackup"

	// ModeDump uses pg_dump with the custom archive format.
	ModeDump DatabaseMode = "dump"
)

// Config is the root snapkeep configuration.
type Config struct {
	// BackupRoot is the directory that holds all backup sets, the lock
	// file and the WAL archive.
	BackupRoot string `koanf:"backup_root" validate:"required"`

	Source    SourceConfig    `koanf:"source"`
	Database  DatabaseConfig  `koanf:"database"`
	Retention RetentionConfig `koanf:"retention"`
	Timeouts  TimeoutConfig   `koanf:"timeouts"`
	Alerts    AlertConfig     `koanf:"alerts"`
	Tools     ToolConfig      `koanf:"tools"`
	Restore   RestoreConfig   `koanf:"restore"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`

	// Parallelism is the chunk transfer worker count.
	Parallelism int `koanf:"parallelism" validate:"min=1,max=16"`
}

// SourceConfig names the live data locations to back up.
type SourceConfig struct {
	// Contentstore is the root of the binary content tree.
	Contentstore string `koanf:"contentstore" validate:"required"`
}

// DatabaseConfig holds connection parameters for the backup primitives.
type DatabaseConfig struct {
	Host     string       `koanf:"host" validate:"required"`
	Port     int          `koanf:"port" validate:"min=1,max=65535"`
	User     string       `koanf:"user" validate:"required"`
	Password string       `koanf:"password"`
	Name     string       `koanf:"name"`
	Mode     DatabaseMode `koanf:"mode" validate:"oneof=basebackup dump"`

	// DataDir is the server data directory, required only to restore a
	// base backup (the tarball is extracted into it).
	DataDir string `koanf:"data_dir"`
}

// RetentionConfig controls pruning of expired backup sets.
type RetentionConfig struct {
	// Days is the retention horizon; sets strictly older are pruned.
	Days int `koanf:"days" validate:"min=1"`

	// SafetyWindow protects very recent incomplete sets from self-heal
	// cleanup, so an operator can inspect a just-failed attempt.
	SafetyWindow time.Duration `koanf:"safety_window"`
}

// TimeoutConfig bounds each long-running external invocation. A timeout
// fails that unit only, never the whole run.
type TimeoutConfig struct {
	Database    time.Duration `koanf:"database"`
	Chunk       time.Duration `koanf:"chunk"`
	Retention   time.Duration `koanf:"retention"`
	ServiceStop time.Duration `koanf:"service_stop"`
}

// AlertConfig controls run-result notifications.
type AlertConfig struct {
	Mode AlertMode `koanf:"mode" validate:"oneof=failure_only all none"`
}

// ToolConfig overrides the external tool locations. Empty values fall back
// to the ordered candidate resolution in execx.
type ToolConfig struct {
	Rsync         string `koanf:"rsync"`
	PgBaseBackup  string `koanf:"pg_basebackup"`
	PgDump        string `koanf:"pg_dump"`
	PgRestore     string `koanf:"pg_restore"`
	ServiceScript string `koanf:"service_script"`
}

// RestoreConfig controls restore session policy.
type RestoreConfig struct {
	// AutoRollback rolls safety copies back automatically on a failure
	// after the safety-copy phase. Default false: the operator confirms.
	AutoRollback bool `koanf:"auto_rollback"`

	// MinDumpBytes is the plausibility floor for a database artifact
	// during restore validation.
	MinDumpBytes int64 `koanf:"min_dump_bytes"`
}

// MetricsConfig controls the prometheus textfile export.
type MetricsConfig struct {
	// Textfile is the node_exporter textfile collector target path.
	// Empty disables the export.
	Textfile string `koanf:"textfile"`
}

// LogConfig mirrors logging.Config.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		BackupRoot:  "",
		Parallelism: 5,
		Source: SourceConfig{
			Contentstore: "",
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 5432,
			User: "postgres",
			Name: "postgres",
			Mode: ModeBaseBackup,
		},
		Retention: RetentionConfig{
			Days:         30,
			SafetyWindow: time.Hour,
		},
		Timeouts: TimeoutConfig{
			Database:    2 * time.Hour,
			Chunk:       8 * time.Hour,
			Retention:   30 * time.Minute,
			ServiceStop: 2 * time.Minute,
		},
		Alerts: AlertConfig{
			Mode: AlertFailureOnly,
		},
		Restore: RestoreConfig{
			AutoRollback: false,
			MinDumpBytes: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks semantic constraints that struct tags cannot express.
// Tag validation runs first in Load.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if c.Retention.SafetyWindow < 0 {
		return fmt.Errorf("%w: retention.safety_window must not be negative", ErrInvalid)
	}
	return nil
}

// validatePaths checks that the configured directories exist.
func (c *Config) validatePaths() error {
	if err := requireDir(c.BackupRoot, "backup_root"); err != nil {
		return err
	}
	return requireDir(c.Source.Contentstore, "source.contentstore")
}

// requireDir fails unless path exists and is a directory.
func requireDir(path, key string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %s does not exist", ErrInvalid, key, path)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s: %s is not a directory", ErrInvalid, key, path)
	}
	return nil
}
