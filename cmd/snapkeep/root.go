// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package main

import (
	"github.com/spf13/cobra"

	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "snapkeep",
	Short: "Deduplicating backup orchestrator for content repositories",
	Long: `snapkeep takes coordinated backups of a content repository: a full
database backup plus a hardlink-deduplicated snapshot of the binary
content tree, with retention, self-healing of interrupted runs and a
guided restore.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: built-in defaults plus SNAPKEEP_* env)")
}

// loadConfig loads configuration and initializes logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	return cfg, nil
}
