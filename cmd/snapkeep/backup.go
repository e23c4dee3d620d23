// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/snapkeep/snapkeep/internal/orchestrator"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run one full backup: database, content snapshot, retention",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		o, err := orchestrator.New(cfg)
		if err != nil {
			return err
		}
		summary, err := o.Run(cmd.Context())
		if err != nil {
			return err
		}
		if !summary.OK() {
			return errors.New("backup run finished with failed phases")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
}
