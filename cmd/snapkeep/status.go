// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/snapkeep/snapkeep/internal/backupset"
	"github.com/snapkeep/snapkeep/internal/orchestrator"
	"github.com/snapkeep/snapkeep/internal/wal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the newest complete backup sets and WAL archive state",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		latest, err := orchestrator.LatestSets(cfg.BackupRoot)
		if err != nil {
			return err
		}
		for _, kind := range []backupset.Kind{backupset.KindDatabase, backupset.KindContentstore} {
			set, ok := latest[kind]
			if !ok {
				fmt.Printf("%-14s no complete set\n", kind)
				continue
			}
			size := ""
			if set.Manifest != nil {
				size = humanize.IBytes(uint64(set.Manifest.ApparentBytes))
			}
			fmt.Printf("%-14s %s  %s  (%s old)\n",
				kind, set.Name, size, time.Since(set.CreatedAt).Round(time.Minute))
		}

		report, err := wal.Check(cfg.BackupRoot)
		if err != nil {
			return err
		}
		switch {
		case !report.Present:
			fmt.Println("wal archive    none")
		case report.Stale:
			fmt.Printf("wal archive    STALE, newest segment %s\n", humanize.Time(report.NewestModTime))
		default:
			fmt.Printf("wal archive    %d segments, %s\n",
				report.SegmentCount, humanize.IBytes(uint64(report.TotalBytes)))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
