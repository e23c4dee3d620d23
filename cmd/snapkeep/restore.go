// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/snapkeep/snapkeep/internal/backupset"
	"github.com/snapkeep/snapkeep/internal/contentstore"
	"github.com/snapkeep/snapkeep/internal/execx"
	"github.com/snapkeep/snapkeep/internal/restore"
	"github.com/snapkeep/snapkeep/internal/service"
)

var (
	restoreMode string
	restoreYes  bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore from the most recent complete backup sets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		mode := restore.Mode(restoreMode)
		if !mode.Valid() {
			return fmt.Errorf("invalid --mode %q: want full, database or contentstore", restoreMode)
		}

		controller, err := service.NewExecController(cfg.Tools.ServiceScript, cfg.Timeouts.ServiceStop)
		if err != nil {
			return err
		}
		rsyncPath, err := execx.ResolveTool("rsync", cfg.Tools.Rsync, "/usr/bin/rsync", "/usr/local/bin/rsync")
		if err != nil {
			return err
		}

		var prompter restore.Prompter = &terminalPrompter{in: bufio.NewReader(os.Stdin)}
		if restoreYes {
			prompter = &restore.AutoPrompter{Accept: true}
		}

		session := restore.NewSession(cfg, mode, controller, prompter, &contentstore.RsyncSyncer{Path: rsyncPath})
		out, err := session.Run(cmd.Context())
		printOutcome(out)
		return err
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreMode, "mode", string(restore.ModeFull), "what to restore: full, database or contentstore")
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "answer every prompt with yes and pick the newest sets")
	rootCmd.AddCommand(restoreCmd)
}

// printOutcome reports the session result on stdout for the operator.
func printOutcome(out *restore.Outcome) {
	if out == nil {
		return
	}
	if out.OK() {
		fmt.Println("restore complete")
	} else {
		fmt.Printf("restore failed during %s (rolled back: %v)\n", out.FailedPhase, out.RolledBack)
	}
	for _, sc := range out.SafetyCopies {
		fmt.Printf("safety copy kept: %s\n", sc.Copy)
	}
}

// terminalPrompter asks on the controlling terminal.
type terminalPrompter struct {
	in *bufio.Reader
}

func (p *terminalPrompter) Confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := p.in.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func (p *terminalPrompter) SelectSet(kind backupset.Kind, sets []*backupset.Set) (*backupset.Set, error) {
	fmt.Printf("available %s sets:\n", kind)
	for i, s := range sets {
		size := ""
		if s.Manifest != nil {
			size = humanize.IBytes(uint64(s.Manifest.ApparentBytes))
		}
		fmt.Printf("  [%d] %s  %s\n", i+1, s.Name, size)
	}
	fmt.Printf("select [1-%d, default 1]: ", len(sets))

	line, err := p.in.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return sets[0], nil
	}
	i, err := strconv.Atoi(line)
	if err != nil || i < 1 || i > len(sets) {
		return nil, fmt.Errorf("invalid selection %q", line)
	}
	return sets[i-1], nil
}
