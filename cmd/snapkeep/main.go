// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// snapkeep is the backup and restore CLI for content repositories.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// signalContext returns a context cancelled on SIGINT or SIGTERM. The
// cancellation propagates into every in-flight tool invocation, so an
// interrupted run kills its rsync and pg_* children instead of orphaning
// them against a lock the kernel has already dropped.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	ctx, stop := signalContext()
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
