// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package execx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutput(t *testing.T) {
	res, err := Run(context.Background(), Command{
		Path: "/bin/sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("Stdout = %q, want out", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Stderr = %q, want err", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRunNonzeroExitIsNotError(t *testing.T) {
	res, err := Run(context.Background(), Command{
		Path: "/bin/sh",
		Args: []string{"-c", "exit 23"},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.ExitCode != 23 {
		t.Errorf("ExitCode = %d, want 23", res.ExitCode)
	}
}

func TestRunTimeout(t *testing.T) {
	_, err := Run(context.Background(), Command{
		Path:    "/bin/sh",
		Args:    []string{"-c", "sleep 10"},
		Timeout: 50 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Run() error = %v, want ErrTimeout", err)
	}
}

func TestRunAppendsEnv(t *testing.T) {
	res, err := Run(context.Background(), Command{
		Path: "/bin/sh",
		Args: []string{"-c", "echo $SNAPKEEP_TEST_VAR"},
		Env:  []string{"SNAPKEEP_TEST_VAR=hello"},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want hello", res.Stdout)
	}
}

func TestResolveToolOverrideWins(t *testing.T) {
	tool := filepath.Join(t.TempDir(), "mytool")
	if err := os.WriteFile(tool, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveTool("mytool", tool)
	if err != nil {
		t.Fatalf("ResolveTool() error: %v", err)
	}
	if got != tool {
		t.Errorf("ResolveTool() = %q, want %q", got, tool)
	}
}

func TestResolveToolBadOverrideFails(t *testing.T) {
	_, err := ResolveTool("sh", "/nonexistent/sh")
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("ResolveTool() error = %v, want ErrToolNotFound", err)
	}
}

func TestResolveToolCandidateOrder(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	got, err := ResolveTool("nosuchtool", "", filepath.Join(dir, "missing"), first, second)
	if err != nil {
		t.Fatalf("ResolveTool() error: %v", err)
	}
	if got != first {
		t.Errorf("ResolveTool() = %q, want first present candidate %q", got, first)
	}
}

func TestResolveToolFallsBackToPath(t *testing.T) {
	got, err := ResolveTool("sh", "")
	if err != nil {
		t.Fatalf("ResolveTool() error: %v", err)
	}
	if got == "" {
		t.Error("ResolveTool() returned empty path")
	}
}
