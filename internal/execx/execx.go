// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package execx runs the external primitives snapkeep orchestrates (rsync,
// pg_basebackup, pg_dump, service scripts) with bounded runtimes and full
// output capture, and resolves tool binaries from ordered candidate
// locations.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ErrTimeout means the command was killed because its timeout expired.
// Timeout expiry fails that unit only, not the whole run.
var ErrTimeout = errors.New("command timed out")

// ErrToolNotFound means no candidate location yielded the tool binary.
var ErrToolNotFound = errors.New("tool not found")

// Result captures one external command invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Command describes one external invocation.
type Command struct {
	// Path is the resolved tool binary.
	Path string

	// Args are passed verbatim; no shell is involved.
	Args []string

	// Timeout bounds the invocation. Zero means no bound.
	Timeout time.Duration

	// Env entries are appended to the parent environment. Used for
	// PGPASSWORD so credentials never appear in argv.
	Env []string
}

// Run executes the command and waits for it. A nonzero exit status is not
// an error here; callers interpret ExitCode. The returned error is non-nil
// for start failures, context cancellation and timeouts (ErrTimeout).
func Run(ctx context.Context, cmd Command) (*Result, error) {
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	c.Stdout = &stdout
	c.Stderr = &stderr
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	start := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return res, fmt.Errorf("%w after %s: %s", ErrTimeout, cmd.Timeout, cmd.Path)
		case runCtx.Err() != nil:
			return res, runCtx.Err()
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		default:
			return res, fmt.Errorf("running %s: %w", cmd.Path, err)
		}
	}

	return res, nil
}

// ResolveTool returns the first usable location for a tool: the explicit
// override when set, then each candidate path that exists, then $PATH
// lookup of name. Keeps adapters agnostic of embedded vs. system installs.
func ResolveTool(name, override string, candidates ...string) (string, error) {
	if override != "" {
		if isExecutableFile(override) {
			return override, nil
		}
		return "", fmt.Errorf("%w: configured override %s is not executable", ErrToolNotFound, override)
	}

	for _, c := range candidates {
		if isExecutableFile(c) {
			return c, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w: %s (tried %d candidate locations and $PATH)", ErrToolNotFound, name, len(candidates))
}

// isExecutableFile reports whether path is a regular file with any execute
// bit set.
func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
