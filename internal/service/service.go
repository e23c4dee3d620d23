// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package service quiesces and resumes the application that owns the
// data being restored. The Controller boundary lets restore tests run
// against an in-memory fake; the exec implementation drives the
// platform's service control script.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/snapkeep/snapkeep/internal/execx"
	"github.com/snapkeep/snapkeep/internal/logging"
)

// ErrStopTimeout means the service stayed alive past the stop deadline
// even after forced-kill escalation.
var ErrStopTimeout = errors.New("service did not stop within the deadline")

// scriptCandidates are the ordered locations tried for the control
// script when no override is configured.
var scriptCandidates = []string{
	"/opt/alfresco/alfresco.sh",
	"/etc/init.d/alfresco",
	"/usr/local/bin/alfresco-service",
}

// defaultPollInterval between liveness checks while waiting for a stop.
const defaultPollInterval = 2 * time.Second

// Controller stops, starts and probes the managed service.
type Controller interface {
	// Stop quiesces the service, escalating to a forced kill when the
	// graceful stop overruns. Returns ErrStopTimeout when even the
	// escalation leaves the service alive.
	Stop(ctx context.Context) error

	// Start resumes the service.
	Start(ctx context.Context) error

	// Alive probes service liveness.
	Alive(ctx context.Context) bool
}

// ExecController drives a control script supporting the conventional
// start/stop/status/force-stop subcommands.
type ExecController struct {
	script      string
	stopTimeout time.Duration

	// pollInterval is swappable for tests.
	pollInterval time.Duration
}

// NewExecController resolves the control script and builds a controller.
func NewExecController(override string, stopTimeout time.Duration) (*ExecController, error) {
	script, err := execx.ResolveTool("service control script", override, scriptCandidates...)
	if err != nil {
		return nil, err
	}
	return &ExecController{
		script:       script,
		stopTimeout:  stopTimeout,
		pollInterval: defaultPollInterval,
	}, nil
}

// Stop runs the graceful stop, waits out the deadline polling liveness,
// and escalates to force-stop once before giving up.
func (c *ExecController) Stop(ctx context.Context) error {
	logging.Info().Str("script", c.script).Msg("stopping service")
	if err := c.run(ctx, "stop"); err != nil {
		return err
	}
	if c.waitStopped(ctx) {
		return nil
	}

	logging.Warn().
		Dur("waited", c.stopTimeout).
		Msg("graceful stop overran, escalating to forced kill")
	if err := c.run(ctx, "force-stop"); err != nil {
		return err
	}
	if c.waitStopped(ctx) {
		return nil
	}
	return ErrStopTimeout
}

// Start resumes the service.
func (c *ExecController) Start(ctx context.Context) error {
	logging.Info().Str("script", c.script).Msg("starting service")
	return c.run(ctx, "start")
}

// Alive probes the service; status exit 0 means running.
func (c *ExecController) Alive(ctx context.Context) bool {
	res, err := execx.Run(ctx, execx.Command{
		Path:    c.script,
		Args:    []string{"status"},
		Timeout: c.pollInterval * 5,
	})
	return err == nil && res.ExitCode == 0
}

// waitStopped polls liveness until the service is down or the stop
// deadline elapses.
func (c *ExecController) waitStopped(ctx context.Context) bool {
	deadline := time.Now().Add(c.stopTimeout)
	for {
		if !c.Alive(ctx) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.pollInterval):
		}
	}
}

// run invokes one script subcommand, treating a nonzero exit as failure.
func (c *ExecController) run(ctx context.Context, subcommand string) error {
	res, err := execx.Run(ctx, execx.Command{
		Path:    c.script,
		Args:    []string{subcommand},
		Timeout: c.stopTimeout,
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s %s exit %d: %s", c.script, subcommand, res.ExitCode, firstLine(res.Stderr))
	}
	return nil
}

// firstLine trims output to its first line for error text.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
