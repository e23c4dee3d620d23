// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package notify turns run summaries into operator notifications. The
// Notifier boundary keeps delivery pluggable; the built-in implementation
// emits the formatted summary through the structured log, which cron and
// journald deployments already collect.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/logging"
)

// PhaseStatus is the outcome of one orchestrator phase.
type PhaseStatus string

const (
	PhaseOK      PhaseStatus = "ok"
	PhaseFailed  PhaseStatus = "failed"
	PhaseSkipped PhaseStatus = "skipped"
)

// PhaseResult is one line of a run summary.
type PhaseResult struct {
	Name     string        `json:"name"`
	Status   PhaseStatus   `json:"status"`
	Duration time.Duration `json:"duration"`
	Bytes    int64         `json:"bytes,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

// RunSummary is the complete outcome of one backup run.
type RunSummary struct {
	Host       string        `json:"host"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Phases     []PhaseResult `json:"phases"`
}

// OK reports whether every non-skipped phase succeeded.
func (s *RunSummary) OK() bool {
	for _, p := range s.Phases {
		if p.Status == PhaseFailed {
			return false
		}
	}
	return true
}

// Failures returns the failed phase names.
func (s *RunSummary) Failures() []string {
	var names []string
	for _, p := range s.Phases {
		if p.Status == PhaseFailed {
			names = append(names, p.Name)
		}
	}
	return names
}

// Notifier delivers one run summary to the operator.
type Notifier interface {
	Notify(ctx context.Context, summary *RunSummary) error
}

// Format renders a summary as the plain-text body a notifier delivers.
func Format(s *RunSummary) string {
	var b strings.Builder
	state := "SUCCESS"
	if !s.OK() {
		state = "FAILURE (" + strings.Join(s.Failures(), ", ") + ")"
	}
	fmt.Fprintf(&b, "snapkeep backup on %s: %s\n", s.Host, state)
	fmt.Fprintf(&b, "ran %s, took %s\n\n",
		s.StartedAt.Format(time.RFC3339),
		s.FinishedAt.Sub(s.StartedAt).Round(time.Second))

	for _, p := range s.Phases {
		fmt.Fprintf(&b, "  %-14s %-8s %8s", p.Name, p.Status, p.Duration.Round(time.Second))
		if p.Bytes > 0 {
			fmt.Fprintf(&b, "  %s", humanize.IBytes(uint64(p.Bytes)))
		}
		if p.Detail != "" {
			fmt.Fprintf(&b, "  %s", p.Detail)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// LogNotifier writes the formatted summary to the structured log.
type LogNotifier struct {
	mode config.AlertMode
}

// NewLogNotifier creates a log-backed notifier honoring the alert mode.
func NewLogNotifier(mode config.AlertMode) *LogNotifier {
	return &LogNotifier{mode: mode}
}

// Notify emits the summary unless the alert mode suppresses it.
func (n *LogNotifier) Notify(_ context.Context, summary *RunSummary) error {
	switch n.mode {
	case config.AlertNone:
		return nil
	case config.AlertFailureOnly:
		if summary.OK() {
			return nil
		}
	}

	event := logging.Info()
	if !summary.OK() {
		event = logging.Error()
	}
	event.
		Bool("ok", summary.OK()).
		Strs("failed_phases", summary.Failures()).
		Str("summary", Format(summary)).
		Msg("backup run notification")
	return nil
}
