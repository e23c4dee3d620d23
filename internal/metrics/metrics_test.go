// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snapkeep/snapkeep/internal/notify"
)

func sampleSummary() *notify.RunSummary {
	start := time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC)
	return &notify.RunSummary{
		Host:       "repo01",
		StartedAt:  start,
		FinishedAt: start.Add(10 * time.Minute),
		Phases: []notify.PhaseResult{
			{Name: "database", Status: notify.PhaseOK, Duration: 3 * time.Minute, Bytes: 1 << 30},
			{Name: "contentstore", Status: notify.PhaseFailed, Duration: 7 * time.Minute},
			{Name: "retention", Status: notify.PhaseSkipped},
		},
	}
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapkeep.prom")
	if err := NewExporter(path).Write(sampleSummary()); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)

	for _, want := range []string{
		"snapkeep_last_run_success 0",
		"snapkeep_last_run_duration_seconds 600",
		`snapkeep_phase_success{phase="database"} 1`,
		`snapkeep_phase_success{phase="contentstore"} 0`,
		`snapkeep_phase_bytes{phase="database"}`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, `phase="retention"`) {
		t.Error("skipped phases must not appear in the textfile")
	}
}

func TestWriteDisabledWithoutPath(t *testing.T) {
	if err := NewExporter("").Write(sampleSummary()); err != nil {
		t.Errorf("disabled exporter should be a no-op, got %v", err)
	}
}

func TestWriteFailsOnBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "deep", "snapkeep.prom")
	if err := NewExporter(path).Write(sampleSummary()); err == nil {
		t.Error("write into a missing directory should fail")
	}
}
