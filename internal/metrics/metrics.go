// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package metrics exports run results for the node_exporter textfile
// collector. Snapkeep runs from cron, so instead of serving a scrape
// endpoint it writes one textfile per run; prometheus.WriteToTextfile
// handles the tmp-then-rename dance.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/snapkeep/snapkeep/internal/logging"
	"github.com/snapkeep/snapkeep/internal/notify"
)

// Exporter writes one run summary to the textfile collector path.
type Exporter struct {
	path string
}

// NewExporter creates a textfile exporter; an empty path disables it.
func NewExporter(path string) *Exporter {
	return &Exporter{path: path}
}

// Write renders the summary into the configured textfile. A disabled
// exporter is a no-op; a write failure is logged and returned but the
// caller treats it as advisory.
func (e *Exporter) Write(summary *notify.RunSummary) error {
	if e.path == "" {
		return nil
	}

	reg := prometheus.NewRegistry()

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snapkeep_last_run_timestamp_seconds",
		Help: "Unix time the last backup run finished.",
	})
	lastRun.Set(float64(summary.FinishedAt.Unix()))

	runOK := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snapkeep_last_run_success",
		Help: "1 when every phase of the last run succeeded.",
	})
	if summary.OK() {
		runOK.Set(1)
	}

	runDuration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "snapkeep_last_run_duration_seconds",
		Help: "Wall-clock duration of the last backup run.",
	})
	runDuration.Set(summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	phaseOK := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snapkeep_phase_success",
		Help: "1 when the phase succeeded in the last run.",
	}, []string{"phase"})
	phaseDuration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snapkeep_phase_duration_seconds",
		Help: "Duration of the phase in the last run.",
	}, []string{"phase"})
	phaseBytes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "snapkeep_phase_bytes",
		Help: "Bytes handled by the phase in the last run.",
	}, []string{"phase"})

	for _, p := range summary.Phases {
		if p.Status == notify.PhaseSkipped {
			continue
		}
		ok := 0.0
		if p.Status == notify.PhaseOK {
			ok = 1
		}
		phaseOK.WithLabelValues(p.Name).Set(ok)
		phaseDuration.WithLabelValues(p.Name).Set(p.Duration.Seconds())
		if p.Bytes > 0 {
			phaseBytes.WithLabelValues(p.Name).Set(float64(p.Bytes))
		}
	}

	reg.MustRegister(lastRun, runOK, runDuration, phaseOK, phaseDuration, phaseBytes)

	if err := prometheus.WriteToTextfile(e.path, reg); err != nil {
		logging.Warn().Err(err).Str("path", e.path).Msg("metrics textfile write failed")
		return err
	}
	logging.Debug().Str("path", e.path).Msg("metrics textfile written")
	return nil
}
