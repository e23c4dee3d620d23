// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package orchestrator sequences one full backup run: under a single
// process lock, database backup, contentstore snapshot, WAL archive
// check, then retention. A failed phase marks the run failed but never
// blocks the remaining phases; only a held lock aborts outright.
package orchestrator

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/snapkeep/snapkeep/internal/backupset"
	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/contentstore"
	"github.com/snapkeep/snapkeep/internal/database"
	"github.com/snapkeep/snapkeep/internal/execx"
	"github.com/snapkeep/snapkeep/internal/lockfile"
	"github.com/snapkeep/snapkeep/internal/logging"
	"github.com/snapkeep/snapkeep/internal/metrics"
	"github.com/snapkeep/snapkeep/internal/notify"
	"github.com/snapkeep/snapkeep/internal/retention"
	"github.com/snapkeep/snapkeep/internal/wal"
)

// rsyncCandidates are the ordered locations tried for rsync when no
// override is configured.
var rsyncCandidates = []string{
	"/usr/bin/rsync",
	"/usr/local/bin/rsync",
}

// databaseRunner produces one database backup set.
type databaseRunner interface {
	Run(ctx context.Context) (*database.Result, error)
}

// snapshotRunner produces one contentstore snapshot set.
type snapshotRunner interface {
	Run(ctx context.Context) (*contentstore.Result, error)
}

// retentionRunner applies the retention policy once.
type retentionRunner interface {
	Apply(ctx context.Context) (*retention.Report, error)
}

// Orchestrator runs the backup pipeline.
type Orchestrator struct {
	cfg      *config.Config
	notifier notify.Notifier
	exporter *metrics.Exporter

	db        databaseRunner
	snapshot  snapshotRunner
	retention retentionRunner
	walCheck  func(backupRoot string) (*wal.Report, error)

	now func() time.Time
}

// New wires an orchestrator from configuration. Tool resolution for the
// snapshot engine happens here so a missing rsync surfaces before any
// side effect.
func New(cfg *config.Config) (*Orchestrator, error) {
	rsyncPath, err := execx.ResolveTool("rsync", cfg.Tools.Rsync, rsyncCandidates...)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:      cfg,
		notifier: notify.NewLogNotifier(cfg.Alerts.Mode),
		exporter: metrics.NewExporter(cfg.Metrics.Textfile),
		db:       database.NewAdapter(cfg.BackupRoot, cfg.Database, cfg.Tools, cfg.Timeouts.Database),
		snapshot: contentstore.NewEngine(contentstore.Options{
			BackupRoot:   cfg.BackupRoot,
			Source:       cfg.Source.Contentstore,
			Parallelism:  cfg.Parallelism,
			ChunkTimeout: cfg.Timeouts.Chunk,
			SafetyWindow: cfg.Retention.SafetyWindow,
		}, &contentstore.RsyncSyncer{Path: rsyncPath}),
		retention: retention.NewEngine(cfg.BackupRoot, cfg.Retention.Days, cfg.Parallelism),
		walCheck:  wal.Check,
		now:       time.Now,
	}, nil
}

// Run executes one backup run end to end and returns its summary. The
// returned error is non-nil only for abort-class failures (a held lock);
// phase failures live inside the summary.
func (o *Orchestrator) Run(ctx context.Context) (*notify.RunSummary, error) {
	lock, err := lockfile.Acquire(o.cfg.BackupRoot)
	if err != nil {
		if errors.Is(err, lockfile.ErrLockHeld) {
			logging.Error().Err(err).Msg("another backup run holds the lock, aborting")
		}
		return nil, err
	}
	defer lock.Release() //nolint:errcheck

	host, _ := os.Hostname()
	summary := &notify.RunSummary{
		Host:      host,
		StartedAt: o.now(),
	}

	o.runDatabase(ctx, summary)
	o.runSnapshot(ctx, summary)
	o.runWALCheck(summary)
	o.runRetention(ctx, summary)

	summary.FinishedAt = o.now()

	if err := o.notifier.Notify(ctx, summary); err != nil {
		logging.Warn().Err(err).Msg("notification delivery failed")
	}
	if err := o.exporter.Write(summary); err != nil {
		logging.Warn().Err(err).Msg("metrics export failed")
	}

	logging.Info().
		Bool("ok", summary.OK()).
		Dur("duration", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("backup run finished")
	return summary, nil
}

// runDatabase executes the database backup phase.
func (o *Orchestrator) runDatabase(ctx context.Context, summary *notify.RunSummary) {
	started := o.now()
	res, err := o.db.Run(ctx)

	phase := notify.PhaseResult{
		Name:     "database",
		Status:   notify.PhaseOK,
		Duration: o.now().Sub(started),
	}
	if err != nil {
		phase.Status = notify.PhaseFailed
		phase.Detail = err.Error()
	} else if res.Manifest.Artifact != nil {
		phase.Bytes = res.Manifest.Artifact.CompressedBytes
	}
	summary.Phases = append(summary.Phases, phase)
}

// runSnapshot executes the contentstore snapshot phase. A partial
// snapshot is a phase failure even though the set was kept on disk.
func (o *Orchestrator) runSnapshot(ctx context.Context, summary *notify.RunSummary) {
	started := o.now()
	res, err := o.snapshot.Run(ctx)

	phase := notify.PhaseResult{
		Name:     "contentstore",
		Status:   notify.PhaseOK,
		Duration: o.now().Sub(started),
	}
	if err != nil {
		phase.Status = notify.PhaseFailed
		phase.Detail = err.Error()
	}
	if res != nil && res.Manifest != nil {
		phase.Bytes = res.Manifest.TransferredBytes
	}
	summary.Phases = append(summary.Phases, phase)
}

// runWALCheck inspects the WAL archive; its failure is advisory.
func (o *Orchestrator) runWALCheck(summary *notify.RunSummary) {
	started := o.now()
	report, err := o.walCheck(o.cfg.BackupRoot)

	phase := notify.PhaseResult{
		Name:     "wal_check",
		Status:   notify.PhaseOK,
		Duration: o.now().Sub(started),
	}
	switch {
	case err != nil:
		phase.Status = notify.PhaseFailed
		phase.Detail = err.Error()
	case !report.Present:
		phase.Status = notify.PhaseSkipped
		phase.Detail = "no WAL archive"
	case report.Stale:
		phase.Status = notify.PhaseFailed
		phase.Detail = "WAL archive stale"
		phase.Bytes = report.TotalBytes
	default:
		phase.Bytes = report.TotalBytes
	}
	summary.Phases = append(summary.Phases, phase)
}

// runRetention applies the retention policy. Per-set failures inside the
// report count as a phase failure without having blocked other deletions.
func (o *Orchestrator) runRetention(ctx context.Context, summary *notify.RunSummary) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Retention)
	defer cancel()

	started := o.now()
	report, err := o.retention.Apply(ctx)

	phase := notify.PhaseResult{
		Name:     "retention",
		Status:   notify.PhaseOK,
		Duration: o.now().Sub(started),
	}
	switch {
	case err != nil:
		phase.Status = notify.PhaseFailed
		phase.Detail = err.Error()
	case len(report.Failed) > 0:
		phase.Status = notify.PhaseFailed
		phase.Detail = report.Failed[0].Reason
	default:
		phase.Detail = retentionDetail(report)
	}
	summary.Phases = append(summary.Phases, phase)
}

// retentionDetail summarizes a clean retention pass for the report line.
func retentionDetail(r *retention.Report) string {
	if len(r.Deleted) == 0 && r.WALDeleted == 0 {
		return "nothing expired"
	}
	detail := ""
	for i, item := range r.Deleted {
		if i > 0 {
			detail += ", "
		}
		detail += item.Name
	}
	if r.WALDeleted > 0 {
		if detail != "" {
			detail += ", "
		}
		detail += "wal segments pruned"
	}
	return detail
}

// LatestSets is a convenience for status output: the newest complete set
// per kind, nil when a kind has none.
func LatestSets(backupRoot string) (map[backupset.Kind]*backupset.Set, error) {
	out := make(map[backupset.Kind]*backupset.Set, 2)
	for _, kind := range []backupset.Kind{backupset.KindDatabase, backupset.KindContentstore} {
		sets, err := backupset.ListComplete(backupRoot, kind)
		if err != nil {
			return nil, err
		}
		if len(sets) > 0 {
			out[kind] = sets[0]
		}
	}
	return out, nil
}
