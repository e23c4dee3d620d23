// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package contentstore implements the parallel chunked snapshot engine for
// the binary content tree.
//
// A run partitions the source into chunks, transfers them across a fixed
// worker pool with hardlink deduplication against the current pointer, and
// publishes the set as complete only when every chunk succeeded. The
// pointer advances only on full success, so a reader never deduplicates
// against a partial snapshot.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapkeep/snapkeep/internal/backupset"
	"github.com/snapkeep/snapkeep/internal/logging"
)

// ErrSourceUnreadable means the source tree could not be enumerated.
var ErrSourceUnreadable = errors.New("source tree unreadable")

// ErrInsufficientSpace means the preflight estimate does not fit in the
// free space of the backup filesystem.
var ErrInsufficientSpace = errors.New("insufficient free space for snapshot")

// ErrPartialBackup means at least one chunk failed. The run is never
// reported as success and the pointer does not advance.
var ErrPartialBackup = errors.New("partial backup: one or more chunks failed")

// Options configures the snapshot engine.
type Options struct {
	// BackupRoot is the backup storage root.
	BackupRoot string

	// Source is the live content tree.
	Source string

	// Parallelism is the worker pool size.
	Parallelism int

	// ChunkTimeout bounds each chunk transfer.
	ChunkTimeout time.Duration

	// SafetyWindow protects recent incomplete sets from self-heal.
	SafetyWindow time.Duration
}

// Engine is the contentstore snapshot engine.
type Engine struct {
	opts   Options
	syncer Syncer

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates a snapshot engine over the given sync primitive.
func NewEngine(opts Options, syncer Syncer) *Engine {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Engine{opts: opts, syncer: syncer, now: time.Now}
}

// Result is the outcome of one snapshot run.
type Result struct {
	// Set is the produced backup set. Nil when the run aborted before
	// creating the set directory.
	Set *backupset.Set

	// Manifest mirrors the manifest written to the set.
	Manifest *backupset.Manifest

	// Serial reports that the planner degraded to a single chunk.
	Serial bool
}

// Run executes one snapshot: self-heal, preflight, plan, transfer,
// aggregate, publish.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.selfHeal()

	if err := e.preflight(); err != nil {
		return nil, err
	}

	plan, err := PlanChunks(e.opts.Source, e.opts.Parallelism)
	if err != nil {
		return nil, err
	}

	setPath, started := backupset.NewUniqueSetPath(e.opts.BackupRoot, backupset.KindContentstore, e.now())
	if err := os.MkdirAll(setPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating set directory: %w", err)
	}

	anchor, hasAnchor := backupset.CurrentPointer(e.opts.BackupRoot, backupset.KindContentstore)
	logging.Info().
		Str("set", filepath.Base(setPath)).
		Int("chunks", len(plan.Chunks)).
		Int("workers", e.opts.Parallelism).
		Bool("dedupe", hasAnchor).
		Bool("serial", plan.Serial).
		Msg("contentstore snapshot started")

	records := e.transferChunks(ctx, plan.Chunks, setPath, anchor, hasAnchor)

	manifest := e.aggregate(started, setPath, records)
	if err := backupset.WriteManifest(setPath, manifest); err != nil {
		return nil, err
	}

	result := &Result{
		Set: &backupset.Set{
			Kind:           backupset.KindContentstore,
			Name:           filepath.Base(setPath),
			Path:           setPath,
			CreatedAt:      started,
			ParsedFromName: true,
			Manifest:       manifest,
		},
		Manifest: manifest,
		Serial:   plan.Serial,
	}

	if manifest.Status != backupset.StatusComplete {
		return result, fmt.Errorf("%w (%d/%d chunks succeeded)",
			ErrPartialBackup, succeededCount(records), len(records))
	}

	// Pointer update happens-after all chunk completions.
	if err := backupset.AdvancePointer(e.opts.BackupRoot, backupset.KindContentstore, setPath); err != nil {
		return result, fmt.Errorf("advancing current pointer: %w", err)
	}

	logging.Info().
		Str("set", result.Set.Name).
		Int64("transferred_bytes", manifest.TransferredBytes).
		Dur("duration", manifest.Duration).
		Msg("contentstore snapshot complete")
	return result, nil
}

// transferChunks dispatches chunks across the worker pool and collects
// per-chunk records. A chunk failure never cancels its siblings; the run
// aggregates everything and reports partial status instead.
func (e *Engine) transferChunks(ctx context.Context, chunks []Chunk, setPath, anchor string, hasAnchor bool) []backupset.ChunkRecord {
	records := make([]backupset.ChunkRecord, len(chunks))

	var slotMu sync.Mutex
	nextSlot := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Parallelism)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			slotMu.Lock()
			worker := nextSlot % e.opts.Parallelism
			nextSlot++
			slotMu.Unlock()

			records[i] = e.transferOne(gctx, chunk, worker, setPath, anchor, hasAnchor)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors; failures live in records

	return records
}

// transferOne runs a single chunk transfer and folds the outcome into a
// record.
func (e *Engine) transferOne(ctx context.Context, chunk Chunk, worker int, setPath, anchor string, hasAnchor bool) backupset.ChunkRecord {
	rec := backupset.ChunkRecord{Path: chunk.Rel, Worker: worker}
	if rec.Path == "" {
		rec.Path = "."
	}

	if ctx.Err() != nil {
		rec.Error = ctx.Err().Error()
		return rec
	}

	req := SyncRequest{
		Source:    filepath.Join(e.opts.Source, chunk.Rel),
		Dest:      filepath.Join(setPath, chunk.Rel),
		FilesOnly: chunk.FilesOnly,
		Timeout:   e.opts.ChunkTimeout,
	}
	if hasAnchor {
		req.LinkDest = filepath.Join(anchor, chunk.Rel)
	}

	if err := os.MkdirAll(req.Dest, 0o755); err != nil {
		rec.Error = err.Error()
		return rec
	}

	stats, err := e.syncer.Sync(ctx, req)
	if err != nil {
		rec.Error = err.Error()
		logging.Warn().Err(err).Str("chunk", rec.Path).Int("worker", worker).Msg("chunk transfer failed")
		return rec
	}

	rec.Success = true
	rec.TransferredBytes = stats.TransferredBytes
	rec.FileCount = stats.FileCount
	logging.Debug().
		Str("chunk", rec.Path).
		Int("worker", worker).
		Int64("transferred_bytes", rec.TransferredBytes).
		Msg("chunk transferred")
	return rec
}

// aggregate folds chunk records into the set manifest. Overall status is
// complete iff every chunk succeeded.
func (e *Engine) aggregate(started time.Time, setPath string, records []backupset.ChunkRecord) *backupset.Manifest {
	m := &backupset.Manifest{
		Kind:        backupset.KindContentstore,
		Status:      backupset.StatusComplete,
		StartedAt:   started,
		CompletedAt: e.now(),
		Chunks:      records,
	}
	m.Duration = m.CompletedAt.Sub(started)

	succeeded := 0
	for _, rec := range records {
		if rec.Success {
			succeeded++
			m.TransferredBytes += rec.TransferredBytes
			m.FileCount += rec.FileCount
		}
	}

	switch {
	case succeeded == len(records):
		m.ApparentBytes, m.UniqueBytes = treeSizes(setPath)
	case succeeded == 0:
		m.Status = backupset.StatusFailed
	default:
		m.Status = backupset.StatusPartial
	}
	return m
}

// succeededCount counts successful chunk records.
func succeededCount(records []backupset.ChunkRecord) int {
	n := 0
	for _, rec := range records {
		if rec.Success {
			n++
		}
	}
	return n
}

// selfHeal removes stale incomplete sets so repeated failed attempts do
// not grow disk usage without bound. The pointer target and anything
// younger than the safety window are always kept.
func (e *Engine) selfHeal() {
	sets, err := backupset.List(e.opts.BackupRoot, backupset.KindContentstore)
	if err != nil {
		logging.Warn().Err(err).Msg("self-heal listing failed")
		return
	}
	pointer, _ := backupset.CurrentPointer(e.opts.BackupRoot, backupset.KindContentstore)
	now := e.now()

	for _, s := range sets {
		if s.Complete() || s.Path == pointer {
			continue
		}
		if s.Age(now) <= e.opts.SafetyWindow {
			continue
		}
		if err := os.RemoveAll(s.Path); err != nil {
			logging.Warn().Err(err).Str("set", s.Name).Msg("self-heal could not remove stale set")
			continue
		}
		logging.Info().Str("set", s.Name).Msg("removed stale incomplete set")
	}
}
