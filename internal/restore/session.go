// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

// Package restore drives a guided restore session as an explicit state
// machine: select sets, validate them, quiesce the service, move the
// live data aside, restore, restart, verify. The live data is never
// deleted before verification; a failure after the safety copies exist
// offers a rollback instead.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/snapkeep/snapkeep/internal/backupset"
	"github.com/snapkeep/snapkeep/internal/config"
	"github.com/snapkeep/snapkeep/internal/contentstore"
	"github.com/snapkeep/snapkeep/internal/execx"
	"github.com/snapkeep/snapkeep/internal/logging"
	"github.com/snapkeep/snapkeep/internal/service"
)

// ErrValidationFailed means a selected set did not pass the plausibility
// checks; nothing has been touched yet.
var ErrValidationFailed = errors.New("restore validation failed")

// ErrQuiesceTimeout means the service survived both the graceful stop
// and the forced-kill escalation.
var ErrQuiesceTimeout = errors.New("service quiesce timed out")

// ErrPhaseFailed wraps a failure inside a restore phase.
var ErrPhaseFailed = errors.New("restore phase failed")

// ErrAborted means the operator declined to proceed.
var ErrAborted = errors.New("restore aborted by operator")

// selectionSkewWarn is the cross-kind timestamp gap beyond which the
// operator is asked to confirm the pairing.
const selectionSkewWarn = time.Hour

// safetyCopySuffix joins the live path with the session timestamp.
const safetyCopySuffix = ".pre-restore-"

var pgRestoreCandidates = []string{
	"/usr/local/pgsql/bin/pg_restore",
	"/usr/lib/postgresql/bin/pg_restore",
}

var tarCandidates = []string{
	"/usr/bin/tar",
	"/bin/tar",
}

// Prompter is the operator interaction boundary so sessions can run
// headless in tests and scripted deployments.
type Prompter interface {
	// Confirm asks a yes/no question.
	Confirm(prompt string) bool

	// SelectSet picks one of the complete sets, newest first.
	SelectSet(kind backupset.Kind, sets []*backupset.Set) (*backupset.Set, error)
}

// AutoPrompter answers every confirmation with a fixed policy and always
// selects the newest set.
type AutoPrompter struct {
	// Accept is the answer given to every confirmation.
	Accept bool
}

func (p *AutoPrompter) Confirm(string) bool { return p.Accept }

func (p *AutoPrompter) SelectSet(_ backupset.Kind, sets []*backupset.Set) (*backupset.Set, error) {
	return sets[0], nil
}

// Selection is the pair of sets a session restores from.
type Selection struct {
	Database *backupset.Set
	Content  *backupset.Set
}

// SafetyCopy records one live directory moved aside.
type SafetyCopy struct {
	Live string `json:"live"`
	Copy string `json:"copy"`
}

// Outcome is the result of one restore session.
type Outcome struct {
	Mode         Mode         `json:"mode"`
	States       []State      `json:"states"`
	FailedPhase  State        `json:"failed_phase,omitempty"`
	RolledBack   bool         `json:"rolled_back"`
	SafetyCopies []SafetyCopy `json:"safety_copies,omitempty"`
	Selection    Selection    `json:"-"`
}

// OK reports whether the session completed every phase.
func (o *Outcome) OK() bool { return o.FailedPhase == "" }

// Session drives one restore run.
type Session struct {
	cfg        *config.Config
	mode       Mode
	controller service.Controller
	prompter   Prompter
	syncer     contentstore.Syncer

	// restoredFiles feeds verification from the content transfer.
	restoredFiles int64

	now func() time.Time
}

// NewSession builds a restore session.
func NewSession(cfg *config.Config, mode Mode, controller service.Controller, prompter Prompter, syncer contentstore.Syncer) *Session {
	return &Session{
		cfg:        cfg,
		mode:       mode,
		controller: controller,
		prompter:   prompter,
		syncer:     syncer,
		now:        time.Now,
	}
}

// Run walks the state machine to Done or Failed. The returned error is
// the failure that stopped the session, nil on success; the outcome
// records the traversal either way.
func (s *Session) Run(ctx context.Context) (*Outcome, error) {
	order := phases(s.mode)
	out := &Outcome{Mode: s.mode}

	state := next(StateIdle, true, order)
	var runErr error
	for {
		out.States = append(out.States, state)
		logging.Info().Str("state", string(state)).Msg("restore phase")

		if err := s.execute(ctx, state, out); err != nil {
			runErr = err
			out.FailedPhase = state
			logging.Error().Err(err).Str("state", string(state)).Msg("restore phase failed")

			if next(state, false, order) == StateRollingBack {
				out.States = append(out.States, StateRollingBack)
				s.rollback(ctx, out)
			}
			out.States = append(out.States, StateFailed)
			return out, runErr
		}

		state = next(state, true, order)
		if state == StateDone {
			out.States = append(out.States, StateDone)
			logging.Info().Msg("restore complete")
			return out, nil
		}
	}
}

// execute performs the side effects of one state.
func (s *Session) execute(ctx context.Context, state State, out *Outcome) error {
	switch state {
	case StateSelecting:
		return s.selectSets(out)
	case StateValidating:
		return s.validate(out)
	case StateServiceStopping:
		if !s.prompter.Confirm("stop the service and begin the restore?") {
			return ErrAborted
		}
		if err := s.controller.Stop(ctx); err != nil {
			if errors.Is(err, service.ErrStopTimeout) {
				return fmt.Errorf("%w: %v", ErrQuiesceTimeout, err)
			}
			return fmt.Errorf("%w: stopping service: %v", ErrPhaseFailed, err)
		}
		return nil
	case StateSafetyCopying:
		return s.safetyCopy(out)
	case StateRestoringDB:
		return s.restoreDatabase(ctx, out)
	case StateRestoringContent:
		return s.restoreContent(ctx, out)
	case StateServiceStarting:
		if err := s.controller.Start(ctx); err != nil {
			return fmt.Errorf("%w: starting service: %v", ErrPhaseFailed, err)
		}
		return nil
	case StateVerifying:
		return s.verify(ctx)
	}
	return fmt.Errorf("%w: unknown state %s", ErrPhaseFailed, state)
}

// selectSets picks the complete sets for the mode and flags a large
// cross-kind timestamp gap without blocking it.
func (s *Session) selectSets(out *Outcome) error {
	if s.mode != ModeContent {
		set, err := s.pickSet(backupset.KindDatabase)
		if err != nil {
			return err
		}
		out.Selection.Database = set
	}
	if s.mode != ModeDatabase {
		set, err := s.pickSet(backupset.KindContentstore)
		if err != nil {
			return err
		}
		out.Selection.Content = set
	}

	db, cs := out.Selection.Database, out.Selection.Content
	if db != nil && cs != nil {
		skew := db.CreatedAt.Sub(cs.CreatedAt)
		if skew < 0 {
			skew = -skew
		}
		if skew > selectionSkewWarn {
			logging.Warn().
				Str("database", db.Name).
				Str("contentstore", cs.Name).
				Dur("skew", skew).
				Msg("selected sets come from different runs")
			if !s.prompter.Confirm(fmt.Sprintf("sets differ by %s; restore them together?", skew.Round(time.Minute))) {
				return ErrAborted
			}
		}
	}
	return nil
}

// pickSet lets the prompter choose among the complete sets of a kind.
func (s *Session) pickSet(kind backupset.Kind) (*backupset.Set, error) {
	sets, err := backupset.ListComplete(s.cfg.BackupRoot, kind)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: no complete %s set", ErrValidationFailed, kind)
	}
	return s.prompter.SelectSet(kind, sets)
}

// validate applies the plausibility floors before anything is touched.
func (s *Session) validate(out *Outcome) error {
	if db := out.Selection.Database; db != nil {
		if db.Manifest == nil || db.Manifest.Artifact == nil {
			return fmt.Errorf("%w: %s has no artifact record", ErrValidationFailed, db.Name)
		}
		info, err := os.Stat(db.Manifest.Artifact.Path)
		if err != nil {
			return fmt.Errorf("%w: artifact missing: %v", ErrValidationFailed, err)
		}
		if info.Size() < s.cfg.Restore.MinDumpBytes {
			return fmt.Errorf("%w: artifact %s is %d bytes, below the %d byte floor",
				ErrValidationFailed, db.Name, info.Size(), s.cfg.Restore.MinDumpBytes)
		}
		if s.cfg.Database.Mode == config.ModeBaseBackup && s.cfg.Database.DataDir == "" {
			return fmt.Errorf("%w: database.data_dir required to restore a base backup", ErrValidationFailed)
		}
	}
	if cs := out.Selection.Content; cs != nil {
		n, err := countFiles(cs.Path)
		if err != nil {
			return fmt.Errorf("%w: reading %s: %v", ErrValidationFailed, cs.Name, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s holds no files", ErrValidationFailed, cs.Name)
		}
	}
	return nil
}

// safetyCopy renames the live directories aside and recreates them
// empty. A partial failure here undoes its own moves so the earlier
// failure path never needs a rollback.
func (s *Session) safetyCopy(out *Outcome) error {
	suffix := safetyCopySuffix + s.now().Format(backupset.TimestampLayout)

	var targets []string
	if out.Selection.Content != nil {
		targets = append(targets, s.cfg.Source.Contentstore)
	}
	if out.Selection.Database != nil && s.cfg.Database.Mode == config.ModeBaseBackup {
		targets = append(targets, s.cfg.Database.DataDir)
	}

	for _, live := range targets {
		copyPath := live + suffix
		if err := os.Rename(live, copyPath); err != nil {
			s.undoSafetyCopies(out)
			return fmt.Errorf("%w: moving %s aside: %v", ErrPhaseFailed, live, err)
		}
		if err := os.MkdirAll(live, 0o755); err != nil {
			out.SafetyCopies = append(out.SafetyCopies, SafetyCopy{Live: live, Copy: copyPath})
			s.undoSafetyCopies(out)
			return fmt.Errorf("%w: recreating %s: %v", ErrPhaseFailed, live, err)
		}
		out.SafetyCopies = append(out.SafetyCopies, SafetyCopy{Live: live, Copy: copyPath})
		logging.Info().Str("live", live).Str("copy", copyPath).Msg("live data moved aside")
	}
	return nil
}

// undoSafetyCopies reverses the moves made so far, best effort.
func (s *Session) undoSafetyCopies(out *Outcome) {
	for i := len(out.SafetyCopies) - 1; i >= 0; i-- {
		sc := out.SafetyCopies[i]
		os.RemoveAll(sc.Live)       //nolint:errcheck
		os.Rename(sc.Copy, sc.Live) //nolint:errcheck
	}
	out.SafetyCopies = nil
}

// restoreDatabase replays the selected artifact: pg_restore for custom
// dumps, tar extraction into the data directory for base backups.
func (s *Session) restoreDatabase(ctx context.Context, out *Outcome) error {
	artifact := out.Selection.Database.Manifest.Artifact.Path

	if s.cfg.Database.Mode == config.ModeDump {
		tool, err := execx.ResolveTool("pg_restore", s.cfg.Tools.PgRestore, pgRestoreCandidates...)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPhaseFailed, err)
		}
		res, err := execx.Run(ctx, execx.Command{
			Path: tool,
			Args: []string{
				"-h", s.cfg.Database.Host,
				"-p", strconv.Itoa(s.cfg.Database.Port),
				"-U", s.cfg.Database.User,
				"-d", s.cfg.Database.Name,
				"--clean", "--if-exists",
				artifact,
			},
			Timeout: s.cfg.Timeouts.Database,
			Env:     []string{"PGPASSWORD=" + s.cfg.Database.Password},
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPhaseFailed, err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("%w: pg_restore exit %d: %s", ErrPhaseFailed, res.ExitCode, res.Stderr)
		}
		return nil
	}

	tool, err := execx.ResolveTool("tar", "", tarCandidates...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPhaseFailed, err)
	}
	res, err := execx.Run(ctx, execx.Command{
		Path:    tool,
		Args:    []string{"-xzf", artifact, "-C", s.cfg.Database.DataDir},
		Timeout: s.cfg.Timeouts.Database,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPhaseFailed, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: tar exit %d: %s", ErrPhaseFailed, res.ExitCode, res.Stderr)
	}
	return nil
}

// restoreContent copies the snapshot back into the live tree. No dedupe
// anchor here: the restore must produce independent files.
func (s *Session) restoreContent(ctx context.Context, out *Outcome) error {
	stats, err := s.syncer.Sync(ctx, contentstore.SyncRequest{
		Source:  out.Selection.Content.Path,
		Dest:    s.cfg.Source.Contentstore,
		Exclude: []string{"/" + backupset.ManifestFileName},
		Timeout: s.cfg.Timeouts.Chunk,
	})
	if err != nil {
		return fmt.Errorf("%w: content transfer: %v", ErrPhaseFailed, err)
	}
	s.restoredFiles = stats.FileCount
	return nil
}

// verify checks service liveness and, for content restores, that files
// actually landed in the live tree.
func (s *Session) verify(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.Timeouts.ServiceStop)
	for !s.controller.Alive(ctx) {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: service did not come back", ErrPhaseFailed)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrPhaseFailed, ctx.Err())
		case <-time.After(time.Second):
		}
	}

	if s.mode != ModeDatabase {
		n, err := countFiles(s.cfg.Source.Contentstore)
		if err != nil || n == 0 {
			return fmt.Errorf("%w: restored content tree is empty", ErrPhaseFailed)
		}
	}
	return nil
}

// rollback moves the safety copies back when policy or the operator says
// so, then tries to bring the service back up.
func (s *Session) rollback(ctx context.Context, out *Outcome) {
	if len(out.SafetyCopies) == 0 {
		return
	}
	if !s.cfg.Restore.AutoRollback && !s.prompter.Confirm("restore failed; roll the previous data back?") {
		logging.Warn().Msg("rollback declined, safety copies left in place")
		return
	}

	for i := len(out.SafetyCopies) - 1; i >= 0; i-- {
		sc := out.SafetyCopies[i]
		if err := os.RemoveAll(sc.Live); err != nil {
			logging.Error().Err(err).Str("live", sc.Live).Msg("rollback could not clear partial restore")
			continue
		}
		if err := os.Rename(sc.Copy, sc.Live); err != nil {
			logging.Error().Err(err).Str("copy", sc.Copy).Msg("rollback could not move safety copy back")
			continue
		}
		logging.Info().Str("live", sc.Live).Msg("safety copy rolled back")
	}
	out.RolledBack = true

	if err := s.controller.Start(ctx); err != nil {
		logging.Error().Err(err).Msg("service restart after rollback failed")
	}
}

// countFiles counts regular files under root, ignoring the manifest.
func countFiles(root string) (int64, error) {
	var n int64
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() != backupset.ManifestFileName {
			n++
		}
		return nil
	})
	return n, err
}
