// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package contentstore

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/snapkeep/snapkeep/internal/execx"
)

// SyncRequest is one directory-sync invocation.
type SyncRequest struct {
	// Source directory, synced recursively unless FilesOnly.
	Source string

	// Dest directory, created as needed.
	Dest string

	// LinkDest is the dedupe reference: files unchanged relative to it
	// are hardlinked instead of copied. Empty means full copy.
	LinkDest string

	// FilesOnly restricts the transfer to regular files directly under
	// Source.
	FilesOnly bool

	// Exclude lists rsync exclude patterns.
	Exclude []string

	// Timeout bounds the invocation.
	Timeout time.Duration
}

// SyncStats is what one sync transfer reported.
type SyncStats struct {
	TransferredBytes int64
	FileCount        int64
}

// Syncer is the external directory-sync primitive boundary. The production
// implementation shells out to rsync; tests substitute their own.
type Syncer interface {
	Sync(ctx context.Context, req SyncRequest) (*SyncStats, error)
}

// RsyncSyncer drives rsync with hardlink deduplication.
type RsyncSyncer struct {
	// Path is the resolved rsync binary.
	Path string
}

// Sync runs one rsync transfer and parses its --stats output.
func (r *RsyncSyncer) Sync(ctx context.Context, req SyncRequest) (*SyncStats, error) {
	args := []string{"-a", "--delete", "--stats"}
	if req.FilesOnly {
		// Exclude immediate subdirectories; they belong to other chunks.
		args = append(args, "-f", "- /*/")
	}
	for _, pattern := range req.Exclude {
		args = append(args, "--exclude="+pattern)
	}
	if req.LinkDest != "" {
		args = append(args, "--link-dest="+req.LinkDest)
	}
	args = append(args, req.Source+"/", req.Dest+"/")

	res, err := execx.Run(ctx, execx.Command{
		Path:    r.Path,
		Args:    args,
		Timeout: req.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("rsync exit %d: %s", res.ExitCode, firstLine(res.Stderr))
	}

	return parseRsyncStats(res.Stdout), nil
}

var (
	transferredRe = regexp.MustCompile(`Total transferred file size: ([\d,]+) bytes`)
	fileCountRe   = regexp.MustCompile(`Number of files: ([\d,]+)`)
)

// parseRsyncStats extracts transfer statistics from rsync --stats output.
// Unparsable output yields zero stats rather than failing the chunk; the
// transfer itself already succeeded.
func parseRsyncStats(out string) *SyncStats {
	stats := &SyncStats{}
	if m := transferredRe.FindStringSubmatch(out); m != nil {
		stats.TransferredBytes = parseStatNumber(m[1])
	}
	if m := fileCountRe.FindStringSubmatch(out); m != nil {
		stats.FileCount = parseStatNumber(m[1])
	}
	return stats
}

// parseStatNumber parses rsync's comma-grouped integers.
func parseStatNumber(s string) int64 {
	n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// firstLine truncates multi-line tool output for error messages.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
