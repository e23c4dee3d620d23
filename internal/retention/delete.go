// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// deleteChunkDepth is the depth at which a large set directory is split
// into independently deletable subtrees.
const deleteChunkDepth = 2

// minDeleteChunks below which parallel deletion is not worth the setup.
const minDeleteChunks = 5

// removeTree deletes a set directory. Large trees (a contentstore set can
// hold millions of hardlinked files) are split into subtree chunks removed
// across a worker pool; small ones fall back to a single RemoveAll.
func (e *Engine) removeTree(ctx context.Context, root string) error {
	chunks := collectDeleteChunks(root, deleteChunkDepth)
	if len(chunks) < minDeleteChunks || e.parallelism < 2 {
		return os.RemoveAll(root)
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			if err := os.RemoveAll(chunk); err != nil {
				return fmt.Errorf("removing %s: %w", chunk, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Remaining empty parents and loose files.
	return os.RemoveAll(root)
}

// collectDeleteChunks gathers subdirectories at maxDepth for parallel
// deletion, retrying one level shallower when the tree is too flat.
func collectDeleteChunks(root string, maxDepth int) []string {
	var chunks []string
	collectAtDepth(root, maxDepth, &chunks)

	if len(chunks) < minDeleteChunks && maxDepth > 1 {
		return collectDeleteChunks(root, maxDepth-1)
	}
	return chunks
}

// collectAtDepth appends the directories exactly depth levels below root.
func collectAtDepth(root string, depth int, chunks *[]string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(root, e.Name())
		if depth == 1 {
			*chunks = append(*chunks, sub)
		} else {
			collectAtDepth(sub, depth-1, chunks)
		}
	}
}
