// Snapkeep - Deduplicating Backup Orchestrator for Content Repositories
// Copyright 2026 Snapkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/snapkeep/snapkeep

package contentstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// chunkMultiplier scales the worker count into the minimum entry count
// worth partitioning at a given depth.
const chunkMultiplier = 2

// maxPlanDepth caps how deep the planner enumerates on pathological trees.
const maxPlanDepth = 3

// Chunk is one partitioned subtree assigned to a single worker.
type Chunk struct {
	// Rel is the path relative to the source root. Empty means the whole
	// tree (serial mode).
	Rel string

	// FilesOnly restricts the transfer to the regular files directly
	// inside Rel, leaving subdirectories to their own chunks.
	FilesOnly bool
}

// Plan is the partitioning of one source tree.
type Plan struct {
	Chunks []Chunk

	// Serial is set when the tree was too small or shallow to partition
	// usefully and the single chunk covers everything.
	Serial bool
}

// PlanChunks partitions the source tree into units for parallel transfer.
//
// Starting at the top level, the tree is split at the first depth whose
// entry count reaches parallelism x chunkMultiplier. Shallower levels
// contribute files-only chunks so every file is covered exactly once.
// When no depth up to maxPlanDepth qualifies, the plan degrades to one
// serial chunk.
func PlanChunks(source string, parallelism int) (*Plan, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	threshold := parallelism * chunkMultiplier

	// frontier holds the directories (relative paths) still to split;
	// fileChunks accumulates loose-file coverage for levels already passed.
	frontier := []string{""}
	var fileChunks []Chunk

	for depth := 1; depth <= maxPlanDepth; depth++ {
		var dirs []string
		levelFiles := make(map[string]bool)

		for _, rel := range frontier {
			entries, err := os.ReadDir(filepath.Join(source, rel))
			if err != nil {
				return nil, fmt.Errorf("%w: enumerating %s: %v", ErrSourceUnreadable, filepath.Join(source, rel), err)
			}
			for _, e := range entries {
				if e.IsDir() {
					dirs = append(dirs, filepath.Join(rel, e.Name()))
				} else {
					levelFiles[rel] = true
				}
			}
		}

		if len(dirs) >= threshold {
			chunks := make([]Chunk, 0, len(dirs)+len(fileChunks)+len(levelFiles))
			for _, d := range dirs {
				chunks = append(chunks, Chunk{Rel: d})
			}
			for rel := range levelFiles {
				chunks = append(chunks, Chunk{Rel: rel, FilesOnly: true})
			}
			chunks = append(chunks, fileChunks...)
			return &Plan{Chunks: chunks}, nil
		}

		if len(dirs) == 0 {
			break
		}

		// Descend one level; files at this level must still be carried.
		for rel := range levelFiles {
			fileChunks = append(fileChunks, Chunk{Rel: rel, FilesOnly: true})
		}
		frontier = dirs
	}

	return &Plan{Chunks: []Chunk{{Rel: ""}}, Serial: true}, nil
}
