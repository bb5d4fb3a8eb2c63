package history

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/procedo/constants"
)

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned   uint32 `json:"scanned"`
	Matched   uint32 `json:"matched"`
	Succeeded uint32 `json:"succeeded"`
	Failed    uint32 `json:"failed"`
}

// IngestDirectory walks root, skipping hidden entries, and ingests every PDF.
// Returns per-file results and aggregate stats.
func (i *Ingestor) IngestDirectory(ctx context.Context, orgID, root string) ([]Result, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []Result
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{Source: path, Error: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !constants.IsAllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		r := i.ProcessPath(ctx, orgID, path)
		results = append(results, r)
		if r.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		return nil
	})

	i.logger.Info("history.dir.done",
		"org_id", orgID, "root", root,
		"matched", stats.Matched, "succeeded", stats.Succeeded, "failed", stats.Failed,
	)
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

// IsHidden reports whether the base name starts with a dot.
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
