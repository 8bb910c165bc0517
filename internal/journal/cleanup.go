package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CleanupStats tracks cleanup operation results
type CleanupStats struct {
	FilesRemoved  int
	BytesFreed    int64
	OldestRemoved time.Time
	NewestRemoved time.Time
}

// Cleanup removes journal files last written before the retention window.
// The file currently being written is never removed.
func (j *Journal) Cleanup(now time.Time) (CleanupStats, error) {
	j.mu.Lock()
	current := j.file.Name()
	j.mu.Unlock()

	cutoff := now.AddDate(0, 0, -j.cfg.RetentionDays)
	var stats CleanupStats

	for _, path := range files(j.cfg.Dir, j.cfg.FilePrefix) {
		if filepath.Clean(path) == filepath.Clean(current) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return stats, fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}

		mod := info.ModTime()
		if stats.FilesRemoved == 0 || mod.Before(stats.OldestRemoved) {
			stats.OldestRemoved = mod
		}
		if mod.After(stats.NewestRemoved) {
			stats.NewestRemoved = mod
		}
		stats.FilesRemoved++
		stats.BytesFreed += info.Size()
	}
	return stats, nil
}
