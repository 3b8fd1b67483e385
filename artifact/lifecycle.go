package artifact

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RetentionConfig defines the retention policy for run directories
type RetentionConfig struct {
	RetentionDays        int  // Days to keep active runs
	ArchiveAfterDays     int  // Days before archiving
	ArchiveRetentionDays int  // Days to keep archived runs
	KeepFailed           bool // Never expire failed runs
	KeepMinRuns          int  // Minimum runs to keep regardless of age
}

// DefaultRetentionConfig returns sensible defaults
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetentionDays:        30,
		ArchiveAfterDays:     7,
		ArchiveRetentionDays: 90,
		KeepFailed:           true,
		KeepMinRuns:          100,
	}
}

// LifecycleManager archives and expires run directories under a base dir
type LifecycleManager struct {
	baseDir string
	config  RetentionConfig
}

// NewLifecycleManager creates a lifecycle manager
func NewLifecycleManager(baseDir string, config RetentionConfig) *LifecycleManager {
	return &LifecycleManager{
		baseDir: baseDir,
		config:  config,
	}
}

// CleanupResult summarizes cleanup actions
type CleanupResult struct {
	Archived   []string `json:"archived"`
	Deleted    []string `json:"deleted"`
	Kept       []string `json:"kept"`
	Errors     []string `json:"errors,omitempty"`
	SpaceSaved int64    `json:"space_saved"`
}

// Cleanup applies the retention policy to finished runs. Runs older than
// ArchiveAfterDays are packed into tar.gz archives, runs older than
// RetentionDays are deleted. Running and (optionally) failed runs are never
// touched, and the newest KeepMinRuns survive regardless of age. With
// dryRun set, the result reports what would happen without changing disk.
func (m *LifecycleManager) Cleanup(dryRun bool) (*CleanupResult, error) {
	result := &CleanupResult{
		Archived: make([]string, 0),
		Deleted:  make([]string, 0),
		Kept:     make([]string, 0),
		Errors:   make([]string, 0),
	}

	runsDir := filepath.Join(m.baseDir, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}

	now := time.Now()
	archiveThreshold := now.Add(-time.Duration(m.config.ArchiveAfterDays) * 24 * time.Hour)
	deleteThreshold := now.Add(-time.Duration(m.config.RetentionDays) * 24 * time.Hour)

	type runInfo struct {
		id      string
		meta    *runMeta
		size    int64
		endedAt time.Time
	}

	var runs []runInfo

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		runID := entry.Name()
		runDir := filepath.Join(runsDir, runID)

		meta, err := loadRunMeta(runDir)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("load %s: %v", runID, err))
			continue
		}

		runs = append(runs, runInfo{
			id:      runID,
			meta:    meta,
			size:    dirSize(runDir),
			endedAt: meta.EndedAt,
		})
	}

	// Oldest first, so the age cutoffs and the minimum-count floor
	// interact predictably
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].endedAt.Before(runs[j].endedAt)
	})

	removed := 0
	for _, run := range runs {
		if m.config.KeepFailed && run.meta.Status == "failed" {
			result.Kept = append(result.Kept, run.id)
			continue
		}

		if run.meta.Status == "running" {
			result.Kept = append(result.Kept, run.id)
			continue
		}

		remainingAfterThis := len(runs) - removed - 1
		if remainingAfterThis < m.config.KeepMinRuns {
			result.Kept = append(result.Kept, run.id)
			continue
		}

		runDir := filepath.Join(runsDir, run.id)

		switch {
		case run.endedAt.Before(deleteThreshold):
			if !dryRun {
				if err := os.RemoveAll(runDir); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %v", run.id, err))
					continue
				}
			}
			result.Deleted = append(result.Deleted, run.id)
			result.SpaceSaved += run.size
			removed++

		case run.endedAt.Before(archiveThreshold):
			if !dryRun {
				if err := m.archiveRun(run.id); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("archive %s: %v", run.id, err))
					continue
				}
			}
			result.Archived = append(result.Archived, run.id)
			// Rough estimate; archives compress to about half
			result.SpaceSaved += run.size / 2
			removed++

		default:
			result.Kept = append(result.Kept, run.id)
		}
	}

	return result, nil
}

// archiveRun packs a run directory into archive/<YYYY-MM>/<runID>.tar.gz
// and removes the original
func (m *LifecycleManager) archiveRun(runID string) error {
	runDir := filepath.Join(m.baseDir, "runs", runID)

	archiveDir := filepath.Join(m.baseDir, "archive", monthOfRunID(runID))
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return err
	}

	archivePath := filepath.Join(archiveDir, runID+".tar.gz")

	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	walkErr := filepath.Walk(runDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}

		rel, _ := filepath.Rel(runDir, path)
		header.Name = filepath.Join(runID, rel)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if fi.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	})

	// Close in order so the gzip stream is flushed before the file
	if err := tw.Close(); walkErr == nil {
		walkErr = err
	}
	if err := gz.Close(); walkErr == nil {
		walkErr = err
	}
	if err := f.Close(); walkErr == nil {
		walkErr = err
	}

	if walkErr != nil {
		os.Remove(archivePath)
		return walkErr
	}

	return os.RemoveAll(runDir)
}

// RestoreArchive extracts an archived run back into runs/
func (m *LifecycleManager) RestoreArchive(runID string) error {
	archivePath := m.findArchive(runID)
	if archivePath == "" {
		return fmt.Errorf("archive not found: %s", runID)
	}

	runDir := filepath.Join(m.baseDir, "runs", runID)
	if _, err := os.Stat(runDir); err == nil {
		return fmt.Errorf("run already exists: %s", runID)
	}

	return m.extractArchive(archivePath, filepath.Dir(runDir))
}

// ListArchives returns all archived run IDs
func (m *LifecycleManager) ListArchives() ([]string, error) {
	archiveDir := filepath.Join(m.baseDir, "archive")
	var archives []string

	err := filepath.Walk(archiveDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fi.IsDir() {
			return nil
		}
		if strings.HasSuffix(fi.Name(), ".tar.gz") {
			archives = append(archives, strings.TrimSuffix(fi.Name(), ".tar.gz"))
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	sort.Strings(archives)
	return archives, nil
}

// DeleteArchive removes an archived run
func (m *LifecycleManager) DeleteArchive(runID string) error {
	archivePath := m.findArchive(runID)
	if archivePath == "" {
		return fmt.Errorf("archive not found: %s", runID)
	}
	return os.Remove(archivePath)
}

// ArchiveSize returns the on-disk size of an archive
func (m *LifecycleManager) ArchiveSize(runID string) (int64, error) {
	archivePath := m.findArchive(runID)
	if archivePath == "" {
		return 0, fmt.Errorf("archive not found: %s", runID)
	}

	fi, err := os.Stat(archivePath)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (m *LifecycleManager) findArchive(runID string) string {
	// Run IDs are date-prefixed, so the month directory is usually right
	path := filepath.Join(m.baseDir, "archive", monthOfRunID(runID), runID+".tar.gz")
	if _, err := os.Stat(path); err == nil {
		return path
	}

	archiveDir := filepath.Join(m.baseDir, "archive")
	var found string
	filepath.Walk(archiveDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fi.Name() == runID+".tar.gz" {
			found = path
			return filepath.SkipAll
		}
		return nil
	})

	return found
}

func (m *LifecycleManager) extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, header.Name)

		// Refuse entries that would escape destDir
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()

			if err := os.Chmod(target, os.FileMode(header.Mode)); err != nil {
				return err
			}
		}
	}

	return nil
}

// CleanupArchives removes archives older than the archive retention period
func (m *LifecycleManager) CleanupArchives(dryRun bool) (*CleanupResult, error) {
	result := &CleanupResult{
		Deleted: make([]string, 0),
		Kept:    make([]string, 0),
		Errors:  make([]string, 0),
	}

	archiveDir := filepath.Join(m.baseDir, "archive")
	threshold := time.Now().Add(-time.Duration(m.config.ArchiveRetentionDays) * 24 * time.Hour)

	err := filepath.Walk(archiveDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".tar.gz") {
			return nil
		}

		runID := strings.TrimSuffix(fi.Name(), ".tar.gz")

		if fi.ModTime().Before(threshold) {
			if !dryRun {
				if err := os.Remove(path); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("delete archive %s: %v", runID, err))
					return nil
				}
			}
			result.Deleted = append(result.Deleted, runID)
			result.SpaceSaved += fi.Size()
		} else {
			result.Kept = append(result.Kept, runID)
		}

		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return result, nil
}

// DiskUsageStats contains disk usage totals for runs and archives
type DiskUsageStats struct {
	RunCount     int   `json:"run_count"`
	ArchiveCount int   `json:"archive_count"`
	ActiveSize   int64 `json:"active_size"`
	ArchiveSize  int64 `json:"archive_size"`
	TotalSize    int64 `json:"total_size"`
}

// DiskUsage returns disk usage statistics for the base directory
func (m *LifecycleManager) DiskUsage() (*DiskUsageStats, error) {
	stats := &DiskUsageStats{}

	runsDir := filepath.Join(m.baseDir, "runs")
	if entries, err := os.ReadDir(runsDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				stats.RunCount++
				stats.ActiveSize += dirSize(filepath.Join(runsDir, entry.Name()))
			}
		}
	}

	archiveDir := filepath.Join(m.baseDir, "archive")
	filepath.Walk(archiveDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !fi.IsDir() && strings.HasSuffix(fi.Name(), ".tar.gz") {
			stats.ArchiveSize += fi.Size()
			stats.ArchiveCount++
		}
		return nil
	})

	stats.TotalSize = stats.ActiveSize + stats.ArchiveSize

	return stats, nil
}

// runMeta mirrors the fields of the journal's metadata.json that the
// retention policy needs. Decoding just these keys keeps this package
// independent of the journal types.
type runMeta struct {
	Status  string    `json:"status"`
	EndedAt time.Time `json:"ended_at"`
}

func loadRunMeta(runDir string) (*runMeta, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return nil, err
	}
	var meta runMeta
	return &meta, json.Unmarshal(data, &meta)
}

// monthOfRunID extracts the YYYY-MM prefix from a date-prefixed run ID
func monthOfRunID(runID string) string {
	if len(runID) >= 7 {
		return runID[:7]
	}
	return time.Now().Format("2006-01")
}

func dirSize(path string) int64 {
	var size int64
	filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !fi.IsDir() {
			size += fi.Size()
		}
		return nil
	})
	return size
}
