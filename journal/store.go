package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore stores run journals as files: one directory per run under
// <base>/runs, holding journal.json and metadata.json
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
	active  map[string]*Journal
}

// StoreConfig holds configuration for journal storage
type StoreConfig struct {
	BaseDir string
}

// NewFileStore creates a file-based journal store
func NewFileStore(config StoreConfig) (*FileStore, error) {
	runsDir := filepath.Join(config.BaseDir, "runs")
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}

	return &FileStore{
		baseDir: config.BaseDir,
		active:  make(map[string]*Journal),
	}, nil
}

// StartRun begins a new journal
func (s *FileStore) StartRun(runID string, meta RunMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.active[runID]; exists {
		return ErrRunAlreadyExists
	}

	// Check if run already exists on disk
	runDir := filepath.Join(s.baseDir, "runs", runID)
	if _, err := os.Stat(runDir); err == nil {
		return ErrRunAlreadyExists
	}

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}

	journal := &Journal{
		RunID: runID,
		Metadata: Meta{
			RunID:     runID,
			SessionID: meta.SessionID,
			Request:   meta.Request,
			Status:    StatusRunning,
			StartedAt: time.Now(),
		},
		Entries: make([]Entry, 0),
	}

	// Write initial metadata
	if err := s.writeMetadata(runID, &journal.Metadata); err != nil {
		return err
	}

	s.active[runID] = journal
	return nil
}

// Record appends an entry to an active journal
func (s *FileStore) Record(runID string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	journal, ok := s.active[runID]
	if !ok {
		return ErrRunNotStarted
	}

	entry.ID = len(journal.Entries) + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	journal.Entries = append(journal.Entries, entry)
	journal.Metadata.EntryCount = len(journal.Entries)
	journal.Metadata.TotalTokensIn += entry.TokensIn
	journal.Metadata.TotalTokensOut += entry.TokensOut

	return nil
}

// EndRun completes a journal and writes it to disk
func (s *FileStore) EndRun(runID string, status Status) error {
	return s.endRun(runID, status, nil)
}

// EndRunWithError completes a journal as failed, recording the error
func (s *FileStore) EndRunWithError(runID string, runErr error) error {
	return s.endRun(runID, StatusFailed, runErr)
}

func (s *FileStore) endRun(runID string, status Status, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	journal, ok := s.active[runID]
	if !ok {
		return ErrRunNotStarted
	}

	journal.Metadata.Status = status
	journal.Metadata.EndedAt = time.Now()
	if runErr != nil {
		journal.Metadata.Error = runErr.Error()
	}

	if err := s.writeJournal(runID, journal); err != nil {
		return err
	}
	if err := s.writeMetadata(runID, &journal.Metadata); err != nil {
		return err
	}

	delete(s.active, runID)
	return nil
}

// Load retrieves a complete journal, active or finished
func (s *FileStore) Load(runID string) (*Journal, error) {
	s.mu.RLock()
	if journal, ok := s.active[runID]; ok {
		// Return a copy to prevent concurrent modification
		data, err := json.Marshal(journal)
		s.mu.RUnlock()
		if err != nil {
			return nil, err
		}
		var j Journal
		if err := json.Unmarshal(data, &j); err != nil {
			return nil, err
		}
		return &j, nil
	}
	s.mu.RUnlock()

	path := filepath.Join(s.baseDir, "runs", runID, "journal.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse journal %s: %w", runID, err)
	}
	return &j, nil
}

// LoadMetadata retrieves just the metadata
func (s *FileStore) LoadMetadata(runID string) (*Meta, error) {
	s.mu.RLock()
	if journal, ok := s.active[runID]; ok {
		meta := journal.Metadata
		s.mu.RUnlock()
		return &meta, nil
	}
	s.mu.RUnlock()

	path := filepath.Join(s.baseDir, "runs", runID, "metadata.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", runID, err)
	}
	return &meta, nil
}

// List returns metadata for runs matching filter, newest first
func (s *FileStore) List(filter ListFilter) ([]Meta, error) {
	runsDir := filepath.Join(s.baseDir, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var results []Meta

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := s.LoadMetadata(entry.Name())
		if err != nil {
			continue
		}

		if filter.SessionID != "" && meta.SessionID != filter.SessionID {
			continue
		}
		if filter.Status != "" && meta.Status != filter.Status {
			continue
		}
		if !filter.After.IsZero() && meta.StartedAt.Before(filter.After) {
			continue
		}
		if !filter.Before.IsZero() && meta.StartedAt.After(filter.Before) {
			continue
		}

		results = append(results, *meta)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})

	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}

	return results, nil
}

// Delete removes a run
func (s *FileStore) Delete(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, runID)

	runDir := filepath.Join(s.baseDir, "runs", runID)
	if err := os.RemoveAll(runDir); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// ListActive returns all active run IDs
func (s *FileStore) ListActive() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// BaseDir returns the base directory for the store
func (s *FileStore) BaseDir() string {
	return s.baseDir
}

func (s *FileStore) writeJournal(runID string, journal *Journal) error {
	path := filepath.Join(s.baseDir, "runs", runID, "journal.json")
	data, err := json.MarshalIndent(journal, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *FileStore) writeMetadata(runID string, meta *Meta) error {
	path := filepath.Join(s.baseDir, "runs", runID, "metadata.json")
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
